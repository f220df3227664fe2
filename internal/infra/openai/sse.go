package openai

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// sseEvent は空行で区切られた1つのSSEイベント
type sseEvent struct {
	Event string
	Data  string // 複数の data 行は改行で連結
}

// readLines は r を行単位で読み、末尾の改行を除いて fn に渡す。
// fn が false を返すと読み取りを止める。EOF は正常終了として nil を返す。
func readLines(r io.Reader, fn func(line string) bool) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			if !fn(strings.TrimRight(line, "\r\n")) {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// readEvents は r をSSEイベント単位で読み、fn に渡す。
// fn が false を返すと読み取りを止める。
func readEvents(r io.Reader, fn func(ev sseEvent) bool) error {
	var (
		event   string
		data    []string
		hasData bool
		stopped bool
	)

	dispatch := func() bool {
		if !hasData {
			event = ""
			return true
		}
		ev := sseEvent{Event: event, Data: strings.Join(data, "\n")}
		event, data, hasData = "", data[:0], false
		return fn(ev)
	}

	err := readLines(r, func(line string) bool {
		if line == "" {
			if !dispatch() {
				stopped = true
				return false
			}
			return true
		}

		if strings.HasPrefix(line, ":") {
			return true // コメント行
		}

		if value, ok := field(line, "data"); ok {
			data = append(data, value)
			hasData = true
		} else if value, ok := field(line, "event"); ok {
			event = value
		}
		return true
	})
	if err != nil {
		return err
	}

	// 末尾の空行なしで終わったイベント
	if !stopped {
		dispatch()
	}
	return nil
}

// field は "name:value" 形式の行から値を取り出す（コロン直後の空白1つは除く）
func field(line, name string) (string, bool) {
	rest, ok := strings.CutPrefix(line, name+":")
	if !ok {
		return "", false
	}
	return strings.TrimPrefix(rest, " "), true
}
