package extract

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-enry/go-enry/v2"
)

// 取り込み対象のMIMEタイプ
const (
	MimePDF      = "application/pdf"
	MimeText     = "text/plain"
	MimeMarkdown = "text/markdown"
)

var extensionMimeTypes = map[string]string{
	".pdf":      MimePDF,
	".txt":      MimeText,
	".text":     MimeText,
	".md":       MimeMarkdown,
	".markdown": MimeMarkdown,
}

// Supported はMIMEタイプが取り込み可能かどうかを返す
func Supported(mimeType string) bool {
	switch normalizeMime(mimeType) {
	case MimePDF, MimeText, MimeMarkdown:
		return true
	default:
		return false
	}
}

// SupportedExtension は拡張子が取り込み可能かどうかを返す
func SupportedExtension(filename string) bool {
	_, ok := extensionMimeTypes[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// DetectMimeType はファイル名と内容からMIMEタイプを判定する。
// 拡張子、enry による言語判定、内容のスニッフィングの順に試す。
func DetectMimeType(filename string, content []byte) string {
	if mime, ok := extensionMimeTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return mime
	}

	switch enry.GetLanguage(filepath.Base(filename), content) {
	case "Markdown":
		return MimeMarkdown
	case "Text":
		return MimeText
	}

	if len(content) > 0 {
		return normalizeMime(http.DetectContentType(content))
	}

	return MimeText
}

// ResolveMimeType は申告されたMIMEタイプが未対応なら内容から判定し直す
func ResolveMimeType(declared, filename string, content []byte) string {
	if Supported(declared) {
		return normalizeMime(declared)
	}
	return DetectMimeType(filename, content)
}

func normalizeMime(mimeType string) string {
	if idx := strings.Index(mimeType, ";"); idx != -1 {
		mimeType = mimeType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
