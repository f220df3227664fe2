package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/go-enry/go-enry/v2"
)

var (
	// ErrUnsupportedType は対応していないMIMEタイプの場合のエラー
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrBinaryContent はテキストとして扱えない内容の場合のエラー
	ErrBinaryContent = errors.New("file content is binary")

	// ErrPDFToolNotFound は pdftotext が見つからない場合のエラー
	ErrPDFToolNotFound = errors.New("pdftotext not found in PATH: install poppler-utils to ingest PDF files")
)

// CommandRunner は外部コマンドを実行して標準出力を返す
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

// Run はコマンドを実行する
func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, ErrPDFToolNotFound
	}
	return exec.CommandContext(ctx, name, args...).Output()
}

// Extractor はファイルから本文テキストを取り出す
type Extractor struct {
	runner CommandRunner
	logger *slog.Logger
}

// Option は Extractor のオプション
type Option func(*Extractor)

// WithRunner は外部コマンドの実行方法を差し替える
func WithRunner(runner CommandRunner) Option {
	return func(e *Extractor) {
		if runner != nil {
			e.runner = runner
		}
	}
}

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New は新しい Extractor を作成する
func New(opts ...Option) *Extractor {
	e := &Extractor{
		runner: execRunner{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractText は mimeType に応じて path から本文テキストを取り出す
func (e *Extractor) ExtractText(ctx context.Context, path, mimeType string) (string, error) {
	switch normalizeMime(mimeType) {
	case MimePDF:
		return e.extractPDF(ctx, path)
	case MimeText, MimeMarkdown:
		return e.extractPlain(path)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}
}

func (e *Extractor) extractPlain(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	if enry.IsBinary(content) {
		return "", ErrBinaryContent
	}
	return string(content), nil
}

func (e *Extractor) extractPDF(ctx context.Context, path string) (string, error) {
	output, err := e.runner.Run(ctx, "pdftotext", "-enc", "UTF-8", path, "-")
	if err != nil {
		if errors.Is(err, ErrPDFToolNotFound) {
			return "", err
		}
		return "", fmt.Errorf("pdftotext failed: %w", err)
	}

	e.logger.DebugContext(ctx, "pdf text extracted", "path", path, "bytes", len(output))
	return string(output), nil
}
