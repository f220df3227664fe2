package extract

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRunner は CommandRunner のテストダブル
type mockRunner struct {
	output []byte
	err    error
	name   string
	args   []string
}

func (m *mockRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	m.name = name
	m.args = args
	return m.output, m.err
}

func newTestExtractor(runner CommandRunner) *Extractor {
	return New(WithRunner(runner), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestExtractText_PlainAndMarkdown(t *testing.T) {
	tests := []struct {
		name     string
		mimeType string
	}{
		{"plain text", "text/plain"},
		{"markdown", "text/markdown"},
		{"with charset", "text/plain; charset=utf-8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "doc.txt", []byte("# 标题\n正文内容"))

			text, err := newTestExtractor(&mockRunner{}).ExtractText(context.Background(), path, tt.mimeType)

			require.NoError(t, err)
			assert.Equal(t, "# 标题\n正文内容", text)
		})
	}
}

func TestExtractText_PDFUsesRunner(t *testing.T) {
	runner := &mockRunner{output: []byte("pdf body text")}
	path := writeFile(t, "doc.pdf", []byte("%PDF-1.4"))

	text, err := newTestExtractor(runner).ExtractText(context.Background(), path, MimePDF)

	require.NoError(t, err)
	assert.Equal(t, "pdf body text", text)
	assert.Equal(t, "pdftotext", runner.name)
	assert.Equal(t, []string{"-enc", "UTF-8", path, "-"}, runner.args)
}

func TestExtractText_PDFRunnerErrors(t *testing.T) {
	path := writeFile(t, "doc.pdf", []byte("%PDF-1.4"))

	_, err := newTestExtractor(&mockRunner{err: errors.New("pdftotext crashed")}).ExtractText(context.Background(), path, MimePDF)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdftotext failed")

	_, err = newTestExtractor(&mockRunner{err: ErrPDFToolNotFound}).ExtractText(context.Background(), path, MimePDF)
	assert.ErrorIs(t, err, ErrPDFToolNotFound)
}

func TestExtractText_Unsupported(t *testing.T) {
	path := writeFile(t, "image.png", []byte{0x89, 'P', 'N', 'G'})

	_, err := newTestExtractor(&mockRunner{}).ExtractText(context.Background(), path, "image/png")

	assert.ErrorIs(t, err, ErrUnsupportedType)
	assert.Contains(t, err.Error(), "image/png")
}

func TestExtractText_BinaryContent(t *testing.T) {
	path := writeFile(t, "fake.txt", []byte{0x00, 0x01, 0x02, 0x00, 0xff})

	_, err := newTestExtractor(&mockRunner{}).ExtractText(context.Background(), path, MimeText)

	assert.ErrorIs(t, err, ErrBinaryContent)
}

func TestDetectMimeType(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  []byte
		want     string
	}{
		{"pdf by extension", "Report.PDF", nil, MimePDF},
		{"markdown by extension", "notes.md", []byte("# hi"), MimeMarkdown},
		{"text by extension", "a.txt", []byte("hi"), MimeText},
		{"png by content", "upload.bin", []byte("\x89PNG\r\n\x1a\n\x00\x00"), "image/png"},
		{"empty unknown", "unknown", nil, MimeText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectMimeType(tt.filename, tt.content))
		})
	}
}

func TestResolveMimeType(t *testing.T) {
	assert.Equal(t, MimePDF, ResolveMimeType("application/pdf", "a.pdf", nil))
	assert.Equal(t, MimeMarkdown, ResolveMimeType("application/octet-stream", "readme.md", []byte("# x")))
	assert.True(t, Supported("TEXT/PLAIN"))
	assert.False(t, Supported("application/zip"))
	assert.True(t, SupportedExtension("a.Markdown"))
	assert.False(t, SupportedExtension("a.docx"))
}
