package document

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFReader extracts page text from PDF files.
type PDFReader struct{}

func (PDFReader) Extract(ctx context.Context, path string) (text string, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: %v", ErrUnreadable, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
		}
		return "", fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %v", ErrUnreadable, i, err)
		}
		b.WriteString(collapseBlankLines(content))
		b.WriteString("\n")
	}
	return b.String(), nil
}

// TextReader returns plain-text files as-is, for deployments that allow .txt.
type TextReader struct{}

func (TextReader) Extract(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
		}
		return "", err
	}
	return collapseBlankLines(string(data)), nil
}

// ExtensionReader picks a Reader by the file extension.
type ExtensionReader map[string]Reader

// NewReader returns the readers for the supported formats.
func NewReader() ExtensionReader {
	return ExtensionReader{
		".pdf": PDFReader{},
		".txt": TextReader{},
		".md":  TextReader{},
	}
}

func (e ExtensionReader) Extract(ctx context.Context, path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	r, ok := e[ext]
	if !ok {
		return "", fmt.Errorf("%w: unsupported extension %q", ErrUnreadable, ext)
	}
	return r.Extract(ctx, path)
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n") {
		s = strings.ReplaceAll(s, "\n\n", "\n")
	}
	return s
}
