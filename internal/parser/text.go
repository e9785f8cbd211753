package parser

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/docvec/internal/domain"
	"github.com/cloo-solutions/docvec/internal/service"
)

// TextParser accepts UTF-8 text as is, minus NUL bytes.
type TextParser struct{}

func (TextParser) DocumentType() string { return "text" }
func (TextParser) Extensions() []string { return []string{".txt", ".text", ".log"} }
func (TextParser) MIMETypes() []string  { return []string{"text/plain"} }

func (TextParser) Parse(_ context.Context, data []byte) (*service.ParsedDocument, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}
	return &service.ParsedDocument{Content: text, Metadata: map[string]any{}}, nil
}

func decodeText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", domain.NewParseError("content is not valid UTF-8 text", nil)
	}
	return strings.ReplaceAll(string(data), "\x00", ""), nil
}
