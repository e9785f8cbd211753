package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/cloo-solutions/docvec/internal/domain"
	"github.com/cloo-solutions/docvec/internal/service"
)

// PDFParser extracts the plain text of each page.
type PDFParser struct{}

func (PDFParser) DocumentType() string { return "pdf" }
func (PDFParser) Extensions() []string { return []string{".pdf"} }
func (PDFParser) MIMETypes() []string  { return []string{"application/pdf"} }

func (PDFParser) Parse(ctx context.Context, data []byte) (doc *service.ParsedDocument, err error) {
	// The reader panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = domain.NewParseError("malformed PDF", fmt.Errorf("%v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, domain.NewParseError("failed to open PDF", err)
	}

	pages := reader.NumPage()
	texts := make([]string, 0, pages)
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			return nil, domain.NewParseError(fmt.Sprintf("failed to read PDF page %d", i), err)
		}
		if text = strings.TrimSpace(text); text != "" {
			texts = append(texts, text)
		}
	}

	return &service.ParsedDocument{
		Content:  strings.Join(texts, "\n\n"),
		Metadata: map[string]any{"pages": pages},
	}, nil
}
