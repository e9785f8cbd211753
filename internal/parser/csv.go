package parser

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/cloo-solutions/docvec/internal/domain"
	"github.com/cloo-solutions/docvec/internal/service"
)

// CSVParser turns each record into a paragraph of "column: value" lines.
type CSVParser struct{}

func (CSVParser) DocumentType() string { return "csv" }
func (CSVParser) Extensions() []string { return []string{".csv"} }
func (CSVParser) MIMETypes() []string  { return []string{"text/csv"} }

func (CSVParser) Parse(_ context.Context, data []byte) (*service.ParsedDocument, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(strings.NewReader(strings.TrimPrefix(text, "\ufeff")))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return &service.ParsedDocument{Metadata: map[string]any{"rows": 0}}, nil
	}
	if err != nil {
		return nil, domain.NewParseError("failed to read CSV header", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var paragraphs []string
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, domain.NewParseError("failed to read CSV record", err)
		}

		var b bytes.Buffer
		for i, v := range record {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			key := ""
			if i < len(header) {
				key = header[i]
			}
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			if key != "" {
				b.WriteString(key + ": ")
			}
			b.WriteString(v)
		}
		if b.Len() > 0 {
			paragraphs = append(paragraphs, b.String())
		}
	}

	return &service.ParsedDocument{
		Content:  strings.Join(paragraphs, "\n\n"),
		Metadata: map[string]any{"columns": header, "rows": len(paragraphs)},
	}, nil
}
