package parser

import (
	"bytes"
	"context"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/cloo-solutions/docvec/internal/domain"
	"github.com/cloo-solutions/docvec/internal/service"
)

// XLSXParser renders each sheet as one paragraph of tab-separated rows.
type XLSXParser struct{}

func (XLSXParser) DocumentType() string { return "xlsx" }
func (XLSXParser) Extensions() []string { return []string{".xlsx", ".xlsm"} }
func (XLSXParser) MIMETypes() []string {
	return []string{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"}
}

func (XLSXParser) Parse(ctx context.Context, data []byte) (*service.ParsedDocument, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, domain.NewParseError("failed to open spreadsheet", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	paragraphs := make([]string, 0, len(sheets))
	for _, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, domain.NewParseError("failed to read sheet "+sheet, err)
		}

		lines := make([]string, 0, len(rows)+1)
		lines = append(lines, sheet)
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t")
			if strings.TrimSpace(line) != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) > 1 {
			paragraphs = append(paragraphs, strings.Join(lines, "\n"))
		}
	}

	return &service.ParsedDocument{
		Content:  strings.Join(paragraphs, "\n\n"),
		Metadata: map[string]any{"sheets": sheets},
	}, nil
}
