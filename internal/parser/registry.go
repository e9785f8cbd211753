// Package parser turns raw document bytes into text for chunking.
package parser

import (
	"context"
	"mime"
	"path/filepath"
	"strings"

	"github.com/cloo-solutions/docvec/internal/domain"
	"github.com/cloo-solutions/docvec/internal/service"
)

// Parser extracts text and metadata from one family of formats.
type Parser interface {
	// DocumentType is the type recorded on documents this parser produces.
	DocumentType() string
	Extensions() []string
	MIMETypes() []string
	Parse(ctx context.Context, data []byte) (*service.ParsedDocument, error)
}

// Registry resolves a Parser by document type, MIME type or file extension.
type Registry struct {
	byKey map[string]Parser
}

func NewRegistry(parsers ...Parser) *Registry {
	r := &Registry{byKey: make(map[string]Parser)}
	for _, p := range parsers {
		r.Register(p)
	}
	return r
}

// Default returns a registry holding every built-in parser.
func Default() *Registry {
	return NewRegistry(
		TextParser{},
		MarkdownParser{},
		HTMLParser{},
		PDFParser{},
		XLSXParser{},
		CSVParser{},
	)
}

// Register adds p, replacing any parser registered for the same keys.
func (r *Registry) Register(p Parser) {
	r.byKey[strings.ToLower(p.DocumentType())] = p
	for _, ext := range p.Extensions() {
		r.byKey[normalizeExt(ext)] = p
	}
	for _, mt := range p.MIMETypes() {
		r.byKey[strings.ToLower(mt)] = p
	}
}

// Lookup finds the parser for a declared type, falling back to the
// extension of location.
func (r *Registry) Lookup(documentType, location string) (Parser, bool) {
	if documentType != "" {
		key := strings.ToLower(strings.TrimSpace(documentType))
		if mt, _, err := mime.ParseMediaType(key); err == nil && strings.Contains(mt, "/") {
			key = mt
		}
		if p, ok := r.byKey[key]; ok {
			return p, true
		}
		if p, ok := r.byKey[normalizeExt(key)]; ok {
			return p, true
		}
	}

	if ext := filepath.Ext(location); ext != "" {
		if p, ok := r.byKey[normalizeExt(ext)]; ok {
			return p, true
		}
	}
	return nil, false
}

// Parse implements service.DocumentParser.
func (r *Registry) Parse(ctx context.Context, in service.ParseInput) (*service.ParsedDocument, error) {
	p, ok := r.Lookup(in.DocumentType, in.Location)
	if !ok {
		format := in.DocumentType
		if format == "" {
			format = filepath.Ext(in.Location)
		}
		return nil, domain.NewUnsupportedFormatError(format)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := p.Parse(ctx, in.Data)
	if err != nil {
		return nil, err
	}
	if out.DocumentType == "" {
		out.DocumentType = p.DocumentType()
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	return out, nil
}

func normalizeExt(ext string) string {
	return "." + strings.TrimPrefix(strings.ToLower(ext), ".")
}
