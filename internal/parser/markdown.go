package parser

import (
	"context"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/cloo-solutions/docvec/internal/service"
)

// MarkdownParser strips Markdown syntax, keeping one paragraph per block.
type MarkdownParser struct{}

func (MarkdownParser) DocumentType() string { return "markdown" }
func (MarkdownParser) Extensions() []string { return []string{".md", ".markdown", ".mdx"} }
func (MarkdownParser) MIMETypes() []string  { return []string{"text/markdown", "text/x-markdown"} }

func (MarkdownParser) Parse(_ context.Context, data []byte) (*service.ParsedDocument, error) {
	source := []byte(strings.ReplaceAll(string(data), "\x00", ""))
	if _, err := decodeText(source); err != nil {
		return nil, err
	}

	md := goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough))
	doc := md.Parser().Parse(text.NewReader(source))

	w := &markdownWalker{source: source}
	if err := ast.Walk(doc, w.walk); err != nil {
		return nil, err
	}

	meta := map[string]any{}
	if w.title != "" {
		meta["title"] = w.title
	}
	return &service.ParsedDocument{
		Content:  strings.Join(w.blocks, "\n\n"),
		Metadata: meta,
	}, nil
}

type markdownWalker struct {
	source []byte
	blocks []string
	title  string
}

func (w *markdownWalker) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}

	switch node := n.(type) {
	case *ast.Heading:
		t := w.inline(node)
		if node.Level == 1 && w.title == "" {
			w.title = strings.TrimSpace(t)
		}
		w.add(t)
		return ast.WalkSkipChildren, nil
	case *ast.Paragraph, *ast.TextBlock:
		w.add(w.inline(node))
		return ast.WalkSkipChildren, nil
	case *ast.FencedCodeBlock:
		w.add(w.lines(node.Lines()))
		return ast.WalkSkipChildren, nil
	case *ast.CodeBlock:
		w.add(w.lines(node.Lines()))
		return ast.WalkSkipChildren, nil
	case *ast.HTMLBlock:
		return ast.WalkSkipChildren, nil
	}

	switch n.Kind() {
	case extast.KindTableHeader, extast.KindTableRow:
		var cells []string
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			cells = append(cells, w.inline(c))
		}
		w.add(strings.Join(cells, "\t"))
		return ast.WalkSkipChildren, nil
	}
	return ast.WalkContinue, nil
}

func (w *markdownWalker) add(s string) {
	if s = strings.TrimSpace(s); s != "" {
		w.blocks = append(w.blocks, s)
	}
}

func (w *markdownWalker) lines(segs *text.Segments) string {
	var b strings.Builder
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		b.Write(seg.Value(w.source))
	}
	return b.String()
}

// inline flattens the inline children of n to plain text.
func (w *markdownWalker) inline(n ast.Node) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(w.source))
			if t.HardLineBreak() {
				b.WriteByte('\n')
			} else if t.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		case *ast.AutoLink:
			b.Write(t.Label(w.source))
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}
