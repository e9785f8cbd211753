package parser

import (
	"bytes"
	"context"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/cloo-solutions/docvec/internal/domain"
	"github.com/cloo-solutions/docvec/internal/service"
)

// HTMLParser converts the page body to Markdown and keeps the page title
// and description as metadata.
type HTMLParser struct{}

func (HTMLParser) DocumentType() string { return "html" }
func (HTMLParser) Extensions() []string { return []string{".html", ".htm", ".xhtml"} }
func (HTMLParser) MIMETypes() []string  { return []string{"text/html", "application/xhtml+xml"} }

func (HTMLParser) Parse(_ context.Context, data []byte) (*service.ParsedDocument, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, domain.NewParseError("failed to parse HTML", err)
	}

	meta := map[string]any{}
	if title := pageTitle(doc); title != "" {
		meta["title"] = title
	}
	if desc := metaContent(doc, `meta[name="description"]`, `meta[property="og:description"]`); desc != "" {
		meta["description"] = desc
	}

	doc.Find("script, style, noscript, template").Remove()

	body := doc.Find("body")
	var html string
	if body.Length() > 0 {
		html, err = body.Html()
	} else {
		html, err = doc.Html()
	}
	if err != nil {
		return nil, domain.NewParseError("failed to render HTML body", err)
	}

	converted, err := md.NewConverter("", true, nil).ConvertString(html)
	if err != nil {
		return nil, domain.NewParseError("failed to convert HTML to markdown", err)
	}

	return &service.ParsedDocument{
		Content:  strings.TrimSpace(converted),
		Metadata: meta,
	}, nil
}

func pageTitle(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	if t := metaContent(doc, `meta[property="og:title"]`); t != "" {
		return t
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v := strings.TrimSpace(doc.Find(sel).First().AttrOr("content", "")); v != "" {
			return v
		}
	}
	return ""
}
