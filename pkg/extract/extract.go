// Package extract pulls structured data out of fetched HTML: title, meta
// description, readable text, a Markdown rendering, and the absolute links
// used to grow the frontier.
package extract

import (
	"bytes"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"webcrawl/pkg/urlutil"
	"webcrawl/pkg/utils"
)

// Page holds everything extracted from one document.
type Page struct {
	Title       string
	Description string
	Text        string
	Markdown    string
	Links       []string // absolute, http(s) only, deduplicated in document order
}

// Extractor parses HTML documents. Safe for concurrent use; each call
// builds its own converter state.
type Extractor struct {
	log *logrus.Entry
}

// New creates an Extractor.
func New(log *logrus.Entry) *Extractor {
	return &Extractor{log: log}
}

// Extract parses the document and returns its content and outbound links.
// base is the final URL after redirects; relative hrefs resolve against it.
func (e *Extractor) Extract(body []byte, base *url.URL) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, utils.WrapErrorf(utils.ErrParsing, "parsing HTML from '%s': %v", base, err)
	}

	page := &Page{
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		Description: metaDescription(doc),
		Links:       e.extractLinks(doc, base),
	}

	// Strip non-content elements before text and Markdown rendering.
	doc.Find("script, style, noscript").Remove()

	content := doc.Find("body")
	if content.Length() == 0 {
		content = doc.Selection
	}
	page.Text = normalizeWhitespace(content.Text())

	html, err := goquery.OuterHtml(content)
	if err != nil {
		e.log.WithField("url", base.String()).Warnf("Failed to serialize content for Markdown conversion: %v", err)
		return page, nil
	}
	converter := md.NewConverter(base.Host, true, nil)
	markdown, convertErr := converter.ConvertString(html)
	if convertErr != nil {
		e.log.WithField("url", base.String()).Warnf("Markdown conversion failed: %v", convertErr)
		return page, nil
	}
	page.Markdown = strings.TrimSpace(markdown)
	return page, nil
}

// extractLinks collects resolved, normalized http(s) links in document
// order, dropping duplicates.
func (e *Extractor) extractLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		resolved, ok := urlutil.Resolve(base, href)
		if !ok {
			return
		}
		normalized := urlutil.Normalize(resolved)
		if seen[normalized] {
			return
		}
		seen[normalized] = true
		links = append(links, normalized)
	})
	return links
}

func metaDescription(doc *goquery.Document) string {
	desc, _ := doc.Find(`meta[name="description"]`).First().Attr("content")
	if desc == "" {
		desc, _ = doc.Find(`meta[property="og:description"]`).First().Attr("content")
	}
	return strings.TrimSpace(desc)
}

// normalizeWhitespace collapses runs of whitespace into single spaces and
// preserves paragraph-ish breaks as newlines.
func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range s {
		switch {
		case r == '\n':
			trimmed := strings.TrimRight(b.String(), " ")
			b.Reset()
			b.WriteString(trimmed)
			if !strings.HasSuffix(trimmed, "\n") {
				b.WriteRune('\n')
			}
			lastSpace = true
		case r == ' ' || r == '\t' || r == '\r':
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}
