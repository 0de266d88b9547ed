package extract

import (
	"io"
	"net/url"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func testExtractor() *Extractor {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(logrus.NewEntry(log))
}

const samplePage = `<!DOCTYPE html>
<html>
<head>
  <title>  Getting Started  </title>
  <meta name="description" content="A short guide.">
  <script>console.log("noise")</script>
  <style>body { color: red }</style>
</head>
<body>
  <h1>Getting Started</h1>
  <p>Welcome to the guide.</p>
  <a href="/docs/install">Install</a>
  <a href="advanced.html">Advanced</a>
  <a href="https://other.example.org/page?utm=1">External</a>
  <a href="/docs/install#anchor">Install again</a>
  <a href="mailto:team@example.com">Mail us</a>
  <a href="javascript:void(0)">Click</a>
</body>
</html>`

func TestExtract_TitleAndDescription(t *testing.T) {
	base, _ := url.Parse("https://example.com/docs/")
	page, err := testExtractor().Extract([]byte(samplePage), base)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if page.Title != "Getting Started" {
		t.Errorf("Title = %q, want %q", page.Title, "Getting Started")
	}
	if page.Description != "A short guide." {
		t.Errorf("Description = %q, want %q", page.Description, "A short guide.")
	}
}

func TestExtract_Links(t *testing.T) {
	base, _ := url.Parse("https://example.com/docs/")
	page, err := testExtractor().Extract([]byte(samplePage), base)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	want := []string{
		"https://example.com/docs/install",
		"https://example.com/docs/advanced.html",
		"https://other.example.org/page",
	}
	if len(page.Links) != len(want) {
		t.Fatalf("Links = %v, want %v", page.Links, want)
	}
	for i := range want {
		if page.Links[i] != want[i] {
			t.Errorf("Links[%d] = %q, want %q", i, page.Links[i], want[i])
		}
	}
}

func TestExtract_TextExcludesScriptAndStyle(t *testing.T) {
	base, _ := url.Parse("https://example.com/")
	page, err := testExtractor().Extract([]byte(samplePage), base)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if strings.Contains(page.Text, "console.log") {
		t.Error("Text should not contain script content")
	}
	if strings.Contains(page.Text, "color: red") {
		t.Error("Text should not contain style content")
	}
	if !strings.Contains(page.Text, "Welcome to the guide.") {
		t.Errorf("Text missing body copy: %q", page.Text)
	}
}

func TestExtract_Markdown(t *testing.T) {
	base, _ := url.Parse("https://example.com/")
	page, err := testExtractor().Extract([]byte(samplePage), base)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if !strings.Contains(page.Markdown, "# Getting Started") {
		t.Errorf("Markdown missing heading: %q", page.Markdown)
	}
}

func TestExtract_OgDescriptionFallback(t *testing.T) {
	html := `<html><head><title>T</title>
	<meta property="og:description" content="From OpenGraph"></head><body></body></html>`
	base, _ := url.Parse("https://example.com/")
	page, err := testExtractor().Extract([]byte(html), base)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if page.Description != "From OpenGraph" {
		t.Errorf("Description = %q, want OpenGraph fallback", page.Description)
	}
}

func TestExtract_EmptyDocument(t *testing.T) {
	base, _ := url.Parse("https://example.com/")
	page, err := testExtractor().Extract([]byte(""), base)
	if err != nil {
		t.Fatalf("Extract on empty body: %v", err)
	}
	if page.Title != "" || len(page.Links) != 0 {
		t.Errorf("empty document should yield empty page, got %+v", page)
	}
}
