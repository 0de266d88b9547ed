package urlutil

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"webcrawl/pkg/utils"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercase scheme and host", "HTTP://Example.COM/Path", "http://example.com/Path"},
		{"strip default http port", "http://example.com:80/a", "http://example.com/a"},
		{"strip default https port", "https://example.com:443/a", "https://example.com/a"},
		{"keep custom port", "http://example.com:8080/a", "http://example.com:8080/a"},
		{"empty path becomes root", "https://example.com", "https://example.com/"},
		{"trailing slash trimmed", "https://example.com/docs/", "https://example.com/docs"},
		{"root slash kept", "https://example.com/", "https://example.com/"},
		{"fragment stripped", "https://example.com/a#section", "https://example.com/a"},
		{"query stripped", "https://example.com/a?page=2", "https://example.com/a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(mustParse(t, tt.input)); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalize_DoesNotModifyInput(t *testing.T) {
	u := mustParse(t, "https://example.com/docs/?q=1#frag")
	Normalize(u)
	if u.RawQuery != "q=1" || u.Fragment != "frag" {
		t.Errorf("Normalize modified its input: %+v", u)
	}
}

func TestParseAndNormalize_Invalid(t *testing.T) {
	for _, raw := range []string{"", "not a url", "example.com/no-scheme"} {
		_, _, err := ParseAndNormalize(raw)
		if !errors.Is(err, utils.ErrInvalidURL) {
			t.Errorf("ParseAndNormalize(%q) err = %v, want ErrInvalidURL", raw, err)
		}
	}
}

func TestResolve(t *testing.T) {
	base := mustParse(t, "https://example.com/docs/index.html")

	tests := []struct {
		name string
		href string
		want string
		ok   bool
	}{
		{"relative", "guide.html", "https://example.com/docs/guide.html", true},
		{"rooted", "/about", "https://example.com/about", true},
		{"absolute", "https://other.example.com/x", "https://other.example.com/x", true},
		{"protocol relative", "//cdn.example.com/app.js", "https://cdn.example.com/app.js", true},
		{"mailto rejected", "mailto:hi@example.com", "", false},
		{"javascript rejected", "javascript:void(0)", "", false},
		{"empty rejected", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			abs, ok := Resolve(base, tt.href)
			if ok != tt.ok {
				t.Fatalf("Resolve(%q) ok = %v, want %v", tt.href, ok, tt.ok)
			}
			if ok && abs.String() != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.href, abs.String(), tt.want)
			}
		})
	}
}

func TestExtractDomain(t *testing.T) {
	got, err := ExtractDomain("https://Sub.Example.COM:8443/path")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "sub.example.com" {
		t.Errorf("ExtractDomain = %q, want %q", got, "sub.example.com")
	}

	if _, err := ExtractDomain("/relative/only"); !errors.Is(err, utils.ErrInvalidURL) {
		t.Errorf("ExtractDomain(no host) err = %v, want ErrInvalidURL", err)
	}
}

func TestCompilePatterns_InvalidPattern(t *testing.T) {
	_, err := CompilePatterns([]string{`valid.*`, `[unclosed`})
	if !errors.Is(err, utils.ErrInvalidPattern) {
		t.Fatalf("err = %v, want ErrInvalidPattern", err)
	}
	if want := "[unclosed"; err == nil || !strings.Contains(err.Error(), want) {
		t.Errorf("error %q should name the offending pattern %q", err, want)
	}
}

func TestCompilePatterns_SkipsEmpty(t *testing.T) {
	compiled, err := CompilePatterns([]string{"", `docs/.*`, ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(compiled) != 1 {
		t.Errorf("len = %d, want 1", len(compiled))
	}
}

func TestMatches(t *testing.T) {
	includes, _ := CompilePatterns([]string{`/docs/`})
	excludes, _ := CompilePatterns([]string{`\.pdf$`})

	tests := []struct {
		name   string
		target string
		want   bool
	}{
		{"include match", "https://example.com/docs/intro", true},
		{"no include match", "https://example.com/blog/post", false},
		{"exclude wins over include", "https://example.com/docs/manual.pdf", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.target, includes, excludes); got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.target, got, tt.want)
			}
		})
	}

	if !Matches("https://example.com/anything", nil, excludes) {
		t.Error("empty include list should match everything not excluded")
	}
}
