package output

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webcrawl/pkg/models"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func sampleResult(rawURL, title string) *models.CrawlResult {
	return &models.CrawlResult{
		URL:             rawURL,
		Title:           title,
		Description:     "desc",
		Markdown:        "# " + title,
		StatusCode:      200,
		ResponseTimeMS:  42,
		DiscoveredLinks: []string{"https://example.com/next"},
		Depth:           1,
		CrawledAt:       time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC),
	}
}

func TestParseFormat(t *testing.T) {
	for _, valid := range []string{"console", "jsonl", "markdown"} {
		_, err := ParseFormat(valid)
		assert.NoError(t, err, valid)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestJSONLWriter(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(FormatJSONL, dir, testLogger())
	require.NoError(t, err)

	require.NoError(t, m.WriteResult(sampleResult("https://example.com/a", "Page A")))
	require.NoError(t, m.WriteResult(sampleResult("https://example.com/b", "Page B")))
	m.Close()

	file, err := os.Open(filepath.Join(dir, "results.jsonl"))
	require.NoError(t, err)
	defer file.Close()

	var lines []models.ResultJSONL
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry models.ResultJSONL
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		lines = append(lines, entry)
	}
	require.Len(t, lines, 2)

	assert.Equal(t, "https://example.com/a", lines[0].URL)
	assert.Equal(t, "Page A", lines[0].Title)
	assert.Equal(t, "# Page A", lines[0].Content)
	assert.Equal(t, 200, lines[0].Meta.StatusCode)
	assert.Equal(t, int64(42), lines[0].Meta.ResponseTimeMS)
	assert.Equal(t, 1, lines[0].Meta.LinkCount)
	assert.NotEmpty(t, lines[0].Meta.ContentHash)
	assert.Equal(t, "2026-08-28T12:00:00Z", lines[0].CrawledAt)

	assert.Equal(t, 2, m.PagesWritten())
}

func TestMarkdownWriter(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(FormatMarkdown, dir, testLogger())
	require.NoError(t, err)

	require.NoError(t, m.WriteResult(sampleResult("https://example.com/a", "Page A")))

	data, err := os.ReadFile(filepath.Join(dir, "Page A.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Page A")
	assert.Contains(t, string(data), "https://example.com/a")
}

func TestMarkdownWriter_CollidingTitles(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(FormatMarkdown, dir, testLogger())
	require.NoError(t, err)

	require.NoError(t, m.WriteResult(sampleResult("https://example.com/a", "Same Title")))
	require.NoError(t, m.WriteResult(sampleResult("https://example.com/b", "Same Title")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "colliding titles must not overwrite each other")
}

func TestWriteSummary_StatsFile(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(FormatJSONL, dir, testLogger())
	require.NoError(t, err)

	stats := models.NewCrawlStats("test-crawl")
	stats.URLsCrawled = 7
	stats.Duration = 3 * time.Second
	m.WriteSummary(stats)

	_, statErr := os.Stat(filepath.Join(dir, "crawl_stats.yaml"))
	assert.NoError(t, statErr, "file formats should persist the stats summary")
}

func TestCleanupArtifacts(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(FormatJSONL, dir, testLogger())
	require.NoError(t, err)

	require.NoError(t, m.WriteResult(sampleResult("https://example.com/a", "Page A")))
	m.WriteSummary(models.NewCrawlStats("test-crawl"))
	m.CleanupArtifacts()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "cleanup should remove every file the manager wrote")
}
