// Package output owns result rendering for a crawl: a console summary, a
// JSON-Lines file, or per-page Markdown exports. The Manager holds the
// open file handles and tracks everything it writes so that a failed run
// can discard its partial artifacts.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"webcrawl/pkg/models"
	"webcrawl/pkg/utils"
)

// Format selects how results are emitted.
type Format string

const (
	FormatConsole  Format = "console"
	FormatJSONL    Format = "jsonl"
	FormatMarkdown Format = "markdown"
)

// ParseFormat validates a format flag value.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatConsole, FormatJSONL, FormatMarkdown:
		return Format(s), nil
	}
	return "", utils.WrapErrorf(utils.ErrConfigValidation, "unknown output format '%s'", s)
}

const statsFilename = "crawl_stats.yaml"

// Manager writes crawl results in the selected format. Safe for
// concurrent WriteResult calls; file handles are mutex-guarded.
type Manager struct {
	format Format
	outDir string
	log    *logrus.Entry

	jsonlFile     *os.File
	jsonlFileMu   sync.Mutex
	jsonlFilePath string

	writtenMu    sync.Mutex
	writtenPaths []string
	pagesWritten int
}

// NewManager prepares the output directory and opens the files the
// format needs.
func NewManager(format Format, outDir string, log *logrus.Entry) (*Manager, error) {
	m := &Manager{format: format, outDir: outDir, log: log}
	if format == FormatConsole {
		return m, nil
	}

	if outDir == "" {
		outDir = "."
		m.outDir = outDir
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory '%s': %w", outDir, err)
	}

	if format == FormatJSONL {
		m.jsonlFilePath = filepath.Join(outDir, "results.jsonl")
		file, err := os.OpenFile(m.jsonlFilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening JSONL output file '%s': %w", m.jsonlFilePath, err)
		}
		m.jsonlFile = file
		m.trackPath(m.jsonlFilePath)
		log.Infof("JSONL output file: %s", m.jsonlFilePath)
	}
	return m, nil
}

// WriteResult emits one crawled page.
func (m *Manager) WriteResult(res *models.CrawlResult) error {
	switch m.format {
	case FormatConsole:
		fmt.Printf("[%d] %s  %s\n", res.StatusCode, res.URL, res.Title)
		m.countPage()
		return nil
	case FormatJSONL:
		return m.writeJSONL(res)
	case FormatMarkdown:
		return m.writeMarkdown(res)
	}
	return nil
}

func (m *Manager) writeJSONL(res *models.CrawlResult) error {
	entry := models.ResultJSONL{
		URL:         res.URL,
		Title:       res.Title,
		Description: res.Description,
		Content:     res.Markdown,
		Meta: models.ResultMeta{
			StatusCode:     res.StatusCode,
			ResponseTimeMS: res.ResponseTimeMS,
			Depth:          res.Depth,
			ContentHash:    utils.CalculateStringSHA256(res.Markdown),
			LinkCount:      len(res.DiscoveredLinks),
		},
		CrawledAt: res.CrawledAt.Format(time.RFC3339),
	}
	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling result for '%s': %w", res.URL, err)
	}

	m.jsonlFileMu.Lock()
	defer m.jsonlFileMu.Unlock()
	if m.jsonlFile == nil {
		return fmt.Errorf("JSONL output file is closed")
	}
	if _, err := m.jsonlFile.Write(append(jsonBytes, '\n')); err != nil {
		return fmt.Errorf("writing to JSONL file '%s': %w", m.jsonlFilePath, err)
	}
	m.countPage()
	return nil
}

func (m *Manager) writeMarkdown(res *models.CrawlResult) error {
	name := utils.SanitizeFilename(res.Title)
	if name == "untitled" {
		name = utils.SanitizeFilename(res.URL)
	}
	path := filepath.Join(m.outDir, name+".md")

	// Avoid clobbering a page that sanitized to the same name.
	if _, err := os.Stat(path); err == nil {
		path = filepath.Join(m.outDir, fmt.Sprintf("%s-%s.md", name, utils.CalculateStringSHA256(res.URL)[:8]))
	}

	var b []byte
	b = fmt.Appendf(b, "<!-- source: %s (depth %d, crawled %s) -->\n\n", res.URL, res.Depth, res.CrawledAt.Format(time.RFC3339))
	b = append(b, res.Markdown...)
	b = append(b, '\n')

	if err := os.WriteFile(path, b, 0644); err != nil {
		return fmt.Errorf("writing markdown file '%s': %w", path, err)
	}
	m.trackPath(path)
	m.countPage()
	return nil
}

// WriteSummary prints the end-of-crawl stats to stdout and, for
// file-backed formats, writes them as YAML next to the results.
func (m *Manager) WriteSummary(stats *models.CrawlStats) {
	fmt.Printf("\nCrawl %s finished in %s\n", stats.CrawlID, stats.Duration.Round(time.Millisecond))
	fmt.Printf("  crawled:    %d\n", stats.URLsCrawled)
	fmt.Printf("  failed:     %d\n", stats.URLsFailed)
	fmt.Printf("  skipped:    %d\n", stats.URLsSkipped)
	fmt.Printf("  discovered: %d\n", stats.URLsDiscovered)
	fmt.Printf("  stored:     %d (dropped %d)\n", stats.ResultsStored, stats.ResultsDropped)
	if len(stats.ErrorCounts) > 0 {
		fmt.Println("  errors:")
		for category, count := range stats.ErrorCounts {
			fmt.Printf("    %-28s %d\n", category, count)
		}
	}

	if m.format == FormatConsole {
		return
	}
	statsPath := filepath.Join(m.outDir, statsFilename)
	yamlData, err := yaml.Marshal(stats)
	if err != nil {
		m.log.Errorf("Failed to marshal crawl stats to YAML: %v", err)
		return
	}
	if err := os.WriteFile(statsPath, yamlData, 0644); err != nil {
		m.log.Errorf("Failed to write crawl stats file '%s': %v", statsPath, err)
		return
	}
	m.trackPath(statsPath)
	m.log.Infof("Wrote crawl stats to %s", statsPath)
}

// PagesWritten returns the number of results emitted so far.
func (m *Manager) PagesWritten() int {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	return m.pagesWritten
}

// Close syncs and closes open file handles.
func (m *Manager) Close() {
	m.jsonlFileMu.Lock()
	defer m.jsonlFileMu.Unlock()
	if m.jsonlFile != nil {
		if err := m.jsonlFile.Sync(); err != nil {
			m.log.Errorf("Error syncing JSONL file '%s': %v", m.jsonlFilePath, err)
		}
		if err := m.jsonlFile.Close(); err != nil {
			m.log.Errorf("Error closing JSONL file '%s': %v", m.jsonlFilePath, err)
		}
		m.jsonlFile = nil
	}
}

// CleanupArtifacts removes every file this manager wrote. Used by
// cleanup-on-fail after an interrupted crawl; only paths the manager
// created are touched, never the whole output directory.
func (m *Manager) CleanupArtifacts() {
	m.Close()
	m.writtenMu.Lock()
	paths := make([]string, len(m.writtenPaths))
	copy(paths, m.writtenPaths)
	m.writtenPaths = nil
	m.writtenMu.Unlock()

	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			m.log.Warnf("Failed to remove partial artifact '%s': %v", path, err)
		}
	}
	m.log.Infof("Removed %d partial output file(s)", len(paths))
}

func (m *Manager) trackPath(path string) {
	m.writtenMu.Lock()
	m.writtenPaths = append(m.writtenPaths, path)
	m.writtenMu.Unlock()
}

func (m *Manager) countPage() {
	m.writtenMu.Lock()
	m.pagesWritten++
	m.writtenMu.Unlock()
}
