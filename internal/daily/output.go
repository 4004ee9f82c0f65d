package daily

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avidelta/nexus/internal/platform/fsutil"
)

const (
	SummaryJSONName = "daily_summary.json"
	SummaryTextName = "daily_summary.txt"
)

// Writer persists the daily summary as the JSON document, the text report,
// a timestamped audit copy and, when configured, the site's data file.
type Writer struct {
	dir      string
	sitePath string
	dryRun   bool
	logger   *slog.Logger
}

func NewWriter(dir, sitePath string, dryRun bool, logger *slog.Logger) (*Writer, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("output dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{dir: dir, sitePath: strings.TrimSpace(sitePath), dryRun: dryRun, logger: logger}, nil
}

// Write returns the paths written, or that would be written in dry-run mode.
func (w *Writer) Write(summary DailySummary, at time.Time) ([]string, error) {
	blob, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}
	blob = append(blob, '\n')

	files := []struct {
		path string
		data []byte
	}{
		{filepath.Join(w.dir, SummaryJSONName), blob},
		{filepath.Join(w.dir, SummaryTextName), []byte(summary.Text())},
		{filepath.Join(w.dir, "audit_"+at.UTC().Format("20060102_150405")+".json"), blob},
	}
	if w.sitePath != "" {
		files = append(files, struct {
			path string
			data []byte
		}{w.sitePath, blob})
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.path)
		if w.dryRun {
			w.logger.Info("dry run: skipping write", "path", f.path, "bytes", len(f.data))
			continue
		}
		if err := fsutil.WriteFileAtomic(f.path, f.data); err != nil {
			return paths, err
		}
		w.logger.Info("wrote output", "path", f.path)
	}
	return paths, nil
}

// ReadSummary loads a summary JSON document written by Writer.
func ReadSummary(path string) (DailySummary, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return DailySummary{}, err
	}
	var summary DailySummary
	if err := json.Unmarshal(blob, &summary); err != nil {
		return DailySummary{}, fmt.Errorf("decode summary: %w", err)
	}
	return summary, nil
}
