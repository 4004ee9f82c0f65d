// Package notes reads the most recently modified scratchpad notes.
package notes

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Placeholder is the note used when the directory holds nothing readable.
const Placeholder = "No notes were found; this is a placeholder run."

type Note struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Content    string    `json:"content"`
}

type Store struct {
	dir    string
	logger *slog.Logger
}

func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("notes dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Recent returns up to limit non-empty .md and .txt notes, newest first.
// A missing directory or one without readable notes yields the placeholder
// note rather than an error.
func (s *Store) Recent(ctx context.Context, limit int) ([]Note, error) {
	if limit < 1 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("notes dir missing, using placeholder", "dir", s.dir)
		return placeholder(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read notes dir: %w", err)
	}

	candidates := make([]Note, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isNoteFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			s.logger.Warn("stat note", "name", entry.Name(), "error", err)
			continue
		}
		candidates = append(candidates, Note{Name: entry.Name(), ModifiedAt: info.ModTime().UTC()})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].ModifiedAt.Equal(candidates[j].ModifiedAt) {
			return candidates[i].Name < candidates[j].Name
		}
		return candidates[i].ModifiedAt.After(candidates[j].ModifiedAt)
	})

	out := make([]Note, 0, limit)
	for _, note := range candidates {
		if len(out) == limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		blob, err := os.ReadFile(filepath.Join(s.dir, note.Name))
		if err != nil {
			s.logger.Warn("read note", "name", note.Name, "error", err)
			continue
		}
		note.Content = strings.TrimSpace(string(blob))
		if note.Content == "" {
			continue
		}
		out = append(out, note)
	}
	if len(out) == 0 {
		s.logger.Info("no readable notes, using placeholder", "dir", s.dir)
		return placeholder(), nil
	}
	return out, nil
}

// IsPlaceholder reports whether notes is the single placeholder note.
func IsPlaceholder(notes []Note) bool {
	return len(notes) == 1 && notes[0].Name == "" && notes[0].Content == Placeholder
}

// Contents returns the note bodies in order.
func Contents(notes []Note) []string {
	out := make([]string, 0, len(notes))
	for _, note := range notes {
		out = append(out, note.Content)
	}
	return out
}

func placeholder() []Note {
	return []Note{{Content: Placeholder}}
}

func isNoteFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".txt":
		return !strings.HasPrefix(name, ".")
	default:
		return false
	}
}
