package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avidelta/nexus/internal/domain"
	"github.com/avidelta/nexus/internal/platform/fsutil"
)

// FileLedger stores runs under a directory:
//
//	runs/<run_id>.json      record (status running until finalized)
//	events/<run_id>.ndjson  append-only event log
//	latest.json             most recently finalized record
type FileLedger struct {
	dir string
	now func() time.Time

	mu  sync.Mutex
	seq map[string]int64
}

func NewFileLedger(dir string) (*FileLedger, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("ledger directory is required")
	}
	for _, sub := range []string{"runs", "events"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	return &FileLedger{dir: dir, now: time.Now, seq: make(map[string]int64)}, nil
}

func (l *FileLedger) AllocateRunID(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	runID := uuid.NewString()
	record := Record{
		RunID:     runID,
		Status:    domain.RunStatusRunning,
		StartedAt: l.now().UTC(),
		Steps:     []domain.StepOutcome{},
	}
	if err := writeJSONAtomic(l.runPath(runID), record); err != nil {
		return "", fmt.Errorf("allocate run: %w", err)
	}
	return runID, nil
}

func (l *FileLedger) RecordEvent(ctx context.Context, runID string, kind domain.EventKind, message string, detail map[string]any) error {
	if err := domain.ValidateRunID(runID); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	seq, err := l.nextSeq(runID)
	if err != nil {
		return err
	}
	event := Event{
		RunID:      runID,
		Seq:        seq,
		OccurredAt: l.now().UTC(),
		Kind:       kind,
		Message:    message,
		Detail:     detail,
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(l.eventsPath(runID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open events: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append event: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close events: %w", err)
	}
	l.seq[runID] = seq
	return nil
}

func (l *FileLedger) Finalize(ctx context.Context, run *domain.Run) (Record, error) {
	record, err := NewRecord(run)
	if err != nil {
		return Record{}, err
	}
	if err := domain.ValidateRunID(record.RunID); err != nil {
		return Record{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := readRecord(l.runPath(record.RunID))
	switch {
	case err == nil && existing.Status.Terminal():
		return Record{}, fmt.Errorf("finalize %s: %w", record.RunID, ErrAlreadyFinalized)
	case err != nil && !errors.Is(err, ErrNotFound):
		return Record{}, fmt.Errorf("finalize %s: %w", record.RunID, err)
	}

	if err := writeJSONAtomic(l.runPath(record.RunID), record); err != nil {
		return Record{}, fmt.Errorf("write run record: %w", err)
	}
	if err := writeJSONAtomic(filepath.Join(l.dir, "latest.json"), record); err != nil {
		return Record{}, fmt.Errorf("write latest record: %w", err)
	}
	return record, nil
}

func (l *FileLedger) ListRuns(ctx context.Context, limit int) ([]Record, error) {
	entries, err := os.ReadDir(filepath.Join(l.dir, "runs"))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		record, err := readRecord(filepath.Join(l.dir, "runs", entry.Name()))
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	if limit = normalizeLimit(limit); len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (l *FileLedger) GetRun(ctx context.Context, runID string) (Record, error) {
	if err := domain.ValidateRunID(runID); err != nil {
		return Record{}, ErrNotFound
	}
	return readRecord(l.runPath(runID))
}

func (l *FileLedger) ListEvents(ctx context.Context, runID string) ([]Event, error) {
	if err := domain.ValidateRunID(runID); err != nil {
		return nil, ErrNotFound
	}
	events, err := readEvents(l.eventsPath(runID))
	if errors.Is(err, fs.ErrNotExist) {
		if _, statErr := os.Stat(l.runPath(runID)); statErr != nil {
			return nil, ErrNotFound
		}
		return []Event{}, nil
	}
	return events, err
}

func (l *FileLedger) Ping(ctx context.Context) error {
	info, err := os.Stat(l.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", l.dir)
	}
	return nil
}

func (l *FileLedger) nextSeq(runID string) (int64, error) {
	if seq, ok := l.seq[runID]; ok {
		return seq + 1, nil
	}
	events, err := readEvents(l.eventsPath(runID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, err
	}
	return int64(len(events)) + 1, nil
}

func (l *FileLedger) runPath(runID string) string {
	return filepath.Join(l.dir, "runs", runID+".json")
}

func (l *FileLedger) eventsPath(runID string) string {
	return filepath.Join(l.dir, "events", runID+".ndjson")
}

func readRecord(path string) (Record, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("read run record: %w", err)
	}
	var record Record
	if err := json.Unmarshal(blob, &record); err != nil {
		return Record{}, fmt.Errorf("decode run record %s: %w", filepath.Base(path), err)
	}
	return record, nil
}

func readEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	events := make([]Event, 0)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

func writeJSONAtomic(path string, value any) error {
	blob, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, append(blob, '\n'))
}
