// Package deadletter implements the append-only durable record of
// terminal agent failures (C9).
package deadletter

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/originpath/assocpipeline/internal/model"
	"github.com/originpath/assocpipeline/internal/resilience"
)

// Entry is one durable dead-letter record.
type Entry struct {
	ID             string             `json:"id"`
	Task           model.AgentTask    `json:"task"`
	ClassifiedError resilience.ErrorKind `json:"classified_error"`
	Message        string             `json:"message"`
	Attempts       int                `json:"attempts"`
	LastSeen       time.Time          `json:"last_seen"`
}

// CanRetry reports whether the entry has not exhausted its retry budget.
func (e Entry) CanRetry(maxRetries int) bool {
	return e.Attempts < maxRetries
}

// Filter narrows Read results.
type Filter struct {
	ErrorKind resilience.ErrorKind
	Limit     int
}

// Sink is a durable, best-effort append-only log of terminal failures,
// one file per UTC day under dir, grounded on the source's daily-file
// DeadLetterQueue: writes never propagate an error to the caller since a
// DLQ write failure must not fail the enclosing phase.
type Sink struct {
	mu  sync.Mutex
	dir string
}

// NewSink creates a Sink rooted at dir, creating it if necessary.
func NewSink(dir string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Sink{dir: dir}, nil
}

func (s *Sink) pathForDay(day time.Time) string {
	return filepath.Join(s.dir, "dlq_"+day.Format("20060102")+".jsonl")
}

// Push appends entry to today's DLQ file. Failure to write is logged,
// not returned - the DLQ must never be the thing that fails a phase.
func (s *Sink) Push(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.LastSeen.IsZero() {
		entry.LastSeen = time.Now()
	}
	if entry.ID == "" {
		entry.ID = entry.Task.AgentType + "-" + entry.LastSeen.Format(time.RFC3339Nano)
	}

	path := s.pathForDay(entry.LastSeen)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		zap.L().Error("dlq: failed to open file", zap.String("path", path), zap.Error(err))
		return
	}
	defer f.Close() //nolint:errcheck

	line, err := json.Marshal(entry)
	if err != nil {
		zap.L().Error("dlq: failed to marshal entry", zap.Error(err))
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		zap.L().Error("dlq: failed to write entry", zap.String("path", path), zap.Error(err))
	}
}

// ReadAll returns every entry in today's DLQ file matching filter.
func (s *Sink) ReadAll(filter Filter) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.pathForDay(time.Now())
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if filter.ErrorKind != "" && e.ClassifiedError != filter.ErrorKind {
			continue
		}
		entries = append(entries, e)
		if filter.Limit > 0 && len(entries) >= filter.Limit {
			break
		}
	}
	return entries, scanner.Err()
}

// Count returns the number of entries currently in today's DLQ file.
func (s *Sink) Count() (int, error) {
	entries, err := s.ReadAll(Filter{})
	return len(entries), err
}
