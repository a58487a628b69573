// Package audit records authorization decisions for later review. Two sinks
// are provided: an append-only JSONL file for local runs, and a NATS
// publisher for deployments that feed decisions into downstream consumers.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MedGateAI/medgate-engine/engine/domain"
)

// Entry is one audit record as stored on disk or on the wire.
type Entry struct {
	AuditID  string                `json:"audit_id"`
	LoggedAt time.Time             `json:"logged_at"`
	Version  string                `json:"version"`
	Result   domain.DecisionResult `json:"result"`
}

// recordVersion tags entries so consumers can handle format changes.
const recordVersion = "1.0.0"

// Filter narrows a Query. Zero values match everything.
type Filter struct {
	PatientID int64
	Decision  domain.Decision
	Limit     int
}

// Stats summarizes the decision history.
type Stats struct {
	Total    int `json:"total"`
	Approved int `json:"approved"`
	Denied   int `json:"denied"`
	Pending  int `json:"pending"`
}

// FileSink appends one JSON line per decision to a log file.
type FileSink struct {
	mu   sync.Mutex
	path string
}

// NewFileSink creates a FileSink writing to path, creating parent
// directories as needed.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: create log dir: %w", err)
	}
	return &FileSink{path: path}, nil
}

// Record assigns an audit id, timestamps the entry and appends it to the
// log. The assigned id is returned.
func (s *FileSink) Record(_ context.Context, res domain.DecisionResult) (string, error) {
	id := uuid.New().String()
	res.AuditID = id
	entry := Entry{
		AuditID:  id,
		LoggedAt: time.Now().UTC(),
		Version:  recordVersion,
		Result:   res,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("audit: marshal entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("audit: open log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return "", fmt.Errorf("audit: append entry: %w", err)
	}
	return id, nil
}

// Query returns entries matching the filter, newest first. Lines that fail
// to parse are skipped; a partially corrupt log still yields its readable
// entries.
func (s *FileSink) Query(_ context.Context, f Filter) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: open log: %w", err)
	}
	defer file.Close()

	var out []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if f.PatientID != 0 && e.Result.PatientID != f.PatientID {
			continue
		}
		if f.Decision != "" && e.Result.Decision != f.Decision {
			continue
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan log: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].LoggedAt.After(out[j].LoggedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// History returns the full decision history for one patient, newest first.
func (s *FileSink) History(ctx context.Context, patientID int64) ([]Entry, error) {
	return s.Query(ctx, Filter{PatientID: patientID})
}

// Stats tallies decisions across the whole log.
func (s *FileSink) Stats(ctx context.Context) (Stats, error) {
	entries, err := s.Query(ctx, Filter{})
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, e := range entries {
		st.Total++
		switch e.Result.Decision {
		case domain.Approved:
			st.Approved++
		case domain.Denied:
			st.Denied++
		case domain.Pending:
			st.Pending++
		}
	}
	return st, nil
}
