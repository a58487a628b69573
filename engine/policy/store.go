// Package policy stores the policy corpus: the SOP documents whose text the
// decision engine evaluates patients against. Documents are keyed by the id
// the vector index returns, so a retrieval hit maps directly to a Get.
package policy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MedGateAI/medgate-engine/engine/domain"
)

// Document is one stored policy with its text.
type Document struct {
	DocID     string    `json:"doc_id"`
	Text      string    `json:"text"`
	UpdatedAt time.Time `json:"updated_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS policies (
	doc_id     TEXT PRIMARY KEY,
	text       TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// SQLStore persists policy documents in SQLite.
type SQLStore struct {
	db *sql.DB
}

// OpenSQL opens (creating if needed) the policy database at path and runs
// migrations.
func OpenSQL(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("policy: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("policy: pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("policy: migrate: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Put inserts or replaces a policy document.
func (s *SQLStore) Put(ctx context.Context, docID, text string) error {
	if docID == "" {
		return fmt.Errorf("policy: empty doc id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO policies (doc_id, text, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(doc_id) DO UPDATE SET text = excluded.text, updated_at = excluded.updated_at`,
		docID, text, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("policy: put %s: %w", docID, err)
	}
	return nil
}

// Get returns the text of one policy document. A missing document reports
// domain.ErrPolicyNotFound.
func (s *SQLStore) Get(ctx context.Context, docID string) (string, error) {
	var text string
	err := s.db.QueryRowContext(ctx, `SELECT text FROM policies WHERE doc_id = ?`, docID).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("policy: get %s: %w", docID, domain.ErrPolicyNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("policy: get %s: %w", docID, err)
	}
	return text, nil
}

// List returns every stored document ordered by id. Used by the index
// builder to embed the full corpus.
func (s *SQLStore) List(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc_id, text, updated_at FROM policies ORDER BY doc_id`)
	if err != nil {
		return nil, fmt.Errorf("policy: list: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var updated string
		if err := rows.Scan(&d.DocID, &d.Text, &updated); err != nil {
			return nil, fmt.Errorf("policy: scan: %w", err)
		}
		d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("policy: list: %w", err)
	}
	return docs, nil
}

// MemoryStore is an in-process store for tests and single-shot tools.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]string
}

// NewMemory creates a MemoryStore preloaded with the given documents.
func NewMemory(docs map[string]string) *MemoryStore {
	m := &MemoryStore{docs: make(map[string]string, len(docs))}
	for id, text := range docs {
		m.docs[id] = text
	}
	return m
}

func (m *MemoryStore) Put(_ context.Context, docID, text string) error {
	if docID == "" {
		return fmt.Errorf("policy: empty doc id")
	}
	m.mu.Lock()
	m.docs[docID] = text
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, docID string) (string, error) {
	m.mu.RLock()
	text, ok := m.docs[docID]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("policy: get %s: %w", docID, domain.ErrPolicyNotFound)
	}
	return text, nil
}

func (m *MemoryStore) List(_ context.Context) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := make([]Document, 0, len(m.docs))
	for id, text := range m.docs {
		docs = append(docs, Document{DocID: id, Text: text})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].DocID < docs[j].DocID })
	return docs, nil
}
