package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const sinkSchema = `
CREATE TABLE IF NOT EXISTS work_items (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	theme_bundle TEXT NOT NULL DEFAULT '{}',
	conversation_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS work_item_evidence (
	work_item_id TEXT NOT NULL REFERENCES work_items(id),
	conversation_id TEXT NOT NULL,
	excerpt TEXT,
	originating_signature TEXT NOT NULL DEFAULT '',
	added_at TIMESTAMP NOT NULL,
	PRIMARY KEY (work_item_id, conversation_id)
);
`

// SQLite is a reference sink that persists work items and evidence in a
// local database, so the engine runs end-to-end without an external
// tracker. Implements both WorkItemSink and EvidenceSink.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) a sink database at the given path
func NewSQLite(path string) (*SQLite, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sink database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sink database: %w", err)
	}
	if _, err := db.Exec(sinkSchema); err != nil {
		return nil, fmt.Errorf("failed to initialize sink schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Create opens a work item for a graduated group and seeds its evidence
// with every member conversation
func (s *SQLite) Create(ctx context.Context, req CreateRequest) (string, error) {
	if strings.TrimSpace(req.TitleSeed) == "" {
		return "", fmt.Errorf("title seed is required")
	}

	bundleJSON, err := json.Marshal(req.Bundle)
	if err != nil {
		return "", fmt.Errorf("failed to marshal bundle: %w", err)
	}

	id := "wi-" + uuid.NewString()[:8]
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO work_items (id, title, theme_bundle, conversation_count, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, req.TitleSeed, string(bundleJSON), len(req.MemberConversationIDs), now)
	if err != nil {
		return "", fmt.Errorf("failed to insert work item: %w", err)
	}

	excerpts := make(map[string]string, len(req.Bundle.Excerpts))
	for _, e := range req.Bundle.Excerpts {
		excerpts[e.ConversationID] = e.Text
	}
	for _, convID := range req.MemberConversationIDs {
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO work_item_evidence
				(work_item_id, conversation_id, excerpt, originating_signature, added_at)
			VALUES (?, ?, ?, ?, ?)
		`, id, convID, excerpts[convID], req.TitleSeed, now)
		if err != nil {
			return "", fmt.Errorf("failed to seed evidence: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit work item: %w", err)
	}
	return id, nil
}

// AddConversation attaches one post-graduation conversation to a work
// item. Idempotent per (work item, conversation) pair.
func (s *SQLite) AddConversation(ctx context.Context, workItemID, conversationID, excerpt, originatingSignature string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO work_item_evidence
			(work_item_id, conversation_id, excerpt, originating_signature, added_at)
		VALUES (?, ?, ?, ?, ?)
	`, workItemID, conversationID, excerpt, originatingSignature, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to add evidence: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		_, err = tx.ExecContext(ctx, `
			UPDATE work_items SET conversation_count = conversation_count + 1
			WHERE id = ?
		`, workItemID)
		if err != nil {
			return fmt.Errorf("failed to bump conversation count: %w", err)
		}
	}
	return tx.Commit()
}

// ConversationCount returns the number of conversations attached to a
// work item, or -1 if it does not exist
func (s *SQLite) ConversationCount(ctx context.Context, workItemID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT conversation_count FROM work_items WHERE id = ?
	`, workItemID).Scan(&count)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get conversation count: %w", err)
	}
	return count, nil
}

// Close closes the sink database
func (s *SQLite) Close() error {
	return s.db.Close()
}
