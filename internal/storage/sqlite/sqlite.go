package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/coalesce-dev/coalesce/internal/types"
)

// AddStatus describes what AddConversation did
type AddStatus string

const (
	AddStatusAdded         AddStatus = "added"
	AddStatusAlreadyMember AddStatus = "already_member"
	AddStatusGraduated     AddStatus = "graduated"
)

// SQLiteStorage implements the group storage interface using SQLite
type SQLiteStorage struct {
	db          *sql.DB
	actor       string
	maxExcerpts int
}

// New creates a new SQLite storage backend
func New(path, actor string, maxExcerpts int) (*SQLiteStorage, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if maxExcerpts <= 0 {
		maxExcerpts = types.DefaultMaxExcerpts
	}

	return &SQLiteStorage{
		db:          db,
		actor:       actor,
		maxExcerpts: maxExcerpts,
	}, nil
}

// CreateOrGetOrphan attempts to insert a new Orphan for the signature,
// seeded with the given conversation. If another caller created one
// between this caller's existence check and the insert, the insert is a
// conditional no-op and the winner's record is returned with
// created=false; the losing conversation is NOT appended (the caller
// re-branches on the returned record's state).
func (s *SQLiteStorage) CreateOrGetOrphan(ctx context.Context, signature, conversationID string, theme types.ExtractedTheme) (*types.Orphan, bool, error) {
	if signature == "" {
		return nil, false, &types.ValidationError{Field: "signature", Reason: "is required"}
	}
	if conversationID == "" {
		return nil, false, &types.ValidationError{Field: "conversation_id", Reason: "is required"}
	}

	bundle := types.NewBundle(conversationID, theme, s.maxExcerpts)
	bundleJSON, err := json.Marshal(bundle)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal theme bundle: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC()

	// Acquire a dedicated connection: BEGIN IMMEDIATE must run on the
	// same connection as the statements it scopes, and database/sql's
	// pool would otherwise spread them across connections.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	// IMMEDIATE acquires the write lock up front, serializing concurrent
	// creators for the same signature.
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, false, fmt.Errorf("failed to begin immediate transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	// Conditional insert: the UNIQUE constraint on signature decides the
	// winner, not an application-level existence check.
	res, err := conn.ExecContext(ctx, `
		INSERT INTO orphans (id, signature, theme_bundle, first_seen_at, last_updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(signature) DO NOTHING
	`, id, signature, string(bundleJSON), now, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert orphan: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		// Lost the race: hand back the winner's record
		existing, err := s.getOrphanBySignatureConn(ctx, conn, signature)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("orphan for signature %q vanished during create", signature)
		}
		if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
			return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
		}
		committed = true
		return existing, false, nil
	}

	_, err = conn.ExecContext(ctx, `
		INSERT INTO orphan_conversations (orphan_id, conversation_id, position, added_at)
		VALUES (?, ?, 0, ?)
	`, id, conversationID, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert first member: %w", err)
	}

	if err := s.recordEventConn(ctx, conn, id, signature, types.GroupEventCreated,
		"group created with first conversation"); err != nil {
		return nil, false, err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	return &types.Orphan{
		ID:              id,
		Signature:       signature,
		ConversationIDs: []string{conversationID},
		Bundle:          bundle,
		FirstSeenAt:     now,
		LastUpdatedAt:   now,
	}, true, nil
}

// GetOrphanBySignature returns the Orphan (active or graduated) for the
// exact canonical signature, or nil if none exists
func (s *SQLiteStorage) GetOrphanBySignature(ctx context.Context, signature string) (*types.Orphan, error) {
	return s.getOrphanBySignatureConn(ctx, s.db, signature)
}

// GetOrphan retrieves an Orphan by id, or nil if none exists
func (s *SQLiteStorage) GetOrphan(ctx context.Context, id string) (*types.Orphan, error) {
	return s.getOrphanWhere(ctx, s.db, "id = ?", id)
}

// querier covers *sql.DB and *sql.Conn
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (s *SQLiteStorage) getOrphanBySignatureConn(ctx context.Context, q querier, signature string) (*types.Orphan, error) {
	return s.getOrphanWhere(ctx, q, "signature = ?", signature)
}

func (s *SQLiteStorage) getOrphanWhere(ctx context.Context, q querier, where string, arg interface{}) (*types.Orphan, error) {
	var orphan types.Orphan
	var bundleJSON string
	var graduatedAt sql.NullTime
	var workItemID sql.NullString

	err := q.QueryRowContext(ctx, `
		SELECT id, signature, theme_bundle, first_seen_at, last_updated_at, graduated_at, work_item_id
		FROM orphans
		WHERE `+where, arg).Scan(
		&orphan.ID, &orphan.Signature, &bundleJSON,
		&orphan.FirstSeenAt, &orphan.LastUpdatedAt, &graduatedAt, &workItemID,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get orphan: %w", err)
	}

	if err := json.Unmarshal([]byte(bundleJSON), &orphan.Bundle); err != nil {
		return nil, fmt.Errorf("failed to unmarshal theme bundle for orphan %s: %w", orphan.ID, err)
	}
	if graduatedAt.Valid {
		orphan.GraduatedAt = &graduatedAt.Time
	}
	if workItemID.Valid {
		orphan.WorkItemID = workItemID.String
	}

	members, err := s.loadMembers(ctx, q, orphan.ID)
	if err != nil {
		return nil, err
	}
	orphan.ConversationIDs = members

	return &orphan, nil
}

func (s *SQLiteStorage) loadMembers(ctx context.Context, q querier, orphanID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT conversation_id FROM orphan_conversations
		WHERE orphan_id = ?
		ORDER BY position ASC
	`, orphanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

// AddConversation appends a conversation to an active Orphan and merges
// its theme into the accumulated bundle. Appending an existing member
// is a no-op that returns the current record with
// AddStatusAlreadyMember. Returns (nil, "", nil) if the Orphan no
// longer exists, and AddStatusGraduated without mutating if the group
// graduated before the append landed.
func (s *SQLiteStorage) AddConversation(ctx context.Context, orphanID, conversationID string, theme types.ExtractedTheme) (*types.Orphan, AddStatus, error) {
	if conversationID == "" {
		return nil, "", &types.ValidationError{Field: "conversation_id", Reason: "is required"}
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, "", fmt.Errorf("failed to begin immediate transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	current, err := s.getOrphanWhere(ctx, conn, "id = ?", orphanID)
	if err != nil {
		return nil, "", err
	}
	if current == nil {
		if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
			return nil, "", fmt.Errorf("failed to commit transaction: %w", err)
		}
		committed = true
		return nil, "", nil
	}

	if current.IsGraduated() {
		if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
			return nil, "", fmt.Errorf("failed to commit transaction: %w", err)
		}
		committed = true
		return current, AddStatusGraduated, nil
	}

	if current.HasConversation(conversationID) {
		if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
			return nil, "", fmt.Errorf("failed to commit transaction: %w", err)
		}
		committed = true
		return current, AddStatusAlreadyMember, nil
	}

	now := time.Now().UTC()
	_, err = conn.ExecContext(ctx, `
		INSERT INTO orphan_conversations (orphan_id, conversation_id, position, added_at)
		VALUES (?, ?, ?, ?)
	`, orphanID, conversationID, len(current.ConversationIDs), now)
	if err != nil {
		return nil, "", fmt.Errorf("failed to insert member: %w", err)
	}

	current.Bundle.Merge(conversationID, theme, s.maxExcerpts)
	bundleJSON, err := json.Marshal(current.Bundle)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal theme bundle: %w", err)
	}

	_, err = conn.ExecContext(ctx, `
		UPDATE orphans SET theme_bundle = ?, last_updated_at = ?
		WHERE id = ?
	`, string(bundleJSON), now, orphanID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to update orphan: %w", err)
	}

	if err := s.recordEventConn(ctx, conn, orphanID, current.Signature, types.GroupEventMemberAdded,
		fmt.Sprintf("member count now %d", len(current.ConversationIDs)+1)); err != nil {
		return nil, "", err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return nil, "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	current.ConversationIDs = append(current.ConversationIDs, conversationID)
	current.LastUpdatedAt = now
	return current, AddStatusAdded, nil
}

// TryClaimGraduation atomically transitions an Orphan from "no
// graduation marker" to "graduation claimed". Exactly one concurrent
// caller gets true; everyone else gets false. The claim is a single
// conditional write judged by RowsAffected, never a read-then-write
// pair. The winner also takes the work-item creation right
// (work_item_pending), so nobody else calls the sink while the
// winner's create is in flight.
func (s *SQLiteStorage) TryClaimGraduation(ctx context.Context, orphanID string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE orphans SET graduated_at = ?, work_item_pending = 1, last_updated_at = ?
		WHERE id = ? AND graduated_at IS NULL
	`, now, now, orphanID)
	if err != nil {
		return false, fmt.Errorf("failed to claim graduation: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO group_events (orphan_id, signature, event_type, actor, detail)
		SELECT id, signature, ?, ?, 'graduation claimed' FROM orphans WHERE id = ?
	`, types.GroupEventGraduated, s.actor, orphanID)
	if err != nil {
		return true, fmt.Errorf("claim succeeded but failed to record event: %w", err)
	}
	return true, nil
}

// SetWorkItem records the sink's work-item id on a claimed Orphan and
// clears the creation right. Conditional on the id still being unset so
// a racing retry cannot overwrite the recorded id.
func (s *SQLiteStorage) SetWorkItem(ctx context.Context, orphanID, workItemID string) (bool, error) {
	if workItemID == "" {
		return false, &types.ValidationError{Field: "work_item_id", Reason: "is required"}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE orphans SET work_item_id = ?, work_item_pending = 0, last_updated_at = ?
		WHERE id = ? AND graduated_at IS NOT NULL AND work_item_id IS NULL
	`, workItemID, time.Now().UTC(), orphanID)
	if err != nil {
		return false, fmt.Errorf("failed to set work item: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO group_events (orphan_id, signature, event_type, actor, detail)
		SELECT id, signature, ?, ?, ? FROM orphans WHERE id = ?
	`, types.GroupEventWorkItemSet, s.actor, "work item "+workItemID, orphanID)
	if err != nil {
		return true, fmt.Errorf("work item recorded but failed to record event: %w", err)
	}
	return true, nil
}

// TryClaimWorkItem takes the work-item creation right on a graduated
// Orphan whose id was never recorded (the sink failed after the
// graduation claim and the right was released). Exactly one concurrent
// retrier gets true and re-attempts sink creation; everyone else gets
// false and should wait for the recorded id instead of calling the
// sink.
func (s *SQLiteStorage) TryClaimWorkItem(ctx context.Context, orphanID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orphans SET work_item_pending = 1, last_updated_at = ?
		WHERE id = ? AND graduated_at IS NOT NULL AND work_item_id IS NULL AND work_item_pending = 0
	`, time.Now().UTC(), orphanID)
	if err != nil {
		return false, fmt.Errorf("failed to claim work item creation: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// ReleaseWorkItemClaim gives the creation right back after a failed
// sink call so a later retry can claim it. Conditional on the id still
// being unset; a successful SetWorkItem already cleared the marker.
func (s *SQLiteStorage) ReleaseWorkItemClaim(ctx context.Context, orphanID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orphans SET work_item_pending = 0, last_updated_at = ?
		WHERE id = ? AND work_item_id IS NULL
	`, time.Now().UTC(), orphanID)
	if err != nil {
		return fmt.Errorf("failed to release work item claim: %w", err)
	}
	return nil
}

// RecordEquivalence persists a signature equivalence pair. Upserts on
// from_signature so re-registration and reviewer re-pointing are safe.
func (s *SQLiteStorage) RecordEquivalence(ctx context.Context, from, to string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signature_equivalences (from_signature, to_signature, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(from_signature) DO UPDATE SET to_signature = excluded.to_signature
	`, from, to, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record equivalence: %w", err)
	}
	return nil
}

// ListEquivalences returns all persisted equivalence pairs keyed by
// from_signature
func (s *SQLiteStorage) ListEquivalences(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT from_signature, to_signature FROM signature_equivalences`)
	if err != nil {
		return nil, fmt.Errorf("failed to list equivalences: %w", err)
	}
	defer rows.Close()

	pairs := make(map[string]string)
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, fmt.Errorf("failed to scan equivalence: %w", err)
		}
		pairs[from] = to
	}
	return pairs, rows.Err()
}

// ListOrphans returns groups matching the filter, newest first
func (s *SQLiteStorage) ListOrphans(ctx context.Context, filter types.OrphanFilter) ([]*types.Orphan, error) {
	query := `
		SELECT o.id FROM orphans o
		LEFT JOIN orphan_conversations oc ON oc.orphan_id = o.id
	`
	where := ""
	if filter.Graduated != nil {
		if *filter.Graduated {
			where = "WHERE o.graduated_at IS NOT NULL"
		} else {
			where = "WHERE o.graduated_at IS NULL"
		}
	}
	query += where + `
		GROUP BY o.id
		HAVING COUNT(oc.conversation_id) >= ?
		ORDER BY o.last_updated_at DESC
	`
	args := []interface{}{filter.MinSize}
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphans: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan orphan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	orphans := make([]*types.Orphan, 0, len(ids))
	for _, id := range ids {
		o, err := s.GetOrphan(ctx, id)
		if err != nil {
			return nil, err
		}
		if o != nil {
			orphans = append(orphans, o)
		}
	}
	return orphans, nil
}

// GetGroupEvents returns the audit trail for a group, oldest first
func (s *SQLiteStorage) GetGroupEvents(ctx context.Context, orphanID string, limit int) ([]*types.GroupEvent, error) {
	query := `
		SELECT id, orphan_id, signature, event_type, actor, COALESCE(detail, ''), created_at
		FROM group_events
		WHERE orphan_id = ?
		ORDER BY id ASC
	`
	args := []interface{}{orphanID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get group events: %w", err)
	}
	defer rows.Close()

	var events []*types.GroupEvent
	for rows.Next() {
		var e types.GroupEvent
		if err := rows.Scan(&e.ID, &e.OrphanID, &e.Signature, &e.EventType, &e.Actor, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// GetStatistics returns aggregate metrics over the group store
func (s *SQLiteStorage) GetStatistics(ctx context.Context) (*types.Statistics, error) {
	var stats types.Statistics
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN graduated_at IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN graduated_at IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM orphans
	`).Scan(&stats.TotalGroups, &stats.ActiveGroups, &stats.GraduatedGroups)
	if err != nil {
		return nil, fmt.Errorf("failed to get group counts: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(cnt), 0) FROM (
			SELECT COUNT(*) AS cnt FROM orphan_conversations GROUP BY orphan_id
		)
	`).Scan(&stats.LargestGroupSize)
	if err != nil {
		return nil, fmt.Errorf("failed to get member stats: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orphan_conversations`).Scan(&stats.TotalMembers)
	if err != nil {
		return nil, fmt.Errorf("failed to count members: %w", err)
	}

	return &stats, nil
}

func (s *SQLiteStorage) recordEventConn(ctx context.Context, conn *sql.Conn, orphanID, signature string, eventType types.GroupEventType, detail string) error {
	_, err := conn.ExecContext(ctx, `
		INSERT INTO group_events (orphan_id, signature, event_type, actor, detail)
		VALUES (?, ?, ?, ?, ?)
	`, orphanID, signature, eventType, s.actor, detail)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
