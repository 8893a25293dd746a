package storage

import (
	"context"

	"github.com/coalesce-dev/coalesce/internal/storage/sqlite"
	"github.com/coalesce-dev/coalesce/internal/types"
)

// AddStatus describes what AddConversation did
type AddStatus = sqlite.AddStatus

const (
	// AddStatusAdded means the conversation became a new member
	AddStatusAdded = sqlite.AddStatusAdded
	// AddStatusAlreadyMember means the conversation id was already present
	AddStatusAlreadyMember = sqlite.AddStatusAlreadyMember
	// AddStatusGraduated means the group graduated before the append landed;
	// the caller should route to the work item instead
	AddStatusGraduated = sqlite.AddStatusGraduated
)

// Storage defines the interface for durable group storage backends.
// All mutating operations must be safe under concurrent callers
// targeting the same signature; correctness comes from conditional
// writes, never from application-level check-then-act.
type Storage interface {
	// Orphan groups
	CreateOrGetOrphan(ctx context.Context, signature, conversationID string, theme types.ExtractedTheme) (*types.Orphan, bool, error)
	GetOrphanBySignature(ctx context.Context, signature string) (*types.Orphan, error)
	GetOrphan(ctx context.Context, id string) (*types.Orphan, error)
	AddConversation(ctx context.Context, orphanID, conversationID string, theme types.ExtractedTheme) (*types.Orphan, AddStatus, error)
	ListOrphans(ctx context.Context, filter types.OrphanFilter) ([]*types.Orphan, error)

	// Graduation: TryClaimGraduation is a single conditional write that
	// succeeds for exactly one caller per orphan and takes the work-item
	// creation right with it; SetWorkItem records the sink's id and
	// clears the right. When a sink call fails after the claim, the
	// holder releases the right and a later retry re-takes it through
	// TryClaimWorkItem, again one winner per window.
	TryClaimGraduation(ctx context.Context, orphanID string) (bool, error)
	SetWorkItem(ctx context.Context, orphanID, workItemID string) (bool, error)
	TryClaimWorkItem(ctx context.Context, orphanID string) (bool, error)
	ReleaseWorkItemClaim(ctx context.Context, orphanID string) error

	// Signature equivalences
	RecordEquivalence(ctx context.Context, from, to string) error
	ListEquivalences(ctx context.Context) (map[string]string, error)

	// Audit trail & metrics
	GetGroupEvents(ctx context.Context, orphanID string, limit int) ([]*types.GroupEvent, error)
	GetStatistics(ctx context.Context) (*types.Statistics, error)

	// Lifecycle
	Close() error
}

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path
	// Default: ".coalesce/groups.db"
	Path string

	// Actor is recorded on audit events for mutations made through
	// this handle (e.g., an ingest worker's instance id)
	Actor string

	// MaxExcerpts bounds the excerpt sample kept per group
	MaxExcerpts int
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Path:        ".coalesce/groups.db",
		Actor:       "coalesce",
		MaxExcerpts: types.DefaultMaxExcerpts,
	}
}

// NewStorage creates a new SQLite storage backend
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		cfg.Path = ".coalesce/groups.db"
	}
	if cfg.MaxExcerpts <= 0 {
		cfg.MaxExcerpts = types.DefaultMaxExcerpts
	}
	return sqlite.New(cfg.Path, cfg.Actor, cfg.MaxExcerpts)
}
