package credential

import (
	"context"
	"time"
)

// Store is the persistence contract for credential records. Implementations
// live in internal/storage. All operations besides ListExhaustedBefore are
// scoped to one (owner, provider) pool; the state transitions are keyed by
// the globally unique record id.
//
// Transition semantics implementations must honour:
//   - MarkExhausted on an already-exhausted record is a no-op: the first
//     exhaustion's LastTransitionAt wins, so the cooldown clock is not
//     extended by repeated failure reports.
//   - MarkActive and a *first* MarkExhausted set LastTransitionAt to now.
//   - RefreshDiagnostics never touches LastTransitionAt.
//   - InsertBatch is atomic: all records persist or none do.
type Store interface {
	Initialize(ctx context.Context) error
	Close() error
	Health(ctx context.Context) error

	InsertBatch(ctx context.Context, records []*Record) error
	Get(ctx context.Context, ownerID, id string) (*Record, error)
	Delete(ctx context.Context, ownerID, id string) error
	List(ctx context.Context, ownerID string, provider Provider) ([]*Record, error)

	// ListActive returns active records ordered by priority ascending, id
	// ascending as tiebreak. The ordering is deterministic across calls
	// against an unchanged pool.
	ListActive(ctx context.Context, ownerID string, provider Provider) ([]*Record, error)
	CountByProvider(ctx context.Context, ownerID string, provider Provider) (int, error)

	MarkExhausted(ctx context.Context, id string, diag *Diagnostics) error
	MarkActive(ctx context.Context, id string, diag *Diagnostics) error
	RefreshDiagnostics(ctx context.Context, id string, diag *Diagnostics) error

	// MarkUsed updates LastUsedAt and moves the advisory IsCurrent marker to
	// this record within its pool. Best effort; never read by selection.
	MarkUsed(ctx context.Context, id string) error

	// UpdatePriority re-orders an existing record. Deliberately separate from
	// insertion so re-ordering never re-encrypts or duplicates secrets.
	UpdatePriority(ctx context.Context, ownerID, id string, priority int) error

	// MaxPriority returns the highest priority value currently present in the
	// pool (0 when empty); bulk import appends after it.
	MaxPriority(ctx context.Context, ownerID string, provider Provider) (int, error)

	// ListExhaustedBefore returns every exhausted record, across owners,
	// whose LastTransitionAt is older than cutoff.
	ListExhaustedBefore(ctx context.Context, cutoff time.Time) ([]*Record, error)
}
