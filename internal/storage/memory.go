package storage

import (
	"context"
	"sync"
	"time"

	"credpool-go/internal/credential"
	apperrors "credpool-go/internal/errors"
)

// MemoryStore is a mutex-guarded in-process store. It backs tests and local
// development and doubles as the reference semantics for the other backends.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*credential.Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*credential.Record)}
}

func (m *MemoryStore) Initialize(ctx context.Context) error { return nil }
func (m *MemoryStore) Close() error                         { return nil }
func (m *MemoryStore) Health(ctx context.Context) error     { return nil }

// InsertBatch stores all records or none. Duplicate ids fail the whole batch
// before any mutation happens.
func (m *MemoryStore) InsertBatch(ctx context.Context, records []*credential.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range records {
		if rec == nil || rec.ID == "" {
			return apperrors.E(apperrors.KindInternal, "record without id in batch")
		}
		if _, exists := m.records[rec.ID]; exists {
			return apperrors.Ef(apperrors.KindInternal, "duplicate record id %s", rec.ID)
		}
	}
	for _, rec := range records {
		m.records[rec.ID] = rec.Clone()
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, ownerID, id string) (*credential.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok || rec.OwnerID != ownerID {
		return nil, apperrors.Ef(apperrors.KindNotFound, "credential %s not found", id)
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) Delete(ctx context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok || rec.OwnerID != ownerID {
		return apperrors.Ef(apperrors.KindNotFound, "credential %s not found", id)
	}
	delete(m.records, id)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, ownerID string, provider credential.Provider) ([]*credential.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*credential.Record, 0)
	for _, rec := range m.records {
		if rec.OwnerID == ownerID && rec.Provider == provider {
			out = append(out, rec.Clone())
		}
	}
	sortByPriority(out)
	return out, nil
}

func (m *MemoryStore) ListActive(ctx context.Context, ownerID string, provider credential.Provider) ([]*credential.Record, error) {
	all, err := m.List(ctx, ownerID, provider)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, rec := range all {
		if rec.State == credential.StateActive {
			active = append(active, rec)
		}
	}
	return active, nil
}

func (m *MemoryStore) CountByProvider(ctx context.Context, ownerID string, provider credential.Provider) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, rec := range m.records {
		if rec.OwnerID == ownerID && rec.Provider == provider {
			count++
		}
	}
	return count, nil
}

// MarkExhausted flips an active record to exhausted. Exhausting an already
// exhausted record refreshes diagnostics only: the first exhaustion's
// transition time wins so repeated failure reports cannot extend the
// cooldown clock.
func (m *MemoryStore) MarkExhausted(ctx context.Context, id string, diag *credential.Diagnostics) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return apperrors.Ef(apperrors.KindNotFound, "credential %s not found", id)
	}
	if rec.State == credential.StateExhausted {
		rec.Diagnostics = cloneDiag(diag)
		return nil
	}
	rec.State = credential.StateExhausted
	rec.IsCurrent = false
	rec.LastTransitionAt = time.Now().UTC()
	rec.Diagnostics = cloneDiag(diag)
	return nil
}

func (m *MemoryStore) MarkActive(ctx context.Context, id string, diag *credential.Diagnostics) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return apperrors.Ef(apperrors.KindNotFound, "credential %s not found", id)
	}
	if rec.State == credential.StateActive {
		rec.Diagnostics = cloneDiag(diag)
		return nil
	}
	rec.State = credential.StateActive
	rec.LastTransitionAt = time.Now().UTC()
	rec.Diagnostics = cloneDiag(diag)
	return nil
}

func (m *MemoryStore) RefreshDiagnostics(ctx context.Context, id string, diag *credential.Diagnostics) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return apperrors.Ef(apperrors.KindNotFound, "credential %s not found", id)
	}
	rec.Diagnostics = cloneDiag(diag)
	return nil
}

func (m *MemoryStore) MarkUsed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return apperrors.Ef(apperrors.KindNotFound, "credential %s not found", id)
	}
	now := time.Now().UTC()
	rec.LastUsedAt = &now
	rec.IsCurrent = true
	for _, other := range m.records {
		if other.ID != rec.ID && other.OwnerID == rec.OwnerID && other.Provider == rec.Provider {
			other.IsCurrent = false
		}
	}
	return nil
}

func (m *MemoryStore) UpdatePriority(ctx context.Context, ownerID, id string, priority int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok || rec.OwnerID != ownerID {
		return apperrors.Ef(apperrors.KindNotFound, "credential %s not found", id)
	}
	rec.Priority = priority
	return nil
}

func (m *MemoryStore) MaxPriority(ctx context.Context, ownerID string, provider credential.Provider) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	max := 0
	for _, rec := range m.records {
		if rec.OwnerID == ownerID && rec.Provider == provider && rec.Priority > max {
			max = rec.Priority
		}
	}
	return max, nil
}

func (m *MemoryStore) ListExhaustedBefore(ctx context.Context, cutoff time.Time) ([]*credential.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*credential.Record, 0)
	for _, rec := range m.records {
		if rec.State == credential.StateExhausted && rec.LastTransitionAt.Before(cutoff) {
			out = append(out, rec.Clone())
		}
	}
	sortByPriority(out)
	return out, nil
}

func cloneDiag(diag *credential.Diagnostics) *credential.Diagnostics {
	if diag == nil {
		return nil
	}
	d := *diag
	d.History = append([]string(nil), diag.History...)
	return &d
}
