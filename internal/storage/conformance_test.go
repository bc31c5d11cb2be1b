package storage

import (
	"context"
	"testing"
	"time"

	"credpool-go/internal/credential"
	apperrors "credpool-go/internal/errors"

	"github.com/stretchr/testify/require"
)

// newRecord builds a minimal active record for store tests.
func newRecord(id, owner string, provider credential.Provider, priority int) *credential.Record {
	now := time.Now().UTC()
	return &credential.Record{
		ID:               id,
		OwnerID:          owner,
		Provider:         provider,
		Ciphertext:       "c:" + id,
		Priority:         priority,
		State:            credential.StateActive,
		LastTransitionAt: now,
		CreatedAt:        now,
	}
}

// runStoreConformance exercises the Store contract shared by every backend.
func runStoreConformance(t *testing.T, store credential.Store) {
	ctx := context.Background()

	t.Run("insert and owner-scoped get", func(t *testing.T) {
		rec := newRecord("conf-get", "owner-1", credential.ProviderGemini, 1)
		require.NoError(t, store.InsertBatch(ctx, []*credential.Record{rec}))

		got, err := store.Get(ctx, "owner-1", "conf-get")
		require.NoError(t, err)
		require.Equal(t, rec.Ciphertext, got.Ciphertext)

		_, err = store.Get(ctx, "owner-2", "conf-get")
		require.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

		require.NoError(t, store.Delete(ctx, "owner-1", "conf-get"))
		_, err = store.Get(ctx, "owner-1", "conf-get")
		require.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
	})

	t.Run("batch insert is all or nothing", func(t *testing.T) {
		require.NoError(t, store.InsertBatch(ctx, []*credential.Record{
			newRecord("conf-dup", "owner-1", credential.ProviderGemini, 1),
		}))
		err := store.InsertBatch(ctx, []*credential.Record{
			newRecord("conf-new", "owner-1", credential.ProviderGemini, 2),
			newRecord("conf-dup", "owner-1", credential.ProviderGemini, 3),
		})
		require.Error(t, err)

		_, err = store.Get(ctx, "owner-1", "conf-new")
		require.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err), "failed batch must not leave partial writes")
		require.NoError(t, store.Delete(ctx, "owner-1", "conf-dup"))
	})

	t.Run("list active orders by priority then id", func(t *testing.T) {
		records := []*credential.Record{
			newRecord("conf-ord-c", "owner-ord", credential.ProviderOpenAI, 2),
			newRecord("conf-ord-b", "owner-ord", credential.ProviderOpenAI, 1),
			newRecord("conf-ord-a", "owner-ord", credential.ProviderOpenAI, 2),
		}
		exhausted := newRecord("conf-ord-x", "owner-ord", credential.ProviderOpenAI, 1)
		exhausted.State = credential.StateExhausted
		require.NoError(t, store.InsertBatch(ctx, append(records, exhausted)))

		active, err := store.ListActive(ctx, "owner-ord", credential.ProviderOpenAI)
		require.NoError(t, err)
		ids := make([]string, 0, len(active))
		for _, rec := range active {
			ids = append(ids, rec.ID)
		}
		require.Equal(t, []string{"conf-ord-b", "conf-ord-a", "conf-ord-c"}, ids)

		total, err := store.CountByProvider(ctx, "owner-ord", credential.ProviderOpenAI)
		require.NoError(t, err)
		require.Equal(t, 4, total)
	})

	t.Run("state transitions keep first exhaustion time", func(t *testing.T) {
		rec := newRecord("conf-state", "owner-1", credential.ProviderDeepSeek, 1)
		require.NoError(t, store.InsertBatch(ctx, []*credential.Record{rec}))

		diag := &credential.Diagnostics{Message: "quota", Kind: "quota_exceeded", CheckedAt: time.Now().UTC()}
		require.NoError(t, store.MarkExhausted(ctx, "conf-state", diag))

		first, err := store.Get(ctx, "owner-1", "conf-state")
		require.NoError(t, err)
		require.Equal(t, credential.StateExhausted, first.State)

		time.Sleep(10 * time.Millisecond)
		again := &credential.Diagnostics{Message: "quota again", Kind: "quota_exceeded", CheckedAt: time.Now().UTC()}
		require.NoError(t, store.MarkExhausted(ctx, "conf-state", again))

		second, err := store.Get(ctx, "owner-1", "conf-state")
		require.NoError(t, err)
		require.True(t, second.LastTransitionAt.Equal(first.LastTransitionAt))
		require.Equal(t, "quota again", second.Diagnostics.Message)

		require.NoError(t, store.MarkActive(ctx, "conf-state", &credential.Diagnostics{Message: "ok"}))
		restored, err := store.Get(ctx, "owner-1", "conf-state")
		require.NoError(t, err)
		require.Equal(t, credential.StateActive, restored.State)
		require.True(t, restored.LastTransitionAt.After(first.LastTransitionAt))
	})

	t.Run("refresh diagnostics never moves transition time", func(t *testing.T) {
		rec := newRecord("conf-diag", "owner-1", credential.ProviderDeepSeek, 1)
		rec.State = credential.StateExhausted
		require.NoError(t, store.InsertBatch(ctx, []*credential.Record{rec}))

		before, err := store.Get(ctx, "owner-1", "conf-diag")
		require.NoError(t, err)

		time.Sleep(10 * time.Millisecond)
		require.NoError(t, store.RefreshDiagnostics(ctx, "conf-diag", &credential.Diagnostics{Message: "retried"}))

		after, err := store.Get(ctx, "owner-1", "conf-diag")
		require.NoError(t, err)
		require.True(t, after.LastTransitionAt.Equal(before.LastTransitionAt))
		require.Equal(t, "retried", after.Diagnostics.Message)
	})

	t.Run("mark used moves the current marker", func(t *testing.T) {
		a := newRecord("conf-used-a", "owner-used", credential.ProviderAnthropic, 1)
		a.IsCurrent = true
		b := newRecord("conf-used-b", "owner-used", credential.ProviderAnthropic, 2)
		require.NoError(t, store.InsertBatch(ctx, []*credential.Record{a, b}))

		require.NoError(t, store.MarkUsed(ctx, "conf-used-b"))

		gotA, err := store.Get(ctx, "owner-used", "conf-used-a")
		require.NoError(t, err)
		require.False(t, gotA.IsCurrent)

		gotB, err := store.Get(ctx, "owner-used", "conf-used-b")
		require.NoError(t, err)
		require.True(t, gotB.IsCurrent)
		require.NotNil(t, gotB.LastUsedAt)
	})

	t.Run("priority updates and max priority", func(t *testing.T) {
		rec := newRecord("conf-prio", "owner-prio", credential.ProviderScraperAPI, 7)
		require.NoError(t, store.InsertBatch(ctx, []*credential.Record{rec}))

		max, err := store.MaxPriority(ctx, "owner-prio", credential.ProviderScraperAPI)
		require.NoError(t, err)
		require.Equal(t, 7, max)

		require.NoError(t, store.UpdatePriority(ctx, "owner-prio", "conf-prio", 2))
		got, err := store.Get(ctx, "owner-prio", "conf-prio")
		require.NoError(t, err)
		require.Equal(t, 2, got.Priority)
		require.Equal(t, rec.Ciphertext, got.Ciphertext, "priority update must not touch ciphertext")

		err = store.UpdatePriority(ctx, "other-owner", "conf-prio", 3)
		require.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

		max, err = store.MaxPriority(ctx, "owner-prio", credential.ProviderYouTube)
		require.NoError(t, err)
		require.Zero(t, max, "empty pool has max priority zero")
	})

	t.Run("list exhausted before cutoff crosses owners", func(t *testing.T) {
		old := newRecord("conf-sweep-old", "owner-s1", credential.ProviderYouTube, 1)
		old.State = credential.StateExhausted
		old.LastTransitionAt = time.Now().UTC().Add(-2 * time.Hour)
		fresh := newRecord("conf-sweep-new", "owner-s2", credential.ProviderYouTube, 1)
		fresh.State = credential.StateExhausted
		require.NoError(t, store.InsertBatch(ctx, []*credential.Record{old, fresh}))

		due, err := store.ListExhaustedBefore(ctx, time.Now().UTC().Add(-time.Hour))
		require.NoError(t, err)
		ids := make([]string, 0, len(due))
		for _, rec := range due {
			ids = append(ids, rec.ID)
		}
		require.Contains(t, ids, "conf-sweep-old")
		require.NotContains(t, ids, "conf-sweep-new")
	})
}
