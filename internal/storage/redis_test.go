package storage

import (
	"context"
	"testing"

	"credpool-go/internal/credential"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newMiniredisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreWithClient(client, "credpool-test:")
}

func TestRedisStoreConformance(t *testing.T) {
	store := newMiniredisStore(t)
	require.NoError(t, store.Initialize(context.Background()))
	runStoreConformance(t, store)
}

func TestRedisStoreSurvivesDanglingIndexEntries(t *testing.T) {
	store := newMiniredisStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertBatch(ctx, []*credential.Record{
		newRecord("redis-a", "owner-1", credential.ProviderGemini, 1),
		newRecord("redis-b", "owner-1", credential.ProviderGemini, 2),
	}))

	// Simulate a record value lost while its index entry remains.
	require.NoError(t, store.client.Del(ctx, store.credKey("redis-a")).Err())

	records, err := store.List(ctx, "owner-1", credential.ProviderGemini)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "redis-b", records[0].ID)
}

func TestRedisStoreRoundTripsDiagnosticsAndSubConfig(t *testing.T) {
	store := newMiniredisStore(t)
	ctx := context.Background()

	rec := newRecord("redis-full", "owner-1", credential.ProviderVertex, 1)
	rec.SubConfig = &credential.SubConfig{ProjectID: "proj", Region: "europe-west4"}
	rec.Diagnostics = &credential.Diagnostics{
		Message: "ok", Kind: "", Revalidated: 2, History: []string{"quota", "ok"},
	}
	require.NoError(t, store.InsertBatch(ctx, []*credential.Record{rec}))

	got, err := store.Get(ctx, "owner-1", "redis-full")
	require.NoError(t, err)
	require.Equal(t, rec.Ciphertext, got.Ciphertext)
	require.Equal(t, "proj", got.SubConfig.ProjectID)
	require.Equal(t, 2, got.Diagnostics.Revalidated)
	require.Equal(t, []string{"quota", "ok"}, got.Diagnostics.History)
}
