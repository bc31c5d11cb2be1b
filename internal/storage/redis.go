package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"credpool-go/internal/credential"
	apperrors "credpool-go/internal/errors"

	"github.com/redis/go-redis/v9"
	"github.com/tidwall/sjson"
)

// RedisStore persists records as JSON values with per-pool index sets. Batch
// inserts go through a MULTI/EXEC pipeline so they land atomically; single
// record transitions are read-modify-write, last-write-wins.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(addr, password string, db int, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "credpool:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisStoreWithClient wraps an existing client; used by tests.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "credpool:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) Initialize(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *RedisStore) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) credKey(id string) string { return r.prefix + "cred:" + id }

func (r *RedisStore) poolKey(ownerID string, provider credential.Provider) string {
	return r.prefix + "pool:" + ownerID + ":" + string(provider)
}

func (r *RedisStore) idsKey() string { return r.prefix + "ids" }

// storableRecord mirrors credential.Record but serializes the ciphertext,
// which the public JSON shape deliberately omits.
type storableRecord struct {
	credential.Record
	Ciphertext string `json:"ciphertext"`
}

func encodeRecord(rec *credential.Record) ([]byte, error) {
	return json.Marshal(storableRecord{Record: *rec, Ciphertext: rec.Ciphertext})
}

func decodeRecord(data []byte) (*credential.Record, error) {
	var sr storableRecord
	if err := json.Unmarshal(data, &sr); err != nil {
		return nil, err
	}
	rec := sr.Record
	rec.Ciphertext = sr.Ciphertext
	return &rec, nil
}

func (r *RedisStore) InsertBatch(ctx context.Context, records []*credential.Record) error {
	if len(records) == 0 {
		return nil
	}
	for _, rec := range records {
		exists, err := r.client.Exists(ctx, r.credKey(rec.ID)).Result()
		if err != nil {
			return fmt.Errorf("check credential %s: %w", rec.ID, err)
		}
		if exists > 0 {
			return apperrors.Ef(apperrors.KindInternal, "duplicate record id %s", rec.ID)
		}
	}

	pipe := r.client.TxPipeline()
	for _, rec := range records {
		payload, err := encodeRecord(rec)
		if err != nil {
			return fmt.Errorf("encode credential %s: %w", rec.ID, err)
		}
		pipe.Set(ctx, r.credKey(rec.ID), payload, 0)
		pipe.SAdd(ctx, r.poolKey(rec.OwnerID, rec.Provider), rec.ID)
		pipe.SAdd(ctx, r.idsKey(), rec.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("batch insert: %w", err)
	}
	return nil
}

func (r *RedisStore) getByID(ctx context.Context, id string) (*credential.Record, error) {
	data, err := r.client.Get(ctx, r.credKey(id)).Bytes()
	if err == redis.Nil {
		return nil, apperrors.Ef(apperrors.KindNotFound, "credential %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(data)
}

func (r *RedisStore) save(ctx context.Context, rec *credential.Record) error {
	payload, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("encode credential %s: %w", rec.ID, err)
	}
	return r.client.Set(ctx, r.credKey(rec.ID), payload, 0).Err()
}

func (r *RedisStore) Get(ctx context.Context, ownerID, id string) (*credential.Record, error) {
	rec, err := r.getByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.OwnerID != ownerID {
		return nil, apperrors.Ef(apperrors.KindNotFound, "credential %s not found", id)
	}
	return rec, nil
}

func (r *RedisStore) Delete(ctx context.Context, ownerID, id string) error {
	rec, err := r.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.credKey(id))
	pipe.SRem(ctx, r.poolKey(rec.OwnerID, rec.Provider), id)
	pipe.SRem(ctx, r.idsKey(), id)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) listPool(ctx context.Context, ownerID string, provider credential.Provider) ([]*credential.Record, error) {
	ids, err := r.client.SMembers(ctx, r.poolKey(ownerID, provider)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*credential.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := r.getByID(ctx, id)
		if err != nil {
			if apperrors.IsKind(err, apperrors.KindNotFound) {
				continue // index entry outlived its record
			}
			return nil, err
		}
		out = append(out, rec)
	}
	sortByPriority(out)
	return out, nil
}

func (r *RedisStore) List(ctx context.Context, ownerID string, provider credential.Provider) ([]*credential.Record, error) {
	return r.listPool(ctx, ownerID, provider)
}

func (r *RedisStore) ListActive(ctx context.Context, ownerID string, provider credential.Provider) ([]*credential.Record, error) {
	all, err := r.listPool(ctx, ownerID, provider)
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

func (r *RedisStore) CountByProvider(ctx context.Context, ownerID string, provider credential.Provider) (int, error) {
	n, err := r.client.SCard(ctx, r.poolKey(ownerID, provider)).Result()
	return int(n), err
}

func (r *RedisStore) MarkExhausted(ctx context.Context, id string, diag *credential.Diagnostics) error {
	rec, err := r.getByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.State == credential.StateExhausted {
		return r.patchDiagnostics(ctx, id, diag)
	}
	rec.State = credential.StateExhausted
	rec.IsCurrent = false
	rec.LastTransitionAt = time.Now().UTC()
	rec.Diagnostics = diag
	return r.save(ctx, rec)
}

func (r *RedisStore) MarkActive(ctx context.Context, id string, diag *credential.Diagnostics) error {
	rec, err := r.getByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.State == credential.StateActive {
		return r.patchDiagnostics(ctx, id, diag)
	}
	rec.State = credential.StateActive
	rec.LastTransitionAt = time.Now().UTC()
	rec.Diagnostics = diag
	return r.save(ctx, rec)
}

// patchDiagnostics rewrites only the diagnostics field in the stored JSON,
// leaving the transition timestamp untouched.
func (r *RedisStore) patchDiagnostics(ctx context.Context, id string, diag *credential.Diagnostics) error {
	data, err := r.client.Get(ctx, r.credKey(id)).Bytes()
	if err == redis.Nil {
		return apperrors.Ef(apperrors.KindNotFound, "credential %s not found", id)
	}
	if err != nil {
		return err
	}
	patched, err := sjson.SetBytes(data, "diagnostics", diag)
	if err != nil {
		return fmt.Errorf("patch diagnostics %s: %w", id, err)
	}
	return r.client.Set(ctx, r.credKey(id), patched, 0).Err()
}

func (r *RedisStore) RefreshDiagnostics(ctx context.Context, id string, diag *credential.Diagnostics) error {
	return r.patchDiagnostics(ctx, id, diag)
}

func (r *RedisStore) MarkUsed(ctx context.Context, id string) error {
	rec, err := r.getByID(ctx, id)
	if err != nil {
		return err
	}
	siblings, err := r.listPool(ctx, rec.OwnerID, rec.Provider)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	pipe := r.client.TxPipeline()
	for _, sib := range siblings {
		if sib.ID == id {
			sib.IsCurrent = true
			sib.LastUsedAt = &now
		} else if sib.IsCurrent {
			sib.IsCurrent = false
		} else {
			continue
		}
		payload, err := encodeRecord(sib)
		if err != nil {
			return fmt.Errorf("encode credential %s: %w", sib.ID, err)
		}
		pipe.Set(ctx, r.credKey(sib.ID), payload, 0)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) UpdatePriority(ctx context.Context, ownerID, id string, priority int) error {
	rec, err := r.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	rec.Priority = priority
	return r.save(ctx, rec)
}

func (r *RedisStore) MaxPriority(ctx context.Context, ownerID string, provider credential.Provider) (int, error) {
	records, err := r.listPool(ctx, ownerID, provider)
	if err != nil {
		return 0, err
	}
	max := 0
	for _, rec := range records {
		if rec.Priority > max {
			max = rec.Priority
		}
	}
	return max, nil
}

func (r *RedisStore) ListExhaustedBefore(ctx context.Context, cutoff time.Time) ([]*credential.Record, error) {
	ids, err := r.client.SMembers(ctx, r.idsKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*credential.Record, 0)
	for _, id := range ids {
		rec, err := r.getByID(ctx, id)
		if err != nil {
			if apperrors.IsKind(err, apperrors.KindNotFound) {
				continue
			}
			return nil, err
		}
		if rec.State == credential.StateExhausted && rec.LastTransitionAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	sortByPriority(out)
	return out, nil
}
