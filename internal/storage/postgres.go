package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"credpool-go/internal/credential"
	apperrors "credpool-go/internal/errors"
	"credpool-go/internal/migrations"

	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

// PostgresStore persists records in PostgreSQL. Batch inserts run inside one
// transaction; state transitions are single-statement compare-and-set updates.
type PostgresStore struct {
	db *sql.DB
}

const pgTimeout = 5 * time.Second

func withPGTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, pgTimeout)
}

// NewPostgresStore opens a connection pool against the given DSN.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pgTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Info("Connected to PostgreSQL storage backend")
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Initialize(ctx context.Context) error {
	if err := migrations.PostgresUp(p.db); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	log.Info("PostgreSQL migrations applied")
	return nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Health(ctx context.Context) error {
	ctx, cancel := withPGTimeout(ctx)
	defer cancel()
	return p.db.PingContext(ctx)
}

const recordColumns = `id, owner_id, provider, ciphertext, priority, state, is_current,
	last_used_at, last_transition_at, created_at, diagnostics, sub_config`

func scanRecord(row interface{ Scan(...any) error }) (*credential.Record, error) {
	var rec credential.Record
	var provider, state string
	var lastUsed sql.NullTime
	var diagJSON, subJSON []byte

	err := row.Scan(&rec.ID, &rec.OwnerID, &provider, &rec.Ciphertext, &rec.Priority,
		&state, &rec.IsCurrent, &lastUsed, &rec.LastTransitionAt, &rec.CreatedAt,
		&diagJSON, &subJSON)
	if err != nil {
		return nil, err
	}
	rec.Provider = credential.Provider(provider)
	rec.State = credential.State(state)
	if lastUsed.Valid {
		t := lastUsed.Time
		rec.LastUsedAt = &t
	}
	if len(diagJSON) > 0 {
		var diag credential.Diagnostics
		if err := json.Unmarshal(diagJSON, &diag); err == nil {
			rec.Diagnostics = &diag
		}
	}
	if len(subJSON) > 0 {
		var sub credential.SubConfig
		if err := json.Unmarshal(subJSON, &sub); err == nil {
			rec.SubConfig = &sub
		}
	}
	return &rec, nil
}

func marshalJSONField(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func (p *PostgresStore) InsertBatch(ctx context.Context, records []*credential.Record) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := withPGTimeout(ctx)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch insert: %w", err)
	}
	defer tx.Rollback()

	const insert = `INSERT INTO credentials (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	for _, rec := range records {
		diagJSON, err := marshalJSONField(rec.Diagnostics)
		if err != nil {
			return fmt.Errorf("marshal diagnostics for %s: %w", rec.ID, err)
		}
		var subJSON []byte
		if rec.SubConfig != nil {
			if subJSON, err = json.Marshal(rec.SubConfig); err != nil {
				return fmt.Errorf("marshal sub-config for %s: %w", rec.ID, err)
			}
		}
		var lastUsed any
		if rec.LastUsedAt != nil {
			lastUsed = *rec.LastUsedAt
		}
		if _, err := tx.ExecContext(ctx, insert,
			rec.ID, rec.OwnerID, string(rec.Provider), rec.Ciphertext, rec.Priority,
			string(rec.State), rec.IsCurrent, lastUsed, rec.LastTransitionAt,
			rec.CreatedAt, diagJSON, subJSON); err != nil {
			return fmt.Errorf("insert credential %s: %w", rec.ID, err)
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) Get(ctx context.Context, ownerID, id string) (*credential.Record, error) {
	ctx, cancel := withPGTimeout(ctx)
	defer cancel()

	row := p.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM credentials WHERE id = $1 AND owner_id = $2`, id, ownerID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Ef(apperrors.KindNotFound, "credential %s not found", id)
	}
	return rec, err
}

func (p *PostgresStore) Delete(ctx context.Context, ownerID, id string) error {
	ctx, cancel := withPGTimeout(ctx)
	defer cancel()

	res, err := p.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete credential %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Ef(apperrors.KindNotFound, "credential %s not found", id)
	}
	return nil
}

func (p *PostgresStore) queryRecords(ctx context.Context, query string, args ...any) ([]*credential.Record, error) {
	ctx, cancel := withPGTimeout(ctx)
	defer cancel()

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*credential.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *PostgresStore) List(ctx context.Context, ownerID string, provider credential.Provider) ([]*credential.Record, error) {
	return p.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM credentials
		 WHERE owner_id = $1 AND provider = $2
		 ORDER BY priority ASC, id ASC`, ownerID, string(provider))
}

func (p *PostgresStore) ListActive(ctx context.Context, ownerID string, provider credential.Provider) ([]*credential.Record, error) {
	return p.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM credentials
		 WHERE owner_id = $1 AND provider = $2 AND state = 'active'
		 ORDER BY priority ASC, id ASC`, ownerID, string(provider))
}

func (p *PostgresStore) CountByProvider(ctx context.Context, ownerID string, provider credential.Provider) (int, error) {
	ctx, cancel := withPGTimeout(ctx)
	defer cancel()

	var count int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credentials WHERE owner_id = $1 AND provider = $2`,
		ownerID, string(provider)).Scan(&count)
	return count, err
}

func (p *PostgresStore) MarkExhausted(ctx context.Context, id string, diag *credential.Diagnostics) error {
	ctx, cancel := withPGTimeout(ctx)
	defer cancel()

	diagJSON, err := marshalJSONField(diag)
	if err != nil {
		return fmt.Errorf("marshal diagnostics: %w", err)
	}

	// Conditional on state so that re-exhausting keeps the original
	// transition timestamp: the cooldown clock must not be extended by
	// repeated failure reports.
	res, err := p.db.ExecContext(ctx,
		`UPDATE credentials
		 SET state = 'exhausted', is_current = FALSE, last_transition_at = NOW(), diagnostics = $2
		 WHERE id = $1 AND state = 'active'`, id, diagJSON)
	if err != nil {
		return fmt.Errorf("mark exhausted %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return p.refreshDiagnosticsChecked(ctx, id, diagJSON)
}

func (p *PostgresStore) MarkActive(ctx context.Context, id string, diag *credential.Diagnostics) error {
	ctx, cancel := withPGTimeout(ctx)
	defer cancel()

	diagJSON, err := marshalJSONField(diag)
	if err != nil {
		return fmt.Errorf("marshal diagnostics: %w", err)
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE credentials
		 SET state = 'active', last_transition_at = NOW(), diagnostics = $2
		 WHERE id = $1 AND state = 'exhausted'`, id, diagJSON)
	if err != nil {
		return fmt.Errorf("mark active %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	return p.refreshDiagnosticsChecked(ctx, id, diagJSON)
}

func (p *PostgresStore) RefreshDiagnostics(ctx context.Context, id string, diag *credential.Diagnostics) error {
	ctx, cancel := withPGTimeout(ctx)
	defer cancel()

	diagJSON, err := marshalJSONField(diag)
	if err != nil {
		return fmt.Errorf("marshal diagnostics: %w", err)
	}
	return p.refreshDiagnosticsChecked(ctx, id, diagJSON)
}

func (p *PostgresStore) refreshDiagnosticsChecked(ctx context.Context, id string, diagJSON []byte) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE credentials SET diagnostics = $2 WHERE id = $1`, id, diagJSON)
	if err != nil {
		return fmt.Errorf("refresh diagnostics %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Ef(apperrors.KindNotFound, "credential %s not found", id)
	}
	return nil
}

func (p *PostgresStore) MarkUsed(ctx context.Context, id string) error {
	ctx, cancel := withPGTimeout(ctx)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark used: %w", err)
	}
	defer tx.Rollback()

	var ownerID, provider string
	err = tx.QueryRowContext(ctx,
		`SELECT owner_id, provider FROM credentials WHERE id = $1`, id).Scan(&ownerID, &provider)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.Ef(apperrors.KindNotFound, "credential %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("mark used %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE credentials SET is_current = FALSE
		 WHERE owner_id = $1 AND provider = $2 AND id <> $3`, ownerID, provider, id); err != nil {
		return fmt.Errorf("clear current marker: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE credentials SET is_current = TRUE, last_used_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("set current marker: %w", err)
	}
	return tx.Commit()
}

func (p *PostgresStore) UpdatePriority(ctx context.Context, ownerID, id string, priority int) error {
	ctx, cancel := withPGTimeout(ctx)
	defer cancel()

	res, err := p.db.ExecContext(ctx,
		`UPDATE credentials SET priority = $3 WHERE id = $1 AND owner_id = $2`,
		id, ownerID, priority)
	if err != nil {
		return fmt.Errorf("update priority %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Ef(apperrors.KindNotFound, "credential %s not found", id)
	}
	return nil
}

func (p *PostgresStore) MaxPriority(ctx context.Context, ownerID string, provider credential.Provider) (int, error) {
	ctx, cancel := withPGTimeout(ctx)
	defer cancel()

	var max int
	err := p.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(priority), 0) FROM credentials WHERE owner_id = $1 AND provider = $2`,
		ownerID, string(provider)).Scan(&max)
	return max, err
}

func (p *PostgresStore) ListExhaustedBefore(ctx context.Context, cutoff time.Time) ([]*credential.Record, error) {
	return p.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM credentials
		 WHERE state = 'exhausted' AND last_transition_at < $1
		 ORDER BY priority ASC, id ASC`, cutoff)
}
