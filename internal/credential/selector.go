package credential

import (
	"context"
	"time"

	apperrors "credpool-go/internal/errors"
	"credpool-go/internal/events"

	log "github.com/sirupsen/logrus"
)

// ErrNoCredential is returned when a pool has no active record. Callers see
// the same error whether the pool is empty or fully exhausted; the
// remediation (add or restore a key) is identical. CountByProvider
// distinguishes the two for diagnostics.
var ErrNoCredential = apperrors.E(apperrors.KindNotFound, "no usable credential for this provider")

// Select returns the active record with the best priority for the pool, ties
// broken by id ascending. This is the hot path; it performs no probe, only a
// store read. The selector never loops: on failure the caller reports it and
// selects again, applying its own retry policy.
func (p *Pool) Select(ctx context.Context, ownerID string, provider Provider) (*Record, error) {
	records, err := p.store.ListActive(ctx, ownerID, provider)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNoCredential
	}
	return records[0], nil
}

// ReportFailure records the outcome of a failed use of a credential. Quota
// and auth failures exhaust the record; transient failures only refresh its
// diagnostics. The caller is expected to Select again immediately afterwards.
func (p *Pool) ReportFailure(ctx context.Context, id string, kind apperrors.Kind, message string) error {
	diag := &Diagnostics{
		Message:   message,
		Kind:      string(kind),
		CheckedAt: time.Now().UTC(),
	}
	diag.AppendHistory(message)

	if !kind.Terminal() {
		return p.store.RefreshDiagnostics(ctx, id, diag)
	}

	if err := p.store.MarkExhausted(ctx, id, diag); err != nil {
		return err
	}
	log.WithFields(log.Fields{"credential": id, "kind": kind}).Info("credential exhausted")
	p.publish(ctx, "exhausted", id)
	return nil
}

// ReportSuccess updates the advisory last-used marker after a credential was
// used successfully. Best effort: a failure here is logged, not surfaced,
// because it never affects selection correctness.
func (p *Pool) ReportSuccess(ctx context.Context, id string) {
	if err := p.store.MarkUsed(ctx, id); err != nil {
		log.WithError(err).WithField("credential", id).Warn("failed to record credential use")
	}
}

// Decrypt recovers the plaintext for a record, scoped to its owner. Exposed
// for consumers that hold a selected record and need the secret to call the
// real upstream; the plaintext must not outlive the call.
func (p *Pool) Decrypt(rec *Record) (string, error) {
	if rec == nil {
		return "", ErrNoCredential
	}
	return p.cipher.Decrypt(rec.Ciphertext, rec.OwnerID)
}

func (p *Pool) publish(ctx context.Context, action, id string) {
	if p.publisher == nil {
		return
	}
	p.publisher.Publish(ctx, events.TopicCredentialChanged, map[string]string{
		"action":     action,
		"credential": id,
	}, nil)
}
