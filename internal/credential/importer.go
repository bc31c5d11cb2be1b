package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "credpool-go/internal/errors"
	"credpool-go/internal/monitoring/tracing"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Candidate is one raw credential offered to the bulk import pipeline.
type Candidate struct {
	Raw       string     `json:"value"`
	SubConfig *SubConfig `json:"sub_config,omitempty"`
}

// ImportOutcome describes what happened to one candidate, by input position.
type ImportOutcome struct {
	Index  int            `json:"index"`
	ID     string         `json:"id,omitempty"`
	Kind   apperrors.Kind `json:"kind,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

// ImportReport is the full classification of an import round. Rejected
// candidates are never persisted; quota-exceeded ones are persisted directly
// in the exhausted state so the revalidation sweeper can reclaim them.
type ImportReport struct {
	Accepted      []ImportOutcome `json:"accepted"`
	QuotaExceeded []ImportOutcome `json:"quota_exceeded"`
	Rejected      []ImportOutcome `json:"rejected"`
}

// Counts returns (accepted, quotaExceeded, rejected).
func (r *ImportReport) Counts() (int, int, int) {
	return len(r.Accepted), len(r.QuotaExceeded), len(r.Rejected)
}

type probedCandidate struct {
	index  int
	raw    string
	sub    *SubConfig
	result ProbeResult
}

// Import runs the bulk import pipeline: synchronous format validation, then
// concurrent live probing of the survivors, then one atomic batch insert of
// everything that passed or is quota-limited. Priorities are assigned in
// input order starting after the pool's current maximum, so the first line
// imported gets the best priority among the newcomers.
//
// Only a failure of the batch insert itself aborts the operation; every
// per-candidate failure is classified and reported instead.
func (p *Pool) Import(ctx context.Context, ownerID string, provider Provider, candidates []Candidate) (*ImportReport, error) {
	ctx, span := tracing.StartSpan(ctx, "credential", "pool.import")
	defer span.End()

	report := &ImportReport{
		Accepted:      []ImportOutcome{},
		QuotaExceeded: []ImportOutcome{},
		Rejected:      []ImportOutcome{},
	}
	if len(candidates) == 0 {
		return report, nil
	}

	// Stage 1: cheap syntactic checks, no I/O. Failures are terminal for the
	// candidate; no probe is attempted.
	survivors := make([]probedCandidate, 0, len(candidates))
	for i, cand := range candidates {
		if err := ValidateFormat(provider, cand.Raw, cand.SubConfig); err != nil {
			report.Rejected = append(report.Rejected, ImportOutcome{
				Index:  i,
				Kind:   apperrors.KindFormatInvalid,
				Reason: err.Error(),
			})
			continue
		}
		survivors = append(survivors, probedCandidate{index: i, raw: cand.Raw, sub: cand.SubConfig})
	}

	// Stage 2: live probes, bounded fan-out. Each candidate is independent,
	// so ordering does not matter here; results are re-sorted by index below.
	p.probeAll(ctx, provider, survivors)

	// Stage 3: classify and stage records. Input order drives priority.
	base, err := p.store.MaxPriority(ctx, ownerID, provider)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	staged := make([]*Record, 0, len(survivors))
	for _, pc := range survivors {
		outcome := ImportOutcome{Index: pc.index, Reason: pc.result.Message, Kind: pc.result.Kind}

		if !pc.result.Valid && pc.result.Kind != apperrors.KindQuotaExceeded {
			report.Rejected = append(report.Rejected, outcome)
			continue
		}

		ciphertext, err := p.cipher.Encrypt(pc.raw, ownerID)
		if err != nil {
			outcome.Kind = apperrors.KindEncryptionFailure
			outcome.Reason = err.Error()
			report.Rejected = append(report.Rejected, outcome)
			continue
		}

		base++
		rec := &Record{
			ID:               uuid.NewString(),
			OwnerID:          ownerID,
			Provider:         provider,
			Ciphertext:       ciphertext,
			Priority:         base,
			State:            StateActive,
			LastTransitionAt: now,
			CreatedAt:        now,
			SubConfig:        pc.sub,
			Diagnostics: &Diagnostics{
				Message:   pc.result.Message,
				Kind:      string(pc.result.Kind),
				CheckedAt: now,
			},
		}
		outcome.ID = rec.ID

		if pc.result.Valid {
			report.Accepted = append(report.Accepted, outcome)
		} else {
			// Valid-but-rate-limited keys usually recover at the daily quota
			// reset; persisting them exhausted hands them to the sweeper
			// instead of forcing the user to re-enter them.
			rec.State = StateExhausted
			report.QuotaExceeded = append(report.QuotaExceeded, outcome)
		}
		staged = append(staged, rec)
	}

	if len(staged) > 0 {
		if err := p.store.InsertBatch(ctx, staged); err != nil {
			return nil, fmt.Errorf("batch insert failed: %w", err)
		}
	}

	accepted, quota, rejected := report.Counts()
	log.WithFields(log.Fields{
		"owner":          ownerID,
		"provider":       provider,
		"accepted":       accepted,
		"quota_exceeded": quota,
		"rejected":       rejected,
	}).Info("bulk import completed")
	p.publish(ctx, "imported", fmt.Sprintf("%d records", len(staged)))
	return report, nil
}

// probeAll fans the surviving candidates out over a bounded worker pool and
// writes each probe result back into the slice.
func (p *Pool) probeAll(ctx context.Context, provider Provider, survivors []probedCandidate) {
	if len(survivors) == 0 {
		return
	}
	sem := make(chan struct{}, p.importConc)
	var wg sync.WaitGroup
	for i := range survivors {
		wg.Add(1)
		go func(pc *probedCandidate) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			result, err := p.probeOnce(ctx, provider, pc.raw, pc.sub)
			if err != nil {
				result = ProbeResult{Valid: false, Kind: apperrors.KindTransient, Message: err.Error()}
			}
			pc.result = result
		}(&survivors[i])
	}
	wg.Wait()
}

// probeOnce applies the shared probe policy: rate smoothing, a mandatory
// per-probe timeout, and panic containment so one misbehaving probe can never
// take down a batch. A non-nil error means the probe could not be invoked at
// all, as opposed to a probe that ran and classified the credential.
func (p *Pool) probeOnce(ctx context.Context, provider Provider, plaintext string, sub *SubConfig) (result ProbeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panic: %v", r)
		}
	}()

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return ProbeResult{}, err
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()
	return p.prober.Probe(probeCtx, provider, plaintext, sub), nil
}
