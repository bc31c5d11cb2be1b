package credential

import (
	"context"
	"sync"
	"time"

	"credpool-go/internal/events"
	"credpool-go/internal/monitoring/tracing"

	log "github.com/sirupsen/logrus"
)

// SweepReport summarizes one revalidation pass.
type SweepReport struct {
	Scanned        int `json:"scanned"`
	Reactivated    int `json:"reactivated"`
	StillExhausted int `json:"still_exhausted"`
	Errors         int `json:"errors"`
}

// Sweep re-probes every exhausted record, across owners, whose exhaustion is
// older than the cooldown, and reactivates the ones that now pass.
//
// Failure containment rules:
//   - a record whose decryption or probe invocation fails is counted under
//     Errors and left untouched; it is retried on the next sweep, never
//     within the same one.
//   - a record that probes and still fails keeps its LastTransitionAt, so it
//     stays eligible for the next sweep instead of resetting its cooldown.
//     Only a successful reactivation (or a fresh caller-reported exhaustion)
//     moves the clock.
func (p *Pool) Sweep(ctx context.Context) (*SweepReport, error) {
	return p.sweep(ctx, "")
}

// SweepOwner is the manually triggered variant, restricted to one owner's
// records. It runs under the caller's context, so a user-triggered sweep is
// cancellable independently of the scheduled job.
func (p *Pool) SweepOwner(ctx context.Context, ownerID string) (*SweepReport, error) {
	return p.sweep(ctx, ownerID)
}

func (p *Pool) sweep(ctx context.Context, ownerFilter string) (*SweepReport, error) {
	if p.sweepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.sweepTimeout)
		defer cancel()
	}
	ctx, span := tracing.StartSpan(ctx, "credential", "pool.sweep")
	defer span.End()

	cutoff := time.Now().UTC().Add(-p.sweepCooldown)
	candidates, err := p.store.ListExhaustedBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	if ownerFilter != "" {
		filtered := candidates[:0]
		for _, rec := range candidates {
			if rec.OwnerID == ownerFilter {
				filtered = append(filtered, rec)
			}
		}
		candidates = filtered
	}

	report := &SweepReport{Scanned: len(candidates)}
	if len(candidates) == 0 {
		return report, nil
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, p.sweepConc)

	for _, rec := range candidates {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(rec *Record) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			outcome := p.sweepOne(ctx, rec)
			mu.Lock()
			switch outcome {
			case sweepReactivated:
				report.Reactivated++
			case sweepStillExhausted:
				report.StillExhausted++
			default:
				report.Errors++
			}
			mu.Unlock()
		}(rec)
	}
	wg.Wait()

	log.WithFields(log.Fields{
		"scanned":         report.Scanned,
		"reactivated":     report.Reactivated,
		"still_exhausted": report.StillExhausted,
		"errors":          report.Errors,
	}).Info("revalidation sweep completed")
	if p.publisher != nil {
		p.publisher.Publish(ctx, events.TopicSweepCompleted, report, nil)
	}
	return report, nil
}

type sweepOutcome int

const (
	sweepError sweepOutcome = iota
	sweepReactivated
	sweepStillExhausted
)

func (p *Pool) sweepOne(ctx context.Context, rec *Record) sweepOutcome {
	plaintext, err := p.cipher.Decrypt(rec.Ciphertext, rec.OwnerID)
	if err != nil {
		log.WithError(err).WithField("credential", rec.ID).Warn("sweep: decrypt failed, record left untouched")
		return sweepError
	}

	result, err := p.probeOnce(ctx, rec.Provider, plaintext, rec.SubConfig)
	if err != nil {
		log.WithError(err).WithField("credential", rec.ID).Warn("sweep: probe invocation failed, record left untouched")
		return sweepError
	}

	now := time.Now().UTC()
	diag := &Diagnostics{
		Message:   result.Message,
		Kind:      string(result.Kind),
		CheckedAt: now,
	}
	if prev := rec.Diagnostics; prev != nil {
		diag.History = append([]string(nil), prev.History...)
		diag.Revalidated = prev.Revalidated
		// Keep the prior exhaustion reason for audit.
		diag.AppendHistory(prev.Message)
	}
	diag.AppendHistory(result.Message)

	if result.Valid {
		diag.Revalidated++
		if err := p.store.MarkActive(ctx, rec.ID, diag); err != nil {
			log.WithError(err).WithField("credential", rec.ID).Warn("sweep: reactivation write failed")
			return sweepError
		}
		log.WithField("credential", rec.ID).Info("credential reactivated")
		p.publish(ctx, "reactivated", rec.ID)
		return sweepReactivated
	}

	// Still failing: refresh diagnostics only. Bumping LastTransitionAt here
	// would make the record perpetually dodge future sweeps.
	if err := p.store.RefreshDiagnostics(ctx, rec.ID, diag); err != nil {
		log.WithError(err).WithField("credential", rec.ID).Warn("sweep: diagnostics refresh failed")
		return sweepError
	}
	return sweepStillExhausted
}
