package credential

import (
	"time"

	"credpool-go/internal/events"

	"golang.org/x/time/rate"
)

// Options configure a Pool.
type Options struct {
	Store  Store
	Cipher Cipher
	Prober Prober

	// ProbeTimeout bounds every single live probe. Mandatory; defaulted when
	// zero so a hung upstream can never stall a sweep or import batch.
	ProbeTimeout time.Duration

	// ImportConcurrency caps concurrent probes during bulk import.
	ImportConcurrency int
	// SweepConcurrency caps concurrent probes during a revalidation sweep.
	SweepConcurrency int
	// SweepCooldown is the minimum time an exhausted record waits before
	// becoming eligible for re-probing.
	SweepCooldown time.Duration
	// SweepTimeout bounds an entire sweep so a scheduled run cannot overrun
	// the next scheduled window. Zero disables the overall deadline.
	SweepTimeout time.Duration

	// ProbeRatePerSec optionally smooths outbound probe traffic across both
	// fan-out paths. Zero means unlimited.
	ProbeRatePerSec float64

	// Publisher receives credential-change events. Optional.
	Publisher events.Publisher
}

// Pool coordinates selection, import, and revalidation over one Store. It is
// safe for concurrent use; all mutable state lives in the store.
type Pool struct {
	store  Store
	cipher Cipher
	prober Prober

	probeTimeout  time.Duration
	importConc    int
	sweepConc     int
	sweepCooldown time.Duration
	sweepTimeout  time.Duration

	limiter   *rate.Limiter
	publisher events.Publisher
}

const (
	defaultProbeTimeout  = 15 * time.Second
	defaultConcurrency   = 5
	defaultSweepCooldown = 24 * time.Hour
)

// NewPool wires a Pool from options, applying defaults for zero values.
func NewPool(opts Options) *Pool {
	probeTimeout := opts.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	importConc := opts.ImportConcurrency
	if importConc <= 0 {
		importConc = defaultConcurrency
	}
	sweepConc := opts.SweepConcurrency
	if sweepConc <= 0 {
		sweepConc = defaultConcurrency
	}
	cooldown := opts.SweepCooldown
	if cooldown <= 0 {
		cooldown = defaultSweepCooldown
	}

	var limiter *rate.Limiter
	if opts.ProbeRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.ProbeRatePerSec), 1)
	}

	return &Pool{
		store:         opts.Store,
		cipher:        opts.Cipher,
		prober:        opts.Prober,
		probeTimeout:  probeTimeout,
		importConc:    importConc,
		sweepConc:     sweepConc,
		sweepCooldown: cooldown,
		sweepTimeout:  opts.SweepTimeout,
		limiter:       limiter,
		publisher:     opts.Publisher,
	}
}

// Store exposes the backing store for read-only management queries.
func (p *Pool) Store() Store { return p.store }

// Cooldown returns the configured revalidation cooldown.
func (p *Pool) Cooldown() time.Duration { return p.sweepCooldown }
