package refresher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hemlockoak/parcelscan/internal/models"
)

type Repository interface {
	ListActiveTrackingNumbers(ctx context.Context, carrier string, since time.Time, limit int) ([]string, error)
}

type StatusService interface {
	Refresh(ctx context.Context, trackingNumber, carrierName string) (*models.TrackingStatus, error)
}

// Refresher walks the active tracking numbers carrier by carrier on a fixed
// cycle, keeping the status cache warm. Each carrier gets a per-cycle cap so
// one busy carrier cannot starve the rest, and a cycle for a carrier never
// overlaps a still-running one.
type Refresher struct {
	repo   Repository
	status StatusService

	carriers       []string
	caps           map[string]int
	defaultCap     int
	activityWindow time.Duration

	interval    time.Duration
	concurrency int

	triggerCh chan struct{}
	onCycle   func()

	// one slot per carrier; a held slot means a cycle is still running
	flightMu sync.Mutex
	inCycle  map[string]*sync.Mutex

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalSelected       atomic.Int64
	totalRefreshed      atomic.Int64
	totalErrors         atomic.Int64
	totalSkippedCycles  atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, status StatusService, carriers []string) *Refresher {
	r := &Refresher{
		repo:           repo,
		status:         status,
		carriers:       carriers,
		caps:           map[string]int{},
		defaultCap:     20,
		activityWindow: 30 * 24 * time.Hour,
		interval:       15 * time.Minute,
		concurrency:    5,
		triggerCh:      make(chan struct{}, 1),
		inCycle:        map[string]*sync.Mutex{},

		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
	for _, c := range carriers {
		r.inCycle[c] = &sync.Mutex{}
	}
	return r
}

func (r *Refresher) WithSettings(interval time.Duration, concurrency int, activityWindow time.Duration) *Refresher {
	if interval > 0 {
		r.interval = interval
	}
	if concurrency > 0 {
		r.concurrency = concurrency
	}
	if activityWindow > 0 {
		r.activityWindow = activityWindow
	}
	return r
}

// WithCycleHook registers a callback invoked after every completed cycle.
func (r *Refresher) WithCycleHook(f func()) *Refresher {
	r.onCycle = f
	return r
}

func (r *Refresher) WithCap(carrier string, cap int) *Refresher {
	if cap > 0 {
		r.caps[carrier] = cap
	}
	return r
}

func (r *Refresher) capFor(carrier string) int {
	if c, ok := r.caps[carrier]; ok {
		return c
	}
	return r.defaultCap
}

// Trigger forces an immediate refresh cycle (best-effort, non-blocking).
func (r *Refresher) Trigger() {
	r.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt          time.Time  `json:"startedAt"`
	LastCycleAt        *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt      *time.Time `json:"lastTriggerAt,omitempty"`
	TotalSelected      int64      `json:"totalSelected"`
	TotalRefreshed     int64      `json:"totalRefreshed"`
	TotalErrors        int64      `json:"totalErrors"`
	TotalSkippedCycles int64      `json:"totalSkippedCycles"`
	InFlight           int64      `json:"inFlight"`
	LastError          string     `json:"lastError,omitempty"`
}

func (r *Refresher) Stats() Stats {
	st := Stats{
		StartedAt:          time.Unix(0, r.startedAtUnixNano).UTC(),
		TotalSelected:      r.totalSelected.Load(),
		TotalRefreshed:     r.totalRefreshed.Load(),
		TotalErrors:        r.totalErrors.Load(),
		TotalSkippedCycles: r.totalSkippedCycles.Load(),
		InFlight:           r.inFlight.Load(),
	}
	if n := r.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := r.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	r.lastErrorMu.Unlock()
	return st
}

func (r *Refresher) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.runOnce(ctx)
		case <-r.triggerCh:
			r.runOnce(ctx)
		}
	}
}

func (r *Refresher) runOnce(ctx context.Context) {
	r.lastCycleUnixNano.Store(time.Now().UTC().UnixNano())

	var wg sync.WaitGroup
	for _, c := range r.carriers {
		wg.Add(1)
		carrierName := c
		go func() {
			defer wg.Done()
			r.refreshCarrier(ctx, carrierName)
		}()
	}
	wg.Wait()

	if r.onCycle != nil {
		r.onCycle()
	}
}

func (r *Refresher) refreshCarrier(ctx context.Context, carrierName string) {
	mu := r.cycleLock(carrierName)
	if !mu.TryLock() {
		// previous cycle for this carrier is still running
		r.totalSkippedCycles.Add(1)
		slog.Warn("refresh cycle still running, skipping", "carrier", carrierName)
		return
	}
	defer mu.Unlock()

	since := time.Now().UTC().Add(-r.activityWindow)
	numbers, err := r.repo.ListActiveTrackingNumbers(ctx, carrierName, since, r.capFor(carrierName))
	if err != nil {
		r.recordError(err)
		slog.Error("list active tracking numbers", "carrier", carrierName, "error", err.Error())
		return
	}
	r.totalSelected.Add(int64(len(numbers)))

	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	for _, tn := range numbers {
		sem <- struct{}{}
		wg.Add(1)
		num := tn
		r.inFlight.Add(1)
		go func() {
			defer func() {
				r.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if _, err := r.status.Refresh(ctx, num, carrierName); err != nil {
				r.totalErrors.Add(1)
				r.recordError(err)
				slog.Error("refresh tracking status", "tracking_number", num, "carrier", carrierName, "error", err.Error())
				return
			}
			r.totalRefreshed.Add(1)
		}()
	}
	wg.Wait()
}

func (r *Refresher) cycleLock(carrierName string) *sync.Mutex {
	r.flightMu.Lock()
	defer r.flightMu.Unlock()
	mu, ok := r.inCycle[carrierName]
	if !ok {
		mu = &sync.Mutex{}
		r.inCycle[carrierName] = mu
	}
	return mu
}

func (r *Refresher) recordError(err error) {
	r.lastErrorMu.Lock()
	r.lastError = err.Error()
	r.lastErrorMu.Unlock()
}
