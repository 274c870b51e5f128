package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prohosp/flow-monitor/internal/history"
	"github.com/prohosp/flow-monitor/internal/metrics"
	"github.com/prohosp/flow-monitor/internal/models"
	"github.com/prohosp/flow-monitor/internal/store"
	"github.com/prohosp/flow-monitor/internal/utils"
)

// PollInterval is the fixed cadence of scheduled fetch cycles.
const PollInterval = 8000 * time.Millisecond

var (
	// ErrAlreadyStarted is returned by Start on a polling engine.
	ErrAlreadyStarted = errors.New("engine already started")
	// ErrStopped is returned once the engine has been stopped. A completion
	// landing after Stop is discarded and reports this error too.
	ErrStopped = errors.New("engine stopped")
	// ErrStaleCompletion reports a completion dropped by strict ordering.
	ErrStaleCompletion = errors.New("stale completion discarded")
	// ErrAborted reports a completion whose caller context ended during the
	// fetch. The store is left untouched.
	ErrAborted = errors.New("cycle aborted by caller")
)

// SummaryFetcher retrieves the latest Summary from the prediction service.
type SummaryFetcher interface {
	FetchSummary(ctx context.Context) (models.Summary, error)
}

// Phase is the engine lifecycle: Idle -> Polling -> Stopped.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePolling
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhasePolling:
		return "polling"
	case PhaseStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Snapshot is a consistent read of the store and history window.
type Snapshot struct {
	store.State
	Series []models.HistorySample `json:"series"`
	Phase  string                 `json:"phase"`
}

// Observer is notified after applied completions, in apply order. A snapshot
// superseded before its delivery is skipped. Observers run on the completing
// goroutine, must not block and must not call Refresh.
type Observer func(Snapshot)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the wall clock used for sample labels.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithStrictOrdering applies a completion only when its request sequence
// number is the highest applied so far. Without it the last completion wins.
func WithStrictOrdering() Option {
	return func(e *Engine) { e.strictOrdering = true }
}

// Engine polls the dashboard summary and owns the SummaryStore and history window.
type Engine struct {
	logger         *slog.Logger
	fetcher        SummaryFetcher
	store          *store.SummaryStore
	history        *history.Buffer
	latencies      *utils.LatencyTracker
	interval       time.Duration
	now            func() time.Time
	strictOrdering bool

	mu        sync.Mutex
	phase     Phase
	stopCh    chan struct{}
	issued    uint64
	applied   uint64
	observers map[int]Observer
	nextObs   int
	version   uint64

	notifyMu  sync.Mutex
	delivered uint64
}

// New constructs an idle engine around fetcher.
func New(fetcher SummaryFetcher, opts ...Option) *Engine {
	e := &Engine{
		logger:    slog.Default(),
		fetcher:   fetcher,
		store:     store.NewSummaryStore(),
		history:   history.NewBuffer(),
		latencies: utils.NewLatencyTracker(256),
		interval:  PollInterval,
		now:       time.Now,
		observers: make(map[int]Observer),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start performs an immediate fetch and then one every PollInterval until
// Stop is called or ctx is cancelled. Cancelling ctx also aborts in-flight
// fetches, whose results are discarded.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	switch e.phase {
	case PhasePolling:
		e.mu.Unlock()
		return ErrAlreadyStarted
	case PhaseStopped:
		e.mu.Unlock()
		return ErrStopped
	}
	e.phase = PhasePolling
	stop := make(chan struct{})
	e.stopCh = stop
	e.mu.Unlock()

	e.logger.Info("summary polling started", slog.Duration("interval", e.interval), slog.Bool("strict_ordering", e.strictOrdering))
	go e.run(ctx, stop)
	return nil
}

// Stop cancels the schedule. In-flight fetches keep running, but their
// results are discarded. Stop is idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase == PhaseStopped {
		return
	}
	if e.phase == PhasePolling {
		close(e.stopCh)
	}
	e.phase = PhaseStopped
	e.logger.Info("summary polling stopped")
}

// Refresh runs one out-of-band cycle on the caller's goroutine. It may overlap
// a scheduled cycle. A fetch error is returned and recorded in the store. If
// ctx ends before the fetch returns, the result is discarded with ErrAborted.
func (e *Engine) Refresh(ctx context.Context) error {
	return e.cycle(ctx, "manual")
}

// Read returns the current state, history series and lifecycle phase.
func (e *Engine) Read() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Phase returns the lifecycle phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Subscribe registers fn for completion notifications and returns a function
// that removes it.
func (e *Engine) Subscribe(fn Observer) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.observers, id)
			e.mu.Unlock()
		})
	}
}

func (e *Engine) run(ctx context.Context, stop <-chan struct{}) {
	_ = e.cycle(ctx, "startup")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			e.Stop()
			return
		case <-ticker.C:
			_ = e.cycle(ctx, "scheduled")
		}
	}
}

func (e *Engine) cycle(ctx context.Context, trigger string) error {
	e.mu.Lock()
	if e.phase == PhaseStopped {
		e.mu.Unlock()
		return ErrStopped
	}
	e.issued++
	seq := e.issued
	e.mu.Unlock()

	start := time.Now()
	summary, fetchErr := e.fetcher.FetchSummary(ctx)
	duration := time.Since(start)

	var (
		snapshot  Snapshot
		observers []Observer
		version   uint64
		err       error
	)
	if ctx.Err() != nil {
		err = ErrAborted
	} else {
		snapshot, observers, version, err = e.complete(seq, summary, fetchErr)
	}
	if err != nil {
		metrics.ObservePoll(duration, metrics.OutcomeDiscarded)
		e.logger.Debug("poll completion discarded",
			slog.String("trigger", trigger),
			slog.Uint64("seq", seq),
			slog.Any("reason", err),
		)
		return err
	}

	if fetchErr != nil {
		metrics.ObservePoll(duration, metrics.OutcomeError)
		e.logger.Warn("poll cycle failed",
			slog.String("trigger", trigger),
			slog.Uint64("seq", seq),
			slog.Any("error", fetchErr),
		)
	} else {
		metrics.ObservePoll(duration, metrics.OutcomeSuccess)
		e.latencies.Observe(duration)
		e.logger.Debug("poll cycle applied",
			slog.String("trigger", trigger),
			slog.Uint64("seq", seq),
			slog.Int("history", len(snapshot.Series)),
		)
		if count := e.latencies.Count(); count >= 20 && count%20 == 0 {
			e.logger.Info("summary fetch latency", slog.Duration("p95", e.latencies.Percentile(95)), slog.Int("samples", count))
		}
	}

	e.notify(version, snapshot, observers)
	return fetchErr
}

// notify delivers snapshot unless a later applied version already went out.
func (e *Engine) notify(version uint64, snapshot Snapshot, observers []Observer) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	if version <= e.delivered {
		return
	}
	e.delivered = version
	for _, fn := range observers {
		fn(snapshot)
	}
}

// complete applies one fetch result. It holds the engine lock so completions
// are applied one at a time, store update before history push.
func (e *Engine) complete(seq uint64, summary models.Summary, fetchErr error) (Snapshot, []Observer, uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase == PhaseStopped {
		return Snapshot{}, nil, 0, ErrStopped
	}
	if e.strictOrdering && seq <= e.applied {
		return Snapshot{}, nil, 0, ErrStaleCompletion
	}
	if seq > e.applied {
		e.applied = seq
	}

	if fetchErr != nil {
		e.store.SetError(utils.UserMessage(fetchErr, "error desconocido"))
	} else {
		e.store.Update(summary)
		if confidence, ok := summary.Confidence(); ok {
			sample := models.HistorySample{Label: e.now().Format(utils.ClockLayout), Confidence: confidence}
			if e.history.Push(sample) {
				metrics.SetConfidence(confidence, e.history.Len())
			}
		}
	}

	e.version++
	observers := make([]Observer, 0, len(e.observers))
	for _, fn := range e.observers {
		observers = append(observers, fn)
	}
	return e.snapshotLocked(), observers, e.version, nil
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		State:  e.store.Read(),
		Series: e.history.Series(),
		Phase:  e.phase.String(),
	}
}
