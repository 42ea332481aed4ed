package progress

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

const (
	// DefaultMinInterval is the minimum spacing between forwarded ticks.
	DefaultMinInterval = time.Second
	// DefaultStepPercent forwards a tick whenever a multiple of it is crossed.
	DefaultStepPercent = 5.0
	// DefaultSendTimeout bounds a single sink call.
	DefaultSendTimeout = 10 * time.Second

	maxQueued = 16
)

// Reporter throttles events for one job and delivers them to a Sink from a
// single background goroutine, so Report never blocks on the sink.
type Reporter struct {
	sink        Sink
	logger      *slog.Logger
	minInterval time.Duration
	step        float64
	sendTimeout time.Duration
	now         func() time.Time

	mu          sync.Mutex
	last        Event
	hasLast     bool
	lastForward time.Time
	queue       []Event
	closed      bool

	wake    chan struct{}
	done    chan struct{}
	baseCtx context.Context
	abort   context.CancelFunc
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithMinInterval sets the minimum spacing between forwarded ticks.
func WithMinInterval(d time.Duration) Option {
	return func(r *Reporter) {
		if d >= 0 {
			r.minInterval = d
		}
	}
}

// WithStepPercent sets the percentage boundary that always forwards.
func WithStepPercent(step float64) Option {
	return func(r *Reporter) {
		if step > 0 {
			r.step = step
		}
	}
}

// WithSendTimeout bounds each sink call.
func WithSendTimeout(d time.Duration) Option {
	return func(r *Reporter) {
		if d > 0 {
			r.sendTimeout = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the logger used for sink failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reporter) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReporter starts a Reporter delivering to sink. A nil sink discards.
// Callers must Close it.
func NewReporter(sink Sink, opts ...Option) *Reporter {
	if sink == nil {
		sink = Discard
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reporter{
		sink:        sink,
		logger:      slog.Default(),
		minInterval: DefaultMinInterval,
		step:        DefaultStepPercent,
		sendTimeout: DefaultSendTimeout,
		now:         time.Now,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
		baseCtx:     ctx,
		abort:       cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.loop()
	return r
}

// Report offers e to the throttle. It returns immediately.
func (r *Reporter) Report(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || !r.shouldForward(e) {
		return
	}

	r.last = e
	r.hasLast = true
	r.lastForward = r.now()
	r.enqueue(e)

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// shouldForward must be called with r.mu held.
func (r *Reporter) shouldForward(e Event) bool {
	if !r.hasLast || e.Stage != r.last.Stage {
		return true
	}
	if !e.Indeterminate && !r.last.Indeterminate && e.Percent < r.last.Percent {
		// Never reorder within a stage, only drop.
		return false
	}
	if r.last.Done {
		return false
	}
	if e.Done || (!e.Indeterminate && e.Percent >= 100) {
		return true
	}
	if r.now().Sub(r.lastForward) >= r.minInterval {
		return true
	}
	if e.Indeterminate {
		return false
	}
	return math.Floor(e.Percent/r.step) > math.Floor(r.last.Percent/r.step)
}

// enqueue keeps the latest tick per stage while never discarding a stage's
// final event. Must be called with r.mu held.
func (r *Reporter) enqueue(e Event) {
	if n := len(r.queue); n > 0 {
		tail := r.queue[n-1]
		if tail.Stage == e.Stage && !tail.Done {
			r.queue[n-1] = e
			return
		}
	}
	if len(r.queue) >= maxQueued {
		r.queue = r.queue[1:]
	}
	r.queue = append(r.queue, e)
}

func (r *Reporter) loop() {
	defer close(r.done)
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			closed := r.closed
			r.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-r.wake:
			case <-r.baseCtx.Done():
				return
			}
			continue
		}
		e := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()

		if r.baseCtx.Err() != nil {
			return
		}
		r.send(e)
	}
}

func (r *Reporter) send(e Event) {
	ctx, cancel := context.WithTimeout(r.baseCtx, r.sendTimeout)
	defer cancel()
	if err := r.sink.Send(ctx, e); err != nil {
		r.logger.Warn("progress sink failed",
			slog.String("job_id", e.JobID),
			slog.String("stage", string(e.Stage)),
			slog.Float64("percent", e.Percent),
			slog.String("error", err.Error()),
		)
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
// If ctx expires first, pending events are dropped, the in-flight send's
// context is cancelled and ctx.Err is returned without waiting further.
func (r *Reporter) Close(ctx context.Context) error {
	r.mu.Lock()
	already := r.closed
	r.closed = true
	r.mu.Unlock()

	if !already {
		select {
		case r.wake <- struct{}{}:
		default:
		}
	}

	select {
	case <-r.done:
		r.abort()
		return nil
	case <-ctx.Done():
		r.abort()
		return ctx.Err()
	}
}
