package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Priority orders queued requests.
type Priority int

const (
	// PriorityNormal requests are appended to the back of the queue.
	PriorityNormal Priority = iota
	// PriorityHigh requests are inserted at the front of the queue.
	PriorityHigh
)

// String implements fmt.Stringer.
func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "normal"
}

// Operation performs one upstream request. It returns the response headers
// (for rate limit state) and an error for any non-success outcome; HTTP
// failures should be reported as *StatusError.
type Operation func(ctx context.Context) (http.Header, error)

// Config holds the gate configuration.
type Config struct {
	// MaxRequestsPerWindow is the local request budget per window
	MaxRequestsPerWindow int

	// WindowSize is the sliding window length
	WindowSize time.Duration

	// WindowBuffer is added to every window wait
	WindowBuffer time.Duration

	// RetryDelays is the progressive backoff schedule indexed by attempt;
	// the last delay repeats
	RetryDelays []time.Duration

	// MaxRetries is the number of additional attempts after the first
	MaxRetries int

	// Timeout bounds a single attempt
	Timeout time.Duration

	// QueueSize bounds the number of waiting requests
	QueueSize int

	// PolitenessDelay separates consecutive queue items
	PolitenessDelay time.Duration
}

// DefaultConfig returns the upstream defaults: 5 requests per 16 minutes.
func DefaultConfig() Config {
	return Config{
		MaxRequestsPerWindow: 5,
		WindowSize:           16 * time.Minute,
		WindowBuffer:         1 * time.Second,
		RetryDelays: []time.Duration{
			1 * time.Second,
			2 * time.Second,
			5 * time.Second,
			10 * time.Second,
			30 * time.Second,
		},
		MaxRetries:      4,
		Timeout:         45 * time.Second,
		QueueSize:       20,
		PolitenessDelay: 500 * time.Millisecond,
	}
}

// Stats is a point-in-time snapshot of the queue and request budget.
type Stats struct {
	QueueSize            int           `json:"queue_size"`
	ActiveRequests       int           `json:"active_requests"`
	RecentRequests       int           `json:"recent_requests"`
	CanMakeRequest       bool          `json:"can_make_request"`
	TimeUntilNextRequest time.Duration `json:"time_until_next_request"`
	RemainingRequests    int           `json:"remaining_requests"`
	RateLimitReset       *time.Time    `json:"rate_limit_reset,omitempty"`
}

type queueItem struct {
	id         string
	ctx        context.Context
	op         Operation
	priority   Priority
	enqueuedAt time.Time
	done       chan error
}

// Gate admits upstream requests through a bounded priority queue. A single
// goroutine, started on demand, dispatches queued requests one at a time.
type Gate struct {
	cfg     Config
	tracker *Tracker
	logger  zerolog.Logger
	now     func() time.Time

	mu      sync.Mutex
	window  *Window
	queue   []*queueItem
	active  *queueItem
	running bool
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGate creates a gate. tracker may be nil.
func NewGate(cfg Config, tracker *Tracker, logger zerolog.Logger) *Gate {
	def := DefaultConfig()
	if cfg.MaxRequestsPerWindow <= 0 {
		cfg.MaxRequestsPerWindow = def.MaxRequestsPerWindow
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.RetryDelays == nil {
		cfg.RetryDelays = def.RetryDelays
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if tracker == nil {
		tracker = NewTracker(nil, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Gate{
		cfg:     cfg,
		tracker: tracker,
		logger:  logger,
		now:     time.Now,
		window:  NewWindow(cfg.MaxRequestsPerWindow, cfg.WindowSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Tracker returns the server state tracker.
func (g *Gate) Tracker() *Tracker {
	return g.tracker
}

// Do enqueues op and waits for it to settle. It returns ErrQueueFull without
// blocking when the queue is at capacity. If ctx ends while the request is
// still queued, the request is withdrawn.
func (g *Gate) Do(ctx context.Context, priority Priority, op Operation) error {
	item := &queueItem{
		id:         uuid.NewString(),
		ctx:        ctx,
		op:         op,
		priority:   priority,
		enqueuedAt: g.now(),
		done:       make(chan error, 1),
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		queueRejectionsTotal.WithLabelValues("closed").Inc()
		return ErrGateClosed
	}
	if len(g.queue) >= g.cfg.QueueSize {
		g.mu.Unlock()
		queueRejectionsTotal.WithLabelValues("full").Inc()
		g.logger.Warn().
			Int("queue_size", g.cfg.QueueSize).
			Str("priority", priority.String()).
			Msg("Request queue full, rejecting request")
		return ErrQueueFull
	}

	if priority == PriorityHigh {
		g.queue = append([]*queueItem{item}, g.queue...)
	} else {
		g.queue = append(g.queue, item)
	}
	queued := len(g.queue)
	queueLength.Set(float64(queued))

	if !g.running {
		g.running = true
		g.wg.Add(1)
		go g.process()
	}
	g.mu.Unlock()

	g.logger.Debug().
		Str("request_id", item.id).
		Str("priority", priority.String()).
		Int("queue_length", queued).
		Msg("Request queued")

	select {
	case err := <-item.done:
		return err
	case <-ctx.Done():
		g.withdraw(item)
		return ctx.Err()
	}
}

// withdraw removes a still-queued item.
func (g *Gate) withdraw(item *queueItem) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, q := range g.queue {
		if q == item {
			g.queue = append(g.queue[:i], g.queue[i+1:]...)
			queueLength.Set(float64(len(g.queue)))
			return
		}
	}
}

// process is the single dispatch loop. It exits when the queue drains.
func (g *Gate) process() {
	defer g.wg.Done()

	for {
		g.mu.Lock()
		if len(g.queue) == 0 || g.closed {
			g.running = false
			g.mu.Unlock()
			return
		}
		item := g.queue[0]
		g.queue = g.queue[1:]
		g.active = item
		queueLength.Set(float64(len(g.queue)))
		g.mu.Unlock()

		wait := g.now().Sub(item.enqueuedAt)
		queueWaitSeconds.Observe(wait.Seconds())
		g.logger.Debug().
			Str("request_id", item.id).
			Str("priority", item.priority.String()).
			Dur("queue_wait", wait).
			Msg("Request dispatched")

		if err := item.ctx.Err(); err != nil {
			item.done <- err
		} else {
			item.done <- g.execute(item)
		}

		g.mu.Lock()
		g.active = nil
		g.mu.Unlock()

		_ = sleep(g.ctx, g.cfg.PolitenessDelay)
	}
}

// admit blocks until the window and the server state allow a dispatch, then
// records it.
func (g *Gate) admit(ctx context.Context) error {
	start := g.now()
	for {
		g.mu.Lock()
		now := g.now()
		wait := g.admissionDelay(now)
		if wait <= 0 {
			g.window.Record(now)
			g.mu.Unlock()
			g.tracker.consume()
			admissionWaitSeconds.Observe(now.Sub(start).Seconds())
			return nil
		}
		g.mu.Unlock()

		g.logger.Info().
			Dur("wait", wait).
			Msg("Rate limited, waiting before next request")
		if err := sleep(ctx, wait+g.cfg.WindowBuffer); err != nil {
			return err
		}
	}
}

// admissionDelay returns how long until a dispatch is allowed. Server state,
// while current, can only lengthen the wait; the local window is never
// exceeded. The caller holds g.mu.
func (g *Gate) admissionDelay(now time.Time) time.Duration {
	wait := g.window.Wait(now)
	if st := g.tracker.Current(); st != nil && st.Exhausted() {
		if d := st.TimeUntilReset(now); d > wait {
			wait = d
		}
	}
	return wait
}

// Clear rejects every queued request with ErrQueueCleared. The request in
// flight, if any, is unaffected.
func (g *Gate) Clear() int {
	g.mu.Lock()
	items := g.queue
	g.queue = nil
	queueLength.Set(0)
	g.mu.Unlock()

	for _, item := range items {
		item.done <- ErrQueueCleared
	}
	if len(items) > 0 {
		queueRejectionsTotal.WithLabelValues("cleared").Add(float64(len(items)))
		g.logger.Info().Int("rejected", len(items)).Msg("Request queue cleared")
	}
	return len(items)
}

// Close stops accepting requests, rejects queued ones with ErrGateClosed,
// cancels the request in flight and waits for the dispatch loop to exit.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	items := g.queue
	g.queue = nil
	queueLength.Set(0)
	g.mu.Unlock()

	for _, item := range items {
		item.done <- ErrGateClosed
	}
	g.cancel()
	g.wg.Wait()
}

// Stats returns queue and budget statistics.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	wait := g.admissionDelay(now)
	st := Stats{
		QueueSize:            len(g.queue),
		RecentRequests:       g.window.Count(now),
		CanMakeRequest:       wait <= 0,
		TimeUntilNextRequest: wait,
		RemainingRequests:    g.window.Remaining(now),
	}
	if g.active != nil {
		st.ActiveRequests = 1
	}
	if server := g.tracker.Current(); server != nil {
		if server.Remaining < st.RemainingRequests {
			st.RemainingRequests = max(server.Remaining, 0)
		}
	}
	if last := g.tracker.Last(); last != nil {
		reset := last.ResetAt
		st.RateLimitReset = &reset
	}
	return st
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
