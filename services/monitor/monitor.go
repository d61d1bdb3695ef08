// Package monitor polls the seller API for a fixed set of supply orders and
// feeds every observation to the difference engine until stopped.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"slotwatch/pkg/metrics"
	"slotwatch/services/timeslots"
)

const (
	DefaultRPS              = 5
	DefaultComparisonKey    = "default"
	DefaultMinCycleInterval = time.Second
	DefaultMaxFailures      = 3
)

var (
	// ErrTooManyFailures is the stop reason of a monitor whose cycles kept failing.
	ErrTooManyFailures = errors.New("too many consecutive failures")
	// ErrAlreadyStarted is returned by Start on a monitor that left the idle state.
	ErrAlreadyStarted = errors.New("monitor already started")
)

// Fetcher retrieves timeslot payloads. *sellerapi.Client implements it.
type Fetcher interface {
	FetchSlots(ctx context.Context, ids []int64, rps float64) ([]timeslots.Response, error)
	FetchSlotsInRanges(ctx context.Context, ids []int64, rps float64, from, to string) ([]timeslots.Response, error)
}

// Differ compares observations against remembered state. *timeslots.Engine
// implements it.
type Differ interface {
	Diff(resp *timeslots.Response, key, correlationID string) (timeslots.Result, error)
	Forget(key string)
}

// State is the lifecycle position of a Monitor.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText lets State render as a word in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config describes what a monitor watches.
type Config struct {
	IDs []int64
	// RPS bounds requests per second inside a cycle and the pause between
	// cycles.
	RPS float64
	// From and To restrict slots to a date range. Either may be empty.
	From string
	To   string
	// ComparisonKey selects the engine memory this monitor diffs against.
	ComparisonKey string
	// MinCycleInterval is the shortest time between two cycle starts.
	MinCycleInterval time.Duration
	// MaxFailures consecutive failed cycles stop the monitor.
	MaxFailures int
}

func (c Config) withDefaults() Config {
	if c.RPS <= 0 {
		c.RPS = DefaultRPS
	}
	if strings.TrimSpace(c.ComparisonKey) == "" {
		c.ComparisonKey = DefaultComparisonKey
	}
	if c.MinCycleInterval <= 0 {
		c.MinCycleInterval = DefaultMinCycleInterval
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	c.IDs = append([]int64(nil), c.IDs...)
	return c
}

// Validate reports configuration a monitor cannot run with.
func (c Config) Validate() error {
	if len(c.IDs) == 0 {
		return fmt.Errorf("%w: at least one supply order id is required", timeslots.ErrInvalidArgument)
	}
	for _, id := range c.IDs {
		if id == 0 {
			return fmt.Errorf("%w: supply order id is required", timeslots.ErrInvalidArgument)
		}
	}
	return nil
}

// CorrelationID is the id attached to every change this config produces.
func (c Config) CorrelationID() string {
	parts := make([]string, len(c.IDs))
	for i, id := range c.IDs {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, "-")
}

func (c Config) hasRange() bool {
	return c.From != "" || c.To != ""
}

// Status is a point in time view of a monitor.
type Status struct {
	State         State     `json:"state"`
	ComparisonKey string    `json:"comparison_key"`
	IDs           []int64   `json:"ids"`
	From          string    `json:"from,omitempty"`
	To            string    `json:"to,omitempty"`
	Cycles        int       `json:"cycles"`
	Failures      int       `json:"consecutive_failures"`
	Changes       int       `json:"changes"`
	LastCycle     time.Time `json:"last_cycle,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	StopReason    string    `json:"stop_reason,omitempty"`
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

// WithClock overrides time.Now for cycle bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// Monitor runs fetch and diff cycles on one goroutine. Use New and Start, or
// the package level Start.
type Monitor struct {
	cfg     Config
	fetcher Fetcher
	differ  Differ
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu        sync.Mutex
	state     State
	cycles    int
	failures  int
	changes   int
	lastCycle time.Time
	lastErr   error
	reason    error
	cancel    context.CancelFunc

	done     chan struct{}
	stopOnce sync.Once
}

// New returns an idle monitor.
func New(fetcher Fetcher, differ Differ, cfg Config, opts ...Option) (*Monitor, error) {
	if fetcher == nil || differ == nil {
		return nil, fmt.Errorf("%w: fetcher and differ are required", timeslots.ErrInvalidArgument)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Monitor{
		cfg:     cfg,
		fetcher: fetcher,
		differ:  differ,
		logger:  zerolog.Nop(),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With().Str("comparison_key", cfg.ComparisonKey).Logger()
	return m, nil
}

// Start creates a monitor and starts it.
func Start(ctx context.Context, fetcher Fetcher, differ Differ, cfg Config, opts ...Option) (*Monitor, error) {
	m, err := New(fetcher, differ, cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := m.Start(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Start moves the monitor from idle to running. The loop stops when ctx is
// cancelled, Stop is called or too many cycles fail in a row.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.state = StateRunning
	m.metrics.MonitorStarted()
	m.logger.Info().
		Ints64("ids", m.cfg.IDs).
		Float64("rps", m.cfg.RPS).
		Str("from", m.cfg.From).
		Str("to", m.cfg.To).
		Msg("monitor started")

	go m.run(runCtx)
	return nil
}

// Cancel asks the monitor to stop and returns without waiting. An
// in-flight request is allowed to complete. Use it from code that runs on the
// monitor's own goroutine, such as an engine Handler.
func (m *Monitor) Cancel() {
	m.mu.Lock()
	switch m.state {
	case StateIdle:
		m.state = StateStopped
		m.mu.Unlock()
		m.stopOnce.Do(func() { close(m.done) })
		return
	case StateRunning:
		m.cancel()
	}
	m.mu.Unlock()
}

// Stop halts the monitor and waits for the current cycle to finish. It is
// safe to call more than once and on a monitor that never started. Stop must
// not be called from an engine Handler fed by this monitor, since handlers
// run inside the cycle Stop waits for; call Cancel there instead.
func (m *Monitor) Stop() {
	m.Cancel()
	<-m.done
}

// Done is closed once the monitor has stopped.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// Err returns why the monitor stopped on its own. It is nil while running and
// after an explicit Stop.
func (m *Monitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// State returns the lifecycle state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Config returns the effective configuration.
func (m *Monitor) Config() Config {
	cfg := m.cfg
	cfg.IDs = append([]int64(nil), m.cfg.IDs...)
	return cfg
}

// Status returns counters and the last error.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		State:         m.state,
		ComparisonKey: m.cfg.ComparisonKey,
		IDs:           append([]int64(nil), m.cfg.IDs...),
		From:          m.cfg.From,
		To:            m.cfg.To,
		Cycles:        m.cycles,
		Failures:      m.failures,
		Changes:       m.changes,
		LastCycle:     m.lastCycle,
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	if m.reason != nil {
		st.StopReason = m.reason.Error()
	}
	return st
}

func (m *Monitor) run(ctx context.Context) {
	defer m.finish()

	pause := time.Duration(float64(time.Second) / m.cfg.RPS)
	for {
		if ctx.Err() != nil {
			return
		}

		start := m.now()
		changed, err := m.cycle(ctx)
		elapsed := m.now().Sub(start)

		if err != nil && ctx.Err() != nil && isCancellation(err) {
			return
		}
		if m.record(start, changed, err) {
			return
		}

		wait := m.cfg.MinCycleInterval - elapsed
		if wait < pause {
			wait = pause
		}
		if !sleep(ctx, wait) {
			return
		}
	}
}

// record updates counters after a cycle and reports whether the failure
// streak reached the limit.
func (m *Monitor) record(start time.Time, changed bool, err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cycles++
	m.lastCycle = start
	if err == nil {
		m.failures = 0
		m.lastErr = nil
		if changed {
			m.changes++
			m.metrics.ObserveCycle(m.cfg.ComparisonKey, "changed")
		} else {
			m.metrics.ObserveCycle(m.cfg.ComparisonKey, "unchanged")
		}
		return false
	}

	m.failures++
	m.lastErr = err
	m.metrics.ObserveCycle(m.cfg.ComparisonKey, "error")
	m.logger.Error().Err(err).Int("consecutive_failures", m.failures).Msg("monitor cycle failed")

	if m.failures >= m.cfg.MaxFailures {
		m.reason = fmt.Errorf("%w (%d): %w", ErrTooManyFailures, m.failures, err)
		return true
	}
	return false
}

func (m *Monitor) finish() {
	m.differ.Forget(m.cfg.ComparisonKey)
	m.metrics.MonitorStopped()

	m.mu.Lock()
	m.state = StateStopped
	if m.cancel != nil {
		m.cancel()
	}
	reason := m.reason
	m.mu.Unlock()

	if reason != nil {
		m.logger.Warn().Err(reason).Msg("monitor stopped")
	} else {
		m.logger.Info().Msg("monitor stopped")
	}

	m.stopOnce.Do(func() { close(m.done) })
}

// cycle fetches every id once and diffs the slots of all ids together. A
// provider error on one id is logged and does not fail the cycle; the other
// ids still count.
func (m *Monitor) cycle(ctx context.Context) (bool, error) {
	var (
		results []timeslots.Response
		err     error
	)
	if m.cfg.hasRange() {
		results, err = m.fetcher.FetchSlotsInRanges(ctx, m.cfg.IDs, m.cfg.RPS, m.cfg.From, m.cfg.To)
	} else {
		results, err = m.fetcher.FetchSlots(ctx, m.cfg.IDs, m.cfg.RPS)
	}
	if err != nil {
		return false, err
	}

	merged := &timeslots.Response{Timeslots: []timeslots.TimeSlot{}}
	for i, r := range results {
		if r.Code != 0 {
			ev := m.logger.Warn().Int("code", r.Code).Str("message", r.Message)
			if i < len(m.cfg.IDs) {
				ev = ev.Int64("supply_order_id", m.cfg.IDs[i])
			}
			ev.Msg("supply order returned an error")
		}
		merged.Timeslots = append(merged.Timeslots, r.Timeslots...)
	}

	if len(merged.Timeslots) == 0 {
		m.logger.Debug().Msg("no timeslots retrieved, skipping diff")
		return false, nil
	}

	res, err := m.differ.Diff(merged, m.cfg.ComparisonKey, m.cfg.CorrelationID())
	if err != nil {
		return false, err
	}
	return res.Changed(), nil
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
