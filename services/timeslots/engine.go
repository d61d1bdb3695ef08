package timeslots

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"slotwatch/pkg/metrics"
)

const slotTimeLayout = "02.01.2006 15:04:05"

// Sink receives human readable change lines. Implementations add their own
// timestamp and must append, never overwrite.
type Sink interface {
	Append(line string) error
}

// Engine remembers the last observed timeslots per comparison key and
// computes what was added or removed on every new observation. Engines are
// independent: two engines never share memory.
type Engine struct {
	mu      sync.Mutex
	records map[string]*record

	handlers handlerList

	sink         Sink
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	historyLimit int
	now          func() time.Time
	location     *time.Location
}

type record struct {
	mu          sync.Mutex
	initialized bool
	original    []TimeSlot
	latest      []TimeSlot
	history     *ring
}

// Option configures an Engine.
type Option func(*Engine)

// WithSink sets the change log sink.
func WithSink(s Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithHistoryLimit bounds the history kept per key. Zero or less keeps all
// entries.
func WithHistoryLimit(n int) Option {
	return func(e *Engine) { e.historyLimit = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLocation sets the location used to render slot bounds in sink lines.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.location = loc
		}
	}
}

// NewEngine returns an empty engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		records:  make(map[string]*record),
		logger:   zerolog.Nop(),
		now:      time.Now,
		location: time.Local,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Diff compares the timeslots in resp with the last observation stored under
// key and returns what was added and removed. The stored observation is
// replaced by resp on every call. History, the sink and subscribers only see
// calls that detected a change.
func (e *Engine) Diff(resp *Response, key, correlationID string) (Result, error) {
	if resp == nil {
		return Result{}, fmt.Errorf("diff %q: %w: observation is required", key, ErrInvalidInput)
	}
	if err := resp.Err(); err != nil {
		return Result{}, fmt.Errorf("diff %q: %w", key, err)
	}

	current := cloneSlots(resp.Timeslots)
	rec := e.record(key)

	rec.mu.Lock()
	if !rec.initialized {
		rec.initialized = true
		rec.original = current
		e.logger.Debug().Str("key", key).Int("slots", len(current)).Msg("stored original observation")
	}

	baseline := rec.latest
	result := Result{
		Added:   missing(current, baseline),
		Removed: missing(baseline, current),
	}
	rec.latest = current

	var entry DiffEntry
	changed := result.Changed()
	if changed {
		entry = DiffEntry{
			ID:        correlationID,
			Key:       key,
			Timestamp: e.now().UTC(),
			Added:     cloneSlots(result.Added),
			Removed:   cloneSlots(result.Removed),
		}
		rec.history.push(entry)
		e.writeLines(entry)
	}
	rec.mu.Unlock()

	if !changed {
		return result, nil
	}

	e.metrics.AddSlotChanges(key, len(entry.Added), len(entry.Removed))
	e.logger.Info().
		Str("key", key).
		Str("correlation_id", correlationID).
		Int("added", len(entry.Added)).
		Int("removed", len(entry.Removed)).
		Msg("timeslots changed")
	e.handlers.notify(entry)

	return result, nil
}

// Subscribe registers h for every future non-empty DiffEntry. Handlers run on
// the goroutine that called Diff, after the key's state has been updated, and
// Diff does not return until they do. A handler must therefore not wait on
// the caller of Diff, for example by stopping the monitor that feeds it and
// waiting for that monitor to exit. Each handler gets its own copy of the
// entry.
func (e *Engine) Subscribe(h Handler) *Subscription {
	if h == nil {
		return &Subscription{}
	}
	return e.handlers.add(h)
}

// ResetAll drops the memory of every key.
func (e *Engine) ResetAll() {
	e.mu.Lock()
	n := len(e.records)
	e.records = make(map[string]*record)
	e.mu.Unlock()

	e.logger.Info().Int("keys", n).Msg("memory reset")
	e.appendLine("memory for storing differences reset")
}

// Forget drops the memory of a single key. Monitors call it when they stop so
// a later run on the same key starts from an empty baseline.
func (e *Engine) Forget(key string) {
	e.mu.Lock()
	_, ok := e.records[key]
	delete(e.records, key)
	e.mu.Unlock()

	if ok {
		e.logger.Debug().Str("key", key).Msg("memory dropped")
	}
}

// Keys lists the comparison keys currently remembered, sorted.
func (e *Engine) Keys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make([]string, 0, len(e.records))
	for k := range e.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Record returns a copy of what is remembered for key.
func (e *Engine) Record(key string) (MemoryRecord, bool) {
	e.mu.Lock()
	rec, ok := e.records[key]
	e.mu.Unlock()
	if !ok {
		return MemoryRecord{}, false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return MemoryRecord{
		Key:      key,
		Original: cloneSlots(rec.original),
		Latest:   cloneSlots(rec.latest),
		History:  rec.history.snapshot(),
	}, true
}

// History returns the diff entries remembered for key, oldest first.
func (e *Engine) History(key string) []DiffEntry {
	rec, ok := e.Record(key)
	if !ok {
		return nil
	}
	return rec.History
}

func (e *Engine) record(key string) *record {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[key]
	if !ok {
		rec = &record{history: newRing(e.historyLimit)}
		e.records[key] = rec
	}
	return rec
}

func (e *Engine) writeLines(entry DiffEntry) {
	ts := entry.Timestamp.Format(time.RFC3339Nano)
	for _, s := range entry.Added {
		e.appendLine(fmt.Sprintf("[LOG][%s] (%s) ID=%s added timeslot: from %s to %s",
			entry.Key, ts, entry.ID, e.formatBound(s.From), e.formatBound(s.To)))
	}
	for _, s := range entry.Removed {
		e.appendLine(fmt.Sprintf("[LOG][%s] (%s) ID=%s removed timeslot: from %s to %s",
			entry.Key, ts, entry.ID, e.formatBound(s.From), e.formatBound(s.To)))
	}
}

func (e *Engine) appendLine(line string) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Append(line); err != nil {
		e.logger.Warn().Err(err).Msg("write change line")
	}
}

func (e *Engine) formatBound(value string) string {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04Z07:00"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.In(e.location).Format(slotTimeLayout)
		}
	}
	return value
}

// missing returns the elements of src that have no equal counterpart in
// other, in src order.
func missing(src, other []TimeSlot) []TimeSlot {
	out := []TimeSlot{}
	for _, s := range src {
		found := false
		for _, o := range other {
			if Equal(s, o) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, s)
		}
	}
	return out
}
