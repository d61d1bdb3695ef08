package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrKeyInUse is returned when a running monitor already owns the comparison key.
	ErrKeyInUse = errors.New("comparison key already monitored")
	// ErrUnknownMonitor is returned for handle ids the registry does not know.
	ErrUnknownMonitor = errors.New("unknown monitor")
)

// Info pairs a handle id with the monitor's status.
type Info struct {
	ID string `json:"id"`
	Status
}

// Registry starts monitors against a shared fetcher and engine and hands out
// handle ids for them. Two running monitors never share a comparison key.
type Registry struct {
	fetcher Fetcher
	differ  Differ
	opts    []Option

	mu       sync.Mutex
	monitors map[string]*Monitor
}

// NewRegistry returns an empty registry. opts apply to every monitor.
func NewRegistry(fetcher Fetcher, differ Differ, opts ...Option) *Registry {
	return &Registry{
		fetcher:  fetcher,
		differ:   differ,
		opts:     opts,
		monitors: make(map[string]*Monitor),
	}
}

// StartMonitor starts a monitor and returns its handle id. A stopped monitor
// on the same key is replaced.
func (r *Registry) StartMonitor(ctx context.Context, cfg Config) (string, error) {
	m, err := New(r.fetcher, r.differ, cfg, r.opts...)
	if err != nil {
		return "", err
	}
	key := m.Config().ComparisonKey

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, other := range r.monitors {
		if other.Config().ComparisonKey != key {
			continue
		}
		if other.State() != StateStopped {
			return "", fmt.Errorf("%w: %s", ErrKeyInUse, key)
		}
		delete(r.monitors, id)
	}

	if err := m.Start(ctx); err != nil {
		return "", err
	}
	id := uuid.NewString()
	r.monitors[id] = m
	return id, nil
}

// StopMonitor stops the monitor behind id and forgets the handle. Like
// Monitor.Stop it waits for the loop to exit, so engine handlers must use
// Get(id) and Monitor.Cancel instead.
func (r *Registry) StopMonitor(id string) error {
	m, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMonitor, id)
	}
	m.Stop()

	r.mu.Lock()
	if r.monitors[id] == m {
		delete(r.monitors, id)
	}
	r.mu.Unlock()
	return nil
}

// Get returns the monitor behind id.
func (r *Registry) Get(id string) (*Monitor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.monitors[id]
	return m, ok
}

// List returns every known monitor ordered by comparison key.
func (r *Registry) List() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.monitors))
	for id, m := range r.monitors {
		out = append(out, Info{ID: id, Status: m.Status()})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ComparisonKey != out[j].ComparisonKey {
			return out[i].ComparisonKey < out[j].ComparisonKey
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// StopAll stops every monitor and empties the registry.
func (r *Registry) StopAll() {
	r.mu.Lock()
	monitors := r.monitors
	r.monitors = make(map[string]*Monitor)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, m := range monitors {
		wg.Add(1)
		go func(m *Monitor) {
			defer wg.Done()
			m.Stop()
		}(m)
	}
	wg.Wait()
}
