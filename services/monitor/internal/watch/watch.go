// Package watch drives the long running watch command: it picks the orders to
// monitor, restarts the monitor on a schedule and forwards changes to the bus.
package watch

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"slotwatch/services/monitor"
	"slotwatch/services/sellerapi"
	"slotwatch/services/timeslots"
)

// ErrNoOrders is returned when there is nothing to watch.
var ErrNoOrders = errors.New("no supply orders to watch")

// OrderLister lists supply orders. *sellerapi.Client implements it.
type OrderLister interface {
	ListOrders(ctx context.Context, limit int, startID int64) (sellerapi.OrderList, error)
}

// Registry is the part of *monitor.Registry the runner uses.
type Registry interface {
	StartMonitor(ctx context.Context, cfg monitor.Config) (string, error)
	StopMonitor(id string) error
	Get(id string) (*monitor.Monitor, bool)
}

// Options configures Run.
type Options struct {
	Registry Registry
	Lister   OrderLister
	// IDs are watched as given unless Pick is set, in which case Pick of
	// them are sampled. Without IDs the sample is drawn from ListOrders.
	IDs  []int64
	Pick int
	// RestartEvery stops the monitor and starts a fresh one, re-sampling
	// orders when Pick is set. Zero disables restarts.
	RestartEvery time.Duration
	// Monitor builds the monitor configuration for the chosen ids.
	Monitor func(ids []int64) monitor.Config
	Logger  zerolog.Logger
	Rand    *rand.Rand
}

// Run watches until ctx is cancelled or the monitor stops on its own, in
// which case the monitor's stop reason is returned.
func Run(ctx context.Context, opts Options) error {
	if opts.Registry == nil || opts.Monitor == nil {
		return fmt.Errorf("%w: registry and monitor config are required", timeslots.ErrInvalidArgument)
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5107))
	}

	for {
		ids, err := resolveIDs(ctx, opts)
		if err != nil {
			return err
		}

		handle, err := opts.Registry.StartMonitor(ctx, opts.Monitor(ids))
		if err != nil {
			return fmt.Errorf("start monitor: %w", err)
		}
		m, ok := opts.Registry.Get(handle)
		if !ok {
			return fmt.Errorf("%w: %s", monitor.ErrUnknownMonitor, handle)
		}
		opts.Logger.Info().Str("monitor_id", handle).Ints64("ids", ids).Msg("watching")

		restart, stopTimer := schedule(opts.RestartEvery)

		select {
		case <-ctx.Done():
			stopTimer()
			_ = opts.Registry.StopMonitor(handle)
			return nil
		case <-m.Done():
			stopTimer()
			_ = opts.Registry.StopMonitor(handle)
			return m.Err()
		case <-restart:
			_ = opts.Registry.StopMonitor(handle)
			opts.Logger.Info().Str("monitor_id", handle).Dur("every", opts.RestartEvery).Msg("scheduled restart")
		}
	}
}

func schedule(every time.Duration) (<-chan time.Time, func()) {
	if every <= 0 {
		return nil, func() {}
	}
	timer := time.NewTimer(every)
	return timer.C, func() { timer.Stop() }
}

func resolveIDs(ctx context.Context, opts Options) ([]int64, error) {
	if opts.Pick <= 0 {
		if len(opts.IDs) == 0 {
			return nil, ErrNoOrders
		}
		return opts.IDs, nil
	}

	candidates := opts.IDs
	if len(candidates) == 0 {
		if opts.Lister == nil {
			return nil, ErrNoOrders
		}
		page, err := opts.Lister.ListOrders(ctx, sellerapi.MaxOrdersPerRequest, 0)
		if err != nil {
			return nil, fmt.Errorf("list orders: %w", err)
		}
		candidates = page.IDs()
	}
	if len(candidates) == 0 {
		return nil, ErrNoOrders
	}
	return Pick(candidates, opts.Pick, opts.Rand), nil
}

// Pick returns n distinct elements of ids in random order, or all of them
// shuffled when n >= len(ids). ids is not modified.
func Pick(ids []int64, n int, r *rand.Rand) []int64 {
	if n <= 0 {
		return nil
	}
	out := append([]int64(nil), ids...)
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	if n < len(out) {
		out = out[:n]
	}
	return out
}
