package watch

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"slotwatch/services/monitor"
	"slotwatch/services/sellerapi"
	"slotwatch/services/timeslots"
)

type fetcher struct {
	mu   sync.Mutex
	ids  [][]int64
	fail error
}

func (f *fetcher) FetchSlots(_ context.Context, ids []int64, _ float64) ([]timeslots.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, ids)
	if f.fail != nil {
		return nil, f.fail
	}
	return []timeslots.Response{{Timeslots: []timeslots.TimeSlot{}}}, nil
}

func (f *fetcher) FetchSlotsInRanges(ctx context.Context, ids []int64, rps float64, _, _ string) ([]timeslots.Response, error) {
	return f.FetchSlots(ctx, ids, rps)
}

func (f *fetcher) seen() [][]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]int64(nil), f.ids...)
}

type lister struct {
	page  sellerapi.OrderList
	err   error
	calls int
}

func (l *lister) ListOrders(context.Context, int, int64) (sellerapi.OrderList, error) {
	l.calls++
	return l.page, l.err
}

func monitorConfig(ids []int64) monitor.Config {
	return monitor.Config{IDs: ids, RPS: 1000, ComparisonKey: "watch", MinCycleInterval: 2 * time.Millisecond}
}

func TestPick(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	ids := []int64{1, 2, 3, 4, 5}

	got := Pick(ids, 3, r)
	require.Len(t, got, 3)
	require.Subset(t, ids, got)
	seen := map[int64]bool{}
	for _, id := range got {
		require.False(t, seen[id])
		seen[id] = true
	}
	require.Equal(t, []int64{1, 2, 3, 4, 5}, ids)

	require.ElementsMatch(t, ids, Pick(ids, 10, r))
	require.Nil(t, Pick(ids, 0, r))
}

func TestRunStopsWithContext(t *testing.T) {
	f := &fetcher{}
	reg := monitor.NewRegistry(f, timeslots.NewEngine())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- Run(ctx, Options{Registry: reg, IDs: []int64{9}, Monitor: monitorConfig})
	}()

	require.Eventually(t, func() bool { return len(f.seen()) > 0 }, 2*time.Second, 2*time.Millisecond)
	cancel()
	require.NoError(t, <-errc)
	require.Empty(t, reg.List())
	require.Equal(t, []int64{9}, f.seen()[0])
}

func TestRunReturnsStopReason(t *testing.T) {
	boom := errors.New("unreachable")
	f := &fetcher{fail: boom}
	reg := monitor.NewRegistry(f, timeslots.NewEngine())

	err := Run(context.Background(), Options{Registry: reg, IDs: []int64{9}, Monitor: monitorConfig})
	require.ErrorIs(t, err, monitor.ErrTooManyFailures)
	require.ErrorIs(t, err, boom)
}

func TestRunPicksFromOrderListAndRestarts(t *testing.T) {
	f := &fetcher{}
	reg := monitor.NewRegistry(f, timeslots.NewEngine())
	l := &lister{page: sellerapi.OrderList{SupplyOrderIDs: []sellerapi.OrderID{10, 20, 30, 40}}}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- Run(ctx, Options{
			Registry:     reg,
			Lister:       l,
			Pick:         2,
			RestartEvery: 20 * time.Millisecond,
			Monitor:      monitorConfig,
			Rand:         rand.New(rand.NewPCG(3, 4)),
		})
	}()

	time.Sleep(70 * time.Millisecond)
	cancel()
	require.NoError(t, <-errc)

	require.GreaterOrEqual(t, l.calls, 2, "orders are re-sampled on restart")
	for _, ids := range f.seen() {
		require.Len(t, ids, 2)
		require.Subset(t, []int64{10, 20, 30, 40}, ids)
	}
}

func TestRunErrors(t *testing.T) {
	reg := monitor.NewRegistry(&fetcher{}, timeslots.NewEngine())
	ctx := context.Background()

	require.ErrorIs(t, Run(ctx, Options{}), timeslots.ErrInvalidArgument)
	require.ErrorIs(t, Run(ctx, Options{Registry: reg, Monitor: monitorConfig}), ErrNoOrders)
	require.ErrorIs(t, Run(ctx, Options{Registry: reg, Monitor: monitorConfig, Pick: 1, Lister: &lister{}}), ErrNoOrders)

	upstream := &timeslots.UpstreamError{Code: 7, Message: "denied"}
	err := Run(ctx, Options{Registry: reg, Monitor: monitorConfig, Pick: 1, Lister: &lister{err: upstream}})
	require.ErrorIs(t, err, timeslots.ErrUpstream)
}

type recordingPublisher struct {
	subject string
	msgID   string
	payload any
	err     error
}

func (p *recordingPublisher) PublishMsg(_ context.Context, subj, msgID string, v any) error {
	p.subject, p.msgID, p.payload = subj, msgID, v
	return p.err
}

func TestPublishChanges(t *testing.T) {
	pub := &recordingPublisher{}
	engine := timeslots.NewEngine(timeslots.WithClock(func() time.Time { return time.Unix(100, 0) }))
	sub := engine.Subscribe(PublishChanges(pub, "slotwatch.timeslots.diff", zerolog.Nop()))
	defer sub.Unsubscribe()

	_, err := engine.Diff(&timeslots.Response{Timeslots: []timeslots.TimeSlot{{From: "a", To: "b"}}}, "k", "1-2")
	require.NoError(t, err)

	require.Equal(t, "slotwatch.timeslots.diff", pub.subject)
	require.Equal(t, "k/1-2/100000000000", pub.msgID)
	entry, ok := pub.payload.(timeslots.DiffEntry)
	require.True(t, ok)
	require.Len(t, entry.Added, 1)

	pub.err = errors.New("no responders")
	_, err = engine.Diff(&timeslots.Response{}, "k", "1-2")
	require.NoError(t, err, "publish failures do not fail the diff")
}
