package query

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/gepdash/internal/entity"
	"github.com/hpungsan/gepdash/internal/errors"
)

const waitFor = 2 * time.Second

// pendingLoad is one Load call parked until the test answers it.
type pendingLoad struct {
	key   Key
	reply chan loadResult
}

type loadResult struct {
	v   any
	err error
}

func (p *pendingLoad) resolve(v any)  { p.reply <- loadResult{v: v} }
func (p *pendingLoad) fail(err error) { p.reply <- loadResult{err: err} }

// scriptedLoader hands every Load to the test through loads.
type scriptedLoader struct {
	loads chan *pendingLoad
	count atomic.Int32
}

func newScriptedLoader() *scriptedLoader {
	return &scriptedLoader{loads: make(chan *pendingLoad, 16)}
}

func (l *scriptedLoader) Load(_ context.Context, key Key) (any, error) {
	l.count.Add(1)
	p := &pendingLoad{key: key, reply: make(chan loadResult, 1)}
	l.loads <- p
	r := <-p.reply
	return r.v, r.err
}

func (l *scriptedLoader) next(t *testing.T) *pendingLoad {
	t.Helper()
	select {
	case p := <-l.loads:
		return p
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for a load")
		return nil
	}
}

func (l *scriptedLoader) expectIdle(t *testing.T) {
	t.Helper()
	select {
	case p := <-l.loads:
		t.Fatalf("unexpected load for %s", p.key)
	case <-time.After(50 * time.Millisecond):
	}
}

// recorder collects states delivered to a subscriber.
type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) record(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *recorder) last() (State, bool) {
	s := r.snapshot()
	if len(s) == 0 {
		return State{}, false
	}
	return s[len(s)-1], true
}

// fetchAsync runs Fetch in a goroutine and returns a channel with the result.
func fetchAsync(c *Cache, ctx context.Context, key Key) <-chan loadResult {
	out := make(chan loadResult, 1)
	go func() {
		v, err := c.Fetch(ctx, key)
		out <- loadResult{v: v, err: err}
	}()
	return out
}

func receive(t *testing.T, ch <-chan loadResult) loadResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for Fetch")
		return loadResult{}
	}
}

var genesKey = ListKey(entity.KindGene, nil)

func TestFetch_ConcurrentCallersShareOneLoad(t *testing.T) {
	l := newScriptedLoader()
	c := New(l, WithStaleTime(time.Hour))
	defer c.Close()

	first := fetchAsync(c, context.Background(), genesKey)
	p := l.next(t)

	// Every caller arriving while the load is pending joins the same call.
	cl1, _, err := c.acquire(context.Background(), genesKey)
	require.NoError(t, err)
	cl2, _, err := c.acquire(context.Background(), genesKey)
	require.NoError(t, err)
	assert.Same(t, cl1, cl2)

	var results []<-chan loadResult
	for range 10 {
		results = append(results, fetchAsync(c, context.Background(), genesKey))
	}
	p.resolve("genes")
	assert.Equal(t, "genes", receive(t, first).v)
	l.expectIdle(t)
	assert.Equal(t, int32(1), l.count.Load())

	// callers arriving after resolution are served the fresh value
	for _, ch := range results {
		assert.Equal(t, "genes", receive(t, ch).v)
	}
	assert.Equal(t, int32(1), l.count.Load())
}

func TestFetch_FreshValueIsServedFromCache(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var clock atomic.Pointer[time.Time]
	clock.Store(&now)

	l := newScriptedLoader()
	c := New(l,
		WithStaleTime(time.Minute),
		WithClock(func() time.Time { return *clock.Load() }),
	)
	defer c.Close()

	ch := fetchAsync(c, context.Background(), genesKey)
	l.next(t).resolve("v1")
	assert.Equal(t, "v1", receive(t, ch).v)

	later := now.Add(30 * time.Second)
	clock.Store(&later)
	v, err := c.Fetch(context.Background(), genesKey)
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
	l.expectIdle(t)

	expired := now.Add(2 * time.Minute)
	clock.Store(&expired)
	ch = fetchAsync(c, context.Background(), genesKey)
	l.next(t).resolve("v2")
	assert.Equal(t, "v2", receive(t, ch).v)
	assert.Equal(t, int32(2), l.count.Load())
}

func TestFetch_ZeroStaleTimeAlwaysRevalidates(t *testing.T) {
	l := newScriptedLoader()
	c := New(l)
	defer c.Close()

	ch := fetchAsync(c, context.Background(), genesKey)
	l.next(t).resolve("v1")
	receive(t, ch)

	ch = fetchAsync(c, context.Background(), genesKey)
	p := l.next(t)
	// previous value stays readable while the refetch is pending
	st := c.Peek(genesKey)
	assert.Equal(t, StatusPending, st.Status)
	assert.Equal(t, "v1", st.Value)

	p.resolve("v2")
	assert.Equal(t, "v2", receive(t, ch).v)
}

func TestInvalidate_ForcesNewLoadEvenIfFresh(t *testing.T) {
	l := newScriptedLoader()
	c := New(l, WithStaleTime(time.Hour))
	defer c.Close()

	ch := fetchAsync(c, context.Background(), genesKey)
	l.next(t).resolve("v1")
	receive(t, ch)

	assert.Equal(t, 1, c.Invalidate(genesKey))
	assert.True(t, c.Peek(genesKey).Stale)

	ch = fetchAsync(c, context.Background(), genesKey)
	l.next(t).resolve("v2")
	assert.Equal(t, "v2", receive(t, ch).v)
	assert.False(t, c.Peek(genesKey).Stale)
}

func TestInvalidate_Idempotent(t *testing.T) {
	l := newScriptedLoader()
	c := New(l)
	defer c.Close()

	ch := fetchAsync(c, context.Background(), genesKey)
	l.next(t).resolve("v1")
	receive(t, ch)

	rec := &recorder{}
	unsub := c.Subscribe(genesKey, rec.record)
	defer unsub()
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, waitFor, time.Millisecond)

	assert.Equal(t, 1, c.Invalidate(genesKey))
	assert.Equal(t, 0, c.Invalidate(genesKey))
	assert.Equal(t, 0, c.InvalidateMatching(MatchKind(entity.KindGene)))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, waitFor, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	states := rec.snapshot()
	require.Len(t, states, 2)
	assert.True(t, states[1].Stale)
	assert.Equal(t, StatusResolved, states[1].Status)
}

func TestInvalidate_AbsentKeyIsNoop(t *testing.T) {
	c := New(newScriptedLoader())
	defer c.Close()
	assert.Equal(t, 0, c.Invalidate(GetKey(entity.KindGene, "nope")))
	assert.Equal(t, 0, c.Len())
}

func TestInvalidateMatching_SelectsByPredicate(t *testing.T) {
	c := New(newScriptedLoader())
	defer c.Close()

	c.Set(ListKey(entity.KindGene, nil), "genes")
	c.Set(GetKey(entity.KindGene, "g1"), "g1")
	c.Set(ListKey(entity.KindCapsule, nil), "capsules")
	c.Set(GetKey(entity.KindCapsule, "c1"), "c1")

	n := c.InvalidateMatching(And(MatchKind(entity.KindGene), MatchOp(OpList)))
	assert.Equal(t, 1, n)
	assert.True(t, c.Peek(ListKey(entity.KindGene, nil)).Stale)
	assert.False(t, c.Peek(GetKey(entity.KindGene, "g1")).Stale)

	n = c.InvalidateMatching(MatchKind(entity.KindCapsule))
	assert.Equal(t, 2, n)
}

func TestSubscribe_UnsubscribeBeforeResolution(t *testing.T) {
	l := newScriptedLoader()
	c := New(l)
	defer c.Close()

	ch := fetchAsync(c, context.Background(), genesKey)
	p := l.next(t)

	var aCalls atomic.Int32
	unsubA := c.Subscribe(genesKey, func(State) { aCalls.Add(1) })
	recB := &recorder{}
	unsubB := c.Subscribe(genesKey, recB.record)
	defer unsubB()

	unsubA()
	unsubA() // idempotent

	p.resolve("genes")
	receive(t, ch)

	require.Eventually(t, func() bool {
		s, ok := recB.last()
		return ok && s.Status == StatusResolved
	}, waitFor, time.Millisecond)
	s, _ := recB.last()
	assert.Equal(t, "genes", s.Value)
	assert.Equal(t, int32(0), aCalls.Load())
}

func TestSubscribe_ResolvedDeliversImmediately(t *testing.T) {
	c := New(newScriptedLoader())
	defer c.Close()
	c.Set(genesKey, "genes")

	rec := &recorder{}
	unsub := c.Subscribe(genesKey, rec.record)
	defer unsub()

	states := rec.snapshot()
	require.Len(t, states, 1)
	assert.Equal(t, StatusResolved, states[0].Status)
	assert.Equal(t, "genes", states[0].Value)
	assert.NotEmpty(t, states[0].RequestID)
}

func TestSubscribe_ObservesOrderedTransitions(t *testing.T) {
	l := newScriptedLoader()
	c := New(l)
	defer c.Close()

	rec := &recorder{}
	unsub := c.Subscribe(genesKey, rec.record)
	defer unsub()

	ch := fetchAsync(c, context.Background(), genesKey)
	l.next(t).fail(errors.NewTransport("GET", "/genes", fmt.Errorf("connection refused")))
	r := receive(t, ch)
	assert.True(t, errors.Is(r.err, errors.ErrTransport))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, waitFor, time.Millisecond)
	states := rec.snapshot()
	assert.Equal(t, StatusPending, states[0].Status)
	assert.Equal(t, StatusErrored, states[1].Status)
	assert.True(t, errors.Is(states[1].Err, errors.ErrTransport))
	assert.False(t, states[1].FailedAt.IsZero())
}

func TestSubscribe_SlowSubscriberOnOtherKeyDoesNotDelay(t *testing.T) {
	l := newScriptedLoader()
	c := New(l)
	defer c.Close()
	g1 := GetKey(entity.KindGene, "g1")
	g2 := GetKey(entity.KindGene, "g2")
	c.Set(g1, "one")

	entered := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	unsubSlow := c.Subscribe(g2, func(s State) {
		if s.Status == StatusPending {
			once.Do(func() { close(entered) })
			<-unblock
		}
	})
	defer unsubSlow()

	ch := fetchAsync(c, context.Background(), g2)
	p := l.next(t)
	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("slow subscriber never ran")
	}

	rec := &recorder{}
	unsub := c.Subscribe(g1, rec.record)
	defer unsub()

	states := rec.snapshot()
	require.Len(t, states, 1, "resolved state must arrive before Subscribe returns")
	assert.Equal(t, "one", states[0].Value)

	close(unblock)
	p.resolve("two")
	r := receive(t, ch)
	assert.Equal(t, "two", r.v)
}

func TestFetch_ErrorOnOneKeyLeavesOthersAlone(t *testing.T) {
	l := newScriptedLoader()
	c := New(l, WithStaleTime(time.Hour))
	defer c.Close()
	good := GetKey(entity.KindGene, "g1")
	bad := GetKey(entity.KindGene, "missing")

	ch := fetchAsync(c, context.Background(), good)
	l.next(t).resolve("one")
	require.NoError(t, receive(t, ch).err)

	rec := &recorder{}
	unsub := c.Subscribe(good, rec.record)
	defer unsub()
	require.Len(t, rec.snapshot(), 1)

	ch = fetchAsync(c, context.Background(), bad)
	l.next(t).fail(errors.NewNotFound("gene", "missing"))
	assert.True(t, errors.Is(receive(t, ch).err, errors.ErrNotFound))
	assert.Equal(t, StatusErrored, c.Peek(bad).Status)

	st := c.Peek(good)
	assert.Equal(t, StatusResolved, st.Status)
	assert.False(t, st.Stale)
	assert.Equal(t, "one", st.Value)

	v, err := c.Fetch(context.Background(), good)
	require.NoError(t, err)
	assert.Equal(t, "one", v)
	l.expectIdle(t)
	assert.Equal(t, int32(2), l.count.Load())
	assert.Len(t, rec.snapshot(), 1, "good key subscriber saw the other key's failure")
}

func TestFetch_ErroredIsRetriedOnDemandOnly(t *testing.T) {
	l := newScriptedLoader()
	c := New(l, WithStaleTime(time.Hour))
	defer c.Close()

	ch := fetchAsync(c, context.Background(), genesKey)
	l.next(t).fail(errors.NewNotFound("gene", "missing"))
	assert.True(t, errors.Is(receive(t, ch).err, errors.ErrNotFound))
	l.expectIdle(t)

	ch = fetchAsync(c, context.Background(), genesKey)
	l.next(t).resolve("found")
	assert.Equal(t, "found", receive(t, ch).v)
	assert.Equal(t, StatusResolved, c.Peek(genesKey).Status)
}

func TestFencing_SupersededResponseIsDiscarded(t *testing.T) {
	l := newScriptedLoader()
	c := New(l)
	defer c.Close()

	first := fetchAsync(c, context.Background(), genesKey)
	old := l.next(t)

	c.Invalidate(genesKey)
	second := fetchAsync(c, context.Background(), genesKey)
	newer := l.next(t)
	assert.Equal(t, int32(2), l.count.Load())

	newer.resolve("new")
	assert.Equal(t, "new", receive(t, second).v)

	// The superseded call's waiter is forwarded to the newer result.
	assert.Equal(t, "new", receive(t, first).v)

	old.resolve("old")
	time.Sleep(20 * time.Millisecond)
	st := c.Peek(genesKey)
	assert.Equal(t, "new", st.Value)
	assert.False(t, st.Stale)
}

func TestFencing_InvalidatedPendingResultIsStoredStale(t *testing.T) {
	l := newScriptedLoader()
	c := New(l)
	defer c.Close()

	ch := fetchAsync(c, context.Background(), genesKey)
	p := l.next(t)
	assert.Equal(t, 1, c.Invalidate(genesKey))

	p.resolve("v1")
	assert.Equal(t, "v1", receive(t, ch).v)

	st := c.Peek(genesKey)
	assert.Equal(t, StatusResolved, st.Status)
	assert.True(t, st.Stale)
}

func TestSet_SupersedesPendingLoad(t *testing.T) {
	l := newScriptedLoader()
	c := New(l)
	defer c.Close()

	key := GetKey(entity.KindGene, "g1")
	ch := fetchAsync(c, context.Background(), key)
	p := l.next(t)

	c.Set(key, "confirmed")
	assert.Equal(t, "confirmed", receive(t, ch).v)

	p.resolve("pre-write")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "confirmed", c.Peek(key).Value)
}

func TestRemove_ObserversSeeAbsent(t *testing.T) {
	l := newScriptedLoader()
	c := New(l)
	defer c.Close()

	key := GetKey(entity.KindGene, "g1")
	c.Set(key, "g1")

	rec := &recorder{}
	unsub := c.Subscribe(key, rec.record)
	defer unsub()

	ch := fetchAsync(c, context.Background(), key)
	p := l.next(t)

	c.Remove(key)
	r := receive(t, ch)
	assert.True(t, errors.Is(r.err, errors.ErrNotFound))

	p.resolve("deleted record")
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, StatusAbsent, c.Peek(key).Status)
	last, ok := rec.last()
	require.True(t, ok)
	assert.Equal(t, StatusAbsent, last.Status)
	assert.Nil(t, last.Value)
}

func TestFetch_CallerCancellationDoesNotAbortLoad(t *testing.T) {
	l := newScriptedLoader()
	c := New(l)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := fetchAsync(c, ctx, genesKey)
	p := l.next(t)

	cancel()
	assert.ErrorIs(t, receive(t, ch).err, context.Canceled)

	p.resolve("genes")
	require.Eventually(t, func() bool {
		return c.Peek(genesKey).Status == StatusResolved
	}, waitFor, time.Millisecond)
	assert.Equal(t, "genes", c.Peek(genesKey).Value)
}

func TestWatch_ServesCachedThenRevalidates(t *testing.T) {
	l := newScriptedLoader()
	c := New(l)
	defer c.Close()
	c.Set(genesKey, "cached")

	rec := &recorder{}
	stop := c.Watch(context.Background(), genesKey, rec.record)
	defer stop()

	first := rec.snapshot()
	require.NotEmpty(t, first)
	assert.Equal(t, "cached", first[0].Value)

	l.next(t).resolve("fresh")
	require.Eventually(t, func() bool {
		s, ok := rec.last()
		return ok && s.Status == StatusResolved && s.Value == "fresh"
	}, waitFor, time.Millisecond)

	// a stale transition triggers another load while the watch is active
	c.Invalidate(genesKey)
	l.next(t).resolve("after-invalidate")
	require.Eventually(t, func() bool {
		s, ok := rec.last()
		return ok && s.Value == "after-invalidate" && !s.Stale
	}, waitFor, time.Millisecond)

	stop()
	c.Invalidate(genesKey)
	l.expectIdle(t)
}

func TestWatch_EndsWithContext(t *testing.T) {
	l := newScriptedLoader()
	c := New(l)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	c.Watch(ctx, genesKey, func(State) { calls.Add(1) })
	l.next(t).resolve("v1")
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, waitFor, time.Millisecond)

	cancel()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		e, ok := c.entries[genesKey]
		return ok && len(e.subs) == 0
	}, waitFor, time.Millisecond)

	before := calls.Load()
	c.Invalidate(genesKey)
	l.expectIdle(t)
	assert.Equal(t, before, calls.Load())
}

func TestKeysLenClear(t *testing.T) {
	c := New(newScriptedLoader())
	defer c.Close()

	c.Set(GetKey(entity.KindGene, "g2"), 2)
	c.Set(GetKey(entity.KindGene, "g1"), 1)
	c.Set(ListKey(entity.KindCapsule, nil), "caps")

	assert.Equal(t, 3, c.Len())
	keys := c.Keys()
	require.Len(t, keys, 3)
	assert.Equal(t, "capsule/list", keys[0].String())
	assert.Equal(t, "gene/get?id=g1", keys[1].String())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.Keys())
}

func TestClose_RejectsFetchAndSilencesSubscribers(t *testing.T) {
	l := newScriptedLoader()
	c := New(l)

	ch := fetchAsync(c, context.Background(), genesKey)
	p := l.next(t)

	var calls atomic.Int32
	c.Subscribe(genesKey, func(State) { calls.Add(1) })

	c.Close()
	c.Close()

	_, err := c.Fetch(context.Background(), genesKey)
	assert.True(t, errors.Is(err, errors.ErrClosed))
	assert.True(t, errors.Is(c.Prefetch(genesKey), errors.ErrClosed))

	p.resolve("late")
	receive(t, ch)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, 0, c.Len())
}

func TestLoaderPanicBecomesInternalError(t *testing.T) {
	c := New(LoaderFunc(func(context.Context, Key) (any, error) {
		panic("boom")
	}))
	defer c.Close()

	_, err := c.Fetch(context.Background(), genesKey)
	assert.True(t, errors.Is(err, errors.ErrInternal))
	assert.Equal(t, StatusErrored, c.Peek(genesKey).Status)
}

func TestMetrics_RecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	l := newScriptedLoader()
	c := New(l, WithMetrics(m), WithStaleTime(time.Hour))
	defer c.Close()

	ch := fetchAsync(c, context.Background(), genesKey)
	p := l.next(t)
	joined := fetchAsync(c, context.Background(), genesKey)
	require.Eventually(t, func() bool {
		return counterValue(t, reg, "gepdash_query_fetch_total", "outcome", "joined") == 1
	}, waitFor, time.Millisecond)
	p.resolve("genes")
	receive(t, ch)
	receive(t, joined)

	_, err := c.Fetch(context.Background(), genesKey)
	require.NoError(t, err)
	c.Invalidate(genesKey)

	assert.Equal(t, 1.0, counterValue(t, reg, "gepdash_query_fetch_total", "outcome", "miss"))
	assert.Equal(t, 1.0, counterValue(t, reg, "gepdash_query_fetch_total", "outcome", "hit"))
	assert.Equal(t, 1.0, counterValue(t, reg, "gepdash_query_load_total", "result", "ok"))
	assert.Equal(t, 1.0, counterValue(t, reg, "gepdash_query_invalidations_total", "kind", "gene"))
}

// counterValue sums the counter samples of family name whose label matches.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}
