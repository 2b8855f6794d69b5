// Package query implements the client-side query cache: results keyed by
// query identity, at most one in-flight load per identity, explicit
// staleness, and change notification.
//
// Cache state is guarded by one mutex that is never held across a Loader
// call or a subscriber callback. Loads run on a context detached from the
// caller, so a caller giving up never aborts a load other callers share.
package query

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/gepdash/internal/errors"
)

// Status is the lifecycle position of one query identity.
type Status int

const (
	StatusAbsent Status = iota
	StatusPending
	StatusResolved
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusAbsent:
		return "absent"
	case StatusPending:
		return "pending"
	case StatusResolved:
		return "resolved"
	case StatusErrored:
		return "errored"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// State is a snapshot of one query identity.
type State struct {
	Key    Key
	Status Status

	// Value is the last resolved value. It stays readable while a refetch
	// is pending.
	Value any
	Err   error

	// Stale is set by invalidation and cleared when a new load starts.
	Stale bool

	// RequestID identifies the load that produced the stored result
	RequestID string

	FetchedAt time.Time
	FailedAt  time.Time
}

// Loader resolves a key against the remote service.
type Loader interface {
	Load(ctx context.Context, key Key) (any, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, key Key) (any, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, key Key) (any, error) {
	return f(ctx, key)
}

// Option configures a Cache.
type Option func(*Cache)

// WithStaleTime sets how long a resolved value counts as fresh. Zero, the
// default, treats every value as stale so each Fetch revalidates.
func WithStaleTime(d time.Duration) Option {
	return func(c *Cache) { c.staleTime = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger. Loads are logged at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithMetrics records cache activity in m.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// Cache memoizes loader results by Key.
type Cache struct {
	loader    Loader
	staleTime time.Duration
	now       func() time.Time
	logger    *slog.Logger
	metrics   *Metrics

	mu          sync.Mutex
	entries     map[Key]*entry
	closed      bool
	nextSub     uint64
}

type entry struct {
	state    State
	inflight *call
	// epoch advances on every invalidation; a load started under an older
	// epoch stores its result as stale.
	epoch uint64
	subs  map[uint64]*subscriber

	// queue holds notices not yet delivered; dispatching is set while one
	// goroutine drains it, so transitions of one key arrive in order.
	queue       []notice
	dispatching bool
}

// call is one load. Waiters block on done, which closes when the load
// finishes or when the call is superseded; a superseded call points at the
// call whose result its waiters take instead.
type call struct {
	id     string
	epoch  uint64
	done   chan struct{}
	closed bool
	value  any
	err    error
	next   *call
}

// closeLocked releases waiters. Caller holds c.mu.
func (cl *call) closeLocked() {
	if !cl.closed {
		cl.closed = true
		close(cl.done)
	}
}

// supersedeLocked forwards the waiters of cl to next. Caller holds c.mu.
func (cl *call) supersedeLocked(next *call) {
	cl.next = next
	cl.closeLocked()
}

type subscriber struct {
	fn     func(State)
	active atomic.Bool
}

type notice struct {
	sub   *subscriber
	state State
}

// New creates a Cache that resolves keys through loader.
func New(loader Loader, opts ...Option) *Cache {
	c := &Cache{
		loader:  loader,
		now:     time.Now,
		logger:  slog.Default(),
		entries: make(map[Key]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the value for key. A fresh resolved value is returned
// directly; a pending load is joined; otherwise a new load starts. If ctx
// ends first Fetch returns ctx.Err() and the load carries on.
func (c *Cache) Fetch(ctx context.Context, key Key) (any, error) {
	cl, v, err := c.acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	if cl == nil {
		return v, nil
	}
	return c.await(ctx, cl)
}

// Prefetch starts a load for key unless one is pending or the value is fresh.
func (c *Cache) Prefetch(key Key) error {
	return c.prefetch(context.Background(), key)
}

func (c *Cache) prefetch(ctx context.Context, key Key) error {
	_, _, err := c.acquire(ctx, key)
	return err
}

// acquire returns the call to wait on, or a nil call and the fresh value.
func (c *Cache) acquire(ctx context.Context, key Key) (*call, any, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, errors.NewClosed("query cache")
	}
	e := c.entryLocked(key)

	if cl := e.inflight; cl != nil && cl.epoch == e.epoch {
		c.mu.Unlock()
		c.metrics.fetch(key, outcomeJoined)
		return cl, nil, nil
	}
	if e.inflight == nil && c.freshLocked(e) {
		v := e.state.Value
		c.mu.Unlock()
		c.metrics.fetch(key, outcomeHit)
		return nil, v, nil
	}

	cl := c.startLocked(ctx, key, e)
	c.mu.Unlock()
	c.metrics.fetch(key, outcomeMiss)
	c.dispatch(e)
	return cl, nil, nil
}

func (c *Cache) startLocked(ctx context.Context, key Key, e *entry) *call {
	cl := &call{
		id:    ulid.Make().String(),
		epoch: e.epoch,
		done:  make(chan struct{}),
	}
	if prev := e.inflight; prev != nil {
		prev.supersedeLocked(cl)
	}
	e.inflight = cl
	e.state.Status = StatusPending
	e.state.Stale = false
	c.notifyLocked(e)

	go c.load(context.WithoutCancel(ctx), key, cl)
	return cl
}

func (c *Cache) load(ctx context.Context, key Key, cl *call) {
	c.logger.Debug("query load started", "key", key.String(), "request_id", cl.id)
	start := time.Now()
	v, err := c.safeLoad(ctx, key)
	c.finish(key, cl, v, err, time.Since(start))
}

func (c *Cache) safeLoad(ctx context.Context, key Key) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewInternal(fmt.Errorf("load %s: panic: %v", key, r))
		}
	}()
	return c.loader.Load(ctx, key)
}

// finish stores the result of cl if cl is still the entry's current call.
func (c *Cache) finish(key Key, cl *call, v any, err error, took time.Duration) {
	c.mu.Lock()
	cl.value, cl.err = v, err

	e := c.entries[key]
	if c.closed || e == nil || e.inflight != cl {
		cl.closeLocked()
		c.mu.Unlock()
		c.logger.Debug("query load discarded", "key", key.String(), "request_id", cl.id)
		c.metrics.load(key, resultDiscarded, took)
		return
	}

	e.inflight = nil
	e.state.RequestID = cl.id
	e.state.Stale = cl.epoch != e.epoch
	if err != nil {
		e.state.Status = StatusErrored
		e.state.Value = nil
		e.state.Err = err
		e.state.FailedAt = c.now()
	} else {
		e.state.Status = StatusResolved
		e.state.Value = v
		e.state.Err = nil
		e.state.FetchedAt = c.now()
	}
	c.notifyLocked(e)
	cl.closeLocked()
	c.mu.Unlock()

	result := resultOK
	if err != nil {
		result = resultError
	}
	c.logger.Debug("query load finished",
		"key", key.String(),
		"request_id", cl.id,
		"result", result,
		"duration", took,
	)
	c.metrics.load(key, result, took)
	c.dispatch(e)
}

// await follows cl, and any call that superseded it, to a result.
func (c *Cache) await(ctx context.Context, cl *call) (any, error) {
	for {
		select {
		case <-cl.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if cl.next == nil {
			return cl.value, cl.err
		}
		cl = cl.next
	}
}

func (c *Cache) freshLocked(e *entry) bool {
	if e.state.Status != StatusResolved || e.state.Stale || c.staleTime <= 0 {
		return false
	}
	return c.now().Sub(e.state.FetchedAt) < c.staleTime
}

// Peek returns the current state of key without loading.
func (c *Cache) Peek(key Key) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.state
	}
	return State{Key: key}
}

// Invalidate marks key stale. It returns 1 if the entry was newly marked.
func (c *Cache) Invalidate(key Key) int {
	return c.InvalidateMatching(MatchKey(key))
}

// InvalidateMatching marks every cached entry selected by pred stale and
// returns how many were newly marked. Entries already stale are left alone
// and their subscribers are not notified again. Nothing is reloaded here;
// an invalidated pending load stores its result as stale and the next
// Fetch supersedes it.
func (c *Cache) InvalidateMatching(pred Predicate) int {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	var touched []*entry
	for k, e := range c.entries {
		if e.state.Status == StatusAbsent || e.state.Stale || !pred(k) {
			continue
		}
		e.state.Stale = true
		e.epoch++
		touched = append(touched, e)
		c.metrics.invalidated(k)
		c.notifyLocked(e)
	}
	c.mu.Unlock()
	c.dispatch(touched...)
	return len(touched)
}

// Set stores a value confirmed by the remote service, superseding any
// pending load. Waiters of the superseded load receive v.
func (c *Cache) Set(key Key, v any) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	e := c.entryLocked(key)
	if prev := e.inflight; prev != nil {
		prev.supersedeLocked(settled(v, nil))
		e.inflight = nil
	}
	e.state = State{
		Key:       key,
		Status:    StatusResolved,
		Value:     v,
		RequestID: ulid.Make().String(),
		FetchedAt: c.now(),
	}
	c.notifyLocked(e)
	c.mu.Unlock()
	c.dispatch(e)
}

// Remove resets key to absent, superseding any pending load. Waiters of the
// superseded load receive a not-found error; subscribers observe absent.
func (c *Cache) Remove(key Key) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	if prev := e.inflight; prev != nil {
		prev.supersedeLocked(settled(nil, errors.NewNotFound(string(key.Kind), key.Param("id"))))
		e.inflight = nil
	}
	e.epoch++
	wasAbsent := e.state.Status == StatusAbsent
	e.state = State{Key: key}
	if !wasAbsent {
		c.notifyLocked(e)
	}
	c.pruneLocked(key, e)
	c.mu.Unlock()
	c.dispatch(e)
}

// Clear resets every entry to absent. Subscriptions survive.
func (c *Cache) Clear() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	var touched []*entry
	for k, e := range c.entries {
		e.inflight = nil
		e.epoch++
		if e.state.Status != StatusAbsent {
			e.state = State{Key: k}
			c.notifyLocked(e)
			touched = append(touched, e)
		}
		c.pruneLocked(k, e)
	}
	c.mu.Unlock()
	c.dispatch(touched...)
}

// Close disposes the cache. Pending loads finish and are discarded, no
// further callbacks run, and Fetch returns a CLOSED error.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, e := range c.entries {
		for _, s := range e.subs {
			s.active.Store(false)
		}
		e.queue = nil
	}
	c.entries = make(map[Key]*entry)
	c.metrics.setEntries(0)
}

// Keys returns every key holding a result or a pending load, sorted.
func (c *Cache) Keys() []Key {
	c.mu.Lock()
	keys := make([]Key, 0, len(c.entries))
	for k, e := range c.entries {
		if e.state.Status != StatusAbsent {
			keys = append(keys, k)
		}
	}
	c.mu.Unlock()
	slices.SortFunc(keys, func(a, b Key) int {
		return cmp.Compare(a.String(), b.String())
	})
	return keys
}

// Len returns len(Keys()).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.state.Status != StatusAbsent {
			n++
		}
	}
	return n
}

// Subscribe registers fn for every state transition of key. If key is
// resolved, fn receives the current state before Subscribe returns, unless
// another goroutine is delivering notices for the same key; then it follows
// those in order. Calling the returned
// func more than once is safe; once it returns, no notification that has
// not already started is delivered.
func (c *Cache) Subscribe(key Key, fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return func() {}
	}
	e := c.entryLocked(key)
	c.nextSub++
	id := c.nextSub
	sub := &subscriber{fn: fn}
	sub.active.Store(true)
	e.subs[id] = sub
	if e.state.Status == StatusResolved {
		e.queue = append(e.queue, notice{sub: sub, state: e.state})
	}
	c.mu.Unlock()
	c.dispatch(e)

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			c.mu.Lock()
			if e, ok := c.entries[key]; ok {
				delete(e.subs, id)
				c.pruneLocked(key, e)
			}
			c.mu.Unlock()
		})
	}
}

// Watch subscribes fn to key and keeps the value current while the watch is
// active: the cached value is delivered at once, a background load starts,
// and every stale transition triggers another load. The watch ends when
// ctx is done or the returned func is called.
func (c *Cache) Watch(ctx context.Context, key Key, fn func(State)) (stop func()) {
	unsub := c.Subscribe(key, func(s State) {
		fn(s)
		if s.Stale {
			if err := c.prefetch(ctx, key); err != nil {
				c.logger.Debug("watch refetch skipped", "key", key.String(), "error", err)
			}
		}
	})
	if err := c.prefetch(ctx, key); err != nil {
		c.logger.Debug("watch fetch skipped", "key", key.String(), "error", err)
	}
	stopAfter := context.AfterFunc(ctx, unsub)
	return func() {
		stopAfter()
		unsub()
	}
}

func (c *Cache) entryLocked(key Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{
			state: State{Key: key},
			subs:  make(map[uint64]*subscriber),
		}
		c.entries[key] = e
		c.metrics.setEntries(len(c.entries))
	}
	return e
}

// pruneLocked drops an entry that holds nothing worth keeping.
func (c *Cache) pruneLocked(key Key, e *entry) {
	if e.state.Status == StatusAbsent && e.inflight == nil && len(e.subs) == 0 {
		delete(c.entries, key)
		c.metrics.setEntries(len(c.entries))
	}
}

func (c *Cache) notifyLocked(e *entry) {
	for _, s := range e.subs {
		e.queue = append(e.queue, notice{sub: s, state: e.state})
	}
}

// dispatch delivers the queued notices of each entry in order.
func (c *Cache) dispatch(entries ...*entry) {
	for _, e := range entries {
		c.drain(e)
	}
}

// drain delivers e's queue. Only one goroutine drains an entry at a time; a
// notice queued meanwhile, by a callback or another goroutine, is delivered
// by the drain already running. Entries drain independently of each other.
func (c *Cache) drain(e *entry) {
	c.mu.Lock()
	if e.dispatching {
		c.mu.Unlock()
		return
	}
	e.dispatching = true
	for len(e.queue) > 0 {
		batch := e.queue
		e.queue = nil
		c.mu.Unlock()
		for _, n := range batch {
			c.deliver(n)
		}
		c.mu.Lock()
	}
	e.dispatching = false
	c.mu.Unlock()
}

func (c *Cache) deliver(n notice) {
	if !n.sub.active.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("query subscriber panicked", "key", n.state.Key.String(), "panic", r)
		}
	}()
	n.sub.fn(n.state)
}

func settled(v any, err error) *call {
	cl := &call{done: make(chan struct{}), value: v, err: err}
	cl.closeLocked()
	return cl
}
