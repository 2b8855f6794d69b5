// Package session wires the transport, repository, query cache and mutation
// coordinator for one client session and exposes typed reads and writes.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hpungsan/gepdash/internal/config"
	"github.com/hpungsan/gepdash/internal/entity"
	"github.com/hpungsan/gepdash/internal/errors"
	"github.com/hpungsan/gepdash/internal/mutation"
	"github.com/hpungsan/gepdash/internal/query"
	"github.com/hpungsan/gepdash/internal/repo"
	"github.com/hpungsan/gepdash/internal/transport"
)

// Option configures a Session.
type Option func(*options)

type options struct {
	http       transport.Doer
	logger     *slog.Logger
	registerer prometheus.Registerer
	clock      func() time.Time
	rules      mutation.Rules
	userAgent  string
}

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(d transport.Doer) Option {
	return func(o *options) { o.http = d }
}

// WithLogger sets the logger shared by every layer.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegisterer registers cache metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithClock replaces time.Now in the cache.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// WithRules replaces the default mutation dependency table.
func WithRules(r mutation.Rules) Option {
	return func(o *options) { o.rules = r }
}

// WithUserAgent sets the User-Agent of remote requests.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// Session owns one cache and everything it needs. It is safe for concurrent
// use.
type Session struct {
	repo      *repo.Repository
	cache     *query.Cache
	coord     *mutation.Coordinator
	logger    *slog.Logger
	pageLimit int
}

// New builds a Session from cfg.
func New(cfg *config.Config, opts ...Option) (*Session, error) {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client, err := transport.New(transport.Options{
		BaseURL:   cfg.BaseURL,
		APIPrefix: cfg.APIPrefix,
		Timeout:   time.Duration(cfg.RequestTimeout),
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
		UserAgent: o.userAgent,
		HTTP:      o.http,
		Logger:    o.logger,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		repo:      repo.New(client),
		logger:    o.logger,
		pageLimit: cfg.PageLimit,
	}

	cacheOpts := []query.Option{
		query.WithStaleTime(time.Duration(cfg.StaleTime)),
		query.WithLogger(o.logger),
	}
	if o.clock != nil {
		cacheOpts = append(cacheOpts, query.WithClock(o.clock))
	}
	if o.registerer != nil {
		cacheOpts = append(cacheOpts, query.WithMetrics(query.NewMetrics(o.registerer)))
	}
	s.cache = query.New(loader{repo: s.repo}, cacheOpts...)

	coordOpts := []mutation.Option{mutation.WithLogger(o.logger)}
	if o.rules != nil {
		coordOpts = append(coordOpts, mutation.WithRules(o.rules))
	}
	s.coord = mutation.New(s.cache, writer{repo: s.repo}, coordOpts...)

	return s, nil
}

// Close disposes the cache. Later reads fail with CLOSED.
func (s *Session) Close() {
	s.cache.Close()
}

// Cache exposes the underlying query cache.
func (s *Session) Cache() *query.Cache {
	return s.cache
}

// Rules returns the mutation dependency table in use.
func (s *Session) Rules() mutation.Rules {
	return s.coord.Rules()
}

// ListKey returns the canonical key for a list of kind. Unset paging falls
// back to the configured page limit.
func (s *Session) ListKey(kind entity.Kind, p repo.ListParams) (query.Key, error) {
	if p.Limit == 0 {
		p.Limit = s.pageLimit
	}
	p, err := p.Normalize(kind)
	if err != nil {
		return query.Key{}, err
	}
	return query.ListKey(kind, p.Values()), nil
}

// Watch keeps key current and reports every transition to fn until ctx is
// done or stop is called.
func (s *Session) Watch(ctx context.Context, key query.Key, fn func(query.State)) (stop func()) {
	return s.cache.Watch(ctx, key, fn)
}

// Peek returns the cached state of key without loading.
func (s *Session) Peek(key query.Key) query.State {
	return s.cache.Peek(key)
}

// Invalidate marks key stale.
func (s *Session) Invalidate(key query.Key) int {
	return s.cache.Invalidate(key)
}

// InvalidateKind marks every cached query of kind stale.
func (s *Session) InvalidateKind(kind entity.Kind) int {
	return s.cache.InvalidateMatching(query.MatchKind(kind))
}

// Refetch invalidates key and loads it again.
func (s *Session) Refetch(ctx context.Context, key query.Key) (any, error) {
	s.cache.Invalidate(key)
	return s.cache.Fetch(ctx, key)
}

// Genes lists genes.
func (s *Session) Genes(ctx context.Context, p repo.ListParams) ([]entity.Gene, error) {
	return fetchList[entity.Gene](ctx, s, entity.KindGene, p)
}

// Gene returns one gene.
func (s *Session) Gene(ctx context.Context, id string) (entity.Gene, error) {
	return fetchAs[entity.Gene](ctx, s.cache, query.GetKey(entity.KindGene, id))
}

// Capsules lists capsules.
func (s *Session) Capsules(ctx context.Context, p repo.ListParams) ([]entity.Capsule, error) {
	return fetchList[entity.Capsule](ctx, s, entity.KindCapsule, p)
}

// Capsule returns one capsule.
func (s *Session) Capsule(ctx context.Context, id string) (entity.Capsule, error) {
	return fetchAs[entity.Capsule](ctx, s.cache, query.GetKey(entity.KindCapsule, id))
}

// Events lists events.
func (s *Session) Events(ctx context.Context, p repo.ListParams) ([]entity.Event, error) {
	return fetchList[entity.Event](ctx, s, entity.KindEvent, p)
}

// Event returns one event.
func (s *Session) Event(ctx context.Context, id string) (entity.Event, error) {
	return fetchAs[entity.Event](ctx, s.cache, query.GetKey(entity.KindEvent, id))
}

func fetchList[T any](ctx context.Context, s *Session, kind entity.Kind, p repo.ListParams) ([]T, error) {
	key, err := s.ListKey(kind, p)
	if err != nil {
		return nil, err
	}
	return fetchAs[[]T](ctx, s.cache, key)
}

func fetchAs[T any](ctx context.Context, c *query.Cache, key query.Key) (T, error) {
	var zero T
	v, err := c.Fetch(ctx, key)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, errors.NewInternal(fmt.Errorf("cached %s holds %T", key, v))
	}
	return out, nil
}
