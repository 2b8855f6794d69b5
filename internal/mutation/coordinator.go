// Package mutation executes writes against the remote service and
// reconciles the query cache afterwards. Writes are pessimistic: the cache
// changes only once the remote has confirmed the write.
package mutation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hpungsan/gepdash/internal/entity"
	"github.com/hpungsan/gepdash/internal/errors"
	"github.com/hpungsan/gepdash/internal/query"
)

// Op is a write operation.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Mutation describes one write. ID is required for update and delete;
// Payload carries the create or update input.
type Mutation struct {
	Kind    entity.Kind
	Op      Op
	ID      string
	Payload any
}

// Result is what the remote returned for a write. Record is nil for deletes.
type Result struct {
	ID     string
	Record any
}

// Writer performs a write against the remote service.
type Writer interface {
	Write(ctx context.Context, m Mutation) (Result, error)
}

// Cache is the part of query.Cache the coordinator drives.
type Cache interface {
	Set(key query.Key, v any)
	Remove(key query.Key)
	InvalidateMatching(pred query.Predicate) int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRules replaces DefaultRules.
func WithRules(r Rules) Option {
	return func(c *Coordinator) { c.rules = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// Coordinator applies writes and their cache consequences.
type Coordinator struct {
	cache  Cache
	writer Writer
	rules  Rules
	logger *slog.Logger
}

// New creates a Coordinator.
func New(cache Cache, w Writer, opts ...Option) *Coordinator {
	c := &Coordinator{
		cache:  cache,
		writer: w,
		rules:  DefaultRules(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rules returns the dependency table in use.
func (c *Coordinator) Rules() Rules {
	return c.rules
}

// Mutate executes m. On success the addressed record is stored (create,
// update) or removed (delete), every list of the same kind is invalidated,
// and the dependents from the rule table are invalidated. On failure the
// cache is left untouched, except that a delete failing with NOT_FOUND is
// reconciled like a successful one before the error is returned.
func (c *Coordinator) Mutate(ctx context.Context, m Mutation) (Result, error) {
	if err := validate(m); err != nil {
		return Result{}, err
	}

	res, err := c.writer.Write(ctx, m)
	if err != nil {
		if m.Op == OpDelete && errors.Is(err, errors.ErrNotFound) {
			c.reconcile(m.Kind, m.Op, m.ID, nil)
		}
		return res, err
	}

	if res.ID == "" {
		res.ID = m.ID
	}
	c.reconcile(m.Kind, m.Op, res.ID, res.Record)
	return res, nil
}

func (c *Coordinator) reconcile(kind entity.Kind, op Op, id string, record any) {
	if id != "" {
		key := query.GetKey(kind, id)
		if op == OpDelete {
			c.cache.Remove(key)
		} else if record != nil {
			c.cache.Set(key, record)
		}
	}

	n := c.cache.InvalidateMatching(query.And(query.MatchKind(kind), query.MatchOp(query.OpList)))
	for _, dep := range c.rules.Dependents(kind, op) {
		n += c.cache.InvalidateMatching(dep.Predicate())
	}
	c.logger.Debug("mutation reconciled",
		"kind", string(kind),
		"op", string(op),
		"id", id,
		"invalidated", n,
	)
}

func validate(m Mutation) error {
	switch m.Kind {
	case entity.KindGene, entity.KindCapsule:
	case entity.KindEvent:
		if m.Op != OpCreate {
			return errors.NewInvalidRequest(fmt.Sprintf("events are immutable: %s is not supported", m.Op))
		}
	default:
		return errors.NewInvalidRequest(fmt.Sprintf("unknown kind %q", m.Kind))
	}

	switch m.Op {
	case OpCreate:
		if m.Payload == nil {
			return errors.NewInvalidRequest("create requires a payload")
		}
	case OpUpdate:
		if m.Payload == nil {
			return errors.NewInvalidRequest("update requires a payload")
		}
		fallthrough
	case OpDelete:
		if strings.TrimSpace(m.ID) == "" {
			return errors.NewInvalidRequest(fmt.Sprintf("%s id is required", m.Kind))
		}
	default:
		return errors.NewInvalidRequest(fmt.Sprintf("unknown operation %q", m.Op))
	}
	return nil
}
