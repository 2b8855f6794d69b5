package mutation

import (
	"github.com/hpungsan/gepdash/internal/entity"
	"github.com/hpungsan/gepdash/internal/query"
)

// Dependent names cached queries a write makes stale. An empty Op selects
// every operation of Kind.
type Dependent struct {
	Kind entity.Kind
	Op   query.Op
}

// Predicate returns the key selector for d.
func (d Dependent) Predicate() query.Predicate {
	if d.Op == "" {
		return query.MatchKind(d.Kind)
	}
	return query.And(query.MatchKind(d.Kind), query.MatchOp(d.Op))
}

// Rule lists the cross-kind dependents of one write.
type Rule struct {
	Kind        entity.Kind
	Op          Op
	Invalidates []Dependent
}

// Rules is the dependency table the coordinator reads. Same-kind lists are
// always invalidated and need no rule.
type Rules []Rule

// DefaultRules returns the dependency table of the remote service:
// deleting a gene drops it from every capsule that referenced it, and
// deleting a capsule deletes its events.
func DefaultRules() Rules {
	return Rules{
		{Kind: entity.KindGene, Op: OpDelete, Invalidates: []Dependent{{Kind: entity.KindCapsule}}},
		{Kind: entity.KindCapsule, Op: OpDelete, Invalidates: []Dependent{{Kind: entity.KindEvent}}},
	}
}

// Dependents returns every dependent registered for a write of kind with op.
func (r Rules) Dependents(kind entity.Kind, op Op) []Dependent {
	var out []Dependent
	for _, rule := range r {
		if rule.Kind == kind && rule.Op == op {
			out = append(out, rule.Invalidates...)
		}
	}
	return out
}
