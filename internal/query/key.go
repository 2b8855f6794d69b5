package query

import (
	"net/url"
	"strings"

	"github.com/hpungsan/gepdash/internal/entity"
)

// Op is the read operation a key names.
type Op string

const (
	OpList Op = "list"
	OpGet  Op = "get"
)

// Key identifies one cached query. Params holds canonical URL-encoded
// parameters (sorted by name), so two keys built from equal parameter sets
// compare equal.
type Key struct {
	Kind   entity.Kind
	Op     Op
	Params string
}

// ListKey returns the key of a list query with the given parameters.
func ListKey(kind entity.Kind, params url.Values) Key {
	return Key{Kind: kind, Op: OpList, Params: params.Encode()}
}

// GetKey returns the key of a single-record query. The id is trimmed the
// same way request paths trim it, so " g1" and "g1" share one entry.
func GetKey(kind entity.Kind, id string) Key {
	return Key{Kind: kind, Op: OpGet, Params: url.Values{"id": {strings.TrimSpace(id)}}.Encode()}
}

// Values decodes the key parameters.
func (k Key) Values() url.Values {
	v, _ := url.ParseQuery(k.Params)
	return v
}

// Param returns the first value of the named parameter.
func (k Key) Param(name string) string {
	return k.Values().Get(name)
}

func (k Key) String() string {
	s := string(k.Kind) + "/" + string(k.Op)
	if k.Params != "" {
		s += "?" + k.Params
	}
	return s
}

// Predicate selects keys for InvalidateMatching.
type Predicate func(Key) bool

// MatchKind selects every key of kind.
func MatchKind(kind entity.Kind) Predicate {
	return func(k Key) bool { return k.Kind == kind }
}

// MatchOp selects every key with operation op.
func MatchOp(op Op) Predicate {
	return func(k Key) bool { return k.Op == op }
}

// MatchKey selects exactly key.
func MatchKey(key Key) Predicate {
	return func(k Key) bool { return k == key }
}

// And selects keys matched by every predicate.
func And(preds ...Predicate) Predicate {
	return func(k Key) bool {
		for _, p := range preds {
			if !p(k) {
				return false
			}
		}
		return true
	}
}

// Or selects keys matched by any predicate.
func Or(preds ...Predicate) Predicate {
	return func(k Key) bool {
		for _, p := range preds {
			if p(k) {
				return true
			}
		}
		return false
	}
}
