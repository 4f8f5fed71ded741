package store

import (
	"fmt"
	"sort"
	"strings"
)

// Op is a filter comparison operator.
type Op int

const (
	OpEq Op = iota
	OpIn
	OpGt
	OpGte
	OpLt
	OpLte
	OpContains
)

// String returns the string representation of the operator
func (o Op) String() string {
	switch o {
	case OpEq:
		return "eq"
	case OpIn:
		return "in"
	case OpGt:
		return "gt"
	case OpGte:
		return "gte"
	case OpLt:
		return "lt"
	case OpLte:
		return "lte"
	case OpContains:
		return "contains"
	default:
		return "unknown"
	}
}

// ParseOp converts a string to an Op
func ParseOp(s string) (Op, error) {
	switch s {
	case "eq", "":
		return OpEq, nil
	case "in":
		return OpIn, nil
	case "gt":
		return OpGt, nil
	case "gte":
		return OpGte, nil
	case "lt":
		return OpLt, nil
	case "lte":
		return OpLte, nil
	case "contains":
		return OpContains, nil
	default:
		return 0, fmt.Errorf("unknown filter operator: %s", s)
	}
}

// Term is one comparison applied to a record attribute.
type Term struct {
	Op    Op
	Value any
}

// Filter maps attribute names to the terms a matching record must satisfy.
// All terms across all attributes must hold (conjunction). The zero value
// matches every record.
type Filter map[string][]Term

// NewFilter returns an empty filter ready for Add calls.
func NewFilter() Filter {
	return make(Filter)
}

// Add appends a term for the attribute and returns the filter for chaining.
func (f Filter) Add(field string, op Op, value any) Filter {
	f[field] = append(f[field], Term{Op: op, Value: value})
	return f
}

// Eq is shorthand for Add(field, OpEq, value).
func (f Filter) Eq(field string, value any) Filter {
	return f.Add(field, OpEq, value)
}

// Clone returns an independent copy of the filter. Term values are shared;
// terms themselves are copied so the original cannot be extended through
// the clone.
func (f Filter) Clone() Filter {
	if f == nil {
		return nil
	}
	out := make(Filter, len(f))
	for field, terms := range f {
		copied := make([]Term, len(terms))
		copy(copied, terms)
		out[field] = copied
	}
	return out
}

// Merge returns a new filter holding the terms of both inputs.
func (f Filter) Merge(other Filter) Filter {
	out := f.Clone()
	if out == nil {
		out = make(Filter)
	}
	for field, terms := range other {
		out[field] = append(out[field], terms...)
	}
	return out
}

// Sort orders a result set by one attribute.
type Sort struct {
	Field string
	Desc  bool
}

// Query bundles filter, ordering, and paging for a Find call.
// Limit 0 means no limit.
type Query struct {
	Filter Filter
	Sort   []Sort
	Limit  int
	Offset int
}

// Match reports whether a record satisfies every term of the filter.
// Implementations that cannot push filters into their backend evaluate
// pages through this same predicate so behavior stays uniform.
func Match(rec Record, f Filter) bool {
	for field, terms := range f {
		val, ok := rec[field]
		for _, term := range terms {
			if !matchTerm(val, ok, term) {
				return false
			}
		}
	}
	return true
}

func matchTerm(val any, present bool, term Term) bool {
	switch term.Op {
	case OpEq:
		if !present {
			return term.Value == nil
		}
		// Equality against a list attribute matches by element, the way
		// document stores treat array fields.
		if elems, isList := asSlice(val); isList {
			for _, e := range elems {
				if equalValues(e, term.Value) {
					return true
				}
			}
			return false
		}
		return equalValues(val, term.Value)
	case OpIn:
		if !present {
			return false
		}
		candidates, ok := asSlice(term.Value)
		if !ok {
			return false
		}
		for _, c := range candidates {
			if equalValues(val, c) {
				return true
			}
		}
		return false
	case OpGt, OpGte, OpLt, OpLte:
		if !present {
			return false
		}
		cmp, ok := compareValues(val, term.Value)
		if !ok {
			return false
		}
		switch term.Op {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case OpContains:
		if !present {
			return false
		}
		return strings.Contains(
			strings.ToLower(fmt.Sprintf("%v", val)),
			strings.ToLower(fmt.Sprintf("%v", term.Value)),
		)
	default:
		return false
	}
}

func equalValues(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// compareValues orders two values numerically when both coerce to float,
// lexically otherwise. The second return is false when either side is nil.
func compareValues(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	as, bs := fmt.Sprintf("%v", a), fmt.Sprintf("%v", b)
	return strings.Compare(as, bs), true
}

func asFloat(v any) (float64, bool) {
	switch tv := v.(type) {
	case float64:
		return tv, true
	case float32:
		return float64(tv), true
	case int:
		return float64(tv), true
	case int32:
		return float64(tv), true
	case int64:
		return float64(tv), true
	case uint:
		return float64(tv), true
	case uint64:
		return float64(tv), true
	default:
		return 0, false
	}
}

func asSlice(v any) ([]any, bool) {
	switch tv := v.(type) {
	case []any:
		return tv, true
	case []string:
		out := make([]any, len(tv))
		for i, s := range tv {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// Apply evaluates a full query against an in-memory record slice: filter,
// sort, then paging. Records are not copied.
func Apply(recs []Record, q Query) []Record {
	matched := make([]Record, 0, len(recs))
	for _, rec := range recs {
		if Match(rec, q.Filter) {
			matched = append(matched, rec)
		}
	}

	if len(q.Sort) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, s := range q.Sort {
				cmp, ok := compareValues(matched[i][s.Field], matched[j][s.Field])
				if !ok || cmp == 0 {
					continue
				}
				if s.Desc {
					return cmp > 0
				}
				return cmp < 0
			}
			return false
		})
	}

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return []Record{}
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}
	return matched
}
