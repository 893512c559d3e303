// Package filter models metadata predicates for vector-store queries.
//
// A Condition is one of Equality, Operator or Combinator. Raw filter objects
// use the Chroma-style wire shape: {"key": value}, {"key": {"$op": value}} and
// {"$and": [...]} / {"$or": [...]}.
package filter

import (
	"fmt"
	"sort"
	"strings"

	"docrag/internal/apperr"
)

// Op is a comparison operator.
type Op string

const (
	OpEq  Op = "$eq"
	OpNe  Op = "$ne"
	OpGt  Op = "$gt"
	OpGte Op = "$gte"
	OpLt  Op = "$lt"
	OpLte Op = "$lte"
	OpIn  Op = "$in"
	OpNin Op = "$nin"
)

// Logic is a combinator operator.
type Logic string

const (
	And Logic = "$and"
	Or  Logic = "$or"
)

// Condition is a boolean predicate over chunk metadata. A nil Condition matches everything.
type Condition interface {
	condition()
}

// Equality matches when metadata[Key] equals Value.
type Equality struct {
	Key   string
	Value any
}

// Operator compares metadata[Key] against Value with Op.
type Operator struct {
	Key   string
	Op    Op
	Value any
}

// Combinator joins conditions with $and or $or.
type Combinator struct {
	Op         Logic
	Conditions []Condition
}

func (Equality) condition()   {}
func (Operator) condition()   {}
func (Combinator) condition() {}

// Eq is shorthand for an Equality condition.
func Eq(key string, value any) Condition { return Equality{Key: key, Value: value} }

// AllOf combines conditions with $and. Zero conditions give nil and one is returned as is.
func AllOf(conds ...Condition) Condition {
	var kept []Condition
	for _, c := range conds {
		if c != nil {
			kept = append(kept, c)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return Combinator{Op: And, Conditions: kept}
	}
}

// Build assembles the retrieval filter from an optional exact filename and an
// optional raw metadata filter.
func Build(filename string, raw map[string]any) (Condition, error) {
	var conds []Condition
	if filename != "" {
		conds = append(conds, Eq("filename", filename))
	}
	if len(raw) > 0 {
		if hasOperatorKey(raw) {
			c, err := Parse(raw)
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
		} else {
			for _, k := range sortedKeys(raw) {
				c, err := parseField(k, raw[k])
				if err != nil {
					return nil, err
				}
				conds = append(conds, c)
			}
		}
	}
	return AllOf(conds...), nil
}

// Parse converts one raw filter object into a Condition. Several keys in one
// object are combined with $and.
func Parse(raw map[string]any) (Condition, error) {
	if len(raw) == 0 {
		return nil, apperr.Invalid("filter", "empty filter object")
	}
	var conds []Condition
	for _, k := range sortedKeys(raw) {
		v := raw[k]
		if strings.HasPrefix(k, "$") {
			c, err := parseLogic(Logic(k), v)
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
			continue
		}
		c, err := parseField(k, v)
		if err != nil {
			return nil, err
		}
		conds = append(conds, c)
	}
	return AllOf(conds...), nil
}

func parseLogic(op Logic, v any) (Condition, error) {
	if op != And && op != Or {
		return nil, apperr.Invalid("filter", "unknown combinator %q", op)
	}
	items, ok := asList(v)
	if !ok || len(items) == 0 {
		return nil, apperr.Invalid("filter", "%s expects a non-empty list", op)
	}
	conds := make([]Condition, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, apperr.Invalid("filter", "%s[%d] must be an object", op, i)
		}
		c, err := Parse(obj)
		if err != nil {
			return nil, err
		}
		conds = append(conds, c)
	}
	return Combinator{Op: op, Conditions: conds}, nil
}

func parseField(key string, v any) (Condition, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		if err := checkScalar(key, v); err != nil {
			return nil, err
		}
		return Equality{Key: key, Value: v}, nil
	}
	if len(obj) != 1 {
		return nil, apperr.Invalid("filter", "field %q expects exactly one operator", key)
	}
	for opKey, operand := range obj {
		op := Op(opKey)
		if err := checkOperand(key, op, operand); err != nil {
			return nil, err
		}
		return Operator{Key: key, Op: op, Value: operand}, nil
	}
	return nil, nil
}

func checkScalar(key string, v any) error {
	switch v.(type) {
	case string, bool, nil:
		return nil
	}
	if _, ok := toFloat(v); ok {
		return nil
	}
	return apperr.Invalid("filter", "field %q has unsupported value type %T", key, v)
}

func checkOperand(key string, op Op, v any) error {
	switch op {
	case OpEq, OpNe:
		return checkScalar(key, v)
	case OpGt, OpGte, OpLt, OpLte:
		if _, ok := toFloat(v); !ok {
			return apperr.Invalid("filter", "%s on %q expects a number", op, key)
		}
		return nil
	case OpIn, OpNin:
		items, ok := asList(v)
		if !ok {
			return apperr.Invalid("filter", "%s on %q expects a list", op, key)
		}
		for _, it := range items {
			if err := checkScalar(key, it); err != nil {
				return err
			}
		}
		return nil
	default:
		return apperr.Invalid("filter", "unknown operator %q on %q", op, key)
	}
}

// ToMap renders c in the wire shape accepted by Build. nil renders as nil.
func ToMap(c Condition) map[string]any {
	switch v := c.(type) {
	case nil:
		return nil
	case Equality:
		return map[string]any{v.Key: v.Value}
	case Operator:
		return map[string]any{v.Key: map[string]any{string(v.Op): v.Value}}
	case Combinator:
		items := make([]any, len(v.Conditions))
		for i, sub := range v.Conditions {
			items[i] = ToMap(sub)
		}
		return map[string]any{string(v.Op): items}
	default:
		panic(fmt.Sprintf("filter: unknown condition %T", c))
	}
}

func hasOperatorKey(raw map[string]any) bool {
	for k := range raw {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// asList accepts the list shapes produced by JSON decoding and by Go callers.
func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out, true
	case []float64:
		out := make([]any, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(l))
		for i, m := range l {
			out[i] = m
		}
		return out, true
	}
	return nil, false
}
