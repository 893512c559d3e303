package filter

import (
	"encoding/json"
)

// Match evaluates c against metadata. A missing key never matches, including for $ne and $nin.
func Match(c Condition, md map[string]any) bool {
	switch v := c.(type) {
	case nil:
		return true
	case Equality:
		got, ok := md[v.Key]
		return ok && equal(got, v.Value)
	case Operator:
		got, ok := md[v.Key]
		if !ok {
			return false
		}
		return compare(v.Op, got, v.Value)
	case Combinator:
		if v.Op == Or {
			for _, sub := range v.Conditions {
				if Match(sub, md) {
					return true
				}
			}
			return false
		}
		for _, sub := range v.Conditions {
			if !Match(sub, md) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func compare(op Op, got, want any) bool {
	switch op {
	case OpEq:
		return equal(got, want)
	case OpNe:
		return !equal(got, want)
	case OpIn, OpNin:
		items, _ := asList(want)
		found := false
		for _, it := range items {
			if equal(got, it) {
				found = true
				break
			}
		}
		if op == OpIn {
			return found
		}
		return !found
	}
	g, ok1 := toFloat(got)
	w, ok2 := toFloat(want)
	if !ok1 || !ok2 {
		return false
	}
	switch op {
	case OpGt:
		return g > w
	case OpGte:
		return g >= w
	case OpLt:
		return g < w
	case OpLte:
		return g <= w
	}
	return false
}

func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch x := a.(type) {
	case string:
		s, ok := b.(string)
		return ok && x == s
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case nil:
		return b == nil
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Number reports v as a float64 when it is numeric. Store translators use it
// to pick typed comparisons.
func Number(v any) (float64, bool) { return toFloat(v) }

// List reports v as a []any when it is a list operand of $in or $nin.
func List(v any) ([]any, bool) { return asList(v) }
