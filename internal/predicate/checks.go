package predicate

import (
	"fmt"
	"regexp"

	"github.com/taskwarden/taskwarden/internal/model"
)

// asIndexInt accepts both int (hand-built checks) and int64 (what
// BurntSushi/toml decodes a bare TOML integer into, e.g. checks loaded
// from a real config file) as an array index.
func asIndexInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}

// navigateParam walks a DBus reply tree per spec §4.6: index[0] selects
// the top-level reply field (always an int), subsequent elements
// navigate into nested arrays (int) or dictionaries (string).
func navigateParam(reply []any, index []any) (any, bool) {
	if len(index) == 0 {
		return nil, false
	}
	top, ok := asIndexInt(index[0])
	if !ok || top < 0 || top >= len(reply) {
		return nil, false
	}
	cur := reply[top]
	for _, step := range index[1:] {
		if s, ok := asIndexInt(step); ok {
			arr, ok := cur.([]any)
			if !ok || s < 0 || s >= len(arr) {
				return nil, false
			}
			cur = arr[s]
			continue
		}
		s, ok := step.(string)
		if !ok {
			return nil, false
		}
		dict, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := dict[s]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// EvaluateParamChecks applies spec §4.6's parameter checks to a DBus
// reply tree.
func EvaluateParamChecks(reply []any, checks []model.ParamCheck, checkAll bool) bool {
	if len(checks) == 0 {
		return true
	}
	satisfied := 0
	for _, c := range checks {
		got, ok := navigateParam(reply, c.Index)
		ok = ok && compareOperator(got, c.Operator, c.Value)
		if ok {
			satisfied++
			if !checkAll {
				return true
			}
		} else if checkAll {
			return false
		}
	}
	if checkAll {
		return satisfied == len(checks)
	}
	return satisfied > 0
}

// EvaluateResultChecks applies spec §4.7's result checks to a WMI query
// result set.
func EvaluateResultChecks(rows []map[string]any, checks []model.ResultCheck, checkAll bool) bool {
	if len(checks) == 0 {
		return len(rows) > 0
	}
	satisfied := 0
	for _, c := range checks {
		var ok bool
		if c.Index != nil {
			if *c.Index >= 0 && *c.Index < len(rows) {
				ok = compareOperator(rows[*c.Index][c.Field], c.Operator, c.Value)
			}
		} else {
			for _, row := range rows {
				if compareOperator(row[c.Field], c.Operator, c.Value) {
					ok = true
					break
				}
			}
		}
		if ok {
			satisfied++
			if !checkAll {
				return true
			}
		} else if checkAll {
			return false
		}
	}
	if checkAll {
		return satisfied == len(checks)
	}
	return satisfied > 0
}

// compareOperator implements spec §4.6's operator semantics, reused
// (minus contains/ncontains) by §4.7's result checks.
func compareOperator(got any, op string, want any) bool {
	switch op {
	case "eq", "neq":
		eq := scalarEqual(got, want)
		if op == "neq" {
			return !eq
		}
		return eq
	case "gt", "ge", "lt", "le":
		gf, wf, ok := compareNumeric(got, want)
		if !ok {
			return false
		}
		switch op {
		case "gt":
			return gf > wf
		case "ge":
			return gf >= wf
		case "lt":
			return gf < wf
		case "le":
			return gf <= wf
		}
	case "match":
		gs, gok := got.(string)
		ws, wok := want.(string)
		if !gok || !wok {
			return false
		}
		re, err := regexp.Compile(ws)
		if err != nil {
			return false
		}
		return re.MatchString(gs)
	case "contains", "ncontains":
		result := containsOperand(got, want)
		if op == "ncontains" {
			return !result
		}
		return result
	}
	return false
}

func scalarEqual(a, b any) bool {
	if af, bf, ok := compareNumeric(a, b); ok {
		return af == bf
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}
	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			return ab == bb
		}
	}
	return false
}

// numericKind classifies v as an integer family, a float family, or
// neither, so compareNumeric can refuse to compare across the two
// families (spec §4.6: "integer-integer or float-float, no implicit
// cross-type").
func numericKind(v any) (isInt, isFloat bool) {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true, false
	case float32, float64:
		return false, true
	default:
		return false, false
	}
}

// compareNumeric reports a and b as float64 for ordering/equality, but
// only when both are integers or both are floats; a mismatch (including
// either operand being non-numeric) reports ok=false.
func compareNumeric(a, b any) (af, bf float64, ok bool) {
	aInt, aFloat := numericKind(a)
	bInt, bFloat := numericKind(b)
	if !((aInt && bInt) || (aFloat && bFloat)) {
		return 0, 0, false
	}
	af, _ = asFloat(a)
	bf, _ = asFloat(b)
	return af, bf, true
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
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
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func containsOperand(left, right any) bool {
	switch l := left.(type) {
	case string:
		rs, ok := right.(string)
		if !ok {
			return false
		}
		return regexp.MustCompile(regexp.QuoteMeta(rs)).MatchString(l)
	case []any:
		for _, e := range l {
			if scalarEqual(e, right) && fmt.Sprintf("%T", e) == fmt.Sprintf("%T", right) {
				return true
			}
		}
		return false
	case map[string]any:
		rs, ok := right.(string)
		if !ok {
			return false
		}
		_, found := l[rs]
		return found
	default:
		return false
	}
}
