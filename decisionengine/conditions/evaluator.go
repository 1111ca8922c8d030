package conditions

import (
	"math"
	"strings"

	"golang.org/x/exp/slices"
)

// Attribute values above this magnitude are outside the safely comparable
// integer range and evaluate to unknown.
const maxNumericValue = 1 << 53

// LeafFunc evaluates a tree leaf (a condition object or an audience id
// reference) to a tri-valued result: true, false, or nil for unknown.
type LeafFunc func(node *TreeNode) *bool

// Evaluate walks a condition tree applying tri-valued and/or/not semantics,
// delegating leaves to leafFn.
func Evaluate(node *TreeNode, leafFn LeafFunc) *bool {
	if node == nil {
		return nil
	}
	switch node.Operator {
	case OperatorAnd:
		return evalAnd(node.Nodes, leafFn)
	case OperatorOr:
		return evalOr(node.Nodes, leafFn)
	case OperatorNot:
		return evalNot(node.Nodes, leafFn)
	default:
		return leafFn(node)
	}
}

// evalAnd is false if any operand is false, unknown if any operand is
// unknown and none is false, true otherwise.
func evalAnd(nodes []*TreeNode, leafFn LeafFunc) *bool {
	sawUnknown := false
	for _, n := range nodes {
		result := Evaluate(n, leafFn)
		if result == nil {
			sawUnknown = true
		} else if !*result {
			return boolPtr(false)
		}
	}
	if sawUnknown {
		return nil
	}
	return boolPtr(true)
}

// evalOr is true if any operand is true, unknown if any operand is unknown
// and none is true, false otherwise.
func evalOr(nodes []*TreeNode, leafFn LeafFunc) *bool {
	sawUnknown := false
	for _, n := range nodes {
		result := Evaluate(n, leafFn)
		if result == nil {
			sawUnknown = true
		} else if *result {
			return boolPtr(true)
		}
	}
	if sawUnknown {
		return nil
	}
	return boolPtr(false)
}

// evalNot negates its single operand; unknown stays unknown.
func evalNot(nodes []*TreeNode, leafFn LeafFunc) *bool {
	if len(nodes) == 0 {
		return nil
	}
	result := Evaluate(nodes[0], leafFn)
	if result == nil {
		return nil
	}
	return boolPtr(!*result)
}

// EvaluateCustomAttribute evaluates a single leaf condition against the
// user's attributes and qualified segments.
func EvaluateCustomAttribute(cond *Condition, attributes map[string]interface{}, qualifiedSegments []string) *bool {
	if cond.Type != TypeCustomAttribute && cond.Type != TypeThirdPartyDimension {
		return nil
	}

	userValue, exists := attributes[cond.Name]

	switch cond.Match {
	case MatchExists:
		return boolPtr(exists && userValue != nil)
	case MatchExact:
		return exactMatch(cond.Value, userValue)
	case MatchSubstring:
		return substringMatch(cond.Value, userValue)
	case MatchGreater, MatchGreaterEq, MatchLess, MatchLessEq:
		return numericMatch(cond.Match, cond.Value, userValue)
	case MatchSemverEq, MatchSemverGt, MatchSemverGe, MatchSemverLt, MatchSemverLe:
		return semverMatch(cond.Match, cond.Value, userValue)
	case MatchQualified:
		segment, ok := cond.Value.(string)
		if !ok {
			return nil
		}
		return boolPtr(slices.Contains(qualifiedSegments, segment))
	default:
		return nil
	}
}

func exactMatch(conditionValue, userValue interface{}) *bool {
	switch cv := conditionValue.(type) {
	case string:
		uv, ok := userValue.(string)
		if !ok {
			return nil
		}
		return boolPtr(cv == uv)
	case bool:
		uv, ok := userValue.(bool)
		if !ok {
			return nil
		}
		return boolPtr(cv == uv)
	default:
		cf, ok := validNumber(conditionValue)
		if !ok {
			return nil
		}
		uf, ok := validNumber(userValue)
		if !ok {
			return nil
		}
		return boolPtr(cf == uf)
	}
}

func substringMatch(conditionValue, userValue interface{}) *bool {
	cv, ok := conditionValue.(string)
	if !ok {
		return nil
	}
	uv, ok := userValue.(string)
	if !ok {
		return nil
	}
	return boolPtr(strings.Contains(uv, cv))
}

func numericMatch(match string, conditionValue, userValue interface{}) *bool {
	cf, ok := validNumber(conditionValue)
	if !ok {
		return nil
	}
	uf, ok := validNumber(userValue)
	if !ok {
		return nil
	}
	switch match {
	case MatchGreater:
		return boolPtr(uf > cf)
	case MatchGreaterEq:
		return boolPtr(uf >= cf)
	case MatchLess:
		return boolPtr(uf < cf)
	case MatchLessEq:
		return boolPtr(uf <= cf)
	}
	return nil
}

func semverMatch(match string, conditionValue, userValue interface{}) *bool {
	target, ok := conditionValue.(string)
	if !ok {
		return nil
	}
	user, ok := userValue.(string)
	if !ok {
		return nil
	}
	cmp := compareVersions(user, target)
	if cmp == nil {
		return nil
	}
	switch match {
	case MatchSemverEq:
		return boolPtr(*cmp == 0)
	case MatchSemverGt:
		return boolPtr(*cmp > 0)
	case MatchSemverGe:
		return boolPtr(*cmp >= 0)
	case MatchSemverLt:
		return boolPtr(*cmp < 0)
	case MatchSemverLe:
		return boolPtr(*cmp <= 0)
	}
	return nil
}

// validNumber reports the float64 value of a numeric attribute, rejecting
// booleans, non-finite values and magnitudes beyond 2^53.
func validNumber(value interface{}) (float64, bool) {
	var f float64
	switch v := value.(type) {
	case int:
		f = float64(v)
	case int8:
		f = float64(v)
	case int16:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint:
		f = float64(v)
	case uint8:
		f = float64(v)
	case uint16:
		f = float64(v)
	case uint32:
		f = float64(v)
	case uint64:
		f = float64(v)
	case float32:
		f = float64(v)
	case float64:
		f = v
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > maxNumericValue {
		return 0, false
	}
	return f, true
}

func boolPtr(b bool) *bool {
	return &b
}
