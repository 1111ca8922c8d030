package conditions

import (
	"encoding/json"
	"fmt"
)

const (
	OperatorAnd = "and"
	OperatorOr  = "or"
	OperatorNot = "not"
)

const (
	MatchExact     = "exact"
	MatchExists    = "exists"
	MatchSubstring = "substring"
	MatchGreater   = "gt"
	MatchGreaterEq = "ge"
	MatchLess      = "lt"
	MatchLessEq    = "le"
	MatchSemverEq  = "semver_eq"
	MatchSemverGt  = "semver_gt"
	MatchSemverGe  = "semver_ge"
	MatchSemverLt  = "semver_lt"
	MatchSemverLe  = "semver_le"
	MatchQualified = "qualified"
)

const (
	TypeCustomAttribute     = "custom_attribute"
	TypeThirdPartyDimension = "third_party_dimension"
)

// Condition is a leaf of an audience condition tree.
type Condition struct {
	Name  string      `json:"name"`
	Type  string      `json:"type"`
	Match string      `json:"match"`
	Value interface{} `json:"value"`
}

// TreeNode is a node in a condition tree. Exactly one of the following is
// set: Operator (with Nodes), Leaf, or AudienceID. Audience id leaves occur
// in experiment-level audienceConditions trees, condition leaves in audience
// condition trees.
type TreeNode struct {
	Operator   string
	Nodes      []*TreeNode
	Leaf       *Condition
	AudienceID string
}

// Parse decodes a condition tree from datafile JSON. The input is either a
// nested array ["and"|"or"|"not", ...], a single condition object, an
// audience id string, or (legacy datafiles) a JSON string wrapping one of
// the above.
func Parse(raw json.RawMessage) (*TreeNode, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		// Legacy audience conditions arrive as a JSON string wrapping the
		// real tree; a plain id string is an audience reference.
		if len(s) > 0 && (s[0] == '[' || s[0] == '{') {
			return Parse(json.RawMessage(s))
		}
		return &TreeNode{AudienceID: s}, nil
	}
	return parseNode(raw)
}

func parseNode(raw json.RawMessage) (*TreeNode, error) {
	if len(raw) > 0 && raw[0] == '"' {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, err
		}
		return &TreeNode{AudienceID: id}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		return parseList(items)
	}

	var leaf Condition
	if err := json.Unmarshal(raw, &leaf); err != nil {
		return nil, fmt.Errorf("malformed condition: %w", err)
	}
	if leaf.Match == "" {
		leaf.Match = MatchExact
	}
	return &TreeNode{Leaf: &leaf}, nil
}

func parseList(items []json.RawMessage) (*TreeNode, error) {
	// Assume OR when the operator is not explicit.
	operator := OperatorOr
	if len(items) > 0 && len(items[0]) > 0 && items[0][0] == '"' {
		var op string
		if err := json.Unmarshal(items[0], &op); err == nil {
			switch op {
			case OperatorAnd, OperatorOr, OperatorNot:
				operator = op
				items = items[1:]
			}
		}
	}

	node := &TreeNode{Operator: operator}
	for _, item := range items {
		child, err := parseNode(item)
		if err != nil {
			return nil, err
		}
		node.Nodes = append(node.Nodes, child)
	}
	return node, nil
}

// AudienceIDTree builds the implicit tree used when an experiment carries a
// plain audience id list: a single OR over audience id leaves.
func AudienceIDTree(audienceIDs []string) *TreeNode {
	if len(audienceIDs) == 0 {
		return nil
	}
	node := &TreeNode{Operator: OperatorOr}
	for _, id := range audienceIDs {
		node.Nodes = append(node.Nodes, &TreeNode{AudienceID: id})
	}
	return node
}
