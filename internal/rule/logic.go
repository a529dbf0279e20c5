package rule

import (
	"fmt"
	"strings"
)

const (
	OperatorAnd = "AND"
	OperatorOr  = "OR"
)

// LogicNode is either a leaf referencing a condition by id or a group node
// combining child results with AND/OR, optionally negated. The structure is a
// tree by construction; there are no back-references.
type LogicNode struct {
	Ref      string       `yaml:"ref" json:"ref,omitempty"`
	Operator string       `yaml:"operator" json:"operator,omitempty"`
	Negate   bool         `yaml:"negate" json:"negate,omitempty"`
	Children []*LogicNode `yaml:"conditions" json:"conditions,omitempty"`
}

func (n *LogicNode) IsLeaf() bool {
	return n != nil && strings.TrimSpace(n.Ref) != ""
}

// Validate checks structural correctness: every leaf resolves to a known
// condition id, group nodes carry a valid operator and at least one child.
func (n *LogicNode) Validate(conditionIDs map[string]bool) error {
	if n == nil {
		return fmt.Errorf("logic node is nil")
	}
	if n.IsLeaf() {
		if len(n.Children) > 0 {
			return fmt.Errorf("leaf node %q must not have children", n.Ref)
		}
		if !conditionIDs[strings.TrimSpace(n.Ref)] {
			return fmt.Errorf("logic tree references unknown condition %q", n.Ref)
		}
		return nil
	}
	op := strings.ToUpper(strings.TrimSpace(n.Operator))
	if op != OperatorAnd && op != OperatorOr {
		return fmt.Errorf("logic operator must be AND or OR, got %q", n.Operator)
	}
	n.Operator = op
	if len(n.Children) == 0 {
		return fmt.Errorf("logic group %s has no children", op)
	}
	for _, child := range n.Children {
		if err := child.Validate(conditionIDs); err != nil {
			return err
		}
	}
	return nil
}

// Refs collects the condition ids referenced anywhere in the tree.
func (n *LogicNode) Refs() []string {
	var out []string
	var walk func(node *LogicNode)
	walk = func(node *LogicNode) {
		if node == nil {
			return
		}
		if node.IsLeaf() {
			out = append(out, strings.TrimSpace(node.Ref))
			return
		}
		for _, child := range node.Children {
			walk(child)
		}
	}
	walk(n)
	return out
}
