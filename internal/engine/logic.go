package engine

import "sentinel/internal/rule"

// Reduce collapses a logic tree to one three-valued result given a leaf
// lookup. Three-valued rules: for AND any false child dominates even with
// indeterminate siblings; for OR any true child dominates; otherwise a single
// indeterminate child makes the group indeterminate. Evaluation stops as soon
// as a dominating value is found.
func Reduce(node *rule.LogicNode, leaf func(conditionID string) Result) Result {
	if node == nil {
		return Indeterminate
	}
	if node.IsLeaf() {
		return leaf(node.Ref)
	}
	res := reduceGroup(node, leaf)
	if node.Negate {
		return res.Not()
	}
	return res
}

func reduceGroup(node *rule.LogicNode, leaf func(string) Result) Result {
	switch node.Operator {
	case rule.OperatorAnd:
		sawIndeterminate := false
		for _, child := range node.Children {
			switch Reduce(child, leaf) {
			case False:
				return False
			case Indeterminate:
				sawIndeterminate = true
			}
		}
		if sawIndeterminate {
			return Indeterminate
		}
		return True
	case rule.OperatorOr:
		sawIndeterminate := false
		for _, child := range node.Children {
			switch Reduce(child, leaf) {
			case True:
				return True
			case Indeterminate:
				sawIndeterminate = true
			}
		}
		if sawIndeterminate {
			return Indeterminate
		}
		return False
	}
	return Indeterminate
}
