package hierarchy

import (
	"fmt"
	"sort"
)

// Violation describes one broken structural invariant.
type Violation struct {
	NodeID int64  `json:"nodeId"`
	Rule   string `json:"rule"`
	Detail string `json:"detail"`
}

// Invariant rule names reported in violations.
const (
	RulePath   = "path"
	RuleDepth  = "depth"
	RuleLeaf   = "leaf"
	RuleRoot   = "root"
	RuleOrphan = "orphan"
)

// CheckIntegrity verifies path, depth, leaf and single-root invariants over a
// complete family snapshot. Violations are ordered by node id.
func CheckIntegrity(nodes []Node) []Violation {
	byID := make(map[int64]Node, len(nodes))
	childCount := make(map[int64]int, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
		if !n.IsRoot() {
			childCount[n.ParentID]++
		}
	}

	var out []Violation
	roots := 0
	for _, n := range nodes {
		if n.IsRoot() {
			roots++
			if n.Depth != 1 {
				out = append(out, Violation{NodeID: n.ID, Rule: RuleDepth, Detail: fmt.Sprintf("root depth %d, want 1", n.Depth)})
			}
			if len(n.Path) != 0 {
				out = append(out, Violation{NodeID: n.ID, Rule: RulePath, Detail: fmt.Sprintf("root path %q, want empty", n.Path)})
			}
		} else {
			parent, ok := byID[n.ParentID]
			if !ok {
				out = append(out, Violation{NodeID: n.ID, Rule: RuleOrphan, Detail: fmt.Sprintf("parent %d does not exist", n.ParentID)})
			} else {
				if want := parent.Path.Child(parent.ID).String(); n.Path.String() != want {
					out = append(out, Violation{NodeID: n.ID, Rule: RulePath, Detail: fmt.Sprintf("path %q, want %q", n.Path, want)})
				}
				if n.Depth != parent.Depth+1 {
					out = append(out, Violation{NodeID: n.ID, Rule: RuleDepth, Detail: fmt.Sprintf("depth %d, want %d", n.Depth, parent.Depth+1)})
				}
			}
		}
		if wantLeaf := childCount[n.ID] == 0; n.IsLeaf != wantLeaf {
			out = append(out, Violation{NodeID: n.ID, Rule: RuleLeaf, Detail: fmt.Sprintf("is_leaf %t with %d children", n.IsLeaf, childCount[n.ID])})
		}
	}
	if roots != 1 {
		out = append(out, Violation{Rule: RuleRoot, Detail: fmt.Sprintf("%d root nodes, want 1", roots)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// RepairLeafFlags returns copies of the nodes whose is_leaf flag disagrees
// with the actual child count, with the flag corrected.
func RepairLeafFlags(nodes []Node) []Node {
	childCount := make(map[int64]int, len(nodes))
	for _, n := range nodes {
		if !n.IsRoot() {
			childCount[n.ParentID]++
		}
	}
	var fixed []Node
	for _, n := range nodes {
		if want := childCount[n.ID] == 0; n.IsLeaf != want {
			n.IsLeaf = want
			fixed = append(fixed, n)
		}
	}
	return fixed
}
