package hierarchy

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// BuildTree nests nodes below rootID and returns the root as the single top
// level entry. Siblings are ordered by (sort, id). Nodes that cannot reach
// the root through the given list are dropped.
func BuildTree(nodes []Node, rootID int64) []*TreeNode {
	var root *Node
	for i := range nodes {
		if nodes[i].ID == rootID {
			root = &nodes[i]
			break
		}
	}
	if root == nil {
		return nil
	}
	top := &TreeNode{Node: *root}
	top.Children = attach(groupByParent(nodes), rootID)
	return []*TreeNode{top}
}

// BuildTreeWithoutRoot nests nodes below rootID and returns the root's
// children as top level entries.
func BuildTreeWithoutRoot(nodes []Node, rootID int64) []*TreeNode {
	return attach(groupByParent(nodes), rootID)
}

// FlattenIfFiltered returns the nodes as a flat ordered list when a name
// filter is active. A substring match on a deep node would otherwise need
// its missing ancestors synthesised to keep the tree connected.
func FlattenIfFiltered(nodes []Node, nameFilterActive bool) ([]Node, bool) {
	if !nameFilterActive {
		return nil, false
	}
	flat := make([]Node, len(nodes))
	copy(flat, nodes)
	sort.SliceStable(flat, func(i, j int) bool {
		if flat[i].Depth != flat[j].Depth {
			return flat[i].Depth < flat[j].Depth
		}
		return less(flat[i], flat[j])
	})
	return flat, true
}

// Assemble applies the flat-or-tree policy to an already filtered node list.
func Assemble(nodes []Node, rootID int64, includeRoot, nameFilterActive bool) TreeResult {
	if flat, ok := FlattenIfFiltered(nodes, nameFilterActive); ok {
		return TreeResult{Flat: flat, Flattened: true}
	}
	if includeRoot {
		return TreeResult{Tree: BuildTree(nodes, rootID)}
	}
	return TreeResult{Tree: BuildTreeWithoutRoot(nodes, rootID)}
}

// Filter keeps the nodes of the subtree rooted at rootID that match the
// optional name substring and enabled flag.
func Filter(nodes []Node, rootID int64, nameLike *string, enabled *bool) []Node {
	var needle string
	if nameLike != nil {
		needle = cases.Fold().String(strings.TrimSpace(*nameLike))
	}
	fold := cases.Fold()
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if !n.DescendantOf(rootID) {
			continue
		}
		if enabled != nil && n.Enabled != *enabled {
			continue
		}
		if needle != "" && !strings.Contains(fold.String(n.Name), needle) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// FindRoot returns the single depth 1 node.
func FindRoot(nodes []Node) (Node, error) {
	var (
		root  Node
		found int
	)
	for _, n := range nodes {
		if n.Depth == 1 {
			root = n
			found++
		}
	}
	switch {
	case found == 0:
		return Node{}, ErrMissingRoot
	case found > 1:
		return Node{}, ErrMultipleRoots
	}
	return root, nil
}

func groupByParent(nodes []Node) map[int64][]Node {
	groups := make(map[int64][]Node, len(nodes))
	for _, n := range nodes {
		if n.IsRoot() {
			continue
		}
		groups[n.ParentID] = append(groups[n.ParentID], n)
	}
	for parentID := range groups {
		siblings := groups[parentID]
		sort.Slice(siblings, func(i, j int) bool { return less(siblings[i], siblings[j]) })
	}
	return groups
}

func attach(groups map[int64][]Node, parentID int64) []*TreeNode {
	children := groups[parentID]
	if len(children) == 0 {
		return nil
	}
	out := make([]*TreeNode, 0, len(children))
	for _, child := range children {
		out = append(out, &TreeNode{Node: child, Children: attach(groups, child.ID)})
	}
	return out
}

func less(a, b Node) bool {
	if a.Sort != b.Sort {
		return a.Sort < b.Sort
	}
	return a.ID < b.ID
}
