// Package hierarchy manages self-referencing trees stored with a materialized
// ancestor path. Organizations, menus and api permissions are all families of
// the same shape and share this implementation.
package hierarchy

import (
	"errors"
	"time"
)

// Structural errors. All of them are detected before any write.
var (
	ErrNotFound       = errors.New("hierarchy: node not found")
	ErrParentNotFound = errors.New("hierarchy: parent not found")
	ErrHasChildren    = errors.New("hierarchy: node has children")
	ErrCyclicMove     = errors.New("hierarchy: move would create a cycle")
	ErrMissingRoot    = errors.New("hierarchy: no root node")
	ErrMultipleRoots  = errors.New("hierarchy: more than one root node")
	ErrValidation     = errors.New("hierarchy: validation failed")
	ErrInUse          = errors.New("hierarchy: node is still referenced")

	// ErrConcurrentChange means another transaction rewrote the same rows
	// first; the caller may retry.
	ErrConcurrentChange = errors.New("hierarchy: concurrent change, retry")
)

// Node is one row of a family table.
type Node struct {
	ID        int64             `json:"id"`
	ParentID  int64             `json:"parentId"`
	Path      Path              `json:"ancestorPath"`
	Depth     int               `json:"depth"`
	IsLeaf    bool              `json:"isLeaf"`
	Sort      int               `json:"sort"`
	Enabled   bool              `json:"enabled"`
	Name      string            `json:"name"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// IsRoot reports whether the node has no parent.
func (n Node) IsRoot() bool {
	return n.ParentID == 0
}

// DescendantOf reports whether n is ancestorID itself or lies below it.
func (n Node) DescendantOf(ancestorID int64) bool {
	return n.ID == ancestorID || n.Path.Contains(ancestorID)
}

// NodeAttrs holds the caller supplied, non-structural attributes of a node.
type NodeAttrs struct {
	Name  string
	Sort  int
	Attrs map[string]string
}

// NodePatch is a partial attribute update. Nil fields and display columns
// missing from Attrs keep their stored value.
type NodePatch struct {
	Name  *string
	Sort  *int
	Attrs map[string]string
}

// TreeNode is a node with its children attached.
type TreeNode struct {
	Node
	Children []*TreeNode `json:"children,omitempty"`
}

// TreeQuery selects the subtree returned by Service.GetTree.
type TreeQuery struct {
	// RootID scopes the result; 0 selects the family root.
	RootID int64
	// NameLike filters by case-insensitive substring and switches the
	// result to a flat list.
	NameLike *string
	// Enabled keeps only nodes whose enabled flag equals the value.
	Enabled     *bool
	IncludeRoot bool
}

// TreeResult carries either a nested tree or a flat list.
type TreeResult struct {
	Tree []*TreeNode `json:"tree,omitempty"`
	Flat []Node      `json:"flat,omitempty"`
	// Flattened is true when a name filter broke the tree shape.
	Flattened bool `json:"flattened"`
}

// Family describes one tree table.
type Family struct {
	// Name is used for cache keys, metrics and audit entries.
	Name string
	// Table is the SQL table holding the nodes.
	Table string
	// Columns lists the family specific display columns kept in Node.Attrs.
	Columns []string
	// NewNodeEnabled is the initial enabled flag for created nodes.
	NewNodeEnabled bool
	// CheckAttrs optionally validates the trimmed display columns.
	CheckAttrs func(attrs map[string]string) error
}

// HasColumn reports whether col is one of the family display columns.
func (f Family) HasColumn(col string) bool {
	for _, c := range f.Columns {
		if c == col {
			return true
		}
	}
	return false
}
