package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jinjupeng/item-apiserver/internal/platform/db"
)

// Mutator owns the structural invariants: ancestor path and depth derive
// from the parent, and is_leaf tracks whether children exist.
type Mutator struct {
	store  Store
	family Family
}

// NewMutator builds a Mutator.
func NewMutator(store Store, family Family) *Mutator {
	return &Mutator{store: store, family: family}
}

// CreateRoot inserts the single root of the family.
func (m *Mutator) CreateRoot(ctx context.Context, attrs NodeAttrs) (Node, error) {
	if err := m.validate(attrs); err != nil {
		return Node{}, err
	}
	var created Node
	err := m.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		roots, err := tx.GetRoots(ctx)
		if err != nil {
			return err
		}
		if len(roots) > 0 {
			return ErrMultipleRoots
		}
		created, err = tx.Insert(ctx, Node{
			Path:    Path{},
			Depth:   1,
			IsLeaf:  true,
			Sort:    attrs.Sort,
			Enabled: m.family.NewNodeEnabled,
			Name:    strings.TrimSpace(attrs.Name),
			Attrs:   m.cleanAttrs(attrs.Attrs),
		})
		if db.IsUniqueViolation(err) {
			// lost the race against another root insert
			return fmt.Errorf("%w: %v", ErrMultipleRoots, err)
		}
		return err
	})
	if err != nil {
		return Node{}, err
	}
	return created, nil
}

// Create inserts a leaf below parentID and marks the parent as internal.
func (m *Mutator) Create(ctx context.Context, parentID int64, attrs NodeAttrs) (Node, error) {
	if err := m.validate(attrs); err != nil {
		return Node{}, err
	}
	var created Node
	err := m.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		parent, err := tx.GetByID(ctx, parentID)
		if err != nil {
			return notFoundAs(err, ErrParentNotFound)
		}
		// A Move of any ancestor locks that ancestor first. Writing the whole
		// chain makes such a Move abort rather than miss the new row.
		if err := tx.TouchRows(ctx, parent.Path.Child(parent.ID)); err != nil {
			return err
		}
		if parent, err = tx.GetForUpdate(ctx, parentID); err != nil {
			return notFoundAs(err, ErrParentNotFound)
		}
		created, err = tx.Insert(ctx, Node{
			ParentID: parent.ID,
			Path:     parent.Path.Child(parent.ID),
			Depth:    parent.Depth + 1,
			IsLeaf:   true,
			Sort:     attrs.Sort,
			Enabled:  m.family.NewNodeEnabled,
			Name:     strings.TrimSpace(attrs.Name),
			Attrs:    m.cleanAttrs(attrs.Attrs),
		})
		if err != nil {
			return err
		}
		if parent.IsLeaf {
			parent.IsLeaf = false
			if err := tx.Update(ctx, parent); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Node{}, err
	}
	return created, nil
}

// Delete removes a childless node. The parent becomes a leaf again when the
// node was its only child.
func (m *Mutator) Delete(ctx context.Context, id int64) error {
	return m.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		node, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		children, err := tx.GetChildren(ctx, id)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return fmt.Errorf("%w: %d children", ErrHasChildren, len(children))
		}
		if !node.IsRoot() {
			parent, err := tx.GetForUpdate(ctx, node.ParentID)
			if err != nil {
				return notFoundAs(err, ErrParentNotFound)
			}
			siblings, err := tx.GetChildren(ctx, node.ParentID)
			if err != nil {
				return err
			}
			if onlyChild(siblings, id) && !parent.IsLeaf {
				parent.IsLeaf = true
				if err := tx.Update(ctx, parent); err != nil {
					return err
				}
			}
		}
		return tx.Delete(ctx, id)
	})
}

// Move re-parents id under newParentID and rewrites the path and depth of
// the whole subtree. The subtree stays row-locked until commit.
func (m *Mutator) Move(ctx context.Context, id, newParentID int64) error {
	if id == newParentID {
		return fmt.Errorf("%w: node %d cannot be its own parent", ErrCyclicMove, id)
	}
	return m.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		node, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		var oldParent Node
		if !node.IsRoot() {
			if oldParent, err = tx.GetForUpdate(ctx, node.ParentID); err != nil {
				return notFoundAs(err, ErrParentNotFound)
			}
		}
		newParent, err := tx.GetForUpdate(ctx, newParentID)
		if err != nil {
			return notFoundAs(err, ErrParentNotFound)
		}
		if newParent.Path.Contains(id) {
			return fmt.Errorf("%w: %d is below %d", ErrCyclicMove, newParentID, id)
		}
		if node.ParentID == newParentID {
			return nil
		}
		descendants, err := tx.LockDescendants(ctx, id)
		if err != nil {
			return err
		}

		oldPrefix := node.Path.Child(node.ID)
		node.ParentID = newParent.ID
		node.Path = newParent.Path.Child(newParent.ID)
		delta := newParent.Depth + 1 - node.Depth
		node.Depth = newParent.Depth + 1
		newPrefix := node.Path.Child(node.ID)

		if err := tx.Update(ctx, node); err != nil {
			return err
		}
		for _, d := range descendants {
			rebased, ok := d.Path.Rebase(oldPrefix, newPrefix)
			if !ok {
				return fmt.Errorf("hierarchy: descendant %d of %d has inconsistent path %q", d.ID, id, d.Path)
			}
			d.Path = rebased
			d.Depth += delta
			if err := tx.Update(ctx, d); err != nil {
				return err
			}
		}

		if newParent.IsLeaf {
			newParent.IsLeaf = false
			if err := tx.Update(ctx, newParent); err != nil {
				return err
			}
		}
		if oldParent.ID != 0 {
			remaining, err := tx.GetChildren(ctx, oldParent.ID)
			if err != nil {
				return err
			}
			if len(remaining) == 0 {
				oldParent.IsLeaf = true
				if err := tx.Update(ctx, oldParent); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// UpdateStatus flips the enabled flag without structural effect.
func (m *Mutator) UpdateStatus(ctx context.Context, id int64, enabled bool) error {
	return m.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		node, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if node.Enabled == enabled {
			return nil
		}
		node.Enabled = enabled
		return tx.Update(ctx, node)
	})
}

// UpdateAttrs applies patch to the name, sort and display columns of a node.
func (m *Mutator) UpdateAttrs(ctx context.Context, id int64, patch NodePatch) (Node, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return Node{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if patch.Sort != nil && *patch.Sort < 0 {
		return Node{}, fmt.Errorf("%w: sort must not be negative", ErrValidation)
	}
	if err := m.checkColumns(patch.Attrs); err != nil {
		return Node{}, err
	}
	var updated Node
	err := m.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		node, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			node.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Sort != nil {
			node.Sort = *patch.Sort
		}
		node.Attrs = m.mergeAttrs(node.Attrs, patch.Attrs)
		if m.family.CheckAttrs != nil {
			if err := m.family.CheckAttrs(node.Attrs); err != nil {
				return fmt.Errorf("%w: %v", ErrValidation, err)
			}
		}
		if err := tx.Update(ctx, node); err != nil {
			return err
		}
		updated = node
		return nil
	})
	if err != nil {
		return Node{}, err
	}
	return updated, nil
}

func (m *Mutator) validate(attrs NodeAttrs) error {
	if strings.TrimSpace(attrs.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if err := m.checkColumns(attrs.Attrs); err != nil {
		return err
	}
	if m.family.CheckAttrs != nil {
		if err := m.family.CheckAttrs(m.cleanAttrs(attrs.Attrs)); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	return nil
}

func (m *Mutator) checkColumns(attrs map[string]string) error {
	for key := range attrs {
		if !m.family.HasColumn(key) {
			return fmt.Errorf("%w: unknown %s attribute %q", ErrValidation, m.family.Name, key)
		}
	}
	return nil
}

func (m *Mutator) cleanAttrs(in map[string]string) map[string]string {
	if len(m.family.Columns) == 0 {
		return nil
	}
	out := make(map[string]string, len(m.family.Columns))
	for _, col := range m.family.Columns {
		out[col] = strings.TrimSpace(in[col])
	}
	return out
}

func (m *Mutator) mergeAttrs(stored, in map[string]string) map[string]string {
	if len(m.family.Columns) == 0 {
		return nil
	}
	out := make(map[string]string, len(m.family.Columns))
	for _, col := range m.family.Columns {
		if v, ok := in[col]; ok {
			out[col] = strings.TrimSpace(v)
			continue
		}
		out[col] = stored[col]
	}
	return out
}

func onlyChild(siblings []Node, id int64) bool {
	return len(siblings) == 1 && siblings[0].ID == id
}

func notFoundAs(err, target error) error {
	if errors.Is(err, ErrNotFound) {
		return target
	}
	return err
}
