package organizations

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinjupeng/item-apiserver/internal/hierarchy"
)

// fixedTree answers Subtree from an in-memory node list the way the
// ancestor path query does.
type fixedTree struct {
	nodes []hierarchy.Node
	err   error
}

func (f fixedTree) Subtree(_ context.Context, id int64) ([]hierarchy.Node, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []hierarchy.Node
	for _, n := range f.nodes {
		if n.DescendantOf(id) {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil, hierarchy.ErrNotFound
	}
	return out, nil
}

func orgTree() []hierarchy.Node {
	return []hierarchy.Node{
		{ID: 1, Depth: 1, Name: "Group"},
		{ID: 2, ParentID: 1, Path: hierarchy.Path{1}, Depth: 2, Name: "Retail"},
		{ID: 3, ParentID: 2, Path: hierarchy.Path{1, 2}, Depth: 3, Name: "Stores", IsLeaf: true},
		{ID: 12, ParentID: 1, Path: hierarchy.Path{1}, Depth: 2, Name: "Finance", IsLeaf: true},
	}
}

func TestScopeSubtreeIDs(t *testing.T) {
	scope := NewScope(fixedTree{nodes: orgTree()})
	ctx := context.Background()

	ids, err := scope.SubtreeIDs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, ids)

	ids, err = scope.SubtreeIDs(ctx, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2, 3, 12}, ids)

	_, err = scope.SubtreeIDs(ctx, 99)
	assert.ErrorIs(t, err, hierarchy.ErrNotFound)
}

func TestScopeExists(t *testing.T) {
	ctx := context.Background()
	scope := NewScope(fixedTree{nodes: orgTree()})

	ok, err := scope.Exists(ctx, 12)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = scope.Exists(ctx, 1200)
	require.NoError(t, err)
	assert.False(t, ok)

	boom := errors.New("redis and db down")
	_, err = NewScope(fixedTree{err: boom}).Exists(ctx, 1)
	assert.ErrorIs(t, err, boom)
}

func TestFamilyAttrs(t *testing.T) {
	f := Family(true)
	assert.Equal(t, "organizations", f.Table)
	assert.True(t, f.NewNodeEnabled)
	assert.True(t, f.HasColumn("email"))

	assert.NoError(t, f.CheckAttrs(map[string]string{"email": "ops@example.com"}))
	assert.NoError(t, f.CheckAttrs(map[string]string{"email": ""}))
	assert.Error(t, f.CheckAttrs(map[string]string{"email": "not-an-email"}))
	assert.Error(t, f.CheckAttrs(map[string]string{"phone": "0123456789012345678901234567890123"}))
}
