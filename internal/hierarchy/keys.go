package hierarchy

import (
	"context"
	"fmt"
	"sort"
)

// AssignmentReader lists the node ids linked to an owner (usually a role).
type AssignmentReader interface {
	ListNodeIDs(ctx context.Context, ownerID int64) ([]int64, error)
}

// AssignmentWriter replaces the node ids linked to an owner in one
// transaction.
type AssignmentWriter interface {
	ReplaceNodeIDs(ctx context.Context, ownerID int64, nodeIDs []int64) error
}

// AssignmentStore is the join table between owners and one family.
type AssignmentStore interface {
	AssignmentReader
	AssignmentWriter
}

// ExpandedKeys returns the ids of nodes that have children, ascending.
func ExpandedKeys(nodes []Node) []int64 {
	keys := make([]int64, 0, len(nodes))
	for _, n := range nodes {
		if !n.IsLeaf {
			keys = append(keys, n.ID)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// CheckedKeys returns the ids currently linked to roleID, ascending.
func CheckedKeys(ctx context.Context, assignments AssignmentReader, roleID int64) ([]int64, error) {
	ids, err := assignments.ListNodeIDs(ctx, roleID)
	if err != nil {
		return nil, err
	}
	out := dedupe(ids)
	if out == nil {
		out = []int64{}
	}
	return out, nil
}

// SaveCheckedKeys replaces the ids linked to roleID.
func SaveCheckedKeys(ctx context.Context, assignments AssignmentWriter, roleID int64, ids []int64) error {
	if roleID <= 0 {
		return fmt.Errorf("%w: invalid role id %d", ErrValidation, roleID)
	}
	return assignments.ReplaceNodeIDs(ctx, roleID, dedupe(ids))
}

func dedupe(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
