package hierarchy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinjupeng/item-apiserver/internal/platform/cache"
	"github.com/jinjupeng/item-apiserver/internal/shared"
)

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

type serviceFixture struct {
	svc         *Service
	store       *memStore
	assignments *memAssignments
	audit       *recordingAudit
	metrics     *Metrics
	redis       *miniredis.Miniredis
	changes     int
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &serviceFixture{
		store:       newMemStore(),
		assignments: newMemAssignments(),
		audit:       &recordingAudit{},
		metrics:     NewMetrics(prometheus.NewRegistry()),
		redis:       mr,
	}
	f.svc = NewService(ServiceConfig{
		Family:      testFamily,
		Store:       f.store,
		Assignments: f.assignments,
		Cache:       cache.NewVersioned(client, "tree:org", time.Minute),
		Audit:       f.audit,
		Metrics:     f.metrics,
		OnChange:    func(context.Context) { f.changes++ },
	})
	for _, n := range sampleNodes() {
		f.store.put(n)
	}
	return f
}

func TestServiceSnapshotIsCachedUntilMutation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	first, err := f.svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, first, 6)
	_, err = f.svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.getAlls)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.snapshots.WithLabelValues("org", "cache")))

	_, err = f.svc.CreateNode(ctx, 4, NodeAttrs{Name: "Payroll"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.changes)

	after, err := f.svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, after, 7)
	assert.Equal(t, 2, f.store.getAlls)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.mutations.WithLabelValues("org", "create", "ok")))
	assert.Equal(t, []string{"org.create"}, f.audit.actions())
}

func TestServiceFailedMutationKeepsCache(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	_, err := f.svc.Snapshot(ctx)
	require.NoError(t, err)

	err = f.svc.DeleteNode(ctx, 2)
	assert.ErrorIs(t, err, ErrHasChildren)
	assert.Zero(t, f.changes)
	assert.Empty(t, f.audit.actions())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.mutations.WithLabelValues("org", "delete", "has_children")))

	_, err = f.svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.getAlls)
}

func TestServiceSnapshotFallsBackWhenRedisIsDown(t *testing.T) {
	f := newServiceFixture(t)
	f.redis.Close()

	nodes, err := f.svc.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, nodes, 6)
}

func TestServiceSnapshotPropagatesStoreError(t *testing.T) {
	f := newServiceFixture(t)
	boom := errors.New("db down")
	f.store.failGetAll = boom

	_, err := f.svc.Snapshot(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestServiceGetTree(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	res, err := f.svc.GetTree(ctx, TreeQuery{IncludeRoot: true})
	require.NoError(t, err)
	require.Len(t, res.Tree, 1)
	assert.Equal(t, int64(1), res.Tree[0].ID)

	res, err = f.svc.GetTree(ctx, TreeQuery{RootID: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 5}, ids(res.Tree))

	name := "st"
	res, err = f.svc.GetTree(ctx, TreeQuery{NameLike: &name, IncludeRoot: true})
	require.NoError(t, err)
	assert.True(t, res.Flattened)
	assert.Equal(t, []int64{3, 5}, nodeIDs(res.Flat))

	_, err = f.svc.GetTree(ctx, TreeQuery{RootID: 404})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceGetTreeRootErrors(t *testing.T) {
	ctx := context.Background()
	empty := NewService(ServiceConfig{Family: testFamily, Store: newMemStore()})
	_, err := empty.GetTree(ctx, TreeQuery{IncludeRoot: true})
	assert.ErrorIs(t, err, ErrMissingRoot)

	store := newMemStore()
	store.put(Node{ID: 1, Depth: 1, IsLeaf: true})
	store.put(Node{ID: 2, Depth: 1, IsLeaf: true})
	twoRoots := NewService(ServiceConfig{Family: testFamily, Store: store})
	_, err = twoRoots.GetTree(ctx, TreeQuery{})
	assert.ErrorIs(t, err, ErrMultipleRoots)
}

func TestServiceSearch(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	nodes, err := f.svc.Search(ctx, " AN ")
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, nodeIDs(nodes))

	nodes, err = f.svc.Search(ctx, "nothing")
	require.NoError(t, err)
	assert.NotNil(t, nodes)
	assert.Empty(t, nodes)

	_, err = f.svc.Search(ctx, "   ")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestServiceSubtree(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	nodes, err := f.svc.Subtree(ctx, 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{2, 3, 5}, nodeIDs(nodes))

	nodes, err = f.svc.Subtree(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, []int64{6}, nodeIDs(nodes))

	_, err = f.svc.Subtree(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceKeys(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	expanded, err := f.svc.GetExpandedKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, expanded)

	require.NoError(t, f.svc.SaveCheckedKeys(ctx, 7, []int64{5, 3, 5}))
	checked, err := f.svc.GetCheckedKeys(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 5}, checked)
	assert.Equal(t, 1, f.changes)
	assert.Equal(t, []string{"org.checked_keys"}, f.audit.actions())

	err = f.svc.SaveCheckedKeys(ctx, 7, []int64{3, 99})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, []int64{3, 5}, f.assignments.rows[7])
}

func TestServiceKeysWithoutAssignments(t *testing.T) {
	svc := NewService(ServiceConfig{Family: testFamily, Store: newMemStore()})
	_, err := svc.GetCheckedKeys(context.Background(), 1)
	assert.Error(t, err)
	assert.Error(t, svc.SaveCheckedKeys(context.Background(), 1, nil))
}

func TestServiceIntegrityAndRepair(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	broken := f.store.node(4)
	broken.IsLeaf = false
	f.store.put(broken)

	violations, err := f.svc.CheckIntegrity(ctx)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, RuleLeaf, violations[0].Rule)

	repaired, err := f.svc.RepairLeafFlags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, repaired)
	assert.True(t, f.store.node(4).IsLeaf)
	assert.Equal(t, []string{"org.repair_leaf"}, f.audit.actions())

	violations, err = f.svc.CheckIntegrity(ctx)
	require.NoError(t, err)
	assert.Empty(t, violations)

	repaired, err = f.svc.RepairLeafFlags(ctx)
	require.NoError(t, err)
	assert.Empty(t, repaired)
}

func TestServiceMoveAndStatus(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.MoveNode(ctx, 5, 4))
	moved, err := f.svc.GetNode(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "[1],[4]", moved.Path.String())

	require.NoError(t, f.svc.UpdateStatus(ctx, 6, true))
	assert.True(t, f.store.node(6).Enabled)

	name, sort := "Operations", 3
	updated, err := f.svc.UpdateAttrs(ctx, 6, NodePatch{Name: &name, Sort: &sort})
	require.NoError(t, err)
	assert.Equal(t, "Operations", updated.Name)

	assert.Equal(t, []string{"org.move", "org.status", "org.update"}, f.audit.actions())
	nodes, err := f.svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, CheckIntegrity(nodes))
}
