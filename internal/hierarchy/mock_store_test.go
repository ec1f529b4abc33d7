package hierarchy

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// memStore is an in-memory Store. WithTx snapshots the rows and restores
// them when fn fails, mirroring a rolled back transaction.
type memStore struct {
	mu     sync.Mutex
	nodes  map[int64]Node
	nextID int64

	failInsert error
	failUpdate error
	failGetAll error
	// failUpdateOn fails Update only for this node id.
	failUpdateOn int64

	locked   []int64
	touched  []int64
	getAlls  int
	inTx     bool
	txCommit int
}

func newMemStore() *memStore {
	return &memStore{nodes: map[int64]Node{}, nextID: 1}
}

func (m *memStore) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	m.mu.Lock()
	backup := make(map[int64]Node, len(m.nodes))
	for id, n := range m.nodes {
		backup[id] = cloneNode(n)
	}
	nextID := m.nextID
	m.inTx = true
	m.locked = nil
	m.mu.Unlock()

	err := fn(ctx, m)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inTx = false
	if err != nil {
		m.nodes = backup
		m.nextID = nextID
		return err
	}
	m.txCommit++
	return nil
}

func (m *memStore) GetByID(_ context.Context, id int64) (Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return Node{}, ErrNotFound
	}
	return cloneNode(n), nil
}

func (m *memStore) GetForUpdate(ctx context.Context, id int64) (Node, error) {
	n, err := m.GetByID(ctx, id)
	if err == nil {
		m.mu.Lock()
		m.locked = append(m.locked, id)
		m.mu.Unlock()
	}
	return n, err
}

func (m *memStore) GetAll(_ context.Context) ([]Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getAlls++
	if m.failGetAll != nil {
		return nil, m.failGetAll
	}
	return m.sorted(func(Node) bool { return true }), nil
}

func (m *memStore) GetRoots(_ context.Context) ([]Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(n Node) bool { return n.Depth == 1 }), nil
}

func (m *memStore) GetChildren(_ context.Context, parentID int64) ([]Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(n Node) bool { return n.ParentID == parentID }), nil
}

func (m *memStore) GetDescendantsOf(_ context.Context, id int64) ([]Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(n Node) bool { return ContainsAncestor(n.Path.String(), id) || n.ID == id }), nil
}

func (m *memStore) LockDescendants(_ context.Context, id int64) ([]Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sorted(func(n Node) bool { return ContainsAncestor(n.Path.String(), id) })
	for _, n := range out {
		m.locked = append(m.locked, n.ID)
	}
	return out, nil
}

func (m *memStore) GetByNameLike(_ context.Context, substr string) ([]Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(substr)
	return m.sorted(func(n Node) bool { return strings.Contains(strings.ToLower(n.Name), needle) }), nil
}

func (m *memStore) Insert(_ context.Context, node Node) (Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsert != nil {
		return Node{}, m.failInsert
	}
	if node.ID == 0 {
		node.ID = m.nextID
	}
	if node.ID >= m.nextID {
		m.nextID = node.ID + 1
	}
	m.nodes[node.ID] = cloneNode(node)
	return cloneNode(node), nil
}

func (m *memStore) Update(_ context.Context, node Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdate != nil && (m.failUpdateOn == 0 || m.failUpdateOn == node.ID) {
		return m.failUpdate
	}
	if _, ok := m.nodes[node.ID]; !ok {
		return ErrNotFound
	}
	m.nodes[node.ID] = cloneNode(node)
	return nil
}

func (m *memStore) TouchRows(_ context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched = append(m.touched, ids...)
	return nil
}

func (m *memStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[id]; !ok {
		return ErrNotFound
	}
	delete(m.nodes, id)
	return nil
}

// put stores a row as is, bypassing the mutator.
func (m *memStore) put(n Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[n.ID] = cloneNode(n)
	if n.ID >= m.nextID {
		m.nextID = n.ID + 1
	}
}

func (m *memStore) node(id int64) Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneNode(m.nodes[id])
}

func (m *memStore) sorted(keep func(Node) bool) []Node {
	var out []Node
	for _, n := range m.nodes {
		if keep(n) {
			out = append(out, cloneNode(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cloneNode(n Node) Node {
	n.Path = append(Path{}, n.Path...)
	if n.Attrs != nil {
		attrs := make(map[string]string, len(n.Attrs))
		for k, v := range n.Attrs {
			attrs[k] = v
		}
		n.Attrs = attrs
	}
	return n
}

type memAssignments struct {
	rows     map[int64][]int64
	failSave error
}

func newMemAssignments() *memAssignments {
	return &memAssignments{rows: map[int64][]int64{}}
}

func (a *memAssignments) ListNodeIDs(_ context.Context, ownerID int64) ([]int64, error) {
	return append([]int64(nil), a.rows[ownerID]...), nil
}

func (a *memAssignments) ReplaceNodeIDs(_ context.Context, ownerID int64, nodeIDs []int64) error {
	if a.failSave != nil {
		return a.failSave
	}
	a.rows[ownerID] = append([]int64(nil), nodeIDs...)
	return nil
}
