package hierarchy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/jinjupeng/item-apiserver/internal/platform/cache"
	"github.com/jinjupeng/item-apiserver/internal/shared"
)

// AuditRecorder persists audit entries for structural mutations.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig collects the dependencies of a family Service.
type ServiceConfig struct {
	Family      Family
	Store       Store
	Assignments AssignmentStore
	Cache       *cache.Versioned
	Audit       AuditRecorder
	Metrics     *Metrics
	Logger      *slog.Logger
	// OnChange runs after every committed write, e.g. to drop permission
	// caches derived from the family.
	OnChange func(context.Context)
}

// Service is the entry point for one family: writes go through the Mutator,
// reads are served from a cached snapshot of the whole family.
type Service struct {
	family      Family
	store       Store
	mutator     *Mutator
	assignments AssignmentStore
	cache       *cache.Versioned
	audit       AuditRecorder
	metrics     *Metrics
	logger      *slog.Logger
	onChange    func(context.Context)
	loads       singleflight.Group
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		family:      cfg.Family,
		store:       cfg.Store,
		mutator:     NewMutator(cfg.Store, cfg.Family),
		assignments: cfg.Assignments,
		cache:       cfg.Cache,
		audit:       cfg.Audit,
		metrics:     cfg.Metrics,
		logger:      logger.With(slog.String("family", cfg.Family.Name)),
		onChange:    cfg.OnChange,
	}
}

// Family returns the family descriptor.
func (s *Service) Family() Family {
	return s.family
}

// CreateNode inserts a node below parentID.
func (s *Service) CreateNode(ctx context.Context, parentID int64, attrs NodeAttrs) (Node, error) {
	node, err := s.mutator.Create(ctx, parentID, attrs)
	s.afterMutation(ctx, "create", node.ID, map[string]any{"parent_id": parentID, "name": attrs.Name}, err)
	return node, err
}

// CreateRoot inserts the family root.
func (s *Service) CreateRoot(ctx context.Context, attrs NodeAttrs) (Node, error) {
	node, err := s.mutator.CreateRoot(ctx, attrs)
	s.afterMutation(ctx, "create_root", node.ID, map[string]any{"name": attrs.Name}, err)
	return node, err
}

// DeleteNode removes a childless node.
func (s *Service) DeleteNode(ctx context.Context, id int64) error {
	err := s.mutator.Delete(ctx, id)
	s.afterMutation(ctx, "delete", id, nil, err)
	return err
}

// MoveNode re-parents id and its subtree under newParentID.
func (s *Service) MoveNode(ctx context.Context, id, newParentID int64) error {
	err := s.mutator.Move(ctx, id, newParentID)
	s.afterMutation(ctx, "move", id, map[string]any{"parent_id": newParentID}, err)
	return err
}

// UpdateStatus flips the enabled flag.
func (s *Service) UpdateStatus(ctx context.Context, id int64, enabled bool) error {
	err := s.mutator.UpdateStatus(ctx, id, enabled)
	s.afterMutation(ctx, "status", id, map[string]any{"enabled": enabled}, err)
	return err
}

// UpdateAttrs patches the display attributes of a node.
func (s *Service) UpdateAttrs(ctx context.Context, id int64, patch NodePatch) (Node, error) {
	node, err := s.mutator.UpdateAttrs(ctx, id, patch)
	s.afterMutation(ctx, "update", id, map[string]any{"name": node.Name}, err)
	return node, err
}

// GetNode fetches a single node from the store.
func (s *Service) GetNode(ctx context.Context, id int64) (Node, error) {
	return s.store.GetByID(ctx, id)
}

// Subtree returns id and every node below it, read straight from the store.
func (s *Service) Subtree(ctx context.Context, id int64) ([]Node, error) {
	nodes, err := s.store.GetDescendantsOf(ctx, id)
	if err != nil {
		return nil, err
	}
	if !containsID(nodes, id) {
		return nil, fmt.Errorf("%w: %s %d", ErrNotFound, s.family.Name, id)
	}
	return nodes, nil
}

// FindRoot locates the single depth 1 node.
func (s *Service) FindRoot(ctx context.Context) (Node, error) {
	nodes, err := s.Snapshot(ctx)
	if err != nil {
		return Node{}, err
	}
	return FindRoot(nodes)
}

// GetTree returns the subtree selected by q, nested or flat.
func (s *Service) GetTree(ctx context.Context, q TreeQuery) (TreeResult, error) {
	nodes, err := s.Snapshot(ctx)
	if err != nil {
		return TreeResult{}, err
	}
	rootID := q.RootID
	if rootID == 0 {
		root, err := FindRoot(nodes)
		if err != nil {
			return TreeResult{}, err
		}
		rootID = root.ID
	} else if !containsID(nodes, rootID) {
		return TreeResult{}, fmt.Errorf("%w: %s %d", ErrNotFound, s.family.Name, rootID)
	}
	nameActive := q.NameLike != nil && strings.TrimSpace(*q.NameLike) != ""
	filtered := Filter(nodes, rootID, q.NameLike, q.Enabled)
	return Assemble(filtered, rootID, q.IncludeRoot, nameActive), nil
}

// Search returns every node whose name contains nameLike, ignoring case.
func (s *Service) Search(ctx context.Context, nameLike string) ([]Node, error) {
	nameLike = strings.TrimSpace(nameLike)
	if nameLike == "" {
		return nil, fmt.Errorf("%w: search term required", ErrValidation)
	}
	nodes, err := s.store.GetByNameLike(ctx, nameLike)
	if err != nil {
		return nil, err
	}
	if nodes == nil {
		nodes = []Node{}
	}
	return nodes, nil
}

// GetExpandedKeys returns the ids of every node with children.
func (s *Service) GetExpandedKeys(ctx context.Context) ([]int64, error) {
	nodes, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return ExpandedKeys(nodes), nil
}

// GetCheckedKeys returns the ids linked to roleID.
func (s *Service) GetCheckedKeys(ctx context.Context, roleID int64) ([]int64, error) {
	if s.assignments == nil {
		return nil, fmt.Errorf("hierarchy: %s has no role assignments", s.family.Name)
	}
	return CheckedKeys(ctx, s.assignments, roleID)
}

// SaveCheckedKeys replaces the ids linked to roleID. Every id must exist in
// the family.
func (s *Service) SaveCheckedKeys(ctx context.Context, roleID int64, ids []int64) error {
	if s.assignments == nil {
		return fmt.Errorf("hierarchy: %s has no role assignments", s.family.Name)
	}
	nodes, err := s.store.GetAll(ctx)
	if err != nil {
		return err
	}
	known := make(map[int64]struct{}, len(nodes))
	for _, n := range nodes {
		known[n.ID] = struct{}{}
	}
	var unknown []string
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			unknown = append(unknown, strconv.FormatInt(id, 10))
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: unknown %s ids %s", ErrValidation, s.family.Name, strings.Join(unknown, ","))
	}
	err = SaveCheckedKeys(ctx, s.assignments, roleID, ids)
	if err == nil {
		s.notify(ctx)
		s.record(ctx, "checked_keys", strconv.FormatInt(roleID, 10), map[string]any{"ids": dedupe(ids)})
	}
	return err
}

// CheckIntegrity reads the family straight from the store and reports every
// broken structural invariant.
func (s *Service) CheckIntegrity(ctx context.Context) ([]Violation, error) {
	nodes, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return CheckIntegrity(nodes), nil
}

// RepairLeafFlags corrects is_leaf on every node where it disagrees with the
// actual child count and returns the repaired node ids.
func (s *Service) RepairLeafFlags(ctx context.Context) ([]int64, error) {
	var repaired []int64
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		nodes, err := tx.GetAll(ctx)
		if err != nil {
			return err
		}
		for _, n := range RepairLeafFlags(nodes) {
			if err := tx.Update(ctx, n); err != nil {
				return err
			}
			repaired = append(repaired, n.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(repaired) > 0 {
		s.invalidate(ctx)
		s.record(ctx, "repair_leaf", s.family.Name, map[string]any{"ids": repaired})
	}
	return repaired, nil
}

// Snapshot returns every node of the family, served from the cache when
// possible. Concurrent misses share one store read.
func (s *Service) Snapshot(ctx context.Context) ([]Node, error) {
	if s.cache == nil {
		s.metrics.observeSnapshot(s.family.Name, "store")
		return s.store.GetAll(ctx)
	}
	key, err := s.cache.Key(ctx, "nodes")
	if err != nil {
		s.logger.Warn("snapshot cache key", slog.Any("error", err))
		s.metrics.observeSnapshot(s.family.Name, "store")
		return s.store.GetAll(ctx)
	}
	v, err, _ := s.loads.Do(key, func() (interface{}, error) {
		var (
			nodes   []Node
			loadErr error
		)
		source := "cache"
		err := s.cache.FetchJSON(ctx, key, &nodes, func(ctx context.Context) (interface{}, error) {
			source = "store"
			all, err := s.store.GetAll(ctx)
			if err != nil {
				loadErr = err
				return nil, err
			}
			if all == nil {
				all = []Node{}
			}
			return all, nil
		})
		if loadErr != nil {
			return nil, loadErr
		}
		if err != nil {
			// cached payload unusable; serve from the store
			s.logger.Warn("snapshot cache", slog.Any("error", err))
			s.metrics.observeSnapshot(s.family.Name, "store")
			return s.store.GetAll(ctx)
		}
		s.metrics.observeSnapshot(s.family.Name, source)
		return nodes, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Node), nil
}

func (s *Service) afterMutation(ctx context.Context, op string, id int64, meta map[string]any, err error) {
	s.metrics.observeMutation(s.family.Name, op, err)
	if err != nil {
		return
	}
	s.invalidate(ctx)
	s.record(ctx, op, strconv.FormatInt(id, 10), meta)
}

func (s *Service) invalidate(ctx context.Context) {
	s.notify(ctx)
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("snapshot cache bump", slog.Any("error", err))
	}
}

func (s *Service) notify(ctx context.Context) {
	if s.onChange != nil {
		s.onChange(ctx)
	}
}

func (s *Service) record(ctx context.Context, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Action:   s.family.Name + "." + action,
		Entity:   s.family.Name,
		EntityID: entityID,
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func containsID(nodes []Node, id int64) bool {
	for _, n := range nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}
