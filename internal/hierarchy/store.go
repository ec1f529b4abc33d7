package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinjupeng/item-apiserver/internal/platform/db"
)

// Store is the persistence boundary for one family table. It holds no
// structural logic.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
	GetByID(ctx context.Context, id int64) (Node, error)
	// GetForUpdate reads a node and row-locks it; only valid inside WithTx.
	GetForUpdate(ctx context.Context, id int64) (Node, error)
	GetAll(ctx context.Context) ([]Node, error)
	GetRoots(ctx context.Context) ([]Node, error)
	GetChildren(ctx context.Context, parentID int64) ([]Node, error)
	// GetDescendantsOf returns id itself and every node below it.
	GetDescendantsOf(ctx context.Context, id int64) ([]Node, error)
	// LockDescendants row-locks and returns the proper descendants of id.
	LockDescendants(ctx context.Context, id int64) ([]Node, error)
	GetByNameLike(ctx context.Context, substr string) ([]Node, error)
	Insert(ctx context.Context, node Node) (Node, error)
	Update(ctx context.Context, node Node) error
	// TouchRows bumps updated_at on ids so that transactions holding those
	// rows under FOR UPDATE fail instead of working from a stale snapshot.
	TouchRows(ctx context.Context, ids []int64) error
	Delete(ctx context.Context, id int64) error
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	db     dbtx
	pool   *pgxpool.Pool
	family Family
	cols   string
}

// NewPGStore constructs a store for the given family.
func NewPGStore(pool *pgxpool.Pool, family Family) *PGStore {
	return newPGStore(pool, pool, family)
}

func newPGStore(conn dbtx, pool *pgxpool.Pool, family Family) *PGStore {
	return &PGStore{db: conn, pool: pool, family: family, cols: selectColumns(family)}
}

var _ Store = (*PGStore)(nil)

// WithTx runs fn against a transaction-bound copy of the store.
func (s *PGStore) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	var err error
	if s.pool == nil {
		// already bound to a transaction
		err = fn(ctx, s)
	} else {
		err = db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
			return fn(ctx, &PGStore{db: tx, family: s.family, cols: s.cols})
		})
	}
	if db.IsSerializationFailure(err) {
		return fmt.Errorf("%w: %s: %v", ErrConcurrentChange, s.family.Name, err)
	}
	return err
}

// GetByID fetches a node.
func (s *PGStore) GetByID(ctx context.Context, id int64) (Node, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, s.cols, s.table())
	return s.queryOne(ctx, query, id)
}

// GetForUpdate fetches a node with FOR UPDATE.
func (s *PGStore) GetForUpdate(ctx context.Context, id int64) (Node, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 FOR UPDATE`, s.cols, s.table())
	return s.queryOne(ctx, query, id)
}

// GetAll returns every node of the family.
func (s *PGStore) GetAll(ctx context.Context) ([]Node, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY depth, sort, id`, s.cols, s.table())
	return s.queryMany(ctx, query)
}

// GetRoots returns the depth 1 nodes.
func (s *PGStore) GetRoots(ctx context.Context) ([]Node, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE depth = 1 ORDER BY id`, s.cols, s.table())
	return s.queryMany(ctx, query)
}

// GetChildren returns the direct children of parentID.
func (s *PGStore) GetChildren(ctx context.Context, parentID int64) ([]Node, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE parent_id = $1 ORDER BY sort, id`, s.cols, s.table())
	return s.queryMany(ctx, query, parentID)
}

// GetDescendantsOf returns id and its whole subtree.
func (s *PGStore) GetDescendantsOf(ctx context.Context, id int64) ([]Node, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE ancestor_path LIKE $1 OR id = $2 ORDER BY depth, sort, id`, s.cols, s.table())
	return s.queryMany(ctx, query, descendantPattern(id), id)
}

// LockDescendants locks the proper descendants of id in id order.
func (s *PGStore) LockDescendants(ctx context.Context, id int64) ([]Node, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE ancestor_path LIKE $1 ORDER BY id FOR UPDATE`, s.cols, s.table())
	return s.queryMany(ctx, query, descendantPattern(id))
}

// GetByNameLike returns nodes whose name contains substr, ignoring case.
func (s *PGStore) GetByNameLike(ctx context.Context, substr string) ([]Node, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE name ILIKE $1 ORDER BY depth, sort, id`, s.cols, s.table())
	return s.queryMany(ctx, query, db.ContainsPattern(substr))
}

// Insert stores a new node. A zero ID is assigned by the table sequence.
func (s *PGStore) Insert(ctx context.Context, node Node) (Node, error) {
	cols := []string{"parent_id", "ancestor_path", "depth", "is_leaf", "sort", "enabled", "name"}
	args := []interface{}{nullableID(node.ParentID), node.Path.String(), node.Depth, node.IsLeaf, node.Sort, node.Enabled, node.Name}
	if node.ID > 0 {
		cols = append([]string{"id"}, cols...)
		args = append([]interface{}{node.ID}, args...)
	}
	for _, col := range s.family.Columns {
		cols = append(cols, pgx.Identifier{col}.Sanitize())
		args = append(args, node.Attrs[col])
	}
	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING %s`,
		s.table(), strings.Join(cols, ", "), strings.Join(placeholders, ", "), s.cols)
	created, err := s.queryOne(ctx, query, args...)
	if err != nil {
		return Node{}, fmt.Errorf("hierarchy: insert %s: %w", s.family.Name, err)
	}
	return created, nil
}

// Update overwrites every column of an existing node.
func (s *PGStore) Update(ctx context.Context, node Node) error {
	sets := []string{"parent_id = $1", "ancestor_path = $2", "depth = $3", "is_leaf = $4", "sort = $5", "enabled = $6", "name = $7"}
	args := []interface{}{nullableID(node.ParentID), node.Path.String(), node.Depth, node.IsLeaf, node.Sort, node.Enabled, node.Name}
	for _, col := range s.family.Columns {
		args = append(args, node.Attrs[col])
		sets = append(sets, fmt.Sprintf("%s = $%d", pgx.Identifier{col}.Sanitize(), len(args)))
	}
	args = append(args, node.ID)
	query := fmt.Sprintf(`UPDATE %s SET %s, updated_at = NOW() WHERE id = $%d`, s.table(), strings.Join(sets, ", "), len(args))
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("hierarchy: update %s %d: %w", s.family.Name, node.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchRows bumps updated_at on every id.
func (s *PGStore) TouchRows(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`UPDATE %s SET updated_at = NOW() WHERE id = ANY($1)`, s.table())
	if _, err := s.db.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("hierarchy: touch %s: %w", s.family.Name, err)
	}
	return nil
}

// Delete removes a node row.
func (s *PGStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table()), id)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: %s %d", ErrInUse, s.family.Name, id)
	}
	if err != nil {
		return fmt.Errorf("hierarchy: delete %s %d: %w", s.family.Name, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) table() string {
	return pgx.Identifier{s.family.Table}.Sanitize()
}

func (s *PGStore) queryOne(ctx context.Context, query string, args ...interface{}) (Node, error) {
	row := s.db.QueryRow(ctx, query, args...)
	node, err := s.scan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Node{}, ErrNotFound
		}
		return Node{}, err
	}
	return node, nil
}

func (s *PGStore) queryMany(ctx context.Context, query string, args ...interface{}) ([]Node, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var nodes []Node
	for rows.Next() {
		node, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

func (s *PGStore) scan(row pgx.Row) (Node, error) {
	var (
		node     Node
		parentID pgtype.Int8
		rawPath  string
	)
	extras := make([]pgtype.Text, len(s.family.Columns))
	dest := []interface{}{&node.ID, &parentID, &rawPath, &node.Depth, &node.IsLeaf, &node.Sort, &node.Enabled, &node.Name}
	for i := range extras {
		dest = append(dest, &extras[i])
	}
	dest = append(dest, &node.CreatedAt, &node.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return Node{}, err
	}
	if parentID.Valid {
		node.ParentID = parentID.Int64
	}
	path, err := Decode(rawPath)
	if err != nil {
		return Node{}, fmt.Errorf("node %d: %w", node.ID, err)
	}
	node.Path = path
	if len(s.family.Columns) > 0 {
		node.Attrs = make(map[string]string, len(s.family.Columns))
		for i, col := range s.family.Columns {
			node.Attrs[col] = extras[i].String
		}
	}
	return node, nil
}

func selectColumns(family Family) string {
	cols := []string{"id", "parent_id", "ancestor_path", "depth", "is_leaf", "sort", "enabled", "name"}
	for _, col := range family.Columns {
		cols = append(cols, pgx.Identifier{col}.Sanitize())
	}
	cols = append(cols, "created_at", "updated_at")
	return strings.Join(cols, ", ")
}

func descendantPattern(id int64) string {
	return "%" + Delimit(id) + "%"
}

func nullableID(id int64) pgtype.Int8 {
	return pgtype.Int8{Int64: id, Valid: id > 0}
}
