package rbac

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinjupeng/item-apiserver/internal/platform/db"
)

// DBTX is satisfied by pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// AssignmentStore reads and replaces the rows of one join table.
type AssignmentStore struct {
	db    DBTX
	pool  *pgxpool.Pool
	table JoinTable
}

// NewAssignmentStore constructs an AssignmentStore.
func NewAssignmentStore(pool *pgxpool.Pool, table JoinTable) *AssignmentStore {
	return &AssignmentStore{db: pool, pool: pool, table: table}
}

// ListNodeIDs returns the ids linked to ownerID, ascending.
func (s *AssignmentStore) ListNodeIDs(ctx context.Context, ownerID int64) ([]int64, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 ORDER BY %s`,
		s.ident(s.table.NodeColumn), s.ident(s.table.Table), s.ident(s.table.OwnerColumn), s.ident(s.table.NodeColumn))
	return s.queryIDs(ctx, query, ownerID)
}

// ListNodeIDsForOwners returns the distinct ids linked to any of ownerIDs.
func (s *AssignmentStore) ListNodeIDsForOwners(ctx context.Context, ownerIDs []int64) ([]int64, error) {
	if len(ownerIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT DISTINCT %s FROM %s WHERE %s = ANY($1) ORDER BY %s`,
		s.ident(s.table.NodeColumn), s.ident(s.table.Table), s.ident(s.table.OwnerColumn), s.ident(s.table.NodeColumn))
	return s.queryIDs(ctx, query, ownerIDs)
}

// ReplaceNodeIDs deletes every row of ownerID and inserts nodeIDs in one
// transaction.
func (s *AssignmentStore) ReplaceNodeIDs(ctx context.Context, ownerID int64, nodeIDs []int64) error {
	if s.pool == nil {
		return s.replace(ctx, s.db, ownerID, nodeIDs)
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return s.replace(ctx, tx, ownerID, nodeIDs)
	})
}

// DeleteOwner removes every row of ownerID using conn, which is usually a
// transaction owned by the caller.
func (s *AssignmentStore) DeleteOwner(ctx context.Context, conn DBTX, ownerID int64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, s.ident(s.table.Table), s.ident(s.table.OwnerColumn))
	if _, err := conn.Exec(ctx, query, ownerID); err != nil {
		return fmt.Errorf("rbac: clear %s for %d: %w", s.table.Table, ownerID, err)
	}
	return nil
}

// DeleteNode removes every row pointing at nodeID using conn.
func (s *AssignmentStore) DeleteNode(ctx context.Context, conn DBTX, nodeID int64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, s.ident(s.table.Table), s.ident(s.table.NodeColumn))
	if _, err := conn.Exec(ctx, query, nodeID); err != nil {
		return fmt.Errorf("rbac: clear %s of %d: %w", s.table.Table, nodeID, err)
	}
	return nil
}

// Table returns the join table description.
func (s *AssignmentStore) Table() JoinTable {
	return s.table
}

func (s *AssignmentStore) replace(ctx context.Context, conn DBTX, ownerID int64, nodeIDs []int64) error {
	if err := s.DeleteOwner(ctx, conn, ownerID); err != nil {
		return err
	}
	if len(nodeIDs) == 0 {
		return nil
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s, %s) SELECT $1, unnest($2::bigint[])`,
		s.ident(s.table.Table), s.ident(s.table.OwnerColumn), s.ident(s.table.NodeColumn))
	if _, err := conn.Exec(ctx, query, ownerID, nodeIDs); err != nil {
		return fmt.Errorf("rbac: insert %s for %d: %w", s.table.Table, ownerID, err)
	}
	return nil
}

func (s *AssignmentStore) queryIDs(ctx context.Context, query string, args ...interface{}) ([]int64, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *AssignmentStore) ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
