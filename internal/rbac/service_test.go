package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinjupeng/item-apiserver/internal/platform/cache"
)

func TestEffectivePermissionsCachedUntilInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db := &stubDB{rows: map[string][]interface{}{"FROM user_roles": {"menus.view", "orgs.edit"}}}
	svc := newService(db, &AssignmentStore{db: db, table: UserRoles}, cache.NewVersioned(client, "rbac", time.Minute), nil)
	ctx := context.Background()

	perms, err := svc.EffectivePermissions(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"menus.view", "orgs.edit"}, perms)

	_, err = svc.EffectivePermissions(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, db.queries)

	svc.Invalidate(ctx)
	_, err = svc.EffectivePermissions(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, db.queries)
}

func TestEffectivePermissionsWithoutCache(t *testing.T) {
	db := &stubDB{}
	svc := newService(db, &AssignmentStore{db: db, table: UserRoles}, nil, nil)

	perms, err := svc.EffectivePermissions(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, perms)
	svc.Invalidate(context.Background())
}

func TestEffectivePermissionsServedWhileRedisFails(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db := &stubDB{rows: map[string][]interface{}{"FROM user_roles": {"orgs.view"}}}
	svc := newService(db, &AssignmentStore{db: db, table: UserRoles}, cache.NewVersioned(client, "rbac", time.Minute), nil)
	mr.SetError("ERR redis unavailable")

	perms, err := svc.EffectivePermissions(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"orgs.view"}, perms)
	assert.Equal(t, 1, db.queries)
}
