package users

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jinjupeng/item-apiserver/internal/shared"
)

type mockRepo struct {
	users   map[int64]User
	roles   map[int64][]int64
	nextID  int64
	filters []ListFilters
}

func newMockRepo() *mockRepo {
	return &mockRepo{users: map[int64]User{}, roles: map[int64][]int64{}, nextID: 1}
}

func (m *mockRepo) ListUsers(_ context.Context, filters ListFilters) ([]User, int, error) {
	m.filters = append(m.filters, filters)
	out := []User{}
	for id := int64(1); id < m.nextID; id++ {
		u, ok := m.users[id]
		if !ok {
			continue
		}
		if len(filters.OrgIDs) > 0 && !containsID(filters.OrgIDs, u.OrgID) {
			continue
		}
		out = append(out, u)
	}
	total := len(out)
	if filters.Offset >= len(out) {
		return []User{}, total, nil
	}
	out = out[filters.Offset:]
	if filters.Limit > 0 && filters.Limit < len(out) {
		out = out[:filters.Limit]
	}
	return out, total, nil
}

func (m *mockRepo) GetUser(_ context.Context, id int64) (User, error) {
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *mockRepo) CreateUser(_ context.Context, user User) (User, error) {
	for _, u := range m.users {
		if u.Username == user.Username {
			return User{}, ErrDuplicateUsername
		}
	}
	user.ID = m.nextID
	m.nextID++
	m.users[user.ID] = user
	return user, nil
}

func (m *mockRepo) UpdateUser(_ context.Context, id int64, input UpdateInput) (User, error) {
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	u.OrgID, u.Name, u.Email, u.Phone = input.OrgID, input.Name, input.Email, input.Phone
	m.users[id] = u
	return u, nil
}

func (m *mockRepo) SetEnabled(_ context.Context, id int64, enabled bool) error {
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Enabled = enabled
	m.users[id] = u
	return nil
}

func (m *mockRepo) SetPasswordHash(_ context.Context, id int64, hash string) error {
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	m.users[id] = u
	return nil
}

func (m *mockRepo) RoleIDs(_ context.Context, userID int64) ([]int64, error) {
	return m.roles[userID], nil
}

func (m *mockRepo) ReplaceRoles(_ context.Context, userID int64, roleIDs []int64) error {
	for _, id := range roleIDs {
		if id > 100 {
			return ErrUnknownRole
		}
	}
	m.roles[userID] = roleIDs
	return nil
}

// orgScope: 1 -> {2 -> {3}}, 4
type orgScope struct{ err error }

func (o orgScope) SubtreeIDs(_ context.Context, orgID int64) ([]int64, error) {
	if o.err != nil {
		return nil, o.err
	}
	switch orgID {
	case 1:
		return []int64{1, 2, 3, 4}, nil
	case 2:
		return []int64{2, 3}, nil
	case 3, 4:
		return []int64{orgID}, nil
	}
	return nil, errors.New("unknown")
}

func (o orgScope) Exists(_ context.Context, orgID int64) (bool, error) {
	if o.err != nil {
		return false, o.err
	}
	return orgID >= 1 && orgID <= 4, nil
}

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) Invalidate(context.Context) { c.calls++ }

type memAudit struct{ logs []shared.AuditLog }

func (m *memAudit) Record(_ context.Context, log shared.AuditLog) error {
	m.logs = append(m.logs, log)
	return nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func newTestService() (*Service, *mockRepo, *countingInvalidator, *memAudit) {
	repo := newMockRepo()
	perms := &countingInvalidator{}
	audit := &memAudit{}
	svc := NewService(repo, orgScope{}, perms, audit, nil)
	svc.bcryptCost = bcrypt.MinCost
	return svc, repo, perms, audit
}

func TestCreateUserHashesPassword(t *testing.T) {
	svc, repo, _, audit := newTestService()

	user, err := svc.CreateUser(context.Background(), CreateInput{OrgID: 2, Username: " Alice ", Name: "Alice", Password: "s3cret-pass"})
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.True(t, user.Enabled)
	stored := repo.users[user.ID]
	assert.NotEqual(t, "s3cret-pass", stored.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("s3cret-pass")))
	require.Len(t, audit.logs, 1)
	assert.Equal(t, "user.create", audit.logs[0].Action)

	_, err = svc.CreateUser(context.Background(), CreateInput{OrgID: 9, Username: "bob", Name: "Bob", Password: "s3cret-pass"})
	assert.ErrorIs(t, err, ErrUnknownOrg)
}

func TestListUsersScopesToOrgSubtree(t *testing.T) {
	svc, repo, _, _ := newTestService()
	ctx := context.Background()
	for i, org := range []int64{1, 2, 3, 4} {
		_, err := svc.CreateUser(ctx, CreateInput{OrgID: org, Username: string(rune('a'+i)) + "user", Name: "u", Password: "password1"})
		require.NoError(t, err)
	}

	page, err := svc.ListUsers(ctx, ListFilters{OrgID: 2}, 0, 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, []int64{2, 3}, repo.filters[0].OrgIDs)
	assert.Equal(t, 2, page.Pagination.Total)

	page, err = svc.ListUsers(ctx, ListFilters{}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, page.Items, 4)

	_, err = svc.ListUsers(ctx, ListFilters{OrgID: 77}, 0, 0)
	assert.ErrorIs(t, err, ErrUnknownOrg)
}

func TestListUsersPropagatesScopeFailure(t *testing.T) {
	boom := errors.New("snapshot unavailable")
	svc := NewService(newMockRepo(), orgScope{err: boom}, nil, nil, nil)
	_, err := svc.ListUsers(context.Background(), ListFilters{OrgID: 1}, 1, 20)
	assert.ErrorIs(t, err, boom)
}

func TestListUsersPages(t *testing.T) {
	svc, repo, _, _ := newTestService()
	ctx := context.Background()
	for _, name := range []string{"ann", "bob", "cat", "dan", "eve"} {
		_, err := svc.CreateUser(ctx, CreateInput{OrgID: 1, Username: name, Name: name, Password: "password1"})
		require.NoError(t, err)
	}

	page, err := svc.ListUsers(ctx, ListFilters{}, 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "cat", page.Items[0].Username)
	assert.Equal(t, shared.Pagination{Page: 2, PerPage: 2, Total: 5, TotalPages: 3}, page.Pagination)
	assert.Equal(t, 2, repo.filters[0].Offset)

	page, err = svc.ListUsers(ctx, ListFilters{}, 4, 2)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 5, page.Pagination.Total)
}

func TestReplaceRolesInvalidatesPermissions(t *testing.T) {
	svc, repo, perms, _ := newTestService()
	ctx := context.Background()
	user, err := svc.CreateUser(ctx, CreateInput{OrgID: 1, Username: "carol", Name: "Carol", Password: "password1"})
	require.NoError(t, err)

	require.NoError(t, svc.ReplaceRoles(ctx, user.ID, []int64{3, 1, 3}))
	assert.Equal(t, []int64{1, 3}, repo.roles[user.ID])
	assert.Equal(t, 1, perms.calls)

	ids, err := svc.RoleIDs(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)

	assert.ErrorIs(t, svc.ReplaceRoles(ctx, user.ID, []int64{500}), ErrUnknownRole)
	assert.ErrorIs(t, svc.ReplaceRoles(ctx, 99, []int64{1}), ErrNotFound)
	assert.Equal(t, 1, perms.calls)

	require.NoError(t, svc.SetEnabled(ctx, user.ID, false))
	assert.Equal(t, 2, perms.calls)
}

func TestResetPassword(t *testing.T) {
	svc, repo, _, _ := newTestService()
	ctx := context.Background()
	user, err := svc.CreateUser(ctx, CreateInput{OrgID: 1, Username: "dave", Name: "Dave", Password: "password1"})
	require.NoError(t, err)

	require.NoError(t, svc.ResetPassword(ctx, user.ID, "password2"))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.users[user.ID].PasswordHash), []byte("password2")))
	assert.ErrorIs(t, svc.ResetPassword(ctx, 42, "password2"), ErrNotFound)
}
