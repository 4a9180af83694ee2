package claims

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/apperrors"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/auth"
)

// countingDirectory records partition lookups
type countingDirectory struct {
	*MemoryDirectory
	partitionLookups int
	rootErr          error
}

func (c *countingDirectory) RootUser(ctx context.Context, uid string) (*auth.User, error) {
	if c.rootErr != nil {
		return nil, c.rootErr
	}
	return c.MemoryDirectory.RootUser(ctx, uid)
}

func (c *countingDirectory) OrganizationUser(ctx context.Context, orgID, uid string) (*auth.User, error) {
	c.partitionLookups++
	return c.MemoryDirectory.OrganizationUser(ctx, orgID, uid)
}

func TestResolver_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("system role resolves from root", func(t *testing.T) {
		dir := NewMemoryDirectory()
		dir.PutRoot(&auth.User{ID: "su1", Role: auth.RoleSuperUser, IsActive: true})

		user, orgID, err := NewResolver(dir, 50, nil).Resolve(ctx, "su1")
		require.NoError(t, err)
		assert.Equal(t, auth.RoleSuperUser, user.Role)
		assert.Empty(t, orgID)
	})

	t.Run("root record with organization uses that partition", func(t *testing.T) {
		dir := NewMemoryDirectory()
		dir.PutRoot(&auth.User{ID: "u1", Role: auth.RoleBusinessOwner, OrganizationID: "org_1"})
		dir.PutOrganizationUser("org_1", &auth.User{ID: "u1", Email: "owner@org1.test", Role: auth.RoleBusinessOwner, IsActive: true}, false)

		user, orgID, err := NewResolver(dir, 50, nil).Resolve(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "org_1", orgID)
		assert.Equal(t, "owner@org1.test", user.Email)
		assert.True(t, user.IsActive)
	})

	t.Run("root record with organization falls back to itself", func(t *testing.T) {
		dir := NewMemoryDirectory()
		dir.PutRoot(&auth.User{ID: "u1", Email: "root@copy.test", Role: auth.RoleHRManager, OrganizationID: "org_9"})

		user, orgID, err := NewResolver(dir, 50, nil).Resolve(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "org_9", orgID)
		assert.Equal(t, "root@copy.test", user.Email)
	})

	t.Run("index avoids scanning", func(t *testing.T) {
		dir := &countingDirectory{MemoryDirectory: NewMemoryDirectory()}
		for _, org := range []string{"org_a", "org_b", "org_c"} {
			dir.AddOrganization(org)
		}
		dir.PutOrganizationUser("org_c", &auth.User{ID: "u3", Role: auth.RoleHODManager}, true)

		user, orgID, err := NewResolver(dir, 50, nil).Resolve(ctx, "u3")
		require.NoError(t, err)
		assert.Equal(t, "org_c", orgID)
		assert.Equal(t, "org_c", user.OrganizationID)
		assert.Equal(t, 1, dir.partitionLookups)
	})

	t.Run("unindexed user found by bounded scan", func(t *testing.T) {
		dir := NewMemoryDirectory()
		dir.AddOrganization("org_a")
		dir.PutOrganizationUser("org_b", &auth.User{ID: "u4", Role: auth.RoleDepartmentManager}, false)

		_, orgID, err := NewResolver(dir, 50, nil).Resolve(ctx, "u4")
		require.NoError(t, err)
		assert.Equal(t, "org_b", orgID)
	})

	t.Run("scan respects limit", func(t *testing.T) {
		dir := NewMemoryDirectory()
		dir.AddOrganization("org_a")
		dir.PutOrganizationUser("org_b", &auth.User{ID: "u4", Role: auth.RoleDepartmentManager}, false)

		_, _, err := NewResolver(dir, 1, nil).Resolve(ctx, "u4")
		assert.True(t, apperrors.Is(err, apperrors.NotFound))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("root record without organization is last resort", func(t *testing.T) {
		dir := NewMemoryDirectory()
		dir.AddOrganization("org_a")
		dir.PutRoot(&auth.User{ID: "u5", Role: auth.RoleHRManager})

		user, orgID, err := NewResolver(dir, 50, nil).Resolve(ctx, "u5")
		require.NoError(t, err)
		assert.Equal(t, "u5", user.ID)
		assert.Empty(t, orgID)
	})

	t.Run("not found", func(t *testing.T) {
		_, _, err := NewResolver(NewMemoryDirectory(), 50, nil).Resolve(ctx, "ghost")
		assert.Equal(t, apperrors.NotFound, apperrors.CodeOf(err))
	})

	t.Run("storage failure is internal", func(t *testing.T) {
		dir := &countingDirectory{MemoryDirectory: NewMemoryDirectory(), rootErr: errors.New("connection reset")}
		_, _, err := NewResolver(dir, 50, nil).Resolve(ctx, "u1")
		assert.Equal(t, apperrors.Internal, apperrors.CodeOf(err))
	})

	t.Run("empty uid", func(t *testing.T) {
		_, _, err := NewResolver(NewMemoryDirectory(), 50, nil).Resolve(ctx, "")
		assert.Equal(t, apperrors.InvalidArgument, apperrors.CodeOf(err))
	})
}

func TestResolver_Members(t *testing.T) {
	dir := NewMemoryDirectory()
	dir.PutOrganizationUser("org_1", &auth.User{ID: "b", Role: auth.RoleHRManager}, true)
	dir.PutOrganizationUser("org_1", &auth.User{ID: "a", Role: auth.RoleBusinessOwner}, true)

	members, err := NewResolver(dir, 50, nil).Members(context.Background(), "org_1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "a", members[0].ID)
	assert.Equal(t, "org_1", members[1].OrganizationID)
}
