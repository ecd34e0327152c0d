package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harentsoaR/fablab-api/internal/apperr"
	"github.com/harentsoaR/fablab-api/internal/models"
	"github.com/harentsoaR/fablab-api/internal/utils"
)

func (f *fixture) claims(t *testing.T, sub, email, name string) *utils.Claims {
	t.Helper()
	token, err := f.tokens.Sign(sub, email, name, time.Hour)
	require.NoError(t, err)
	c, err := f.identity.Verify(token)
	require.NoError(t, err)
	return c
}

func TestIdentity_RegisterDefaultsToStudent(t *testing.T) {
	f := newFixture(t)
	claims := f.claims(t, "idp|123", "ada@uni.edu", "Ada")

	u, created, err := f.identity.Register(context.Background(), claims, RegisterInput{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.RoleStudent, u.Role)
	assert.Equal(t, "idp|123", u.ExternalAuthID)
	assert.Equal(t, "ada@uni.edu", u.Email)
	assert.Equal(t, "Ada", u.Name)
}

func TestIdentity_RegisterIsIdempotentAndRoleImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	claims := f.claims(t, "idp|1", "a@uni.edu", "")

	first, _, err := f.identity.Register(ctx, claims, RegisterInput{Role: models.RoleStudent})
	require.NoError(t, err)

	again, created, err := f.identity.Register(ctx, claims, RegisterInput{Role: models.RoleStaff, Email: "other@uni.edu"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, models.RoleStudent, again.Role)
	assert.Equal(t, "a@uni.edu", again.Email)
}

func TestIdentity_RegisterRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.identity.Register(ctx, f.claims(t, "idp|1", "a@uni.edu", ""), RegisterInput{ExternalID: "idp|2"})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, _, err = f.identity.Register(ctx, f.claims(t, "idp|3", "a@uni.edu", ""), RegisterInput{Role: "admin"})
	assert.True(t, apperr.Is(err, apperr.KindInvalid))

	_, _, err = f.identity.Register(ctx, f.claims(t, "idp|4", "", ""), RegisterInput{})
	assert.True(t, apperr.Is(err, apperr.KindInvalid))
}

func TestIdentity_Authenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.identity.Authenticate(ctx, "")
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))

	_, _, err = f.identity.Authenticate(ctx, "not-a-jwt")
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))

	token, err := f.tokens.Sign("idp|new", "n@uni.edu", "", time.Hour)
	require.NoError(t, err)
	_, ext, err := f.identity.Authenticate(ctx, token)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.Equal(t, "idp|new", ext)

	staff := f.user(t, "idp|staff", models.RoleStaff)
	token, err = f.tokens.Sign("idp|staff", "", "", time.Hour)
	require.NoError(t, err)
	u, _, err := f.identity.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, staff.ID, u.ID)
}

func TestRequireRole(t *testing.T) {
	student := &models.User{Role: models.RoleStudent}
	staff := &models.User{Role: models.RoleStaff}

	assert.NoError(t, RequireRole(staff, models.RoleStaff))
	assert.True(t, apperr.Is(RequireRole(student, models.RoleStaff), apperr.KindForbidden))
	assert.True(t, apperr.Is(RequireRole(nil, models.RoleStaff), apperr.KindUnauthenticated))
}

func TestIdentity_UpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "idp|1", models.RoleStudent)

	updated, err := f.identity.UpdateProfile(ctx, u, "  Grace Hopper ")
	require.NoError(t, err)
	assert.Equal(t, "Grace Hopper", updated.Name)
	assert.Equal(t, models.RoleStudent, updated.Role)

	_, err = f.identity.UpdateProfile(ctx, u, "")
	assert.True(t, apperr.Is(err, apperr.KindInvalid))
}
