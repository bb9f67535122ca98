package usecases

import (
	"context"
	"testing"
	"time"

	"retailcrm/internal/entities"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	uc := NewAuthUsecase(newFakeUsers(), newFakeOrgs(testOrg), "0123456789abcdef", time.Hour)

	user, err := uc.Register(ctx, testOrg, "ana", "secret123", "")
	require.NoError(t, err)
	assert.Equal(t, "agent", user.Role)
	assert.NotEqual(t, "secret123", user.PasswordHash)

	_, err = uc.Register(ctx, testOrg, "ana", "secret123", "")
	require.Error(t, err)

	token, err := uc.Login(ctx, "ana", "secret123")
	require.NoError(t, err)

	claims, err := uc.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, testOrg, claims.OrganizationID)
	assert.Equal(t, "agent", claims.Role)

	_, err = uc.Login(ctx, "ana", "wrong")
	assert.ErrorIs(t, err, entities.ErrUnauthorized)
	_, err = uc.Login(ctx, "nobody", "secret123")
	assert.ErrorIs(t, err, entities.ErrUnauthorized)
}

func TestRegisterNeedsOrganization(t *testing.T) {
	uc := NewAuthUsecase(newFakeUsers(), newFakeOrgs(), "0123456789abcdef", time.Hour)
	_, err := uc.Register(context.Background(), "missing", "ana", "secret123", "")
	assert.ErrorIs(t, err, entities.ErrNotFound)
}

func TestParseTokenRejects(t *testing.T) {
	ctx := context.Background()
	uc := NewAuthUsecase(newFakeUsers(), newFakeOrgs(testOrg), "0123456789abcdef", time.Hour)
	_, err := uc.Register(ctx, testOrg, "ana", "secret123", "admin")
	require.NoError(t, err)

	other := NewAuthUsecase(newFakeUsers(), newFakeOrgs(testOrg), "another-secret-value", time.Hour)
	_, err = other.Register(ctx, testOrg, "ana", "secret123", "admin")
	require.NoError(t, err)
	foreign, err := other.Login(ctx, "ana", "secret123")
	require.NoError(t, err)

	_, err = uc.ParseToken(foreign)
	assert.ErrorIs(t, err, entities.ErrUnauthorized)

	uc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := uc.Login(ctx, "ana", "secret123")
	require.NoError(t, err)
	_, err = uc.ParseToken(expired)
	assert.ErrorIs(t, err, entities.ErrUnauthorized)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": "x", "org_id": testOrg})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = uc.ParseToken(unsigned)
	assert.ErrorIs(t, err, entities.ErrUnauthorized)
}
