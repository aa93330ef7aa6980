package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	token, err := SignToken("secret", "agent-7", "Ana Torres", RoleFieldAgent)
	require.NoError(t, err)

	claims, err := NewJWTValidator("secret").ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "agent-7", claims.UserID)
	assert.Equal(t, "Ana Torres", claims.FullName)
	assert.Equal(t, RoleFieldAgent, claims.Role)
}

func TestValidateToken_Rejections(t *testing.T) {
	t.Run("wrong signing key", func(t *testing.T) {
		token, err := SignToken("secret", "agent-7", "Ana Torres", RoleFieldAgent)
		require.NoError(t, err)
		_, err = NewJWTValidator("other").ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := NewJWTValidator("secret").ValidateToken("not-a-jwt")
		assert.Error(t, err)
	})

	t.Run("missing subject", func(t *testing.T) {
		token, err := SignToken("secret", "", "Ana Torres", RoleFieldAgent)
		require.NoError(t, err)
		_, err = NewJWTValidator("secret").ValidateToken(token)
		assert.Error(t, err)
	})
}

func TestRankedRoles(t *testing.T) {
	roles := RankedRoles{}

	assert.True(t, roles.MinimumRole(RoleFieldAgent, RoleFieldAgent))
	assert.True(t, roles.MinimumRole(RoleReviewer, RoleFieldAgent))
	assert.True(t, roles.MinimumRole(RoleAdmin, RoleReviewer))
	assert.False(t, roles.MinimumRole(RoleFieldAgent, RoleReviewer))
	assert.False(t, roles.MinimumRole("intern", RoleFieldAgent))
	assert.False(t, roles.MinimumRole("", RoleFieldAgent))
}
