package jwt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParse(t *testing.T) {
	Init("test-secret-test-secret-test-secret", 5)
	require.True(t, Enabled())

	token, err := GenerateAccessToken("owner-1")
	require.NoError(t, err)

	claims, err := ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", claims.OwnerID)
}

func TestParseRejectsOtherSecret(t *testing.T) {
	Init("secret-a-secret-a-secret-a", 5)
	token, err := GenerateAccessToken("owner-1")
	require.NoError(t, err)

	Init("secret-b-secret-b-secret-b", 5)
	_, err = ParseToken(token)
	assert.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	Init("test-secret-test-secret-test-secret", -1)
	token, err := GenerateAccessToken("owner-1")
	require.NoError(t, err)

	_, err = ParseToken(token)
	assert.Error(t, err)
}
