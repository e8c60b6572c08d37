package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidateState(t *testing.T) {
	manager, err := NewStateManager("test-secret", 10*time.Minute, "ebay-publisher")
	require.NoError(t, err)

	state, err := manager.Issue()
	require.NoError(t, err)
	require.NotEmpty(t, state)

	claims, err := manager.Validate(state)
	require.NoError(t, err)
	assert.Equal(t, "ebay-publisher", claims.Issuer)
	assert.NotEmpty(t, claims.Nonce)
}

func TestValidateRejectsForeignSignature(t *testing.T) {
	issuer, err := NewStateManager("secret-a", 10*time.Minute, "ebay-publisher")
	require.NoError(t, err)
	verifier, err := NewStateManager("secret-b", 10*time.Minute, "ebay-publisher")
	require.NoError(t, err)

	state, err := issuer.Issue()
	require.NoError(t, err)

	_, err = verifier.Validate(state)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestValidateRejectsExpiredState(t *testing.T) {
	manager, err := NewStateManager("test-secret", -time.Minute, "ebay-publisher")
	require.NoError(t, err)

	state, err := manager.Issue()
	require.NoError(t, err)

	_, err = manager.Validate(state)
	assert.ErrorIs(t, err, ErrExpiredState)
}

func TestValidateRejectsNonsense(t *testing.T) {
	manager, err := NewStateManager("test-secret", 10*time.Minute, "ebay-publisher")
	require.NoError(t, err)

	_, err = manager.Validate("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestNewStateManagerRequiresSecret(t *testing.T) {
	_, err := NewStateManager("", time.Minute, "ebay-publisher")
	require.Error(t, err)
}
