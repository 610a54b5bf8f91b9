package credential

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicepassport/internal/platform/config"
	"voicepassport/pkg/domain"
	dErrors "voicepassport/pkg/domain-errors"
)

func newTestIssuer(t *testing.T, ttl time.Duration) *Issuer {
	t.Helper()
	issuer, err := NewIssuer(config.Credential{
		SigningKey: "test-signing-key",
		Issuer:     "voicepassport-test",
		TTL:        ttl,
	})
	require.NoError(t, err)
	return issuer
}

func TestIssueAndValidate(t *testing.T) {
	issuer := newTestIssuer(t, time.Hour)

	token, err := issuer.Issue(domain.UserID("u1"))
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := issuer.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "voicepassport-test", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestValidateExpiredToken(t *testing.T) {
	issuer := newTestIssuer(t, -time.Minute)

	token, err := issuer.Issue(domain.UserID("u1"))
	require.NoError(t, err)

	_, err = issuer.Validate(token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	assert.Contains(t, err.Error(), "expired")
}

func TestValidateWrongKey(t *testing.T) {
	issuer := newTestIssuer(t, time.Hour)
	token, err := issuer.Issue(domain.UserID("u1"))
	require.NoError(t, err)

	other, err := NewIssuer(config.Credential{SigningKey: "different-key", TTL: time.Hour})
	require.NoError(t, err)

	_, err = other.Validate(token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestIssueRejectsEmptyUser(t *testing.T) {
	issuer := newTestIssuer(t, time.Hour)
	_, err := issuer.Issue(domain.UserID(""))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestNewIssuerRequiresKey(t *testing.T) {
	_, err := NewIssuer(config.Credential{})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
