package servicetoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) *Service {
	t.Helper()
	svc, err := New("test-signing-key", "test-issuer", "")
	require.NoError(t, err)
	return svc
}

func Test_New_RequiresKey(t *testing.T) {
	_, err := New("", "issuer", "aud")
	require.Error(t, err)
}

func Test_IssueAndValidate(t *testing.T) {
	svc := newService(t)
	token, err := svc.Issue("auth-service", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "auth-service", claims.Subject)
	assert.Equal(t, jwt.ClaimStrings{DefaultAudience}, claims.Audience)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func Test_ValidateToken_Malformed(t *testing.T) {
	_, err := newService(t).ValidateToken("invalid-token-string")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func Test_ValidateToken_Expired(t *testing.T) {
	svc := newService(t)
	token, err := svc.Issue("auth-service", -time.Hour)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func Test_ValidateToken_WrongKey(t *testing.T) {
	other, err := New("another-key", "test-issuer", "")
	require.NoError(t, err)
	token, err := other.Issue("auth-service", time.Hour)
	require.NoError(t, err)

	_, err = newService(t).ValidateToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func Test_ValidateToken_WrongAudience(t *testing.T) {
	other, err := New("test-signing-key", "test-issuer", "billing")
	require.NoError(t, err)
	token, err := other.Issue("auth-service", time.Hour)
	require.NoError(t, err)

	_, err = newService(t).ValidateToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func Test_ValidateToken_Issuer(t *testing.T) {
	svc := newService(t)

	t.Run("rejects another issuer", func(t *testing.T) {
		other, err := New("test-signing-key", "someone-else", "")
		require.NoError(t, err)
		token, err := other.Issue("auth-service", time.Hour)
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("any issuer when none is configured", func(t *testing.T) {
		open, err := New("test-signing-key", "", "")
		require.NoError(t, err)
		token, err := svc.Issue("auth-service", time.Hour)
		require.NoError(t, err)

		_, err = open.ValidateToken(token)
		require.NoError(t, err)
	})
}

func Test_ValidateToken_RejectsNoneAlgorithm(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "auth-service",
			Audience:  []string{DefaultAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = newService(t).ValidateToken(signed)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func Test_ValidateToken_MissingSubject(t *testing.T) {
	svc := newService(t)
	token, err := svc.Issue("", time.Hour)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func Test_ValidateCaller(t *testing.T) {
	svc := newService(t)
	token, err := svc.Issue("auth-service", time.Minute)
	require.NoError(t, err)

	caller, err := svc.ValidateCaller(token)
	require.NoError(t, err)
	assert.Equal(t, "auth-service", caller)

	_, err = svc.ValidateCaller("nope")
	require.ErrorIs(t, err, ErrInvalidToken)
}
