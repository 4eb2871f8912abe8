package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/rekberpay/internal/identity"
)

const testSecret = "test-secret-that-is-long-enough-for-hs256"

func TestIssueVerify_RoundTrip(t *testing.T) {
	i := NewIssuer(testSecret, time.Hour)

	token, expires, err := i.Issue(identity.Actor{UserID: 42, Role: identity.RoleMediator})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	actor, err := i.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), actor.UserID)
	assert.Equal(t, identity.RoleMediator, actor.Role)
}

func TestVerify_WrongSecret(t *testing.T) {
	token, _, err := NewIssuer(testSecret, time.Hour).Issue(identity.User(1))
	require.NoError(t, err)

	_, err = NewIssuer("another-secret-that-is-long-enough-xx", time.Hour).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Expired(t *testing.T) {
	i := NewIssuer(testSecret, time.Minute)
	i.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _, err := i.Issue(identity.User(1))
	require.NoError(t, err)

	_, err = NewIssuer(testSecret, time.Minute).Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerify_RejectsNoneAlgorithm(t *testing.T) {
	claims := Claims{
		Role: identity.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewIssuer(testSecret, time.Hour).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_BadSubjectAndRole(t *testing.T) {
	i := NewIssuer(testSecret, time.Hour)
	sign := func(sub string, role identity.Role) string {
		claims := Claims{
			Role: role,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    issuer,
				Subject:   sub,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)
		return s
	}

	_, err := i.Verify(sign("abc", identity.RoleUser))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = i.Verify(sign("0", identity.RoleUser))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = i.Verify(sign("5", identity.Role("root")))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Garbage(t *testing.T) {
	_, err := NewIssuer(testSecret, time.Hour).Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
