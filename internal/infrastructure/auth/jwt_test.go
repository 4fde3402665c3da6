package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/meterly/backend/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJWTService() *JWTService {
	return NewJWTService(config.JWTConfig{
		Secret: "test-secret-key-at-least-32-chars",
		Issuer: "meterly-identity",
	})
}

func TestIssueAndValidate(t *testing.T) {
	svc := newTestJWTService()
	account := uuid.New()
	user := uuid.New()

	token, err := svc.Issue(IssueInput{AccountID: account, UserID: user, Roles: []string{"owner"}})
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, account.String(), claims.AccountID)
	assert.Equal(t, user.String(), claims.UserID)
	assert.True(t, claims.HasRole("owner"))
	assert.False(t, claims.HasRole("admin"))

	parsed, err := claims.AccountUUID()
	require.NoError(t, err)
	assert.Equal(t, account, parsed)
}

func TestValidateAccessToken_Errors(t *testing.T) {
	svc := newTestJWTService()
	account := uuid.New()

	sign := func(claims *Claims, method jwt.SigningMethod, key any) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	valid := func() *Claims {
		return &Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "meterly-identity",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			AccountID: account.String(),
		}
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	future := valid()
	future.NotBefore = jwt.NewNumericDate(time.Now().Add(time.Hour))

	wrongIssuer := valid()
	wrongIssuer.Issuer = "someone-else"

	noAccount := valid()
	noAccount.AccountID = ""

	badAccount := valid()
	badAccount.AccountID = "not-a-uuid"

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"garbage", "not.a.token", ErrInvalidToken},
		{"wrong secret", sign(valid(), jwt.SigningMethodHS256, []byte("other-secret")), ErrInvalidToken},
		{"wrong algorithm", sign(valid(), jwt.SigningMethodHS512, []byte("test-secret-key-at-least-32-chars")), ErrInvalidToken},
		{"expired", sign(expired, jwt.SigningMethodHS256, []byte("test-secret-key-at-least-32-chars")), ErrExpiredToken},
		{"not yet valid", sign(future, jwt.SigningMethodHS256, []byte("test-secret-key-at-least-32-chars")), ErrTokenNotYetValid},
		{"wrong issuer", sign(wrongIssuer, jwt.SigningMethodHS256, []byte("test-secret-key-at-least-32-chars")), ErrInvalidToken},
		{"missing account", sign(noAccount, jwt.SigningMethodHS256, []byte("test-secret-key-at-least-32-chars")), ErrMissingAccountID},
		{"malformed account", sign(badAccount, jwt.SigningMethodHS256, []byte("test-secret-key-at-least-32-chars")), ErrInvalidClaims},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateAccessToken(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMissingSecret(t *testing.T) {
	svc := NewJWTService(config.JWTConfig{})

	_, err := svc.Issue(IssueInput{AccountID: uuid.New()})
	assert.ErrorIs(t, err, ErrMissingSigningKey)

	_, err = svc.ValidateAccessToken("anything")
	assert.ErrorIs(t, err, ErrMissingSigningKey)
}
