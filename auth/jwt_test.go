package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-with-enough-entropy"

func signed(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestNewJWTValidator_RequiresSecret(t *testing.T) {
	_, err := NewJWTValidator("", "kcp")
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestJWTValidator_IssueAndValidate(t *testing.T) {
	v, err := NewJWTValidator(testSecret, "kcp")
	require.NoError(t, err)

	token, err := v.IssueToken("user-1", "dev@example.com", []string{"kafka-approver"}, time.Hour)
	require.NoError(t, err)

	claims, err := v.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Sub)
	assert.Equal(t, "dev@example.com", claims.Email)
	assert.Equal(t, []string{"kafka-approver"}, claims.Groups)
	assert.Equal(t, "kcp", claims.Iss)
	assert.Greater(t, claims.Exp, claims.Iat)
}

func TestJWTValidator_Rejects(t *testing.T) {
	v, err := NewJWTValidator(testSecret, "kcp")
	require.NoError(t, err)
	now := time.Now()

	valid := func() tokenClaims {
		return tokenClaims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "kcp",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}}
	}

	tests := []struct {
		name    string
		token   func() string
		wantErr error
	}{
		{
			name:    "empty",
			token:   func() string { return "" },
			wantErr: ErrInvalidToken,
		},
		{
			name:    "garbage",
			token:   func() string { return "not.a.jwt" },
			wantErr: ErrInvalidToken,
		},
		{
			name: "expired",
			token: func() string {
				c := valid()
				c.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Hour))
				return signed(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
			wantErr: ErrTokenExpired,
		},
		{
			name: "missing expiry",
			token: func() string {
				c := valid()
				c.ExpiresAt = nil
				return signed(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "wrong issuer",
			token: func() string {
				c := valid()
				c.Issuer = "someone-else"
				return signed(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
			wantErr: ErrInvalidIssuer,
		},
		{
			name: "wrong secret",
			token: func() string {
				return signed(t, jwt.SigningMethodHS256, []byte("another-secret"), valid())
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "other hmac algorithm",
			token: func() string {
				return signed(t, jwt.SigningMethodHS512, []byte(testSecret), valid())
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "missing subject",
			token: func() string {
				c := valid()
				c.Subject = ""
				return signed(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
			wantErr: ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := v.ValidateToken(context.Background(), tt.token())
			assert.Nil(t, claims)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestJWTValidator_NoIssuerCheck(t *testing.T) {
	v, err := NewJWTValidator(testSecret, "")
	require.NoError(t, err)

	token := signed(t, jwt.SigningMethodHS256, []byte(testSecret), tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "svc",
			Issuer:    "anything",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})

	claims, err := v.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "svc", claims.Sub)
	assert.Equal(t, int64(0), claims.Iat)
}
