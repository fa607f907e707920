package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAuthManager(t *testing.T) {
	hash, err := HashAPIKey("fai_known")
	require.NoError(t, err)

	am, err := NewAuthManager(AuthConfig{APIKeys: map[string]string{"bot": hash}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 60, am.config.RateLimit)
	assert.Equal(t, 24*time.Hour, am.config.JWTExpiry)
	assert.NotEmpty(t, am.config.JWTSecret)

	caller, err := am.ValidateAPIKey("fai_known")
	require.NoError(t, err)
	assert.Equal(t, "bot", caller.Name)

	_, err = NewAuthManager(AuthConfig{APIKeys: map[string]string{"bot": "plaintext"}}, nil)
	assert.Error(t, err, "keys must be configured as bcrypt hashes")
}

func TestAPIKeys(t *testing.T) {
	am, err := NewAuthManager(AuthConfig{JWTSecret: "test-secret"}, nil)
	require.NoError(t, err)

	key, hash, err := am.CreateAPIKey("telegram-bot")
	require.NoError(t, err)
	assert.Contains(t, key, "fai_")
	assert.NotContains(t, hash, key)

	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "valid key", key: key},
		{name: "wrong key", key: "fai_wrong", wantErr: true},
		{name: "empty key", key: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller, err := am.ValidateAPIKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, caller)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "telegram-bot", caller.Name)
			assert.Equal(t, "api_key", caller.Method)
		})
	}
}

func TestJWTTokens(t *testing.T) {
	am, err := NewAuthManager(AuthConfig{JWTSecret: "test-secret"}, nil)
	require.NoError(t, err)

	token, err := am.CreateJWTToken("chat-gateway")
	require.NoError(t, err)

	caller, err := am.ValidateJWTToken(token)
	require.NoError(t, err)
	assert.Equal(t, "chat-gateway", caller.Name)
	assert.Equal(t, "jwt:chat-gateway", caller.ID)

	t.Run("other secret", func(t *testing.T) {
		other, err := NewAuthManager(AuthConfig{JWTSecret: "other-secret"}, nil)
		require.NoError(t, err)
		_, err = other.ValidateJWTToken(token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		short, err := NewAuthManager(AuthConfig{JWTSecret: "test-secret", JWTExpiry: -time.Minute}, nil)
		require.NoError(t, err)
		expired, err := short.CreateJWTToken("chat-gateway")
		require.NoError(t, err)
		_, err = am.ValidateJWTToken(expired)
		assert.Error(t, err)
	})

	t.Run("none algorithm", func(t *testing.T) {
		claims := &Claims{CallerName: "evil", RegisteredClaims: jwt.RegisteredClaims{Issuer: tokenIssuer}}
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = am.ValidateJWTToken(unsigned)
		assert.Error(t, err)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := &Claims{CallerName: "x", RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"}}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		_, err = am.ValidateJWTToken(signed)
		assert.Error(t, err)
	})
}
