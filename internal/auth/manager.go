// Package auth authenticates service callers of the answer API with a
// signed token or an API key, and rate limits them per caller.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const tokenIssuer = "finance-ai"

// Caller is an authenticated client of the API
type Caller struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Method string `json:"method"`
}

// Claims represents JWT claims
type Claims struct {
	CallerName string `json:"caller"`
	jwt.RegisteredClaims
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string
	JWTExpiry time.Duration
	// APIKeys maps a caller name to the bcrypt hash of its key
	APIKeys   map[string]string
	RateLimit int
}

// AuthManager validates caller credentials
type AuthManager struct {
	config  AuthConfig
	limiter Limiter
	mu      sync.RWMutex
	apiKeys map[string][]byte
}

// NewAuthManager creates a new authentication manager. A nil limiter uses
// the in-memory sliding window.
func NewAuthManager(config AuthConfig, limiter Limiter) (*AuthManager, error) {
	if config.JWTExpiry == 0 {
		config.JWTExpiry = 24 * time.Hour
	}
	if config.RateLimit == 0 {
		config.RateLimit = 60
	}
	if config.JWTSecret == "" {
		config.JWTSecret = generateRandomString(32)
	}
	if limiter == nil {
		limiter = NewRateLimiter()
	}

	am := &AuthManager{
		config:  config,
		limiter: limiter,
		apiKeys: make(map[string][]byte),
	}
	for name, hash := range config.APIKeys {
		if err := am.RegisterAPIKeyHash(name, hash); err != nil {
			return nil, err
		}
	}
	return am, nil
}

// RegisterAPIKeyHash adds a caller whose key hashes to hash
func (am *AuthManager) RegisterAPIKeyHash(name, hash string) error {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return fmt.Errorf("invalid bcrypt hash for caller %s: %w", name, err)
	}
	am.mu.Lock()
	defer am.mu.Unlock()
	am.apiKeys[name] = []byte(hash)
	return nil
}

// CreateAPIKey generates a key for name, registers its hash and returns
// the plaintext key together with the hash to store in configuration
func (am *AuthManager) CreateAPIKey(name string) (key string, hash string, err error) {
	key = generateAPIKey()
	hashed, err := HashAPIKey(key)
	if err != nil {
		return "", "", err
	}
	if err := am.RegisterAPIKeyHash(name, hashed); err != nil {
		return "", "", err
	}
	return key, hashed, nil
}

// ValidateAPIKey returns the caller owning key
func (am *AuthManager) ValidateAPIKey(key string) (*Caller, error) {
	am.mu.RLock()
	defer am.mu.RUnlock()

	for name, hash := range am.apiKeys {
		if bcrypt.CompareHashAndPassword(hash, []byte(key)) == nil {
			return &Caller{ID: "key:" + name, Name: name, Method: "api_key"}, nil
		}
	}
	return nil, fmt.Errorf("invalid API key")
}

// CreateJWTToken creates a service token for name
func (am *AuthManager) CreateJWTToken(name string) (string, error) {
	now := time.Now()
	claims := &Claims{
		CallerName: name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(am.config.JWTExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   name,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(am.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateJWTToken validates a service token and returns its caller
func (am *AuthManager) ValidateJWTToken(tokenString string) (*Caller, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(am.config.JWTSecret), nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.CallerName == "" {
		return nil, fmt.Errorf("invalid token")
	}

	return &Caller{ID: "jwt:" + claims.CallerName, Name: claims.CallerName, Method: "jwt"}, nil
}

// HashAPIKey hashes an API key with bcrypt
func HashAPIKey(key string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hashed), nil
}

// generateRandomString generates a random hex string of length bytes
func generateRandomString(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		panic(err)
	}
	return hex.EncodeToString(bytes)
}

// generateAPIKey generates a new API key with "fai_" prefix
func generateAPIKey() string {
	return "fai_" + generateRandomString(24)
}
