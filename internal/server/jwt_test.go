package server

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/appraisal-agent/internal/config"
)

const testSecret = "test-secret-key-for-jwt-signing-minimum-32-bytes"

func setupTestJWTService(_ *testing.T, expirationHours int, clock clockwork.Clock) *JWTService {
	cfg := &config.JWTConfig{
		Secret:          testSecret,
		Issuer:          config.DefaultJWTIssuer,
		ExpirationHours: expirationHours,
	}
	return NewJWTService(cfg, clock)
}

func TestJWTService_GenerateToken(t *testing.T) {
	service := setupTestJWTService(t, 24, nil)
	userID := uuid.New()

	token, err := service.GenerateToken(userID)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	assert.Len(t, parts, 3, "JWT should have 3 parts separated by dots")

	claims, err := service.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.Equal(t, config.DefaultJWTIssuer, claims.Issuer)
}

func TestJWTService_GenerateToken_NilUser(t *testing.T) {
	service := setupTestJWTService(t, 24, nil)
	_, err := service.GenerateToken(uuid.Nil)
	assert.Error(t, err)
}

func TestJWTService_GenerateToken_UniqueTokens(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	service := setupTestJWTService(t, 24, clock)
	userID := uuid.New()

	token1, err := service.GenerateToken(userID)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)

	token2, err := service.GenerateToken(userID)
	require.NoError(t, err)
	assert.NotEqual(t, token1, token2, "tokens generated at different times should be different")
}

func TestJWTService_ValidateToken_Expired(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	service := setupTestJWTService(t, 1, clock)

	token, err := service.GenerateToken(uuid.New())
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	_, err = service.ValidateToken(token)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = service.ValidateToken(token)
	require.Error(t, err)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestJWTService_ValidateToken_Rejects(t *testing.T) {
	service := setupTestJWTService(t, 24, nil)
	userID := uuid.New()

	otherSecret := NewJWTService(&config.JWTConfig{
		Secret:          "another-secret-key-that-is-long-enough",
		Issuer:          config.DefaultJWTIssuer,
		ExpirationHours: 24,
	}, nil)
	foreign, err := otherSecret.GenerateToken(userID)
	require.NoError(t, err)

	otherIssuer := NewJWTService(&config.JWTConfig{
		Secret:          testSecret,
		Issuer:          "someone-else",
		ExpirationHours: 24,
	}, nil)
	wrongIssuer, err := otherIssuer.GenerateToken(userID)
	require.NoError(t, err)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: userID}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, &Claims{
		UserID:           userID,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: config.DefaultJWTIssuer},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: config.DefaultJWTIssuer},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.token"},
		{"wrong secret", foreign},
		{"wrong issuer", wrongIssuer},
		{"alg none", noneToken},
		{"other hmac alg", hs512},
		{"missing user id", noUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := service.ValidateToken(tt.token)
			assert.Error(t, err)
			assert.Nil(t, claims)
		})
	}
}

func TestJWTService_AsTokenValidator(t *testing.T) {
	service := setupTestJWTService(t, 24, nil)
	userID := uuid.New()

	token, err := service.GenerateToken(userID)
	require.NoError(t, err)

	getter, err := service.AsTokenValidator().ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, getter.GetUserID())

	_, err = service.AsTokenValidator().ValidateToken("bogus")
	assert.Error(t, err)
}
