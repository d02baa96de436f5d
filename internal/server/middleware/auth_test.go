package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTokenValidator is a test implementation of TokenValidator for unit tests.
type testTokenValidator struct {
	validTokens map[string]uuid.UUID
}

func newTestTokenValidator() *testTokenValidator {
	return &testTokenValidator{
		validTokens: make(map[string]uuid.UUID),
	}
}

func (v *testTokenValidator) addValidToken(token string, userID uuid.UUID) {
	v.validTokens[token] = userID
}

func (v *testTokenValidator) ValidateToken(tokenString string) (UserIDGetter, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("token string is empty")
	}
	userID, ok := v.validTokens[tokenString]
	if !ok {
		return nil, fmt.Errorf("invalid token")
	}
	return &testClaims{userID: userID}, nil
}

type testClaims struct {
	userID uuid.UUID
}

func (c *testClaims) GetUserID() uuid.UUID {
	return c.userID
}

// recordingHandler remembers whether it ran and which user it saw.
type recordingHandler struct {
	called bool
	userID uuid.UUID
	hasID  bool
}

func (h *recordingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	id, err := GetUserID(r)
	h.userID, h.hasID = id, err == nil
	w.WriteHeader(http.StatusOK)
}

func serve(mw func(http.Handler) http.Handler, authHeader string) (*recordingHandler, *httptest.ResponseRecorder) {
	h := &recordingHandler{}
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	mw(h).ServeHTTP(w, req)
	return h, w
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	validator := newTestTokenValidator()
	userID := uuid.New()
	validator.addValidToken("valid-test-token-123", userID)

	for _, header := range []string{
		"Bearer valid-test-token-123",
		"bearer valid-test-token-123",
		"BeArEr valid-test-token-123",
		"Bearer  valid-test-token-123",
	} {
		t.Run(header, func(t *testing.T) {
			h, w := serve(AuthMiddleware(validator), header)
			require.True(t, h.called)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.True(t, h.hasID)
			assert.Equal(t, userID, h.userID)
		})
	}
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	validator := newTestTokenValidator()
	validator.addValidToken("good", uuid.New())

	tests := []struct {
		name       string
		authHeader string
	}{
		{"missing header", ""},
		{"missing Bearer prefix", "good"},
		{"only Bearer", "Bearer"},
		{"wrong scheme", "Basic good"},
		{"extra parts", "Bearer good extra"},
		{"unknown token", "Bearer bad"},
		{"malformed token", "Bearer not.a.valid.jwt.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, w := serve(AuthMiddleware(validator), tt.authHeader)
			assert.False(t, h.called, "handler should not be called")
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.JSONEq(t, `{"error":"unauthorized"}`, w.Body.String())
			assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	validator := newTestTokenValidator()
	userID := uuid.New()
	validator.addValidToken("good", userID)

	t.Run("anonymous passes without user", func(t *testing.T) {
		h, w := serve(OptionalAuth(validator), "")
		require.True(t, h.called)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.False(t, h.hasID)
	})

	t.Run("valid token sets user", func(t *testing.T) {
		h, _ := serve(OptionalAuth(validator), "Bearer good")
		require.True(t, h.called)
		assert.Equal(t, userID, h.userID)
	})

	t.Run("invalid token is rejected", func(t *testing.T) {
		h, w := serve(OptionalAuth(validator), "Bearer bad")
		assert.False(t, h.called)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed header is rejected", func(t *testing.T) {
		h, w := serve(OptionalAuth(validator), "token-without-scheme")
		assert.False(t, h.called)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestGetUserID(t *testing.T) {
	userID := uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(WithUserID(req.Context(), userID))
	got, err := GetUserID(req)
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	missing, err := GetUserID(httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.ErrorContains(t, err, "user ID not found")
	assert.Equal(t, uuid.Nil, missing)

	wrongType := httptest.NewRequest(http.MethodGet, "/test", nil)
	wrongType = wrongType.WithContext(context.WithValue(wrongType.Context(), userIDKey, "not-a-uuid"))
	_, err = GetUserID(wrongType)
	assert.Error(t, err)
}
