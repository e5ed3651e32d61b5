package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokens struct {
	tokens map[string]*auth.APIToken
	err    error
}

func (f *fakeTokens) Validate(_ context.Context, plaintext string) (*auth.APIToken, error) {
	if f.err != nil {
		return nil, f.err
	}
	token, ok := f.tokens[plaintext]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return token, nil
}

type fakeUsers map[uuid.UUID]*users.User

func (f fakeUsers) Get(_ context.Context, id uuid.UUID) (*users.User, error) {
	user, ok := f[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	return user, nil
}

type captured struct {
	called  bool
	subject rbac.Subject
	userID  string
}

func captureHandler(c *captured) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.called = true
		c.subject, _ = rbac.SubjectFromContext(r.Context())
		if actor, ok := contextkeys.GetActor(r.Context()); ok {
			c.userID = actor.UserID
		}
		w.WriteHeader(http.StatusOK)
	})
}

func setupAuth(config AuthConfig) (*AuthMiddleware, *users.User, *fakeTokens) {
	alice := &users.User{ID: uuid.New(), Name: "Alice", Email: "alice@example.com"}
	tokens := &fakeTokens{tokens: map[string]*auth.APIToken{
		"gk_alice":  {ID: uuid.New(), UserID: alice.ID},
		"gk_orphan": {ID: uuid.New(), UserID: uuid.New()},
	}}
	return NewAuthMiddleware(tokens, fakeUsers{alice.ID: alice}, config), alice, tokens
}

func TestAuthMiddleware_Bearer(t *testing.T) {
	m, alice, _ := setupAuth(AuthConfig{SessionHeader: "X-Session-User"})

	var c captured
	req := httptest.NewRequest(http.MethodGet, "/items", nil)
	req.Header.Set("Authorization", "Bearer gk_alice")
	w := httptest.NewRecorder()
	m.Handler(captureHandler(&c)).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, c.called)
	require.NotNil(t, c.subject)
	assert.Equal(t, alice.ID, c.subject.SubjectID())
	assert.Equal(t, rbac.GuardAPI, c.subject.SubjectGuard())
	assert.Equal(t, alice.ID.String(), c.userID)
}

func TestAuthMiddleware_Session(t *testing.T) {
	m, alice, _ := setupAuth(AuthConfig{SessionHeader: "X-Session-User"})

	var c captured
	req := httptest.NewRequest(http.MethodGet, "/items", nil)
	req.Header.Set("X-Session-User", alice.ID.String())
	w := httptest.NewRecorder()
	m.Handler(captureHandler(&c)).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, c.subject)
	assert.Equal(t, rbac.GuardWeb, c.subject.SubjectGuard())
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		config  AuthConfig
		headers map[string]string
		want    int
		called  bool
	}{
		{"no credentials", AuthConfig{}, nil, http.StatusUnauthorized, false},
		{"no credentials optional", AuthConfig{Optional: true}, nil, http.StatusOK, true},
		{"basic scheme", AuthConfig{}, map[string]string{"Authorization": "Basic abc"}, http.StatusUnauthorized, false},
		{"unknown token", AuthConfig{}, map[string]string{"Authorization": "Bearer gk_nope"}, http.StatusUnauthorized, false},
		{"unknown token optional", AuthConfig{Optional: true}, map[string]string{"Authorization": "Bearer gk_nope"}, http.StatusOK, true},
		{"token of deleted user", AuthConfig{}, map[string]string{"Authorization": "Bearer gk_orphan"}, http.StatusUnauthorized, false},
		{"session disabled", AuthConfig{}, map[string]string{"X-Session-User": uuid.NewString()}, http.StatusUnauthorized, false},
		{"malformed session", AuthConfig{SessionHeader: "X-Session-User"}, map[string]string{"X-Session-User": "alice"}, http.StatusUnauthorized, false},
		{"unknown session user", AuthConfig{SessionHeader: "X-Session-User"}, map[string]string{"X-Session-User": uuid.NewString()}, http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := setupAuth(tt.config)

			var c captured
			req := httptest.NewRequest(http.MethodGet, "/items", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			m.Handler(captureHandler(&c)).ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, tt.called, c.called)
			assert.Nil(t, c.subject)
		})
	}
}

func TestRequireAuthentication(t *testing.T) {
	m, _, _ := setupAuth(AuthConfig{Optional: true})
	handler := m.Handler(RequireAuthentication(captureHandler(&captured{})))

	for _, header := range []string{"", "Bearer gk_nope", "Bearer gk_alice"} {
		req := httptest.NewRequest(http.MethodGet, "/items", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if header == "Bearer gk_alice" {
			assert.Equal(t, http.StatusOK, w.Code)
			continue
		}
		assert.Equal(t, http.StatusUnauthorized, w.Code, header)
	}
}

func TestAuthMiddleware_BackendError(t *testing.T) {
	m, _, tokens := setupAuth(AuthConfig{})
	tokens.err = errors.New("connection reset")

	var c captured
	req := httptest.NewRequest(http.MethodGet, "/items", nil)
	req.Header.Set("Authorization", "Bearer gk_alice")
	w := httptest.NewRecorder()
	m.Handler(captureHandler(&c)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, c.called)
	assert.NotContains(t, w.Body.String(), "connection reset")
}
