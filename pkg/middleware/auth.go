package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/users"
)

// TokenValidator resolves bearer tokens
type TokenValidator interface {
	Validate(ctx context.Context, plaintext string) (*auth.APIToken, error)
}

// UserLoader loads the user behind a credential
type UserLoader interface {
	Get(ctx context.Context, id uuid.UUID) (*users.User, error)
}

// AuthConfig configures the authentication middleware
type AuthConfig struct {
	// SessionHeader names the header an upstream session proxy sets to the
	// authenticated user id. Empty disables the web guard.
	SessionHeader string
	// Optional lets requests with missing or invalid credentials through
	// without a subject, so later middleware such as per-IP rate limiting
	// sees them. RequireAuthentication or rbac.Gate answers them with 401.
	Optional bool
}

// AuthMiddleware authenticates requests and binds the caller to a guard:
// bearer tokens authenticate under the api guard, the trusted session
// header under the web guard.
type AuthMiddleware struct {
	tokens TokenValidator
	users  UserLoader
	config AuthConfig
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokens TokenValidator, users UserLoader, config AuthConfig) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		users:  users,
		config: config,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var (
			actor *users.Actor
			err   error
		)
		switch {
		case r.Header.Get("Authorization") != "":
			actor, err = m.bearer(ctx, r.Header.Get("Authorization"))
		case m.config.SessionHeader != "" && r.Header.Get(m.config.SessionHeader) != "":
			actor, err = m.session(ctx, r.Header.Get(m.config.SessionHeader))
		default:
			if m.config.Optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		if err != nil {
			observability.FromContext(ctx).WithError(err).Debug("Authentication failed")
			if errors.Is(err, errUnauthenticated) {
				if m.config.Optional {
					next.ServeHTTP(w, r)
					return
				}
				httputil.WriteUnauthorized(w, err.Error())
				return
			}
			httputil.WriteInternalError(w)
			return
		}

		ctx = rbac.WithSubject(ctx, actor)
		ctx = contextkeys.WithActor(ctx, contextkeys.Actor{
			Guard:  actor.Guard.String(),
			UserID: actor.User.ID.String(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

var errUnauthenticated = errors.New("invalid credentials")

func (m *AuthMiddleware) bearer(ctx context.Context, header string) (*users.Actor, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, errUnauthenticated
	}

	token, err := m.tokens.Validate(ctx, strings.TrimSpace(parts[1]))
	if errors.Is(err, auth.ErrInvalidToken) {
		return nil, errUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	return m.load(ctx, token.UserID, rbac.GuardAPI)
}

func (m *AuthMiddleware) session(ctx context.Context, value string) (*users.Actor, error) {
	userID, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return nil, errUnauthenticated
	}
	return m.load(ctx, userID, rbac.GuardWeb)
}

func (m *AuthMiddleware) load(ctx context.Context, userID uuid.UUID, guard rbac.Guard) (*users.Actor, error) {
	user, err := m.users.Get(ctx, userID)
	if errors.Is(err, users.ErrNotFound) {
		return nil, errUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	return users.NewActor(user, guard), nil
}

// RequireAuthentication answers requests without a subject with 401
func RequireAuthentication(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := rbac.SubjectFromContext(r.Context()); !ok {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
