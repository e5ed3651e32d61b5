package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// ComponentName is the schema_migrations component of the token table
const ComponentName = "auth"

// Migrations returns the api_tokens schema. The users table must already
// exist.
func Migrations() storage.Component {
	return storage.Component{
		Name: ComponentName,
		Migrations: []storage.Migration{
			{
				Version:     1,
				Description: "Create api_tokens table",
				SQL: `
					CREATE TABLE IF NOT EXISTS api_tokens (
						id UUID PRIMARY KEY,
						user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
						token_hash VARCHAR(64) NOT NULL UNIQUE,
						token_prefix VARCHAR(32) NOT NULL,
						name VARCHAR(255) NOT NULL,
						expires_at TIMESTAMP NULL,
						last_used_at TIMESTAMP NULL,
						created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
						revoked_at TIMESTAMP NULL
					);

					CREATE INDEX IF NOT EXISTS idx_api_tokens_user_id ON api_tokens(user_id);
				`,
			},
		},
	}
}

const tokenColumns = "id, user_id, token_hash, token_prefix, name, expires_at, last_used_at, created_at, revoked_at"

// TokenStore persists API tokens. Plaintext tokens are returned once, at
// creation, and never stored.
type TokenStore struct {
	db        *sql.DB
	generator *TokenGenerator
	now       func() time.Time
}

// NewTokenStore creates a new token store
func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{
		db:        db,
		generator: NewTokenGenerator(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func scanToken(row interface{ Scan(...interface{}) error }) (*APIToken, error) {
	var t APIToken
	var expiresAt, lastUsedAt, revokedAt sql.NullTime
	if err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.TokenPrefix, &t.Name,
		&expiresAt, &lastUsedAt, &t.CreatedAt, &revokedAt); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t.ExpiresAt = &expiresAt.Time
	}
	if lastUsedAt.Valid {
		t.LastUsedAt = &lastUsedAt.Time
	}
	if revokedAt.Valid {
		t.RevokedAt = &revokedAt.Time
	}
	return &t, nil
}

// Create issues a token for userID and returns it with its plaintext value
func (s *TokenStore) Create(ctx context.Context, userID uuid.UUID, name string, expiresAt *time.Time) (*APIToken, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", fmt.Errorf("token name is required")
	}

	plaintext, hash, prefix, err := s.generator.GenerateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	token := &APIToken{
		ID:          uuid.New(),
		UserID:      userID,
		TokenHash:   hash,
		TokenPrefix: prefix,
		Name:        name,
		ExpiresAt:   expiresAt,
		CreatedAt:   s.now(),
	}
	var expires sql.NullTime
	if expiresAt != nil {
		expires = sql.NullTime{Time: expiresAt.UTC(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_tokens (id, user_id, token_hash, token_prefix, name, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, token.ID, token.UserID, token.TokenHash, token.TokenPrefix, token.Name, expires, token.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create token: %w", err)
	}
	return token, plaintext, nil
}

// Validate resolves a plaintext token. Malformed, unknown, revoked and
// expired tokens all return ErrInvalidToken.
func (s *TokenStore) Validate(ctx context.Context, plaintext string) (*APIToken, error) {
	if err := s.generator.ValidateTokenFormat(plaintext); err != nil {
		return nil, ErrInvalidToken
	}

	token, err := scanToken(s.db.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM api_tokens WHERE token_hash = $1",
		s.generator.HashToken(plaintext),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	now := s.now()
	if !token.Active(now) {
		return nil, ErrInvalidToken
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE api_tokens SET last_used_at = $1 WHERE id = $2", now, token.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to update token usage: %w", err)
	}
	token.LastUsedAt = &now
	return token, nil
}

// Revoke revokes a token. Revoking a revoked token is a no-op.
func (s *TokenStore) Revoke(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE api_tokens SET revoked_at = COALESCE(revoked_at, $1) WHERE id = $2",
		s.now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// ListUserTokens lists the tokens of a user, newest first
func (s *TokenStore) ListUserTokens(ctx context.Context, userID uuid.UUID) ([]*APIToken, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+tokenColumns+" FROM api_tokens WHERE user_id = $1 ORDER BY created_at DESC",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]*APIToken, 0)
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// CleanupExpired deletes tokens that expired or were revoked before cutoff
func (s *TokenStore) CleanupExpired(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM api_tokens
		WHERE (expires_at IS NOT NULL AND expires_at < $1)
			OR (revoked_at IS NOT NULL AND revoked_at < $1)
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to clean up tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to clean up tokens: %w", err)
	}
	return int(n), nil
}
