package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/platinummonkey/gatekeeper/pkg/storage/storagetest"
	"github.com/platinummonkey/gatekeeper/pkg/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTokenStore(t *testing.T) (*TokenStore, uuid.UUID) {
	t.Helper()
	db := storagetest.SQLite(t, users.Migrations(), Migrations())

	userID := uuid.New()
	_, err := db.Exec("INSERT INTO users (id, name, email) VALUES ($1, $2, $3)", userID, "Alice", "alice@example.com")
	require.NoError(t, err)
	return NewTokenStore(db), userID
}

func TestTokenStore_CreateAndValidate(t *testing.T) {
	store, userID := setupTokenStore(t)
	ctx := context.Background()

	token, plaintext, err := store.Create(ctx, userID, "ci", nil)
	require.NoError(t, err)
	assert.Equal(t, userID, token.UserID)
	assert.NotEqual(t, plaintext, token.TokenHash)

	got, err := store.Validate(ctx, plaintext)
	require.NoError(t, err)
	assert.Equal(t, token.ID, got.ID)
	assert.NotNil(t, got.LastUsedAt)

	_, err = store.Validate(ctx, "gk_not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, _, _, err := NewTokenGenerator().GenerateToken()
	require.NoError(t, err)
	_, err = store.Validate(ctx, other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = store.Create(ctx, userID, " ", nil)
	assert.Error(t, err)
}

func TestTokenStore_ExpiredAndRevoked(t *testing.T) {
	store, userID := setupTokenStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	_, expired, err := store.Create(ctx, userID, "old", &past)
	require.NoError(t, err)
	_, err = store.Validate(ctx, expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	token, plaintext, err := store.Create(ctx, userID, "revoked", nil)
	require.NoError(t, err)
	require.NoError(t, store.Revoke(ctx, token.ID))
	require.NoError(t, store.Revoke(ctx, token.ID))
	_, err = store.Validate(ctx, plaintext)
	assert.ErrorIs(t, err, ErrInvalidToken)

	assert.ErrorIs(t, store.Revoke(ctx, uuid.New()), ErrTokenNotFound)

	tokens, err := store.ListUserTokens(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, tokens, 2)

	removed, err := store.CleanupExpired(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
}

func TestTokenStore_DatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewTokenStore(db)
	token, _, _, err := store.generator.GenerateToken()
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM api_tokens").WillReturnError(errors.New("connection reset"))
	_, err = store.Validate(context.Background(), token)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidToken)

	mock.ExpectQuery("SELECT (.+) FROM api_tokens").WillReturnError(sql.ErrNoRows)
	_, err = store.Validate(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAPIToken_Active(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	assert.True(t, (&APIToken{}).Active(now))
	assert.True(t, (&APIToken{ExpiresAt: &future}).Active(now))
	assert.False(t, (&APIToken{ExpiresAt: &past}).Active(now))
	assert.False(t, (&APIToken{RevokedAt: &past}).Active(now))
}
