// Package auth issues and resolves the bearer tokens of the api guard.
//
// # Token format
//
//	gk_<base64url(32 random bytes)>
//
// The plaintext token is returned once by TokenStore.Create. The database
// keeps only its SHA256 hash, used for lookup, and a short display prefix
// such as "gk_Xb3k9QaZ".
//
// # Usage
//
//	tokens := auth.NewTokenStore(db)
//	token, plaintext, err := tokens.Create(ctx, user.ID, "ci", nil)
//
//	// later, per request
//	token, err := tokens.Validate(ctx, bearer)
//	if errors.Is(err, auth.ErrInvalidToken) {
//		// 401
//	}
//
// Malformed, unknown, revoked and expired tokens are indistinguishable to
// the caller. Browser sessions of the web guard are not handled here; see
// pkg/middleware.
package auth
