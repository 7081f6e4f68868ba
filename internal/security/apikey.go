// Package security authenticates API callers via bearer tokens issued by
// the external identity service or via HMAC-hashed API keys.
package security

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/xenking/caremeds/internal/domain/auth"
)

var _ auth.Authenticator = (*APIKeyAuthenticator)(nil)

// APIKeyAuthenticator resolves API keys to the principal they were issued for.
type APIKeyAuthenticator struct {
	apikeys auth.APIKeyRepository
	pepper  []byte
}

// NewAPIKeyAuthenticator creates an APIKeyAuthenticator with the given
// repository and HMAC pepper.
func NewAPIKeyAuthenticator(apikeys auth.APIKeyRepository, pepper []byte) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// HashAPIKey returns the hex HMAC-SHA256 of key under pepper, the form
// stored in the api_keys table.
func HashAPIKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticate looks the key up by its HMAC and confirms the stored hash in
// constant time.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, key string) (auth.Principal, error) {
	if key == "" {
		return auth.Principal{}, auth.ErrUnauthenticated
	}

	mac := hmac.New(sha256.New, a.pepper)
	mac.Write([]byte(key))
	hash := mac.Sum(nil)

	info, err := a.apikeys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		return auth.Principal{}, auth.ErrUnauthenticated
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return auth.Principal{}, auth.ErrUnauthenticated
	}
	if subtle.ConstantTimeCompare(hash, stored) != 1 {
		return auth.Principal{}, auth.ErrUnauthenticated
	}
	if !info.Principal.Role.Valid() {
		return auth.Principal{}, auth.ErrUnauthenticated
	}

	return info.Principal, nil
}
