package auth

import "context"

// APIKeyInfo holds the identity bound to a stored API key.
type APIKeyInfo struct {
	ID        string
	KeyHash   string
	Name      string
	Principal Principal
}

// APIKeyRepository provides lookup of API keys by their HMAC hash.
type APIKeyRepository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// Authenticator resolves a raw credential into a Principal.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (Principal, error)
}
