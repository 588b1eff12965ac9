// Package auth provides the credential providers the API client reads its bearer token from.
package auth

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"marko-dashboard/internal/config"
	apperrors "marko-dashboard/internal/errors"
	"marko-dashboard/internal/security"
)

// LocalIssuer is the issuer of tokens minted by the engine's local login.
const LocalIssuer = "marko-local"

// TokenProvider returns the current bearer token, or "" when unauthenticated.
// It is called once per request and must not block on the network for long.
type TokenProvider interface {
	Token() string
}

// StaticToken is a fixed token, typically from MARKO_ACCESS_TOKEN.
type StaticToken string

// Token implements TokenProvider.
func (s StaticToken) Token() string { return strings.TrimSpace(string(s)) }

// FileStore persists a local login token on disk.
type FileStore struct {
	path   string
	mu     sync.RWMutex
	token  string
	loaded bool
}

// NewFileStore creates a token store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the token file location.
func (s *FileStore) Path() string { return s.path }

// Token implements TokenProvider. A missing file yields "".
func (s *FileStore) Token() string {
	s.mu.RLock()
	if s.loaded {
		defer s.mu.RUnlock()
		return s.token
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		data, err := os.ReadFile(s.path)
		if err == nil {
			s.token = strings.TrimSpace(string(data))
		}
		s.loaded = true
	}
	return s.token
}

// Set persists token with owner-only permissions.
func (s *FileStore) Set(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return apperrors.Wrap(err, "creating token directory")
	}
	if err := os.WriteFile(s.path, []byte(strings.TrimSpace(token)+"\n"), 0600); err != nil {
		return apperrors.Wrap(err, "writing token")
	}
	s.token = strings.TrimSpace(token)
	s.loaded = true
	return nil
}

// Clear removes the persisted token.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	s.loaded = true
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return apperrors.Wrap(err, "removing token")
	}
	return nil
}

// OAuth2Source fetches tokens from an OIDC provider with the client-credentials grant.
type OAuth2Source struct {
	src    oauth2.TokenSource
	logger zerolog.Logger
}

// NewOAuth2Source creates a cached client-credentials token source.
func NewOAuth2Source(ctx context.Context, cfg config.OIDCConfig, logger zerolog.Logger) *OAuth2Source {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	return &OAuth2Source{
		src:    oauth2.ReuseTokenSource(nil, cc.TokenSource(ctx)),
		logger: logger.With().Str("component", "oidc").Logger(),
	}
}

// Token implements TokenProvider. Provider failures are logged and yield "".
func (o *OAuth2Source) Token() string {
	tok, err := o.src.Token()
	if err != nil {
		o.logger.Warn().Err(err).Msg("OIDC token refresh failed")
		return ""
	}
	return tok.AccessToken
}

// Chain returns the first non-empty token of its providers.
type Chain []TokenProvider

// Token implements TokenProvider.
func (c Chain) Token() string {
	for _, p := range c {
		if p == nil {
			continue
		}
		if t := p.Token(); t != "" {
			return t
		}
	}
	return ""
}

// NewProvider builds the provider chain from configuration:
// environment token, then OIDC client credentials, then the local token file.
func NewProvider(ctx context.Context, cfg config.AuthConfig, store *FileStore, logger zerolog.Logger) TokenProvider {
	var chain Chain
	if cfg.AccessToken != "" {
		chain = append(chain, StaticToken(cfg.AccessToken))
	}
	if cfg.OIDC.Enabled() {
		chain = append(chain, NewOAuth2Source(ctx, cfg.OIDC, logger))
	}
	if store != nil {
		chain = append(chain, store)
	}
	return chain
}

// Claims are the token claims the dashboard inspects.
type Claims struct {
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`

	jwt.RegisteredClaims
}

// Inspect decodes token claims without verifying the signature.
// The engine verifies tokens; the dashboard only needs issuer, subject and expiry.
func Inspect(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidPayload, "decoding token: "+err.Error())
	}
	return claims, nil
}

// IsLocal reports whether the token was issued by the engine's local login.
func IsLocal(token string) bool {
	c, err := Inspect(token)
	return err == nil && c.Issuer == LocalIssuer
}

// Expired reports whether the claims carry an expiry at or before now.
func (c *Claims) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(c.ExpiresAt.Time)
}

// MaskToken masks a token for logging.
func MaskToken(token string) string {
	return security.MaskCredential(token)
}
