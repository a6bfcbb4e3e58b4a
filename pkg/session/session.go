// Package session holds the current user identity and bearer tokens, and
// runs the refresh-token exchange the rest client falls back to on 401.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"festchat/pkg/api"
	"festchat/pkg/rest"
)

// Provider is the external authentication contract.
type Provider interface {
	Login(ctx context.Context, email, password string) (rest.Credentials, error)
	RefreshToken(ctx context.Context, refreshToken string) (string, error)
	Verify(ctx context.Context, accessToken string) error
}

// Store is the session store. It implements rest.TokenSource.
type Store struct {
	provider Provider
	now      func() time.Time

	mu           sync.Mutex
	user         api.User
	loggedIn     bool
	accessToken  string
	refreshToken string
}

func NewStore(provider Provider) *Store {
	return &Store{provider: provider, now: time.Now}
}

func (s *Store) Login(ctx context.Context, email, password string) (api.User, error) {
	creds, err := s.provider.Login(ctx, email, password)
	if err != nil {
		return api.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = creds.User
	s.loggedIn = true
	s.accessToken = creds.AccessToken
	s.refreshToken = creds.RefreshToken
	return s.user, nil
}

// Restore injects a previously persisted session without a login round
// trip. Verify decides whether it is still usable.
func (s *Store) Restore(user api.User, accessToken, refreshToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
	s.loggedIn = accessToken != ""
	s.accessToken = accessToken
	s.refreshToken = refreshToken
}

func (s *Store) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = api.User{}
	s.loggedIn = false
	s.accessToken = ""
	s.refreshToken = ""
}

func (s *Store) User() (api.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user, s.loggedIn
}

// SenderIdentity is the value put in an outbound message's sender field.
// The backend keys messages on whatever the client sent here, so prefer
// the display name the way the web client did, falling back to email.
func (s *Store) SenderIdentity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user.Name != "" {
		return s.user.Name
	}
	if s.user.Email != "" {
		return s.user.Email
	}
	return s.user.Username
}

// IdentityAliases returns every representation the backend may use for
// the current user in a sender field.
func (s *Store) IdentityAliases() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return api.IdentityAliases(s.user)
}

func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

// Refresh exchanges the refresh token for a new access token. A failed
// exchange ends the session; the caller must re-authenticate.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	refreshToken := s.refreshToken
	s.mu.Unlock()

	if refreshToken == "" {
		return api.Errorf(api.KindAuthenticationRequired, "session.refresh", "no refresh token")
	}
	accessToken, err := s.provider.RefreshToken(ctx, refreshToken)
	if err != nil {
		log.Printf("token refresh failed, clearing session: %v", err)
		s.Logout()
		return api.NewError(api.KindAuthenticationRequired, "session.refresh", err)
	}

	s.mu.Lock()
	s.accessToken = accessToken
	s.mu.Unlock()
	return nil
}

// EnsureFresh refreshes proactively when the access token is known to be
// expired, so a request does not have to burn its one 401 retry on it.
func (s *Store) EnsureFresh(ctx context.Context) error {
	s.mu.Lock()
	token := s.accessToken
	s.mu.Unlock()
	if token == "" || !expired(token, s.now()) {
		return nil
	}
	return s.Refresh(ctx)
}

// expired inspects the token's exp claim without verifying the signature;
// the client holds no signing key and only needs a staleness hint.
func expired(token string, now time.Time) bool {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Time.Before(now)
}
