package session

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"festchat/pkg/api"
	"festchat/pkg/rest"
)

type fakeProvider struct {
	creds      rest.Credentials
	loginErr   error
	refreshed  string
	refreshErr error
	refreshN   int
}

func (f *fakeProvider) Login(ctx context.Context, email, password string) (rest.Credentials, error) {
	if f.loginErr != nil {
		return rest.Credentials{}, f.loginErr
	}
	return f.creds, nil
}

func (f *fakeProvider) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	f.refreshN++
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	return f.refreshed, nil
}

func (f *fakeProvider) Verify(ctx context.Context, accessToken string) error {
	return nil
}

func signedToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(expiresAt)}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

func TestLoginStoresSession(t *testing.T) {
	provider := &fakeProvider{creds: rest.Credentials{
		AccessToken:  "acc",
		RefreshToken: "ref",
		User:         api.User{Id: "u1", Email: "alice@example.com", Name: "Alice"},
	}}
	s := NewStore(provider)

	user, err := s.Login(context.Background(), "alice@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.Id)
	assert.Equal(t, "acc", s.Token())

	got, ok := s.User()
	assert.True(t, ok)
	assert.Equal(t, "alice@example.com", got.Email)
}

func TestRefreshReplacesAccessToken(t *testing.T) {
	provider := &fakeProvider{refreshed: "fresh"}
	s := NewStore(provider)
	s.Restore(api.User{Id: "u1"}, "stale", "ref")

	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, "fresh", s.Token())
}

func TestRefreshFailureEndsSession(t *testing.T) {
	provider := &fakeProvider{refreshErr: api.Errorf(api.KindAuthenticationRequired, "test", "rejected")}
	s := NewStore(provider)
	s.Restore(api.User{Id: "u1"}, "stale", "ref")

	err := s.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, api.KindAuthenticationRequired, api.KindOf(err))
	assert.Empty(t, s.Token())
	_, ok := s.User()
	assert.False(t, ok)
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	s := NewStore(&fakeProvider{})
	s.Restore(api.User{Id: "u1"}, "acc", "")

	err := s.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, api.KindAuthenticationRequired, api.KindOf(err))
}

func TestEnsureFreshRefreshesExpiredToken(t *testing.T) {
	provider := &fakeProvider{refreshed: "fresh"}
	s := NewStore(provider)
	s.Restore(api.User{Id: "u1"}, signedToken(t, time.Now().Add(-time.Hour)), "ref")

	require.NoError(t, s.EnsureFresh(context.Background()))
	assert.Equal(t, 1, provider.refreshN)
	assert.Equal(t, "fresh", s.Token())
}

func TestEnsureFreshSkipsLiveToken(t *testing.T) {
	provider := &fakeProvider{refreshed: "fresh"}
	s := NewStore(provider)
	s.Restore(api.User{Id: "u1"}, signedToken(t, time.Now().Add(time.Hour)), "ref")

	require.NoError(t, s.EnsureFresh(context.Background()))
	assert.Zero(t, provider.refreshN)
}

func TestSenderIdentityFallbacks(t *testing.T) {
	s := NewStore(&fakeProvider{})

	s.Restore(api.User{Name: "Alice", Email: "alice@example.com", Username: "alice"}, "t", "")
	assert.Equal(t, "Alice", s.SenderIdentity())

	s.Restore(api.User{Email: "alice@example.com", Username: "alice"}, "t", "")
	assert.Equal(t, "alice@example.com", s.SenderIdentity())

	s.Restore(api.User{Username: "alice"}, "t", "")
	assert.Equal(t, "alice", s.SenderIdentity())
}

func TestIdentityAliases(t *testing.T) {
	s := NewStore(&fakeProvider{})
	s.Restore(api.User{Id: "u1", Email: "Alice@Example.com"}, "t", "")

	aliases := s.IdentityAliases()
	assert.True(t, api.IsOwnMessage(api.Message{Sender: "alice@example.com"}, aliases))
	assert.False(t, api.IsOwnMessage(api.Message{Sender: "bob"}, aliases))
}

func TestLogout(t *testing.T) {
	s := NewStore(&fakeProvider{})
	s.Restore(api.User{Id: "u1"}, "acc", "ref")
	s.Logout()

	assert.Empty(t, s.Token())
	_, ok := s.User()
	assert.False(t, ok)
}
