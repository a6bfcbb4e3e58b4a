package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"festchat/pkg/api"
)

// Credentials is the token pair plus identity the auth provider returns
// on login.
type Credentials struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	User         api.User `json:"user"`
}

// AuthClient talks to the external authentication provider. Login and
// refresh are unauthenticated exchanges, so it deliberately carries no
// token source.
type AuthClient struct {
	base string
	http *http.Client
}

func NewAuthClient(baseURL string, timeout time.Duration) *AuthClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &AuthClient{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

func (a *AuthClient) Login(ctx context.Context, email, password string) (Credentials, error) {
	body := map[string]string{"email": email, "password": password}
	var creds Credentials
	if err := a.post(ctx, "/auth/login", body, &creds); err != nil {
		return Credentials{}, err
	}
	if creds.AccessToken == "" {
		return Credentials{}, api.Errorf(api.KindAuthenticationRequired, "auth.login", "no access token in response")
	}
	return creds, nil
}

// RefreshToken exchanges the refresh token for a new access token.
func (a *AuthClient) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	body := map[string]string{"refreshToken": refreshToken}
	var creds Credentials
	if err := a.post(ctx, "/auth/refresh", body, &creds); err != nil {
		return "", err
	}
	if creds.AccessToken == "" {
		return "", api.Errorf(api.KindAuthenticationRequired, "auth.refresh", "no access token in response")
	}
	return creds.AccessToken, nil
}

// Verify checks whether the access token is still accepted.
func (a *AuthClient) Verify(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base+"/auth/verify", nil)
	if err != nil {
		return api.NewError(api.KindUnknown, "auth.verify", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.http.Do(req)
	if err != nil {
		return api.NewError(api.KindNetworkError, "auth.verify", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if kind := kindForStatus(resp.StatusCode); kind != "" {
		return api.Errorf(kind, "auth.verify", "backend returned %d", resp.StatusCode)
	}
	return nil
}

func (a *AuthClient) post(ctx context.Context, path string, body, out interface{}) error {
	op := "POST " + path

	encoded, err := json.Marshal(body)
	if err != nil {
		return api.NewError(api.KindUnknown, op, errors.Wrap(err, "encoding request body"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+path, bytes.NewReader(encoded))
	if err != nil {
		return api.NewError(api.KindUnknown, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return api.NewError(api.KindNetworkError, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if kind := kindForStatus(resp.StatusCode); kind != "" {
		return api.Errorf(kind, op, "backend returned %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return api.NewError(api.KindNetworkError, op, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Data != nil {
		raw = env.Data
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return api.NewError(api.KindUnknown, op, errors.Wrap(err, "decoding response body"))
	}
	return nil
}
