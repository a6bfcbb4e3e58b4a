// Package diag replaces the old console-attached debug hooks with an
// explicit, injectable diagnostics module. Nothing here mutates global
// state; every probe runs over the dependencies handed to it.
package diag

import (
	"context"

	"festchat/pkg/api"
)

// SessionInfo is the slice of the session store the probes read.
type SessionInfo interface {
	User() (api.User, bool)
	Token() string
}

// Verifier checks an access token against the auth provider.
type Verifier interface {
	Verify(ctx context.Context, accessToken string) error
}

// Connection exposes the realtime status flag.
type Connection interface {
	IsConnected() bool
}

// Diagnostics bundles the probes a developer console or test harness can
// call.
type Diagnostics struct {
	Session   SessionInfo
	Verifier  Verifier
	Directory *api.Directory
	Store     *api.Store
	Conn      Connection
}

type AuthStatus struct {
	HasUser      bool   `json:"hasUser"`
	UserEmail    string `json:"userEmail,omitempty"`
	HasToken     bool   `json:"hasToken"`
	TokenPreview string `json:"tokenPreview,omitempty"`
}

type TokenReport struct {
	AuthStatus
	TokenValid bool   `json:"tokenValid"`
	Detail     string `json:"detail,omitempty"`
}

type AccessReport struct {
	UserEmail     string `json:"userEmail,omitempty"`
	Privileged    bool   `json:"privileged"`
	Conversations int    `json:"conversations"`
	Loaded        bool   `json:"loaded"`
	Connected     bool   `json:"connected"`
}

// Auth reports what the session currently holds, without a network call.
func (d *Diagnostics) Auth() AuthStatus {
	status := AuthStatus{}
	if user, ok := d.Session.User(); ok {
		status.HasUser = true
		status.UserEmail = user.Email
	}
	if token := d.Session.Token(); token != "" {
		status.HasToken = true
		status.TokenPreview = preview(token)
	}
	return status
}

// ValidateTokens tests the held access token against the auth provider.
func (d *Diagnostics) ValidateTokens(ctx context.Context) TokenReport {
	report := TokenReport{AuthStatus: d.Auth()}
	if !report.HasToken {
		report.Detail = "no access token held"
		return report
	}
	if err := d.Verifier.Verify(ctx, d.Session.Token()); err != nil {
		report.Detail = err.Error()
		return report
	}
	report.TokenValid = true
	return report
}

// TestSearch exercises the fuzzy name search end to end.
func (d *Diagnostics) TestSearch(ctx context.Context, query string) ([]api.Conversation, error) {
	return d.Directory.Search(ctx, query)
}

// Access summarizes what the current user can see and whether the
// realtime channel is up.
func (d *Diagnostics) Access() AccessReport {
	report := AccessReport{
		Conversations: len(d.Directory.Conversations()),
		Loaded:        d.Directory.Loaded(),
	}
	if user, ok := d.Session.User(); ok {
		report.UserEmail = user.Email
		report.Privileged = user.Privileged()
	}
	if d.Conn != nil {
		report.Connected = d.Conn.IsConnected()
	}
	return report
}

func preview(token string) string {
	if len(token) <= 20 {
		return token
	}
	return token[:20] + "..."
}
