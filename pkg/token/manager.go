// Package token keeps the bearer credential for each connected account usable
// across turns: it probes the current access token and, when the provider
// rejects it, performs exactly one refresh-token exchange before giving up.
package token

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/sync/singleflight"

	"github.com/inboxd/mailcode/pkg/errdefs"
	"github.com/inboxd/mailcode/pkg/session"
)

// probePath is the lightweight endpoint used to check whether an access
// token is still accepted.
const probePath = "/profile"

// Manager validates and refreshes account credentials. It is the only writer
// of persisted session records.
type Manager struct {
	store         session.Store
	client        *http.Client
	apiBaseURL    string
	tokenEndpoint string

	// group collapses concurrent validations of the same account into one
	// probe/refresh flight. A refresh is never cancellable mid-flight.
	group singleflight.Group
}

// NewManager creates a Manager backed by the given store. client may be nil,
// in which case http.DefaultClient is used.
func NewManager(store session.Store, client *http.Client, apiBaseURL, tokenEndpoint string) *Manager {
	if client == nil {
		client = http.DefaultClient
	}
	return &Manager{
		store:         store,
		client:        client,
		apiBaseURL:    apiBaseURL,
		tokenEndpoint: tokenEndpoint,
	}
}

// Validate ensures the account has a usable access token and returns it.
// A rejected token triggers at most one refresh; a refreshed token is
// persisted before it is returned. Callers for the same account share one
// in-flight validation.
func (m *Manager) Validate(ctx context.Context, account *session.Account) (string, error) {
	v, err, _ := m.group.Do(account.ID, func() (any, error) {
		return m.validate(ctx, account)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) validate(ctx context.Context, account *session.Account) (string, error) {
	status, err := m.probe(ctx, account.AccessToken)
	if err != nil {
		return "", fmt.Errorf("probing access token: %w", err)
	}

	switch {
	case status >= 200 && status < 300:
		return account.AccessToken, nil

	case status == http.StatusUnauthorized:
		if account.RefreshToken == "" {
			return "", &errdefs.SessionExpiredError{
				Reason: "access token rejected and no refresh token is stored",
			}
		}
		slog.Info("Access token rejected, refreshing", "account", account.Email)
		tok, err := m.refreshToken(ctx, account.RefreshToken, account.ClientID, account.ClientSecret)
		if err != nil {
			return "", &errdefs.SessionExpiredError{
				Reason: fmt.Sprintf("token refresh failed: %v", err),
			}
		}
		account.AccessToken = tok.AccessToken
		account.RefreshToken = tok.RefreshToken
		if err := m.store.UpdateAccount(ctx, account); err != nil {
			return "", fmt.Errorf("persisting refreshed token: %w", err)
		}
		return account.AccessToken, nil

	default:
		return "", &errdefs.APIError{
			StatusCode: status,
			Endpoint:   probePath,
			Message:    "token probe failed",
		}
	}
}

// probe issues the lightweight validity check and returns the status code.
func (m *Manager) probe(ctx context.Context, accessToken string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.apiBaseURL+probePath, nil)
	if err != nil {
		return 0, fmt.Errorf("creating probe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probing token: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}
