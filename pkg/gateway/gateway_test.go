package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxd/mailcode/pkg/capability"
	"github.com/inboxd/mailcode/pkg/config"
	"github.com/inboxd/mailcode/pkg/errdefs"
	"github.com/inboxd/mailcode/pkg/sandbox"
	"github.com/inboxd/mailcode/pkg/session"
)

type testEnv struct {
	service *Service
	store   *session.SQLiteStore
	server  *httptest.Server
}

func newTestEnv(t *testing.T, mux *http.ServeMux, mutate func(*config.Policy)) *testEnv {
	t.Helper()

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	store, err := session.NewSQLiteStore(filepath.Join(t.TempDir(), "accounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	policy := config.Default()
	policy.APIBaseURL = server.URL
	policy.TokenEndpoint = server.URL + "/token"
	policy.ExecTimeout = 2 * time.Second
	if mutate != nil {
		mutate(&policy)
	}

	return &testEnv{
		service: New(store, config.NewProvider(policy), nil),
		store:   store,
		server:  server,
	}
}

func (e *testEnv) addAccount(t *testing.T, account *session.Account) {
	t.Helper()
	require.NoError(t, e.store.AddAccount(context.Background(), account))
}

func defaultAccount() *session.Account {
	return &session.Account{
		ID:           "acct-1",
		Email:        "me@example.com",
		AccessToken:  "valid-token",
		RefreshToken: "refresh-1",
		ClientID:     "cid",
		ClientSecret: "secret",
	}
}

// profileMux serves a probe-friendly profile endpoint for "valid-token".
func profileMux(profileGets *atomic.Int64) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer valid-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if profileGets != nil {
			profileGets.Add(1)
		}
		json.NewEncoder(w).Encode(map[string]any{"emailAddress": "me@example.com", "messagesTotal": 42})
	})
	return mux
}

func TestExecute_ProfileRoundTrip(t *testing.T) {
	var profileGets atomic.Int64
	env := newTestEnv(t, profileMux(&profileGets), nil)
	env.addAccount(t, defaultAccount())

	result := env.service.Execute(context.Background(), ExecutionRequest{
		Code:   "return await read('/profile')",
		Intent: "check profile",
	})

	require.False(t, result.Failed(), "error: %v", result.Err)
	profile := result.Value.(map[string]any)
	assert.Equal(t, "me@example.com", profile["emailAddress"])

	// One probe plus exactly one proxied call.
	assert.Equal(t, int64(2), profileGets.Load())
}

type recordingRunner struct {
	calls atomic.Int64
}

func (r *recordingRunner) Run(ctx context.Context, sessionID, code string, surface *capability.Surface, timeout time.Duration) (any, error) {
	r.calls.Add(1)
	return nil, nil
}

func TestExecute_TruncatedCodeNeverReachesSandbox(t *testing.T) {
	env := newTestEnv(t, profileMux(nil), nil)
	env.addAccount(t, defaultAccount())

	runner := &recordingRunner{}
	env.service.WithRunner(runner)

	result := env.service.Execute(context.Background(), ExecutionRequest{
		Code:   "const messages = await read(",
		Intent: "broken",
	})

	require.True(t, result.Failed())
	assert.Equal(t, errdefs.KindExecutionError, result.Kind())
	var execErr *errdefs.ExecutionError
	require.ErrorAs(t, result.Err, &execErr)
	assert.Equal(t, errdefs.CodeTruncated, execErr.Code)
	assert.Equal(t, int64(0), runner.calls.Load())
}

func TestExecute_RefreshesExpiredTokenTransparently(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"emailAddress": "me@example.com"})
	})
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh-token",
			"refresh_token": "fresh-refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})

	env := newTestEnv(t, mux, nil)
	account := defaultAccount()
	account.AccessToken = "expired-token"
	env.addAccount(t, account)

	result := env.service.Execute(context.Background(), ExecutionRequest{
		Code:   "return await read('/profile')",
		Intent: "check profile",
	})

	require.False(t, result.Failed(), "error: %v", result.Err)

	saved, err := env.store.GetAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", saved.AccessToken)
	assert.Equal(t, "fresh-refresh", saved.RefreshToken)
}

func TestExecute_ExpiredWithoutRefreshTokenFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /profile", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	env := newTestEnv(t, mux, nil)
	account := defaultAccount()
	account.RefreshToken = ""
	env.addAccount(t, account)

	result := env.service.Execute(context.Background(), ExecutionRequest{
		Code:   "return await read('/profile')",
		Intent: "check profile",
	})

	require.True(t, result.Failed())
	assert.Equal(t, errdefs.KindSessionExpired, result.Kind())
}

func TestExecute_ListClampApplied(t *testing.T) {
	mux := profileMux(nil)
	mux.HandleFunc("GET /messages", func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(r.URL.Query().Get("maxResults"))
		items := make([]any, n)
		for i := range items {
			items[i] = map[string]any{"id": "m" + strconv.Itoa(i)}
		}
		json.NewEncoder(w).Encode(map[string]any{"messages": items})
	})

	env := newTestEnv(t, mux, func(p *config.Policy) {
		p.MaxListResults = 100
		p.MaxListLen = 200
	})
	env.addAccount(t, defaultAccount())

	result := env.service.Execute(context.Background(), ExecutionRequest{
		Code:   "const page = await read('/messages?maxResults=500'); return page.messages.length",
		Intent: "list a lot",
	})

	require.False(t, result.Failed(), "error: %v", result.Err)
	assert.EqualValues(t, 100, result.Value)
}

func TestExecute_QuotaStopsEleventhCall(t *testing.T) {
	var messageGets atomic.Int64
	mux := profileMux(nil)
	mux.HandleFunc("GET /messages/", func(w http.ResponseWriter, r *http.Request) {
		messageGets.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"id": "m"})
	})

	env := newTestEnv(t, mux, nil)
	env.addAccount(t, defaultAccount())

	script := `
		for (let i = 0; i < 11; i++) {
			await read('/messages/' + i);
		}
		return 'all done';
	`
	result := env.service.Execute(context.Background(), ExecutionRequest{Code: script, Intent: "crawl"})

	require.True(t, result.Failed())
	var execErr *errdefs.ExecutionError
	require.ErrorAs(t, result.Err, &execErr)
	assert.Equal(t, errdefs.CodeQuotaExceeded, execErr.Code)
	assert.Equal(t, int64(10), messageGets.Load(), "the 11th call must issue no traffic")
}

func TestExecute_TimeoutSurfacesAsTimeoutError(t *testing.T) {
	env := newTestEnv(t, profileMux(nil), func(p *config.Policy) {
		p.ExecTimeout = 100 * time.Millisecond
	})
	env.addAccount(t, defaultAccount())

	start := time.Now()
	result := env.service.Execute(context.Background(), ExecutionRequest{
		Code:   "while (true) {}",
		Intent: "spin",
	})
	elapsed := time.Since(start)

	require.True(t, result.Failed())
	assert.Equal(t, errdefs.KindTimeout, result.Kind())
	assert.Less(t, elapsed, time.Second)
}

func TestExecute_ResultGetsSecondSanitizationPass(t *testing.T) {
	mux := profileMux(nil)
	mux.HandleFunc("GET /snippets", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"snippet": "short"})
	})

	env := newTestEnv(t, mux, func(p *config.Policy) {
		p.MaxStringLen = 50
	})
	env.addAccount(t, defaultAccount())

	// The script concatenates sanitized pieces into something oversized;
	// the second pass has to bound it again.
	script := `
		const one = await read('/snippets');
		let out = '';
		for (let i = 0; i < 100; i++) out += one.snippet;
		return out;
	`
	result := env.service.Execute(context.Background(), ExecutionRequest{Code: script, Intent: "concat"})

	require.False(t, result.Failed(), "error: %v", result.Err)
	assert.LessOrEqual(t, len(result.Value.(string)), 50)
}

func TestExecute_AccountLabelRouting(t *testing.T) {
	var workAuth, homeAuth atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("GET /profile", func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer tok-work":
			workAuth.Add(1)
		case "Bearer tok-home":
			homeAuth.Add(1)
		default:
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"emailAddress": "someone"})
	})

	env := newTestEnv(t, mux, nil)
	env.addAccount(t, &session.Account{
		ID: "w", Email: "work@example.com", Label: "work",
		AccessToken: "tok-work", ClientID: "c", ClientSecret: "s",
	})
	env.addAccount(t, &session.Account{
		ID: "h", Email: "home@example.com", Label: "home",
		AccessToken: "tok-home", ClientID: "c", ClientSecret: "s",
	})

	result := env.service.Execute(context.Background(), ExecutionRequest{
		Code:   "return await read('/profile', 'home')",
		Intent: "check home profile",
	})

	require.False(t, result.Failed(), "error: %v", result.Err)
	// Two probes (one per account) plus the routed call.
	assert.Equal(t, int64(1), workAuth.Load())
	assert.Equal(t, int64(2), homeAuth.Load())
}

func TestExecute_NoAccountsConnected(t *testing.T) {
	env := newTestEnv(t, profileMux(nil), nil)

	result := env.service.Execute(context.Background(), ExecutionRequest{Code: "return 1", Intent: "noop"})

	require.True(t, result.Failed())
	assert.Equal(t, errdefs.KindSessionExpired, result.Kind())
}

var _ sandbox.Runner = (*recordingRunner)(nil)
