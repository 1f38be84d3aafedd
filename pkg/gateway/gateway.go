// Package gateway orchestrates one sandboxed script execution per model turn:
// credential validation, code preflight, sandboxed execution with a metered
// capability surface, and classification of the outcome.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/inboxd/mailcode/pkg/capability"
	"github.com/inboxd/mailcode/pkg/config"
	"github.com/inboxd/mailcode/pkg/errdefs"
	"github.com/inboxd/mailcode/pkg/preflight"
	"github.com/inboxd/mailcode/pkg/sandbox"
	"github.com/inboxd/mailcode/pkg/sanitize"
	"github.com/inboxd/mailcode/pkg/session"
	"github.com/inboxd/mailcode/pkg/token"
)

// ExecutionRequest is one model turn's worth of work: the script to run and
// the model's stated intent, kept for the execution log.
type ExecutionRequest struct {
	Code   string
	Intent string
}

// ExecutionResult is the terminal outcome of one request. Exactly one of
// Value and Err is meaningful; both end states are final and retry policy
// belongs to the caller.
type ExecutionResult struct {
	Value any
	Err   error
}

// Failed reports whether the execution ended in a failure state.
func (r ExecutionResult) Failed() bool {
	return r.Err != nil
}

// Kind returns the failure kind, or "" for a success.
func (r ExecutionResult) Kind() errdefs.ErrorKind {
	if r.Err == nil {
		return ""
	}
	return errdefs.Kind(r.Err)
}

// Guidance returns the user-facing triple for a failed result.
func (r ExecutionResult) Guidance() Guidance {
	return Describe(r.Err)
}

// Execution states, logged as each boundary is crossed.
const (
	stateValidatingCredential = "validating_credential"
	statePreflightingCode     = "preflighting_code"
	stateExecuting            = "executing"
)

// Service is the code-execution gateway. One Service handles the executions
// of one user pipeline; turns against it are already serialized by the
// conversation loop.
type Service struct {
	store    session.Store
	tokens   *token.Manager
	runner   sandbox.Runner
	provider *config.Provider
	client   *http.Client
}

// New builds a gateway over the given account store and policy provider.
// client may be nil to use http.DefaultClient.
func New(store session.Store, provider *config.Provider, client *http.Client) *Service {
	if client == nil {
		client = http.DefaultClient
	}
	policy := provider.Snapshot()
	return &Service{
		store:    store,
		tokens:   token.NewManager(store, client, policy.APIBaseURL, policy.TokenEndpoint),
		runner:   sandbox.NewVMRunner(),
		provider: provider,
		client:   client,
	}
}

// WithRunner swaps the execution backend. Used by tests and alternative
// isolation strategies.
func (s *Service) WithRunner(r sandbox.Runner) *Service {
	s.runner = r
	return s
}

// Execute runs one script through the full pipeline and returns a terminal
// result. It never returns a raw sandbox or transport error.
func (s *Service) Execute(ctx context.Context, req ExecutionRequest) ExecutionResult {
	policy := s.provider.Snapshot()
	start := time.Now()

	slog.Debug("Execution requested", "state", stateValidatingCredential, "intent", req.Intent)

	accounts, sessionID, err := s.validateAccounts(ctx)
	if err != nil {
		return s.finish(req, start, ExecutionResult{Err: err})
	}

	slog.Debug("Credentials validated", "state", statePreflightingCode, "accounts", len(accounts))

	code := preflight.Normalize(req.Code)
	if preflight.DetectTruncation(code) {
		slog.Info("Preflight rejected script", "intent", req.Intent, "code_len", len(req.Code))
		return s.finish(req, start, ExecutionResult{Err: &errdefs.ExecutionError{
			Code:    errdefs.CodeTruncated,
			Message: "the script looks incomplete; it was not executed",
		}})
	}

	counter := capability.NewCallCounter(policy.MaxCallsPerRun)
	surface := capability.New(ctx, capability.Options{
		Client:   s.client,
		BaseURL:  policy.APIBaseURL,
		Accounts: accounts,
		Counter:  counter,
		Sanitizer: sanitize.New(sanitize.Limits{
			MaxString: policy.MaxStringLen,
			MaxBody:   policy.MaxBodyLen,
			MaxList:   policy.MaxListLen,
		}),
		MaxListResults: policy.MaxListResults,
	})

	slog.Info("Execution starting", "state", stateExecuting, "intent", req.Intent, "code_len", len(code))

	value, err := s.runner.Run(ctx, sessionID, code, surface, policy.ExecTimeout)
	if err != nil {
		return s.finish(req, start, ExecutionResult{Err: err})
	}

	// Second, independent sanitization pass: the script may have reshaped
	// or concatenated proxied data beyond what the per-call pass bounded.
	resultSanitizer := sanitize.New(sanitize.Limits{
		MaxString: policy.MaxStringLen,
		MaxBody:   policy.MaxBodyLen,
		MaxList:   policy.MaxListLen,
	})
	return s.finish(req, start, ExecutionResult{Value: resultSanitizer.Sanitize(value)})
}

// validateAccounts loads every connected account and ensures each has a
// usable token, refreshing where needed. The returned credentials are what
// the capability surface resolves per call.
func (s *Service) validateAccounts(ctx context.Context) ([]capability.AccountToken, string, error) {
	records, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, "", &errdefs.SessionExpiredError{Reason: "account store unavailable: " + err.Error()}
	}
	if len(records) == 0 {
		return nil, "", &errdefs.SessionExpiredError{Reason: "no mailbox accounts are connected"}
	}

	accounts := make([]capability.AccountToken, 0, len(records))
	for _, record := range records {
		accessToken, err := s.tokens.Validate(ctx, record)
		if err != nil {
			return nil, "", err
		}
		accounts = append(accounts, capability.AccountToken{
			Email: record.Email,
			Token: accessToken,
			Label: record.Label,
		})
	}
	return accounts, records[0].ID, nil
}

func (s *Service) finish(req ExecutionRequest, start time.Time, result ExecutionResult) ExecutionResult {
	if result.Failed() {
		slog.Info("Execution failed",
			"intent", req.Intent,
			"kind", string(result.Kind()),
			"duration", time.Since(start))
	} else {
		slog.Info("Execution succeeded", "intent", req.Intent, "duration", time.Since(start))
	}
	return result
}
