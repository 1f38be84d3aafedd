// Package capability is the only bridge between sandboxed script code and the
// remote mailbox API. It exposes exactly two verbs, meters every call against
// an execution-scoped quota, clamps list sizes, and sanitizes every response
// before it re-enters the sandbox.
package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/inboxd/mailcode/pkg/errdefs"
	"github.com/inboxd/mailcode/pkg/sanitize"
)

// listParams are the query parameters that size a list response. Values above
// the configured clamp are rewritten down before the request is issued.
var listParams = []string{"maxResults", "pageSize", "limit"}

// apiErrorExcerptLen bounds how much of a failing response body is carried
// into an APIError message.
const apiErrorExcerptLen = 200

// Surface is one execution's capability set. It is built per execution and
// holds everything the two verbs need on the host side; the credential never
// crosses into the sandbox.
type Surface struct {
	ctx            context.Context
	client         *http.Client
	baseURL        string
	accounts       []AccountToken
	counter        *CallCounter
	sanitizer      *sanitize.Sanitizer
	maxListResults int
}

// Options configures a Surface.
type Options struct {
	Client         *http.Client
	BaseURL        string
	Accounts       []AccountToken
	Counter        *CallCounter
	Sanitizer      *sanitize.Sanitizer
	MaxListResults int
}

// New builds the capability surface for one execution. ctx bounds every
// proxied call the script makes through it.
func New(ctx context.Context, opts Options) *Surface {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &Surface{
		ctx:            ctx,
		client:         client,
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		accounts:       opts.Accounts,
		counter:        opts.Counter,
		sanitizer:      opts.Sanitizer,
		maxListResults: opts.MaxListResults,
	}
}

// Read proxies a GET against the remote API. The optional account selector is
// an email or label of a connected account.
func (s *Surface) Read(path string, account ...string) (any, error) {
	return s.call(http.MethodGet, path, nil, firstOrEmpty(account))
}

// Write proxies a POST with a JSON body against the remote API.
func (s *Surface) Write(path string, body any, account ...string) (any, error) {
	return s.call(http.MethodPost, path, body, firstOrEmpty(account))
}

func firstOrEmpty(account []string) string {
	if len(account) > 0 {
		return account[0]
	}
	return ""
}

func (s *Surface) call(method, path string, body any, selector string) (any, error) {
	token, err := resolveAccount(s.accounts, selector)
	if err != nil {
		return nil, err
	}

	target, err := s.buildURL(path)
	if err != nil {
		return nil, err
	}

	// The quota slot is taken synchronously before any network I/O, so
	// concurrent calls from the script cannot overshoot the cap.
	if err := s.counter.Take(); err != nil {
		slog.Debug("Call rejected by quota", "path", path)
		return nil, err
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &errdefs.ExecutionError{
				Code:    errdefs.CodeBadRequest,
				Message: fmt.Sprintf("request body is not serializable: %v", err),
			}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(s.ctx, method, target, reqBody)
	if err != nil {
		return nil, &errdefs.ExecutionError{
			Code:    errdefs.CodeBadRequest,
			Message: fmt.Sprintf("invalid request: %v", err),
		}
	}
	req.Header.Set("Authorization", "Bearer "+token.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &errdefs.APIError{
			StatusCode: 0,
			Endpoint:   path,
			Message:    "request failed: " + err.Error(),
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errdefs.APIError{
			StatusCode: resp.StatusCode,
			Endpoint:   path,
			Message:    "reading response: " + err.Error(),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &errdefs.APIError{
			StatusCode: resp.StatusCode,
			Endpoint:   path,
			Message:    excerpt(respBody),
		}
	}

	if len(respBody) == 0 {
		return nil, nil
	}

	var decoded any
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		decoded = string(respBody)
	}

	return s.sanitizer.Sanitize(decoded), nil
}

// buildURL validates the script-supplied path, clamps list-size parameters,
// and anchors the result to the fixed API base. Scripts cannot point a verb
// at another host.
func (s *Surface) buildURL(path string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		return "", &errdefs.ExecutionError{
			Code:    errdefs.CodeBadRequest,
			Message: fmt.Sprintf("path must start with '/', got %q", path),
		}
	}

	u, err := url.Parse(path)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "", &errdefs.ExecutionError{
			Code:    errdefs.CodeBadRequest,
			Message: fmt.Sprintf("invalid path %q", path),
		}
	}

	q := u.Query()
	for _, param := range listParams {
		raw := q.Get(param)
		if raw == "" {
			continue
		}
		if n, err := strconv.Atoi(raw); err == nil && n > s.maxListResults {
			q.Set(param, strconv.Itoa(s.maxListResults))
		}
	}
	u.RawQuery = q.Encode()

	return s.baseURL + u.String(), nil
}

func excerpt(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > apiErrorExcerptLen {
		text = text[:apiErrorExcerptLen] + "…"
	}
	return text
}
