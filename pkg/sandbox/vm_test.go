package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxd/mailcode/pkg/capability"
	"github.com/inboxd/mailcode/pkg/errdefs"
	"github.com/inboxd/mailcode/pkg/sanitize"
)

func testSurface(t *testing.T, handler http.HandlerFunc) (*capability.Surface, *capability.CallCounter) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	counter := capability.NewCallCounter(10)
	surface := capability.New(context.Background(), capability.Options{
		BaseURL:        server.URL,
		Accounts:       []capability.AccountToken{{Email: "me@example.com", Token: "tok"}},
		Counter:        counter,
		Sanitizer:      sanitize.New(sanitize.Limits{MaxString: 2000, MaxBody: 4000, MaxList: 100}),
		MaxListResults: 100,
	})
	return surface, counter
}

func noCallSurface(t *testing.T) *capability.Surface {
	t.Helper()
	surface, _ := testSurface(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{})
	})
	return surface
}

func TestRun_ReturnsResolvedValue(t *testing.T) {
	runner := NewVMRunner()

	value, err := runner.Run(context.Background(), "s1", "return 1 + 1", noCallSurface(t), time.Second)
	require.NoError(t, err)
	assert.EqualValues(t, 2, value)
}

func TestRun_TopLevelAwaitOnPlainPromise(t *testing.T) {
	runner := NewVMRunner()

	value, err := runner.Run(context.Background(), "s1", "return await Promise.resolve('ok')", noCallSurface(t), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
}

func TestRun_CapabilityCallRoundTrip(t *testing.T) {
	surface, counter := testSurface(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"emailAddress": "me@example.com", "messagesTotal": 42})
	})
	runner := NewVMRunner()

	value, err := runner.Run(context.Background(), "s1", "return await read('/profile')", surface, time.Second)
	require.NoError(t, err)

	profile := value.(map[string]any)
	assert.Equal(t, "me@example.com", profile["emailAddress"])
	assert.Equal(t, 1, counter.Used())
}

func TestRun_ScriptCanReshapeProxiedData(t *testing.T) {
	surface, _ := testSurface(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []any{
				map[string]any{"id": "m1"},
				map[string]any{"id": "m2"},
			},
		})
	})
	runner := NewVMRunner()

	script := `
		const page = await read('/messages');
		return page.messages.map(m => m.id).join(',');
	`
	value, err := runner.Run(context.Background(), "s1", script, surface, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "m1,m2", value)
}

func TestRun_ThrownErrorBecomesExecutionError(t *testing.T) {
	runner := NewVMRunner()

	_, err := runner.Run(context.Background(), "s1", "throw new Error('boom')", noCallSurface(t), time.Second)

	var execErr *errdefs.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, errdefs.CodeScriptThrew, execErr.Code)
	assert.Contains(t, execErr.Message, "boom")
}

func TestRun_SyntaxErrorBecomesExecutionError(t *testing.T) {
	runner := NewVMRunner()

	_, err := runner.Run(context.Background(), "s1", "return ][", noCallSurface(t), time.Second)

	var execErr *errdefs.ExecutionError
	require.ErrorAs(t, err, &execErr)
}

func TestRun_TypedCapabilityErrorsPassThrough(t *testing.T) {
	surface, _ := testSurface(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	})
	runner := NewVMRunner()

	_, err := runner.Run(context.Background(), "s1", "return await read('/messages')", surface, time.Second)

	var apiErr *errdefs.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestRun_BusyLoopHitsTimeout(t *testing.T) {
	runner := NewVMRunner()

	start := time.Now()
	_, err := runner.Run(context.Background(), "s1", "while (true) {}", noCallSurface(t), 100*time.Millisecond)
	elapsed := time.Since(start)

	var timeoutErr *errdefs.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 100*time.Millisecond, timeoutErr.Duration)
	assert.Less(t, elapsed, time.Second, "caller must stop waiting at the budget")
}

func TestRun_UnresolvablePromiseHitsTimeout(t *testing.T) {
	runner := NewVMRunner()

	_, err := runner.Run(context.Background(), "s1", "return await new Promise(() => {})", noCallSurface(t), 100*time.Millisecond)

	var timeoutErr *errdefs.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
}

func TestRun_NoStateLeaksBetweenUnits(t *testing.T) {
	runner := NewVMRunner()
	script := "globalThis.counter = (globalThis.counter || 0) + 1; return globalThis.counter"

	for i := 0; i < 2; i++ {
		value, err := runner.Run(context.Background(), "s1", script, noCallSurface(t), time.Second)
		require.NoError(t, err)
		assert.EqualValues(t, 1, value, "each run must start from a fresh unit")
	}
}

func TestRun_ConsoleDoesNotAffectResult(t *testing.T) {
	runner := NewVMRunner()

	value, err := runner.Run(context.Background(), "s1", "console.log('checking', 123); return 'done'", noCallSurface(t), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "done", value)
}
