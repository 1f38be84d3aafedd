package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/inboxd/mailcode/pkg/capability"
	"github.com/inboxd/mailcode/pkg/errdefs"
)

// VMRunner executes scripts in a fresh goja interpreter per run. The VM gets
// exactly three globals: the two capability verbs and a console shim. No
// filesystem, no ambient network, no caller state.
type VMRunner struct{}

// NewVMRunner creates the in-process script runner.
func NewVMRunner() *VMRunner {
	return &VMRunner{}
}

var _ Runner = (*VMRunner)(nil)

type outcome struct {
	value   any
	err     error
	pending bool
}

// Run executes code inside a disposable VM and returns its resolved value.
// On timeout the VM is interrupted best-effort and abandoned; the caller
// stops waiting either way.
func (r *VMRunner) Run(ctx context.Context, sessionID, code string, surface *capability.Surface, timeout time.Duration) (any, error) {
	// One unit per execution, never reused: identity is session + moment.
	unitID := fmt.Sprintf("%s-%d-%s", sessionID, time.Now().UnixMilli(), uuid.NewString()[:8])

	vm := goja.New()

	// Inject console so the model can debug its own code.
	_ = vm.Set("console", console(unitID))

	// The capability closures carry the credential on the host side; the
	// token itself never appears as a VM value.
	_ = vm.Set("read", surface.Read)
	_ = vm.Set("write", surface.Write)

	// Wrap the submitted body in an async IIFE so top-level return and
	// await both work.
	wrapped := "(async () => {\n" + code + "\n})()"

	results := make(chan outcome, 1)
	go func() {
		v, err := vm.RunString(wrapped)
		if err != nil {
			results <- outcome{err: normalizeRunError(err, timeout)}
			return
		}
		results <- settle(v)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-results:
		if out.pending {
			// The script awaits a promise nothing can resolve. Hold
			// the caller to the budget, then give up on the unit.
			slog.Debug("Script left a pending promise", "unit", unitID)
			select {
			case <-timer.C:
			case <-ctx.Done():
			}
			return nil, &errdefs.TimeoutError{Duration: timeout}
		}
		return out.value, out.err
	case <-timer.C:
		vm.Interrupt("execution timed out")
		return nil, &errdefs.TimeoutError{Duration: timeout}
	case <-ctx.Done():
		vm.Interrupt("execution canceled")
		return nil, &errdefs.TimeoutError{Duration: timeout}
	}
}

// settle reads the async wrapper's promise. Because every await in the
// sandbox resolves synchronously on the host side, the promise is settled by
// the time RunString returns unless the script built one that never can be.
func settle(v goja.Value) outcome {
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		return outcome{value: v.Export()}
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return outcome{value: p.Result().Export()}
	case goja.PromiseStateRejected:
		return outcome{err: normalizeThrown(p.Result())}
	default:
		return outcome{pending: true}
	}
}

// normalizeRunError converts interpreter-level failures into the closed error
// set. Raw goja detail never crosses this boundary.
func normalizeRunError(err error, timeout time.Duration) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return &errdefs.TimeoutError{Duration: timeout}
	}

	var exception *goja.Exception
	if errors.As(err, &exception) {
		return normalizeThrown(exception.Value())
	}

	return &errdefs.ExecutionError{
		Code:    errdefs.CodeScriptThrew,
		Message: err.Error(),
		Line:    lineFromMessage(err.Error()),
	}
}

// normalizeThrown maps a thrown JS value to the error taxonomy. Typed errors
// raised by the capability surface pass through unchanged so the classifier
// can tell an API failure from a script bug.
func normalizeThrown(v goja.Value) error {
	if v == nil {
		return &errdefs.ExecutionError{Code: errdefs.CodeScriptThrew, Message: "script threw an empty value"}
	}

	if thrown := exportedError(v); thrown != nil {
		if isTaxonomyError(thrown) {
			return thrown
		}
		return &errdefs.ExecutionError{Code: errdefs.CodeScriptThrew, Message: thrown.Error()}
	}

	message := v.String()
	if obj, ok := v.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			message = msg.String()
		}
	}

	return &errdefs.ExecutionError{
		Code:    errdefs.CodeScriptThrew,
		Message: message,
		Line:    lineFromMessage(v.String()),
	}
}

// exportedError digs a Go error out of a thrown JS value. Host errors cross
// the boundary either directly or wrapped in a GoError object.
func exportedError(v goja.Value) error {
	if err, ok := v.Export().(error); ok {
		return err
	}
	if obj, ok := v.(*goja.Object); ok {
		if wrapped := obj.Get("value"); wrapped != nil {
			if err, ok := wrapped.Export().(error); ok {
				return err
			}
		}
	}
	return nil
}

func isTaxonomyError(err error) bool {
	var (
		apiErr     *errdefs.APIError
		execErr    *errdefs.ExecutionError
		sessionErr *errdefs.SessionExpiredError
		timeoutErr *errdefs.TimeoutError
	)
	return errors.As(err, &apiErr) || errors.As(err, &execErr) ||
		errors.As(err, &sessionErr) || errors.As(err, &timeoutErr)
}

var linePattern = regexp.MustCompile(`Line (\d+)`)

// lineFromMessage pulls a line number out of a goja compiler message when one
// is present. Runtime throws usually carry none.
func lineFromMessage(message string) int {
	m := linePattern.FindStringSubmatch(message)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}
