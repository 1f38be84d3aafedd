package sandbox

import (
	"context"
	"time"

	"github.com/inboxd/mailcode/pkg/capability"
)

// Runner is a pluggable interface for script execution backends.
// Implementations run one model-authored script in an isolated unit with the
// capability surface as its only way out.
type Runner interface {
	// Run executes code and returns its resolved value. The unit is
	// single-use: no state survives into a later Run. timeout bounds the
	// caller's wait, not the unit itself.
	Run(ctx context.Context, sessionID, code string, surface *capability.Surface, timeout time.Duration) (any, error)
}
