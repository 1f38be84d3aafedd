package capability

import (
	"fmt"
	"sync/atomic"

	"github.com/inboxd/mailcode/pkg/errdefs"
)

// CallCounter meters remote calls for one execution. It is created at
// execution start, passed by pointer into the capability closures, and
// discarded with them. The increment is atomic, so scripts that fan out
// concurrent calls cannot slip past the cap.
type CallCounter struct {
	used  atomic.Int64
	limit int64
}

// NewCallCounter creates a counter allowing at most limit calls.
func NewCallCounter(limit int) *CallCounter {
	return &CallCounter{limit: int64(limit)}
}

// Take reserves one call slot. It must be called before any network I/O for
// the call it meters; over the cap it fails and the call issues no traffic.
func (c *CallCounter) Take() error {
	if n := c.used.Add(1); n > c.limit {
		return &errdefs.ExecutionError{
			Code:    errdefs.CodeQuotaExceeded,
			Message: fmt.Sprintf("quota of %d remote calls per run exceeded", c.limit),
		}
	}
	return nil
}

// Used reports how many call slots have been taken, capped reservations included.
func (c *CallCounter) Used() int {
	return int(c.used.Load())
}
