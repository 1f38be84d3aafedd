package gateway

import (
	"errors"
	"fmt"

	"github.com/inboxd/mailcode/pkg/errdefs"
)

// Guidance is the fixed title/detail/hint triple shown to the user for a
// failed execution. It never contains stack traces or payload content.
type Guidance struct {
	Title  string
	Detail string
	Hint   string
}

// Describe maps a failure to its user-facing guidance. The switch is
// exhaustive over errdefs.ErrorKind; adding a kind forces a change here.
func Describe(err error) Guidance {
	switch errdefs.Kind(err) {
	case errdefs.KindAPIError:
		var apiErr *errdefs.APIError
		errors.As(err, &apiErr)
		if apiErr.StatusCode == 401 {
			return Guidance{
				Title:  "Mailbox connection expired",
				Detail: "The mailbox provider rejected the stored credential.",
				Hint:   "Reconnect the account and try again.",
			}
		}
		return Guidance{
			Title:  "Mailbox request failed",
			Detail: fmt.Sprintf("The mailbox API returned status %d.", apiErr.StatusCode),
			Hint:   "Try again, or simplify the request.",
		}
	case errdefs.KindSessionExpired:
		return Guidance{
			Title:  "Account disconnected",
			Detail: "The saved sign-in for this account is no longer valid.",
			Hint:   "Reconnect the account to continue.",
		}
	case errdefs.KindTimeout:
		return Guidance{
			Title:  "The action took too long",
			Detail: "The script did not finish within its time budget.",
			Hint:   "Narrow the request and try again.",
		}
	case errdefs.KindExecutionError:
		var execErr *errdefs.ExecutionError
		if errors.As(err, &execErr) && execErr.Code == errdefs.CodeQuotaExceeded {
			return Guidance{
				Title:  "Too many mailbox calls",
				Detail: "The script tried to make more remote calls than allowed in one turn.",
				Hint:   "Narrow the request so it needs fewer calls.",
			}
		}
		return Guidance{
			Title:  "The last action failed",
			Detail: "The script could not be run to completion.",
			Hint:   "Rephrase the request and try again.",
		}
	default:
		// Unreachable while ErrorKind stays closed.
		return Guidance{Title: "The last action failed"}
	}
}
