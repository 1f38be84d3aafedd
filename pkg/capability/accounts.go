package capability

import (
	"fmt"
	"strings"

	"github.com/inboxd/mailcode/pkg/errdefs"
)

// AccountToken is one usable credential the surface can attach to a call.
type AccountToken struct {
	Email string
	Token string
	Label string
}

// resolveAccount picks the credential for a call. With a single connected
// account the selector is ignored entirely; with several, no selector means
// the first account, and an unknown selector is a hard error issued before
// any network I/O.
func resolveAccount(accounts []AccountToken, selector string) (AccountToken, error) {
	if len(accounts) == 0 {
		return AccountToken{}, &errdefs.ExecutionError{
			Code:    errdefs.CodeUnknownAccount,
			Message: "no mailbox accounts are connected",
		}
	}
	if len(accounts) == 1 || selector == "" {
		return accounts[0], nil
	}

	for _, a := range accounts {
		if strings.EqualFold(a.Email, selector) || (a.Label != "" && strings.EqualFold(a.Label, selector)) {
			return a, nil
		}
	}

	return AccountToken{}, &errdefs.ExecutionError{
		Code:    errdefs.CodeUnknownAccount,
		Message: fmt.Sprintf("unknown account %q: use a connected account email or label", selector),
	}
}
