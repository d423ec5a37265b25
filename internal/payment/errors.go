package payment

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrUnavailable is the cause used when the processor cannot be reached.
var ErrUnavailable = errors.New("payment provider unavailable")

// ExternalServiceError reports that the processor could not complete a
// call at all. It says nothing about whether the customer can pay.
type ExternalServiceError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *ExternalServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Reason)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// asExternal normalizes any gateway error into *ExternalServiceError.
func asExternal(provider, op string, err error) error {
	var extErr *ExternalServiceError
	if errors.As(err, &extErr) {
		return err
	}
	return &ExternalServiceError{Provider: provider, Reason: op + " failed", Err: err}
}
