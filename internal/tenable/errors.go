package tenable

import (
	"errors"
	"fmt"
)

// MaxErrorBody bounds the response body kept on a TransferError.
const MaxErrorBody = 500

// TransferError reports a request that did not produce a 2xx response.
// StatusCode is zero when the request failed before a response arrived.
type TransferError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransferError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	}
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

func (e *TransferError) Unwrap() error { return e.Err }

// IsStatus reports whether err carries a TransferError with the given code.
func IsStatus(err error, code int) bool {
	var te *TransferError
	return errors.As(err, &te) && te.StatusCode == code
}
