package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectivity is returned when a request cannot complete: transport
	// failures, timeouts and 5xx responses to reads after the retries ran out.
	ErrConnectivity = errors.New("ledger unreachable")
	// ErrMalformedResponse is returned when a response body is not what the
	// endpoint is documented to return.
	ErrMalformedResponse = errors.New("malformed ledger response")
)

// APIError is a ledger rejection. Message is the ledger's own text when the
// body carried one.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ledger rejected request with status %d", e.Status)
	}
	return fmt.Sprintf("ledger rejected request with status %d: %s", e.Status, e.Message)
}
