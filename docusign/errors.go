package docusign

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized signals the backend rejected the bearer credential.
	ErrUnauthorized = errors.New("docusign: unauthorized")
	// ErrTransport wraps network-level failures reaching the backend.
	ErrTransport = errors.New("docusign: transport failure")
)

// RemoteError is returned when the backend answers with success=false.
type RemoteError struct {
	Op      string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("docusign: %s rejected by backend", e.Op)
	}
	return fmt.Sprintf("docusign: %s rejected by backend: %s", e.Op, e.Message)
}

// UnexpectedStatusError is returned for a non-2xx response whose body did
// not carry a decodable {success,data} envelope.
type UnexpectedStatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("docusign: unexpected status: %s %s -> %d body=%q", e.Method, e.Path, e.Code, e.Body)
}
