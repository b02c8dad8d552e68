package upstream

import (
	"fmt"
	"net/http"
)

// UpstreamError is a failed grant request. For a response from the
// authorization server it carries the server's status and body verbatim;
// transport failures carry status 500 and the failure text.
type UpstreamError struct {
	StatusCode  int
	Body        string
	ContentType string
	Err         error
}

func transportError(err error) *UpstreamError {
	return &UpstreamError{
		StatusCode: http.StatusInternalServerError,
		Body:       err.Error(),
		Err:        err,
	}
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("authorization server returned status %d", e.StatusCode)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Status returns the status and body to relay to the caller.
func (e *UpstreamError) Status() (int, string) {
	return e.StatusCode, e.Body
}

// Transport reports whether the request failed before a response was
// received.
func (e *UpstreamError) Transport() bool {
	return e.Err != nil
}

// UnknownResponseError is a 200 response that does not contain an access
// token.
type UnknownResponseError struct {
	Body        string
	ContentType string
}

func (e *UnknownResponseError) Error() string {
	return "authorization server response did not contain an access token"
}

func (e *UnknownResponseError) Status() (int, string) {
	return http.StatusInternalServerError, e.Body
}
