package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"pkt.systems/esclient/api"
	"pkt.systems/esclient/request"
)

var (
	// ErrInvalidArguments is returned synchronously when an operation is
	// called with a malformed shape. It is the same value as
	// request.ErrInvalidArguments.
	ErrInvalidArguments = request.ErrInvalidArguments
	// ErrTransport classifies connection failures and timeouts.
	ErrTransport = errors.New("esclient: transport error")
	// ErrAlreadyDispatched is returned by Execute on a call that has already
	// been dispatched, including every call created with a handler.
	ErrAlreadyDispatched = errors.New("esclient: call already dispatched")
)

// TransportError reports a request that never produced an HTTP response.
type TransportError struct {
	// Op is the operation name.
	Op string
	// Method and Path identify the request.
	Method string
	Path   string
	// Err is the last error observed across all endpoints.
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("esclient: %s %s %s: %v", e.Op, e.Method, e.Path, e.Err)
}

// Unwrap exposes the underlying transport error.
func (e *TransportError) Unwrap() error { return e.Err }

// Is reports whether target is ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// RemoteError describes a non-2xx response from the search engine.
type RemoteError struct {
	// Status is the HTTP status code returned by the server.
	Status int
	// Response is the decoded error envelope, when the body carried one.
	Response api.ErrorResponse
	// Body contains the raw response body, unmodified.
	Body []byte
}

func (e *RemoteError) Error() string {
	if summary := e.Response.Summary(); summary != "" {
		return fmt.Sprintf("esclient: status %d: %s", e.Status, summary)
	}
	return fmt.Sprintf("esclient: status %d %s", e.Status, http.StatusText(e.Status))
}

// NotFound reports whether the server answered 404.
func (e *RemoteError) NotFound() bool {
	return e != nil && e.Status == http.StatusNotFound
}

// decodeRemoteError keeps the raw body even when it is not an error envelope.
func decodeRemoteError(status int, data []byte) *RemoteError {
	remote := &RemoteError{Status: status, Body: data}
	if len(data) > 0 {
		var envelope api.ErrorResponse
		if err := json.Unmarshal(data, &envelope); err == nil {
			remote.Response = envelope
		}
	}
	return remote
}
