// Package api holds wire types shared by the client and the CLI.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ErrorResponse is the error envelope returned with non-2xx statuses. Both the
// legacy form {"error":"IndexMissingException[...]","status":404} and the
// structured form {"error":{"type":...,"reason":...},"status":404} decode
// into it.
type ErrorResponse struct {
	// Message holds the legacy string error.
	Message string `json:"-"`
	// Type is the structured error type, e.g. index_not_found_exception.
	Type string `json:"-"`
	// Reason is the structured error reason.
	Reason string `json:"-"`
	// RootCause lists the underlying causes reported by the server.
	RootCause []ErrorCause `json:"-"`
	// Status mirrors the HTTP status embedded in the body.
	Status int `json:"-"`
}

// ErrorCause is one entry of a structured root_cause list.
type ErrorCause struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
	Index  string `json:"index,omitempty"`
}

type errorEnvelope struct {
	Error  json.RawMessage `json:"error"`
	Status int             `json:"status"`
}

type structuredError struct {
	Type      string       `json:"type"`
	Reason    string       `json:"reason"`
	RootCause []ErrorCause `json:"root_cause,omitempty"`
}

// UnmarshalJSON accepts both error envelope shapes.
func (e *ErrorResponse) UnmarshalJSON(data []byte) error {
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	*e = ErrorResponse{Status: env.Status}
	raw := bytes.TrimSpace(env.Error)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	switch raw[0] {
	case '"':
		return json.Unmarshal(raw, &e.Message)
	case '{':
		var se structuredError
		if err := json.Unmarshal(raw, &se); err != nil {
			return err
		}
		e.Type = se.Type
		e.Reason = se.Reason
		e.RootCause = se.RootCause
		return nil
	default:
		return fmt.Errorf("api: unexpected error field %s", raw)
	}
}

// MarshalJSON writes the structured form when a type or reason is set and
// the legacy string form otherwise.
func (e ErrorResponse) MarshalJSON() ([]byte, error) {
	env := struct {
		Error  any `json:"error,omitempty"`
		Status int `json:"status,omitempty"`
	}{Status: e.Status}
	switch {
	case e.Type != "" || e.Reason != "" || len(e.RootCause) > 0:
		env.Error = structuredError{Type: e.Type, Reason: e.Reason, RootCause: e.RootCause}
	case e.Message != "":
		env.Error = e.Message
	}
	return json.Marshal(env)
}

// Empty reports whether the envelope carried no error detail.
func (e ErrorResponse) Empty() bool {
	return e.Message == "" && e.Type == "" && e.Reason == ""
}

// Summary renders a single-line description of the error.
func (e ErrorResponse) Summary() string {
	switch {
	case e.Type != "" && e.Reason != "":
		return e.Type + ": " + e.Reason
	case e.Type != "":
		return e.Type
	case e.Reason != "":
		return e.Reason
	default:
		return strings.TrimSpace(e.Message)
	}
}

// BulkAction names a bulk command.
type BulkAction string

// Bulk actions understood by the server.
const (
	BulkIndex  BulkAction = "index"
	BulkCreate BulkAction = "create"
	BulkUpdate BulkAction = "update"
	BulkDelete BulkAction = "delete"
)

// Valid reports whether a is a known bulk action.
func (a BulkAction) Valid() bool {
	switch a {
	case BulkIndex, BulkCreate, BulkUpdate, BulkDelete:
		return true
	default:
		return false
	}
}

// HasSource reports whether the action is followed by a payload line.
func (a BulkAction) HasSource() bool {
	return a != BulkDelete
}
