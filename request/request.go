// Package request turns search operations into transport-neutral request
// descriptors.
//
// Every builder validates its identifiers and encodes the body up front, so a
// malformed call fails here with an error matching ErrInvalidArguments and
// never reaches the network. The client package dispatches the resulting
// Descriptor; nothing in this package performs I/O.
package request

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Operation names recorded on every Descriptor.
const (
	OpIndex          = "index"
	OpGet            = "get"
	OpMultiget       = "multiget"
	OpUpdate         = "update"
	OpSearch         = "search"
	OpBulk           = "bulk"
	OpCount          = "count"
	OpPercolate      = "percolate"
	OpPercolator     = "percolator"
	OpMoreLikeThis   = "moreLikeThis"
	OpDeleteDocument = "deleteDocument"
	OpDeleteByQuery  = "deleteByQuery"
	OpRaw            = "raw"
)

const (
	// ContentTypeJSON is used for every JSON request body.
	ContentTypeJSON = "application/json"
	// ContentTypeNDJSON is used for bulk bodies.
	ContentTypeNDJSON = "application/x-ndjson"
)

// ErrInvalidArguments classifies every builder failure.
var ErrInvalidArguments = errors.New("esclient: invalid arguments")

// ArgumentError describes a call shape the builder rejected.
type ArgumentError struct {
	// Op is the operation being built.
	Op string
	// Field names the offending argument.
	Field string
	// Reason is a short human-readable explanation.
	Reason string
}

func (e *ArgumentError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("esclient: %s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("esclient: %s: invalid %s: %s", e.Op, e.Field, e.Reason)
}

// Is reports whether target is ErrInvalidArguments.
func (e *ArgumentError) Is(target error) bool {
	return target == ErrInvalidArguments
}

func invalid(op, field, reason string) error {
	return &ArgumentError{Op: op, Field: field, Reason: reason}
}

// Descriptor is the canonical form of a single HTTP call against the search
// engine. It is built fresh for every call and never reused.
type Descriptor struct {
	// Op is the operation name (one of the Op* constants).
	Op string
	// Method is GET, POST, PUT or DELETE.
	Method string
	// Path holds the unescaped path segments in order: index, type, id, action.
	Path []string
	// Query carries options rendered into the query string.
	Query url.Values
	// Body is the encoded request body, nil for bodiless calls.
	Body []byte
	// ContentType describes Body; empty when Body is nil.
	ContentType string
}

// URLPath renders Path as an escaped absolute URL path.
func (d Descriptor) URLPath() string {
	if len(d.Path) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, seg := range d.Path {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(seg))
	}
	return b.String()
}

// RequestURI renders the path plus the encoded query string.
func (d Descriptor) RequestURI() string {
	p := d.URLPath()
	if len(d.Query) > 0 {
		p += "?" + d.Query.Encode()
	}
	return p
}

// Validate checks a Descriptor assembled outside of the builders.
func (d Descriptor) Validate() error {
	op := d.Op
	if op == "" {
		op = OpRaw
	}
	switch d.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return invalid(op, "method", fmt.Sprintf("unsupported method %q", d.Method))
	}
	for i, seg := range d.Path {
		if strings.TrimSpace(seg) == "" {
			return invalid(op, "path", fmt.Sprintf("segment %d is empty", i))
		}
	}
	if len(d.Body) > 0 && d.ContentType == "" {
		return invalid(op, "content type", "body without content type")
	}
	return nil
}

// WithOptions returns a copy of d with opts merged into its query string.
// Options override query parameters of the same name.
func (d Descriptor) WithOptions(opts Options) (Descriptor, error) {
	op := d.Op
	if op == "" {
		op = OpRaw
	}
	extra, err := opts.encode(op)
	if err != nil {
		return Descriptor{}, err
	}
	if len(extra) == 0 {
		return d, nil
	}
	merged := make(url.Values, len(d.Query)+len(extra))
	for k, v := range d.Query {
		merged[k] = append([]string(nil), v...)
	}
	for k, v := range extra {
		merged[k] = v
	}
	d.Query = merged
	return d, nil
}

// Raw builds a Descriptor from a free-form path such as "/twitter/_refresh".
// A non-nil body is encoded the same way the typed builders encode theirs.
func Raw(method, path string, body any, opts Options) (Descriptor, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	query, err := opts.encode(OpRaw)
	if err != nil {
		return Descriptor{}, err
	}
	raw, err := encodeBody(OpRaw, "body", body)
	if err != nil {
		return Descriptor{}, err
	}
	desc := Descriptor{
		Op:     OpRaw,
		Method: method,
		Path:   splitPath(path),
		Query:  query,
		Body:   raw,
	}
	if raw != nil {
		desc.ContentType = ContentTypeJSON
	}
	if err := desc.Validate(); err != nil {
		return Descriptor{}, err
	}
	return desc, nil
}

func splitPath(p string) []string {
	parts := strings.Split(strings.Trim(strings.TrimSpace(p), "/"), "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		if unescaped, err := url.PathUnescape(part); err == nil {
			part = unescaped
		}
		out = append(out, part)
	}
	return out
}

// segments joins path components, eliding empty optional ones.
func segments(parts ...string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func required(op, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalid(op, field, "required")
	}
	return nil
}

// encodeBody marshals v as compact JSON. []byte and json.RawMessage values are
// taken verbatim after a validity check.
func encodeBody(op, field string, v any) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return rawJSON(op, field, b)
	case []byte:
		return rawJSON(op, field, b)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, invalid(op, field, err.Error())
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func rawJSON(op, field string, b []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return nil, invalid(op, field, "empty JSON document")
	}
	if !json.Valid(trimmed) {
		return nil, invalid(op, field, "malformed JSON document")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, invalid(op, field, err.Error())
	}
	return buf.Bytes(), nil
}

func requiredBody(op, field string, v any) ([]byte, error) {
	body, err := encodeBody(op, field, v)
	if err != nil {
		return nil, err
	}
	if body == nil || bytes.Equal(body, []byte("null")) {
		return nil, invalid(op, field, "required")
	}
	return body, nil
}
