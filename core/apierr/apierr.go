/*
Package apierr provides the error taxonomy of the REST API and renders errors as
structured JSON bodies.

Every error body has the form

	{"error": "validation_error", "detail": "...", "fields": {"title": ["..."]}}

where fields is only present for validation errors.
*/
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/goccy/go-json"
)

// Kind classifies an API error
type Kind string

// the error kinds
const (
	KindValidation       Kind = "validation_error"
	KindAuthentication   Kind = "authentication_failed"
	KindPermission       Kind = "permission_denied"
	KindNotFound         Kind = "not_found"
	KindMethodNotAllowed Kind = "method_not_allowed"
	KindInternal         Kind = "internal_error"
)

// Fields maps a field name to its validation messages
type Fields map[string][]string

// Add appends a message for field
func (f Fields) Add(field, message string) {
	f[field] = append(f[field], message)
}

// Merge adds all messages of other, prefixing the field names with prefix if it is not empty
func (f Fields) Merge(prefix string, other Fields) {
	for field, messages := range other {
		name := field
		if prefix != "" {
			name = prefix + "." + field
		}
		f[name] = append(f[name], messages...)
	}
}

// Names returns the sorted field names
func (f Fields) Names() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Error is an error which is returned to the API caller
type Error struct {
	Kind   Kind   `json:"error"`
	Status int    `json:"-"`
	Detail string `json:"detail"`
	Fields Fields `json:"fields,omitempty"`
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	s := fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	for _, name := range e.Fields.Names() {
		s += fmt.Sprintf(" [%s: %v]", name, e.Fields[name])
	}
	return s
}

// Validation returns a validation error with the given per-field messages
func Validation(fields Fields) *Error {
	return &Error{Kind: KindValidation, Status: http.StatusBadRequest, Detail: "invalid input", Fields: fields}
}

// FieldError returns a validation error for a single field
func FieldError(field, format string, a ...interface{}) *Error {
	return Validation(Fields{field: {fmt.Sprintf(format, a...)}})
}

// BadRequest returns a validation error which is not tied to a field
func BadRequest(format string, a ...interface{}) *Error {
	return &Error{Kind: KindValidation, Status: http.StatusBadRequest, Detail: fmt.Sprintf(format, a...)}
}

// Authentication returns an authentication error
func Authentication(detail string) *Error {
	return &Error{Kind: KindAuthentication, Status: http.StatusUnauthorized, Detail: detail}
}

// Permission returns a permission error
func Permission(detail string) *Error {
	return &Error{Kind: KindPermission, Status: http.StatusForbidden, Detail: detail}
}

// NotFound returns a not found error. It is also used for records which exist but
// are not visible to the caller.
func NotFound() *Error {
	return &Error{Kind: KindNotFound, Status: http.StatusNotFound, Detail: "not found"}
}

// Internal returns an internal error. The code is the only detail exposed to the caller,
// the cause is logged by the handler.
func Internal(code string) *Error {
	return &Error{Kind: KindInternal, Status: http.StatusInternalServerError, Detail: code}
}

// As returns err as *Error if it is one
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsKind returns true if err is an API error of the given kind
func IsKind(err error, kind Kind) bool {
	apiErr, ok := As(err)
	return ok && apiErr.Kind == kind
}

// Write writes err as structured JSON response. Errors which are not API errors are
// rendered as internal errors.
func Write(w http.ResponseWriter, err error) {
	apiErr, ok := As(err)
	if !ok {
		apiErr = Internal("internal error")
	}
	body, _ := json.MarshalWithOption(apiErr, json.DisableHTMLEscape())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if apiErr.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	}
	w.WriteHeader(apiErr.Status)
	w.Write(body)
}

// NotFoundHandler renders not_found for unknown routes
func NotFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Write(w, NotFound())
	})
}

// MethodNotAllowedHandler renders method_not_allowed for known routes with an unsupported method
func MethodNotAllowedHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Write(w, &Error{Kind: KindMethodNotAllowed, Status: http.StatusMethodNotAllowed,
			Detail: fmt.Sprintf("method %s not allowed", r.Method)})
	})
}
