package model

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrorKind discriminates the failures a public operation can report.
// Timeouts are deliberately absent: a timed-out wait is a result, not an error.
type ErrorKind string

const (
	KindConversationUnsaved ErrorKind = "conversation_unsaved"
	KindUnauthorized        ErrorKind = "unauthorized"
	KindForbidden           ErrorKind = "forbidden"
	KindPluginDisabled      ErrorKind = "plugin_disabled"
	KindInvocationFailed    ErrorKind = "invocation_failed"
	KindConflict            ErrorKind = "conflict"
	KindNotFound            ErrorKind = "not_found"
	KindRequestFailed       ErrorKind = "request_failed"
	KindRunFailed           ErrorKind = "run_failed"
	KindUploadFailed        ErrorKind = "upload_failed"
	KindStaleUpload         ErrorKind = "stale_upload"
	KindTransport           ErrorKind = "transport"
	KindContractViolation   ErrorKind = "contract_violation"
)

// MaxBodyPreview caps how much of a response body is kept for diagnostics.
const MaxBodyPreview = 500

// Error is the typed failure returned across every public boundary.
type Error struct {
	Kind       ErrorKind
	StatusCode int    // 0 when no HTTP response was received
	Message    string // human-readable, safe to show to an end user
	Body       string // truncated response body, if any
	Err        error  // underlying cause, if any
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (%d)", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Body != "" && e.Body != e.Message {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Hint returns an actionable suggestion for authorization failures.
func (e *Error) Hint() string {
	switch e.Kind {
	case KindConversationUnsaved:
		return "save the conversation before running workbench actions"
	case KindUnauthorized:
		return "sign in again; the credential was rejected"
	case KindForbidden:
		return "your account is not allowed to run this action"
	case KindPluginDisabled:
		return "enable the plugin for this workspace and retry"
	case KindConflict:
		return "the data changed since it was loaded; reload and retry"
	default:
		return ""
	}
}

// NewError builds an *Error with a truncated body preview.
func NewError(kind ErrorKind, status int, message string, body []byte) *Error {
	return &Error{
		Kind:       kind,
		StatusCode: status,
		Message:    message,
		Body:       TruncateBody(body),
	}
}

// TruncateBody returns at most MaxBodyPreview characters of body.
func TruncateBody(body []byte) string {
	if utf8.RuneCount(body) <= MaxBodyPreview {
		return string(body)
	}
	runes := []rune(string(body))
	return string(runes[:MaxBodyPreview]) + "…"
}

// ErrConversationUnsaved is returned before any network call when the caller
// has no durable conversation to anchor the run to.
var ErrConversationUnsaved = &Error{
	Kind:    KindConversationUnsaved,
	Message: "conversation must be saved before invoking an action",
}

// KindOf returns the ErrorKind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsUnauthorized returns true if the error is a 401.
func IsUnauthorized(err error) bool { return IsKind(err, KindUnauthorized) }

// IsForbidden returns true for 403s, including plugin-scoped ones.
func IsForbidden(err error) bool {
	k := KindOf(err)
	return k == KindForbidden || k == KindPluginDisabled
}

// IsConflict returns true if the error is a 409.
func IsConflict(err error) bool { return IsKind(err, KindConflict) }
