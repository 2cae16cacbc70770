package relay

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failed tool call.
type Kind string

const (
	KindValidation Kind = "VALIDATION"
	KindRejected   Kind = "REJECTED"
	KindTimeout    Kind = "TIMEOUT"
	KindRemote     Kind = "REMOTE"
	KindTransport  Kind = "TRANSPORT"
)

// Error is the structured failure returned by every tool-facing operation.
type Error struct {
	Kind    Kind
	Tool    string
	ID      string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrTimeout) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrValidation = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrRejected   = &Error{Kind: KindRejected, Message: "rejected"}
	ErrTimeout    = &Error{Kind: KindTimeout, Message: timeoutMessage}
	ErrRemote     = &Error{Kind: KindRemote, Message: "remote error"}
	ErrTransport  = &Error{Kind: KindTransport, Message: "transport error"}
)

const timeoutMessage = "agent did not respond - timeout"

// ErrorMarker anywhere in agent output reports a failure.
const ErrorMarker = "[ERROR]"

func Validationf(tool, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Tool: tool, Message: fmt.Sprintf(format, args...)}
}

func Rejected(tool, id, message string) *Error {
	if message == "" {
		message = "operation was rejected by user"
	}
	return &Error{Kind: KindRejected, Tool: tool, ID: id, Message: message}
}

func Timeout(tool, id string) *Error {
	return &Error{Kind: KindTimeout, Tool: tool, ID: id, Message: timeoutMessage}
}

func Remote(tool, id, message string) *Error {
	return &Error{Kind: KindRemote, Tool: tool, ID: id, Message: message}
}

func Transport(tool string, err error) *Error {
	return &Error{Kind: KindTransport, Tool: tool, Message: err.Error()}
}

// KindOf reports the Kind of err. Errors that are not *Error count as transport failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransport
}

// Classify turns a raw agent payload into output or a RemoteError.
func Classify(tool, id, payload string) (string, error) {
	idx := strings.Index(payload, ErrorMarker)
	if idx < 0 {
		return payload, nil
	}
	rest := strings.TrimLeft(payload[idx+len(ErrorMarker):], " \t\r\n")
	return "", Remote(tool, id, strings.TrimSpace(payload[:idx]+rest))
}
