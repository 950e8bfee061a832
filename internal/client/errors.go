package client

import (
	"errors"
	"fmt"
)

// Error kinds returned by collaborator clients
type Kind string

const (
	KindTransient Kind = "transient"
	KindPermanent Kind = "permanent"
)

// Error is the typed failure returned by every collaborator client. Raw
// HTTP details stay inside this package; callers only see the kind.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// IsPermanent reports whether err is a collaborator rejection that no
// amount of retrying will fix. Anything else (timeouts, rate limits,
// 5xx, network errors) counts as transient.
func IsPermanent(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == KindPermanent
	}
	return false
}

func transientErr(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindTransient, Op: op, Message: fmt.Sprintf(format, args...)}
}

func permanentErr(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindPermanent, Op: op, Message: fmt.Sprintf(format, args...)}
}

// classifyStatus maps an HTTP status from a collaborator to an error kind.
// Client-side rejections are permanent; rate limits and server errors are
// worth retrying.
func classifyStatus(op string, status int, body string) *Error {
	kind := KindTransient
	switch {
	case status == 429:
		kind = KindTransient
	case status >= 400 && status < 500:
		kind = KindPermanent
	}
	return &Error{Kind: kind, Op: op, StatusCode: status, Message: body}
}
