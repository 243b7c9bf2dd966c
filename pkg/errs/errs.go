package errs

import (
	"errors"
	"fmt"
)

// Kind classifies gateway errors. Client-facing kinds double as the
// "error" field of JSON error bodies; classifier kinds never leave the
// process and degrade to a frontier route instead.
type Kind string

const (
	KindUnauthorized         Kind = "unauthorized"
	KindInvalidRequest       Kind = "invalid_request"
	KindMissingModel         Kind = "missing_model"
	KindMissingDeployment    Kind = "missing_deployment"
	KindUpstreamError        Kind = "upstream_error"
	KindProviderNotSupported Kind = "provider_not_supported"
	KindInternal             Kind = "internal_error"

	// Internal classifier failure kinds.
	KindClassifierError Kind = "classifier_error"
	KindNoDecision      Kind = "no_decision"
	KindTimeout         Kind = "timeout"
	KindModelLoading    Kind = "model_loading"
)

// Error is a Kind-coded gateway error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind with a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsTimeout reports whether err is a classifier timeout.
func IsTimeout(err error) bool { return Is(err, KindTimeout) }

// IsModelLoading reports whether err is an upstream model-loading condition.
func IsModelLoading(err error) bool { return Is(err, KindModelLoading) }

// IsNoDecision reports whether the classifier produced no usable digit.
func IsNoDecision(err error) bool { return Is(err, KindNoDecision) }
