package services

import (
	"errors"
	"strings"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrConfiguration = errors.New("configuration error")
	ErrProvider      = errors.New("provider error")
	ErrSafety        = errors.New("safety rejection")
	ErrInvalidImage  = errors.New("invalid image")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// ErrorKind is the short classification carried into logs and API payloads.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindNotFound      ErrorKind = "not_found"
	KindConflict      ErrorKind = "conflict"
	KindConfiguration ErrorKind = "configuration"
	KindProvider      ErrorKind = "provider"
	KindSafety        ErrorKind = "safety"
	KindInvalidImage  ErrorKind = "invalid_image"
	KindTimeout       ErrorKind = "timeout"
	KindTransient     ErrorKind = "transient"
)

var markerKinds = []struct {
	marker error
	kind   ErrorKind
	hint   string
}{
	{ErrValidation, KindValidation, "fix the request payload and resubmit"},
	{ErrNotFound, KindNotFound, "verify the identifier exists"},
	{ErrConflict, KindConflict, "the record changed state; refresh and retry"},
	{ErrConfiguration, KindConfiguration, "check the atelier configuration file"},
	{ErrSafety, KindSafety, "adjust the prompt or enable safety override"},
	{ErrInvalidImage, KindInvalidImage, "provider returned data that is not an image"},
	{ErrProvider, KindProvider, "check provider credentials and availability"},
	{ErrTimeout, KindTimeout, "increase provider.timeout_seconds or retry later"},
	{ErrTransient, KindTransient, "retry the operation"},
}

// Error is a classified failure with component and operation context.
type Error struct {
	Marker    error
	Component string
	Operation string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Marker.Error())
	b.WriteString(": ")
	b.WriteString(buildDetail(e.Component, e.Operation, e.Message))
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Marker}
	}
	return []error{e.Marker, e.Cause}
}

// Wrap builds an error that includes component context while tagging it with
// the provided marker for later classification. The marker should be one of
// the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &Error{
		Marker:    marker,
		Component: strings.TrimSpace(component),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Cause:     err,
	}
}

// ErrorDetails is the flattened view of a classified error used for logging
// and for the message persisted on failed records.
type ErrorDetails struct {
	Kind      ErrorKind
	Operation string
	Message   string
	Hint      string
	Cause     error
}

// Details extracts classification data from err. Unclassified errors report
// the transient kind and their full text as the message.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Kind: KindTransient, Message: strings.TrimSpace(err.Error())}
	for _, entry := range markerKinds {
		if errors.Is(err, entry.marker) {
			details.Kind = entry.kind
			details.Hint = entry.hint
			break
		}
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		details.Operation = svcErr.Operation
		details.Cause = svcErr.Cause
		message := svcErr.Message
		if svcErr.Cause != nil {
			if message != "" {
				message += ": "
			}
			message += svcErr.Cause.Error()
		}
		if message != "" {
			details.Message = message
		}
	}
	return details
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
