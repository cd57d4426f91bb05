package push

import (
	"errors"
	"fmt"

	"github.com/target/fleetpush/internal/domain/model"
)

// Kind is the provider-independent failure class of a push call.
type Kind string

const (
	// KindTransient failures may succeed on another provider or later.
	KindTransient Kind = "transient"
	// KindPermanent failures will not succeed by retrying the same message.
	KindPermanent Kind = "permanent"
	// KindInvalidTarget means the registered token or channel is stale or revoked.
	KindInvalidTarget Kind = "invalid_target"
)

// Error is a classified provider failure.
type Error struct {
	Kind       Kind
	Provider   string
	Code       string
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s): %s", e.Provider, e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// ErrorClass implements the observability Classed interface.
func (e *Error) ErrorClass() string { return "push_" + string(e.Kind) }

// Transient builds a KindTransient error.
func Transient(provider, code string, status int, msg string, cause error) *Error {
	return &Error{Kind: KindTransient, Provider: provider, Code: code, StatusCode: status, Message: msg, Cause: cause}
}

// Permanent builds a KindPermanent error.
func Permanent(provider, code string, status int, msg string, cause error) *Error {
	return &Error{Kind: KindPermanent, Provider: provider, Code: code, StatusCode: status, Message: msg, Cause: cause}
}

// InvalidTarget builds a KindInvalidTarget error.
func InvalidTarget(provider, code string, status int, msg string) *Error {
	return &Error{Kind: KindInvalidTarget, Provider: provider, Code: code, StatusCode: status, Message: msg}
}

// Classify maps any send error onto a Kind. Errors that are not *Error (network failures,
// context deadlines, transport bugs) count as transient so the fallback chain still runs.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

// Outcome normalizes a send error into the recorded attempt outcome.
func Outcome(err error) model.PushOutcome {
	switch Classify(err) {
	case "":
		return model.PushOutcomeDelivered
	case KindInvalidTarget:
		return model.PushOutcomeTokenInvalid
	case KindPermanent:
		return model.PushOutcomeRejected
	default:
		return model.PushOutcomeTransientError
	}
}

// ErrorCode returns the provider error code carried by err, or a generic code for its kind.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) && pe.Code != "" {
		return pe.Code
	}
	switch Classify(err) {
	case KindInvalidTarget:
		return model.ErrCodeInvalidTarget
	case KindPermanent:
		return model.ErrCodeProviderPermanent
	default:
		return model.ErrCodeProviderTransient
	}
}

// ClassifyHTTP is the default status-code taxonomy shared by the HTTP providers.
// 404 and 410 mean the token is gone, 429 and 5xx are retryable, other 4xx are permanent.
func ClassifyHTTP(provider string, status int, code, msg string) *Error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 404 || status == 410:
		return InvalidTarget(provider, code, status, msg)
	case status == 408 || status == 429 || status >= 500:
		return Transient(provider, code, status, msg, nil)
	default:
		return Permanent(provider, code, status, msg, nil)
	}
}
