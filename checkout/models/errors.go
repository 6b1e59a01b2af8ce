package models

import (
	"errors"
	"strings"
)

// ErrorKind classifies every failure a checkout session can surface.
type ErrorKind string

const (
	// KindValidation is local and recoverable; it never reaches the network.
	KindValidation ErrorKind = "validation"
	// KindConfiguration is fatal and requires a redeploy.
	KindConfiguration ErrorKind = "configuration"
	// KindEncryption is fatal for the attempt; the user may retry.
	KindEncryption ErrorKind = "encryption"
	// KindNetwork is recoverable by retrying.
	KindNetwork ErrorKind = "network"
	// KindDeclined is recoverable by retrying with a new nonce.
	KindDeclined ErrorKind = "authorization_declined"
	// KindUnrecognizedNextAction freezes the attempt instead of guessing a state.
	KindUnrecognizedNextAction ErrorKind = "unrecognized_next_action"
	// KindProtocol covers replies that break the charge protocol, e.g. a
	// challenge without a chargeId.
	KindProtocol ErrorKind = "protocol"
)

// Error is the single error type of the checkout flow. Err keeps the
// underlying cause for diagnostics only.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind, and on Code when the target carries one, so
// errors.Is(err, ErrValidation) holds for ErrExpiredCard too.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

var (
	ErrValidation             = &Error{Kind: KindValidation}
	ErrExpiredCard            = &Error{Kind: KindValidation, Code: "expired_card", Message: "card has expired"}
	ErrInvalidExpiry          = &Error{Kind: KindValidation, Code: "invalid_expiry", Message: "invalid expiry date"}
	ErrConfiguration          = &Error{Kind: KindConfiguration}
	ErrEncryption             = &Error{Kind: KindEncryption}
	ErrNetwork                = &Error{Kind: KindNetwork}
	ErrDeclined               = &Error{Kind: KindDeclined}
	ErrUnrecognizedNextAction = &Error{Kind: KindUnrecognizedNextAction}
	ErrProtocol               = &Error{Kind: KindProtocol}
	// ErrRequestRejected is a protocol error whose Message is the backend's
	// own explanation and may be shown to the user.
	ErrRequestRejected        = &Error{Kind: KindProtocol, Code: "request_rejected"}
)

func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or "" when err is not a checkout error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether the user may simply submit again.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindEncryption, KindNetwork, KindDeclined, KindUnrecognizedNextAction, KindProtocol:
		return true
	default:
		return false
	}
}

// UserMessage reduces err to the one message shown to the user. Causes are
// never included.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return "Something went wrong. Please try again."
	}
	switch e.Kind {
	case KindValidation:
		if e.Message != "" {
			return e.Message
		}
		return "Please check your card details."
	case KindConfiguration:
		return "Card payments are unavailable right now."
	case KindEncryption:
		return "We could not secure your card details. Please try again."
	case KindNetwork:
		return "We could not reach the payment service. Please try again."
	case KindDeclined:
		if e.Message != "" {
			return e.Message
		}
		return "Your card was declined. Please try again."
	case KindProtocol:
		if e.Code == ErrRequestRejected.Code && e.Message != "" {
			return e.Message
		}
	}
	return "The payment could not be completed. Please try again."
}

// DeclinedError builds an AuthorizationDeclined error from a failed reply.
func DeclinedError(res MutationResult) *Error {
	msg := strings.TrimSpace(res.Message)
	if msg == "" && len(res.Errors) > 0 {
		msg = strings.Join(res.Errors, "; ")
	}
	return &Error{Kind: KindDeclined, Message: msg}
}
