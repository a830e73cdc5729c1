package dispatch

import (
	"errors"
	"fmt"
)

// Error represents an engine contract violation.
//
// Contract violations include:
//   - Unknown subscriber: the token is not registered (or not in this round)
//   - Reentrant dispatch: Dispatch called while a round is active
//   - Not dispatching: WaitFor called outside a round
//   - Circular dependency: WaitFor reached a token that is still pending
//
// All of them are programmer errors. They abort the current call and are
// never retried.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Token identifies the offending subscriber, if any.
	Token Token

	// Message is a human-readable description.
	Message string
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeUnknownSubscriber indicates a token that is not currently registered.
	ErrCodeUnknownSubscriber ErrorCode = "UNKNOWN_SUBSCRIBER"

	// ErrCodeReentrantDispatch indicates Dispatch was called during a round.
	ErrCodeReentrantDispatch ErrorCode = "REENTRANT_DISPATCH"

	// ErrCodeNotDispatching indicates WaitFor was called outside a round.
	ErrCodeNotDispatching ErrorCode = "NOT_DISPATCHING"

	// ErrCodeCircularDependency indicates WaitFor observed a pending token.
	ErrCodeCircularDependency ErrorCode = "CIRCULAR_DEPENDENCY"
)

// Sentinels for errors.Is. They match any *Error with the same Code,
// regardless of token or message.
var (
	ErrUnknownSubscriber  = &Error{Code: ErrCodeUnknownSubscriber}
	ErrReentrantDispatch  = &Error{Code: ErrCodeReentrantDispatch}
	ErrNotDispatching     = &Error{Code: ErrCodeNotDispatching}
	ErrCircularDependency = &Error{Code: ErrCodeCircularDependency}
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Token != 0 {
		return fmt.Sprintf("%s: %s (token=%s)", e.Code, e.Message, e.Token)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the ErrorCode of err, or "" if err is not an engine error.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsCycleError returns true if the error is a circular dependency error.
func IsCycleError(err error) bool {
	return CodeOf(err) == ErrCodeCircularDependency
}

// IsUnknownSubscriber returns true if the error is an unknown subscriber error.
func IsUnknownSubscriber(err error) bool {
	return CodeOf(err) == ErrCodeUnknownSubscriber
}

func newUnknownSubscriberError(token Token, msg string) *Error {
	return &Error{
		Code:    ErrCodeUnknownSubscriber,
		Token:   token,
		Message: msg,
	}
}

func newReentrantDispatchError(roundID string) *Error {
	return &Error{
		Code:    ErrCodeReentrantDispatch,
		Message: fmt.Sprintf("cannot dispatch in the middle of round %s", roundID),
	}
}

func newNotDispatchingError() *Error {
	return &Error{
		Code:    ErrCodeNotDispatching,
		Message: "WaitFor must be invoked while dispatching",
	}
}

func newCycleError(token Token) *Error {
	return &Error{
		Code:    ErrCodeCircularDependency,
		Token:   token,
		Message: "circular dependency detected while waiting for subscriber",
	}
}
