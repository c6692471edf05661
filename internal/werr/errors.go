// Package werr provides the widget API's error taxonomy (§7 of the spec):
// ProtocolError, PermissionDenied, CapabilitiesNotNegotiated,
// WidgetDisconnected, WidgetErrorReply, and CollaboratorFailure.
//
// It is adapted from the host application's internal/common/errors package:
// same Code/Message/Err shape and constructor-per-case style, minus the
// HTTPStatus field, since widget errors are never surfaced over HTTP — they
// become an Err(string) response payload sent back to the widget.
package werr

import (
	"errors"
	"fmt"
)

// Code identifies which case of the taxonomy an error belongs to.
type Code string

const (
	CodeProtocolError              Code = "PROTOCOL_ERROR"
	CodePermissionDenied           Code = "PERMISSION_DENIED"
	CodeCapabilitiesNotNegotiated  Code = "CAPABILITIES_NOT_NEGOTIATED"
	CodeWidgetDisconnected         Code = "WIDGET_DISCONNECTED"
	CodeWidgetErrorReply           Code = "WIDGET_ERROR_REPLY"
	CodeCollaboratorFailure        Code = "COLLABORATOR_FAILURE"
)

// Error is a widget-API error carrying a taxonomy code and an optional
// wrapped cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Protocol builds a ProtocolError: an unparseable frame, an unknown
// discriminant, or a response with an untracked header.
func Protocol(message string) *Error {
	return &Error{Code: CodeProtocolError, Message: message}
}

// ProtocolWrap is Protocol with an underlying cause attached.
func ProtocolWrap(message string, err error) *Error {
	return &Error{Code: CodeProtocolError, Message: message, Err: err}
}

// PermissionDenied builds the error surfaced when a request kind isn't
// covered by the approved capability set.
func PermissionDenied(message string) *Error {
	return &Error{Code: CodePermissionDenied, Message: message}
}

// CapabilitiesNotNegotiated builds the error surfaced when a read/send
// request arrives before the session has reached Ready.
func CapabilitiesNotNegotiated() *Error {
	return &Error{Code: CodeCapabilitiesNotNegotiated, Message: "Capabilities have not been negotiated"}
}

// WidgetDisconnected builds the terminal error produced when the transport
// is gone: pending work drains and the session exits.
func WidgetDisconnected() *Error {
	return &Error{Code: CodeWidgetDisconnected, Message: "widget disconnected"}
}

// WidgetErrorReply wraps an error message the widget itself returned in
// response to an outgoing request.
func WidgetErrorReply(message string) *Error {
	return &Error{Code: CodeWidgetErrorReply, Message: message}
}

// CollaboratorFailure wraps a failure from the chat-client collaborator
// (MatrixDriver, EventReader, EventSender).
func CollaboratorFailure(message string, err error) *Error {
	return &Error{Code: CodeCollaboratorFailure, Message: message, Err: err}
}

// IsCode reports whether err is a *Error with the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsWidgetDisconnected reports whether err signals transport loss.
func IsWidgetDisconnected(err error) bool {
	return IsCode(err, CodeWidgetDisconnected)
}
