package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind tells the receiver how to route an envelope.
type Kind string

const (
	KindNotify       Kind = "notify"
	KindRequest      Kind = "request"
	KindResponse     Kind = "response"
	KindStreamStart  Kind = "stream-start"
	KindStreamChunk  Kind = "stream-chunk"
	KindStreamClose  Kind = "stream-close"
	KindStreamError  Kind = "stream-error"
	KindStreamCancel Kind = "stream-cancel"
)

// Message is the envelope exchanged over a Port.
type Message struct {
	SourceName string          `json:"sourceName"`
	TargetName string          `json:"targetName"`
	Action     string          `json:"action,omitempty"`
	Kind       Kind            `json:"kind"`
	CallbackID int64           `json:"callbackId,omitempty"`
	StreamID   int64           `json:"streamId,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      *WireError      `json:"error,omitempty"`
}

// Exception names understood by hosts.
const (
	PasswordException     = "PasswordException"
	InvalidPDFException   = "InvalidPDFException"
	MissingPDFException   = "MissingPDFException"
	UnknownErrorException = "UnknownErrorException"
	AbortException        = "AbortException"
)

// WireError is an error that survives the trip over a Port.
type WireError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

func (e *WireError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %s (code %d)", e.Name, e.Message, e.Code)
	}
	return e.Name + ": " + e.Message
}

// NewWireError creates a WireError.
func NewWireError(name, message string, code int) *WireError {
	return &WireError{Name: name, Message: message, Code: code}
}

// ToWire converts err for sending. Errors that are not already wire errors
// become UnknownErrorException.
func ToWire(err error) *WireError {
	if err == nil {
		return nil
	}
	var we *WireError
	if errors.As(err, &we) {
		return we
	}
	return &WireError{Name: UnknownErrorException, Message: err.Error()}
}
