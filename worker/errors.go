package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/tsawler/docworker/core"
	"github.com/tsawler/docworker/crypt"
	"github.com/tsawler/docworker/document"
	"github.com/tsawler/docworker/rpc"
	"github.com/tsawler/docworker/source"
	"github.com/tsawler/docworker/task"
)

// ErrTerminated is returned by sessions after Terminate.
var ErrTerminated = errors.New("worker was terminated")

// ErrNoDocument is returned by queries that arrive before the document
// was opened.
var ErrNoDocument = errors.New("document is not open")

// toWire converts err into the exception the host expects.
func toWire(err error) *rpc.WireError {
	if err == nil {
		return nil
	}
	var we *rpc.WireError
	if errors.As(err, &we) {
		return we
	}
	if pe, ok := crypt.AsPasswordError(err); ok {
		return rpc.NewWireError(rpc.PasswordException, pe.Msg, int(pe.Code))
	}
	var te *source.TransportError
	switch {
	case errors.As(err, &te) && te.Missing():
		return rpc.NewWireError(rpc.MissingPDFException, fmt.Sprintf("Missing PDF %q.", te.URL), 0)
	case errors.Is(err, core.ErrInvalidPDF), core.IsXRefParseError(err):
		return rpc.NewWireError(rpc.InvalidPDFException, "Invalid PDF structure.", 0)
	case errors.Is(err, ErrTerminated), errors.Is(err, task.ErrTerminated),
		errors.Is(err, document.ErrTerminated), errors.Is(err, source.ErrAborted),
		errors.Is(err, context.Canceled):
		return rpc.NewWireError(rpc.AbortException, err.Error(), 0)
	}
	return rpc.NewWireError(rpc.UnknownErrorException, err.Error(), 0)
}
