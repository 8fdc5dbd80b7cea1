package rpc

import "errors"

var (
	// ErrDestroyed is returned for requests pending or issued after Destroy.
	ErrDestroyed = errors.New("rpc: handler destroyed")
	// ErrClosed is returned by a Port after Close.
	ErrClosed = errors.New("rpc: port closed")
	// ErrStreamCancelled is returned by Sink.Enqueue once the reader
	// cancelled the stream.
	ErrStreamCancelled = errors.New("rpc: stream cancelled")
	// ErrAbandon ends a stream handler without closing or failing the
	// stream. The reader sees the end only when the handler is destroyed.
	ErrAbandon = errors.New("rpc: stream abandoned")
	// ErrUnknownAction is the response to an action nobody registered.
	ErrUnknownAction = errors.New("rpc: unknown action")
)
