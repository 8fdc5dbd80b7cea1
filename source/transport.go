package source

import "context"

// Headers describe the whole-file response of a transport.
type Headers struct {
	RangeSupported     bool
	StreamingSupported bool
	ContentLength      int64
}

// FullReader reads the whole document sequentially.
type FullReader interface {
	// Headers blocks until the transport knows whether it supports ranges.
	Headers(ctx context.Context) (Headers, error)
	// Read returns the next chunk, or io.EOF once the document is complete.
	// The returned slice is owned by the caller.
	Read(ctx context.Context) ([]byte, error)
	Cancel(reason error)
}

// Transport delivers document bytes from wherever the host keeps them.
type Transport interface {
	RangeTransport
	FullReader(ctx context.Context) (FullReader, error)
	// CancelAll aborts every outstanding request.
	CancelAll(reason error)
}
