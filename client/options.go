package client

import (
	"context"
	"io"
)

// OpenOptions selects the document and how the worker obtains it. Exactly
// one of Data, URL and Reader should be set.
type OpenOptions struct {
	DocID string
	// Data is sent to the worker in one piece.
	Data []byte
	// URL makes the worker fetch the document over HTTP.
	URL string
	// Reader is served to the worker on request. Size is its length.
	Reader io.ReaderAt
	Size   int64
	// RangeSupported lets the worker read ranges of Reader on demand
	// instead of waiting for the sequential read.
	RangeSupported bool
	// StreamingSupported tells the worker progress is visible to the host
	// already, which suppresses DocProgress.
	StreamingSupported bool
	// ReadChunkSize is the size of the chunks of the sequential read.
	ReadChunkSize int

	Length           int64
	Password         string
	Filename         string
	RangeChunkSize   int
	DisableAutoFetch bool
	EnableXFA        bool

	// OnPassword answers a password request. code is 1 when a password is
	// needed and 2 when the last one was wrong. An error declines, which
	// fails Open with the PasswordException.
	OnPassword func(ctx context.Context, code int) (string, error)
	// OnProgress receives DocProgress notifications.
	OnProgress func(loaded, total int64)
}

const defaultReadChunkSize = 64 << 10
