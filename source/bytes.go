package source

import (
	"bytes"
	"context"
)

// Source is a random access view of the document bytes.
type Source interface {
	ReadAt(p []byte, off int64) (int, error)
	Length() int64
	// Loaded returns the complete file, fetching whatever is still missing.
	Loaded(ctx context.Context) ([]byte, error)
}

// Bytes is a source that is fully in memory.
type Bytes struct {
	*bytes.Reader
	data []byte
}

// NewBytes wraps data. The slice must not be modified afterwards.
func NewBytes(data []byte) *Bytes {
	return &Bytes{Reader: bytes.NewReader(data), data: data}
}

// Length returns the size of the data.
func (b *Bytes) Length() int64 { return int64(len(b.data)) }

// Loaded returns the data.
func (b *Bytes) Loaded(context.Context) ([]byte, error) { return b.data, nil }
