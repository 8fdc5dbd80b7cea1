package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/tsawler/docworker/rpc"
	"github.com/tsawler/docworker/source"
)

// hostTransport reads the document from the host over the session's
// channel. The host serves GetReader as a stream of byte chunks,
// ReaderHeadersReady with the facts of that stream and GetRangeReader
// for single ranges.
type hostTransport struct {
	h *rpc.Handler

	mu      sync.Mutex
	readers map[*rpc.StreamReader]struct{}
}

func newHostTransport(h *rpc.Handler) *hostTransport {
	return &hostTransport{h: h, readers: make(map[*rpc.StreamReader]struct{})}
}

func (t *hostTransport) track(r *rpc.StreamReader) {
	t.mu.Lock()
	t.readers[r] = struct{}{}
	t.mu.Unlock()
}

func (t *hostTransport) untrack(r *rpc.StreamReader) {
	t.mu.Lock()
	delete(t.readers, r)
	t.mu.Unlock()
}

// readerHeaders is the host's answer to ReaderHeadersReady.
type readerHeaders struct {
	IsStreamingSupported bool  `json:"isStreamingSupported"`
	IsRangeSupported     bool  `json:"isRangeSupported"`
	ContentLength        int64 `json:"contentLength"`
}

type rangeRequest struct {
	Begin int64 `json:"begin"`
	End   int64 `json:"end"`
}

func decodeChunk(raw json.RawMessage) ([]byte, error) {
	var b []byte
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("failed to decode data chunk: %w", err)
	}
	return b, nil
}

// RequestRange implements source.RangeTransport.
func (t *hostTransport) RequestRange(ctx context.Context, begin, end int64) ([]byte, error) {
	r, err := t.h.RequestStream(ctx, "GetRangeReader", rangeRequest{Begin: begin, End: end})
	if err != nil {
		return nil, err
	}
	t.track(r)
	defer t.untrack(r)

	var buf bytes.Buffer
	buf.Grow(int(end - begin))
	for {
		raw, err := r.Next(ctx)
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			if ctx.Err() != nil {
				r.Cancel(context.Background(), ctx.Err().Error())
			}
			return nil, err
		}
		chunk, err := decodeChunk(raw)
		if err != nil {
			r.Cancel(context.Background(), err.Error())
			return nil, err
		}
		buf.Write(chunk)
	}
}

// FullReader implements source.Transport.
func (t *hostTransport) FullReader(ctx context.Context) (source.FullReader, error) {
	r, err := t.h.RequestStream(ctx, "GetReader", nil)
	if err != nil {
		return nil, err
	}
	t.track(r)
	return &hostFullReader{t: t, r: r}, nil
}

// CancelAll implements source.Transport.
func (t *hostTransport) CancelAll(reason error) {
	t.mu.Lock()
	readers := make([]*rpc.StreamReader, 0, len(t.readers))
	for r := range t.readers {
		readers = append(readers, r)
	}
	t.readers = make(map[*rpc.StreamReader]struct{})
	t.mu.Unlock()

	msg := "cancelled"
	if reason != nil {
		msg = reason.Error()
	}
	for _, r := range readers {
		r.Cancel(context.Background(), msg)
	}
}

type hostFullReader struct {
	t *hostTransport
	r *rpc.StreamReader
}

func (fr *hostFullReader) Headers(ctx context.Context) (source.Headers, error) {
	var h readerHeaders
	if err := fr.t.h.Request(ctx, "ReaderHeadersReady", nil, &h); err != nil {
		return source.Headers{}, err
	}
	return source.Headers{
		RangeSupported:     h.IsRangeSupported,
		StreamingSupported: h.IsStreamingSupported,
		ContentLength:      h.ContentLength,
	}, nil
}

func (fr *hostFullReader) Read(ctx context.Context) ([]byte, error) {
	raw, err := fr.r.Next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			fr.t.untrack(fr.r)
		}
		return nil, err
	}
	return decodeChunk(raw)
}

func (fr *hostFullReader) Cancel(reason error) {
	fr.t.untrack(fr.r)
	msg := "cancelled"
	if reason != nil {
		msg = reason.Error()
	}
	fr.r.Cancel(context.Background(), msg)
}
