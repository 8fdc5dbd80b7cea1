package rpc

import (
	"context"
	"encoding/json"
	"io"
	"sync"
)

// Sink is the producing side of a streamed request.
type Sink struct {
	h      *Handler
	id     int64
	action string
	target string

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	finished bool
	reason   error
}

func newSink(h *Handler, m *Message) *Sink {
	ctx, cancel := context.WithCancel(h.ctx)
	return &Sink{h: h, id: m.StreamID, action: m.Action, target: m.SourceName, ctx: ctx, cancel: cancel}
}

// Context is cancelled when the reader cancels the stream or the handler
// is destroyed.
func (s *Sink) Context() context.Context { return s.ctx }

// Cancelled reports whether the reader cancelled the stream.
func (s *Sink) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason != nil
}

func (s *Sink) cancelled(reason *WireError) {
	s.mu.Lock()
	if reason != nil {
		s.reason = reason
	} else {
		s.reason = ErrStreamCancelled
	}
	s.mu.Unlock()
	s.cancel()
}

func (s *Sink) send(kind Kind, data json.RawMessage, werr *WireError) error {
	m := &Message{
		SourceName: s.h.source,
		TargetName: s.target,
		Action:     s.action,
		Kind:       kind,
		StreamID:   s.id,
		Data:       data,
		Error:      werr,
	}
	return s.h.post(s.h.ctx, m)
}

// Enqueue sends one chunk. It fails with ErrStreamCancelled once the
// reader cancelled.
func (s *Sink) Enqueue(chunk any) error {
	s.mu.Lock()
	if s.reason != nil {
		s.mu.Unlock()
		return ErrStreamCancelled
	}
	if s.finished {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()
	raw, err := encode(chunk)
	if err != nil {
		return err
	}
	return s.send(KindStreamChunk, raw, nil)
}

func (s *Sink) finish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || s.reason != nil {
		return false
	}
	s.finished = true
	return true
}

// Close ends the stream. Closing twice or after cancellation does nothing.
func (s *Sink) Close() error {
	if !s.finish() {
		return nil
	}
	defer s.cancel()
	return s.send(KindStreamClose, nil, nil)
}

// Error ends the stream with err.
func (s *Sink) Error(err error) error {
	if !s.finish() {
		return nil
	}
	defer s.cancel()
	return s.send(KindStreamError, nil, ToWire(err))
}

// StreamReader is the consuming side of a streamed request. Chunks are
// queued without bound and returned in send order.
type StreamReader struct {
	h  *Handler
	id int64

	mu     sync.Mutex
	queue  []*Message
	err    error
	signal chan struct{}
}

func newStreamReader(h *Handler, id int64) *StreamReader {
	return &StreamReader{h: h, id: id, signal: make(chan struct{}, 1)}
}

func (r *StreamReader) wake() {
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

func (r *StreamReader) push(m *Message) {
	r.mu.Lock()
	if r.err == nil {
		r.queue = append(r.queue, m)
	}
	r.mu.Unlock()
	r.wake()
}

func (r *StreamReader) fail(err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.queue = nil
	r.mu.Unlock()
	r.wake()
}

// Next returns the next chunk. It returns io.EOF after the producer closed
// the stream and the producer's error when it failed.
func (r *StreamReader) Next(ctx context.Context) (json.RawMessage, error) {
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			m := r.queue[0]
			r.queue[0] = nil
			r.queue = r.queue[1:]
			switch m.Kind {
			case KindStreamChunk:
				r.mu.Unlock()
				return m.Data, nil
			case KindStreamClose:
				r.err = io.EOF
			default:
				if m.Error != nil {
					r.err = m.Error
				} else {
					r.err = NewWireError(UnknownErrorException, "stream failed", 0)
				}
			}
			r.queue = nil
		}
		if r.err != nil {
			err := r.err
			r.mu.Unlock()
			return nil, err
		}
		r.mu.Unlock()

		select {
		case <-r.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Cancel tells the producer to stop. Later calls to Next return
// ErrStreamCancelled.
func (r *StreamReader) Cancel(ctx context.Context, reason string) error {
	r.mu.Lock()
	if r.err != nil {
		r.mu.Unlock()
		return nil
	}
	r.err = ErrStreamCancelled
	r.queue = nil
	r.mu.Unlock()
	r.wake()
	r.h.dropReader(r.id)

	m := r.h.envelope(KindStreamCancel, "")
	m.StreamID = r.id
	m.Error = NewWireError(AbortException, reason, 0)
	return r.h.post(ctx, m)
}
