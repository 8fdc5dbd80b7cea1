package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
)

// State is the resolution progress of a Resolver.
type State int

const (
	Unresolved State = iota
	StreamingConfirmed
	BufferedComplete
	Resolved
)

func (s State) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case StreamingConfirmed:
		return "streaming-confirmed"
	case BufferedComplete:
		return "buffered-complete"
	case Resolved:
		return "resolved"
	}
	return "unknown"
}

// Params describe the document the host wants opened.
type Params struct {
	// Data is the whole document when the host already has it.
	Data []byte
	// Length is the size the host announced, if any.
	Length           int64
	ChunkSize        int
	DisableAutoFetch bool
}

// Result is a resolved source.
type Result struct {
	Source Source
	// Stream is set when the source fetches missing ranges on demand.
	Stream           *ChunkedStream
	DisableAutoFetch bool
}

// Resolver decides how the document bytes are obtained.
type Resolver struct {
	transport Transport
	log       *slog.Logger

	// Progress receives DocProgress figures while a transport that does
	// not stream delivers the file.
	Progress func(loaded, total int64)
	// Terminated is consulted before each chunk is committed.
	Terminated func() error

	mu         sync.Mutex
	state      State
	cancelRead context.CancelFunc
}

// NewResolver creates a resolver. transport may be nil when the host always
// supplies the data directly.
func NewResolver(transport Transport, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{transport: transport, log: logger}
}

// State returns the current state.
func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Resolver) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	r.log.Debug("source state", "state", s.String())
}

func (r *Resolver) terminated() error {
	if r.Terminated == nil {
		return nil
	}
	return r.Terminated()
}

func (r *Resolver) progress(h Headers, loaded int64) {
	if r.Progress == nil || h.StreamingSupported {
		return
	}
	r.Progress(loaded, max(loaded, h.ContentLength))
}

// Cancel stops the background read and aborts outstanding range requests.
func (r *Resolver) Cancel(reason error) {
	r.mu.Lock()
	cancel := r.cancelRead
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if r.transport != nil {
		r.transport.CancelAll(reason)
	}
}

type readEvent struct {
	chunk []byte
	done  bool
	err   error
}

type headersResult struct {
	h   Headers
	err error
}

// Resolve obtains the document source. ctx also bounds the background read
// that keeps feeding a streaming source after Resolve returns.
func (r *Resolver) Resolve(ctx context.Context, p Params) (*Result, error) {
	if p.Data != nil {
		r.setState(Resolved)
		return &Result{Source: NewBytes(p.Data), DisableAutoFetch: p.DisableAutoFetch}, nil
	}
	if r.transport == nil {
		return nil, errors.New("no document data and no transport")
	}

	fr, err := r.transport.FullReader(ctx)
	if err != nil {
		return nil, err
	}
	readCtx, cancelRead := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancelRead = cancelRead
	r.mu.Unlock()

	headersCh := make(chan headersResult, 1)
	go func() {
		h, err := fr.Headers(readCtx)
		headersCh <- headersResult{h: h, err: err}
	}()
	events := make(chan readEvent)
	go readAll(readCtx, fr, events)

	fail := func(err error) (*Result, error) {
		cancelRead()
		fr.Cancel(err)
		return nil, err
	}

	var (
		pending PendingSource
		headers Headers
	)
	for {
		select {
		case hr := <-headersCh:
			headersCh = nil
			if hr.err != nil {
				return fail(hr.err)
			}
			headers = hr.h
			if !headers.RangeSupported || headers.ContentLength <= 0 {
				continue
			}
			if err := r.terminated(); err != nil {
				return fail(err)
			}
			cs := NewChunkedStream(headers.ContentLength, p.ChunkSize, r.transport)
			if err := pending.Flush(cs.AppendProgressive); err != nil {
				return fail(err)
			}
			r.setState(StreamingConfirmed)
			go r.drain(readCtx, events, cs, headers, pending.Loaded())
			r.setState(Resolved)
			return &Result{
				Source:           cs,
				Stream:           cs,
				DisableAutoFetch: p.DisableAutoFetch || headers.StreamingSupported,
			}, nil

		case ev := <-events:
			if ev.err != nil {
				return fail(ev.err)
			}
			if err := r.terminated(); err != nil {
				return fail(err)
			}
			if ev.done {
				cancelRead()
				data, err := pending.Merge()
				if err != nil {
					return nil, err
				}
				want := p.Length
				if want == 0 {
					want = headers.ContentLength
				}
				if want > 0 && int64(len(data)) != want {
					r.log.Warn("reported length is different from actual", "reported", want, "actual", len(data))
				}
				r.setState(BufferedComplete)
				r.setState(Resolved)
				return &Result{Source: NewBytes(data), DisableAutoFetch: p.DisableAutoFetch}, nil
			}
			if err := pending.Append(ev.chunk); err != nil {
				return fail(err)
			}
			r.progress(headers, pending.Loaded())

		case <-ctx.Done():
			return fail(ctx.Err())
		}
	}
}

// drain keeps feeding the sequential read into a streaming source.
func (r *Resolver) drain(ctx context.Context, events <-chan readEvent, cs *ChunkedStream, h Headers, loaded int64) {
	for {
		select {
		case ev := <-events:
			if ev.done {
				return
			}
			if ev.err != nil {
				r.log.Warn("progressive read failed", "error", ev.err)
				return
			}
			if r.terminated() != nil {
				return
			}
			if err := cs.AppendProgressive(ev.chunk); err != nil {
				r.log.Warn("dropping progressive data", "error", err)
				return
			}
			loaded += int64(len(ev.chunk))
			r.progress(h, loaded)
		case <-ctx.Done():
			return
		}
	}
}

func readAll(ctx context.Context, fr FullReader, events chan<- readEvent) {
	for {
		chunk, err := fr.Read(ctx)
		var ev readEvent
		switch {
		case errors.Is(err, io.EOF):
			ev.done = true
		case err != nil:
			ev.err = err
		default:
			ev.chunk = chunk
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
		if ev.done || ev.err != nil {
			return
		}
	}
}
