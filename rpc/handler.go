package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// RequestFunc serves a notification or a request. The result is encoded as
// JSON and sent back for requests; notifications drop it.
type RequestFunc func(ctx context.Context, data json.RawMessage) (any, error)

// StreamFunc serves a streamed request by enqueuing chunks on sink. The
// stream is closed when it returns nil and errored when it returns an
// error, unless the function already did so itself.
type StreamFunc func(ctx context.Context, data json.RawMessage, sink *Sink) error

type result struct {
	data json.RawMessage
	err  error
}

// Handler is one end of the channel.
type Handler struct {
	source string
	target string
	port   Port
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	nextID    int64
	callbacks map[int64]chan result
	readers   map[int64]*StreamReader
	sinks     map[int64]*Sink
	actions   map[string]RequestFunc
	streams   map[string]StreamFunc
	finals    map[string]bool
	destroyed bool
	loopDone  chan struct{}
}

// NewHandler starts a handler named source that talks to target over port.
func NewHandler(source, target string, port Port, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		source:    source,
		target:    target,
		port:      port,
		log:       logger.With("endpoint", source),
		ctx:       ctx,
		cancel:    cancel,
		callbacks: make(map[int64]chan result),
		readers:   make(map[int64]*StreamReader),
		sinks:     make(map[int64]*Sink),
		actions:   make(map[string]RequestFunc),
		streams:   make(map[string]StreamFunc),
		finals:    make(map[string]bool),
		loopDone:  make(chan struct{}),
	}
	go h.loop()
	return h
}

// On registers fn for notifications and requests named action.
func (h *Handler) On(action string, fn RequestFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.actions[action] = fn
}

// OnFinal registers fn like On. Once its response is posted the handler
// destroys itself.
func (h *Handler) OnFinal(action string, fn RequestFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.actions[action] = fn
	h.finals[action] = true
}

// OnStream registers fn for streamed requests named action.
func (h *Handler) OnStream(action string, fn StreamFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.streams[action] = fn
}

func (h *Handler) envelope(kind Kind, action string) *Message {
	return &Message{SourceName: h.source, TargetName: h.target, Action: action, Kind: kind}
}

func encode(data any) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message data: %w", err)
	}
	return b, nil
}

func (h *Handler) post(ctx context.Context, m *Message) error {
	h.mu.Lock()
	destroyed := h.destroyed
	h.mu.Unlock()
	if destroyed {
		return ErrDestroyed
	}
	return h.port.Send(ctx, m)
}

// Send posts a notification.
func (h *Handler) Send(ctx context.Context, action string, data any) error {
	raw, err := encode(data)
	if err != nil {
		return err
	}
	m := h.envelope(KindNotify, action)
	m.Data = raw
	return h.post(ctx, m)
}

// Request sends a request and waits for its response, which is decoded
// into out unless out is nil.
func (h *Handler) Request(ctx context.Context, action string, data any, out any) error {
	raw, err := encode(data)
	if err != nil {
		return err
	}
	ch := make(chan result, 1)
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return ErrDestroyed
	}
	h.nextID++
	id := h.nextID
	h.callbacks[id] = ch
	h.mu.Unlock()

	m := h.envelope(KindRequest, action)
	m.CallbackID = id
	m.Data = raw
	if err := h.post(ctx, m); err != nil {
		h.dropCallback(id)
		return err
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return res.err
		}
		if out != nil && len(res.data) > 0 {
			if err := json.Unmarshal(res.data, out); err != nil {
				return fmt.Errorf("failed to decode %s response: %w", action, err)
			}
		}
		return nil
	case <-ctx.Done():
		h.dropCallback(id)
		return ctx.Err()
	}
}

func (h *Handler) dropCallback(id int64) {
	h.mu.Lock()
	delete(h.callbacks, id)
	h.mu.Unlock()
}

// RequestStream starts a streamed request.
func (h *Handler) RequestStream(ctx context.Context, action string, data any) (*StreamReader, error) {
	raw, err := encode(data)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return nil, ErrDestroyed
	}
	h.nextID++
	id := h.nextID
	r := newStreamReader(h, id)
	h.readers[id] = r
	h.mu.Unlock()

	m := h.envelope(KindStreamStart, action)
	m.StreamID = id
	m.Data = raw
	if err := h.post(ctx, m); err != nil {
		h.dropReader(id)
		return nil, err
	}
	return r, nil
}

func (h *Handler) dropReader(id int64) {
	h.mu.Lock()
	delete(h.readers, id)
	h.mu.Unlock()
}

func (h *Handler) loop() {
	defer close(h.loopDone)
	for {
		m, err := h.port.Recv(h.ctx)
		if err != nil {
			if !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
				h.log.Warn("receive failed", "error", err)
			}
			return
		}
		if m.TargetName != h.source {
			continue
		}
		h.dispatch(m)
	}
}

func (h *Handler) dispatch(m *Message) {
	switch m.Kind {
	case KindNotify, KindRequest:
		h.mu.Lock()
		fn := h.actions[m.Action]
		h.mu.Unlock()
		go h.serve(m, fn)
	case KindStreamStart:
		h.mu.Lock()
		fn := h.streams[m.Action]
		h.mu.Unlock()
		h.serveStream(m, fn)
	case KindResponse:
		h.mu.Lock()
		ch, ok := h.callbacks[m.CallbackID]
		delete(h.callbacks, m.CallbackID)
		h.mu.Unlock()
		if !ok {
			h.log.Debug("response for unknown callback", "callback_id", m.CallbackID)
			return
		}
		if m.Error != nil {
			ch <- result{err: m.Error}
		} else {
			ch <- result{data: m.Data}
		}
	case KindStreamChunk, KindStreamClose, KindStreamError:
		h.mu.Lock()
		r, ok := h.readers[m.StreamID]
		if ok && m.Kind != KindStreamChunk {
			delete(h.readers, m.StreamID)
		}
		h.mu.Unlock()
		if ok {
			r.push(m)
		}
	case KindStreamCancel:
		h.mu.Lock()
		s, ok := h.sinks[m.StreamID]
		h.mu.Unlock()
		if ok {
			s.cancelled(m.Error)
		}
	default:
		h.log.Warn("unknown message kind", "kind", m.Kind, "action", m.Action)
	}
}

func (h *Handler) serve(m *Message, fn RequestFunc) {
	var (
		out any
		err error
	)
	if fn == nil {
		err = fmt.Errorf("%w: %s", ErrUnknownAction, m.Action)
	} else {
		out, err = fn(h.ctx, m.Data)
	}
	if m.Kind == KindNotify {
		if err != nil {
			h.log.Warn("notification failed", "action", m.Action, "error", err)
		}
		return
	}

	resp := &Message{SourceName: h.source, TargetName: m.SourceName, Action: m.Action, Kind: KindResponse, CallbackID: m.CallbackID}
	if err == nil {
		resp.Data, err = encode(out)
	}
	if err != nil {
		resp.Data = nil
		resp.Error = ToWire(err)
	}
	if err := h.post(h.ctx, resp); err != nil && !errors.Is(err, ErrDestroyed) {
		h.log.Warn("failed to send response", "action", m.Action, "error", err)
	}
	h.mu.Lock()
	final := h.finals[m.Action]
	h.mu.Unlock()
	if final {
		h.Destroy()
	}
}

func (h *Handler) serveStream(m *Message, fn StreamFunc) {
	sink := newSink(h, m)
	h.mu.Lock()
	h.sinks[m.StreamID] = sink
	h.mu.Unlock()

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.sinks, m.StreamID)
			h.mu.Unlock()
		}()
		var err error
		if fn == nil {
			err = fmt.Errorf("%w: %s", ErrUnknownAction, m.Action)
		} else {
			err = fn(sink.ctx, m.Data, sink)
		}
		if errors.Is(err, ErrAbandon) {
			return
		}
		if err != nil {
			sink.Error(err)
			return
		}
		sink.Close()
	}()
}

// Destroy tears the handler down for good: pending requests fail with
// ErrDestroyed, open streams end with it and the port is closed.
func (h *Handler) Destroy() {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return
	}
	h.destroyed = true
	callbacks, readers, sinks := h.callbacks, h.readers, h.sinks
	h.callbacks = make(map[int64]chan result)
	h.readers = make(map[int64]*StreamReader)
	h.sinks = make(map[int64]*Sink)
	h.mu.Unlock()

	for _, ch := range callbacks {
		ch <- result{err: ErrDestroyed}
	}
	for _, r := range readers {
		r.fail(ErrDestroyed)
	}
	for _, s := range sinks {
		s.cancelled(nil)
	}
	h.cancel()
	if err := h.port.Close(); err != nil {
		h.log.Warn("failed to close port", "error", err)
	}
	<-h.loopDone
}

// Destroyed reports whether Destroy was called.
func (h *Handler) Destroyed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.destroyed
}
