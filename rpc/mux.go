package rpc

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Mux shares one Port between several endpoints. Envelopes are handed to
// the endpoint named by their target; envelopes for unknown targets are
// dropped.
type Mux struct {
	port Port
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	ends map[string]*muxEnd
	done chan struct{}
}

// NewMux starts routing envelopes received on port.
func NewMux(port Port, logger *slog.Logger) *Mux {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Mux{
		port:   port,
		log:    logger,
		ctx:    ctx,
		cancel: cancel,
		ends:   make(map[string]*muxEnd),
		done:   make(chan struct{}),
	}
	go m.loop()
	return m
}

// Port returns the endpoint called name. Closing it unregisters the name
// but leaves the shared port open.
func (m *Mux) Port(name string) Port {
	e := &muxEnd{
		mux:    m,
		name:   name,
		in:     make(chan *Message, pipeBuffer),
		closed: make(chan struct{}),
	}
	m.mu.Lock()
	if old, ok := m.ends[name]; ok {
		old.shut()
	}
	m.ends[name] = e
	m.mu.Unlock()
	return e
}

// Close closes the shared port and every endpoint.
func (m *Mux) Close() error {
	m.cancel()
	err := m.port.Close()
	<-m.done
	return err
}

// Done is closed once the shared port stops delivering.
func (m *Mux) Done() <-chan struct{} { return m.done }

func (m *Mux) loop() {
	defer func() {
		m.mu.Lock()
		for _, e := range m.ends {
			e.shut()
		}
		m.mu.Unlock()
		close(m.done)
	}()
	for {
		msg, err := m.port.Recv(m.ctx)
		if err != nil {
			if !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
				m.log.Warn("receive failed", "error", err)
			}
			return
		}
		m.mu.Lock()
		e, ok := m.ends[msg.TargetName]
		m.mu.Unlock()
		if !ok {
			m.log.Debug("no endpoint for message", "target", msg.TargetName, "action", msg.Action)
			continue
		}
		select {
		case e.in <- msg:
		case <-e.closed:
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Mux) remove(e *muxEnd) {
	m.mu.Lock()
	if m.ends[e.name] == e {
		delete(m.ends, e.name)
	}
	m.mu.Unlock()
}

type muxEnd struct {
	mux    *Mux
	name   string
	in     chan *Message
	closed chan struct{}
	once   sync.Once
}

func (e *muxEnd) shut() {
	e.once.Do(func() { close(e.closed) })
}

func (e *muxEnd) Send(ctx context.Context, msg *Message) error {
	select {
	case <-e.closed:
		return ErrClosed
	default:
	}
	return e.mux.port.Send(ctx, msg)
}

func (e *muxEnd) Recv(ctx context.Context) (*Message, error) {
	select {
	case msg := <-e.in:
		return msg, nil
	case <-e.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *muxEnd) Close() error {
	e.mux.remove(e)
	e.shut()
	return nil
}
