package rpc

import (
	"context"
	"sync"
)

// Port carries envelopes between two endpoints.
type Port interface {
	Send(ctx context.Context, m *Message) error
	// Recv blocks for the next envelope. It returns ErrClosed once the port
	// is closed.
	Recv(ctx context.Context) (*Message, error)
	Close() error
}

// pipeBuffer is how many envelopes a pipe end holds before Send blocks.
const pipeBuffer = 256

type pipeEnd struct {
	in     chan *Message
	peer   *pipeEnd
	closed chan struct{}
	once   sync.Once
}

// Pipe returns two connected in-process ports.
func Pipe() (Port, Port) {
	a := &pipeEnd{in: make(chan *Message, pipeBuffer), closed: make(chan struct{})}
	b := &pipeEnd{in: make(chan *Message, pipeBuffer), closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipeEnd) Send(ctx context.Context, m *Message) error {
	select {
	case <-p.closed:
		return ErrClosed
	case <-p.peer.closed:
		return ErrClosed
	default:
	}
	select {
	case p.peer.in <- m:
		return nil
	case <-p.closed:
		return ErrClosed
	case <-p.peer.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Recv(ctx context.Context) (*Message, error) {
	select {
	case m := <-p.in:
		return m, nil
	case <-p.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
