package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// IOPort carries newline-delimited JSON envelopes over a reader and a
// writer, such as the standard streams of a child process.
type IOPort struct {
	r  io.Reader
	w  *bufio.Writer
	wc io.Closer

	wmu    sync.Mutex
	in     chan *Message
	err    error
	closed chan struct{}
	once   sync.Once
}

// NewIOPort starts reading envelopes from r. Closing the port closes r
// and w when they are closers.
func NewIOPort(r io.Reader, w io.Writer) *IOPort {
	p := &IOPort{
		r:      r,
		w:      bufio.NewWriter(w),
		in:     make(chan *Message, pipeBuffer),
		closed: make(chan struct{}),
	}
	if c, ok := w.(io.Closer); ok {
		p.wc = c
	}
	go p.read()
	return p
}

func (p *IOPort) read() {
	defer close(p.in)
	dec := json.NewDecoder(p.r)
	for {
		var m Message
		if err := dec.Decode(&m); err != nil {
			if !errors.Is(err, io.EOF) {
				p.err = fmt.Errorf("read envelope: %w", err)
			}
			return
		}
		select {
		case p.in <- &m:
		case <-p.closed:
			return
		}
	}
}

// Send writes m as one line.
func (p *IOPort) Send(_ context.Context, m *Message) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if _, err := p.w.Write(append(body, '\n')); err != nil {
		return err
	}
	return p.w.Flush()
}

// Recv returns the next envelope. A malformed stream ends the port.
func (p *IOPort) Recv(ctx context.Context) (*Message, error) {
	select {
	case m, ok := <-p.in:
		if !ok {
			if p.err != nil {
				return nil, errors.Join(ErrClosed, p.err)
			}
			return nil, ErrClosed
		}
		return m, nil
	case <-p.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *IOPort) Close() error {
	var errs []error
	p.once.Do(func() {
		close(p.closed)
		if c, ok := p.r.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
		if p.wc != nil {
			errs = append(errs, p.wc.Close())
		}
	})
	return errors.Join(errs...)
}
