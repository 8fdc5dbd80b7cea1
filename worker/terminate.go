package worker

import (
	"context"
	"errors"

	"github.com/tsawler/docworker/rpc"
)

var errAbort = rpc.NewWireError(rpc.AbortException, "Worker was terminated.", 0)

func (s *Session) onTerminate(ctx context.Context, _ none) (any, error) {
	return nil, s.terminate(ctx)
}

// Terminate ends the session and destroys its handler.
func (s *Session) Terminate(ctx context.Context) error {
	err := s.terminate(ctx)
	s.handler.Destroy()
	return err
}

// terminate stops the document and waits for every running task. The
// handler stays up so the host still gets its answer.
func (s *Session) terminate(ctx context.Context) error {
	if !s.terminated.CompareAndSwap(false, true) {
		return nil
	}
	s.log.Debug("terminating session", "tasks", s.tasks.Len())

	s.mu.Lock()
	m := s.manager
	s.manager = nil
	s.mu.Unlock()
	if m != nil {
		m.Terminate(errAbort)
	} else {
		s.resolver.Cancel(errAbort)
	}
	if s.transport != nil {
		s.transport.CancelAll(errAbort)
	}
	all := s.tasks.TerminateAll()
	s.cancel()
	s.server.removeSession(s)

	select {
	case <-all:
		return nil
	case <-ctx.Done():
		return errors.Join(ErrTerminated, ctx.Err())
	}
}
