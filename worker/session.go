package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tsawler/docworker/document"
	"github.com/tsawler/docworker/rpc"
	"github.com/tsawler/docworker/source"
	"github.com/tsawler/docworker/task"
	"github.com/tsawler/docworker/telemetry"
)

// Session serves one document. It is created by GetDocRequest and lives
// until Terminate.
type Session struct {
	id        string
	params    DocParams
	server    *Server
	log       *slog.Logger
	metrics   *telemetry.Metrics
	handler   *rpc.Handler
	tasks     *task.Registry
	transport source.Transport
	resolver  *source.Resolver
	revisions RevisionSink
	// timing enables the per page timing lines, fixed when the session is
	// created like the verbosity it derives from.
	timing bool

	ctx    context.Context
	cancel context.CancelFunc

	readyOnce  sync.Once
	terminated atomic.Bool

	mu      sync.Mutex
	manager *document.Manager
	source  *source.Result

	// saveMu serializes saves: they share the xref's temporary refs.
	saveMu sync.Mutex
}

func newSession(srv *Server, p DocParams) *Session {
	name := p.DocID + "_worker"
	log := telemetry.WithDocID(srv.log, p.DocID)
	ctx, cancel := context.WithCancel(telemetry.WithLogger(context.Background(), log))
	s := &Session{
		id:        p.DocID,
		params:    p,
		server:    srv,
		log:       log,
		metrics:   srv.metrics,
		handler:   rpc.NewHandler(name, p.DocID, srv.mux.Port(name), log),
		tasks:     task.NewRegistry(srv.metrics),
		revisions: srv.opts.Revisions,
		timing:    telemetry.Level() <= slog.LevelInfo,
		ctx:       ctx,
		cancel:    cancel,
	}
	switch {
	case p.Data != nil:
	case p.URL != "":
		s.transport = source.NewHTTPTransport(p.URL, srv.opts.HTTP)
	default:
		s.transport = newHostTransport(s.handler)
	}
	s.resolver = source.NewResolver(s.transport, log)
	s.resolver.Terminated = s.ensureNotTerminated
	s.resolver.Progress = func(loaded, total int64) {
		s.send("DocProgress", progress{Loaded: loaded, Total: total})
	}
	s.register()
	return s
}

type progress struct {
	Loaded int64 `json:"loaded"`
	Total  int64 `json:"total"`
}

// ID returns the document id.
func (s *Session) ID() string { return s.id }

// HandlerName is the channel name of the session's handler.
func (s *Session) HandlerName() string { return s.id + "_worker" }

func (s *Session) register() {
	for _, c := range allCommands {
		h := s.handlerFor(c)
		switch {
		case h.stream != nil:
			s.handler.OnStream(c.String(), h.stream)
		case h.final:
			s.handler.OnFinal(c.String(), h.request)
		default:
			s.handler.On(c.String(), h.request)
		}
	}
}

func (s *Session) ensureNotTerminated() error {
	if s.terminated.Load() {
		return ErrTerminated
	}
	return nil
}

// doc returns the document manager once the source is resolved.
func (s *Session) doc() (*document.Manager, error) {
	if err := s.ensureNotTerminated(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manager == nil {
		return nil, ErrNoDocument
	}
	return s.manager, nil
}

func (s *Session) page(ctx context.Context, index int) (*document.Page, error) {
	m, err := s.doc()
	if err != nil {
		return nil, err
	}
	return m.GetPage(ctx, index)
}

// send posts a notification to the host, logging failures.
func (s *Session) send(action string, data any) {
	if err := s.handler.Send(s.ctx, action, data); err != nil {
		s.log.Debug("notification not sent", "action", action, "error", err)
	}
}
