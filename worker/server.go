package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/tsawler/docworker/rpc"
	"github.com/tsawler/docworker/source"
	"github.com/tsawler/docworker/telemetry"
)

// APIVersion is the protocol version hosts must announce in
// GetDocRequest. An empty version is accepted.
const APIVersion = "1"

// RevisionSink records the documents produced by SaveDocument.
type RevisionSink interface {
	SaveRevision(ctx context.Context, docID, fingerprint string, data []byte) error
}

// Options configures a Server.
type Options struct {
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
	// Revisions, when set, receives every save that changed the document.
	Revisions RevisionSink
	// HTTP configures the transport of sessions opened by URL.
	HTTP source.HTTPOptions
	// RangeChunkSize is used when the host does not choose one.
	RangeChunkSize int
	// EnableXFA turns XFA support on for every session.
	EnableXFA bool
}

// DocParams is the GetDocRequest payload.
type DocParams struct {
	DocID      string `json:"docId"`
	APIVersion string `json:"apiVersion,omitempty"`
	// Data is the whole document when the host already holds it.
	Data []byte `json:"data,omitempty"`
	// URL makes the worker fetch the document itself. Without Data and URL
	// the bytes are read from the host.
	URL              string `json:"url,omitempty"`
	Password         string `json:"password,omitempty"`
	Length           int64  `json:"length,omitempty"`
	RangeChunkSize   int    `json:"rangeChunkSize,omitempty"`
	DisableAutoFetch bool   `json:"disableAutoFetch"`
	EnableXFA        bool   `json:"enableXfa"`
	Filename         string `json:"filename,omitempty"`
}

// Server is the worker end of a channel. It owns the "worker" handler
// and the sessions it opened.
type Server struct {
	opts    Options
	log     *slog.Logger
	metrics *telemetry.Metrics
	mux     *rpc.Mux
	handler *rpc.Handler
	tested  atomic.Bool

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewServer starts serving the setup messages on port.
func NewServer(port rpc.Port, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewMetrics(nil)
	}
	if opts.RangeChunkSize <= 0 {
		opts.RangeChunkSize = source.DefaultChunkSize
	}
	mux := rpc.NewMux(port, opts.Logger)
	s := &Server{
		opts:     opts,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		mux:      mux,
		handler:  rpc.NewHandler("worker", "main", mux.Port("worker"), opts.Logger),
		sessions: make(map[string]*Session),
	}
	s.handler.On("test", s.onTest)
	s.handler.On("configure", s.onConfigure)
	s.handler.On("GetDocRequest", s.onGetDocRequest)
	return s
}

// Start tells the host the worker is ready.
func (s *Server) Start(ctx context.Context) error {
	return s.handler.Send(ctx, "ready", nil)
}

// Done is closed when the underlying port stops delivering.
func (s *Server) Done() <-chan struct{} {
	return s.mux.Done()
}

// Sessions returns the number of open sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close terminates every open session and closes the port.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	open := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	for _, sess := range open {
		if err := sess.Terminate(ctx); err != nil {
			s.log.Warn("failed to terminate session", "doc_id", sess.ID(), "error", err)
		}
	}
	s.handler.Destroy()
	return s.mux.Close()
}

func (s *Server) onTest(ctx context.Context, data json.RawMessage) (any, error) {
	if !s.tested.CompareAndSwap(false, true) {
		return nil, nil
	}
	var b []byte
	isBytes := len(data) > 0 && json.Unmarshal(data, &b) == nil && b != nil
	return nil, s.handler.Send(ctx, "test", isBytes)
}

func (s *Server) onConfigure(_ context.Context, data json.RawMessage) (any, error) {
	var cfg struct {
		Verbosity int `json:"verbosity"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configure: %w", err)
	}
	telemetry.SetLevel(telemetry.LevelForVerbosity(cfg.Verbosity))
	return nil, nil
}

func (s *Server) onGetDocRequest(_ context.Context, data json.RawMessage) (any, error) {
	var p DocParams
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode GetDocRequest: %w", err)
	}
	if p.APIVersion != "" && p.APIVersion != APIVersion {
		return nil, fmt.Errorf("the API version %q does not match the worker version %q", p.APIVersion, APIVersion)
	}
	if p.DocID == "" {
		p.DocID = uuid.NewString()
	}
	if p.RangeChunkSize <= 0 {
		p.RangeChunkSize = s.opts.RangeChunkSize
	}
	p.EnableXFA = p.EnableXFA || s.opts.EnableXFA

	s.mu.Lock()
	if _, dup := s.sessions[p.DocID]; dup {
		s.mu.Unlock()
		return nil, errors.New("document id already in use: " + p.DocID)
	}
	sess := newSession(s, p)
	s.sessions[p.DocID] = sess
	s.mu.Unlock()

	s.metrics.Sessions.Inc()
	s.metrics.ActiveSessions.Inc()
	return sess.HandlerName(), nil
}

func (s *Server) removeSession(sess *Session) {
	s.mu.Lock()
	if s.sessions[sess.id] == sess {
		delete(s.sessions, sess.id)
		s.metrics.ActiveSessions.Dec()
	}
	s.mu.Unlock()
}
