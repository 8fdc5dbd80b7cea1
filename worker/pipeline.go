package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tsawler/docworker/core"
	"github.com/tsawler/docworker/crypt"
	"github.com/tsawler/docworker/document"
	"github.com/tsawler/docworker/source"
	"github.com/tsawler/docworker/task"
)

// PDFInfo is the GetDoc payload.
type PDFInfo struct {
	NumPages     int                   `json:"numPages"`
	Fingerprints document.Fingerprints `json:"fingerprints"`
	HTMLForXFA   any                   `json:"htmlForXfa"`
}

type passwordResponse struct {
	Password *string `json:"password"`
}

func (s *Session) onReady(context.Context, json.RawMessage) (any, error) {
	s.readyOnce.Do(func() { go s.setup() })
	return nil, nil
}

// setup resolves the source, then loads the document and reports the
// outcome with GetDoc or DocException.
func (s *Session) setup() {
	if s.ensureNotTerminated() != nil {
		return
	}
	start := time.Now()
	m, err := s.openManager(s.ctx)
	if err != nil {
		s.onFailure(err)
		return
	}
	go s.announceLoaded(m)

	for {
		info, err := s.loadWithRecovery(s.ctx, m)
		if err == nil {
			if s.ensureNotTerminated() != nil {
				return
			}
			s.metrics.LoadDuration.Observe(time.Since(start).Seconds())
			s.log.Info("document loaded", "pages", info.NumPages, "duration", time.Since(start))
			s.send("GetDoc", map[string]any{"pdfInfo": info})
			return
		}
		pe, ok := crypt.AsPasswordError(err)
		if !ok || s.ensureNotTerminated() != nil {
			s.onFailure(err)
			return
		}
		password, err := s.requestPassword(pe)
		if err != nil {
			s.onFailure(pe)
			return
		}
		m.UpdatePassword(password)
	}
}

// openManager resolves the document source and wraps it in a manager.
func (s *Session) openManager(ctx context.Context) (*document.Manager, error) {
	res, err := s.resolver.Resolve(ctx, source.Params{
		Data:             s.params.Data,
		Length:           s.params.Length,
		ChunkSize:        s.params.RangeChunkSize,
		DisableAutoFetch: s.params.DisableAutoFetch,
	})
	if err != nil {
		return nil, err
	}
	m := document.NewManager(res.Source, document.Options{
		Password:  s.params.Password,
		EnableXFA: s.params.EnableXFA,
		Filename:  s.params.Filename,
		Logger:    s.log,
	})
	if err := s.ensureNotTerminated(); err != nil {
		m.Terminate(err)
		return nil, err
	}
	s.mu.Lock()
	s.manager = m
	s.source = res
	s.mu.Unlock()
	return m, nil
}

// announceLoaded sends DataLoaded once every byte is local. Sources that
// fetch on demand are completed in the background unless auto fetching is
// disabled, in which case only reads and the progressive download fill
// them.
func (s *Session) announceLoaded(m *document.Manager) {
	s.mu.Lock()
	res := s.source
	s.mu.Unlock()

	length := m.Stream().Length()
	if res.Stream != nil {
		if res.DisableAutoFetch {
			select {
			case <-res.Stream.Complete():
			case <-s.ctx.Done():
				return
			}
		} else if _, err := m.RequestLoaded(s.ctx); err != nil {
			s.log.Debug("background fetch stopped", "error", err)
			return
		}
	}
	if s.ensureNotTerminated() != nil {
		return
	}
	s.send("DataLoaded", map[string]int64{"length": length})
}

// loadWithRecovery loads the document and, when the cross-reference data
// is broken, downloads the whole file and loads it once more in recovery
// mode.
func (s *Session) loadWithRecovery(ctx context.Context, m *document.Manager) (*PDFInfo, error) {
	info, err := s.loadDocument(ctx, m, false)
	if err == nil || !core.IsXRefParseError(err) {
		return info, err
	}
	if err := s.ensureNotTerminated(); err != nil {
		return nil, err
	}
	s.log.Warn("cross-reference data is broken, reloading in recovery mode", "error", err)
	s.metrics.LoadRecoveries.Inc()
	if _, err := m.RequestLoaded(ctx); err != nil {
		return nil, err
	}
	if err := s.ensureNotTerminated(); err != nil {
		return nil, err
	}
	return s.loadDocument(ctx, m, true)
}

func (s *Session) loadDocument(ctx context.Context, m *document.Manager, recovery bool) (*PDFInfo, error) {
	if err := m.CheckHeader(ctx); err != nil {
		return nil, err
	}
	if err := m.ParseStartXRef(ctx); err != nil {
		return nil, err
	}
	if err := m.Parse(ctx, recovery); err != nil {
		return nil, err
	}
	if err := m.CheckFirstPage(ctx, recovery); err != nil {
		return nil, err
	}
	if err := m.CheckLastPage(ctx, recovery); err != nil {
		return nil, err
	}

	pureXFA, err := m.IsPureXFA(ctx)
	if err != nil {
		return nil, err
	}
	if pureXFA {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			err := s.tasks.Run(gctx, "loadXfaFonts", func(t *task.Task) error {
				_, err := m.LoadXFAFonts(t.Context())
				return err
			})
			if err != nil {
				s.log.Debug("XFA fonts not loaded", "error", err)
			}
			return nil
		})
		g.Go(func() error {
			_, err := m.LoadXFAImages(gctx)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	info := &PDFInfo{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		info.NumPages, err = m.NumPages(gctx)
		return err
	})
	g.Go(func() (err error) {
		info.Fingerprints, err = m.Fingerprints(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if pureXFA {
		if info.HTMLForXFA, err = m.HTMLForXFA(ctx); err != nil {
			return nil, err
		}
	}
	return info, nil
}

// requestPassword asks the host for a password. An error means the host
// declined.
func (s *Session) requestPassword(pe *crypt.PasswordError) (string, error) {
	s.metrics.PasswordRequests.Inc()
	var resp passwordResponse
	err := s.tasks.Run(s.ctx, fmt.Sprintf("PasswordException: response %d", pe.Code), func(t *task.Task) error {
		return s.handler.Request(t.Context(), "PasswordRequest", toWire(pe), &resp)
	})
	if err != nil {
		return "", err
	}
	if resp.Password == nil {
		return "", fmt.Errorf("no password in response")
	}
	return *resp.Password, nil
}

func (s *Session) onFailure(err error) {
	if s.ensureNotTerminated() != nil {
		return
	}
	we := toWire(err)
	s.metrics.LoadFailures.WithLabelValues(we.Name).Inc()
	s.log.Warn("document failed to load", "exception", we.Name, "error", err)
	s.send("DocException", we)
}
