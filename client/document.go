package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/tsawler/docworker/rpc"
)

// PDFInfo is what the worker reports once a document is loaded.
type PDFInfo struct {
	NumPages     int       `json:"numPages"`
	Fingerprints []*string `json:"fingerprints"`
	HTMLForXFA   any       `json:"htmlForXfa"`
}

type outcome struct {
	info PDFInfo
	err  error
}

// Document is an open document in the worker.
type Document struct {
	c    *Client
	id   string
	opts OpenOptions
	h    *rpc.Handler
	info PDFInfo

	outcome chan outcome

	loadedOnce sync.Once
	loaded     chan struct{}
	length     int64
}

func newDocument(c *Client, docID string, opts OpenOptions) *Document {
	if opts.ReadChunkSize <= 0 {
		opts.ReadChunkSize = defaultReadChunkSize
	}
	d := &Document{
		c:       c,
		id:      docID,
		opts:    opts,
		h:       rpc.NewHandler(docID, docID+"_worker", c.mux.Port(docID), c.log.With("doc_id", docID)),
		outcome: make(chan outcome, 1),
		loaded:  make(chan struct{}),
	}
	d.h.On("GetDoc", d.onGetDoc)
	d.h.On("DocException", d.onDocException)
	d.h.On("PasswordRequest", d.onPasswordRequest)
	d.h.On("DocProgress", d.onDocProgress)
	d.h.On("DataLoaded", d.onDataLoaded)
	d.h.On("ReaderHeadersReady", d.onReaderHeadersReady)
	d.h.OnStream("GetReader", d.serveReader)
	d.h.OnStream("GetRangeReader", d.serveRange)
	return d
}

// ID returns the document id.
func (d *Document) ID() string { return d.id }

// NumPages returns the page count.
func (d *Document) NumPages() int { return d.info.NumPages }

// Fingerprints returns the permanent and changing fingerprints. The second
// one is empty when the document has none.
func (d *Document) Fingerprints() [2]string {
	var out [2]string
	for i, fp := range d.info.Fingerprints {
		if i < 2 && fp != nil {
			out[i] = *fp
		}
	}
	return out
}

// Loaded is closed once the worker holds every byte of the document.
func (d *Document) Loaded() <-chan struct{} { return d.loaded }

// Length is the document length reported with DataLoaded.
func (d *Document) Length() int64 {
	<-d.loaded
	return d.length
}

func (d *Document) report(o outcome) {
	select {
	case d.outcome <- o:
	default:
	}
}

func (d *Document) onGetDoc(_ context.Context, data json.RawMessage) (any, error) {
	var msg struct {
		PDFInfo PDFInfo `json:"pdfInfo"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		d.report(outcome{err: fmt.Errorf("malformed GetDoc: %w", err)})
		return nil, err
	}
	d.report(outcome{info: msg.PDFInfo})
	return nil, nil
}

func (d *Document) onDocException(_ context.Context, data json.RawMessage) (any, error) {
	var we rpc.WireError
	if err := json.Unmarshal(data, &we); err != nil {
		we = *rpc.NewWireError(rpc.UnknownErrorException, string(data), 0)
	}
	d.report(outcome{err: &we})
	return nil, nil
}

func (d *Document) onPasswordRequest(ctx context.Context, data json.RawMessage) (any, error) {
	var we rpc.WireError
	if err := json.Unmarshal(data, &we); err != nil {
		return nil, err
	}
	if d.opts.OnPassword == nil {
		return nil, &we
	}
	password, err := d.opts.OnPassword(ctx, we.Code)
	if err != nil {
		return nil, err
	}
	return map[string]string{"password": password}, nil
}

func (d *Document) onDocProgress(_ context.Context, data json.RawMessage) (any, error) {
	if d.opts.OnProgress == nil {
		return nil, nil
	}
	var p struct {
		Loaded int64 `json:"loaded"`
		Total  int64 `json:"total"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	d.opts.OnProgress(p.Loaded, p.Total)
	return nil, nil
}

func (d *Document) onDataLoaded(_ context.Context, data json.RawMessage) (any, error) {
	var msg struct {
		Length int64 `json:"length"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	d.loadedOnce.Do(func() {
		d.length = msg.Length
		close(d.loaded)
	})
	return nil, nil
}

func (d *Document) onReaderHeadersReady(context.Context, json.RawMessage) (any, error) {
	if d.opts.Reader == nil {
		return nil, errors.New("no reader to serve")
	}
	return map[string]any{
		"isStreamingSupported": d.opts.StreamingSupported,
		"isRangeSupported":     d.opts.RangeSupported,
		"contentLength":        d.opts.Size,
	}, nil
}

// serveReader streams the whole document in order.
func (d *Document) serveReader(ctx context.Context, _ json.RawMessage, sink *rpc.Sink) error {
	if d.opts.Reader == nil {
		return errors.New("no reader to serve")
	}
	buf := make([]byte, d.opts.ReadChunkSize)
	for off := int64(0); off < d.opts.Size; {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := d.opts.Reader.ReadAt(buf[:min(int64(len(buf)), d.opts.Size-off)], off)
		if n > 0 {
			if err := sink.Enqueue(buf[:n]); err != nil {
				return err
			}
			off += int64(n)
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if n == 0 {
			break
		}
	}
	return nil
}

// serveRange answers one range request with a single chunk.
func (d *Document) serveRange(_ context.Context, data json.RawMessage, sink *rpc.Sink) error {
	if d.opts.Reader == nil {
		return errors.New("no reader to serve")
	}
	var req struct {
		Begin int64 `json:"begin"`
		End   int64 `json:"end"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	if req.Begin < 0 || req.End < req.Begin || req.End > d.opts.Size {
		return fmt.Errorf("range %d-%d outside document of %d bytes", req.Begin, req.End, d.opts.Size)
	}
	buf := make([]byte, req.End-req.Begin)
	n, err := d.opts.Reader.ReadAt(buf, req.Begin)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return sink.Enqueue(buf[:n])
}

// discard terminates a document that failed to open.
func (d *Document) discard() {
	ctx, cancel := context.WithTimeout(context.Background(), discardTimeout)
	defer cancel()
	if err := d.Terminate(ctx); err != nil {
		d.c.log.Debug("terminate after failed open", "doc_id", d.id, "error", err)
	}
}

// Terminate ends the worker session and waits for its tasks.
func (d *Document) Terminate(ctx context.Context) error {
	defer d.h.Destroy()
	return d.h.Request(ctx, "Terminate", nil, nil)
}
