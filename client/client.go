package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tsawler/docworker/rpc"
)

// Client talks to one worker over a port.
type Client struct {
	log  *slog.Logger
	mux  *rpc.Mux
	main *rpc.Handler

	ready     chan struct{}
	readyOnce sync.Once
	test      chan bool
}

// New connects to the worker on the other end of port.
func New(port rpc.Port, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	mux := rpc.NewMux(port, logger)
	c := &Client{
		log:   logger,
		mux:   mux,
		main:  rpc.NewHandler("main", "worker", mux.Port("main"), logger),
		ready: make(chan struct{}),
		test:  make(chan bool, 1),
	}
	c.main.On("ready", func(context.Context, json.RawMessage) (any, error) {
		c.readyOnce.Do(func() { close(c.ready) })
		return nil, nil
	})
	c.main.On("test", func(_ context.Context, data json.RawMessage) (any, error) {
		var ok bool
		if err := json.Unmarshal(data, &ok); err != nil {
			return nil, err
		}
		select {
		case c.test <- ok:
		default:
		}
		return nil, nil
	})
	return c
}

// WaitReady blocks until the worker announced itself.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Test checks that binary payloads survive the channel. The worker only
// answers the first test.
func (c *Client) Test(ctx context.Context) (bool, error) {
	if err := c.main.Send(ctx, "test", []byte{0x25, 0x50, 0x44, 0x46}); err != nil {
		return false, err
	}
	select {
	case ok := <-c.test:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Configure sets the worker's log verbosity: 0 errors, 1 warnings, 5
// infos.
func (c *Client) Configure(ctx context.Context, verbosity int) error {
	return c.main.Send(ctx, "configure", map[string]int{"verbosity": verbosity})
}

// Close destroys the main handler and closes the port.
func (c *Client) Close() error {
	c.main.Destroy()
	return c.mux.Close()
}

// docParams mirrors the GetDocRequest payload.
type docParams struct {
	DocID            string `json:"docId"`
	APIVersion       string `json:"apiVersion,omitempty"`
	Data             []byte `json:"data,omitempty"`
	URL              string `json:"url,omitempty"`
	Password         string `json:"password,omitempty"`
	Length           int64  `json:"length,omitempty"`
	RangeChunkSize   int    `json:"rangeChunkSize,omitempty"`
	DisableAutoFetch bool   `json:"disableAutoFetch"`
	EnableXFA        bool   `json:"enableXfa"`
	Filename         string `json:"filename,omitempty"`
}

// Open asks the worker to open a document and waits until it is loaded.
// A DocException is returned as *rpc.WireError.
func (c *Client) Open(ctx context.Context, opts OpenOptions) (*Document, error) {
	docID := opts.DocID
	if docID == "" {
		docID = uuid.NewString()
	}
	d := newDocument(c, docID, opts)

	params := docParams{
		DocID:            docID,
		APIVersion:       APIVersion,
		Data:             opts.Data,
		URL:              opts.URL,
		Password:         opts.Password,
		Length:           opts.Length,
		RangeChunkSize:   opts.RangeChunkSize,
		DisableAutoFetch: opts.DisableAutoFetch,
		EnableXFA:        opts.EnableXFA,
		Filename:         opts.Filename,
	}
	if opts.Reader != nil && params.Length == 0 {
		params.Length = opts.Size
	}
	var name string
	if err := c.main.Request(ctx, "GetDocRequest", params, &name); err != nil {
		d.h.Destroy()
		return nil, fmt.Errorf("GetDocRequest failed: %w", err)
	}
	if name != docID+"_worker" {
		d.h.Destroy()
		return nil, fmt.Errorf("unexpected worker handler name %q", name)
	}
	if err := d.h.Send(ctx, "Ready", nil); err != nil {
		d.h.Destroy()
		return nil, err
	}

	select {
	case out := <-d.outcome:
		if out.err != nil {
			d.discard()
			return nil, out.err
		}
		d.info = out.info
		return d, nil
	case <-ctx.Done():
		d.discard()
		return nil, ctx.Err()
	}
}

// APIVersion is the protocol version announced to the worker.
const APIVersion = "1"

// discardTimeout bounds the Terminate sent for a document that failed to
// open.
const discardTimeout = 5 * time.Second
