package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// readChunkSize is the size of the chunks the full reader returns.
const readChunkSize = 64 * 1024

// HTTPOptions configures an HTTPTransport.
type HTTPOptions struct {
	Client *http.Client
	Header http.Header
	// RequestsPerSecond limits range requests. Zero means unlimited.
	RequestsPerSecond float64
	Burst             int
}

// HTTPTransport fetches a document over HTTP, using Range requests when the
// server supports them.
type HTTPTransport struct {
	url     string
	client  *http.Client
	header  http.Header
	limiter *rate.Limiter

	mu      sync.Mutex
	nextID  int
	cancels map[int]context.CancelCauseFunc
}

// NewHTTPTransport creates a transport for url.
func NewHTTPTransport(url string, opts HTTPOptions) *HTTPTransport {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return &HTTPTransport{
		url:     url,
		client:  client,
		header:  opts.Header,
		limiter: limiter,
		cancels: make(map[int]context.CancelCauseFunc),
	}
}

func (t *HTTPTransport) track(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.cancels[id] = cancel
	t.mu.Unlock()
	return ctx, func() {
		t.mu.Lock()
		delete(t.cancels, id)
		t.mu.Unlock()
		cancel(nil)
	}
}

func (t *HTTPTransport) do(ctx context.Context, rangeHeader string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, http.NoBody)
	if err != nil {
		return nil, &TransportError{URL: t.url, Err: err}
	}
	for k, vs := range t.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, ctx.Err()) {
			err = cause
		}
		return nil, &TransportError{URL: t.url, Err: err}
	}
	return resp, nil
}

// RequestRange fetches bytes [begin,end).
func (t *HTTPTransport) RequestRange(ctx context.Context, begin, end int64) ([]byte, error) {
	ctx, done := t.track(ctx)
	defer done()
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{URL: t.url, Err: err}
	}
	resp, err := t.do(ctx, fmt.Sprintf("bytes=%d-%d", begin, end-1))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		data, err := io.ReadAll(io.LimitReader(resp.Body, end-begin))
		if err != nil {
			return nil, &TransportError{URL: t.url, Status: resp.StatusCode, Err: err}
		}
		return data, nil
	case http.StatusOK:
		// the server ignored the range and sent everything
		data, err := io.ReadAll(io.LimitReader(resp.Body, end))
		if err != nil {
			return nil, &TransportError{URL: t.url, Status: resp.StatusCode, Err: err}
		}
		if int64(len(data)) < end {
			return nil, &TransportError{URL: t.url, Status: resp.StatusCode, Err: io.ErrUnexpectedEOF}
		}
		return data[begin:end], nil
	default:
		return nil, &TransportError{URL: t.url, Status: resp.StatusCode}
	}
}

// FullReader starts the whole-file request.
func (t *HTTPTransport) FullReader(ctx context.Context) (FullReader, error) {
	ctx, done := t.track(ctx)
	resp, err := t.do(ctx, "")
	if err != nil {
		done()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		done()
		return nil, &TransportError{URL: t.url, Status: resp.StatusCode}
	}
	return &httpFullReader{url: t.url, resp: resp, done: done}, nil
}

// CancelAll aborts every request in flight.
func (t *HTTPTransport) CancelAll(reason error) {
	t.mu.Lock()
	cancels := make([]context.CancelCauseFunc, 0, len(t.cancels))
	for _, c := range t.cancels {
		cancels = append(cancels, c)
	}
	t.mu.Unlock()
	for _, c := range cancels {
		c(reason)
	}
}

type httpFullReader struct {
	url  string
	resp *http.Response
	once sync.Once
	done func()
}

func (r *httpFullReader) Headers(context.Context) (Headers, error) {
	h := Headers{
		StreamingSupported: true,
		ContentLength:      r.resp.ContentLength,
	}
	if h.ContentLength < 0 {
		h.ContentLength = 0
	}
	if n, err := strconv.ParseInt(r.resp.Header.Get("Content-Length"), 10, 64); err == nil && h.ContentLength == 0 {
		h.ContentLength = n
	}
	encoded := r.resp.Header.Get("Content-Encoding")
	h.RangeSupported = strings.EqualFold(r.resp.Header.Get("Accept-Ranges"), "bytes") &&
		(encoded == "" || strings.EqualFold(encoded, "identity")) &&
		h.ContentLength > 0
	return h, nil
}

func (r *httpFullReader) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		r.close()
		return nil, err
	}
	buf := make([]byte, readChunkSize)
	n, err := io.ReadFull(r.resp.Body, buf)
	switch {
	case n > 0:
		return buf[:n], nil
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		r.close()
		return nil, io.EOF
	case err != nil:
		r.close()
		return nil, &TransportError{URL: r.url, Status: r.resp.StatusCode, Err: err}
	}
	return nil, io.EOF
}

func (r *httpFullReader) Cancel(error) { r.close() }

func (r *httpFullReader) close() {
	r.once.Do(func() {
		r.resp.Body.Close()
		r.done()
	})
}
