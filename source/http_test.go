package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveDocument(data []byte) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "doc.pdf", time.Time{}, bytes.NewReader(data))
	})
}

func readAllChunks(t *testing.T, fr FullReader) []byte {
	t.Helper()
	var out []byte
	for {
		chunk, err := fr.Read(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, chunk...)
	}
}

func TestHTTPTransportRanges(t *testing.T) {
	data := bytes.Repeat(testData, 10000)
	srv := httptest.NewServer(serveDocument(data))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, HTTPOptions{RequestsPerSecond: 100, Burst: 10})
	ctx := context.Background()

	fr, err := tr.FullReader(ctx)
	require.NoError(t, err)
	h, err := fr.Headers(ctx)
	require.NoError(t, err)
	assert.True(t, h.RangeSupported)
	assert.EqualValues(t, len(data), h.ContentLength)
	assert.Equal(t, data, readAllChunks(t, fr))

	part, err := tr.RequestRange(ctx, 100, 150)
	require.NoError(t, err)
	assert.Equal(t, data[100:150], part)
}

func TestHTTPTransportNoRanges(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(testData)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, HTTPOptions{})
	ctx := context.Background()
	fr, err := tr.FullReader(ctx)
	require.NoError(t, err)
	h, err := fr.Headers(ctx)
	require.NoError(t, err)
	assert.False(t, h.RangeSupported)
	fr.Cancel(nil)

	// a server that ignores Range still yields the right bytes
	part, err := tr.RequestRange(ctx, 5, 9)
	require.NoError(t, err)
	assert.Equal(t, "5678", string(part))
}

func TestHTTPTransportMissing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewHTTPTransport(srv.URL, HTTPOptions{}).FullReader(context.Background())
	require.Error(t, err)
	assert.True(t, IsMissing(err))
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusNotFound, te.Status)
}

func TestHTTPTransportCancelAll(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, HTTPOptions{})
	errs := make(chan error, 1)
	go func() {
		_, err := tr.RequestRange(context.Background(), 0, 10)
		errs <- err
	}()
	<-started

	reason := errors.New("worker was terminated")
	tr.CancelAll(reason)
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, reason)
	case <-time.After(timeout):
		t.Fatal("request was not cancelled")
	}
}

func TestResolveOverHTTP(t *testing.T) {
	data := bytes.Repeat(testData, 20000)
	srv := httptest.NewServer(serveDocument(data))
	defer srv.Close()

	r := NewResolver(NewHTTPTransport(srv.URL, HTTPOptions{}), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	res, err := r.Resolve(ctx, Params{ChunkSize: 1 << 14})
	require.NoError(t, err)

	buf := make([]byte, 40)
	_, err = res.Source.ReadAt(buf, int64(len(data)-40))
	require.NoError(t, err)
	assert.Equal(t, data[len(data)-40:], buf)

	all, err := res.Source.Loaded(ctx)
	require.NoError(t, err)
	assert.Equal(t, data, all)
}
