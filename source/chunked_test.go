package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rangeRecorder struct {
	data []byte
	gate chan struct{}
	err  error

	mu       sync.Mutex
	requests [][2]int64
}

func (r *rangeRecorder) RequestRange(ctx context.Context, begin, end int64) ([]byte, error) {
	r.mu.Lock()
	r.requests = append(r.requests, [2]int64{begin, end})
	r.mu.Unlock()
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return append([]byte(nil), r.data[begin:end]...), nil
}

func (r *rangeRecorder) calls() [][2]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]int64(nil), r.requests...)
}

var testData = []byte("0123456789abcdefghij")

func TestChunkedStreamCoalesces(t *testing.T) {
	rt := &rangeRecorder{data: testData}
	cs := NewChunkedStream(int64(len(testData)), 4, rt)
	assert.Equal(t, 5, cs.NumChunks())

	buf := make([]byte, 10)
	n, err := cs.ReadAt(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "23456789ab", string(buf))
	assert.Equal(t, [][2]int64{{0, 12}}, rt.calls())
	assert.Equal(t, 3, cs.LoadedChunks())

	// already present
	_, err = cs.ReadAt(buf[:4], 4)
	require.NoError(t, err)
	assert.Len(t, rt.calls(), 1)

	n, err = cs.ReadAt(buf, 15)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 5, n)
	assert.Equal(t, "fghij", string(buf[:n]))
	assert.Equal(t, [2]int64{12, 20}, rt.calls()[1])

	_, err = cs.ReadAt(buf, 20)
	assert.ErrorIs(t, err, io.EOF)
}

func TestChunkedStreamProgressive(t *testing.T) {
	rt := &rangeRecorder{data: testData}
	cs := NewChunkedStream(int64(len(testData)), 8, rt)

	require.NoError(t, cs.AppendProgressive(testData[:5]))
	assert.Equal(t, 0, cs.LoadedChunks())
	require.NoError(t, cs.AppendProgressive(testData[5:17]))
	assert.Equal(t, 2, cs.LoadedChunks())

	buf := make([]byte, 16)
	_, err := cs.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, testData[:16], buf)
	assert.Empty(t, rt.calls())

	select {
	case <-cs.Complete():
		t.Fatal("stream complete too early")
	default:
	}
	require.NoError(t, cs.AppendProgressive(testData[17:]))
	assert.True(t, cs.IsComplete())
	<-cs.Complete()
	assert.Error(t, cs.AppendProgressive([]byte("x")))

	all, err := cs.Loaded(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testData, all)
	assert.Empty(t, rt.calls())
}

func TestChunkedStreamSharedFetch(t *testing.T) {
	rt := &rangeRecorder{data: testData, gate: make(chan struct{})}
	cs := NewChunkedStream(int64(len(testData)), 4, rt)

	var wg sync.WaitGroup
	results := make([]string, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			buf := make([]byte, 2)
			if _, err := cs.ReadAt(buf, 4); err == nil {
				results[i] = string(buf)
			}
		}(i)
	}
	require.Eventually(t, func() bool { return len(rt.calls()) == 1 }, timeout, tick)
	close(rt.gate)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "45", r)
	}
	assert.Len(t, rt.calls(), 1)
}

func TestChunkedStreamErrors(t *testing.T) {
	boom := errors.New("boom")
	rt := &rangeRecorder{data: testData, err: boom}
	cs := NewChunkedStream(int64(len(testData)), 4, rt)

	_, err := cs.ReadAt(make([]byte, 1), 0)
	assert.ErrorIs(t, err, boom)

	rt.err = nil
	buf := make([]byte, 1)
	_, err = cs.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, byte('0'), buf[0])
}

func TestChunkedStreamAbort(t *testing.T) {
	rt := &rangeRecorder{data: testData, gate: make(chan struct{})}
	cs := NewChunkedStream(int64(len(testData)), 4, rt)

	errs := make(chan error, 1)
	go func() {
		_, err := cs.ReadAt(make([]byte, 1), 0)
		errs <- err
	}()
	require.Eventually(t, func() bool { return len(rt.calls()) == 1 }, timeout, tick)

	cs.Abort(errors.New("worker was terminated"))
	assert.ErrorIs(t, <-errs, ErrAborted)
	_, err := cs.Loaded(context.Background())
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, cs.AppendProgressive([]byte("0")), ErrAborted)
}

func TestBytes(t *testing.T) {
	b := NewBytes(testData)
	assert.EqualValues(t, 20, b.Length())
	data, err := b.Loaded(context.Background())
	require.NoError(t, err)
	assert.True(t, bytes.Equal(testData, data))
}
