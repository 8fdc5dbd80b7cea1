package source

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// DefaultChunkSize is the range request granularity.
const DefaultChunkSize = 65536

// RangeTransport fetches byte ranges of the document.
type RangeTransport interface {
	// RequestRange returns bytes [begin,end).
	RequestRange(ctx context.Context, begin, end int64) ([]byte, error)
}

// ChunkedStream is a source of known length whose bytes arrive in chunks,
// either progressively from the start of the file or through range
// requests issued when a read touches a missing chunk.
type ChunkedStream struct {
	length    int64
	chunkSize int64
	transport RangeTransport

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	data        []byte
	loaded      []bool
	numLoaded   int
	pending     map[int]chan struct{}
	progressive int64
	err         error
	complete    chan struct{}
}

// NewChunkedStream creates a stream of length bytes. A chunkSize of zero
// selects DefaultChunkSize.
func NewChunkedStream(length int64, chunkSize int, transport RangeTransport) *ChunkedStream {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	cs := int64(chunkSize)
	ctx, cancel := context.WithCancel(context.Background())
	s := &ChunkedStream{
		length:    length,
		chunkSize: cs,
		transport: transport,
		ctx:       ctx,
		cancel:    cancel,
		data:      make([]byte, length),
		loaded:    make([]bool, (length+cs-1)/cs),
		pending:   make(map[int]chan struct{}),
		complete:  make(chan struct{}),
	}
	if len(s.loaded) == 0 {
		close(s.complete)
	}
	return s
}

// Complete is closed once every chunk is present.
func (s *ChunkedStream) Complete() <-chan struct{} { return s.complete }

func (s *ChunkedStream) chunkLoadedLocked(c int) {
	s.loaded[c] = true
	s.numLoaded++
	if s.numLoaded == len(s.loaded) {
		close(s.complete)
	}
}

// Length returns the size of the document.
func (s *ChunkedStream) Length() int64 { return s.length }

// NumChunks returns how many chunks the document spans.
func (s *ChunkedStream) NumChunks() int { return len(s.loaded) }

// LoadedChunks returns how many chunks are present.
func (s *ChunkedStream) LoadedChunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numLoaded
}

// IsComplete reports whether every chunk is present.
func (s *ChunkedStream) IsComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numLoaded == len(s.loaded)
}

func (s *ChunkedStream) chunkEnd(c int) int64 {
	return min(int64(c+1)*s.chunkSize, s.length)
}

// markLocked stores the bytes of chunk c unless it is already present.
func (s *ChunkedStream) markLocked(c int, b []byte) {
	if s.loaded[c] {
		return
	}
	copy(s.data[int64(c)*s.chunkSize:s.chunkEnd(c)], b)
	s.chunkLoadedLocked(c)
}

// AppendProgressive adds bytes that continue the sequential read of the
// file. Chunks become readable once they are fully covered.
func (s *ChunkedStream) AppendProgressive(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	begin := s.progressive
	end := begin + int64(len(chunk))
	if end > s.length {
		return fmt.Errorf("progressive data exceeds length %d", s.length)
	}
	s.progressive = end
	for off := begin; off < end; {
		c := int(off / s.chunkSize)
		stop := min(s.chunkEnd(c), end)
		if !s.loaded[c] {
			copy(s.data[off:stop], chunk[off-begin:stop-begin])
			if stop == s.chunkEnd(c) {
				s.chunkLoadedLocked(c)
			}
		}
		off = stop
	}
	return nil
}

// ReadAt reads from the document, fetching missing chunks first.
func (s *ChunkedStream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= s.length {
		return 0, io.EOF
	}
	end := min(off+int64(len(p)), s.length)
	if err := s.ensure(s.ctx, off, end); err != nil {
		return 0, err
	}
	s.mu.Lock()
	n := copy(p, s.data[off:end])
	s.mu.Unlock()
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Loaded fetches every missing chunk and returns the whole document.
func (s *ChunkedStream) Loaded(ctx context.Context) ([]byte, error) {
	if s.length == 0 {
		return s.data, nil
	}
	if err := s.ensure(ctx, 0, s.length); err != nil {
		return nil, err
	}
	return s.data, nil
}

// Abort cancels outstanding range requests and fails later reads.
func (s *ChunkedStream) Abort(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = fmt.Errorf("%w: %v", ErrAborted, err)
	}
	s.mu.Unlock()
	s.cancel()
}

// ensure makes bytes [begin,end) present. Chunks already being fetched by
// another caller are waited for rather than requested twice.
func (s *ChunkedStream) ensure(ctx context.Context, begin, end int64) error {
	first := int(begin / s.chunkSize)
	last := int((end - 1) / s.chunkSize)
	for {
		s.mu.Lock()
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return err
		}
		var (
			wait    []chan struct{}
			missing []int
		)
		for c := first; c <= last; c++ {
			if s.loaded[c] {
				continue
			}
			if ch, ok := s.pending[c]; ok {
				wait = append(wait, ch)
			} else {
				missing = append(missing, c)
			}
		}
		if len(wait) == 0 && len(missing) == 0 {
			s.mu.Unlock()
			return nil
		}
		var done chan struct{}
		if len(missing) > 0 {
			done = make(chan struct{})
			for _, c := range missing {
				s.pending[c] = done
			}
		}
		s.mu.Unlock()

		if len(missing) > 0 {
			if err := s.fetch(ctx, missing, done); err != nil {
				return err
			}
		}
		for _, ch := range wait {
			select {
			case <-ch:
			case <-ctx.Done():
				return ctx.Err()
			case <-s.ctx.Done():
			}
		}
	}
}

// fetch requests the chunks, coalescing adjacent ones into one range.
func (s *ChunkedStream) fetch(ctx context.Context, chunks []int, done chan struct{}) error {
	defer func() {
		s.mu.Lock()
		for _, c := range chunks {
			if s.pending[c] == done {
				delete(s.pending, c)
			}
		}
		s.mu.Unlock()
		close(done)
	}()
	if s.transport == nil {
		return fmt.Errorf("no transport for missing chunks %v", chunks)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	for i := 0; i < len(chunks); {
		j := i
		for j+1 < len(chunks) && chunks[j+1] == chunks[j]+1 {
			j++
		}
		begin := int64(chunks[i]) * s.chunkSize
		end := s.chunkEnd(chunks[j])
		data, err := s.transport.RequestRange(ctx, begin, end)
		if err != nil {
			if s.ctx.Err() != nil {
				s.mu.Lock()
				err = s.err
				s.mu.Unlock()
			}
			return fmt.Errorf("failed to fetch bytes %d-%d: %w", begin, end, err)
		}
		if int64(len(data)) < end-begin {
			return fmt.Errorf("short range response for bytes %d-%d: got %d bytes", begin, end, len(data))
		}
		s.mu.Lock()
		for c := chunks[i]; c <= chunks[j]; c++ {
			off := int64(c)*s.chunkSize - begin
			s.markLocked(c, data[off:off+s.chunkEnd(c)-int64(c)*s.chunkSize])
		}
		s.mu.Unlock()
		i = j + 1
	}
	return nil
}
