package contentstream

// DefaultChunkSize is the number of operations sent per operator list
// chunk.
const DefaultChunkSize = 1000

// Chunk is one streamed piece of a page's operator list.
type Chunk struct {
	FnArray   []OpCode `json:"fnArray"`
	ArgsArray [][]any  `json:"argsArray"`
	LastChunk bool     `json:"lastChunk"`
	Length    int      `json:"length"` // operations emitted so far, this chunk included
}

// ListBuilder accumulates operations and hands them to emit in chunks of
// chunkSize. An error from emit stops the builder; later calls return it.
type ListBuilder struct {
	chunkSize int
	emit      func(Chunk) error

	fn    []OpCode
	args  [][]any
	total int
	err   error
	done  bool
}

// NewListBuilder creates a builder. A chunkSize of zero or less uses
// DefaultChunkSize.
func NewListBuilder(chunkSize int, emit func(Chunk) error) *ListBuilder {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ListBuilder{chunkSize: chunkSize, emit: emit}
}

// Add appends one operation, flushing a chunk when the buffer is full.
func (b *ListBuilder) Add(code OpCode, args []any) error {
	if b.err != nil {
		return b.err
	}
	if args == nil {
		args = []any{}
	}
	b.fn = append(b.fn, code)
	b.args = append(b.args, args)
	if len(b.fn) >= b.chunkSize {
		return b.flush(false)
	}
	return nil
}

// Len returns the number of operations added so far.
func (b *ListBuilder) Len() int {
	return b.total + len(b.fn)
}

// Close sends the final chunk. It is sent even when empty so the receiver
// always sees LastChunk.
func (b *ListBuilder) Close() error {
	if b.err != nil {
		return b.err
	}
	if b.done {
		return nil
	}
	b.done = true
	return b.flush(true)
}

func (b *ListBuilder) flush(last bool) error {
	b.total += len(b.fn)
	chunk := Chunk{
		FnArray:   b.fn,
		ArgsArray: b.args,
		LastChunk: last,
		Length:    b.total,
	}
	if chunk.FnArray == nil {
		chunk.FnArray = []OpCode{}
		chunk.ArgsArray = [][]any{}
	}
	b.fn, b.args = nil, nil
	if err := b.emit(chunk); err != nil {
		b.err = err
		return err
	}
	return nil
}
