package source

// PendingSource collects chunks that arrive before the source is resolved.
// All chunks share one backing buffer and are tracked as [begin,end) pairs.
type PendingSource struct {
	buf      []byte
	spans    [][2]int
	loaded   int64
	consumed bool
}

// Append copies chunk into the arena.
func (p *PendingSource) Append(chunk []byte) error {
	if p.consumed {
		return ErrConsumed
	}
	begin := len(p.buf)
	p.buf = append(p.buf, chunk...)
	p.spans = append(p.spans, [2]int{begin, len(p.buf)})
	p.loaded += int64(len(chunk))
	return nil
}

// Loaded is the number of bytes received so far.
func (p *PendingSource) Loaded() int64 { return p.loaded }

// Len is the number of chunks held.
func (p *PendingSource) Len() int { return len(p.spans) }

// Flush hands every chunk to fn in arrival order and invalidates the arena.
func (p *PendingSource) Flush(fn func(chunk []byte) error) error {
	if p.consumed {
		return ErrConsumed
	}
	p.consumed = true
	defer p.release()
	for _, s := range p.spans {
		if err := fn(p.buf[s[0]:s[1]]); err != nil {
			return err
		}
	}
	return nil
}

// Merge returns the chunks as one contiguous buffer. It succeeds once.
func (p *PendingSource) Merge() ([]byte, error) {
	if p.consumed {
		return nil, ErrConsumed
	}
	p.consumed = true
	data := p.buf[:len(p.buf):len(p.buf)]
	p.buf, p.spans = nil, nil
	return data, nil
}

func (p *PendingSource) release() {
	p.buf, p.spans = nil, nil
}
