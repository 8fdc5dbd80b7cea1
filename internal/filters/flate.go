package filters

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
)

func inflate(data []byte, p Params) ([]byte, error) {
	out, err := readAllLenient(zlibOrRaw(data))
	if err != nil {
		return nil, err
	}
	return unpredict(out, p)
}

// zlibOrRaw falls back to a bare deflate stream when the zlib header is
// missing.
func zlibOrRaw(data []byte) io.ReadCloser {
	if zr, err := zlib.NewReader(bytes.NewReader(data)); err == nil {
		return zr
	}
	return flate.NewReader(bytes.NewReader(data))
}

// readAllLenient keeps what was inflated before a truncated end or a bad
// checksum.
func readAllLenient(rc io.ReadCloser) ([]byte, error) {
	defer rc.Close()
	out, err := io.ReadAll(rc)
	switch {
	case err == nil:
		return out, nil
	case len(out) > 0 && (errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, zlib.ErrChecksum)):
		return out, nil
	}
	return nil, fmt.Errorf("inflate: %w", err)
}

// FlateEncode compresses data with zlib.
func FlateEncode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	return buf.Bytes(), nil
}
