package core

import (
	"errors"
	"fmt"
)

// ErrInvalidPDF is returned when the input does not look like a PDF at all.
var ErrInvalidPDF = errors.New("invalid PDF structure")

// ErrObjectNotFound is returned by XRef.Fetch for references that have no
// in-use entry.
var ErrObjectNotFound = errors.New("object not found")

// SyntaxError reports malformed PDF syntax at a byte offset.
type SyntaxError struct {
	Offset int64
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Offset, e.Msg)
}

// StreamLengthError is returned by the parser when a stream's /Length is
// missing, unresolvable, or does not land on "endstream". DataOffset is the
// absolute offset of the first data byte so callers holding random access
// to the file can recover the data by scanning.
type StreamLengthError struct {
	Dict       Dict
	DataOffset int64
}

func (e *StreamLengthError) Error() string {
	return fmt.Sprintf("bad stream length for data at offset %d", e.DataOffset)
}

// XRefParseError reports that the cross-reference information could not be
// read. A loader reacts to it by rebuilding the table in recovery mode.
type XRefParseError struct {
	Offset int64
	Err    error
}

func (e *XRefParseError) Error() string {
	return fmt.Sprintf("failed to parse xref at offset %d: %v", e.Offset, e.Err)
}

func (e *XRefParseError) Unwrap() error {
	return e.Err
}

// IsXRefParseError reports whether err wraps an XRefParseError.
func IsXRefParseError(err error) bool {
	var xe *XRefParseError
	return errors.As(err, &xe)
}
