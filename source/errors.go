package source

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrConsumed is returned by a PendingSource that was merged or
	// flushed into a streaming source.
	ErrConsumed = errors.New("source: pending data already consumed")
	// ErrAborted is returned by reads on a ChunkedStream after Abort.
	ErrAborted = errors.New("source: stream aborted")
)

// TransportError reports a failed transfer.
type TransportError struct {
	URL    string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("transport %s: status %d: %v", e.URL, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("transport %s: unexpected status %d", e.URL, e.Status)
	default:
		return fmt.Sprintf("transport %s: %v", e.URL, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Missing reports whether the document does not exist at all.
func (e *TransportError) Missing() bool {
	return e.Status == http.StatusNotFound || e.Status == http.StatusGone
}

// IsMissing reports whether err is a TransportError for a missing document.
func IsMissing(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Missing()
}
