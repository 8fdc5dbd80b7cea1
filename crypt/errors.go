package crypt

import (
	"errors"
	"fmt"
)

// PasswordCode tells the host why a password is being asked for.
type PasswordCode int

const (
	// NeedPassword means no password (or the empty password) was tried yet.
	NeedPassword PasswordCode = 1
	// IncorrectPassword means the supplied password was rejected.
	IncorrectPassword PasswordCode = 2
)

func (c PasswordCode) String() string {
	switch c {
	case NeedPassword:
		return "NeedPassword"
	case IncorrectPassword:
		return "IncorrectPassword"
	}
	return fmt.Sprintf("PasswordCode(%d)", int(c))
}

// PasswordError is returned when the document cannot be decrypted with the
// password supplied so far.
type PasswordError struct {
	Code PasswordCode
	Msg  string
}

func (e *PasswordError) Error() string {
	return e.Msg
}

// AsPasswordError extracts a PasswordError from err.
func AsPasswordError(err error) (*PasswordError, bool) {
	var pe *PasswordError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ErrUnsupported is returned for security handlers other than /Standard or
// for unknown revisions.
var ErrUnsupported = errors.New("unsupported encryption")
