package protocol

import (
	"errors"
	"fmt"
)

// ErrCodec marks a malformed packet. Codec failures are transient: the
// offending bytes have been consumed and the stream may be read again.
var ErrCodec = errors.New("malformed packet")

// IOError is a failure of the underlying stream. It is permanent; the
// connection that produced it should be abandoned.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IsIO reports whether err is a stream failure.
func IsIO(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}

// IsCodec reports whether err is a malformed-packet failure.
func IsCodec(err error) bool {
	return errors.Is(err, ErrCodec)
}

func codecErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCodec, fmt.Sprintf(format, args...))
}
