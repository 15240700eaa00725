// Package fault holds the error categories shared by the codecs. Every concrete error returned by
// the protocol, blocks, nbt, region and chunk packages wraps exactly one of these categories, so
// callers can decide how to react without knowing every sentinel.
package fault

import "errors"

var (
	// ErrMalformedInput means the input violates its format: a bad varint, manifest or tag tree.
	ErrMalformedInput = errors.New("malformed input")
	// ErrShortRead means the data ended before the operation could complete. The underlying
	// source error (io.EOF for an orderly close) stays in the chain.
	ErrShortRead = errors.New("short read")
	// ErrResourceLimit means a configured or format bound would have been exceeded.
	ErrResourceLimit = errors.New("resource limit exceeded")
	// ErrUnsupportedFormat means the input is well formed but uses a variant we do not handle.
	ErrUnsupportedFormat = errors.New("unsupported format")
)

// OpError records which sub-operation failed, like os.PathError does for file operations.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Op wraps err with the name of the failing sub-operation. A nil err stays nil.
func Op(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}
