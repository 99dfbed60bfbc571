package substrate

import (
	"fmt"
)

// Error wraps a failed chain operation. Connection reports whether the
// failure came from the RPC transport, in which case the caller is expected
// to reconnect and retry instead of failing the pipeline.
type Error struct {
	Op         string
	Err        error
	Connection bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) IsConnectionError() bool {
	return e.Connection
}

// connectionError marks a failure of the RPC transport itself.
func connectionError(op string, err error) error {
	return &Error{Op: op, Err: err, Connection: true}
}

// operationError marks a failure unrelated to the transport, such as a
// decoding failure or an unexpected chain response.
func operationError(op string, err error) error {
	return &Error{Op: op, Err: err}
}
