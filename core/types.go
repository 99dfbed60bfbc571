package core

import (
	"context"
	"encoding/hex"

	"github.com/cockroachdb/errors"
)

// Hash is an opaque 32-byte block hash.
type Hash [32]byte

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// HeaderID identifies a block on a chain by number and hash.
type HeaderID struct {
	Number uint64
	Hash   Hash
}

// FailedClient classifies which leg of a pipeline has failed. It is returned
// as an error by RunUntilConnectionLost so that the supervisor can decide
// which connections to rebuild.
type FailedClient int

const (
	FailedClientSource FailedClient = iota + 1
	FailedClientTarget
	FailedClientBoth
)

var _ error = FailedClientSource

func (c FailedClient) Error() string {
	switch c {
	case FailedClientSource:
		return "source client failed"
	case FailedClientTarget:
		return "target client failed"
	case FailedClientBoth:
		return "both clients failed"
	default:
		return "unknown client failed"
	}
}

// TrackedTransactionStatus is a terminal status of a submitted transaction.
type TrackedTransactionStatus int

const (
	// TransactionFinalized means the transaction has been included in a
	// finalized block of the target chain.
	TransactionFinalized TrackedTransactionStatus = iota
	// TransactionLost means we have lost track of the transaction; it may or
	// may not have been included.
	TransactionLost
	// TransactionInvalid means the target chain has rejected the transaction.
	TransactionInvalid
)

func (s TrackedTransactionStatus) String() string {
	switch s {
	case TransactionFinalized:
		return "finalized"
	case TransactionLost:
		return "lost"
	case TransactionInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// TransactionTracker follows a submitted transaction until it reaches a
// terminal status. Wait returns TransactionLost if the context is cancelled
// before a terminal status is observed.
type TransactionTracker interface {
	Wait(ctx context.Context) TrackedTransactionStatus
}

// MaybeConnectionError lets client implementations mark errors that are
// caused by a broken connection. Such errors are handled by reconnecting the
// client instead of terminating the pipeline.
type MaybeConnectionError interface {
	IsConnectionError() bool
}

// IsConnectionError reports whether any error in err's chain is a connection
// error.
func IsConnectionError(err error) bool {
	var connErr MaybeConnectionError
	if errors.As(err, &connErr) {
		return connErr.IsConnectionError()
	}
	return false
}

// clientError attributes an iteration failure to one pipeline leg.
type clientError struct {
	failed FailedClient
	err    error
}

func (e *clientError) Error() string {
	return e.failed.Error() + ": " + e.err.Error()
}

func (e *clientError) Unwrap() error {
	return e.err
}

func sourceError(err error) error {
	return &clientError{failed: FailedClientSource, err: err}
}

func targetError(err error) error {
	return &clientError{failed: FailedClientTarget, err: err}
}
