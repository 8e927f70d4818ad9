package pool

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every failure surfaced by the pool, the registry and the
// store wraps exactly one of these sentinels so callers can classify it with
// errors.Is.
var (
	ErrConfiguration       = errors.New("invalid configuration")
	ErrPoolState           = errors.New("pool not running")
	ErrConnectionClosed    = errors.New("connection is closed")
	ErrCapability          = errors.New("operation not permitted on connection")
	ErrTransactionConflict = errors.New("transaction connection conflict")
	ErrTransactionFailed   = errors.New("transaction failed")
	ErrInterrupted         = errors.New("wait interrupted")
	ErrUnavailable         = errors.New("no connection available")
	ErrStatement           = errors.New("statement failed")
)

// TxError reports a failed transaction. Err is the failure raised by the unit
// of work (or by commit); RollbackErr is set when the rollback attempted
// afterwards failed as well.
type TxError struct {
	Err         error
	RollbackErr error
}

func (e *TxError) Error() string {
	if e.RollbackErr != nil {
		return fmt.Sprintf("%s (rollback failed: %v): %v", ErrTransactionFailed, e.RollbackErr, e.Err)
	}
	return fmt.Sprintf("%s: %v", ErrTransactionFailed, e.Err)
}

// Unwrap exposes the sentinel, the original cause and the rollback failure.
func (e *TxError) Unwrap() []error {
	errs := []error{ErrTransactionFailed, e.Err}
	if e.RollbackErr != nil {
		errs = append(errs, e.RollbackErr)
	}
	return errs
}
