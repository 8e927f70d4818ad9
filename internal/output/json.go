package output

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/ALT-F4-LLC/litepool/internal/pool"
)

// ErrorCode represents a machine-readable error classification.
type ErrorCode string

// Error code constants.
const (
	ErrGeneral             ErrorCode = "GENERAL_ERROR"
	ErrValidation          ErrorCode = "VALIDATION_ERROR"
	ErrNotInitialized      ErrorCode = "NOT_INITIALIZED"
	ErrPoolState           ErrorCode = "POOL_STATE"
	ErrCapability          ErrorCode = "CAPABILITY"
	ErrTransactionConflict ErrorCode = "TRANSACTION_CONFLICT"
	ErrTransactionFailed   ErrorCode = "TRANSACTION_FAILED"
	ErrUnavailable         ErrorCode = "UNAVAILABLE"
	ErrInterrupted         ErrorCode = "INTERRUPTED"
	ErrStatement           ErrorCode = "STATEMENT_ERROR"
)

// Exit code constants.
const (
	ExitSuccess        = 0
	ExitGeneral        = 1
	ExitNotInitialized = 2
	ExitValidation     = 3
	ExitConflict       = 4
	ExitUnavailable    = 5
	ExitInterrupted    = 130
)

// ExitCodeForError maps an ErrorCode to its corresponding exit code.
func ExitCodeForError(code ErrorCode) int {
	switch code {
	case ErrNotInitialized:
		return ExitNotInitialized
	case ErrValidation:
		return ExitValidation
	case ErrTransactionConflict, ErrPoolState:
		return ExitConflict
	case ErrUnavailable:
		return ExitUnavailable
	case ErrInterrupted:
		return ExitInterrupted
	default:
		return ExitGeneral
	}
}

// CodeFor classifies err by the pool error taxonomy. Interruption is checked
// first since it can wrap any other failure.
func CodeFor(err error) ErrorCode {
	switch {
	case errors.Is(err, pool.ErrInterrupted):
		return ErrInterrupted
	case errors.Is(err, pool.ErrTransactionConflict):
		return ErrTransactionConflict
	case errors.Is(err, pool.ErrTransactionFailed):
		return ErrTransactionFailed
	case errors.Is(err, pool.ErrConfiguration):
		return ErrValidation
	case errors.Is(err, pool.ErrPoolState), errors.Is(err, pool.ErrConnectionClosed):
		return ErrPoolState
	case errors.Is(err, pool.ErrCapability):
		return ErrCapability
	case errors.Is(err, pool.ErrUnavailable):
		return ErrUnavailable
	case errors.Is(err, pool.ErrStatement):
		return ErrStatement
	default:
		return ErrGeneral
	}
}

// successEnvelope is the JSON structure for successful responses.
type successEnvelope struct {
	OK      bool   `json:"ok"`
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
}

// errorEnvelope is the JSON structure for error responses.
type errorEnvelope struct {
	OK    bool      `json:"ok"`
	Error string    `json:"error"`
	Code  ErrorCode `json:"code"`
}

// writeJSONSuccess writes a success envelope to w.
func writeJSONSuccess(w io.Writer, data any, message string) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(successEnvelope{
		OK:      true,
		Data:    data,
		Message: message,
	})
}

// writeJSONError writes an error envelope to w.
func writeJSONError(w io.Writer, err error, code ErrorCode) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(errorEnvelope{
		OK:    false,
		Error: err.Error(),
		Code:  code,
	})
}
