package rt

import (
	"errors"
	"fmt"
)

// ErrorCode enumerates VM-level error conditions raised through runtime
// stubs. They are deferred, recoverable errors of the executing program,
// not build failures.
type ErrorCode uint8

const (
	// ErrLinkage is an unresolved-symbol failure surfaced at the
	// instantiation site.
	ErrLinkage ErrorCode = iota + 1
	ErrClassCast
	ErrArrayIndexOutOfBounds
	ErrNegativeArraySize
	ErrArrayStore
	ErrIllegalMonitorState
	ErrNullPointer
)

func (c ErrorCode) String() string {
	switch c {
	case ErrLinkage:
		return "linkage error"
	case ErrClassCast:
		return "class cast"
	case ErrArrayIndexOutOfBounds:
		return "array index out of bounds"
	case ErrNegativeArraySize:
		return "negative array size"
	case ErrArrayStore:
		return "array store"
	case ErrIllegalMonitorState:
		return "illegal monitor state"
	case ErrNullPointer:
		return "null pointer"
	default:
		return "vm error?"
	}
}

// VMError is a language-level error object materialized by a runtime stub.
type VMError struct {
	Code ErrorCode
	Msg  string
}

func (e *VMError) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Msg
}

// Throwf builds a VMError.
func Throwf(code ErrorCode, format string, args ...any) *VMError {
	return &VMError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// IsVMError reports whether err is a VMError of the given code.
func IsVMError(err error, code ErrorCode) bool {
	var ve *VMError
	return errors.As(err, &ve) && ve.Code == code
}

// ErrDeoptimized is the speculative-check outcome: the compiled frame is
// abandoned for a lower execution tier. It is distinct from every VMError.
var ErrDeoptimized = errors.New("deoptimized")
