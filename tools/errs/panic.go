package errs

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ErrPanic wraps a recovered value as an internal CodeError with the stack of
// the recover site. nil stays nil.
func ErrPanic(r any) error {
	if r == nil {
		return nil
	}
	detail := fmt.Sprint(r)
	if err, ok := r.(error); ok {
		detail = err.Error()
	}
	return pkgerrors.WithStack(&CodeError{Code: ServerInternalError, Msg: "panic recovered", Detail: detail})
}
