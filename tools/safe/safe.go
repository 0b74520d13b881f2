package safe

import (
	"ticketchat/logger"
	"ticketchat/tools/errs"

	"go.uber.org/zap"
)

// SafeGo starts a new goroutine that recovers from panic,
// so that panics don't crash the entire program.
func SafeGo(name string, f func()) {
	go func() {
		if err := Run(f); err != nil {
			logger.Named("safe").Error("goroutine panic recovered", zap.String("goroutine", name), zap.Error(err))
		}
	}()
}

// Run calls f and turns a panic into an error carrying the stack.
func Run(f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrPanic(r)
		}
	}()
	f()
	return nil
}
