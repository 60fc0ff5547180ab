package safe

import (
	"PPSignal/logger"
	"PPSignal/tools/errs"

	"go.uber.org/zap"
)

// Go starts a goroutine that recovers from panic, so one failing
// background task cannot take the process down.
func Go(name string, f func()) {
	go Run(name, f)
}

// Run executes f in the current goroutine and converts a panic into a log line.
func Run(name string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[safe] panic recovered", zap.String("task", name), zap.Error(errs.ErrPanic(r)))
		}
	}()
	f()
}
