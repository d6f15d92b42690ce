package util

import (
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ozontech/mempool/logger"
)

type panicWrapper struct {
	e error
}

func (p *panicWrapper) Unwrap() error {
	return p.e
}

func (p *panicWrapper) Error() string {
	return p.e.Error()
}

func IsRecoveredPanicError(e error) bool {
	if e == nil {
		return false
	}

	var p *panicWrapper
	if errors.As(e, &p) {
		return true
	}

	var re runtime.Error
	return errors.As(e, &re)
}

// RecoverToError turns the value returned by recover into an error, counts
// it in metric and logs it with the stack. Nil panicData yields nil.
// metric may be nil.
func RecoverToError(panicData any, metric prometheus.Counter) error {
	err := fetchError(panicData)
	if err == nil {
		return nil
	}
	if metric != nil {
		metric.Inc()
	}
	logger.Error("recovered from panic", zap.Error(err), zap.ByteString("stack", debug.Stack()))
	return &panicWrapper{e: err}
}

func fetchError(panicData any) error {
	if panicData != nil {
		if err, ok := panicData.(error); ok {
			return err
		}
		return fmt.Errorf("%v", panicData)
	}
	return nil
}
