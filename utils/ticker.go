package utils

import (
	"context"
	"time"

	"go.viam.com/scampca/logging"
)

// SlowLogger warns with msg every interval until the returned function is called or ctx is done.
// The interval doubles after each warning.
func SlowLogger(ctx context.Context, msg string, interval time.Duration, logger logging.Logger, keysAndValues ...interface{}) func() {
	slowTicker := time.NewTicker(interval)
	ctxWithCancel, cancel := context.WithCancel(ctx)
	startTime := time.Now()
	go func() {
		next := interval
		for {
			select {
			case <-slowTicker.C:
				elapsed := time.Since(startTime).Round(time.Millisecond).String()
				fields := append(append([]interface{}{}, keysAndValues...), "time_elapsed", elapsed)
				logger.Warnw(msg, fields...)
				next *= 2
				slowTicker.Reset(next)
			case <-ctxWithCancel.Done():
				return
			}
		}
	}()
	return func() { slowTicker.Stop(); cancel() }
}
