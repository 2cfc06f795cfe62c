package utils

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/scampca/logging"
)

func TestRollingAverage(t *testing.T) {
	ra := NewRollingAverage(3)
	test.That(t, ra.NumSamples(), test.ShouldEqual, 3)
	test.That(t, ra.Average(), test.ShouldEqual, 0.0)

	ra.Add(3)
	test.That(t, ra.Average(), test.ShouldEqual, 3.0)
	ra.Add(6)
	test.That(t, ra.Average(), test.ShouldEqual, 4.5)
	ra.Add(9)
	ra.Add(12)
	test.That(t, ra.Average(), test.ShouldEqual, 9.0)

	test.That(t, NewRollingAverage(0).NumSamples(), test.ShouldEqual, 1)

	var wg sync.WaitGroup
	shared := NewRollingAverage(50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shared.Add(2)
		}()
	}
	wg.Wait()
	test.That(t, shared.Average(), test.ShouldEqual, 2.0)
}

func TestSlowLogger(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	done := SlowLogger(context.Background(), "still matching", 5*time.Millisecond, logger, "frame", 7)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, logs.FilterMessage("still matching").Len(), test.ShouldBeGreaterThan, 0)
	})
	done()

	entry := logs.FilterMessage("still matching").All()[0]
	fields := entry.ContextMap()
	test.That(t, fields["frame"], test.ShouldEqual, int64(7))
	test.That(t, fields, test.ShouldContainKey, "time_elapsed")

	quiet, quietLogs := logging.NewObservedTestLogger(t)
	done = SlowLogger(context.Background(), "fast", time.Hour, quiet)
	done()
	test.That(t, quietLogs.Len(), test.ShouldEqual, 0)
}
