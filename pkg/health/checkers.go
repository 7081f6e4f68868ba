package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than threshold goroutines are running,
// which usually means a leak.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// GCMaxPauseCheck fails when a stop-the-world pause longer than threshold
// happened since the previous run. Older pauses are not counted again, so a
// single long pause does not keep the probe failing.
func GCMaxPauseCheck(threshold time.Duration) CheckFunc {
	var (
		mu     sync.Mutex
		seenGC int64
	)
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)

		mu.Lock()
		fresh := stats.NumGC - seenGC
		seenGC = stats.NumGC
		mu.Unlock()

		// Pause is most recent first.
		for i, pause := range stats.Pause {
			if int64(i) >= fresh {
				break
			}
			if pause > threshold {
				return errors.Errorf("GC pause %s exceeds threshold %s", pause, threshold)
			}
		}
		return nil
	}
}

// Pinger is implemented by storage backends and clients that can verify
// their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck pings p, wrapping failures with name.
func PingCheck(name string, p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrapf(err, "ping %s", name)
		}
		return nil
	}
}
