// Package health serves liveness and readiness probes.
//
// Checks run in rounds: every interval all registered checks execute
// concurrently, each under its own timeout. A check turns unhealthy after
// failureThreshold consecutive failures and healthy again after
// successThreshold consecutive successes, so a single slow ping does not
// flap the probe. Endpoints report the last observed state and never run
// checks themselves.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

const (
	defaultFailureThreshold = 3
	defaultSuccessThreshold = 1
)

// Probe selects the endpoint a check contributes to.
type Probe uint8

const (
	Liveness Probe = iota
	Readiness
)

func (p Probe) String() string {
	if p == Liveness {
		return "liveness"
	}
	return "readiness"
}

// CheckFunc reports whether a component is healthy. It returns nil when it is.
type CheckFunc func(ctx context.Context) error

// CheckOption tunes a single registered check.
type CheckOption func(*check)

// WithFailureThreshold sets how many consecutive failures mark the check
// unhealthy.
func WithFailureThreshold(n int) CheckOption {
	return func(c *check) {
		if n > 0 {
			c.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets how many consecutive successes mark the check
// healthy again.
func WithSuccessThreshold(n int) CheckOption {
	return func(c *check) {
		if n > 0 {
			c.successThreshold = n
		}
	}
}

type check struct {
	name             string
	probe            Probe
	timeout          time.Duration
	fn               CheckFunc
	failureThreshold int
	successThreshold int

	mu      sync.Mutex
	healthy bool
	lastErr error
	fails   int
	oks     int
}

// run executes the check once. It reports whether the health state flipped.
func (c *check) run(ctx context.Context) (changed bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	err = c.fn(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastErr = err
	was := c.healthy
	if err != nil {
		c.oks = 0
		c.fails++
		if c.fails >= c.failureThreshold {
			c.healthy = false
		}
	} else {
		c.fails = 0
		c.oks++
		if c.oks >= c.successThreshold {
			c.healthy = true
		}
	}
	return was != c.healthy, err
}

// state returns the health flag and the error explaining it.
func (c *check) state() (healthy bool, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.healthy {
		return true, ""
	}
	if c.lastErr != nil {
		return false, c.lastErr.Error()
	}
	return false, "check is unhealthy"
}

// Health owns the registered checks and the manual readiness switch.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks []*check
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Health that reports not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check for /livez, e.g. goroutine leaks or GC
// pauses.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...CheckOption) {
	h.add(Liveness, name, timeout, fn, opts)
}

// AddReadinessCheck registers a check for /readyz, e.g. storage or Redis
// connectivity.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...CheckOption) {
	h.add(Readiness, name, timeout, fn, opts)
}

func (h *Health) add(probe Probe, name string, timeout time.Duration, fn CheckFunc, opts []CheckOption) {
	c := &check{
		name:             name,
		probe:            probe,
		timeout:          timeout,
		fn:               fn,
		failureThreshold: defaultFailureThreshold,
		successThreshold: defaultSuccessThreshold,
		healthy:          true, // until proven otherwise
	}
	for _, o := range opts {
		o(c)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, c)
}

func (h *Health) snapshot(probe Probe) []*check {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*check, 0, len(h.checks))
	for _, c := range h.checks {
		if c.probe == probe {
			out = append(out, c)
		}
	}
	return out
}

// RunOnce runs every check concurrently and waits for all of them. Health
// flips are logged with the logger carried by ctx.
func (h *Health) RunOnce(ctx context.Context) {
	h.mu.RLock()
	checks := slices.Clone(h.checks)
	h.mu.RUnlock()

	lg := zctx.From(ctx)
	var wg sync.WaitGroup
	for _, c := range checks {
		wg.Go(func() {
			changed, err := c.run(ctx)
			if !changed {
				return
			}
			if err != nil {
				lg.Warn("Health check failing",
					zap.String("check", c.name),
					zap.Stringer("probe", c.probe),
					zap.Error(err),
				)
				return
			}
			lg.Info("Health check recovered",
				zap.String("check", c.name),
				zap.Stringer("probe", c.probe),
			)
		})
	}
	wg.Wait()
}

// Start runs a round immediately and then every interval until ctx is done
// or Stop is called. Checks registered later join the next round.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	h.mu.Lock()
	if h.cancel != nil {
		h.mu.Unlock()
		cancel()
		return
	}
	h.cancel, h.done = cancel, done
	h.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			h.RunOnce(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends the check loop and waits for the running round. It is safe to
// call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// SetReady flips the manual readiness switch: true after initialization,
// false when draining before shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(failures(h.snapshot(Readiness))) == 0
}

// LiveEndpoint serves /livez: 200 {"status":"ok"} when every liveness check
// passes, otherwise 503 with the failing checks.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeResponse(w, failures(h.snapshot(Liveness)))
}

// ReadyEndpoint serves /readyz. Besides the readiness checks it reports
// "_readiness" while the service is not marked ready.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failed := failures(h.snapshot(Readiness))
	if !h.ready.Load() {
		failed["_readiness"] = "service is not ready"
	}
	writeResponse(w, failed)
}

func failures(checks []*check) map[string]string {
	out := make(map[string]string)
	for _, c := range checks {
		if ok, reason := c.state(); !ok {
			out[c.name] = reason
		}
	}
	return out
}

// writeResponse renders the probe body with check names in sorted order.
func writeResponse(w http.ResponseWriter, failed map[string]string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	status := http.StatusOK
	e.ObjStart()
	if len(failed) == 0 {
		e.Field("status", func(e *jx.Encoder) { e.Str("ok") })
	} else {
		status = http.StatusServiceUnavailable
		e.Field("status", func(e *jx.Encoder) { e.Str("unhealthy") })
		names := make([]string, 0, len(failed))
		for name := range failed {
			names = append(names, name)
		}
		slices.Sort(names)
		e.Field("checks", func(e *jx.Encoder) {
			e.ObjStart()
			for _, name := range names {
				e.Field(name, func(e *jx.Encoder) { e.Str(failed[name]) })
			}
			e.ObjEnd()
		})
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status line is out; a write error means the client went away.
	_, _ = w.Write(e.Bytes())
}
