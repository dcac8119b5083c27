package dht

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Membership is the part of the routing table a health-check driver talks
// to. *RoutingTable implements it; drivers can be tested against fakes.
type Membership interface {
	// NodeResponded reports a successful liveness probe.
	NodeResponded(node Node) bool
	// NodeTimedOut reports a failed liveness probe.
	NodeTimedOut(node Node) bool
	// NodesForHealthCheck returns the nodes that should be probed next.
	NodesForHealthCheck(threshold time.Duration) []Node
}

var _ Membership = (*RoutingTable)(nil)

// Prober checks whether a remote node is alive, typically by sending a
// PING and waiting for the reply. A nil error means the node responded.
type Prober interface {
	Ping(ctx context.Context, node Node) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, node Node) error

// Ping implements Prober.
func (f ProberFunc) Ping(ctx context.Context, node Node) error {
	return f(ctx, node)
}

// HealthCheckConfig holds the cadence and limits of a HealthChecker.
type HealthCheckConfig struct {
	// How often to look for stale nodes
	Interval time.Duration
	// How long a node can go unseen before it is probed
	InactivityThreshold time.Duration
	// How long to wait for a single probe
	ProbeTimeout time.Duration
	// Maximum probes in flight
	Concurrency int
}

// DefaultHealthCheckConfig returns sensible defaults for health checking.
func DefaultHealthCheckConfig() *HealthCheckConfig {
	return &HealthCheckConfig{
		Interval:            1 * time.Minute,
		InactivityThreshold: 15 * time.Minute,
		ProbeTimeout:        5 * time.Second,
		Concurrency:         8,
	}
}

// HealthCheckResult summarizes one health-check round.
type HealthCheckResult struct {
	Checked   int
	Responded int
	TimedOut  int
}

// HealthChecker periodically probes stale nodes and reports the outcome
// back to the routing table. Scheduling and concurrency live here, not in
// the table; no table lock is held while a probe is in flight.
type HealthChecker struct {
	table  Membership
	prober Prober
	config *HealthCheckConfig

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	lastRun   time.Time

	timeProvider TimeProvider
}

// NewHealthChecker creates a health checker for table using prober.
func NewHealthChecker(table Membership, prober Prober, config *HealthCheckConfig) *HealthChecker {
	return NewHealthCheckerWithTimeProvider(table, prober, config, nil)
}

// NewHealthCheckerWithTimeProvider creates a health checker that stamps its
// rounds with tp. config is copied; unset or non-positive durations take
// their defaults and Concurrency is raised to at least 1.
func NewHealthCheckerWithTimeProvider(table Membership, prober Prober, config *HealthCheckConfig, tp TimeProvider) *HealthChecker {
	defaults := DefaultHealthCheckConfig()
	cfg := *defaults
	if config != nil {
		cfg = *config
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaults.ProbeTimeout
	}
	if cfg.InactivityThreshold < 0 {
		cfg.InactivityThreshold = defaults.InactivityThreshold
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	return &HealthChecker{
		table:        table,
		prober:       prober,
		config:       &cfg,
		timeProvider: tp,
	}
}

// Config returns a copy of the effective configuration.
func (h *HealthChecker) Config() HealthCheckConfig {
	return *h.config
}

// Start begins periodic health checks. Calling Start on a running checker
// does nothing.
func (h *HealthChecker) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.isRunning {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.isRunning = true
	h.wg.Add(1)
	go h.checkRoutine(ctx)

	logrus.WithFields(logrus.Fields{
		"function":  "Start",
		"interval":  h.config.Interval,
		"threshold": h.config.InactivityThreshold,
	}).Info("Health checker started")

	return nil
}

// Stop halts periodic checks and waits for an in-flight round to finish.
func (h *HealthChecker) Stop() {
	h.mu.Lock()
	if !h.isRunning {
		h.mu.Unlock()
		return
	}
	h.isRunning = false
	h.cancel()
	h.mu.Unlock()

	h.wg.Wait()

	logrus.WithFields(logrus.Fields{
		"function": "Stop",
	}).Info("Health checker stopped")
}

// checkRoutine runs a round on every tick until ctx is cancelled.
func (h *HealthChecker) checkRoutine(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.RunOnce(ctx)
		}
	}
}

// RunOnce probes every stale node once. Probes still pending when ctx is
// cancelled are abandoned without reporting an outcome.
func (h *HealthChecker) RunOnce(ctx context.Context) HealthCheckResult {
	candidates := h.table.NodesForHealthCheck(h.config.InactivityThreshold)

	var responded, timedOut atomic.Int64
	var eg errgroup.Group
	eg.SetLimit(h.config.Concurrency)

	for _, node := range candidates {
		node := node
		eg.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			probeCtx, cancel := context.WithTimeout(ctx, h.config.ProbeTimeout)
			err := h.prober.Ping(probeCtx, node)
			cancel()

			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "RunOnce",
					"node":     node.String(),
					"error":    err.Error(),
				}).Debug("Probe failed, removing node")
				h.table.NodeTimedOut(node)
				timedOut.Add(1)
				return nil
			}
			h.table.NodeResponded(node)
			responded.Add(1)
			return nil
		})
	}
	_ = eg.Wait()

	h.mu.Lock()
	h.lastRun = getTimeProvider(h.timeProvider).Now()
	h.mu.Unlock()

	result := HealthCheckResult{
		Checked:   len(candidates),
		Responded: int(responded.Load()),
		TimedOut:  int(timedOut.Load()),
	}
	if result.Checked > 0 {
		logrus.WithFields(logrus.Fields{
			"function":  "RunOnce",
			"checked":   result.Checked,
			"responded": result.Responded,
			"timed_out": result.TimedOut,
		}).Info("Health check round complete")
	}
	return result
}

// LastRun returns when the most recent round finished.
func (h *HealthChecker) LastRun() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastRun
}
