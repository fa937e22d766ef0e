// Package health probes the backends a certledger process depends on and
// reports readiness.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Probe checks one backend.
type Probe interface {
	Name() string
	Check(ctx context.Context) error
}

type probeFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (p probeFunc) Name() string                    { return p.name }
func (p probeFunc) Check(ctx context.Context) error { return p.fn(ctx) }

// ProbeFunc adapts fn into a Probe named name.
func ProbeFunc(name string, fn func(ctx context.Context) error) Probe {
	return probeFunc{name: name, fn: fn}
}

// HTTPProbe returns a Probe that succeeds on any 2xx response from endpoint,
// trying HEAD first and falling back to GET.
func HTTPProbe(name, endpoint string, client *http.Client) Probe {
	if client == nil {
		client = http.DefaultClient
	}
	return ProbeFunc(name, func(ctx context.Context) error {
		return probeEndpoint(ctx, client, endpoint)
	})
}

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(backend string, success bool)

// BackendStatus is the last observed state of one backend.
type BackendStatus struct {
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	FailCount int    `json:"consecutive_failures"`
}

// Report is the result of one round of probes.
type Report struct {
	Ready     bool                     `json:"ready"`
	CheckedAt time.Time                `json:"checked_at"`
	Backends  map[string]BackendStatus `json:"backends"`
}

// Checker runs backend probes on demand and on a schedule.
type Checker struct {
	probes     []Probe
	failCounts map[string]int
	last       *Report
	mu         sync.Mutex
	cfg        Config
	onMetrics  MetricsRecordFunc
	logger     *zap.Logger
}

// New creates a Checker over probes.
func New(cfg Config, logger *zap.Logger, probes ...Probe) *Checker {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	return &Checker{
		probes:     probes,
		failCounts: make(map[string]int),
		cfg:        cfg,
		logger:     logger,
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Names returns the probe names in sorted order.
func (h *Checker) Names() []string {
	names := make([]string, 0, len(h.probes))
	for _, p := range h.probes {
		names = append(names, p.Name())
	}
	sort.Strings(names)
	return names
}

// Interval returns the effective check interval.
func (h *Checker) Interval() time.Duration { return h.cfg.CheckInterval }

// Start runs the check loop until ctx is cancelled.
func (h *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Last returns the most recent report, or nil before the first round.
func (h *Checker) Last() *Report {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// CheckAll probes every backend concurrently. The report is ready only when
// every probe in this round succeeded.
func (h *Checker) CheckAll(ctx context.Context) *Report {
	report := &Report{
		Ready:     true,
		CheckedAt: time.Now().UTC(),
		Backends:  make(map[string]BackendStatus, len(h.probes)),
	}

	var wg sync.WaitGroup
	var resMu sync.Mutex

	for _, p := range h.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()

			pctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
			start := time.Now()
			err := p.Check(pctx)
			latency := time.Since(start)
			cancel()

			success := err == nil
			if h.onMetrics != nil {
				h.onMetrics(p.Name(), success)
			}
			count := h.track(p.Name(), success)

			st := BackendStatus{Healthy: success, LatencyMS: latency.Milliseconds(), FailCount: count}
			if err != nil {
				st.Error = err.Error()
			}

			resMu.Lock()
			report.Backends[p.Name()] = st
			if !success {
				report.Ready = false
			}
			resMu.Unlock()
		}(p)
	}

	wg.Wait()

	h.mu.Lock()
	h.last = report
	h.mu.Unlock()
	return report
}

// track updates the consecutive failure count of backend and logs the
// healthy/degraded transitions.
func (h *Checker) track(backend string, success bool) int {
	h.mu.Lock()
	prev := h.failCounts[backend]
	if success {
		h.failCounts[backend] = 0
	} else {
		h.failCounts[backend]++
	}
	count := h.failCounts[backend]
	h.mu.Unlock()

	switch {
	case success && prev >= h.cfg.FailThreshold:
		h.logger.Info("health: recovered", zap.String("backend", backend))
	case !success && count == h.cfg.FailThreshold:
		h.logger.Warn("health: degraded",
			zap.String("backend", backend),
			zap.Int("fail_count", count),
		)
	}
	return count
}

// probeEndpoint attempts HEAD then GET, returning nil on any 2xx response.
func probeEndpoint(ctx context.Context, client *http.Client, endpoint string) error {
	status, err := doProbe(ctx, client, http.MethodHead, endpoint)
	if err == nil && status >= 200 && status < 300 {
		return nil
	}

	status, err = doProbe(ctx, client, http.MethodGet, endpoint)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("%s returned status %d", endpoint, status)
	}
	return nil
}

func doProbe(ctx context.Context, client *http.Client, method, endpoint string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
