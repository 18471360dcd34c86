package scanner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/model"
)

// Port presets, selectable by name from the scanner config.
var presets = map[string][]int{
	"quick": {21, 22, 23, 80, 443, 445, 3389, 8080},
	"standard": {
		21, 22, 23, 25, 53, 80, 110, 139, 143, 443, 445, 631,
		1433, 3306, 3389, 5000, 5353, 5432, 5900, 6379, 8000, 8080, 8443, 9200, 27017,
	},
	"deep": {
		20, 21, 22, 23, 25, 53, 69, 80, 110, 111, 123, 135, 137, 138, 139, 143,
		161, 389, 443, 445, 465, 514, 587, 631, 636, 873, 993, 995, 1080, 1243,
		1433, 1521, 1723, 2049, 2375, 2745, 3128, 3306, 3389, 4444, 5000, 5353,
		5432, 5632, 5900, 5901, 5902, 6379, 6667, 8000, 8080, 8443, 8888, 9000,
		9090, 9200, 11211, 12345, 27017, 27374, 31337, 54321, 62078,
	},
}

// PortsForPreset resolves a named preset into its port list.
func PortsForPreset(name string) ([]int, error) {
	ports, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown port preset %q", model.ErrInvalidConfiguration, name)
	}
	out := make([]int, len(ports))
	copy(out, ports)
	return out, nil
}

// Options bound a single ScanHosts invocation.
type Options struct {
	// HostConcurrency caps the number of hosts scanned simultaneously.
	HostConcurrency int
	// PortConcurrency caps simultaneous probes per host.
	PortConcurrency int
	// ProbeTimeout is the per-probe timeout.
	ProbeTimeout time.Duration
}

// OptionsFromConfig parses and validates scanner options from the config
// section, resolving the port list from the preset when none is given
// explicitly.
func OptionsFromConfig(cfg config.ScannerConfig) ([]int, Options, error) {
	opts := Options{
		HostConcurrency: cfg.HostConcurrency,
		PortConcurrency: cfg.PortConcurrency,
	}
	timeout, err := time.ParseDuration(cfg.ProbeTimeout)
	if err != nil {
		return nil, opts, fmt.Errorf("%w: invalid probe_timeout: %v", model.ErrInvalidConfiguration, err)
	}
	opts.ProbeTimeout = timeout

	ports := cfg.Ports
	if len(ports) == 0 {
		preset := cfg.Preset
		if preset == "" {
			preset = "standard"
		}
		ports, err = PortsForPreset(preset)
		if err != nil {
			return nil, opts, err
		}
	}
	return ports, opts, nil
}

// Scanner executes bounded-concurrency port scans through a probe primitive.
type Scanner struct {
	prober model.Prober
}

// New creates a scanner around the given probe primitive.
func New(prober model.Prober) *Scanner {
	return &Scanner{prober: prober}
}

// ScanHosts probes every host x port pair and aggregates exactly one
// ScanResult per host. Total concurrency is bounded by two independent caps:
// simultaneous hosts and simultaneous ports per host. Cancelling the context
// stops new probes from being issued; in-flight probes drain before the call
// returns. Partial host failures never cancel the scanning of other hosts.
func (s *Scanner) ScanHosts(ctx context.Context, hosts []model.Device, ports []int, opts Options) ([]model.ScanResult, error) {
	if len(ports) == 0 {
		return nil, fmt.Errorf("%w: empty port list", model.ErrInvalidConfiguration)
	}
	if opts.HostConcurrency <= 0 || opts.PortConcurrency <= 0 {
		return nil, fmt.Errorf("%w: concurrency limits must be positive (hosts=%d, ports=%d)",
			model.ErrInvalidConfiguration, opts.HostConcurrency, opts.PortConcurrency)
	}
	if opts.ProbeTimeout <= 0 {
		return nil, fmt.Errorf("%w: probe timeout must be positive", model.ErrInvalidConfiguration)
	}

	sorted := make([]int, len(ports))
	copy(sorted, ports)
	sort.Ints(sorted)

	results := make([]model.ScanResult, len(hosts))
	hostSem := make(chan struct{}, opts.HostConcurrency)
	var wg sync.WaitGroup

	for i := range hosts {
		wg.Add(1)
		hostSem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-hostSem }()
			results[idx] = s.scanHost(ctx, &hosts[idx], sorted, opts)
		}(i)
	}
	wg.Wait()

	return results, nil
}

// scanHost runs all probes for one host under the per-host concurrency cap.
func (s *Scanner) scanHost(ctx context.Context, host *model.Device, ports []int, opts Options) model.ScanResult {
	start := time.Now()
	status := make(map[int]model.PortStatus, len(ports))

	var mu sync.Mutex
	var wg sync.WaitGroup
	portSem := make(chan struct{}, opts.PortConcurrency)

	for _, port := range ports {
		// Once cancelled, stop issuing new probes; ports never probed are
		// reported filtered so every pair still has a terminal status.
		select {
		case <-ctx.Done():
			mu.Lock()
			if _, ok := status[port]; !ok {
				status[port] = model.PortFiltered
			}
			mu.Unlock()
			continue
		case portSem <- struct{}{}:
		}

		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			defer func() { <-portSem }()

			st := s.prober.Probe(ctx, host.IP, p, opts.ProbeTimeout)
			mu.Lock()
			status[p] = st
			mu.Unlock()
		}(port)
	}
	wg.Wait()

	return model.ScanResult{
		DeviceKey: host.Key,
		IP:        host.IP,
		Timestamp: start,
		Ports:     ports,
		Status:    status,
		Duration:  time.Since(start),
	}
}
