package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/model"

	"github.com/grandcat/zeroconf"
)

const sweepConcurrency = 50

// sweepPorts are the ports a subnet sweep probes to decide a host is alive.
var sweepPorts = []int{22, 80, 443, 445, 8080}

var defaultServiceTypes = []string{
	string(model.SourceHomeKit),
	string(model.SourceWorkstation),
	string(model.SourcePrinter),
	string(model.SourceAirPlay),
	string(model.SourceGoogleCast),
	string(model.SourceSMB),
	string(model.SourceSpotify),
	string(model.SourceHTTP),
}

// Coordinator runs service-advertisement discovery and subnet sweeps,
// deduplicating observations into a bounded registry. One run at a time;
// a new run within the cooldown window is rejected with CooldownError.
type Coordinator struct {
	cfg           config.DiscoveryConfig
	registry      *Registry
	prober        model.Prober
	subnet        *net.IPNet
	cooldown      time.Duration
	browseTimeout time.Duration
	serviceTypes  []string

	mu          sync.Mutex
	running     bool
	lastRunEnd  time.Time
	windowStart time.Time
	windowCount int
}

// NewCoordinator validates the discovery configuration and creates a
// coordinator. Validation failures are fatal to this call only.
func NewCoordinator(cfg config.DiscoveryConfig, prober model.Prober) (*Coordinator, error) {
	registry, err := NewRegistry(cfg.MaxDevices)
	if err != nil {
		return nil, err
	}
	if cfg.RatePerMinute <= 0 {
		return nil, fmt.Errorf("%w: rate_per_minute must be positive, got %d", model.ErrInvalidConfiguration, cfg.RatePerMinute)
	}

	cooldown, err := time.ParseDuration(cfg.Cooldown)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid cooldown: %v", model.ErrInvalidConfiguration, err)
	}
	browseTimeout := 5 * time.Second
	if cfg.BrowseTimeout != "" {
		browseTimeout, err = time.ParseDuration(cfg.BrowseTimeout)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid browse_timeout: %v", model.ErrInvalidConfiguration, err)
		}
	}

	var subnet *net.IPNet
	if cfg.Subnet != "" {
		_, subnet, err = net.ParseCIDR(cfg.Subnet)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid subnet %q: %v", model.ErrInvalidConfiguration, cfg.Subnet, err)
		}
		ones, bits := subnet.Mask.Size()
		if bits != 32 {
			return nil, fmt.Errorf("%w: subnet %q is not IPv4", model.ErrInvalidConfiguration, cfg.Subnet)
		}
		if ones < 24 {
			return nil, fmt.Errorf("%w: subnet %q too large for a sweep, /24 or smaller required", model.ErrInvalidConfiguration, cfg.Subnet)
		}
	}

	serviceTypes := cfg.ServiceTypes
	if len(serviceTypes) == 0 {
		serviceTypes = defaultServiceTypes
	}

	return &Coordinator{
		cfg:           cfg,
		registry:      registry,
		prober:        prober,
		subnet:        subnet,
		cooldown:      cooldown,
		browseTimeout: browseTimeout,
		serviceTypes:  serviceTypes,
	}, nil
}

// Registry exposes the coordinator's device registry.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Start begins one discovery run and returns a channel of merged device
// records as they are admitted. The channel is closed when the run finishes.
// Starting again before the cooldown since the previous run's end has elapsed
// fails with CooldownError and leaves the registry untouched.
func (c *Coordinator) Start(ctx context.Context) (<-chan model.Device, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, &model.CooldownError{Remaining: c.cooldown}
	}
	if !c.lastRunEnd.IsZero() {
		if since := time.Since(c.lastRunEnd); since < c.cooldown {
			c.mu.Unlock()
			return nil, &model.CooldownError{Remaining: c.cooldown - since}
		}
	}
	c.running = true
	c.mu.Unlock()

	out := make(chan model.Device, 64)
	go func() {
		defer func() {
			c.mu.Lock()
			c.running = false
			c.lastRunEnd = time.Now()
			c.mu.Unlock()
			close(out)
		}()

		runCtx, cancel := context.WithTimeout(ctx, c.browseTimeout)
		defer cancel()

		var wg sync.WaitGroup
		for _, service := range c.serviceTypes {
			wg.Add(1)
			go func(srv string) {
				defer wg.Done()
				c.browse(runCtx, srv, out)
			}(service)
		}

		if c.subnet != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.sweep(runCtx, out)
			}()
		}

		wg.Wait()
		c.enrichFromARP()
	}()

	return out, nil
}

// browse listens for advertisements of one service type until the context
// expires.
func (c *Coordinator) browse(ctx context.Context, service string, out chan<- model.Device) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		log.Printf("Warning: failed to initialize mDNS resolver: %v", err)
		return
	}

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for entry := range entries {
			c.processEntry(entry, model.DiscoverySource(service), out)
		}
	}()

	if err := resolver.Browse(ctx, service, "local.", entries); err != nil {
		log.Printf("Warning: failed to browse %s: %v", service, err)
		return
	}
	<-ctx.Done()
}

// processEntry sanitizes one advertisement and admits it into the registry.
func (c *Coordinator) processEntry(entry *zeroconf.ServiceEntry, source model.DiscoverySource, out chan<- model.Device) {
	if entry == nil || len(entry.AddrIPv4) == 0 {
		return
	}
	ip := entry.AddrIPv4[0]

	name := entry.Instance
	if idx := strings.Index(name, "@"); idx != -1 {
		name = name[:idx]
	}

	records, warnings := SanitizeTXT(entry.Text)
	for _, warn := range warnings {
		log.Printf("Warning: advertisement from %s: %s", ip, warn)
	}

	mac := macFromRecords(records)
	obs := &model.Device{
		Key:          IdentityKey(mac, ip.String(), name),
		IP:           ip,
		MAC:          strings.ToLower(mac),
		Hostname:     strings.TrimSuffix(entry.HostName, "."),
		Manufacturer: ManufacturerForMAC(mac),
		Category:     categoryForService(source),
		NetworkID:    networkIDFromRecords(records),
		Sources:      []model.DiscoverySource{source},
		Records:      records,
		LastSeen:     time.Now(),
	}
	c.admit(obs, out)
}

// admit enforces the per-minute rate counter, then merges the observation.
// Over-limit advertisements in the current window are ignored, not queued.
func (c *Coordinator) admit(obs *model.Device, out chan<- model.Device) {
	c.mu.Lock()
	now := time.Now()
	if now.Sub(c.windowStart) >= time.Minute {
		c.windowStart = now
		c.windowCount = 0
	}
	if c.windowCount >= c.cfg.RatePerMinute {
		reset := c.windowStart.Add(time.Minute)
		c.mu.Unlock()
		log.Printf("Warning: %v", &model.RateLimitError{
			Limit: c.cfg.RatePerMinute,
			Count: c.windowCount,
			Reset: reset,
		})
		return
	}
	c.windowCount++
	c.mu.Unlock()

	merged := c.registry.Upsert(obs)
	select {
	case out <- *merged:
	default:
		// Consumer is behind; the registry already holds the merge.
	}
}

// sweep probes every usable address of the configured subnet on a fixed port
// list, admitting hosts with at least one open port.
func (c *Coordinator) sweep(ctx context.Context, out chan<- model.Device) {
	sem := make(chan struct{}, sweepConcurrency)
	var wg sync.WaitGroup

	for _, ip := range hostsIn(c.subnet) {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(target net.IP) {
			defer wg.Done()
			defer func() { <-sem }()

			alive := false
			for _, port := range sweepPorts {
				if c.prober.Probe(ctx, target, port, 200*time.Millisecond) == model.PortOpen {
					alive = true
					break
				}
			}
			if !alive {
				return
			}

			hostname := ""
			if names, err := net.LookupAddr(target.String()); err == nil && len(names) > 0 {
				hostname = strings.TrimSuffix(names[0], ".")
			}
			c.admit(&model.Device{
				Key:      IdentityKey("", target.String(), hostname),
				IP:       target,
				Hostname: hostname,
				Sources:  []model.DiscoverySource{model.SourceSweep},
				LastSeen: time.Now(),
			}, out)
		}(ip)
	}
	wg.Wait()
}

// hostsIn enumerates the usable host addresses of an IPv4 subnet, skipping
// the network and broadcast addresses.
func hostsIn(subnet *net.IPNet) []net.IP {
	network := subnet.IP.Mask(subnet.Mask).To4()
	if network == nil {
		return nil
	}

	broadcast := make(net.IP, len(network))
	for i := range network {
		broadcast[i] = network[i] | ^subnet.Mask[len(subnet.Mask)-4+i]
	}

	var hosts []net.IP
	for ip := nextIP(network); subnet.Contains(ip) && !ip.Equal(broadcast); ip = nextIP(ip) {
		hosts = append(hosts, ip)
	}
	return hosts
}

// nextIP returns the address one after ip.
func nextIP(ip net.IP) net.IP {
	next := make(net.IP, len(ip))
	copy(next, ip)
	for i := len(next) - 1; i >= 0; i-- {
		next[i]++
		if next[i] != 0 {
			break
		}
	}
	return next
}

// macFromRecords pulls a MAC address out of sanitized records. HomeKit
// advertises it under "id", some vendors under "mac".
func macFromRecords(records []model.Record) string {
	for _, rec := range records {
		if rec.Key != "id" && rec.Key != "mac" {
			continue
		}
		if looksLikeMAC(rec.Value) {
			return rec.Value
		}
	}
	return ""
}

func looksLikeMAC(s string) bool {
	if len(s) != 17 {
		return false
	}
	for i, c := range s {
		if (i+1)%3 == 0 {
			if c != ':' {
				return false
			}
			continue
		}
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// networkIDFromRecords extracts the advertised wireless network identifier,
// when present. Access points expose it under "ssid" or "network".
func networkIDFromRecords(records []model.Record) string {
	for _, rec := range records {
		if rec.Key == "ssid" || rec.Key == "network" {
			return rec.Value
		}
	}
	return ""
}

// categoryForService infers a coarse device category from the advertisement
// protocol.
func categoryForService(source model.DiscoverySource) string {
	switch source {
	case model.SourceGoogleCast:
		return "streaming"
	case model.SourceAirPlay:
		return "apple"
	case model.SourcePrinter:
		return "printer"
	case model.SourceSpotify:
		return "speaker"
	case model.SourceHomeKit:
		return "smart-home"
	case model.SourceWorkstation, model.SourceSMB:
		return "computer"
	case model.SourceHTTP:
		return "web-server"
	default:
		return ""
	}
}
