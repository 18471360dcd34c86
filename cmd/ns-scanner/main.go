package main

import (
	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/discovery"
	"Go2NetSentry/internal/model"
	"Go2NetSentry/internal/probe"
	"Go2NetSentry/internal/scanner"
	"Go2NetSentry/internal/threat"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	// --- Command-Line Flag Parsing ---
	mode := flag.String("mode", "oneshot", "Operating mode: 'oneshot' to scan once and print a report, 'agent' to scan on an interval and publish to NATS.")
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// --- Mode Dispatch ---
	switch *mode {
	case "oneshot":
		runOneshot(cfg)
	case "agent":
		runAgent(cfg)
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

// report is the JSON document printed in oneshot mode.
type report struct {
	Timestamp time.Time             `json:"timestamp"`
	Devices   []model.Device        `json:"devices"`
	Results   []model.ScanResult    `json:"results"`
	Findings  []model.ThreatFinding `json:"findings"`
}

// runCycle performs one discovery pass followed by a scan of every device in
// the registry.
func runCycle(ctx context.Context, coordinator *discovery.Coordinator, sc *scanner.Scanner, ports []int, opts scanner.Options) ([]model.Device, []model.ScanResult, error) {
	found, err := coordinator.Start(ctx)
	if err != nil {
		return nil, nil, err
	}
	n := 0
	for range found {
		n++
	}
	log.Printf("Discovery pass admitted %d device observations.", n)

	devices := coordinator.Registry().Snapshot()
	if len(devices) == 0 {
		return nil, nil, nil
	}

	results, err := sc.ScanHosts(ctx, devices, ports, opts)
	if err != nil {
		return nil, nil, err
	}
	return devices, results, nil
}

// runOneshot scans once and prints the full report as JSON.
func runOneshot(cfg *config.Config) {
	coordinator, err := discovery.NewCoordinator(cfg.Discovery, probe.NewTCPProber())
	if err != nil {
		log.Fatalf("Failed to create discovery coordinator: %v", err)
	}
	ports, opts, err := scanner.OptionsFromConfig(cfg.Scanner)
	if err != nil {
		log.Fatalf("Invalid scanner config: %v", err)
	}
	sc := scanner.New(probe.NewTCPProber())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	devices, results, err := runCycle(ctx, coordinator, sc, ports, opts)
	if err != nil {
		log.Fatalf("Scan cycle failed: %v", err)
	}

	rep := report{Timestamp: time.Now(), Devices: devices, Results: results}
	for i := range results {
		rep.Findings = append(rep.Findings, threat.Classify(&results[i])...)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		log.Fatalf("Failed to encode report: %v", err)
	}
}

// runAgent scans on an interval and publishes each batch to NATS.
func runAgent(cfg *config.Config) {
	hostname, _ := os.Hostname()
	log.Printf("Starting ns-scanner in AGENT mode as %q...", hostname)

	coordinator, err := discovery.NewCoordinator(cfg.Discovery, probe.NewTCPProber())
	if err != nil {
		log.Fatalf("Failed to create discovery coordinator: %v", err)
	}
	ports, opts, err := scanner.OptionsFromConfig(cfg.Scanner)
	if err != nil {
		log.Fatalf("Invalid scanner config: %v", err)
	}
	sc := scanner.New(probe.NewTCPProber())

	interval, err := time.ParseDuration(cfg.Monitor.ScanInterval)
	if err != nil || interval <= 0 {
		log.Fatalf("Invalid scan_interval: %q", cfg.Monitor.ScanInterval)
	}

	// Initialize NATS Publisher
	pub, err := probe.NewPublisher(cfg.NATS)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer pub.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	publishCycle := func() {
		devices, results, err := runCycle(ctx, coordinator, sc, ports, opts)
		if err != nil {
			log.Printf("Scan cycle failed: %v", err)
			return
		}
		if len(devices) == 0 {
			log.Println("Registry is empty, nothing to publish.")
			return
		}
		batch := probe.ResultBatch{
			Agent:     hostname,
			Timestamp: time.Now(),
			Devices:   devices,
			Results:   results,
		}
		if err := pub.Publish(&batch); err != nil {
			log.Printf("Failed to publish batch: %v", err)
			return
		}
		log.Printf("Published batch with %d devices and %d results.", len(devices), len(results))
	}

	publishCycle()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			publishCycle()
		case <-ctx.Done():
			log.Println("Shutdown signal received, cleaning up...")
			return
		}
	}
}
