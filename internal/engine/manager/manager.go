package manager

import (
	"Go2NetSentry/internal/ai"
	"Go2NetSentry/internal/alerter"
	"Go2NetSentry/internal/anomaly"
	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/discovery"
	"Go2NetSentry/internal/history"
	"Go2NetSentry/internal/model"
	"Go2NetSentry/internal/notification"
	"Go2NetSentry/internal/probe"
	"Go2NetSentry/internal/scanner"
	"Go2NetSentry/internal/threat"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	defaultNumWorkers      = 4
	defaultChannelSize     = 16
	defaultRebuildInterval = "1h"

	// historyRingCap bounds the in-memory cycle history kept for baseline
	// training between restarts of the rebuild ticker.
	historyRingCap = 256
)

// Manager orchestrates the engine pipeline: scan result batches come in from
// either the local scan loop or NATS, each cycle is classified, recorded and
// checked against the baseline, and the outcome fans out to writers and the
// alerter.
type Manager struct {
	cfg *config.Config

	// Local-mode scan pipeline.
	coordinator  *discovery.Coordinator
	scanner      *scanner.Scanner
	ports        []int
	scanOpts     scanner.Options
	scanInterval time.Duration
	scanCancel   context.CancelFunc
	scanWg       sync.WaitGroup

	anomalyEngine *anomaly.Engine
	tracker       *history.Tracker
	writers       []model.Writer
	alerter       *alerter.Alerter
	gobRoot       string

	// Worker pool for concurrent result classification.
	resultChannel chan probe.ResultBatch
	numWorkers    int
	processorWg   sync.WaitGroup

	baselineMu sync.RWMutex
	baseline   *model.Baseline
	ring       []model.CycleReport

	latestMu        sync.RWMutex
	latestReport    *model.CycleReport
	latestThreats   []model.ThreatFinding
	latestAnomalies []model.AnomalyFinding

	done          chan struct{}
	snapshotterWg sync.WaitGroup
	rebuilderWg   sync.WaitGroup
}

// NewManager creates a new Manager from the full configuration.
func NewManager(cfg *config.Config) (*Manager, error) {
	m := &Manager{
		cfg:        cfg,
		scanner:    scanner.New(probe.NewTCPProber()),
		done:       make(chan struct{}),
		numWorkers: cfg.Monitor.NumWorkers,
	}
	if m.numWorkers <= 0 {
		m.numWorkers = defaultNumWorkers
	}
	size := cfg.Monitor.SizeOfResultChannel
	if size <= 0 {
		size = defaultChannelSize
	}
	m.resultChannel = make(chan probe.ResultBatch, size)

	if cfg.Monitor.Source == "local" {
		coordinator, err := discovery.NewCoordinator(cfg.Discovery, probe.NewTCPProber())
		if err != nil {
			return nil, fmt.Errorf("failed to create discovery coordinator: %w", err)
		}
		m.coordinator = coordinator

		ports, opts, err := scanner.OptionsFromConfig(cfg.Scanner)
		if err != nil {
			return nil, fmt.Errorf("invalid scanner config: %w", err)
		}
		m.ports, m.scanOpts = ports, opts

		interval, err := time.ParseDuration(cfg.Monitor.ScanInterval)
		if err != nil || interval <= 0 {
			return nil, fmt.Errorf("invalid scan_interval: %q", cfg.Monitor.ScanInterval)
		}
		m.scanInterval = interval
	}

	anomalyEngine, err := anomaly.NewEngine(cfg.Anomaly)
	if err != nil {
		return nil, fmt.Errorf("failed to create anomaly engine: %w", err)
	}
	m.anomalyEngine = anomalyEngine

	tracker, err := history.NewTracker(cfg.History)
	if err != nil {
		return nil, fmt.Errorf("failed to create history tracker: %w", err)
	}
	m.tracker = tracker

	if err := m.createWriters(); err != nil {
		return nil, err
	}
	m.restoreState()

	if cfg.Alerter.Enabled {
		// For now, we only initialize the email notifier. This can be expanded later.
		var notifier model.Notifier
		if cfg.SMTP.Host != "" { // Simple check to see if email is configured
			notifier, err = notification.NewEmailNotifier(&cfg.SMTP)
			if err != nil {
				return nil, fmt.Errorf("failed to create email notifier: %w", err)
			}
		}

		if notifier != nil {
			var analyzer model.Analyzer
			if cfg.Alerter.AIAnalysis.Enabled {
				analyzer, err = ai.NewFindingsAnalyzer(&cfg.Alerter.AIAnalysis)
				if err != nil {
					return nil, fmt.Errorf("failed to create AI analyzer: %w", err)
				}
			}
			m.alerter, err = alerter.NewAlerter(&cfg.Alerter, notifier, analyzer)
			if err != nil {
				return nil, fmt.Errorf("failed to create alerter: %w", err)
			}
			log.Println("Alerter enabled and initialized.")
		} else {
			log.Println("Alerter is enabled in config, but no notifiers are configured. Alerter will not run.")
		}
	}

	return m, nil
}

// createWriters instantiates one snapshot writer per enabled writer config.
func (m *Manager) createWriters() error {
	for _, def := range m.cfg.History.Writers {
		if !def.Enabled {
			continue
		}
		interval, err := time.ParseDuration(def.SnapshotInterval)
		if err != nil || interval <= 0 {
			return fmt.Errorf("invalid snapshot_interval %q for %s writer", def.SnapshotInterval, def.Type)
		}
		switch def.Type {
		case "gob":
			m.writers = append(m.writers, history.NewGobWriter(def.Gob.RootPath, interval))
			m.gobRoot = def.Gob.RootPath
		case "clickhouse":
			w, err := history.NewClickHouseWriter(def.ClickHouse, interval)
			if err != nil {
				return fmt.Errorf("failed to create clickhouse writer: %w", err)
			}
			m.writers = append(m.writers, w)
		default:
			return fmt.Errorf("unknown writer type: %q", def.Type)
		}
	}
	return nil
}

// restoreState reloads the last persisted cycle report and baseline so a
// restarted daemon does not start from a blank history.
func (m *Manager) restoreState() {
	if m.gobRoot == "" {
		return
	}
	if report, err := history.LoadLatest(m.gobRoot); err != nil {
		log.Printf("No previous cycle report restored: %v", err)
	} else if report != nil {
		m.tracker.Restore(report)
		m.ring = append(m.ring, *report)
		m.latestReport = report
		log.Printf("Restored cycle %d from %s", report.Cycle, m.gobRoot)
	}
	if baseline, err := history.LoadBaseline(m.gobRoot); err != nil {
		log.Printf("Failed to load baseline: %v", err)
	} else if baseline != nil {
		m.baseline = baseline
		log.Printf("Restored baseline trained at %s over %d scans", baseline.TrainedAt.Format(time.RFC3339), baseline.Scans)
	}
}

// Start begins the manager's processing loop, snapshotters, baseline
// rebuilder, and (in local mode) the scan loop.
func (m *Manager) Start() {
	for _, writer := range m.writers {
		m.snapshotterWg.Add(1)
		go m.runSnapshotter(writer)
		log.Printf("Started snapshotter for a writer with interval %s.", writer.GetInterval())
	}

	m.rebuilderWg.Add(1)
	go m.runRebuilder()

	// Start the independent alerter goroutine if it's enabled.
	if m.alerter != nil {
		go m.alerter.Start()
	}

	// A single processor preserves cycle ordering; classification inside a
	// cycle fans out across numWorkers.
	m.processorWg.Add(1)
	go m.processLoop()
	log.Printf("Manager started with %d classification workers.", m.numWorkers)

	if m.cfg.Monitor.Source == "local" {
		ctx, cancel := context.WithCancel(context.Background())
		m.scanCancel = cancel
		m.scanWg.Add(1)
		go m.runScanLoop(ctx)
		log.Printf("Started local scan loop with interval %s.", m.scanInterval)
	}
}

// InputChannel exposes the batch channel so a NATS subscriber can feed the
// manager in distributed mode.
func (m *Manager) InputChannel() chan<- probe.ResultBatch {
	return m.resultChannel
}

// processLoop consumes result batches until the channel is closed.
func (m *Manager) processLoop() {
	defer m.processorWg.Done()
	for batch := range m.resultChannel {
		m.processBatch(&batch)
	}
}

// processBatch runs one full cycle: classify, record history, detect
// anomalies, and hand everything to the writers' latest view and the alerter.
func (m *Manager) processBatch(batch *probe.ResultBatch) {
	cycle := m.tracker.BeginCycle(batch.Timestamp)

	// 1. Classify all scan results concurrently.
	threats := m.classifyAll(batch.Results)

	// 2. Record snapshots in order and collect change events.
	devices := make(map[string]*model.Device, len(batch.Devices))
	for i := range batch.Devices {
		devices[batch.Devices[i].Key] = &batch.Devices[i]
	}
	var events []model.ChangeEvent
	for i := range batch.Results {
		result := &batch.Results[i]
		dev, ok := devices[result.DeviceKey]
		if !ok {
			log.Printf("WARN: scan result for unknown device %s, skipping", result.DeviceKey)
			continue
		}
		evs, err := m.tracker.RecordSnapshot(dev, result)
		if err != nil {
			log.Printf("WARN: snapshot rejected for %s: %v", result.DeviceKey, err)
			continue
		}
		events = append(events, evs...)
	}
	events = append(events, m.tracker.EndCycle()...)

	// 3. Detect anomalies against the current baseline, if one is trained.
	var anomalies []model.AnomalyFinding
	m.baselineMu.RLock()
	baseline := m.baseline
	m.baselineMu.RUnlock()
	if baseline != nil {
		anomalies = m.anomalyEngine.Detect(batch.Devices, batch.Results, baseline)
	}

	report := model.CycleReport{
		Cycle:     cycle,
		Timestamp: batch.Timestamp,
		Devices:   batch.Devices,
		Results:   batch.Results,
		Snapshots: m.tracker.LatestSnapshots(),
		Events:    events,
	}

	// 4. Append to the training ring and publish the latest view.
	m.baselineMu.Lock()
	m.ring = append(m.ring, report)
	if len(m.ring) > historyRingCap {
		m.ring = m.ring[len(m.ring)-historyRingCap:]
	}
	m.baselineMu.Unlock()

	m.latestMu.Lock()
	m.latestReport = &report
	m.latestThreats = threats
	m.latestAnomalies = anomalies
	m.latestMu.Unlock()

	if m.alerter != nil {
		m.alerter.Submit(threats, anomalies, events)
	}

	log.Printf("Cycle %d from %s: %d devices, %d findings, %d anomalies, %d changes",
		cycle, batch.Agent, len(batch.Devices), len(threats), len(anomalies), len(events))
}

// classifyAll fans the results of one cycle out to the worker pool and
// returns all findings in result order.
func (m *Manager) classifyAll(results []model.ScanResult) []model.ThreatFinding {
	perResult := make([][]model.ThreatFinding, len(results))
	jobs := make(chan int, len(results))
	for i := range results {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	wg.Add(m.numWorkers)
	for w := 0; w < m.numWorkers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				perResult[i] = threat.Classify(&results[i])
			}
		}()
	}
	wg.Wait()

	var findings []model.ThreatFinding
	for _, fs := range perResult {
		findings = append(findings, fs...)
	}
	return findings
}

// runScanLoop drives discovery and scanning in local mode.
func (m *Manager) runScanLoop(ctx context.Context) {
	defer m.scanWg.Done()

	m.runLocalCycle(ctx)

	ticker := time.NewTicker(m.scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.runLocalCycle(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// runLocalCycle performs one discovery pass and one scan of the registry,
// then feeds the batch into the processing channel.
func (m *Manager) runLocalCycle(ctx context.Context) {
	found, err := m.coordinator.Start(ctx)
	if err != nil {
		var cooldown *model.CooldownError
		if errors.As(err, &cooldown) {
			log.Printf("Discovery skipped: %v", err)
		} else {
			log.Printf("ERROR: discovery failed: %v", err)
		}
	} else {
		n := 0
		for range found {
			n++
		}
		log.Printf("Discovery pass admitted %d device observations.", n)
	}

	devices := m.coordinator.Registry().Snapshot()
	if len(devices) == 0 {
		log.Println("Registry is empty, nothing to scan.")
		return
	}

	results, err := m.scanner.ScanHosts(ctx, devices, m.ports, m.scanOpts)
	if err != nil {
		log.Printf("ERROR: scan failed: %v", err)
		return
	}

	batch := probe.ResultBatch{
		Agent:     "local",
		Timestamp: time.Now(),
		Devices:   devices,
		Results:   results,
	}
	select {
	case m.resultChannel <- batch:
	case <-ctx.Done():
	}
}

// runRebuilder periodically retrains the baseline from the cycle ring.
func (m *Manager) runRebuilder() {
	defer m.rebuilderWg.Done()

	intervalStr := m.cfg.Anomaly.RebuildInterval
	if intervalStr == "" {
		intervalStr = defaultRebuildInterval
	}
	interval, err := time.ParseDuration(intervalStr)
	if err != nil || interval <= 0 {
		log.Printf("Invalid rebuild_interval %q, baseline rebuilder will not run.", intervalStr)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.RebuildBaseline(); err != nil {
				log.Printf("Baseline rebuild skipped: %v", err)
			}
		case <-m.done:
			return
		}
	}
}

// RebuildBaseline retrains the baseline from the accumulated cycle history
// and persists it. It returns InsufficientDataError when too few scans have
// been recorded.
func (m *Manager) RebuildBaseline() error {
	m.baselineMu.RLock()
	ring := make([]model.CycleReport, len(m.ring))
	copy(ring, m.ring)
	m.baselineMu.RUnlock()

	baseline, err := m.anomalyEngine.BuildBaseline(m.networkID(), ring)
	if err != nil {
		return err
	}

	m.baselineMu.Lock()
	m.baseline = baseline
	m.baselineMu.Unlock()
	log.Printf("Baseline rebuilt from %d scans.", baseline.Scans)

	if m.gobRoot != "" {
		if err := history.SaveBaseline(m.gobRoot, baseline); err != nil {
			log.Printf("ERROR: failed to persist baseline: %v", err)
		}
	}
	return nil
}

// networkID picks the network identifier the baseline is trained for: the
// first one advertised by any device in the latest cycle.
func (m *Manager) networkID() string {
	m.latestMu.RLock()
	defer m.latestMu.RUnlock()
	if m.latestReport == nil {
		return ""
	}
	for _, dev := range m.latestReport.Devices {
		if dev.NetworkID != "" {
			return dev.NetworkID
		}
	}
	return ""
}

// Baseline returns the currently trained baseline, or nil.
func (m *Manager) Baseline() *model.Baseline {
	m.baselineMu.RLock()
	defer m.baselineMu.RUnlock()
	return m.baseline
}

// Latest returns the most recent cycle report and its findings.
func (m *Manager) Latest() (*model.CycleReport, []model.ThreatFinding, []model.AnomalyFinding) {
	m.latestMu.RLock()
	defer m.latestMu.RUnlock()
	return m.latestReport, m.latestThreats, m.latestAnomalies
}

// Tracker exposes the history tracker for read queries.
func (m *Manager) Tracker() *history.Tracker {
	return m.tracker
}

// runSnapshotter runs a dedicated snapshot loop for a single writer.
func (m *Manager) runSnapshotter(writer model.Writer) {
	defer m.snapshotterWg.Done()
	interval := writer.GetInterval()
	if interval <= 0 {
		log.Printf("Invalid interval %s for writer, snapshotter will not run.", interval)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.takeSnapshotForWriter(writer)
		case <-m.done:
			m.takeSnapshotForWriter(writer)
			return
		}
	}
}

// takeSnapshotForWriter writes the latest cycle report through one writer.
func (m *Manager) takeSnapshotForWriter(writer model.Writer) {
	m.latestMu.RLock()
	report := m.latestReport
	m.latestMu.RUnlock()
	if report == nil {
		return
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	if err := writer.Write(report, timestamp); err != nil {
		log.Printf("Error writing cycle snapshot: %v", err)
	}
}

// Stop gracefully shuts down the manager.
func (m *Manager) Stop() {
	log.Println("Manager stopping...")

	// 1. Stop producing new batches.
	if m.scanCancel != nil {
		m.scanCancel()
		m.scanWg.Wait()
	}

	// 2. Stop accepting new batches and drain the buffered ones.
	close(m.resultChannel)
	log.Println("Waiting for processor to finish...")
	m.processorWg.Wait()

	// 3. Signal snapshotters and the rebuilder to take final actions and exit.
	close(m.done)
	log.Println("Waiting for snapshotters and rebuilder to finish...")
	m.snapshotterWg.Wait()
	m.rebuilderWg.Wait()

	// 4. Stop the alerter if it's running.
	if m.alerter != nil {
		m.alerter.Stop()
	}

	log.Println("Manager stopped.")
}
