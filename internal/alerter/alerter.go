package alerter

import (
	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/model"
	"context"
	"fmt"
	"log"
	"strings"
	sync "sync"
	time "time"

	"github.com/gomarkdown/markdown"
)

// defaultMinSeverity applies when no rules are configured: only high
// severity findings trigger a notification.
const defaultMinSeverity = 7.0

// Alerter evaluates findings produced by scan cycles against predefined
// rules and triggers notifications if rules are violated.
type Alerter struct {
	rules         []config.AlerterRule
	notifier      model.Notifier
	analyzer      model.Analyzer
	checkInterval time.Duration
	stopChan      chan struct{}
	wg            sync.WaitGroup

	mu               sync.Mutex
	pendingThreats   []model.ThreatFinding
	pendingAnomalies []model.AnomalyFinding
	pendingEvents    []model.ChangeEvent
}

// NewAlerter creates a new Alerter instance. The analyzer may be nil, in
// which case the AI section is omitted from notifications.
func NewAlerter(cfg *config.AlerterConfig, notifier model.Notifier, analyzer model.Analyzer) (*Alerter, error) {
	interval, err := time.ParseDuration(cfg.CheckInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid check_interval for alerter: %w", err)
	}

	rules := cfg.Rules
	if len(rules) == 0 {
		log.Printf("Alerter has no rules configured, defaulting to min_severity %.1f for all categories", defaultMinSeverity)
		rules = []config.AlerterRule{{MinSeverity: defaultMinSeverity}}
	}

	return &Alerter{
		rules:         rules,
		notifier:      notifier,
		analyzer:      analyzer,
		checkInterval: interval,
		stopChan:      make(chan struct{}),
	}, nil
}

// Submit queues the findings of one scan cycle for the next evaluation.
func (a *Alerter) Submit(threats []model.ThreatFinding, anomalies []model.AnomalyFinding, events []model.ChangeEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pendingThreats = append(a.pendingThreats, threats...)
	a.pendingAnomalies = append(a.pendingAnomalies, anomalies...)
	a.pendingEvents = append(a.pendingEvents, events...)
}

// Start begins the periodic evaluation of alert rules.
func (a *Alerter) Start() {
	log.Println("Alerter started")

	a.wg.Add(1)
	defer a.wg.Done()

	ticker := time.NewTicker(a.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.evaluate()
		case <-a.stopChan:
			return
		}
	}
}

// Stop gracefully stops the alerter's evaluation loop and flushes any
// findings queued since the last tick.
func (a *Alerter) Stop() {
	log.Println("Stopping Alerter...")
	close(a.stopChan)
	a.wg.Wait()
	a.evaluate()
}

// drain takes ownership of everything submitted since the last evaluation.
func (a *Alerter) drain() ([]model.ThreatFinding, []model.AnomalyFinding, []model.ChangeEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	threats, anomalies, events := a.pendingThreats, a.pendingAnomalies, a.pendingEvents
	a.pendingThreats, a.pendingAnomalies, a.pendingEvents = nil, nil, nil
	return threats, anomalies, events
}

// matches reports whether any configured rule fires for the given
// category and severity.
func (a *Alerter) matches(category string, severity float64) bool {
	for _, rule := range a.rules {
		if rule.Category != "" && rule.Category != category {
			continue
		}
		if severity >= rule.MinSeverity {
			return true
		}
	}
	return false
}

// evaluate filters the queued findings through the rules and sends one
// consolidated notification when anything triggers.
func (a *Alerter) evaluate() {
	threats, anomalies, events := a.drain()

	var triggeredThreats []model.ThreatFinding
	for _, f := range threats {
		if a.matches(string(f.Category), f.Severity) {
			triggeredThreats = append(triggeredThreats, f)
		}
	}
	var triggeredAnomalies []model.AnomalyFinding
	for _, f := range anomalies {
		if a.matches(string(f.Type), float64(f.Severity)) {
			triggeredAnomalies = append(triggeredAnomalies, f)
		}
	}

	total := len(triggeredThreats) + len(triggeredAnomalies)
	if total == 0 {
		return // No alerts triggered, do nothing
	}

	log.Printf("Alerter evaluation completed. %d alert(s) triggered.", total)

	// Prepare the consolidated notification body
	body := "<h1>Go2NetSentry Alert Summary</h1>" +
		"<p>The following findings were triggered during the last check:</p><hr>" +
		a.renderDigest(triggeredThreats, triggeredAnomalies, events)

	// Get AI analysis for the summary if enabled
	aiAnalysis, err := a.getAIAnalysis(a.renderPlainSummary(triggeredThreats, triggeredAnomalies))
	if err != nil {
		log.Printf("Failed to get AI analysis: %v", err)
	} else if aiAnalysis != "" {
		// Convert AI's markdown response to HTML
		md := []byte(aiAnalysis)
		html := markdown.ToHTML(md, nil, nil)
		body += "<hr><h2>AI-Powered Analysis</h2>" + string(html)
	}

	// Send the final notification
	if a.notifier != nil {
		subject := fmt.Sprintf("Go2NetSentry Alert Summary (%d Triggered)", total)
		if err := a.notifier.Send(subject, body); err != nil {
			log.Printf("ERROR: Failed to send consolidated alert notification: %v", err)
		} else {
			log.Printf("INFO: Consolidated alert notification sent successfully.")
		}
	}
}

// renderDigest formats the triggered findings as an HTML fragment.
func (a *Alerter) renderDigest(threats []model.ThreatFinding, anomalies []model.AnomalyFinding, events []model.ChangeEvent) string {
	var b strings.Builder

	if len(threats) > 0 {
		b.WriteString("<h2>Threat Findings</h2><ul>")
		for _, f := range threats {
			if f.Port > 0 {
				fmt.Fprintf(&b, "<li><b>[%.1f] %s</b> on %s port %d: %s</li>",
					f.Severity, f.Category, f.DeviceKey, f.Port, f.Description)
			} else {
				fmt.Fprintf(&b, "<li><b>[%.1f] %s</b> on %s: %s</li>",
					f.Severity, f.Category, f.DeviceKey, f.Description)
			}
		}
		b.WriteString("</ul>")
	}

	if len(anomalies) > 0 {
		b.WriteString("<h2>Anomalies</h2><ul>")
		for _, f := range anomalies {
			fmt.Fprintf(&b, "<li><b>[%d] %s</b>: %s</li>", f.Severity, f.Type, f.Description)
		}
		b.WriteString("</ul>")
	}

	if len(events) > 0 {
		b.WriteString("<h2>Recent Changes</h2><ul>")
		for _, e := range events {
			fmt.Fprintf(&b, "<li>%s %s %s %s</li>",
				e.Timestamp.Format(time.RFC3339), e.Category, e.DeviceKey, e.Detail)
		}
		b.WriteString("</ul>")
	}

	return b.String()
}

// renderPlainSummary formats the triggered findings as plain text for the
// AI prompt.
func (a *Alerter) renderPlainSummary(threats []model.ThreatFinding, anomalies []model.AnomalyFinding) string {
	var lines []string
	for _, f := range threats {
		lines = append(lines, fmt.Sprintf("[%.1f] %s device=%s port=%d: %s",
			f.Severity, f.Category, f.DeviceKey, f.Port, f.Description))
	}
	for _, f := range anomalies {
		lines = append(lines, fmt.Sprintf("[%d] anomaly %s: %s", f.Severity, f.Type, f.Description))
	}
	return strings.Join(lines, "\n")
}

// getAIAnalysis asks the analyzer for an assessment of the alert summary.
func (a *Alerter) getAIAnalysis(alertContent string) (string, error) {
	if a.analyzer == nil {
		return "", nil // AI analysis is not enabled, do nothing.
	}

	log.Println("Requesting AI analysis for alert summary...")
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	return a.analyzer.AnalyzeFindings(ctx, alertContent)
}
