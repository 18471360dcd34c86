package alerter

import (
	"strings"
	"testing"
	"time"

	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/model"
)

type fakeNotifier struct {
	subjects []string
	bodies   []string
}

func (f *fakeNotifier) Send(subject, body string) error {
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, body)
	return nil
}

func newTestAlerter(t *testing.T, rules []config.AlerterRule) (*Alerter, *fakeNotifier) {
	t.Helper()
	notifier := &fakeNotifier{}
	cfg := &config.AlerterConfig{
		Enabled:       true,
		CheckInterval: "1h",
		Rules:         rules,
	}
	a, err := NewAlerter(cfg, notifier, nil)
	if err != nil {
		t.Fatalf("NewAlerter failed: %v", err)
	}
	return a, notifier
}

func TestAlerterBelowThresholdStaysQuiet(t *testing.T) {
	a, notifier := newTestAlerter(t, []config.AlerterRule{
		{Category: "backdoor-port", MinSeverity: 9.0},
	})

	a.Submit([]model.ThreatFinding{
		{Category: model.ThreatUnencrypted, Severity: 5.3, DeviceKey: "ip:10.0.0.5|web"},
	}, nil, nil)
	a.evaluate()

	if len(notifier.subjects) != 0 {
		t.Fatalf("expected no notification, got %d", len(notifier.subjects))
	}
}

func TestAlerterConsolidatesTriggeredFindings(t *testing.T) {
	a, notifier := newTestAlerter(t, []config.AlerterRule{
		{Category: "backdoor-port", MinSeverity: 9.0},
		{Category: "rogue-ap", MinSeverity: 8.0},
	})

	threats := []model.ThreatFinding{
		{Category: model.ThreatBackdoorPort, Severity: 10.0, DeviceKey: "mac:aa", Port: 31337, Description: "known backdoor port"},
		{Category: model.ThreatUnencrypted, Severity: 9.0, DeviceKey: "mac:aa", Port: 23, Description: "telnet"},
	}
	anomalies := []model.AnomalyFinding{
		{Type: model.AnomalyRogueAccessPoint, Severity: 9, Description: "two radios claim ssid home"},
	}
	events := []model.ChangeEvent{
		{Category: model.ChangePortOpened, DeviceKey: "mac:aa", Port: 31337, Timestamp: time.Now()},
	}

	a.Submit(threats, anomalies, events)
	a.evaluate()

	if len(notifier.subjects) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(notifier.subjects))
	}
	// Only the backdoor finding and the rogue AP match the rules.
	if !strings.Contains(notifier.subjects[0], "2 Triggered") {
		t.Errorf("subject should report 2 triggered alerts, got %q", notifier.subjects[0])
	}
	body := notifier.bodies[0]
	if !strings.Contains(body, "backdoor-port") {
		t.Errorf("body missing backdoor finding: %q", body)
	}
	if !strings.Contains(body, "rogue-ap") {
		t.Errorf("body missing rogue AP anomaly: %q", body)
	}
	if strings.Contains(body, "telnet") {
		t.Errorf("telnet finding did not match any rule and should be absent: %q", body)
	}
	if !strings.Contains(body, "port-opened") {
		t.Errorf("change events should be included as context: %q", body)
	}
}

func TestAlerterEmptyCategoryMatchesAll(t *testing.T) {
	a, notifier := newTestAlerter(t, []config.AlerterRule{
		{Category: "", MinSeverity: 9.5},
	})

	a.Submit([]model.ThreatFinding{
		{Category: model.ThreatExposedDatastore, Severity: 9.8, DeviceKey: "mac:bb", Port: 6379},
	}, nil, nil)
	a.evaluate()

	if len(notifier.subjects) != 1 {
		t.Fatalf("wildcard rule should have triggered, got %d notifications", len(notifier.subjects))
	}
}

func TestAlerterDrainsPendingOnEvaluate(t *testing.T) {
	a, notifier := newTestAlerter(t, []config.AlerterRule{{MinSeverity: 1.0}})

	a.Submit([]model.ThreatFinding{
		{Category: model.ThreatBackdoorPort, Severity: 10.0, DeviceKey: "mac:aa", Port: 4444},
	}, nil, nil)
	a.evaluate()
	a.evaluate()

	if len(notifier.subjects) != 1 {
		t.Fatalf("second evaluation must not resend drained findings, got %d notifications", len(notifier.subjects))
	}
}

func TestAlerterInvalidInterval(t *testing.T) {
	cfg := &config.AlerterConfig{CheckInterval: "soon"}
	if _, err := NewAlerter(cfg, &fakeNotifier{}, nil); err == nil {
		t.Fatal("expected error for invalid check_interval")
	}
}
