package anomaly

import (
	"errors"
	"net"
	"testing"
	"time"

	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/model"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(config.AnomalyConfig{
		MinTrainingScans:  3,
		TrainingWindow:    "24h",
		RarePortThreshold: 0.1,
	})
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	return eng
}

func cycle(ts time.Time, devices []model.Device, results []model.ScanResult) model.CycleReport {
	return model.CycleReport{Timestamp: ts, Devices: devices, Results: results}
}

func deviceWith(key, manufacturer, category string) model.Device {
	return model.Device{
		Key:          key,
		IP:           net.ParseIP("10.0.0.1"),
		Manufacturer: manufacturer,
		Category:     category,
	}
}

func resultOpen(key string, ports ...int) model.ScanResult {
	status := make(map[int]model.PortStatus)
	for _, p := range ports {
		status[p] = model.PortOpen
	}
	return model.ScanResult{DeviceKey: key, Ports: ports, Status: status}
}

func trainingHistory(n int) []model.CycleReport {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	history := make([]model.CycleReport, 0, n)
	for i := 0; i < n; i++ {
		devices := []model.Device{
			deviceWith("mac:aa", "Apple", "computer"),
			deviceWith("mac:bb", "Synology", "computer"),
		}
		results := []model.ScanResult{
			resultOpen("mac:aa", 22, 443),
			resultOpen("mac:bb", 445),
		}
		history = append(history, cycle(base.Add(time.Duration(i)*time.Hour), devices, results))
	}
	return history
}

func TestBuildBaselineInsufficientData(t *testing.T) {
	eng := testEngine(t)

	_, err := eng.BuildBaseline("home", trainingHistory(2))
	if err == nil {
		t.Fatal("expected InsufficientDataError for 2 of 3 required scans")
	}
	var insufficient *model.InsufficientDataError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientDataError, got %T: %v", err, err)
	}
	if insufficient.Have != 2 || insufficient.Need != 3 {
		t.Errorf("unexpected counts: have %d need %d", insufficient.Have, insufficient.Need)
	}
}

func TestBuildBaselineStatistics(t *testing.T) {
	eng := testEngine(t)

	history := trainingHistory(4)
	// One cycle sees a third device with port 8080.
	history[2].Devices = append(history[2].Devices, deviceWith("mac:cc", "Espressif", "iot"))
	history[2].Results = append(history[2].Results, resultOpen("mac:cc", 8080))

	baseline, err := eng.BuildBaseline("home", history)
	if err != nil {
		t.Fatalf("BuildBaseline returned error: %v", err)
	}

	if baseline.DeviceCountMin != 2 || baseline.DeviceCountMax != 3 {
		t.Errorf("device count range [%d, %d], want [2, 3]", baseline.DeviceCountMin, baseline.DeviceCountMax)
	}
	if got := baseline.PortFrequency[22]; got != 1.0 {
		t.Errorf("port 22 frequency = %.2f, want 1.00", got)
	}
	if got := baseline.PortFrequency[8080]; got != 0.25 {
		t.Errorf("port 8080 frequency = %.2f, want 0.25", got)
	}
	if !baseline.Manufacturers["Espressif"] {
		t.Error("expected Espressif in baseline manufacturers")
	}
	if !baseline.Categories["iot"] {
		t.Error("expected iot in baseline categories")
	}
}

func TestDetectDeviceCountAnomaly(t *testing.T) {
	eng := testEngine(t)
	baseline, err := eng.BuildBaseline("home", trainingHistory(3))
	if err != nil {
		t.Fatalf("BuildBaseline returned error: %v", err)
	}

	// Five devices against a learned range of [2, 2].
	devices := []model.Device{
		deviceWith("mac:aa", "Apple", "computer"),
		deviceWith("mac:bb", "Synology", "computer"),
		deviceWith("mac:cc", "Apple", "computer"),
		deviceWith("mac:dd", "Apple", "computer"),
		deviceWith("mac:ee", "Apple", "computer"),
	}
	findings := eng.Detect(devices, nil, baseline)

	found := false
	for _, f := range findings {
		if f.Type == model.AnomalyDeviceCount {
			found = true
		}
	}
	if !found {
		t.Errorf("expected device-count-anomaly, findings: %+v", findings)
	}
}

func TestDetectUnusualPort(t *testing.T) {
	eng := testEngine(t)
	baseline, err := eng.BuildBaseline("home", trainingHistory(3))
	if err != nil {
		t.Fatalf("BuildBaseline returned error: %v", err)
	}

	results := []model.ScanResult{resultOpen("mac:aa", 22, 31337)}
	findings := eng.Detect(nil, results, baseline)

	unusual := 0
	for _, f := range findings {
		if f.Type == model.AnomalyUnusualPort {
			unusual++
			if f.DeviceKey != "mac:aa" {
				t.Errorf("unusual-port finding attached to %q, want mac:aa", f.DeviceKey)
			}
		}
	}
	// 22 is at frequency 1.0, 31337 at 0.0: only the latter is flagged.
	if unusual != 1 {
		t.Errorf("expected one unusual-port-activity finding, got %d", unusual)
	}
}

func TestDetectNewDeviceType(t *testing.T) {
	eng := testEngine(t)
	baseline, err := eng.BuildBaseline("home", trainingHistory(3))
	if err != nil {
		t.Fatalf("BuildBaseline returned error: %v", err)
	}

	devices := []model.Device{
		deviceWith("mac:aa", "Apple", "computer"),
		deviceWith("mac:ff", "Tuya", "camera"),
	}
	findings := eng.Detect(devices, nil, baseline)

	var hit *model.AnomalyFinding
	for i, f := range findings {
		if f.Type == model.AnomalyNewDeviceType {
			hit = &findings[i]
		}
	}
	if hit == nil {
		t.Fatalf("expected new-device-type finding, got %+v", findings)
	}
	if hit.DeviceKey != "mac:ff" {
		t.Errorf("new-device-type attached to %q, want mac:ff", hit.DeviceKey)
	}
}

func TestDetectRogueAP(t *testing.T) {
	eng := testEngine(t)
	baseline, err := eng.BuildBaseline("home", trainingHistory(3))
	if err != nil {
		t.Fatalf("BuildBaseline returned error: %v", err)
	}

	ap1 := deviceWith("mac:aa:bb:cc:00:00:01", "Ubiquiti", "")
	ap1.MAC = "aa:bb:cc:00:00:01"
	ap1.NetworkID = "HomeNet"
	ap2 := deviceWith("mac:aa:bb:cc:00:00:02", "Ubiquiti", "")
	ap2.MAC = "aa:bb:cc:00:00:02"
	ap2.NetworkID = "HomeNet"

	findings := eng.Detect([]model.Device{ap1, ap2}, nil, baseline)

	rogue := 0
	for _, f := range findings {
		if f.Type == model.AnomalyRogueAccessPoint {
			rogue++
			if f.Severity != severityRogueAP {
				t.Errorf("rogue-ap severity = %d, want %d", f.Severity, severityRogueAP)
			}
		}
	}
	if rogue != 1 {
		t.Fatalf("expected exactly one rogue-ap finding, got %d", rogue)
	}

	// Same identifier from the same hardware twice is not a rogue AP.
	findings = eng.Detect([]model.Device{ap1, ap1}, nil, baseline)
	for _, f := range findings {
		if f.Type == model.AnomalyRogueAccessPoint {
			t.Error("single hardware identifier flagged as rogue AP")
		}
	}
}

func TestDetectDoesNotMutateBaseline(t *testing.T) {
	eng := testEngine(t)
	baseline, err := eng.BuildBaseline("home", trainingHistory(3))
	if err != nil {
		t.Fatalf("BuildBaseline returned error: %v", err)
	}

	portsBefore := len(baseline.PortFrequency)
	manufacturersBefore := len(baseline.Manufacturers)

	devices := []model.Device{deviceWith("mac:zz", "Tuya", "camera")}
	results := []model.ScanResult{resultOpen("mac:zz", 9999)}
	eng.Detect(devices, results, baseline)

	if len(baseline.PortFrequency) != portsBefore || len(baseline.Manufacturers) != manufacturersBefore {
		t.Error("Detect mutated the baseline")
	}
}
