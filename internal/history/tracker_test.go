package history

import (
	"errors"
	"net"
	"testing"
	"time"

	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/model"
)

func testTracker(t *testing.T, cfg config.HistoryConfig) *Tracker {
	t.Helper()
	tracker, err := NewTracker(cfg)
	if err != nil {
		t.Fatalf("NewTracker returned error: %v", err)
	}
	return tracker
}

func device(key, hostname string) *model.Device {
	return &model.Device{
		Key:      key,
		IP:       net.ParseIP("10.0.0.3"),
		Hostname: hostname,
	}
}

func scanAt(key string, ts time.Time, status map[int]model.PortStatus) *model.ScanResult {
	ports := make([]int, 0, len(status))
	for p := range status {
		ports = append(ports, p)
	}
	return &model.ScanResult{
		DeviceKey: key,
		IP:        net.ParseIP("10.0.0.3"),
		Timestamp: ts,
		Ports:     ports,
		Status:    status,
	}
}

func TestRecordSnapshotNoChanges(t *testing.T) {
	tracker := testTracker(t, config.HistoryConfig{})
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	dev := device("mac:aa", "nas.local")
	status := map[int]model.PortStatus{22: model.PortOpen, 80: model.PortClosed}

	tracker.BeginCycle(base)
	if _, err := tracker.RecordSnapshot(dev, scanAt(dev.Key, base, status)); err != nil {
		t.Fatalf("first RecordSnapshot returned error: %v", err)
	}
	tracker.EndCycle()

	tracker.BeginCycle(base.Add(time.Minute))
	events, err := tracker.RecordSnapshot(dev, scanAt(dev.Key, base.Add(time.Minute), status))
	if err != nil {
		t.Fatalf("second RecordSnapshot returned error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("identical consecutive snapshots produced %d events: %+v", len(events), events)
	}
}

func TestRecordSnapshotPortOpened(t *testing.T) {
	tracker := testTracker(t, config.HistoryConfig{})
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	dev := device("mac:aa", "nas.local")

	tracker.BeginCycle(base)
	first := map[int]model.PortStatus{22: model.PortOpen, 80: model.PortClosed}
	if _, err := tracker.RecordSnapshot(dev, scanAt(dev.Key, base, first)); err != nil {
		t.Fatalf("RecordSnapshot returned error: %v", err)
	}
	tracker.EndCycle()

	tracker.BeginCycle(base.Add(time.Minute))
	second := map[int]model.PortStatus{22: model.PortOpen, 80: model.PortOpen}
	events, err := tracker.RecordSnapshot(dev, scanAt(dev.Key, base.Add(time.Minute), second))
	if err != nil {
		t.Fatalf("RecordSnapshot returned error: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %d: %+v", len(events), events)
	}
	if events[0].Category != model.ChangePortOpened || events[0].Port != 80 {
		t.Errorf("expected port-opened for 80, got %+v", events[0])
	}
}

func TestRecordSnapshotHostnameChanged(t *testing.T) {
	tracker := testTracker(t, config.HistoryConfig{})
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	status := map[int]model.PortStatus{22: model.PortOpen}

	tracker.BeginCycle(base)
	if _, err := tracker.RecordSnapshot(device("mac:aa", "old.local"), scanAt("mac:aa", base, status)); err != nil {
		t.Fatalf("RecordSnapshot returned error: %v", err)
	}
	tracker.EndCycle()

	tracker.BeginCycle(base.Add(time.Minute))
	events, err := tracker.RecordSnapshot(device("mac:aa", "new.local"), scanAt("mac:aa", base.Add(time.Minute), status))
	if err != nil {
		t.Fatalf("RecordSnapshot returned error: %v", err)
	}

	if len(events) != 1 || events[0].Category != model.ChangeHostnameChanged {
		t.Fatalf("expected one hostname-changed event, got %+v", events)
	}
}

func TestRecordSnapshotOutOfOrder(t *testing.T) {
	tracker := testTracker(t, config.HistoryConfig{})
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	dev := device("mac:aa", "nas.local")
	status := map[int]model.PortStatus{22: model.PortOpen}

	tracker.BeginCycle(base)
	if _, err := tracker.RecordSnapshot(dev, scanAt(dev.Key, base, status)); err != nil {
		t.Fatalf("RecordSnapshot returned error: %v", err)
	}

	_, err := tracker.RecordSnapshot(dev, scanAt(dev.Key, base.Add(-time.Minute), status))
	if err == nil {
		t.Fatal("out-of-order snapshot was accepted")
	}
	var outOfOrder *model.OutOfOrderSnapshotError
	if !errors.As(err, &outOfOrder) {
		t.Fatalf("expected OutOfOrderSnapshotError, got %T: %v", err, err)
	}
}

func TestDeviceJoinedLeftReturned(t *testing.T) {
	tracker := testTracker(t, config.HistoryConfig{GracePeriod: "30s"})
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	dev := device("mac:aa", "cam.local")
	status := map[int]model.PortStatus{80: model.PortOpen}

	// Cycle 1: first sighting.
	tracker.BeginCycle(base)
	if _, err := tracker.RecordSnapshot(dev, scanAt(dev.Key, base, status)); err != nil {
		t.Fatalf("RecordSnapshot returned error: %v", err)
	}
	events := tracker.EndCycle()
	if len(events) != 1 || events[0].Category != model.ChangeDeviceJoined {
		t.Fatalf("cycle 1: expected device-joined, got %+v", events)
	}

	// Cycle 2: still inside the grace period, absence is not reported.
	tracker.BeginCycle(base.Add(10 * time.Second))
	events = tracker.EndCycle()
	if len(events) != 0 {
		t.Fatalf("cycle 2: expected no events within grace period, got %+v", events)
	}

	// Cycle 3: absent beyond the grace period.
	tracker.BeginCycle(base.Add(2 * time.Minute))
	events = tracker.EndCycle()
	if len(events) != 1 || events[0].Category != model.ChangeDeviceLeft {
		t.Fatalf("cycle 3: expected device-left, got %+v", events)
	}

	// Cycle 4: back after a long absence.
	ts := base.Add(10 * time.Minute)
	tracker.BeginCycle(ts)
	if _, err := tracker.RecordSnapshot(dev, scanAt(dev.Key, ts, status)); err != nil {
		t.Fatalf("RecordSnapshot returned error: %v", err)
	}
	events = tracker.EndCycle()
	if len(events) != 1 || events[0].Category != model.ChangeDeviceReturned {
		t.Fatalf("cycle 4: expected device-returned, got %+v", events)
	}
}

func TestSnapshotRetentionBounded(t *testing.T) {
	tracker := testTracker(t, config.HistoryConfig{MaxSnapshotsPerDevice: 3})
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	dev := device("mac:aa", "nas.local")

	for i := 0; i < 10; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		tracker.BeginCycle(ts)
		status := map[int]model.PortStatus{22: model.PortOpen}
		if _, err := tracker.RecordSnapshot(dev, scanAt(dev.Key, ts, status)); err != nil {
			t.Fatalf("RecordSnapshot %d returned error: %v", i, err)
		}
		tracker.EndCycle()
	}

	snaps := tracker.Snapshots(dev.Key)
	if len(snaps) != 3 {
		t.Fatalf("expected 3 retained snapshots, got %d", len(snaps))
	}
	// Oldest evicted first: the newest three remain.
	if !snaps[len(snaps)-1].Timestamp.Equal(base.Add(9 * time.Minute)) {
		t.Errorf("latest snapshot timestamp %s, want %s", snaps[len(snaps)-1].Timestamp, base.Add(9*time.Minute))
	}
}

func TestChangeEventRetentionBounded(t *testing.T) {
	tracker := testTracker(t, config.HistoryConfig{MaxChangeEvents: 5})
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Every cycle a new device joins: one event per cycle.
	for i := 0; i < 12; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		tracker.BeginCycle(ts)
		key := string(rune('a'+i)) + ":device"
		status := map[int]model.PortStatus{80: model.PortOpen}
		if _, err := tracker.RecordSnapshot(device(key, ""), scanAt(key, ts, status)); err != nil {
			t.Fatalf("RecordSnapshot %d returned error: %v", i, err)
		}
		tracker.EndCycle()
	}

	events := tracker.Events()
	if len(events) != 5 {
		t.Fatalf("expected 5 retained events, got %d", len(events))
	}
	// Oldest-first eviction keeps the most recent events.
	if events[len(events)-1].Timestamp.Before(events[0].Timestamp) {
		t.Error("retained events are not oldest-first")
	}
}

func TestUptime(t *testing.T) {
	tracker := testTracker(t, config.HistoryConfig{})
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	dev := device("mac:aa", "")
	status := map[int]model.PortStatus{22: model.PortOpen}

	// Present in cycles 1 and 3 of 4.
	for i := 0; i < 4; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		tracker.BeginCycle(ts)
		if i%2 == 0 {
			if _, err := tracker.RecordSnapshot(dev, scanAt(dev.Key, ts, status)); err != nil {
				t.Fatalf("RecordSnapshot returned error: %v", err)
			}
		}
		tracker.EndCycle()
	}

	uptime, ok := tracker.Uptime(dev.Key)
	if !ok {
		t.Fatal("Uptime reported unknown device")
	}
	if uptime != 0.5 {
		t.Errorf("uptime = %.2f, want 0.50", uptime)
	}

	if _, ok := tracker.Uptime("mac:unknown"); ok {
		t.Error("Uptime reported a never-seen device")
	}
}

func TestGobWriterRoundTrip(t *testing.T) {
	root := t.TempDir()
	writer := NewGobWriter(root, time.Minute)

	report := &model.CycleReport{
		Cycle:     7,
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Devices:   []model.Device{*device("mac:aa", "nas.local")},
		Snapshots: []model.Snapshot{
			{DeviceKey: "mac:aa", Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
				Ports: map[int]model.PortStatus{22: model.PortOpen}},
		},
		Events: []model.ChangeEvent{
			{Category: model.ChangeDeviceJoined, DeviceKey: "mac:aa"},
		},
	}

	if err := writer.Write(report, "2026-03-01_10-00-00"); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	loaded, err := LoadLatest(root)
	if err != nil {
		t.Fatalf("LoadLatest returned error: %v", err)
	}
	if loaded.Cycle != 7 || len(loaded.Snapshots) != 1 || len(loaded.Events) != 1 {
		t.Errorf("loaded report does not match written: %+v", loaded)
	}

	// Restore seeds a fresh tracker so the next diff works across restarts.
	tracker := testTracker(t, config.HistoryConfig{})
	tracker.Restore(loaded)
	if snaps := tracker.Snapshots("mac:aa"); len(snaps) != 1 {
		t.Errorf("expected restored snapshot for mac:aa, got %d", len(snaps))
	}
}

func TestRestoreSeedsPresenceAccounting(t *testing.T) {
	tracker := testTracker(t, config.HistoryConfig{})
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tracker.Restore(&model.CycleReport{
		Cycle:     5,
		Timestamp: base,
		Snapshots: []model.Snapshot{
			{DeviceKey: "mac:aa", Timestamp: base, Ports: map[int]model.PortStatus{22: model.PortOpen}},
		},
	})

	// A device carried over from the restored report has been present for
	// every cycle the tracker knows about.
	if up, ok := tracker.Uptime("mac:aa"); !ok || up != 1.0 {
		t.Fatalf("uptime right after restore = %v (known=%v), want 1.0", up, ok)
	}

	// Still present one cycle later.
	tracker.BeginCycle(base.Add(time.Minute))
	status := map[int]model.PortStatus{22: model.PortOpen}
	if _, err := tracker.RecordSnapshot(device("mac:aa", "nas.local"), scanAt("mac:aa", base.Add(time.Minute), status)); err != nil {
		t.Fatalf("RecordSnapshot after restore returned error: %v", err)
	}
	tracker.EndCycle()
	if up, _ := tracker.Uptime("mac:aa"); up != 1.0 {
		t.Errorf("uptime after one present cycle = %v, want 1.0", up)
	}

	// Absent for one of three cycles since restore.
	tracker.BeginCycle(base.Add(2 * time.Minute))
	tracker.EndCycle()
	if up, _ := tracker.Uptime("mac:aa"); up != 2.0/3.0 {
		t.Errorf("uptime after one absent cycle = %v, want 2/3", up)
	}
}

func TestGobWriterRejectsWrongPayload(t *testing.T) {
	writer := NewGobWriter(t.TempDir(), time.Minute)
	if err := writer.Write("not a report", "2026-03-01_10-00-00"); err == nil {
		t.Fatal("expected payload type error")
	}
}
