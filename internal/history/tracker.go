// Package history persists per-device scan snapshots, diffs consecutive
// snapshots into change events and keeps bounded presence statistics.
package history

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/model"
)

// Default retention caps. Both are configurable but never unbounded.
const (
	DefaultMaxSnapshotsPerDevice = 32
	DefaultMaxChangeEvents       = 1024
)

// deviceState carries per-key presence bookkeeping across scan cycles.
type deviceState struct {
	firstCycle    uint64
	presentScans  uint64
	lastSeen      time.Time
	present       bool
	seenThisCycle bool
}

// Tracker is the historical state store. All mutation is serialized behind
// one mutex: snapshots for a given device key are only ever diffed in
// timestamp order.
type Tracker struct {
	mu           sync.Mutex
	maxSnapshots int
	maxEvents    int
	gracePeriod  time.Duration

	cycle     uint64
	cycleTime time.Time
	snapshots map[string][]model.Snapshot
	states    map[string]*deviceState
	events    []model.ChangeEvent
}

// NewTracker creates a tracker from the history configuration, applying safe
// bounded defaults for unset caps.
func NewTracker(cfg config.HistoryConfig) (*Tracker, error) {
	maxSnapshots := cfg.MaxSnapshotsPerDevice
	if maxSnapshots == 0 {
		maxSnapshots = DefaultMaxSnapshotsPerDevice
	}
	maxEvents := cfg.MaxChangeEvents
	if maxEvents == 0 {
		maxEvents = DefaultMaxChangeEvents
	}
	if maxSnapshots < 0 || maxEvents < 0 {
		return nil, fmt.Errorf("%w: retention caps must be positive", model.ErrInvalidConfiguration)
	}

	gracePeriod := time.Duration(0)
	if cfg.GracePeriod != "" {
		var err error
		gracePeriod, err = time.ParseDuration(cfg.GracePeriod)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid grace_period: %v", model.ErrInvalidConfiguration, err)
		}
	}

	return &Tracker{
		maxSnapshots: maxSnapshots,
		maxEvents:    maxEvents,
		gracePeriod:  gracePeriod,
		snapshots:    make(map[string][]model.Snapshot),
		states:       make(map[string]*deviceState),
	}, nil
}

// BeginCycle starts a new scan cycle at the given time. Presence bookkeeping
// (device-joined/left/returned) is resolved when the cycle ends.
func (t *Tracker) BeginCycle(ts time.Time) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cycle++
	t.cycleTime = ts
	for _, st := range t.states {
		st.seenThisCycle = false
	}
	return t.cycle
}

// RecordSnapshot stores the device's snapshot for the current cycle and
// returns the change events produced by diffing it against the most recent
// prior snapshot for the same identity key. Out-of-order submission for a key
// is rejected, never diffed.
func (t *Tracker) RecordSnapshot(dev *model.Device, result *model.ScanResult) ([]model.ChangeEvent, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := model.Snapshot{
		DeviceKey: dev.Key,
		Timestamp: result.Timestamp,
		Hostname:  dev.Hostname,
		Ports:     result.Status,
	}

	prior := t.snapshots[dev.Key]
	var events []model.ChangeEvent
	if len(prior) > 0 {
		last := prior[len(prior)-1]
		if !snap.Timestamp.After(last.Timestamp) {
			return nil, &model.OutOfOrderSnapshotError{Key: dev.Key, Have: last.Timestamp, Got: snap.Timestamp}
		}
		events = diffSnapshots(&last, &snap)
	}

	t.snapshots[dev.Key] = append(prior, snap)
	if len(t.snapshots[dev.Key]) > t.maxSnapshots {
		t.snapshots[dev.Key] = t.snapshots[dev.Key][1:]
	}

	st, ok := t.states[dev.Key]
	if !ok {
		st = &deviceState{firstCycle: t.cycle}
		t.states[dev.Key] = st
	}
	st.seenThisCycle = true
	st.presentScans++

	t.appendEvents(events)
	return events, nil
}

// EndCycle resolves presence transitions for the cycle: keys first seen now
// emit device-joined, keys reappearing after an absence longer than the grace
// period emit device-returned, and tracked keys absent longer than the grace
// period emit device-left.
func (t *Tracker) EndCycle() []model.ChangeEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]string, 0, len(t.states))
	for key := range t.states {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var events []model.ChangeEvent
	for _, key := range keys {
		st := t.states[key]
		switch {
		case st.seenThisCycle && st.firstCycle == t.cycle:
			events = append(events, model.ChangeEvent{
				Category:  model.ChangeDeviceJoined,
				DeviceKey: key,
				Timestamp: t.cycleTime,
			})
			st.present = true
			st.lastSeen = t.cycleTime

		case st.seenThisCycle && !st.present && t.cycleTime.Sub(st.lastSeen) > t.gracePeriod:
			events = append(events, model.ChangeEvent{
				Category:  model.ChangeDeviceReturned,
				DeviceKey: key,
				Detail:    fmt.Sprintf("absent for %s", t.cycleTime.Sub(st.lastSeen).Round(time.Second)),
				Timestamp: t.cycleTime,
			})
			st.present = true
			st.lastSeen = t.cycleTime

		case st.seenThisCycle:
			st.present = true
			st.lastSeen = t.cycleTime

		case st.present && t.cycleTime.Sub(st.lastSeen) > t.gracePeriod:
			events = append(events, model.ChangeEvent{
				Category:  model.ChangeDeviceLeft,
				DeviceKey: key,
				Detail:    fmt.Sprintf("last seen %s", st.lastSeen.Format(time.RFC3339)),
				Timestamp: t.cycleTime,
			})
			st.present = false
		}
	}

	t.appendEvents(events)
	return events
}

// appendEvents adds to the bounded process-wide event list, evicting
// oldest-first. Callers hold the mutex.
func (t *Tracker) appendEvents(events []model.ChangeEvent) {
	t.events = append(t.events, events...)
	if excess := len(t.events) - t.maxEvents; excess > 0 {
		t.events = t.events[excess:]
	}
}

// diffSnapshots computes the change events between two consecutive snapshots
// of the same device.
func diffSnapshots(prev, cur *model.Snapshot) []model.ChangeEvent {
	var events []model.ChangeEvent

	ports := make(map[int]bool, len(prev.Ports)+len(cur.Ports))
	for p := range prev.Ports {
		ports[p] = true
	}
	for p := range cur.Ports {
		ports[p] = true
	}
	sorted := make([]int, 0, len(ports))
	for p := range ports {
		sorted = append(sorted, p)
	}
	sort.Ints(sorted)

	for _, port := range sorted {
		wasOpen := prev.Ports[port] == model.PortOpen
		isOpen := cur.Ports[port] == model.PortOpen
		switch {
		case !wasOpen && isOpen:
			events = append(events, model.ChangeEvent{
				Category:  model.ChangePortOpened,
				DeviceKey: cur.DeviceKey,
				Port:      port,
				Timestamp: cur.Timestamp,
			})
		case wasOpen && !isOpen:
			events = append(events, model.ChangeEvent{
				Category:  model.ChangePortClosed,
				DeviceKey: cur.DeviceKey,
				Port:      port,
				Timestamp: cur.Timestamp,
			})
		}
	}

	if prev.Hostname != "" && cur.Hostname != "" && prev.Hostname != cur.Hostname {
		events = append(events, model.ChangeEvent{
			Category:  model.ChangeHostnameChanged,
			DeviceKey: cur.DeviceKey,
			Detail:    fmt.Sprintf("%s -> %s", prev.Hostname, cur.Hostname),
			Timestamp: cur.Timestamp,
		})
	}
	return events
}

// Snapshots returns copies of the retained snapshots for a device key,
// oldest first.
func (t *Tracker) Snapshots(key string) []model.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snaps := t.snapshots[key]
	out := make([]model.Snapshot, len(snaps))
	copy(out, snaps)
	return out
}

// Events returns a copy of the retained change events, oldest first.
func (t *Tracker) Events() []model.ChangeEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]model.ChangeEvent, len(t.events))
	copy(out, t.events)
	return out
}

// LatestSnapshots returns the newest retained snapshot per device key.
func (t *Tracker) LatestSnapshots() []model.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]string, 0, len(t.snapshots))
	for key := range t.snapshots {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]model.Snapshot, 0, len(keys))
	for _, key := range keys {
		snaps := t.snapshots[key]
		if len(snaps) > 0 {
			out = append(out, snaps[len(snaps)-1])
		}
	}
	return out
}

// Uptime returns the fraction of scan cycles in which the device was
// observed present, counted from its first observation. Recomputed on
// demand, never stored incrementally.
func (t *Tracker) Uptime(key string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[key]
	if !ok {
		return 0, false
	}
	cycles := t.cycle - st.firstCycle + 1
	if cycles == 0 {
		return 0, false
	}
	return float64(st.presentScans) / float64(cycles), true
}

// Restore seeds the tracker's snapshot store from a persisted cycle report,
// so diffs keep working across process restarts.
func (t *Tracker) Restore(report *model.CycleReport) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if report.Cycle > t.cycle {
		t.cycle = report.Cycle
		t.cycleTime = report.Timestamp
	}

	// Devices in the restored report count as present since that cycle, so
	// uptime starts at 1.0 instead of near zero after a restart.
	for _, snap := range report.Snapshots {
		t.snapshots[snap.DeviceKey] = append(t.snapshots[snap.DeviceKey], snap)
		if _, ok := t.states[snap.DeviceKey]; !ok {
			t.states[snap.DeviceKey] = &deviceState{
				firstCycle:   report.Cycle,
				presentScans: 1,
				present:      true,
				lastSeen:     snap.Timestamp,
			}
		}
	}
}
