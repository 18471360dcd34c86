package discovery

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"Go2NetSentry/internal/model"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Registry is the bounded, deduplicated device store. All mutation goes
// through one mutex so concurrent discovery callbacks never interleave a
// read-merge-write cycle.
type Registry struct {
	mu      sync.Mutex
	devices *lru.Cache[string, *model.Device]
}

// NewRegistry creates a registry bounded at maxDevices entries. When the cap
// is reached, admitting a new device evicts the least-recently-seen one.
func NewRegistry(maxDevices int) (*Registry, error) {
	if maxDevices <= 0 {
		return nil, fmt.Errorf("%w: max_devices must be positive, got %d", model.ErrInvalidConfiguration, maxDevices)
	}
	cache, err := lru.NewWithEvict(maxDevices, func(key string, dev *model.Device) {
		log.Printf("Registry full, evicted least-recently-seen device %s (last seen %s)", key, dev.LastSeen.Format(time.RFC3339))
	})
	if err != nil {
		return nil, err
	}
	return &Registry{devices: cache}, nil
}

// IdentityKey derives the stable identity key for a device observation.
// A known MAC address wins; otherwise the key falls back to IP plus the
// advertised instance name.
func IdentityKey(mac, ip, name string) string {
	if mac != "" {
		return "mac:" + strings.ToLower(strings.TrimSpace(mac))
	}
	return "ip:" + ip + "|" + strings.ToLower(strings.TrimSpace(name))
}

// Upsert merges an observation into the registry and returns the resulting
// device. Records sharing an identity key are merged, never duplicated: the
// recorded discovery source is upgraded only when the new source outranks the
// existing one, and scalar fields are filled, not overwritten.
func (r *Registry) Upsert(obs *model.Device) *model.Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.devices.Get(obs.Key)
	if !ok {
		dev := *obs
		if dev.FirstSeen.IsZero() {
			dev.FirstSeen = dev.LastSeen
		}
		dev.Confidence = confidence(&dev)
		r.devices.Add(dev.Key, &dev)
		return &dev
	}

	merged := mergeDevice(existing, obs)
	merged.Confidence = confidence(merged)
	r.devices.Add(merged.Key, merged)
	return merged
}

// Touch refreshes the last-seen timestamp of a device without changing any
// other field. It reports whether the key was present.
func (r *Registry) Touch(key string, seen time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices.Get(key)
	if !ok {
		return false
	}
	if seen.After(dev.LastSeen) {
		dev.LastSeen = seen
	}
	r.devices.Add(key, dev)
	return true
}

// Get returns a copy of the device for the given key.
func (r *Registry) Get(key string) (model.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices.Peek(key)
	if !ok {
		return model.Device{}, false
	}
	return *dev, true
}

// Len returns the number of devices currently tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.devices.Len()
}

// Snapshot returns copies of all tracked devices, sorted by identity key.
func (r *Registry) Snapshot() []model.Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := r.devices.Keys()
	devices := make([]model.Device, 0, len(keys))
	for _, key := range keys {
		if dev, ok := r.devices.Peek(key); ok {
			devices = append(devices, *dev)
		}
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Key < devices[j].Key })
	return devices
}

// mergeDevice folds a new observation into an existing device entry.
func mergeDevice(existing, obs *model.Device) *model.Device {
	merged := *existing

	if obs.LastSeen.After(merged.LastSeen) {
		merged.LastSeen = obs.LastSeen
	}
	if merged.MAC == "" {
		merged.MAC = obs.MAC
	}
	if merged.Hostname == "" {
		merged.Hostname = obs.Hostname
	}
	if merged.Manufacturer == "" {
		merged.Manufacturer = obs.Manufacturer
	}
	if merged.NetworkID == "" {
		merged.NetworkID = obs.NetworkID
	}
	if obs.IP != nil {
		merged.IP = obs.IP
	}

	for _, src := range obs.Sources {
		if !merged.HasSource(src) {
			merged.Sources = append(merged.Sources, src)
		}
	}
	sort.Slice(merged.Sources, func(i, j int) bool {
		return merged.Sources[i].Rank() > merged.Sources[j].Rank()
	})

	// Category follows the most authoritative source observed so far.
	if obs.Category != "" {
		if merged.Category == "" || obs.BestSource().Rank() >= merged.BestSource().Rank() {
			merged.Category = obs.Category
		}
	}

	merged.Records = mergeRecords(merged.Records, obs.Records)
	return &merged
}

// mergeRecords combines record sets under the per-device cap, newest value
// winning per key, selection deterministic by sorted key.
func mergeRecords(old, new []model.Record) []model.Record {
	byKey := make(map[string]model.Record, len(old)+len(new))
	for _, rec := range old {
		byKey[rec.Key] = rec
	}
	for _, rec := range new {
		byKey[rec.Key] = rec
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > maxRecordsPerDevice {
		keys = keys[:maxRecordsPerDevice]
	}

	merged := make([]model.Record, 0, len(keys))
	for _, k := range keys {
		merged = append(merged, byKey[k])
	}
	return merged
}

// confidence scores 0-100 how likely the entry is a genuine, distinct
// physical device, from corroborating evidence.
func confidence(dev *model.Device) int {
	score := 30
	if dev.MAC != "" {
		score += 30
	}
	if dev.Hostname != "" {
		score += 15
	}
	if dev.Manufacturer != "" {
		score += 10
	}
	if len(dev.Sources) >= 2 {
		score += 15
	}
	if score > 100 {
		score = 100
	}
	return score
}
