package discovery

import (
	"net"
	"strings"
	"testing"
	"time"

	"Go2NetSentry/internal/model"
)

func obsDevice(key string, ip string, seen time.Time, sources ...model.DiscoverySource) *model.Device {
	return &model.Device{
		Key:      key,
		IP:       net.ParseIP(ip),
		Sources:  sources,
		LastSeen: seen,
	}
}

func TestRegistryBoundedEviction(t *testing.T) {
	reg, err := NewRegistry(3)
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}

	base := time.Now()
	reg.Upsert(obsDevice("ip:10.0.0.1|", "10.0.0.1", base, model.SourceSweep))
	reg.Upsert(obsDevice("ip:10.0.0.2|", "10.0.0.2", base.Add(1*time.Second), model.SourceSweep))
	reg.Upsert(obsDevice("ip:10.0.0.3|", "10.0.0.3", base.Add(2*time.Second), model.SourceSweep))

	// Refresh device 1 so device 2 becomes the least recently seen.
	if !reg.Touch("ip:10.0.0.1|", base.Add(3*time.Second)) {
		t.Fatal("Touch failed for existing device")
	}

	reg.Upsert(obsDevice("ip:10.0.0.4|", "10.0.0.4", base.Add(4*time.Second), model.SourceSweep))

	if reg.Len() != 3 {
		t.Fatalf("expected registry to stay at cap 3, got %d", reg.Len())
	}
	if _, ok := reg.Get("ip:10.0.0.2|"); ok {
		t.Error("expected least-recently-seen device 10.0.0.2 to be evicted")
	}
	for _, key := range []string{"ip:10.0.0.1|", "ip:10.0.0.3|", "ip:10.0.0.4|"} {
		if _, ok := reg.Get(key); !ok {
			t.Errorf("expected device %s to survive eviction", key)
		}
	}
}

func TestRegistryMergeNeverDuplicates(t *testing.T) {
	reg, err := NewRegistry(16)
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}

	key := "mac:aa:bb:cc:dd:ee:ff"
	now := time.Now()

	first := obsDevice(key, "10.0.0.9", now, model.SourceHTTP)
	first.MAC = "aa:bb:cc:dd:ee:ff"
	first.Category = "web-server"
	reg.Upsert(first)

	second := obsDevice(key, "10.0.0.9", now.Add(time.Second), model.SourceHomeKit)
	second.MAC = "aa:bb:cc:dd:ee:ff"
	second.Hostname = "bridge.local"
	second.Category = "smart-home"
	merged := reg.Upsert(second)

	if reg.Len() != 1 {
		t.Fatalf("expected merge, got %d registry entries", reg.Len())
	}
	if len(merged.Sources) != 2 {
		t.Fatalf("expected both sources recorded, got %v", merged.Sources)
	}
	if merged.BestSource() != model.SourceHomeKit {
		t.Errorf("expected HomeKit to outrank HTTP, best source is %s", merged.BestSource())
	}
	if merged.Category != "smart-home" {
		t.Errorf("expected category upgraded by higher-priority source, got %q", merged.Category)
	}
	if merged.Hostname != "bridge.local" {
		t.Errorf("expected hostname filled by merge, got %q", merged.Hostname)
	}
}

func TestRegistryMergeKeepsHigherPrioritySource(t *testing.T) {
	reg, err := NewRegistry(16)
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}

	key := "mac:11:22:33:44:55:66"
	now := time.Now()

	first := obsDevice(key, "10.0.0.5", now, model.SourceHomeKit)
	first.Category = "smart-home"
	reg.Upsert(first)

	second := obsDevice(key, "10.0.0.5", now.Add(time.Second), model.SourceHTTP)
	second.Category = "web-server"
	merged := reg.Upsert(second)

	if merged.Category != "smart-home" {
		t.Errorf("lower-priority source must not downgrade category, got %q", merged.Category)
	}
	if merged.BestSource() != model.SourceHomeKit {
		t.Errorf("expected best source to remain HomeKit, got %s", merged.BestSource())
	}
}

func TestIdentityKey(t *testing.T) {
	if got := IdentityKey("AA:BB:CC:00:11:22", "10.0.0.1", "TV"); got != "mac:aa:bb:cc:00:11:22" {
		t.Errorf("MAC key not normalized: %q", got)
	}
	if got := IdentityKey("", "10.0.0.1", "Living Room TV"); got != "ip:10.0.0.1|living room tv" {
		t.Errorf("fallback key wrong: %q", got)
	}
}

func TestConfidenceScore(t *testing.T) {
	dev := &model.Device{Key: "ip:10.0.0.1|x"}
	if got := confidence(dev); got != 30 {
		t.Errorf("bare device confidence = %d, want 30", got)
	}

	dev.MAC = "aa:bb:cc:dd:ee:ff"
	dev.Hostname = "host.local"
	dev.Manufacturer = "Apple"
	dev.Sources = []model.DiscoverySource{model.SourceHomeKit, model.SourceAirPlay}
	if got := confidence(dev); got != 100 {
		t.Errorf("fully corroborated device confidence = %d, want 100", got)
	}
}

func TestSanitizeTXTCaps(t *testing.T) {
	longKey := strings.Repeat("k", maxRecordKeyLen+1)
	longValue := strings.Repeat("v", maxTextValueLen+100)

	records, warnings := SanitizeTXT([]string{
		"model=Edge Router",
		longKey + "=oversized",
		"bad key!=value",
		"blob=" + longValue,
	})

	if len(records) != 2 {
		t.Fatalf("expected 2 surviving records, got %d", len(records))
	}
	for _, rec := range records {
		if len(rec.Key) > maxRecordKeyLen {
			t.Errorf("record key exceeds cap: %d bytes", len(rec.Key))
		}
		if len(rec.Value) > maxTextValueLen {
			t.Errorf("record value exceeds cap: %d bytes", len(rec.Value))
		}
	}
	if len(warnings) != 2 {
		t.Errorf("expected 2 warnings for dropped records, got %d: %v", len(warnings), warnings)
	}
}

func TestSanitizeTXTRecordCountCap(t *testing.T) {
	entries := make([]string, 0, maxRecordsPerDevice+10)
	for i := 0; i < maxRecordsPerDevice+10; i++ {
		entries = append(entries, strings.Repeat("a", i%20+1)+string(rune('a'+i%26))+"="+strings.Repeat("v", i))
	}
	records, _ := SanitizeTXT(entries)
	if len(records) > maxRecordsPerDevice {
		t.Fatalf("record count cap violated: %d records", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i-1].Key >= records[i].Key {
			t.Fatal("records are not deterministically sorted by key")
		}
	}
}
