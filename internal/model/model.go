package model

import (
	"net"
	"sort"
	"time"
)

// DiscoverySource identifies the advertisement protocol through which a device
// was observed. Sources are ranked: when records for the same device arrive
// from several protocols, the most authoritative one wins the merge.
type DiscoverySource string

const (
	SourceHomeKit     DiscoverySource = "_hap._tcp"
	SourceWorkstation DiscoverySource = "_workstation._tcp"
	SourcePrinter     DiscoverySource = "_ipp._tcp"
	SourceAirPlay     DiscoverySource = "_airplay._tcp"
	SourceGoogleCast  DiscoverySource = "_googlecast._tcp"
	SourceSMB         DiscoverySource = "_smb._tcp"
	SourceSpotify     DiscoverySource = "_spotify-connect._tcp"
	SourceHTTP        DiscoverySource = "_http._tcp"
	SourceSweep       DiscoverySource = "sweep"
)

// sourceRank orders discovery sources from most to least authoritative.
// Device-pairing protocols carry verified device identity; generic streaming
// and web advertisements do not.
var sourceRank = map[DiscoverySource]int{
	SourceHomeKit:     8,
	SourceWorkstation: 7,
	SourcePrinter:     6,
	SourceAirPlay:     5,
	SourceGoogleCast:  4,
	SourceSMB:         3,
	SourceSpotify:     2,
	SourceHTTP:        1,
	SourceSweep:       0,
}

// Rank returns the priority of the source. Unknown sources rank lowest.
func (s DiscoverySource) Rank() int {
	return sourceRank[s]
}

// Record is a single sanitized advertisement key/value pair. Text values live
// in Value; opaque binary payloads live in Opaque. Exactly one of the two is
// set.
type Record struct {
	Key    string `json:"key"`
	Value  string `json:"value,omitempty"`
	Opaque []byte `json:"opaque,omitempty"`
}

// Device is a deduplicated entry in the discovery registry.
// The identity Key is stable across repeated discovery of the same physical
// host: it derives from the MAC address when known, else from IP plus
// advertised name.
type Device struct {
	Key          string            `json:"key"`
	IP           net.IP            `json:"ip"`
	MAC          string            `json:"mac,omitempty"`
	Hostname     string            `json:"hostname,omitempty"`
	Manufacturer string            `json:"manufacturer,omitempty"`
	Category     string            `json:"category,omitempty"`
	NetworkID    string            `json:"network_id,omitempty"`
	Sources      []DiscoverySource `json:"sources"`
	Records      []Record          `json:"records,omitempty"`
	FirstSeen    time.Time         `json:"first_seen"`
	LastSeen     time.Time         `json:"last_seen"`
	Confidence   int               `json:"confidence"`
}

// BestSource returns the highest-ranked discovery source seen for the device.
func (d *Device) BestSource() DiscoverySource {
	best := SourceSweep
	for _, s := range d.Sources {
		if s.Rank() > best.Rank() {
			best = s
		}
	}
	return best
}

// HasSource reports whether the device has been observed via the given source.
func (d *Device) HasSource(src DiscoverySource) bool {
	for _, s := range d.Sources {
		if s == src {
			return true
		}
	}
	return false
}

// PortStatus is the terminal outcome of a single probe.
type PortStatus string

const (
	PortOpen     PortStatus = "open"
	PortClosed   PortStatus = "closed"
	PortFiltered PortStatus = "filtered"
	PortError    PortStatus = "error"
)

// ScanResult aggregates all probe outcomes for one host in one scan
// invocation. It is immutable after creation and safe to share read-only.
type ScanResult struct {
	DeviceKey string             `json:"device_key"`
	IP        net.IP             `json:"ip"`
	Timestamp time.Time          `json:"timestamp"`
	Ports     []int              `json:"ports"`
	Status    map[int]PortStatus `json:"status"`
	Duration  time.Duration      `json:"duration"`
}

// OpenPorts returns the sorted list of ports reported open.
func (r *ScanResult) OpenPorts() []int {
	var open []int
	for port, st := range r.Status {
		if st == PortOpen {
			open = append(open, port)
		}
	}
	sort.Ints(open)
	return open
}

// ThreatCategory is the finding taxonomy of the classification engine.
type ThreatCategory string

const (
	ThreatBackdoorPort        ThreatCategory = "backdoor-port"
	ThreatWeakAuthProtocol    ThreatCategory = "weak-auth-protocol"
	ThreatExposedDatastore    ThreatCategory = "exposed-datastore"
	ThreatExposedRemoteAccess ThreatCategory = "exposed-remote-access"
	ThreatRogueDevice         ThreatCategory = "rogue-device"
	ThreatUnencrypted         ThreatCategory = "unencrypted-transport"
)

// ThreatFinding is one classified risk on one device. Severity follows a
// CVSS-like 0.0-10.0 scale.
type ThreatFinding struct {
	Category    ThreatCategory `json:"category"`
	Severity    float64        `json:"severity"`
	DeviceKey   string         `json:"device_key"`
	Port        int            `json:"port,omitempty"`
	Description string         `json:"description"`
	Remediation string         `json:"remediation"`
}

// Baseline is the learned model of normal network composition. It is built
// from a window of historical scans and never mutated afterwards; rebuilding
// produces a fresh value.
type Baseline struct {
	NetworkID      string          `json:"network_id"`
	TrainedAt      time.Time       `json:"trained_at"`
	Window         time.Duration   `json:"window"`
	Scans          int             `json:"scans"`
	DeviceCountMin int             `json:"device_count_min"`
	DeviceCountMax int             `json:"device_count_max"`
	PortFrequency  map[int]float64 `json:"port_frequency"`
	Manufacturers  map[string]bool `json:"manufacturers"`
	Categories     map[string]bool `json:"categories"`
}

// AnomalyType enumerates baseline deviations.
type AnomalyType string

const (
	AnomalyNewDeviceType      AnomalyType = "new-device-type"
	AnomalyUnusualPort        AnomalyType = "unusual-port-activity"
	AnomalyDeviceCount        AnomalyType = "device-count-anomaly"
	AnomalyBehaviorChange     AnomalyType = "behavior-change"
	AnomalyRogueAccessPoint   AnomalyType = "rogue-ap"
)

// AnomalyFinding is one detected deviation from the baseline. Severity is an
// integer 1-10 fixed per type.
type AnomalyFinding struct {
	Type        AnomalyType `json:"type"`
	Severity    int         `json:"severity"`
	DeviceKey   string      `json:"device_key,omitempty"`
	Description string      `json:"description"`
	DetectedAt  time.Time   `json:"detected_at"`
}

// Snapshot is the point-in-time port/service state of one device, recorded
// once per scan cycle by the history tracker.
type Snapshot struct {
	DeviceKey string             `json:"device_key"`
	Timestamp time.Time          `json:"timestamp"`
	Hostname  string             `json:"hostname,omitempty"`
	Ports     map[int]PortStatus `json:"ports"`
}

// ChangeCategory enumerates device state transitions derived from
// consecutive snapshots.
type ChangeCategory string

const (
	ChangeDeviceJoined    ChangeCategory = "device-joined"
	ChangeDeviceLeft      ChangeCategory = "device-left"
	ChangeDeviceReturned  ChangeCategory = "device-returned"
	ChangePortOpened      ChangeCategory = "port-opened"
	ChangePortClosed      ChangeCategory = "port-closed"
	ChangeHostnameChanged ChangeCategory = "hostname-changed"
)

// ChangeEvent records one observed transition for one device.
type ChangeEvent struct {
	Category  ChangeCategory `json:"category"`
	DeviceKey string         `json:"device_key"`
	Port      int            `json:"port,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// CycleReport is the payload handed to snapshot writers once per scan cycle:
// the registry view, the per-device snapshots and the change events produced
// in that cycle.
type CycleReport struct {
	Cycle     uint64        `json:"cycle"`
	Timestamp time.Time     `json:"timestamp"`
	Devices   []Device      `json:"devices"`
	Results   []ScanResult  `json:"results"`
	Snapshots []Snapshot    `json:"snapshots"`
	Events    []ChangeEvent `json:"events"`
}
