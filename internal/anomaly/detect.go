package anomaly

import (
	"fmt"
	"sort"
	"time"

	"Go2NetSentry/internal/model"
)

// Fixed per-type severities. Co-occurring anomalies stay independent
// findings; severities are never combined.
const (
	severityDeviceCount = 6
	severityUnusualPort = 5
	severityNewDevice   = 4
	severityRogueAP     = 9
)

// Detect compares the current cycle against a baseline and returns all
// deviations. It is a pure read: the baseline is never mutated.
func (e *Engine) Detect(devices []model.Device, results []model.ScanResult, baseline *model.Baseline) []model.AnomalyFinding {
	now := time.Now()
	var findings []model.AnomalyFinding

	if count := len(devices); count < baseline.DeviceCountMin || count > baseline.DeviceCountMax {
		findings = append(findings, model.AnomalyFinding{
			Type:     model.AnomalyDeviceCount,
			Severity: severityDeviceCount,
			Description: fmt.Sprintf("device count %d outside learned range [%d, %d]",
				count, baseline.DeviceCountMin, baseline.DeviceCountMax),
			DetectedAt: now,
		})
	}

	for _, res := range results {
		for _, port := range res.OpenPorts() {
			if baseline.PortFrequency[port] < e.rareThreshold {
				findings = append(findings, model.AnomalyFinding{
					Type:      model.AnomalyUnusualPort,
					Severity:  severityUnusualPort,
					DeviceKey: res.DeviceKey,
					Description: fmt.Sprintf("port %d open on %s, historical frequency %.2f",
						port, res.DeviceKey, baseline.PortFrequency[port]),
					DetectedAt: now,
				})
			}
		}
	}

	for _, dev := range devices {
		newManufacturer := dev.Manufacturer != "" && !baseline.Manufacturers[dev.Manufacturer]
		newCategory := dev.Category != "" && !baseline.Categories[dev.Category]
		if newManufacturer || newCategory {
			findings = append(findings, model.AnomalyFinding{
				Type:      model.AnomalyNewDeviceType,
				Severity:  severityNewDevice,
				DeviceKey: dev.Key,
				Description: fmt.Sprintf("device %s (manufacturer %q, category %q) never observed during training",
					dev.Key, dev.Manufacturer, dev.Category),
				DetectedAt: now,
			})
		}
	}

	findings = append(findings, detectRogueAPs(devices, now)...)
	return findings
}

// detectRogueAPs flags two or more devices advertising the same wireless
// network identifier from different hardware identifiers at the same time:
// the evil-twin pattern. Fixed high severity regardless of other factors.
func detectRogueAPs(devices []model.Device, now time.Time) []model.AnomalyFinding {
	byNetwork := make(map[string][]model.Device)
	for _, dev := range devices {
		if dev.NetworkID == "" {
			continue
		}
		byNetwork[dev.NetworkID] = append(byNetwork[dev.NetworkID], dev)
	}

	networks := make([]string, 0, len(byNetwork))
	for id := range byNetwork {
		networks = append(networks, id)
	}
	sort.Strings(networks)

	var findings []model.AnomalyFinding
	for _, id := range networks {
		group := byNetwork[id]
		hardware := make(map[string]bool)
		for _, dev := range group {
			hw := dev.MAC
			if hw == "" {
				hw = dev.Key
			}
			hardware[hw] = true
		}
		if len(hardware) < 2 {
			continue
		}

		sort.Slice(group, func(i, j int) bool { return group[i].Key < group[j].Key })
		findings = append(findings, model.AnomalyFinding{
			Type:      model.AnomalyRogueAccessPoint,
			Severity:  severityRogueAP,
			DeviceKey: group[0].Key,
			Description: fmt.Sprintf("network %q advertised by %d distinct hardware identifiers simultaneously",
				id, len(hardware)),
			DetectedAt: now,
		})
	}
	return findings
}
