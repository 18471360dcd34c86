// Package anomaly learns per-network normal ranges from repeated scans and
// flags statistical deviations in later ones. Baselines are rebuilt whole,
// never mutated incrementally, so the statistics stay well-defined.
package anomaly

import (
	"fmt"
	"time"

	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/model"
)

// Engine builds baselines and detects deviations against them.
type Engine struct {
	minScans      int
	window        time.Duration
	rareThreshold float64
}

// NewEngine validates the anomaly configuration and creates an engine.
func NewEngine(cfg config.AnomalyConfig) (*Engine, error) {
	if cfg.MinTrainingScans <= 0 {
		return nil, fmt.Errorf("%w: min_training_scans must be positive, got %d",
			model.ErrInvalidConfiguration, cfg.MinTrainingScans)
	}
	window, err := time.ParseDuration(cfg.TrainingWindow)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid training_window: %v", model.ErrInvalidConfiguration, err)
	}
	rare := cfg.RarePortThreshold
	if rare <= 0 || rare >= 1 {
		return nil, fmt.Errorf("%w: rare_port_threshold must be in (0, 1), got %v",
			model.ErrInvalidConfiguration, rare)
	}
	return &Engine{
		minScans:      cfg.MinTrainingScans,
		window:        window,
		rareThreshold: rare,
	}, nil
}

// BuildBaseline aggregates a window of historical scan cycles into an
// immutable baseline. Fewer cycles than the configured minimum fail with
// InsufficientDataError.
func (e *Engine) BuildBaseline(networkID string, history []model.CycleReport) (*model.Baseline, error) {
	if len(history) < e.minScans {
		return nil, &model.InsufficientDataError{Have: len(history), Need: e.minScans}
	}

	baseline := &model.Baseline{
		NetworkID:     networkID,
		TrainedAt:     time.Now(),
		Window:        e.window,
		Scans:         len(history),
		PortFrequency: make(map[int]float64),
		Manufacturers: make(map[string]bool),
		Categories:    make(map[string]bool),
	}

	portSeen := make(map[int]int)
	for i, cycle := range history {
		count := len(cycle.Devices)
		if i == 0 || count < baseline.DeviceCountMin {
			baseline.DeviceCountMin = count
		}
		if count > baseline.DeviceCountMax {
			baseline.DeviceCountMax = count
		}

		for _, dev := range cycle.Devices {
			if dev.Manufacturer != "" {
				baseline.Manufacturers[dev.Manufacturer] = true
			}
			if dev.Category != "" {
				baseline.Categories[dev.Category] = true
			}
		}

		// A port counts once per cycle no matter how many devices expose it.
		openThisCycle := make(map[int]bool)
		for _, res := range cycle.Results {
			for _, port := range res.OpenPorts() {
				openThisCycle[port] = true
			}
		}
		for port := range openThisCycle {
			portSeen[port]++
		}
	}

	for port, seen := range portSeen {
		baseline.PortFrequency[port] = float64(seen) / float64(len(history))
	}
	return baseline, nil
}
