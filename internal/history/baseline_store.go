package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"Go2NetSentry/internal/model"
)

const baselineFileName = "baseline.json"

// SaveBaseline persists a trained baseline as JSON next to the gob snapshot
// directories so it survives daemon restarts.
func SaveBaseline(rootPath string, baseline *model.Baseline) error {
	if err := os.MkdirAll(rootPath, 0755); err != nil {
		return fmt.Errorf("failed to create baseline directory: %w", err)
	}
	data, err := json.MarshalIndent(baseline, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal baseline: %w", err)
	}
	return os.WriteFile(filepath.Join(rootPath, baselineFileName), data, 0644)
}

// LoadBaseline reads a previously saved baseline. A missing file is not an
// error; it returns (nil, nil) so the caller can start without one.
func LoadBaseline(rootPath string) (*model.Baseline, error) {
	data, err := os.ReadFile(filepath.Join(rootPath, baselineFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read baseline file: %w", err)
	}
	var baseline model.Baseline
	if err := json.Unmarshal(data, &baseline); err != nil {
		return nil, fmt.Errorf("failed to unmarshal baseline: %w", err)
	}
	return &baseline, nil
}
