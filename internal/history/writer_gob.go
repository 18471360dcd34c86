package history

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"Go2NetSentry/internal/model"
)

// reportFileName holds the gob-encoded cycle report inside each timestamped
// snapshot directory.
const reportFileName = "report.dat"

// SummaryData holds the metadata for a persisted cycle, internal to the writer.
type SummaryData struct {
	Cycle     uint64 `json:"cycle"`
	Devices   int    `json:"devices"`
	Snapshots int    `json:"snapshots"`
	Events    int    `json:"events"`
	Timestamp string `json:"timestamp"`
}

// GobWriter handles writing cycle reports to disk in gob format.
// It implements the model.Writer interface.
type GobWriter struct {
	rootPath string
	interval time.Duration
}

// NewGobWriter creates a new writer for cycle report data.
func NewGobWriter(rootPath string, interval time.Duration) model.Writer {
	return &GobWriter{rootPath: rootPath, interval: interval}
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *GobWriter) GetInterval() time.Duration {
	return w.interval
}

// Write serializes one cycle report into a timestamped directory.
// It expects the payload to be of type *model.CycleReport.
func (w *GobWriter) Write(payload interface{}, timestamp string) error {
	report, ok := payload.(*model.CycleReport)
	if !ok {
		return fmt.Errorf("invalid payload type for GobWriter: expected *model.CycleReport, got %T", payload)
	}

	cycleDir := filepath.Join(w.rootPath, timestamp)
	if err := os.MkdirAll(cycleDir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	filePath := filepath.Join(cycleDir, reportFileName)
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file '%s': %w", filePath, err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(report); err != nil {
		return fmt.Errorf("failed to encode cycle report to gob for '%s': %w", filePath, err)
	}

	summary := SummaryData{
		Cycle:     report.Cycle,
		Devices:   len(report.Devices),
		Snapshots: len(report.Snapshots),
		Events:    len(report.Events),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	summaryFile, err := os.Create(filepath.Join(cycleDir, "summary.json"))
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer summaryFile.Close()

	jsonEncoder := json.NewEncoder(summaryFile)
	jsonEncoder.SetIndent("", "  ")
	if err := jsonEncoder.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}

	return nil
}

// LoadLatest reads the most recent persisted cycle report under rootPath.
// Returns os.ErrNotExist when no snapshot has been written yet.
func LoadLatest(rootPath string) (*model.CycleReport, error) {
	entries, err := os.ReadDir(rootPath)
	if err != nil {
		return nil, err
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}
	if len(dirs) == 0 {
		return nil, os.ErrNotExist
	}
	// Directory names are sortable timestamps.
	sort.Strings(dirs)

	filePath := filepath.Join(rootPath, dirs[len(dirs)-1], reportFileName)
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var report model.CycleReport
	if err := gob.NewDecoder(file).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode cycle report '%s': %w", filePath, err)
	}
	return &report, nil
}
