package history

import (
	"context"
	"fmt"
	"log"
	"time"

	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const createSnapshotsTableStatement = `
CREATE TABLE IF NOT EXISTS device_snapshots (
    Timestamp    DateTime,
    Cycle        UInt64,
    DeviceKey    String,
    IP           String,
    Hostname     Nullable(String),
    Manufacturer Nullable(String),
    Category     Nullable(String),
    Confidence   UInt8,
    OpenPorts    Array(UInt16)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (DeviceKey, Timestamp);
`

const createEventsTableStatement = `
CREATE TABLE IF NOT EXISTS change_events (
    Timestamp DateTime,
    Cycle     UInt64,
    Category  String,
    DeviceKey String,
    Port      UInt16,
    Detail    Nullable(String)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Timestamp, DeviceKey);
`

// ClickHouseWriter implements the model.Writer interface for ClickHouse.
type ClickHouseWriter struct {
	conn     driver.Conn
	interval time.Duration
}

// NewClickHouseWriter creates a new ClickHouse writer and ensures both
// history tables exist.
func NewClickHouseWriter(cfg config.ClickHouseConfig, interval time.Duration) (model.Writer, error) {
	conn, err := Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	for _, stmt := range []string{createSnapshotsTableStatement, createEventsTableStatement} {
		if err := conn.Exec(context.Background(), stmt); err != nil {
			return nil, fmt.Errorf("failed to create table: %w", err)
		}
	}
	log.Println("Successfully connected to ClickHouse and ensured tables exist.")

	return &ClickHouseWriter{conn: conn, interval: interval}, nil
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *ClickHouseWriter) GetInterval() time.Duration {
	return w.interval
}

// Connect opens a ClickHouse connection from the config block. Shared with
// the query package.
func Connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Debug: false,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// Write inserts one cycle report into the device_snapshots and change_events
// tables.
func (w *ClickHouseWriter) Write(payload interface{}, timestamp string) error {
	report, ok := payload.(*model.CycleReport)
	if !ok {
		return fmt.Errorf("invalid payload type for ClickHouse Writer: expected *model.CycleReport, got %T", payload)
	}

	cycleTime, _ := time.Parse("2006-01-02_15-04-05", timestamp)

	devices := make(map[string]*model.Device, len(report.Devices))
	for i := range report.Devices {
		devices[report.Devices[i].Key] = &report.Devices[i]
	}

	batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO device_snapshots")
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot batch: %w", err)
	}
	for _, snap := range report.Snapshots {
		var hostname, manufacturer, category interface{}
		ip, confidence := "", uint8(0)
		if dev, ok := devices[snap.DeviceKey]; ok {
			if dev.IP != nil {
				ip = dev.IP.String()
			}
			confidence = uint8(dev.Confidence)
			hostname = nullableString(dev.Hostname)
			manufacturer = nullableString(dev.Manufacturer)
			category = nullableString(dev.Category)
		}

		open := make([]uint16, 0, len(snap.Ports))
		for port, st := range snap.Ports {
			if st == model.PortOpen {
				open = append(open, uint16(port))
			}
		}

		if err := batch.Append(
			snap.Timestamp,
			report.Cycle,
			snap.DeviceKey,
			ip,
			hostname,
			manufacturer,
			category,
			confidence,
			open,
		); err != nil {
			return fmt.Errorf("failed to append snapshot to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send snapshot batch: %w", err)
	}

	if len(report.Events) > 0 {
		batch, err = w.conn.PrepareBatch(context.Background(), "INSERT INTO change_events")
		if err != nil {
			return fmt.Errorf("failed to prepare event batch: %w", err)
		}
		for _, event := range report.Events {
			ts := event.Timestamp
			if ts.IsZero() {
				ts = cycleTime
			}
			if err := batch.Append(
				ts,
				report.Cycle,
				string(event.Category),
				event.DeviceKey,
				uint16(event.Port),
				nullableString(event.Detail),
			); err != nil {
				return fmt.Errorf("failed to append event to batch: %w", err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("failed to send event batch: %w", err)
		}
	}

	log.Printf("Wrote %d snapshots and %d events to ClickHouse for cycle %d",
		len(report.Snapshots), len(report.Events), report.Cycle)
	return nil
}

// nullableString maps empty strings to NULL for insertion.
func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
