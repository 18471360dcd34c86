package query

import (
	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/history"
	"Go2NetSentry/internal/model"
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// DeviceRow is the latest recorded state of one device.
type DeviceRow struct {
	DeviceKey    string    `json:"device_key"`
	IP           string    `json:"ip"`
	Hostname     string    `json:"hostname,omitempty"`
	Manufacturer string    `json:"manufacturer,omitempty"`
	Category     string    `json:"category,omitempty"`
	Confidence   uint8     `json:"confidence"`
	OpenPorts    []uint16  `json:"open_ports"`
	LastSeen     time.Time `json:"last_seen"`
}

// ChangeRow is one recorded change event.
type ChangeRow struct {
	Timestamp time.Time `json:"timestamp"`
	Cycle     uint64    `json:"cycle"`
	Category  string    `json:"category"`
	DeviceKey string    `json:"device_key"`
	Port      uint16    `json:"port,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// CategoryCount aggregates change events per category.
type CategoryCount struct {
	Category string `json:"category"`
	Count    uint64 `json:"count"`
}

// Querier defines the interface for querying recorded network history.
type Querier interface {
	LatestDevices(ctx context.Context) ([]DeviceRow, error)
	ChangesInRange(ctx context.Context, since, until time.Time, deviceKey string) ([]ChangeRow, error)
	ChangeCounts(ctx context.Context, since time.Time) ([]CategoryCount, error)
	CycleHistory(ctx context.Context, since time.Time) ([]model.CycleReport, error)
	DeviceUptime(ctx context.Context, deviceKey string) (float64, error)
}

// clickhouseQuerier implements the Querier interface for ClickHouse.
type clickhouseQuerier struct {
	conn driver.Conn
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(cfg config.ClickHouseConfig) (Querier, error) {
	conn, err := history.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return &clickhouseQuerier{conn: conn}, nil
}

// LatestDevices returns the most recent snapshot of every device ever
// recorded, newest first.
func (q *clickhouseQuerier) LatestDevices(ctx context.Context) ([]DeviceRow, error) {
	const query = `
		SELECT
			DeviceKey,
			argMax(IP, Timestamp) AS IP,
			argMax(coalesce(Hostname, ''), Timestamp) AS Hostname,
			argMax(coalesce(Manufacturer, ''), Timestamp) AS Manufacturer,
			argMax(coalesce(Category, ''), Timestamp) AS Category,
			argMax(Confidence, Timestamp) AS Confidence,
			argMax(OpenPorts, Timestamp) AS OpenPorts,
			max(Timestamp) AS LastSeen
		FROM device_snapshots
		GROUP BY DeviceKey
		ORDER BY LastSeen DESC
	`

	rows, err := q.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var devices []DeviceRow
	for rows.Next() {
		var d DeviceRow
		if err := rows.Scan(&d.DeviceKey, &d.IP, &d.Hostname, &d.Manufacturer, &d.Category, &d.Confidence, &d.OpenPorts, &d.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan device row: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// ChangesInRange returns change events between since and until, optionally
// filtered to one device.
func (q *clickhouseQuerier) ChangesInRange(ctx context.Context, since, until time.Time, deviceKey string) ([]ChangeRow, error) {
	var queryBuilder strings.Builder
	queryBuilder.WriteString(`
		SELECT Timestamp, Cycle, Category, DeviceKey, Port, coalesce(Detail, '')
		FROM change_events
	`)

	whereClauses := []string{"Timestamp >= ?", "Timestamp <= ?"}
	args := []interface{}{since, until}
	if deviceKey != "" {
		whereClauses = append(whereClauses, "DeviceKey = ?")
		args = append(args, deviceKey)
	}
	queryBuilder.WriteString(" WHERE " + strings.Join(whereClauses, " AND "))
	queryBuilder.WriteString(" ORDER BY Timestamp DESC")

	rows, err := q.conn.Query(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var changes []ChangeRow
	for rows.Next() {
		var c ChangeRow
		if err := rows.Scan(&c.Timestamp, &c.Cycle, &c.Category, &c.DeviceKey, &c.Port, &c.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan change row: %w", err)
		}
		changes = append(changes, c)
	}
	return changes, nil
}

// CycleHistory reconstructs per-cycle device composition and open ports from
// the snapshot table, oldest cycle first. It carries just enough of each
// device and result for baseline training.
func (q *clickhouseQuerier) CycleHistory(ctx context.Context, since time.Time) ([]model.CycleReport, error) {
	const query = `
		SELECT Cycle, min(Timestamp) AS Started,
			groupArray(DeviceKey),
			groupArray(IP),
			groupArray(coalesce(Manufacturer, '')),
			groupArray(coalesce(Category, '')),
			groupArray(OpenPorts)
		FROM device_snapshots
		WHERE Timestamp >= ?
		GROUP BY Cycle
		ORDER BY Cycle ASC
	`

	rows, err := q.conn.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var reports []model.CycleReport
	for rows.Next() {
		var (
			cycle     uint64
			started   time.Time
			keys      []string
			ips       []string
			makers    []string
			cats      []string
			openPorts [][]uint16
		)
		if err := rows.Scan(&cycle, &started, &keys, &ips, &makers, &cats, &openPorts); err != nil {
			return nil, fmt.Errorf("failed to scan cycle row: %w", err)
		}

		report := model.CycleReport{Cycle: cycle, Timestamp: started}
		for i, key := range keys {
			report.Devices = append(report.Devices, model.Device{
				Key:          key,
				IP:           net.ParseIP(ips[i]),
				Manufacturer: makers[i],
				Category:     cats[i],
			})
			status := make(map[int]model.PortStatus, len(openPorts[i]))
			ports := make([]int, 0, len(openPorts[i]))
			for _, p := range openPorts[i] {
				status[int(p)] = model.PortOpen
				ports = append(ports, int(p))
			}
			sort.Ints(ports)
			report.Results = append(report.Results, model.ScanResult{
				DeviceKey: key,
				IP:        net.ParseIP(ips[i]),
				Timestamp: started,
				Ports:     ports,
				Status:    status,
			})
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// DeviceUptime returns the fraction of cycles in which the device was
// present, counted from its first observation onward rather than from the
// start of recording.
func (q *clickhouseQuerier) DeviceUptime(ctx context.Context, deviceKey string) (float64, error) {
	const query = `
		SELECT
			uniqExactIf(Cycle, DeviceKey = ?) AS Present,
			uniqExactIf(Cycle, Timestamp >= (
				SELECT min(Timestamp) FROM device_snapshots WHERE DeviceKey = ?
			)) AS Total
		FROM device_snapshots
	`

	var present, total uint64
	row := q.conn.QueryRow(ctx, query, deviceKey, deviceKey)
	if err := row.Scan(&present, &total); err != nil {
		return 0, fmt.Errorf("failed to scan uptime result: %w", err)
	}
	if present == 0 || total == 0 {
		return 0, fmt.Errorf("no cycles recorded for device %s", deviceKey)
	}
	return float64(present) / float64(total), nil
}

// ChangeCounts aggregates change events per category since the given time.
func (q *clickhouseQuerier) ChangeCounts(ctx context.Context, since time.Time) ([]CategoryCount, error) {
	const query = `
		SELECT Category, COUNT(*) AS Count
		FROM change_events
		WHERE Timestamp >= ?
		GROUP BY Category
		ORDER BY Count DESC
	`

	rows, err := q.conn.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var counts []CategoryCount
	for rows.Next() {
		var c CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, nil
}
