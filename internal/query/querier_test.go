package query

import (
	"context"
	"strings"
	"testing"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

type fakeRow struct {
	values []uint64
	err    error
}

func (r fakeRow) Err() error                { return r.err }
func (r fakeRow) ScanStruct(dest any) error { return nil }

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		*(d.(*uint64)) = r.values[i]
	}
	return nil
}

// fakeConn satisfies driver.Conn through embedding; only QueryRow is
// implemented, the rest would panic if reached.
type fakeConn struct {
	driver.Conn
	row       fakeRow
	lastQuery string
	lastArgs  []any
}

func (c *fakeConn) QueryRow(ctx context.Context, query string, args ...any) driver.Row {
	c.lastQuery = query
	c.lastArgs = args
	return c.row
}

func TestDeviceUptimeCountsFromFirstObservation(t *testing.T) {
	conn := &fakeConn{row: fakeRow{values: []uint64{3, 4}}}
	q := &clickhouseQuerier{conn: conn}

	uptime, err := q.DeviceUptime(context.Background(), "mac:aa")
	if err != nil {
		t.Fatalf("DeviceUptime returned error: %v", err)
	}
	if uptime != 0.75 {
		t.Errorf("uptime = %v, want 0.75 (present 3 of 4 cycles since first seen)", uptime)
	}

	// The denominator must only count cycles at or after the device's first
	// snapshot, not every cycle ever recorded.
	if !strings.Contains(conn.lastQuery, "min(Timestamp)") {
		t.Errorf("query does not restrict the denominator to cycles since first observation:\n%s", conn.lastQuery)
	}
	if len(conn.lastArgs) != 2 || conn.lastArgs[0] != "mac:aa" || conn.lastArgs[1] != "mac:aa" {
		t.Errorf("expected the device key bound twice, got %v", conn.lastArgs)
	}
}

func TestDeviceUptimeUnknownDevice(t *testing.T) {
	conn := &fakeConn{row: fakeRow{values: []uint64{0, 9}}}
	q := &clickhouseQuerier{conn: conn}

	if _, err := q.DeviceUptime(context.Background(), "mac:never-seen"); err == nil {
		t.Fatal("expected an error for a device with no recorded cycles")
	}
}
