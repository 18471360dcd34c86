package model

import (
	"context"
	"net"
	"time"
)

// Prober is the external probe primitive: one connection attempt to one
// host:port pair within a bounded timeout. Implementations must absorb
// transport failures into a PortStatus and never panic on malformed input.
type Prober interface {
	Probe(ctx context.Context, ip net.IP, port int, timeout time.Duration) PortStatus
}
