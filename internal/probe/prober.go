package probe

import (
	"context"
	"errors"
	"log"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"Go2NetSentry/internal/model"
)

// TCPProber is the default probe primitive: a plain TCP connect with a
// per-probe timeout. It implements model.Prober.
type TCPProber struct{}

// NewTCPProber creates a new TCP connect prober.
func NewTCPProber() *TCPProber {
	return &TCPProber{}
}

// Probe attempts one TCP connection to ip:port. Outcomes map to port status:
// a successful dial is open, an explicit refusal is closed, a timeout is
// filtered, anything else is error. Errors never abort the surrounding scan;
// they are absorbed into the status and logged.
func (p *TCPProber) Probe(ctx context.Context, ip net.IP, port int, timeout time.Duration) model.PortStatus {
	dialer := net.Dialer{Timeout: timeout}
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(port))

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err == nil {
		conn.Close()
		return model.PortOpen
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return model.PortClosed
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return model.PortFiltered
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.PortFiltered
	}
	if errors.Is(err, context.Canceled) {
		return model.PortFiltered
	}

	log.Printf("Probe error for %s: %v", addr, err)
	return model.PortError
}
