package discovery

import (
	"net"
	"os"
	"runtime"
	"strings"
	"time"
)

// enrichFromARP reads the local ARP table to attach MAC addresses and
// manufacturers to swept devices. Linux only; a best-effort enrichment that
// silently does nothing elsewhere.
func (c *Coordinator) enrichFromARP() {
	if runtime.GOOS != "linux" || c.subnet == nil {
		return
	}

	content, err := os.ReadFile("/proc/net/arp")
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(content), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		ip, mac := fields[0], strings.ToLower(fields[3])
		parsed := net.ParseIP(ip)
		if parsed == nil || !c.subnet.Contains(parsed) || mac == "00:00:00:00:00:00" || !looksLikeMAC(mac) {
			continue
		}

		for _, dev := range c.registry.Snapshot() {
			if dev.IP == nil || dev.IP.String() != ip || dev.MAC != "" {
				continue
			}
			dev.MAC = mac
			dev.Manufacturer = ManufacturerForMAC(mac)
			dev.LastSeen = time.Now()
			c.registry.Upsert(&dev)
			break
		}
	}
}
