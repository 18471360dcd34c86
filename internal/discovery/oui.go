package discovery

import "strings"

// ouiVendors maps MAC OUI prefixes to manufacturer names. A tiny embedded
// sample of common LAN vendors; the full IEEE registry is several megabytes.
var ouiVendors = map[string]string{
	"DC:A6:32": "Raspberry Pi",
	"B8:27:EB": "Raspberry Pi",
	"D8:3A:DD": "Raspberry Pi",
	"00:1A:2B": "Cisco",
	"F0:9E:63": "Apple",
	"BC:D1:D3": "Apple",
	"00:03:93": "Apple",
	"00:17:F2": "Apple",
	"AC:29:3A": "Canon",
	"00:11:32": "Synology",
	"24:8D:76": "Espressif",
	"84:F3:EB": "Espressif",
	"50:E5:49": "Gigabyte",
	"00:50:56": "VMware",
	"00:0C:29": "VMware",
	"52:54:00": "QEMU/KVM",
	"FC:EC:DA": "Ubiquiti",
	"78:8A:20": "Ubiquiti",
	"A0:21:B7": "Netgear",
	"C0:56:27": "Belkin",
}

// ManufacturerForMAC resolves a manufacturer name from the first three octets
// of a MAC address. Returns "" when the prefix is unknown or the MAC is too
// short.
func ManufacturerForMAC(mac string) string {
	if len(mac) < 8 {
		return ""
	}
	return ouiVendors[strings.ToUpper(mac[:8])]
}
