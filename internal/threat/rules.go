package threat

import "Go2NetSentry/internal/model"

// RulesVersion identifies the static rule table consumed by Classify. Bump it
// whenever the port/severity mapping below changes.
const RulesVersion = "v1"

// backdoorPorts lists ports with known historical malware associations.
var backdoorPorts = map[int]string{
	1243:  "SubSeven",
	2745:  "Bagle",
	4444:  "Metasploit handler",
	6667:  "IRC botnet C2",
	12345: "NetBus",
	27374: "SubSeven",
	31337: "Back Orifice",
	54321: "Back Orifice 2000",
}

// datastorePorts lists database and cache services that must never be
// reachable from the network.
var datastorePorts = map[int]string{
	1433:  "Microsoft SQL Server",
	3306:  "MySQL",
	5432:  "PostgreSQL",
	6379:  "Redis",
	9200:  "Elasticsearch",
	11211: "Memcached",
	27017: "MongoDB",
}

// remoteAccessPorts lists remote-access protocol ports counted by the
// compound exposure rule.
var remoteAccessPorts = map[int]string{
	22:   "SSH",
	23:   "Telnet",
	139:  "NetBIOS session",
	445:  "SMB",
	3389: "RDP",
	5632: "pcAnywhere",
	5900: "VNC",
	5901: "VNC",
	5902: "VNC",
}

// portRule maps one open port to one finding.
type portRule struct {
	category    model.ThreatCategory
	severity    float64
	description string
	remediation string
}

// compoundRemoteAccess parameters: three or more distinct remote-access
// ports on one host yield a single compounding-risk finding.
const (
	compoundRemoteAccessMin      = 3
	compoundRemoteAccessSeverity = 7.5
)

const (
	plaintextWebSeverity = 5.3
	httpPort             = 80
	httpsPort            = 443
)

// portRules is the static per-port rule table. Backdoor and datastore ports
// are folded in programmatically by ruleFor so the lists above stay the
// single source of truth.
var portRules = map[int]portRule{
	23: {
		category:    model.ThreatUnencrypted,
		severity:    9.0,
		description: "Telnet service accepts cleartext remote shell sessions",
		remediation: "Disable Telnet and use SSH for remote administration",
	},
	21: {
		category:    model.ThreatUnencrypted,
		severity:    7.5,
		description: "FTP service transfers files and credentials in cleartext",
		remediation: "Replace FTP with SFTP or FTPS",
	},
	3389: {
		category:    model.ThreatExposedRemoteAccess,
		severity:    8.0,
		description: "Remote Desktop Protocol is reachable from the network",
		remediation: "Restrict RDP behind a VPN and enforce network level authentication",
	},
	5900: {
		category:    model.ThreatExposedRemoteAccess,
		severity:    8.0,
		description: "VNC remote framebuffer is reachable from the network",
		remediation: "Tunnel VNC over SSH or disable it",
	},
	5901: {
		category:    model.ThreatExposedRemoteAccess,
		severity:    8.0,
		description: "VNC remote framebuffer is reachable from the network",
		remediation: "Tunnel VNC over SSH or disable it",
	},
	5902: {
		category:    model.ThreatExposedRemoteAccess,
		severity:    8.0,
		description: "VNC remote framebuffer is reachable from the network",
		remediation: "Tunnel VNC over SSH or disable it",
	},
	445: {
		category:    model.ThreatExposedRemoteAccess,
		severity:    7.5,
		description: "SMB file sharing is reachable from the network",
		remediation: "Limit SMB to trusted hosts and disable SMBv1",
	},
	139: {
		category:    model.ThreatExposedRemoteAccess,
		severity:    7.5,
		description: "NetBIOS session service is reachable from the network",
		remediation: "Disable NetBIOS over TCP/IP unless legacy clients require it",
	},
}

// ruleFor resolves the finding for one open port, if any.
func ruleFor(port int) (portRule, bool) {
	if name, ok := backdoorPorts[port]; ok {
		return portRule{
			category:    model.ThreatBackdoorPort,
			severity:    10.0,
			description: "Open port historically associated with " + name,
			remediation: "Identify the listening process immediately and isolate the device",
		}, true
	}
	if name, ok := datastorePorts[port]; ok {
		return portRule{
			category:    model.ThreatExposedDatastore,
			severity:    9.8,
			description: name + " is reachable from the network instead of loopback only",
			remediation: "Bind " + name + " to localhost or firewall the port",
		}, true
	}
	rule, ok := portRules[port]
	return rule, ok
}
