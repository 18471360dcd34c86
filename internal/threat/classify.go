// Package threat maps scan results to severity-scored findings through a
// static, versioned rule table. Classification is stateless: the same
// ScanResult always yields the same finding set.
package threat

import (
	"fmt"
	"sort"

	"Go2NetSentry/internal/model"
)

// Classify derives all threat findings for one scan result. It is a pure
// function of the result and the rule table: no randomness, no hidden state.
func Classify(result *model.ScanResult) []model.ThreatFinding {
	open := result.OpenPorts()
	findings := make([]model.ThreatFinding, 0, len(open))

	httpOpen, httpsOpen := false, false
	var remoteAccessOpen []int

	for _, port := range open {
		switch port {
		case httpPort:
			httpOpen = true
		case httpsPort:
			httpsOpen = true
		}
		if _, ok := remoteAccessPorts[port]; ok {
			remoteAccessOpen = append(remoteAccessOpen, port)
		}

		rule, ok := ruleFor(port)
		if !ok {
			continue
		}
		findings = append(findings, model.ThreatFinding{
			Category:    rule.category,
			Severity:    rule.severity,
			DeviceKey:   result.DeviceKey,
			Port:        port,
			Description: rule.description,
			Remediation: rule.remediation,
		})
	}

	if httpOpen && !httpsOpen {
		findings = append(findings, model.ThreatFinding{
			Category:    model.ThreatUnencrypted,
			Severity:    plaintextWebSeverity,
			DeviceKey:   result.DeviceKey,
			Port:        httpPort,
			Description: "Web service on port 80 with no encrypted counterpart on 443",
			Remediation: "Serve the site over HTTPS and redirect plaintext traffic",
		})
	}

	// Compounding risk: reported once per host, not once per port.
	if len(remoteAccessOpen) >= compoundRemoteAccessMin {
		findings = append(findings, model.ThreatFinding{
			Category:  model.ThreatExposedRemoteAccess,
			Severity:  compoundRemoteAccessSeverity,
			DeviceKey: result.DeviceKey,
			Description: fmt.Sprintf("%d distinct remote-access services simultaneously reachable %v",
				len(remoteAccessOpen), remoteAccessOpen),
			Remediation: "Reduce the remote administration surface to a single audited entry point",
		})
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Severity != findings[j].Severity {
			return findings[i].Severity > findings[j].Severity
		}
		if findings[i].Port != findings[j].Port {
			return findings[i].Port < findings[j].Port
		}
		return findings[i].Category < findings[j].Category
	})
	return findings
}
