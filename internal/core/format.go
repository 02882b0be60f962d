package core

import (
	"fmt"
	"strings"
	"time"
)

// FormatAlertSubject builds the one-line subject for a notification.
func FormatAlertSubject(ev *AttackEvent) string {
	return fmt.Sprintf("SECURITY ALERT: %s attack detected from %s (score %.0f/100)",
		ev.Label.String(), ev.SourceIP, ev.Score)
}

// FormatAlertText renders the plain-text notification body: attack details,
// source intelligence, target, traffic, and the advisory list.
func FormatAlertText(ev *AttackEvent) string {
	var b strings.Builder

	b.WriteString("sentryd Intrusion Detection Alert\n")
	b.WriteString("=================================\n\n")

	b.WriteString("ATTACK DETAILS\n")
	fmt.Fprintf(&b, "  Type:         %s (%s)\n", ev.Label.String(), ev.Severity.String())
	fmt.Fprintf(&b, "  Confidence:   %.1f%%\n", ev.Confidence*100)
	fmt.Fprintf(&b, "  Threat Score: %.1f/100\n", ev.Score)
	fmt.Fprintf(&b, "  Time:         %s\n\n", ev.Timestamp.Format(time.RFC3339))

	b.WriteString("SOURCE\n")
	fmt.Fprintf(&b, "  IP Address:      %s\n", ev.SourceIP)
	if ev.Intel.Unknown {
		b.WriteString("  Intelligence:    unavailable (lookup failed)\n")
	} else {
		fmt.Fprintf(&b, "  Location:        %s, %s\n", orUnknown(ev.Intel.City), orUnknown(ev.Intel.Country))
		fmt.Fprintf(&b, "  Organization:    %s\n", orUnknown(ev.Intel.Org))
		fmt.Fprintf(&b, "  ASN:             %s\n", orUnknown(ev.Intel.ASN))
		fmt.Fprintf(&b, "  VPN Probability: %.0f%%\n", ev.Intel.VPNProbability*100)
	}
	b.WriteString("\n")

	b.WriteString("TARGET\n")
	fmt.Fprintf(&b, "  Destination IP:   %s\n", orUnknown(ev.DestinationIP))
	fmt.Fprintf(&b, "  Destination Port: %d\n", ev.DestPort)
	fmt.Fprintf(&b, "  Protocol:         %s\n", orUnknown(ev.Protocol))
	fmt.Fprintf(&b, "  Service:          %s\n\n", orUnknown(ev.Service))

	b.WriteString("TRAFFIC\n")
	fmt.Fprintf(&b, "  Bytes Sent:     %d\n", ev.SrcBytes)
	fmt.Fprintf(&b, "  Bytes Received: %d\n", ev.DstBytes)
	fmt.Fprintf(&b, "  Duration:       %.2fs\n", ev.Duration)

	if len(ev.Recommendations) > 0 {
		b.WriteString("\nRECOMMENDATIONS\n")
		for i, rec := range ev.Recommendations {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, rec)
		}
	}

	fmt.Fprintf(&b, "\nEvent ID: %s\n", ev.ID)
	b.WriteString("This is an automated alert. Investigate promptly.\n")

	return b.String()
}

// WebhookPayload builds the generic JSON payload for webhook delivery.
func WebhookPayload(ev *AttackEvent) map[string]interface{} {
	payload := map[string]interface{}{
		"event_id":     ev.ID,
		"timestamp":    ev.Timestamp.Format(time.RFC3339),
		"attack_type":  ev.Label.String(),
		"severity":     ev.Severity.String(),
		"confidence":   ev.Confidence,
		"threat_score": ev.Score,
		"source_ip":    ev.SourceIP,
		"dest_port":    ev.DestPort,
		"protocol":     ev.Protocol,
		"summary":      FormatAlertSubject(ev),
	}
	if !ev.Intel.Unknown {
		payload["country"] = ev.Intel.Country
		payload["city"] = ev.Intel.City
		payload["organization"] = ev.Intel.Org
		payload["vpn_probability"] = ev.Intel.VPNProbability
	}
	if len(ev.Recommendations) > 0 {
		payload["recommendations"] = ev.Recommendations
	}
	return payload
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
