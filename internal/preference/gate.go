package preference

import (
	"time"

	"github.com/lalithlochan/herdwatch/internal/alert"
)

// Gate reasons.
const (
	ReasonDisabled         = "disabled"
	ReasonSeverityFiltered = "severity_filtered"
	ReasonTypeFiltered     = "type_filtered"
	ReasonCategoryFiltered = "category_filtered"
	ReasonNoChannels       = "no_channels"
	ReasonQuietHours       = "quiet_hours"
	ReasonNoRoute          = "no_route"
)

// Decision is the outcome of the real-time gate.
type Decision struct {
	Send     bool            `json:"send"`
	Channels []alert.Channel `json:"channels,omitempty"`
	Reason   string          `json:"reason,omitempty"`
}

// Decide gates n for a user whose preference may be missing. A missing
// preference allows in-app delivery.
func Decide(p *Preference, n *alert.Notification, now time.Time) Decision {
	if p == nil {
		return Decision{Send: true, Channels: []alert.Channel{alert.ChannelApp}}
	}
	return ShouldSend(*p, n, now)
}

// ShouldSend applies the checks in order and the first failing one wins.
func ShouldSend(p Preference, n *alert.Notification, now time.Time) Decision {
	if !p.Enabled {
		return Decision{Reason: ReasonDisabled}
	}
	if on, ok := p.Severities[n.Severity]; ok && !on {
		return Decision{Reason: ReasonSeverityFiltered}
	}
	if on, ok := p.Types[n.Type]; ok && !on {
		return Decision{Reason: ReasonTypeFiltered}
	}
	if n.Category != "" {
		if on, ok := p.Categories[n.Category]; ok && !on {
			return Decision{Reason: ReasonCategoryFiltered}
		}
	}

	enabled := RealtimeChannels(p)
	if len(enabled) == 0 {
		return Decision{Reason: ReasonNoChannels}
	}

	if IsSuppressed(now, p.QuietHours, n.Severity == alert.SeverityCritical) {
		return Decision{Reason: ReasonQuietHours}
	}

	var channels []alert.Channel
	for _, c := range p.Routing[n.Severity] {
		if enabled[c] {
			channels = append(channels, c)
		}
	}
	if len(channels) == 0 {
		return Decision{Reason: ReasonNoRoute}
	}
	return Decision{Send: true, Channels: channels}
}

// RealtimeChannels returns the channels enabled for immediate delivery.
func RealtimeChannels(p Preference) map[alert.Channel]bool {
	out := make(map[alert.Channel]bool)
	for c, cfg := range p.Channels {
		if cfg.Enabled && cfg.Frequency == FrequencyImmediate {
			out[c] = true
		}
	}
	return out
}

// Includes reports whether the digest inclusion maps admit n.
func (d DigestSettings) Includes(n *alert.Notification) bool {
	if n.IsRead && !d.IncludeRead {
		return false
	}
	if on, ok := d.Severities[n.Severity]; ok && !on {
		return false
	}
	if on, ok := d.Types[n.Type]; ok && !on {
		return false
	}
	if n.Category != "" {
		if on, ok := d.Categories[n.Category]; ok && !on {
			return false
		}
	}
	return true
}
