package coordinator

import (
	"time"

	"github.com/nerrad567/smartwater-core/internal/fetch"
	"github.com/nerrad567/smartwater-core/internal/smartwater"
	"github.com/nerrad567/smartwater-core/internal/store"
)

// Redacted replaces sensitive values in diagnostics.
const Redacted = "**REDACTED**"

// redactKeys lists the settings never shown in diagnostics.
var redactKeys = map[string]bool{
	"password":      true,
	"client_secret": true,
}

// Diagnostics is the support dump of one profile.
type Diagnostics struct {
	Config      map[string]any    `json:"config"`
	Data        DiagnosticsData   `json:"data"`
	Cache       store.Diagnostics `json:"cache"`
	Diagnostics DiagnosticsStats  `json:"diagnostics"`
}

// DiagnosticsData holds the loaded data.
type DiagnosticsData struct {
	ProfileID string                         `json:"profile_id"`
	Profile   smartwater.Snapshot            `json:"profile"`
	Devices   map[string]smartwater.Snapshot `json:"devices"`
}

// DiagnosticsStats holds the fetch statistics and reload state.
type DiagnosticsStats struct {
	TS          time.Time `json:"ts"`
	ReloadCount int       `json:"reload_count"`
	LastUpdate  time.Time `json:"last_update,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
	fetch.Report
}

// Diagnostics returns the current diagnostics with credentials redacted.
func (c *Coordinator) Diagnostics() Diagnostics {
	d := Diagnostics{
		Config: Redact(map[string]any{
			"username":     c.settings.Username,
			"password":     c.settings.Password,
			"profile_id":   c.settings.ProfileID,
			"profile_name": c.settings.ProfileName,
		}),
		Data: DiagnosticsData{
			ProfileID: c.settings.ProfileID,
			Profile:   c.orch.Profile().Snapshot(),
			Devices:   c.orch.Devices().Snapshots(),
		},
		Cache: c.orch.CacheDiagnostics(),
		Diagnostics: DiagnosticsStats{
			TS:          c.now(),
			ReloadCount: c.tracker.Count(),
			LastUpdate:  c.LastUpdate(),
			Report:      c.orch.Statistics().Report(),
		},
	}
	if err := c.LastError(); err != nil {
		d.Diagnostics.LastError = err.Error()
	}
	return d
}

// Redact returns a copy of m with sensitive values replaced, descending
// into nested maps.
func Redact(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch {
		case redactKeys[k]:
			out[k] = Redacted
		default:
			if nested, ok := v.(map[string]any); ok {
				out[k] = Redact(nested)
			} else {
				out[k] = v
			}
		}
	}
	return out
}
