package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/smartwater-core/internal/coordinator"
	"github.com/nerrad567/smartwater-core/internal/smartwater"
)

// ProfileSummary describes one running profile.
type ProfileSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Devices     int       `json:"devices"`
	ReloadCount int       `json:"reload_count"`
	LastUpdate  time.Time `json:"last_update,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
}

// DeviceView is a gateway or device with its entity states.
type DeviceView struct {
	ID        string                   `json:"id"`
	Family    string                   `json:"family"`
	FamilySub string                   `json:"family_sub"`
	Name      string                   `json:"name"`
	Type      string                   `json:"type,omitempty"`
	GatewayID string                   `json:"gateway_id,omitempty"`
	States    []smartwater.EntityState `json:"states"`
}

func deviceView(r smartwater.Record) DeviceView {
	states := smartwater.States(smartwater.DeviceSet{r.ID(): r})
	if states == nil {
		states = []smartwater.EntityState{}
	}
	return DeviceView{
		ID:        r.ID(),
		Family:    string(r.Family()),
		FamilySub: r.FamilySub(),
		Name:      r.Name(),
		Type:      r.Type(),
		GatewayID: r.GatewayID(),
		States:    states,
	}
}

// coordinatorFor resolves the {id} URL parameter. It writes the error
// response and returns nil when the profile is unknown.
func (s *Server) coordinatorFor(w http.ResponseWriter, r *http.Request) *coordinator.Coordinator {
	c, err := s.profiles.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeNotFound(w, "profile not found")
		return nil
	}
	return c
}

// handleListProfiles returns a summary of every running profile.
func (s *Server) handleListProfiles(w http.ResponseWriter, _ *http.Request) {
	coords := s.profiles.Coordinators()
	profiles := make([]ProfileSummary, 0, len(coords))
	for _, c := range coords {
		p := ProfileSummary{
			ID:          c.ProfileID(),
			Name:        c.Name(),
			Devices:     len(c.Devices()),
			ReloadCount: c.ReloadCount(),
			LastUpdate:  c.LastUpdate(),
		}
		if err := c.LastError(); err != nil {
			p.LastError = err.Error()
		}
		profiles = append(profiles, p)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"profiles": profiles,
		"count":    len(profiles),
	})
}

// handleListDevices returns the gateways and devices of a profile.
// The optional family query parameter filters by family, e.g. ?family=gw.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	c := s.coordinatorFor(w, r)
	if c == nil {
		return
	}

	family := r.URL.Query().Get("family")
	set := c.Devices()
	devices := make([]DeviceView, 0, len(set))
	for _, id := range set.IDs() {
		rec := set[id]
		if family != "" && string(rec.Family()) != family {
			continue
		}
		devices = append(devices, deviceView(rec))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one gateway or device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	c := s.coordinatorFor(w, r)
	if c == nil {
		return
	}

	rec, ok := c.Devices()[chi.URLParam(r, "deviceID")]
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, deviceView(rec))
}

// handleDiagnostics returns the redacted diagnostics of a profile.
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	c := s.coordinatorFor(w, r)
	if c == nil {
		return
	}
	writeJSON(w, http.StatusOK, c.Diagnostics())
}

// handleRefresh fetches a profile from the cloud and waits for the result.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	c := s.coordinatorFor(w, r)
	if c == nil {
		return
	}

	err := c.Refresh(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"devices": len(c.Devices()),
		})
	case errors.Is(err, coordinator.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, ErrCodeBusy, "profile is busy, try again later")
	case errors.Is(err, coordinator.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "profile is shutting down")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.logger.Debug("refresh abandoned by client", "profile_id", c.ProfileID(), "error", err)
	default:
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
	}
}
