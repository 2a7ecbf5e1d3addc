package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/nerrad567/smartwater-core/internal/cloud"
	"github.com/nerrad567/smartwater-core/internal/fetch"
)

// Field messages returned by POST /validate.
const (
	msgAuthFailed    = "Authentication failed"
	msgConnectFailed = "Failed to connect to Smart Water servers"
	msgNoProfile     = "No profile detected"
	msgUnknownPrefix = "Unknown error: "
	msgRequired      = "required"
)

// ValidateRequest carries the credentials of an account to add.
type ValidateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ValidateResponse describes the profile found for valid credentials.
type ValidateResponse struct {
	ProfileID  string `json:"profile_id"`
	Name       string `json:"name"`
	Username   string `json:"username"`
	Configured bool   `json:"configured"`
}

// handleValidate logs in with the given credentials and returns the
// profile of the account. Failures are reported per form field.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if s.validate == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "validation is not available")
		return
	}

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)

	missing := make(map[string]string)
	if req.Username == "" {
		missing["username"] = msgRequired
	}
	if req.Password == "" {
		missing["password"] = msgRequired
	}
	if len(missing) > 0 {
		writeFieldErrors(w, missing)
		return
	}

	profile, err := s.validate(r.Context(), req.Username, req.Password)
	if err != nil {
		s.logger.Info("credential validation failed", "username", req.Username, "error", err)
		writeFieldErrors(w, validationFields(err))
		return
	}

	_, getErr := s.profiles.Get(profile.ID())
	writeJSON(w, http.StatusOK, ValidateResponse{
		ProfileID:  profile.ID(),
		Name:       profile.Name(),
		Username:   req.Username,
		Configured: getErr == nil,
	})
}

// validationFields maps a validation error to the form field it concerns.
func validationFields(err error) map[string]string {
	switch {
	case errors.Is(err, cloud.ErrAuth):
		return map[string]string{"password": msgAuthFailed}
	case errors.Is(err, cloud.ErrConnect):
		return map[string]string{"password": msgConnectFailed}
	case errors.Is(err, cloud.ErrNoProfile), errors.Is(err, fetch.ErrNoProfile):
		return map[string]string{"username": msgNoProfile}
	default:
		return map[string]string{"password": msgUnknownPrefix + err.Error()}
	}
}
