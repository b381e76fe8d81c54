package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/soyeahso/owlvin/internal/domain"
	"github.com/soyeahso/owlvin/internal/identity"
	"github.com/soyeahso/owlvin/internal/persona"
)

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// ProfileRequest is the body of POST /profiles.
type ProfileRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Topic       string `json:"topic"`
	Personality string `json:"personality"`
	Tone        string `json:"tone"`
	Locale      string `json:"locale"`
	VoiceID     string `json:"voiceId"`
}

// ProfileResponse is returned after a profile is stored.
type ProfileResponse struct {
	Status string `json:"status"`
	Key    string `json:"key"`
}

const maxProfileBody = 16 * 1024

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

// requireAdmin checks the bearer token and rate-limits failures per IP.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authLimiter.allow(r.RemoteAddr) {
			s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited, too many failed auth attempts")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		if res := Authorize(s.auth, r); !res.OK {
			s.authLimiter.recordFailure(r.RemoteAddr)
			s.log.Warn().Str("remote", r.RemoteAddr).Str("reason", res.Reason).Msg("admin auth failed")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// handlePutProfile stores a caller profile keyed by the hash of their number.
func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxProfileBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id := identity.Resolve(req.PhoneNumber)
	key := s.personas.Key(id)
	if key == "" {
		writeError(w, http.StatusBadRequest, "phoneNumber is not a valid phone number")
		return
	}

	profile := domain.Profile{
		Topic:       req.Topic,
		Personality: req.Personality,
		Tone:        req.Tone,
		Locale:      domain.Locale(req.Locale).Normalize(),
		VoiceID:     req.VoiceID,
		Active:      true,
		LastUsed:    time.Now().UTC(),
	}
	if err := s.personas.Store().Put(r.Context(), key, profile); err != nil {
		s.log.Error().Err(err).Msg("storing profile failed")
		writeError(w, http.StatusInternalServerError, "could not store profile")
		return
	}

	s.log.Info().Str("channel", string(id.Channel)).Msg("profile stored")
	writeJSON(w, http.StatusOK, ProfileResponse{Status: "ok", Key: key})
}

// handleGetProfile returns a stored profile by key.
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	profile, err := s.personas.Store().Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, persona.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		s.log.Error().Err(err).Msg("reading profile failed")
		writeError(w, http.StatusInternalServerError, "could not read profile")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
