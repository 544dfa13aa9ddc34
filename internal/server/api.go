package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/radiomirchi/radio-mirchi/internal/mission"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

// CreateMissionRequest is the body of POST /create_mission
type CreateMissionRequest struct {
	Topic  string `json:"topic"`
	UserID string `json:"user_id"`
}

// CreatePropagandaRequest is the body of POST /create_propaganda
type CreatePropagandaRequest struct {
	Topic string `json:"topic"`
}

// MissionStatusResponse is returned by GET /mission_status/{id}
type MissionStatusResponse struct {
	MissionID string         `json:"mission_id"`
	Status    mission.Status `json:"status"`
	Error     string         `json:"error,omitempty"`
}

// MissionListResponse is returned by GET /missions
type MissionListResponse struct {
	Missions []*mission.Mission `json:"missions"`
	Count    int                `json:"count"`
}

func (h *HTTPServer) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeServiceError maps workflow errors to HTTP responses
func (h *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, mission.ErrInvalidTopic):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, mission.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "Mission not found")
	default:
		h.logger.Error("Request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleCreateMission stores a new mission and starts generating it
func (h *HTTPServer) handleCreateMission(w http.ResponseWriter, r *http.Request) {
	var req CreateMissionRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	m, err := h.missions.Create(r.Context(), req.Topic, req.UserID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.logger.Info("Mission created",
		slog.String("mission_id", m.ID),
		slog.String("user_id", m.UserID),
	)
	h.writeJSON(w, http.StatusOK, m)
}

// handleMissionStatus reports the generation stage of a mission
func (h *HTTPServer) handleMissionStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	status, err := h.missions.Status(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := MissionStatusResponse{MissionID: id, Status: status}
	if status == mission.StatusFailed {
		if m, err := h.missions.Get(r.Context(), id); err == nil {
			resp.Error = m.Error
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPServer) handleGetMission(w http.ResponseWriter, r *http.Request) {
	m, err := h.missions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, m)
}

func (h *HTTPServer) handleListMissions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 0
	if s := query.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	missions, err := h.missions.List(r.Context(), query.Get("user_id"), limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if missions == nil {
		missions = []*mission.Mission{}
	}

	h.writeJSON(w, http.StatusOK, MissionListResponse{Missions: missions, Count: len(missions)})
}

// handleCreatePropaganda runs Stage1 synchronously
func (h *HTTPServer) handleCreatePropaganda(w http.ResponseWriter, r *http.Request) {
	var req CreatePropagandaRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	p, err := h.missions.GeneratePropaganda(r.Context(), req.Topic)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}
