package runtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/scribelabs/scribe-core/internal/session"
	"github.com/scribelabs/scribe-core/internal/store"
)

type startMeetingRequest struct {
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}

type apiError struct {
	Error string `json:"error"`
}

func (r *Runtime) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/meetings", r.handleStartMeeting)
	mux.HandleFunc("GET /api/meetings/active", r.handleActiveMeeting)
	mux.HandleFunc("POST /api/meetings/{id}/stop", r.handleStopMeeting)
	mux.HandleFunc("GET /api/meetings/{id}/live", r.handleLive)
	mux.HandleFunc("GET /api/meetings/{id}/stream", r.handleStream)
	mux.HandleFunc("GET /api/meetings/{id}", r.handleGetMeeting)
	mux.HandleFunc("GET /api/meetings", r.handleListMeetings)
}

func (r *Runtime) handleStartMeeting(w http.ResponseWriter, req *http.Request) {
	var body startMeetingRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return
	}
	if body.Name == "" {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "name is required"})
		return
	}

	deps, err := r.sessionDeps()
	if err != nil {
		r.logger.Error("failed to build session dependencies", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, apiError{Error: err.Error()})
		return
	}

	meeting, err := r.registry.StartMeeting(req.Context(), body.Name, body.Participants, deps)
	if err != nil {
		if errors.Is(err, session.ErrAlreadyActive) {
			writeJSON(w, http.StatusConflict, apiError{Error: err.Error()})
			return
		}
		r.logger.Error("failed to start meeting", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, apiError{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, meeting)
}

func (r *Runtime) handleStopMeeting(w http.ResponseWriter, req *http.Request) {
	meeting, err := r.registry.StopMeeting(req.Context(), req.PathValue("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, apiError{Error: err.Error()})
			return
		}
		r.logger.Error("failed to stop meeting", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, apiError{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, meeting)
}

func (r *Runtime) handleActiveMeeting(w http.ResponseWriter, req *http.Request) {
	id, ok := r.registry.ActiveMeetingID()
	if !ok {
		writeJSON(w, http.StatusNotFound, apiError{Error: "no active meeting"})
		return
	}
	snapshot, err := r.registry.LiveSnapshot(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, apiError{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (r *Runtime) handleLive(w http.ResponseWriter, req *http.Request) {
	snapshot, err := r.registry.LiveSnapshot(req.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, apiError{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (r *Runtime) handleGetMeeting(w http.ResponseWriter, req *http.Request) {
	meeting, err := r.meetings.LoadMeeting(req.Context(), req.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, apiError{Error: err.Error()})
			return
		}
		r.logger.Error("failed to load meeting", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, apiError{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, meeting)
}

func (r *Runtime) handleListMeetings(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))

	var (
		meetings []*session.Meeting
		err      error
	)
	if q := query.Get("q"); q != "" {
		meetings, err = r.meetings.SearchMeetings(req.Context(), q, limit)
	} else {
		meetings, err = r.meetings.ListMeetings(req.Context(), query.Get("status"), limit)
	}
	if err != nil {
		r.logger.Error("failed to list meetings", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, apiError{Error: err.Error()})
		return
	}
	if meetings == nil {
		meetings = []*session.Meeting{}
	}
	writeJSON(w, http.StatusOK, meetings)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
