package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/teranos/trellis/action"
	"github.com/teranos/trellis/cron"
	"github.com/teranos/trellis/delay"
	"github.com/teranos/trellis/errors"
)

func queryLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return limit
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := delay.Status(r.URL.Query().Get("status"))
	tasks, err := s.tasks.List(r.Context(), status, queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []*delay.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.IsNotFoundError(err) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	err := s.tasks.Cancel(r.Context(), chi.URLParam(r, "id"))
	if errors.IsNotFoundError(err) {
		writeError(w, http.StatusNotFound, "no cancellable task with that id")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to cancel task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// createJobRequest accepts either a raw cron expression or a free-text
// schedule. When both are present the expression wins.
type createJobRequest struct {
	CronExpr     string      `json:"cron_expr,omitempty"`
	ScheduleText string      `json:"schedule_text,omitempty"`
	Action       action.Spec `json:"action"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	expr := req.CronExpr
	if expr == "" && req.ScheduleText != "" {
		parsed, ok := cron.ParseScheduleText(req.ScheduleText)
		if !ok {
			writeError(w, http.StatusBadRequest, "unrecognized schedule text")
			return
		}
		expr = parsed
	}
	if expr == "" {
		writeError(w, http.StatusBadRequest, "cron_expr or schedule_text required")
		return
	}

	job, err := s.jobs.Create(r.Context(), expr, req.Action)
	if errors.IsInvalidRequestError(err) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := cron.Status(r.URL.Query().Get("status"))
	jobs, err := s.jobs.List(r.Context(), status, queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*cron.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.IsNotFoundError(err) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleUpdateJobStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status cron.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Status != cron.StatusActive && req.Status != cron.StatusPaused {
		writeError(w, http.StatusBadRequest, "status must be active or paused")
		return
	}

	err := s.jobs.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if errors.IsNotFoundError(err) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(req.Status)})
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	err := s.jobs.UpdateStatus(r.Context(), chi.URLParam(r, "id"), cron.StatusDeleted)
	if errors.IsNotFoundError(err) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListRunLog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.runLog.List(queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list run log")
		return
	}
	if entries == nil {
		entries = []action.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deadLetters.List(queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	if entries == nil {
		entries = []action.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
