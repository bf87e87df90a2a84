package producer

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/volaticloud/runbox/internal/apierror"
	"github.com/volaticloud/runbox/internal/auth"
	"github.com/volaticloud/runbox/internal/execution"
	"github.com/volaticloud/runbox/internal/pubsub"
)

const defaultListLimit = 50

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeAPIError maps an apierror.Error (or any error) to the HTTP response,
// masking everything that isn't VALIDATION/AUTH/NOT_FOUND behind a generic
// 500 (spec §7: only the first three error kinds are user-visible).
func writeAPIError(w http.ResponseWriter, err error) {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case apierror.Validation, apierror.Auth, apierror.NotFound:
			writeError(w, apierror.HTTPStatus(apiErr.Kind), apiErr.Message)
			return
		}
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) handleCreateExecution(w http.ResponseWriter, r *http.Request) {
	tenant := auth.MustGetTenantContext(r.Context())

	var req execution.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	exec := execution.NewFromRequest(req, tenant.OrganizationID, time.Now().UTC())
	if err := s.store.Upsert(r.Context(), exec); err != nil {
		if s.logger != nil {
			s.logger.Error("failed to persist execution request")
		}
		writeError(w, http.StatusInternalServerError, "failed to persist execution")
		return
	}

	if err := s.queue.Publish(r.Context(), exec.ToJobMessage()); err != nil {
		// Never leave a durable PENDING record behind an enqueue we know
		// failed: either both persist and enqueue succeed, or the record is
		// marked ERROR so it can't be mistaken for a job actually in flight.
		exec.Status = execution.StatusError
		exec.Error = "job queue unavailable"
		exec.UpdatedAt = time.Now().UTC()
		if uerr := s.store.Upsert(r.Context(), exec); uerr != nil && s.logger != nil {
			s.logger.Error("failed to mark execution ERROR after enqueue failure")
		}
		writeError(w, http.StatusServiceUnavailable, "job queue unavailable")
		return
	}

	if s.hub != nil {
		_ = s.hub.BroadcastUpdate(r.Context(), exec.OrganizationID, pubsub.ExecutionUpdatedEvent{
			Type:           pubsub.EventTypeExecutionUpdated,
			TaskID:         exec.TaskID,
			OrganizationID: exec.OrganizationID,
			Status:         string(exec.Status),
			Timestamp:      exec.UpdatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": string(exec.Status),
		"taskId": exec.TaskID,
	})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	tenant := auth.MustGetTenantContext(r.Context())

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	list, err := s.store.ListRecent(r.Context(), tenant.OrganizationID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDeleteExecution(w http.ResponseWriter, r *http.Request) {
	tenant := auth.MustGetTenantContext(r.Context())
	taskID := chi.URLParam(r, "taskId")

	if err := s.store.Delete(r.Context(), tenant.OrganizationID, taskID); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	tenant := auth.MustGetTenantContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{
		"userId":         tenant.UserID,
		"organizationId": tenant.OrganizationID,
		"role":           string(tenant.Role),
	})
}

// handleReportAsset serves one file out of an execution's artifact
// directory. The organizationId in the path must match the caller's own
// tenant; a mismatch is reported as NOT_FOUND rather than FORBIDDEN so a
// probing client cannot distinguish "wrong org" from "doesn't exist".
func (s *Server) handleReportAsset(w http.ResponseWriter, r *http.Request) {
	tenant := auth.MustGetTenantContext(r.Context())
	organizationID := chi.URLParam(r, "organizationId")
	taskID := chi.URLParam(r, "taskId")
	rest := chi.URLParam(r, "*")

	if organizationID != tenant.OrganizationID {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if s.artifacts == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	jobDir := s.artifacts.JobDir(organizationID, taskID)
	requested := filepath.Join(jobDir, filepath.Clean("/"+rest))
	if !strings.HasPrefix(requested, filepath.Clean(jobDir)+string(filepath.Separator)) && requested != filepath.Clean(jobDir) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	http.ServeFile(w, r, requested)
}

// internalUpdateRequest is the body the Worker posts after every status
// transition (spec §4.2 step 13).
type internalUpdateRequest struct {
	TaskID         string            `json:"taskId"`
	OrganizationID string            `json:"organizationId"`
	Status         execution.Status  `json:"status"`
	Output         string            `json:"output,omitempty"`
	Error          string            `json:"error,omitempty"`
	Analysis       string            `json:"analysis,omitempty"`
	ReportsBaseURL string            `json:"reportsBaseUrl,omitempty"`
	EndTime        *time.Time        `json:"endTime,omitempty"`
}

func (s *Server) handleInternalUpdate(w http.ResponseWriter, r *http.Request) {
	var req internalUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrganizationID == "" || req.TaskID == "" {
		writeError(w, http.StatusBadRequest, "organizationId and taskId are required")
		return
	}

	exec, err := s.store.Get(r.Context(), req.OrganizationID, req.TaskID)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	if !execution.CanTransition(exec.Status, req.Status) {
		writeError(w, http.StatusConflict, "illegal status transition")
		return
	}

	exec.Status = req.Status
	if req.Output != "" {
		exec.Output = req.Output
	}
	if req.Error != "" {
		exec.Error = req.Error
	}
	if req.Analysis != "" {
		exec.Analysis = req.Analysis
	}
	if req.ReportsBaseURL != "" {
		exec.ReportsBaseURL = req.ReportsBaseURL
	}
	if req.EndTime != nil {
		exec.EndTime = req.EndTime
	}
	exec.UpdatedAt = time.Now().UTC()

	// Durable-before-broadcast: persist first, then fan out.
	if err := s.store.Upsert(r.Context(), exec); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to persist update")
		return
	}

	if s.hub != nil {
		_ = s.hub.BroadcastUpdate(r.Context(), exec.OrganizationID, pubsub.ExecutionUpdatedEvent{
			Type:           pubsub.EventTypeExecutionUpdated,
			TaskID:         exec.TaskID,
			OrganizationID: exec.OrganizationID,
			Status:         string(exec.Status),
			Error:          exec.Error,
			Timestamp:      exec.UpdatedAt,
		})
	}

	w.WriteHeader(http.StatusOK)
}

type internalLogRequest struct {
	TaskID         string `json:"taskId"`
	OrganizationID string `json:"organizationId"`
	Chunk          string `json:"chunk"`
}

func (s *Server) handleInternalLog(w http.ResponseWriter, r *http.Request) {
	var req internalLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrganizationID == "" || req.TaskID == "" {
		writeError(w, http.StatusBadRequest, "organizationId and taskId are required")
		return
	}

	if s.hub != nil {
		_ = s.hub.BroadcastLog(r.Context(), req.OrganizationID, pubsub.ExecutionLogEvent{
			Type:           pubsub.EventTypeExecutionLog,
			TaskID:         req.TaskID,
			OrganizationID: req.OrganizationID,
			Chunk:          req.Chunk,
			Timestamp:      time.Now().UTC(),
		})
	}

	w.WriteHeader(http.StatusOK)
}
