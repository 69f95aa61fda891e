package v1

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/safetyhub/safetyhub-server/internal/coordinator"
	"github.com/safetyhub/safetyhub-server/internal/logger"
	"github.com/safetyhub/safetyhub-server/internal/report"
	"github.com/safetyhub/safetyhub-server/internal/usergroups"
)

// RefreshRequest asks the hub to refresh all sources for a user's group.
type RefreshRequest struct {
	Reason report.RefreshReason `json:"reason"`
	UserID string               `json:"userId"`
}

// SubmitReportRequest carries a source's report submission.
type SubmitReportRequest struct {
	Package string               `json:"package"`
	UserID  string               `json:"userId"`
	Report  *report.SourceReport `json:"report"`
	Event   report.Event         `json:"event"`
}

// SubmitErrorRequest carries a source's refresh failure.
type SubmitErrorRequest struct {
	Package string             `json:"package"`
	UserID  string             `json:"userId"`
	Error   report.SourceError `json:"error"`
}

// DismissIssueRequest dismisses a visible issue.
type DismissIssueRequest struct {
	Issue  report.IssueKey `json:"issue"`
	UserID string          `json:"userId"`
}

// ExecuteActionRequest triggers a remediation action on a visible issue.
type ExecuteActionRequest struct {
	Issue  report.IssueKey  `json:"issue"`
	Action report.ActionKey `json:"action"`
	UserID string           `json:"userId"`
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// Routes defines the routes for the safety hub API with dependency injection
type Routes struct {
	service *coordinator.Service
}

// NewRoutes creates a new Routes instance with the provided service
func NewRoutes(svc *coordinator.Service) *Routes {
	return &Routes{service: svc}
}

// Router creates a new router for the safety hub API
func Router(svc *coordinator.Service) http.Handler {
	routes := NewRoutes(svc)

	r := chi.NewRouter()

	r.Get("/view", routes.getView)
	r.Get("/updates", routes.streamUpdates)
	r.Post("/refresh", routes.requestRefresh)
	r.Post("/reset", routes.resetAll)

	r.Route("/sources/{sourceId}", func(r chi.Router) {
		r.Post("/report", routes.submitReport)
		r.Post("/error", routes.submitError)
	})

	r.Route("/issues", func(r chi.Router) {
		r.Post("/dismiss", routes.dismissIssue)
		r.Post("/execute", routes.executeAction)
	})

	return r
}

// getView handles GET /v1/view
func (rr *Routes) getView(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		rr.writeErrorResponse(w, "userId query parameter is required", http.StatusBadRequest)
		return
	}

	view, err := rr.service.GetAggregateView(userID)
	if err != nil {
		rr.writeServiceError(w, err)
		return
	}
	rr.writeJSONResponse(w, view)
}

// requestRefresh handles POST /v1/refresh
func (rr *Routes) requestRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !rr.decodeRequest(w, r, &req) {
		return
	}

	if err := rr.service.RequestRefresh(r.Context(), req.Reason, req.UserID); err != nil {
		rr.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// submitReport handles POST /v1/sources/{sourceId}/report
func (rr *Routes) submitReport(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceId")
	var req SubmitReportRequest
	if !rr.decodeRequest(w, r, &req) {
		return
	}

	err := rr.service.SubmitSourceData(r.Context(), sourceID, req.Package, req.UserID, req.Report, req.Event)
	if err != nil {
		rr.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// submitError handles POST /v1/sources/{sourceId}/error
func (rr *Routes) submitError(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceId")
	var req SubmitErrorRequest
	if !rr.decodeRequest(w, r, &req) {
		return
	}

	err := rr.service.SubmitSourceError(r.Context(), sourceID, req.Package, req.UserID, req.Error)
	if err != nil {
		rr.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// dismissIssue handles POST /v1/issues/dismiss
func (rr *Routes) dismissIssue(w http.ResponseWriter, r *http.Request) {
	var req DismissIssueRequest
	if !rr.decodeRequest(w, r, &req) {
		return
	}

	if err := rr.service.DismissIssue(r.Context(), req.Issue, req.UserID); err != nil {
		rr.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// executeAction handles POST /v1/issues/execute
func (rr *Routes) executeAction(w http.ResponseWriter, r *http.Request) {
	var req ExecuteActionRequest
	if !rr.decodeRequest(w, r, &req) {
		return
	}

	if err := rr.service.ExecuteIssueAction(r.Context(), req.Issue, req.Action, req.UserID); err != nil {
		rr.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// resetAll handles POST /v1/reset
func (rr *Routes) resetAll(w http.ResponseWriter, r *http.Request) {
	rr.service.ResetAll(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (rr *Routes) decodeRequest(w http.ResponseWriter, r *http.Request, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		rr.writeErrorResponse(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeServiceError maps coordinator errors onto HTTP statuses.
func (rr *Routes) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, coordinator.ErrUnknownSource):
		rr.writeErrorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, coordinator.ErrPackageMismatch),
		errors.Is(err, coordinator.ErrCrossGroupTarget):
		rr.writeErrorResponse(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, coordinator.ErrInvalidReason),
		errors.Is(err, coordinator.ErrKeyMismatch),
		errors.Is(err, usergroups.ErrUnknownUser):
		rr.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
	default:
		logger.Errorf("Request failed: %v", err)
		rr.writeErrorResponse(w, "internal error", http.StatusBadGateway)
	}
}

func (rr *Routes) writeJSONResponse(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Errorf("Failed to encode response: %v", err)
	}
}

func (rr *Routes) writeErrorResponse(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: message}); err != nil {
		logger.Errorf("Failed to encode error response: %v", err)
	}
}
