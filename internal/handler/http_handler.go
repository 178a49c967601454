package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pesio-ai/be-plt-approvals/internal/approval"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/middleware"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

// HTTPHandler exposes the approval workflow over HTTP.
type HTTPHandler struct {
	commands *service.ApprovalCommandService
	queries  *service.ApprovalQueryService
	log      *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(commands *service.ApprovalCommandService, queries *service.ApprovalQueryService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		commands: commands,
		queries:  queries,
		log:      log,
	}
}

// ── Approval requests ─────────────────────────────────────────────────────────

// CreateRequest handles POST /api/v1/approvals.
func (h *HTTPHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		EntityType        string `json:"entity_type"`
		EntityID          string `json:"entity_id"`
		EntityDescription string `json:"entity_description"`
		SubmittedBy       string `json:"submitted_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "malformed JSON"))
		return
	}

	id, err := h.commands.CreateApprovalRequest(r.Context(), service.CreateApprovalRequestCommand{
		EntityType:        req.EntityType,
		EntityID:          req.EntityID,
		EntityDescription: req.EntityDescription,
		SubmittedBy:       req.SubmittedBy,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	created, err := h.queries.GetRequest(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

// GetRequest handles GET /api/v1/approvals/get?id=.
func (h *HTTPHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, r, errors.InvalidInput("id", "request id is required"))
		return
	}

	req, err := h.queries.GetRequest(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

// GetActiveRequest handles GET /api/v1/approvals/active?entity_type=&entity_id=.
func (h *HTTPHandler) GetActiveRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entityType := r.URL.Query().Get("entity_type")
	entityID := r.URL.Query().Get("entity_id")
	if entityType == "" || entityID == "" {
		h.writeError(w, r, errors.InvalidInput("query", "entity_type and entity_id are required"))
		return
	}

	req, err := h.queries.ActiveRequestForEntity(r.Context(), entityType, entityID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

// ListPending handles GET /api/v1/approvals/pending?approver_id=.
func (h *HTTPHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	approverID := r.URL.Query().Get("approver_id")
	if approverID == "" {
		h.writeError(w, r, errors.InvalidInput("approver_id", "approver id is required"))
		return
	}

	requests, err := h.queries.PendingForApprover(r.Context(), approverID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"requests": requests,
		"total":    len(requests),
	})
}

// Approve handles POST /api/v1/approvals/approve.
func (h *HTTPHandler) Approve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		RequestID string  `json:"request_id"`
		ActorID   string  `json:"actor_id"`
		Comments  *string `json:"comments,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "malformed JSON"))
		return
	}

	id, err := h.commands.Approve(r.Context(), service.ApproveCommand{
		RequestID: req.RequestID,
		ActorID:   req.ActorID,
		Comments:  req.Comments,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	updated, err := h.queries.GetRequest(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// Reject handles POST /api/v1/approvals/reject.
func (h *HTTPHandler) Reject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		RequestID string  `json:"request_id"`
		ActorID   string  `json:"actor_id"`
		Reason    string  `json:"reason"`
		Comments  *string `json:"comments,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "malformed JSON"))
		return
	}

	id, err := h.commands.Reject(r.Context(), service.RejectCommand{
		RequestID:          req.RequestID,
		ActorID:            req.ActorID,
		Reason:             req.Reason,
		AdditionalComments: req.Comments,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	updated, err := h.queries.GetRequest(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// GetHistory handles GET /api/v1/approvals/history?id=.
func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, r, errors.InvalidInput("id", "request id is required"))
		return
	}

	history, err := h.queries.History(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

// GetComments handles GET /api/v1/approvals/comments?id=.
func (h *HTTPHandler) GetComments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, r, errors.InvalidInput("id", "request id is required"))
		return
	}

	comments, err := h.queries.Comments(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"comments": comments})
}

// ── Chain templates ───────────────────────────────────────────────────────────

// CreateTemplate handles POST /api/v1/templates.
func (h *HTTPHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		EntityType string                `json:"entity_type"`
		Name       string                `json:"name"`
		Levels     []approval.ChainLevel `json:"levels"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "malformed JSON"))
		return
	}

	id, err := h.commands.CreateChainTemplate(r.Context(), service.CreateChainTemplateCommand{
		EntityType: req.EntityType,
		Name:       req.Name,
		Levels:     req.Levels,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	created, err := h.queries.GetTemplate(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

// GetTemplate handles GET /api/v1/templates/get?id=.
func (h *HTTPHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, r, errors.InvalidInput("id", "template id is required"))
		return
	}

	tpl, err := h.queries.GetTemplate(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tpl)
}

// GetActiveTemplate handles GET /api/v1/templates/active?entity_type=.
func (h *HTTPHandler) GetActiveTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entityType := r.URL.Query().Get("entity_type")
	if entityType == "" {
		h.writeError(w, r, errors.InvalidInput("entity_type", "entity type is required"))
		return
	}

	tpl, err := h.queries.ActiveTemplateForEntityType(r.Context(), entityType)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tpl)
}

// ListTemplates handles GET /api/v1/templates?active=.
func (h *HTTPHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))

	templates, err := h.queries.ListTemplates(r.Context(), activeOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"templates": templates,
		"total":     len(templates),
	})
}

// UpdateLevels handles POST /api/v1/templates/levels.
func (h *HTTPHandler) UpdateLevels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		TemplateID string                `json:"template_id"`
		Levels     []approval.ChainLevel `json:"levels"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "malformed JSON"))
		return
	}

	id, err := h.commands.UpdateChainLevels(r.Context(), service.UpdateChainLevelsCommand{
		TemplateID: req.TemplateID,
		Levels:     req.Levels,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	updated, err := h.queries.GetTemplate(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// ActivateTemplate handles POST /api/v1/templates/activate.
func (h *HTTPHandler) ActivateTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		TemplateID string `json:"template_id"`
		IsActive   bool   `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "malformed JSON"))
		return
	}

	id, err := h.commands.SetTemplateActive(r.Context(), req.TemplateID, req.IsActive)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	updated, err := h.queries.GetTemplate(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// ── Response helpers ──────────────────────────────────────────────────────────

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("write response failed")
	}
}

// writeError maps coded errors onto HTTP statuses with a JSON body carrying
// the message, the code, and the request id for correlation.
func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	h.writeJSON(w, status, map[string]any{
		"error":      err.Error(),
		"code":       string(errors.CodeOf(err)),
		"request_id": middleware.GetRequestID(r.Context()),
	})
}
