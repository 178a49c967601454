package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/approval"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/middleware"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

// memStores is an in-memory backing for handler tests, covering the store
// interfaces the services need.
type memStores struct {
	templates map[string]*approval.ChainTemplate
	requests  map[string]*approval.Request
	history   []*approval.HistoryEntry
	comments  []*approval.Comment
}

func newMemStores() *memStores {
	return &memStores{
		templates: make(map[string]*approval.ChainTemplate),
		requests:  make(map[string]*approval.Request),
	}
}

func (m *memStores) Create(ctx context.Context, tpl *approval.ChainTemplate) error {
	tpl.ID = uuid.NewString()
	tpl.Version = 1
	tpl.CreatedAt = time.Now().UTC()
	tpl.UpdatedAt = tpl.CreatedAt
	cp := *tpl
	m.templates[tpl.ID] = &cp
	return nil
}

func (m *memStores) GetByID(ctx context.Context, id string) (*approval.ChainTemplate, error) {
	tpl, ok := m.templates[id]
	if !ok {
		return nil, errors.NotFound("chain_template", id)
	}
	cp := *tpl
	return &cp, nil
}

func (m *memStores) GetActiveByEntityType(ctx context.Context, entityType string) (*approval.ChainTemplate, error) {
	for _, tpl := range m.templates {
		if tpl.EntityType == entityType && tpl.IsActive {
			cp := *tpl
			return &cp, nil
		}
	}
	return nil, errors.NotFound("chain_template", entityType)
}

func (m *memStores) Update(ctx context.Context, tpl *approval.ChainTemplate) error {
	if _, ok := m.templates[tpl.ID]; !ok {
		return errors.NotFound("chain_template", tpl.ID)
	}
	tpl.Version++
	cp := *tpl
	m.templates[tpl.ID] = &cp
	return nil
}

func (m *memStores) List(ctx context.Context, activeOnly bool) ([]*approval.ChainTemplate, error) {
	var out []*approval.ChainTemplate
	for _, tpl := range m.templates {
		if activeOnly && !tpl.IsActive {
			continue
		}
		cp := *tpl
		out = append(out, &cp)
	}
	return out, nil
}

type memRequests struct{ s *memStores }

func copyReq(req *approval.Request) *approval.Request {
	cp := *req
	cp.Decisions = append([]approval.LevelDecision(nil), req.Decisions...)
	return &cp
}

func (m *memRequests) Create(ctx context.Context, req *approval.Request, submitted *approval.HistoryEntry) error {
	req.ID = uuid.NewString()
	req.Version = 1
	for i := range req.Decisions {
		req.Decisions[i].ID = uuid.NewString()
		req.Decisions[i].RequestID = req.ID
	}
	m.s.requests[req.ID] = copyReq(req)

	entry := *submitted
	entry.ID = uuid.NewString()
	entry.RequestID = req.ID
	entry.CreatedAt = time.Now().UTC()
	m.s.history = append(m.s.history, &entry)
	return nil
}

func (m *memRequests) GetByID(ctx context.Context, id string) (*approval.Request, error) {
	req, ok := m.s.requests[id]
	if !ok {
		return nil, errors.NotFound("approval_request", id)
	}
	return copyReq(req), nil
}

func (m *memRequests) GetActiveByEntity(ctx context.Context, entityType, entityID string) (*approval.Request, error) {
	for _, req := range m.s.requests {
		if req.EntityType == entityType && req.EntityID == entityID && req.Status == approval.StatusPending {
			return copyReq(req), nil
		}
	}
	return nil, errors.NotFound("approval_request", entityID)
}

func (m *memRequests) ListPendingForApprover(ctx context.Context, approverID string) ([]*approval.Request, error) {
	var out []*approval.Request
	for _, req := range m.s.requests {
		if req.Status != approval.StatusPending {
			continue
		}
		for _, d := range req.Decisions {
			if d.LevelOrder == req.CurrentLevel && d.ExpectedApproverID == approverID && d.Decision == approval.DecisionPending {
				out = append(out, copyReq(req))
				break
			}
		}
	}
	return out, nil
}

func (m *memRequests) CommitDecision(ctx context.Context, commit repository.DecisionCommit) error {
	if _, ok := m.s.requests[commit.Request.ID]; !ok {
		return errors.NotFound("approval_request", commit.Request.ID)
	}
	commit.Request.Version++
	m.s.requests[commit.Request.ID] = copyReq(commit.Request)
	if commit.History != nil {
		entry := *commit.History
		entry.ID = uuid.NewString()
		entry.CreatedAt = time.Now().UTC()
		m.s.history = append(m.s.history, &entry)
	}
	if commit.Comment != nil {
		c := *commit.Comment
		c.ID = uuid.NewString()
		c.CreatedAt = time.Now().UTC()
		m.s.comments = append(m.s.comments, &c)
	}
	return nil
}

type memHistory struct{ s *memStores }

func (m *memHistory) ListByRequestID(ctx context.Context, requestID string) ([]*approval.HistoryEntry, error) {
	var out []*approval.HistoryEntry
	for _, e := range m.s.history {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memComments struct{ s *memStores }

func (m *memComments) ListByRequestID(ctx context.Context, requestID string) ([]*approval.Comment, error) {
	var out []*approval.Comment
	for _, c := range m.s.comments {
		if c.RequestID == requestID {
			out = append(out, c)
		}
	}
	return out, nil
}

type memIdentity struct{ users map[string]string }

func (m *memIdentity) UserExists(ctx context.Context, userID string) (bool, error) {
	_, ok := m.users[userID]
	return ok, nil
}

func (m *memIdentity) FindUser(ctx context.Context, userID string) (*approval.User, error) {
	name, ok := m.users[userID]
	if !ok {
		return nil, errors.NotFound("user", userID)
	}
	return &approval.User{ID: userID, DisplayName: name}, nil
}

// newTestHandler wires the handler over real services with in-memory stores
// and one active two-level template for purchase orders.
func newTestHandler(t *testing.T) (*HTTPHandler, *memStores) {
	t.Helper()

	stores := newMemStores()
	requests := &memRequests{s: stores}
	identity := &memIdentity{users: map[string]string{
		"user1":     "Priya Sharma",
		"user2":     "Marcus Webb",
		"user3":     "Elena Duarte",
		"submitter": "Dana Ortiz",
	}}
	log := &logger.Logger{Logger: zerolog.Nop()}

	commands := service.NewApprovalCommandService(stores, requests, identity, log)
	queries := service.NewApprovalQueryService(stores, requests, &memHistory{s: stores}, &memComments{s: stores})

	_, err := commands.CreateChainTemplate(context.Background(), service.CreateChainTemplateCommand{
		EntityType: "purchase_order",
		Name:       "PO approval chain",
		Levels: []approval.ChainLevel{
			{LevelOrder: 1, LevelName: "Team Lead", ApproverUserID: "user2", IsRequired: true},
			{LevelOrder: 2, LevelName: "Manager", ApproverUserID: "user1", IsRequired: true},
		},
	})
	require.NoError(t, err)

	return NewHTTPHandler(commands, queries, log), stores
}

func doJSON(t *testing.T, h http.HandlerFunc, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func createRequest(t *testing.T, h *HTTPHandler, entityID string) approval.Request {
	t.Helper()
	rec := doJSON(t, h.CreateRequest, http.MethodPost, "/api/v1/approvals",
		fmt.Sprintf(`{"entity_type":"purchase_order","entity_id":%q,"entity_description":"PO","submitted_by":"submitter"}`, entityID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var req approval.Request
	decodeBody(t, rec, &req)
	return req
}

func TestCreateRequestEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)

	req := createRequest(t, h, "po-42")
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, approval.StatusPending, req.Status)
	assert.Equal(t, 1, req.CurrentLevel)
	assert.Len(t, req.Decisions, 2)

	// Unknown entity type has no active template.
	rec := doJSON(t, h.CreateRequest, http.MethodPost, "/api/v1/approvals",
		`{"entity_type":"expense_report","entity_id":"ex-1","submitted_by":"submitter"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var errBody struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	decodeBody(t, rec, &errBody)
	assert.Equal(t, "not_found", errBody.Code)

	rec = doJSON(t, h.CreateRequest, http.MethodPost, "/api/v1/approvals", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h.CreateRequest, http.MethodGet, "/api/v1/approvals", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGetRequestEndpoints(t *testing.T) {
	h, _ := newTestHandler(t)
	created := createRequest(t, h, "po-42")

	rec := doJSON(t, h.GetRequest, http.MethodGet, "/api/v1/approvals/get?id="+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got approval.Request
	decodeBody(t, rec, &got)
	assert.Equal(t, created.ID, got.ID)

	rec = doJSON(t, h.GetRequest, http.MethodGet, "/api/v1/approvals/get", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h.GetRequest, http.MethodGet, "/api/v1/approvals/get?id=missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h.GetActiveRequest, http.MethodGet,
		"/api/v1/approvals/active?entity_type=purchase_order&entity_id=po-42", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &got)
	assert.Equal(t, created.ID, got.ID)
}

func TestApprovalFlowEndpoints(t *testing.T) {
	h, _ := newTestHandler(t)
	created := createRequest(t, h, "po-42")

	// Acting out of order is a business-rule refusal.
	rec := doJSON(t, h.Approve, http.MethodPost, "/api/v1/approvals/approve",
		fmt.Sprintf(`{"request_id":%q,"actor_id":"user1"}`, created.ID))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var errBody struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	decodeBody(t, rec, &errBody)
	assert.Equal(t, "business_rule_violation", errBody.Code)
	assert.Contains(t, errBody.Error, "waiting on level 1")

	// A stranger is refused outright.
	rec = doJSON(t, h.Approve, http.MethodPost, "/api/v1/approvals/approve",
		fmt.Sprintf(`{"request_id":%q,"actor_id":"intruder"}`, created.ID))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Level 1 approves.
	rec = doJSON(t, h.Approve, http.MethodPost, "/api/v1/approvals/approve",
		fmt.Sprintf(`{"request_id":%q,"actor_id":"user2","comments":"looks good"}`, created.ID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated approval.Request
	decodeBody(t, rec, &updated)
	assert.Equal(t, 2, updated.CurrentLevel)
	assert.Equal(t, approval.StatusPending, updated.Status)

	// Level 2 approves, request completes.
	rec = doJSON(t, h.Approve, http.MethodPost, "/api/v1/approvals/approve",
		fmt.Sprintf(`{"request_id":%q,"actor_id":"user1"}`, created.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &updated)
	assert.Equal(t, approval.StatusApproved, updated.Status)
	require.NotNil(t, updated.CompletedAt)

	// Terminal requests refuse further actions.
	rec = doJSON(t, h.Approve, http.MethodPost, "/api/v1/approvals/approve",
		fmt.Sprintf(`{"request_id":%q,"actor_id":"user1"}`, created.ID))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRejectEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	created := createRequest(t, h, "po-42")

	rec := doJSON(t, h.Reject, http.MethodPost, "/api/v1/approvals/reject",
		fmt.Sprintf(`{"request_id":%q,"actor_id":"user2","reason":""}`, created.ID))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var errBody struct {
		Error string `json:"error"`
	}
	decodeBody(t, rec, &errBody)
	assert.Contains(t, errBody.Error, "rejection reason is required")

	rec = doJSON(t, h.Reject, http.MethodPost, "/api/v1/approvals/reject",
		fmt.Sprintf(`{"request_id":%q,"actor_id":"user2","reason":"Price too high","comments":"Reduce by 10%%"}`, created.ID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated approval.Request
	decodeBody(t, rec, &updated)
	assert.Equal(t, approval.StatusRejected, updated.Status)
	require.NotNil(t, updated.Decisions[0].Comments)
	assert.Equal(t, "Price too high", *updated.Decisions[0].Comments)
	assert.Equal(t, approval.DecisionPending, updated.Decisions[1].Decision)

	// History carries submit and reject; comments carry the follow-up.
	rec = doJSON(t, h.GetHistory, http.MethodGet, "/api/v1/approvals/history?id="+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var histBody struct {
		History []approval.HistoryEntry `json:"history"`
	}
	decodeBody(t, rec, &histBody)
	require.Len(t, histBody.History, 2)
	assert.Equal(t, approval.ActionSubmitted, histBody.History[0].Action)
	assert.Equal(t, approval.ActionRejected, histBody.History[1].Action)

	rec = doJSON(t, h.GetComments, http.MethodGet, "/api/v1/approvals/comments?id="+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var comBody struct {
		Comments []approval.Comment `json:"comments"`
	}
	decodeBody(t, rec, &comBody)
	require.Len(t, comBody.Comments, 1)
	assert.Equal(t, "Reduce by 10%", comBody.Comments[0].Body)
}

func TestPendingEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	created := createRequest(t, h, "po-42")

	rec := doJSON(t, h.ListPending, http.MethodGet, "/api/v1/approvals/pending?approver_id=user2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Requests []approval.Request `json:"requests"`
		Total    int                `json:"total"`
	}
	decodeBody(t, rec, &body)
	require.Equal(t, 1, body.Total)
	assert.Equal(t, created.ID, body.Requests[0].ID)

	rec = doJSON(t, h.ListPending, http.MethodGet, "/api/v1/approvals/pending", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTemplateEndpoints(t *testing.T) {
	h, _ := newTestHandler(t)

	// A second active template for the same entity type is refused.
	rec := doJSON(t, h.CreateTemplate, http.MethodPost, "/api/v1/templates",
		`{"entity_type":"purchase_order","name":"competing chain","levels":[{"level_order":1,"level_name":"Lead","approver_user_id":"user2","is_required":true}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, h.CreateTemplate, http.MethodPost, "/api/v1/templates",
		`{"entity_type":"expense_report","name":"expense chain","levels":[{"level_order":1,"level_name":"Manager","approver_user_id":"user1","is_required":true}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var tpl approval.ChainTemplate
	decodeBody(t, rec, &tpl)
	assert.True(t, tpl.IsActive)
	require.Len(t, tpl.Levels, 1)

	// Non-sequential levels are refused.
	rec = doJSON(t, h.UpdateLevels, http.MethodPost, "/api/v1/templates/levels",
		fmt.Sprintf(`{"template_id":%q,"levels":[{"level_order":1,"level_name":"Manager","approver_user_id":"user1","is_required":true},{"level_order":3,"level_name":"Director","approver_user_id":"user2","is_required":true}]}`, tpl.ID))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var errBody struct {
		Error string `json:"error"`
	}
	decodeBody(t, rec, &errBody)
	assert.Contains(t, errBody.Error, "levels must be sequential")

	// Unknown approvers are refused with the user named.
	rec = doJSON(t, h.UpdateLevels, http.MethodPost, "/api/v1/templates/levels",
		fmt.Sprintf(`{"template_id":%q,"levels":[{"level_order":1,"level_name":"Manager","approver_user_id":"user9","is_required":true}]}`, tpl.ID))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	decodeBody(t, rec, &errBody)
	assert.Contains(t, errBody.Error, "user9")

	// A wholesale replace lands.
	rec = doJSON(t, h.UpdateLevels, http.MethodPost, "/api/v1/templates/levels",
		fmt.Sprintf(`{"template_id":%q,"levels":[{"level_order":1,"level_name":"Supervisor","approver_user_id":"user3","is_required":true},{"level_order":2,"level_name":"Manager","approver_user_id":"user1","is_required":true}]}`, tpl.ID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &tpl)
	require.Len(t, tpl.Levels, 2)
	assert.Equal(t, "user3", tpl.Levels[0].ApproverUserID)

	rec = doJSON(t, h.ActivateTemplate, http.MethodPost, "/api/v1/templates/activate",
		fmt.Sprintf(`{"template_id":%q,"is_active":false}`, tpl.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &tpl)
	assert.False(t, tpl.IsActive)

	rec = doJSON(t, h.ListTemplates, http.MethodGet, "/api/v1/templates?active=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listBody struct {
		Templates []approval.ChainTemplate `json:"templates"`
		Total     int                      `json:"total"`
	}
	decodeBody(t, rec, &listBody)
	assert.Equal(t, 1, listBody.Total)

	rec = doJSON(t, h.GetActiveTemplate, http.MethodGet, "/api/v1/templates/active?entity_type=purchase_order", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestErrorBodyCarriesRequestID(t *testing.T) {
	h, _ := newTestHandler(t)

	wrapped := middleware.RequestID(http.HandlerFunc(h.GetRequest))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/approvals/get?id=missing", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body struct {
		Code      string `json:"code"`
		RequestID string `json:"request_id"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, "not_found", body.Code)
	assert.NotEmpty(t, body.RequestID)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), body.RequestID)
}
