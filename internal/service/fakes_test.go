package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-plt-approvals/internal/approval"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zerolog.Nop()}
}

// ── Template store fake ───────────────────────────────────────────────────────

type fakeTemplateStore struct {
	templates map[string]*approval.ChainTemplate
	updateErr error
	getCalls  int
}

func newFakeTemplateStore() *fakeTemplateStore {
	return &fakeTemplateStore{templates: make(map[string]*approval.ChainTemplate)}
}

func copyTemplate(tpl *approval.ChainTemplate) *approval.ChainTemplate {
	cp := *tpl
	cp.Levels = make([]approval.ChainLevel, len(tpl.Levels))
	copy(cp.Levels, tpl.Levels)
	return &cp
}

func (f *fakeTemplateStore) Create(ctx context.Context, tpl *approval.ChainTemplate) error {
	tpl.ID = uuid.NewString()
	tpl.Version = 1
	tpl.CreatedAt = time.Now().UTC()
	tpl.UpdatedAt = tpl.CreatedAt
	f.templates[tpl.ID] = copyTemplate(tpl)
	return nil
}

func (f *fakeTemplateStore) GetByID(ctx context.Context, id string) (*approval.ChainTemplate, error) {
	f.getCalls++
	tpl, ok := f.templates[id]
	if !ok {
		return nil, errors.NotFound("chain_template", id)
	}
	return copyTemplate(tpl), nil
}

func (f *fakeTemplateStore) GetActiveByEntityType(ctx context.Context, entityType string) (*approval.ChainTemplate, error) {
	f.getCalls++
	for _, tpl := range f.templates {
		if tpl.EntityType == entityType && tpl.IsActive {
			return copyTemplate(tpl), nil
		}
	}
	return nil, errors.NotFound("chain_template", entityType)
}

func (f *fakeTemplateStore) Update(ctx context.Context, tpl *approval.ChainTemplate) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	stored, ok := f.templates[tpl.ID]
	if !ok {
		return errors.NotFound("chain_template", tpl.ID)
	}
	if stored.Version != tpl.Version {
		return errors.Conflict("chain template was modified concurrently")
	}
	tpl.Version++
	tpl.UpdatedAt = time.Now().UTC()
	f.templates[tpl.ID] = copyTemplate(tpl)
	return nil
}

func (f *fakeTemplateStore) List(ctx context.Context, activeOnly bool) ([]*approval.ChainTemplate, error) {
	var out []*approval.ChainTemplate
	for _, tpl := range f.templates {
		if activeOnly && !tpl.IsActive {
			continue
		}
		out = append(out, copyTemplate(tpl))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityType < out[j].EntityType })
	return out, nil
}

// ── Request store fake ────────────────────────────────────────────────────────

type fakeRequestStore struct {
	requests  map[string]*approval.Request
	history   []*approval.HistoryEntry
	comments  []*approval.Comment
	commits   []repository.DecisionCommit
	commitErr error
	getCalls  int
}

func newFakeRequestStore() *fakeRequestStore {
	return &fakeRequestStore{requests: make(map[string]*approval.Request)}
}

func copyRequest(req *approval.Request) *approval.Request {
	cp := *req
	cp.Decisions = make([]approval.LevelDecision, len(req.Decisions))
	copy(cp.Decisions, req.Decisions)
	if req.CompletedAt != nil {
		t := *req.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func (f *fakeRequestStore) Create(ctx context.Context, req *approval.Request, submitted *approval.HistoryEntry) error {
	req.ID = uuid.NewString()
	req.Version = 1
	req.CreatedAt = time.Now().UTC()
	req.UpdatedAt = req.CreatedAt
	for i := range req.Decisions {
		req.Decisions[i].ID = uuid.NewString()
		req.Decisions[i].RequestID = req.ID
	}
	f.requests[req.ID] = copyRequest(req)

	entry := *submitted
	entry.ID = uuid.NewString()
	entry.RequestID = req.ID
	entry.CreatedAt = time.Now().UTC()
	f.history = append(f.history, &entry)
	return nil
}

func (f *fakeRequestStore) GetByID(ctx context.Context, id string) (*approval.Request, error) {
	f.getCalls++
	req, ok := f.requests[id]
	if !ok {
		return nil, errors.NotFound("approval_request", id)
	}
	return copyRequest(req), nil
}

func (f *fakeRequestStore) GetActiveByEntity(ctx context.Context, entityType, entityID string) (*approval.Request, error) {
	f.getCalls++
	for _, req := range f.requests {
		if req.EntityType == entityType && req.EntityID == entityID && req.Status == approval.StatusPending {
			return copyRequest(req), nil
		}
	}
	return nil, errors.NotFound("approval_request", entityID)
}

func (f *fakeRequestStore) ListPendingForApprover(ctx context.Context, approverID string) ([]*approval.Request, error) {
	var out []*approval.Request
	for _, req := range f.requests {
		if req.Status != approval.StatusPending {
			continue
		}
		for _, d := range req.Decisions {
			if d.LevelOrder == req.CurrentLevel && d.Decision == approval.DecisionPending && d.ExpectedApproverID == approverID {
				out = append(out, copyRequest(req))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (f *fakeRequestStore) CommitDecision(ctx context.Context, commit repository.DecisionCommit) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	stored, ok := f.requests[commit.Request.ID]
	if !ok {
		return errors.NotFound("approval_request", commit.Request.ID)
	}
	if stored.Version != commit.Request.Version {
		return errors.Conflict("approval request was modified concurrently")
	}

	commit.Request.Version++
	f.requests[commit.Request.ID] = copyRequest(commit.Request)

	if commit.History != nil {
		entry := *commit.History
		entry.ID = uuid.NewString()
		entry.CreatedAt = time.Now().UTC()
		f.history = append(f.history, &entry)
	}
	if commit.Comment != nil {
		c := *commit.Comment
		c.ID = uuid.NewString()
		c.CreatedAt = time.Now().UTC()
		f.comments = append(f.comments, &c)
	}
	f.commits = append(f.commits, commit)
	return nil
}

// lastCommit returns the most recent committed decision for assertions.
func (f *fakeRequestStore) lastCommit() repository.DecisionCommit {
	return f.commits[len(f.commits)-1]
}

// ── History and comment store fakes ───────────────────────────────────────────

type fakeHistoryStore struct {
	requests *fakeRequestStore
}

func (f *fakeHistoryStore) ListByRequestID(ctx context.Context, requestID string) ([]*approval.HistoryEntry, error) {
	var out []*approval.HistoryEntry
	for _, e := range f.requests.history {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeCommentStore struct {
	requests *fakeRequestStore
}

func (f *fakeCommentStore) ListByRequestID(ctx context.Context, requestID string) ([]*approval.Comment, error) {
	var out []*approval.Comment
	for _, c := range f.requests.comments {
		if c.RequestID == requestID {
			out = append(out, c)
		}
	}
	return out, nil
}

// ── Identity fake ─────────────────────────────────────────────────────────────

type fakeIdentity struct {
	users   map[string]string
	lookups int
}

func newFakeIdentity(users map[string]string) *fakeIdentity {
	return &fakeIdentity{users: users}
}

func (f *fakeIdentity) UserExists(ctx context.Context, userID string) (bool, error) {
	f.lookups++
	_, ok := f.users[userID]
	return ok, nil
}

func (f *fakeIdentity) FindUser(ctx context.Context, userID string) (*approval.User, error) {
	f.lookups++
	name, ok := f.users[userID]
	if !ok {
		return nil, errors.NotFound("user", userID)
	}
	return &approval.User{ID: userID, DisplayName: name}, nil
}
