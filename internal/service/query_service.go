package service

import (
	"context"

	"github.com/pesio-ai/be-plt-approvals/internal/approval"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// ApprovalQueryService serves the read paths: request lookups, approver
// worklists, audit history, and chain template inspection. Queries never
// mutate state and are kept apart from the command side so read load can
// move to replicas later.
type ApprovalQueryService struct {
	templates repository.TemplateStore
	requests  repository.RequestStore
	history   repository.HistoryStore
	comments  repository.CommentStore
}

// NewApprovalQueryService creates a new ApprovalQueryService.
func NewApprovalQueryService(
	templates repository.TemplateStore,
	requests repository.RequestStore,
	history repository.HistoryStore,
	comments repository.CommentStore,
) *ApprovalQueryService {
	return &ApprovalQueryService{
		templates: templates,
		requests:  requests,
		history:   history,
		comments:  comments,
	}
}

// GetRequest returns a request with its full decision ladder.
func (s *ApprovalQueryService) GetRequest(ctx context.Context, requestID string) (*approval.Request, error) {
	return s.requests.GetByID(ctx, requestID)
}

// ActiveRequestForEntity returns the pending request for a business entity,
// or a not-found error when nothing is awaiting approval.
func (s *ApprovalQueryService) ActiveRequestForEntity(ctx context.Context, entityType, entityID string) (*approval.Request, error) {
	return s.requests.GetActiveByEntity(ctx, entityType, entityID)
}

// PendingForApprover returns every request currently waiting on the given
// user, the approver's worklist.
func (s *ApprovalQueryService) PendingForApprover(ctx context.Context, approverID string) ([]*approval.Request, error) {
	return s.requests.ListPendingForApprover(ctx, approverID)
}

// History returns the append-only audit trail for a request, oldest first.
func (s *ApprovalQueryService) History(ctx context.Context, requestID string) ([]*approval.HistoryEntry, error) {
	if _, err := s.requests.GetByID(ctx, requestID); err != nil {
		return nil, err
	}
	return s.history.ListByRequestID(ctx, requestID)
}

// Comments returns the discussion thread attached to a request.
func (s *ApprovalQueryService) Comments(ctx context.Context, requestID string) ([]*approval.Comment, error) {
	if _, err := s.requests.GetByID(ctx, requestID); err != nil {
		return nil, err
	}
	return s.comments.ListByRequestID(ctx, requestID)
}

// GetTemplate returns a chain template by id.
func (s *ApprovalQueryService) GetTemplate(ctx context.Context, templateID string) (*approval.ChainTemplate, error) {
	return s.templates.GetByID(ctx, templateID)
}

// ActiveTemplateForEntityType returns the active chain template governing
// new requests for an entity type.
func (s *ApprovalQueryService) ActiveTemplateForEntityType(ctx context.Context, entityType string) (*approval.ChainTemplate, error) {
	return s.templates.GetActiveByEntityType(ctx, entityType)
}

// ListTemplates returns chain templates, optionally only active ones.
func (s *ApprovalQueryService) ListTemplates(ctx context.Context, activeOnly bool) ([]*approval.ChainTemplate, error) {
	return s.templates.List(ctx, activeOnly)
}
