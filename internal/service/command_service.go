package service

import (
	"context"
	"strings"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/approval"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/metrics"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// IdentityDirectory resolves user identities from the identity service:
// existence checks at chain configuration time and display names for
// refusal messages.
type IdentityDirectory interface {
	UserExists(ctx context.Context, userID string) (bool, error)
	FindUser(ctx context.Context, userID string) (*approval.User, error)
}

// CreateApprovalRequestCommand submits a business entity for approval.
type CreateApprovalRequestCommand struct {
	EntityType        string
	EntityID          string
	EntityDescription string
	SubmittedBy       string
}

// ApproveCommand records an approval at the request's current level.
type ApproveCommand struct {
	RequestID string
	ActorID   string
	Comments  *string
}

// RejectCommand rejects the request at its current level. Reason is
// mandatory; AdditionalComments become a discussion comment.
type RejectCommand struct {
	RequestID          string
	ActorID            string
	Reason             string
	AdditionalComments *string
}

// CreateChainTemplateCommand configures a new approval chain for an entity
// type. Levels may be empty to stage the template before configuration.
type CreateChainTemplateCommand struct {
	EntityType string
	Name       string
	Levels     []approval.ChainLevel
}

// UpdateChainLevelsCommand replaces a template's levels wholesale.
type UpdateChainLevelsCommand struct {
	TemplateID string
	Levels     []approval.ChainLevel
}

// ApprovalCommandService orchestrates the approval workflow: request
// creation, approve/reject decisions, and chain reconfiguration. Every
// command loads the aggregate, applies the domain transition, and persists
// all side effects (request, decisions, history, comment, completion event)
// in one transaction through the stores. Commands return ids.
type ApprovalCommandService struct {
	templates repository.TemplateStore
	requests  repository.RequestStore
	identity  IdentityDirectory
	log       *logger.Logger
}

// NewApprovalCommandService creates a new ApprovalCommandService.
func NewApprovalCommandService(
	templates repository.TemplateStore,
	requests repository.RequestStore,
	identity IdentityDirectory,
	log *logger.Logger,
) *ApprovalCommandService {
	return &ApprovalCommandService{
		templates: templates,
		requests:  requests,
		identity:  identity,
		log:       log,
	}
}

// ── Request creation ──────────────────────────────────────────────────────────

// CreateApprovalRequest starts an approval against the active chain template
// for the entity type, snapshotting its levels into pending decisions.
func (s *ApprovalCommandService) CreateApprovalRequest(ctx context.Context, cmd CreateApprovalRequestCommand) (string, error) {
	if strings.TrimSpace(cmd.EntityType) == "" {
		return "", errors.InvalidInput("entity_type", "entity type is required")
	}
	if strings.TrimSpace(cmd.EntityID) == "" {
		return "", errors.InvalidInput("entity_id", "entity id is required")
	}
	if strings.TrimSpace(cmd.SubmittedBy) == "" {
		return "", errors.InvalidInput("submitted_by", "submitter is required")
	}

	tpl, err := s.templates.GetActiveByEntityType(ctx, cmd.EntityType)
	if err != nil {
		return "", err
	}

	req, err := approval.NewRequest(tpl, cmd.EntityID, cmd.EntityDescription, cmd.SubmittedBy, time.Now().UTC())
	if err != nil {
		return "", err
	}

	submitted := &approval.HistoryEntry{
		Action:  approval.ActionSubmitted,
		ActorID: cmd.SubmittedBy,
	}
	if err := s.requests.Create(ctx, req, submitted); err != nil {
		return "", err
	}

	metrics.RecordRequestCreated()
	s.log.Info().
		Str("request_id", req.ID).
		Str("entity_type", req.EntityType).
		Str("entity_id", req.EntityID).
		Int("total_levels", req.TotalLevels).
		Msg("Approval request created")

	return req.ID, nil
}

// ── Approve ───────────────────────────────────────────────────────────────────

// Approve records an approval by the current level's expected approver and
// either advances the chain or completes the request.
func (s *ApprovalCommandService) Approve(ctx context.Context, cmd ApproveCommand) (string, error) {
	req, err := s.requests.GetByID(ctx, cmd.RequestID)
	if err != nil {
		return "", err
	}

	decided, completed, err := req.Approve(cmd.ActorID, cmd.Comments, time.Now().UTC())
	if err != nil {
		return "", s.describeRefusal(ctx, req, err)
	}

	levelOrder := decided.LevelOrder
	commit := repository.DecisionCommit{
		Request:  req,
		Decision: decided,
		History: &approval.HistoryEntry{
			RequestID:  req.ID,
			LevelOrder: &levelOrder,
			Action:     approval.ActionApproved,
			ActorID:    cmd.ActorID,
			Comments:   cmd.Comments,
		},
		Event: req.CompletionEvent(),
	}
	if err := s.requests.CommitDecision(ctx, commit); err != nil {
		return "", err
	}

	metrics.RecordDecision("approved")
	if completed {
		s.log.Info().
			Str("request_id", req.ID).
			Str("entity_type", req.EntityType).
			Str("entity_id", req.EntityID).
			Msg("Approval request completed")
	} else {
		s.log.Info().
			Str("request_id", req.ID).
			Int("current_level", req.CurrentLevel).
			Msg("Approval advanced to next level")
	}

	return req.ID, nil
}

// ── Reject ────────────────────────────────────────────────────────────────────

// Reject halts the whole chain at the current level. The reason is required
// and checked before any repository access.
func (s *ApprovalCommandService) Reject(ctx context.Context, cmd RejectCommand) (string, error) {
	if strings.TrimSpace(cmd.Reason) == "" {
		return "", errors.BusinessRule("rejection reason is required")
	}

	req, err := s.requests.GetByID(ctx, cmd.RequestID)
	if err != nil {
		return "", err
	}

	decided, err := req.Reject(cmd.ActorID, cmd.Reason, time.Now().UTC())
	if err != nil {
		return "", s.describeRefusal(ctx, req, err)
	}

	levelOrder := decided.LevelOrder
	reason := cmd.Reason
	commit := repository.DecisionCommit{
		Request:  req,
		Decision: decided,
		History: &approval.HistoryEntry{
			RequestID:  req.ID,
			LevelOrder: &levelOrder,
			Action:     approval.ActionRejected,
			ActorID:    cmd.ActorID,
			Comments:   &reason,
		},
		Event: req.CompletionEvent(),
	}
	if cmd.AdditionalComments != nil && strings.TrimSpace(*cmd.AdditionalComments) != "" {
		commit.Comment = &approval.Comment{
			RequestID:  req.ID,
			LevelOrder: decided.LevelOrder,
			AuthorID:   cmd.ActorID,
			Body:       *cmd.AdditionalComments,
		}
	}
	if err := s.requests.CommitDecision(ctx, commit); err != nil {
		return "", err
	}

	metrics.RecordDecision("rejected")
	s.log.Info().
		Str("request_id", req.ID).
		Str("entity_type", req.EntityType).
		Str("entity_id", req.EntityID).
		Int("level", decided.LevelOrder).
		Msg("Approval request rejected")

	return req.ID, nil
}

// ── Chain configuration ───────────────────────────────────────────────────────

// CreateChainTemplate configures a new approval chain. Only one active
// template may exist per entity type.
func (s *ApprovalCommandService) CreateChainTemplate(ctx context.Context, cmd CreateChainTemplateCommand) (string, error) {
	if strings.TrimSpace(cmd.EntityType) == "" {
		return "", errors.InvalidInput("entity_type", "entity type is required")
	}
	if strings.TrimSpace(cmd.Name) == "" {
		return "", errors.InvalidInput("name", "template name is required")
	}

	existing, err := s.templates.GetActiveByEntityType(ctx, cmd.EntityType)
	if err != nil && !errors.HasCode(err, errors.ErrCodeNotFound) {
		return "", err
	}
	if existing != nil {
		return "", errors.Newf(errors.ErrCodeBusinessRule,
			"an active chain template already exists for entity type %s", cmd.EntityType)
	}

	tpl := &approval.ChainTemplate{
		EntityType: cmd.EntityType,
		Name:       cmd.Name,
		IsActive:   true,
	}
	if len(cmd.Levels) > 0 {
		if err := s.assertApproversExist(ctx, cmd.Levels); err != nil {
			return "", err
		}
		if err := tpl.ReplaceLevels(cmd.Levels); err != nil {
			return "", err
		}
	}

	if err := s.templates.Create(ctx, tpl); err != nil {
		return "", err
	}

	s.log.Info().
		Str("template_id", tpl.ID).
		Str("entity_type", tpl.EntityType).
		Int("total_levels", tpl.TotalLevels()).
		Msg("Chain template created")

	return tpl.ID, nil
}

// UpdateChainLevels replaces a template's levels wholesale: the template is
// loaded, every approver is checked against the identity service, the
// ordering is validated, and the new list is persisted as a unit. No partial
// application on failure.
func (s *ApprovalCommandService) UpdateChainLevels(ctx context.Context, cmd UpdateChainLevelsCommand) (string, error) {
	tpl, err := s.templates.GetByID(ctx, cmd.TemplateID)
	if err != nil {
		return "", err
	}

	if err := s.assertApproversExist(ctx, cmd.Levels); err != nil {
		return "", err
	}
	if err := tpl.ReplaceLevels(cmd.Levels); err != nil {
		return "", err
	}

	if err := s.templates.Update(ctx, tpl); err != nil {
		return "", err
	}

	metrics.RecordReconfiguration()
	s.log.Info().
		Str("template_id", tpl.ID).
		Str("entity_type", tpl.EntityType).
		Int("total_levels", tpl.TotalLevels()).
		Msg("Chain levels replaced")

	return tpl.ID, nil
}

// SetTemplateActive toggles a template's active flag. Templates are never
// deleted; deactivation retires them. In-flight requests keep their
// snapshots either way.
func (s *ApprovalCommandService) SetTemplateActive(ctx context.Context, templateID string, active bool) (string, error) {
	tpl, err := s.templates.GetByID(ctx, templateID)
	if err != nil {
		return "", err
	}
	if tpl.IsActive == active {
		return tpl.ID, nil
	}

	if active {
		current, err := s.templates.GetActiveByEntityType(ctx, tpl.EntityType)
		if err != nil && !errors.HasCode(err, errors.ErrCodeNotFound) {
			return "", err
		}
		if current != nil && current.ID != tpl.ID {
			return "", errors.Newf(errors.ErrCodeBusinessRule,
				"an active chain template already exists for entity type %s", tpl.EntityType)
		}
	}

	tpl.IsActive = active
	if err := s.templates.Update(ctx, tpl); err != nil {
		return "", err
	}

	s.log.Info().
		Str("template_id", tpl.ID).
		Bool("is_active", tpl.IsActive).
		Msg("Chain template active flag updated")

	return tpl.ID, nil
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// assertApproversExist checks every configured approver against the identity
// service, failing with a not-found error naming the first missing user.
func (s *ApprovalCommandService) assertApproversExist(ctx context.Context, levels []approval.ChainLevel) error {
	seen := make(map[string]bool, len(levels))
	for _, lvl := range levels {
		id := strings.TrimSpace(lvl.ApproverUserID)
		if id == "" {
			return errors.InvalidInput("approver_user_id", "every level must name an approver")
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		exists, err := s.identity.UserExists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return errors.NotFound("user", id)
		}
	}
	return nil
}

// describeRefusal enriches authorization refusals with the expected
// approver's display name so UIs can say who the request is waiting on.
// Lookup failures fall back to the original error.
func (s *ApprovalCommandService) describeRefusal(ctx context.Context, req *approval.Request, err error) error {
	if !errors.HasCode(err, errors.ErrCodeUnauthorized) {
		return err
	}
	decision := req.CurrentDecision()
	if decision == nil {
		return err
	}
	user, lookupErr := s.identity.FindUser(ctx, decision.ExpectedApproverID)
	if lookupErr != nil || user == nil {
		return err
	}
	return errors.Newf(errors.ErrCodeUnauthorized,
		"user is not authorized to act on this approval level; level %d is waiting on %s",
		decision.LevelOrder, user.DisplayName)
}
