package approval

import (
	"strings"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// LevelDecision is the per-level outcome record within a request, snapshotted
// from the chain template at submission. It starts pending and transitions
// exactly once.
type LevelDecision struct {
	ID                 string     `json:"id"`
	RequestID          string     `json:"request_id"`
	LevelOrder         int        `json:"level_order"`
	LevelName          string     `json:"level_name"`
	ExpectedApproverID string     `json:"expected_approver_id"`
	Decision           Decision   `json:"decision"`
	DecidedBy          *string    `json:"decided_by,omitempty"`
	DecidedAt          *time.Time `json:"decided_at,omitempty"`
	Comments           *string    `json:"comments,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Request is the approval state machine instance for one business-entity
// submission. Levels act strictly in order: only the decision at
// CurrentLevel is actable, approval advances the level or completes the
// request, and a single rejection halts the whole chain. Version increments
// on every mutation so concurrent writers cannot both win.
type Request struct {
	ID                string          `json:"id"`
	EntityType        string          `json:"entity_type"`
	EntityID          string          `json:"entity_id"`
	EntityDescription string          `json:"entity_description"`
	CurrentLevel      int             `json:"current_level"`
	TotalLevels       int             `json:"total_levels"`
	Status            Status          `json:"status"`
	SubmittedBy       string          `json:"submitted_by"`
	SubmittedAt       time.Time       `json:"submitted_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	Version           int             `json:"version"`
	Decisions         []LevelDecision `json:"decisions"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NewRequest builds a pending request at level 1 against the given template,
// snapshotting its levels into decisions.
func NewRequest(tpl *ChainTemplate, entityID, entityDescription, submittedBy string, now time.Time) (*Request, error) {
	if len(tpl.Levels) == 0 {
		return nil, errors.BusinessRule("chain has no levels configured")
	}

	return &Request{
		EntityType:        tpl.EntityType,
		EntityID:          entityID,
		EntityDescription: entityDescription,
		CurrentLevel:      1,
		TotalLevels:       len(tpl.Levels),
		Status:            StatusPending,
		SubmittedBy:       submittedBy,
		SubmittedAt:       now,
		Decisions:         tpl.CreateLevelDecisions(),
	}, nil
}

// CurrentDecision returns the decision at CurrentLevel, or nil.
func (r *Request) CurrentDecision() *LevelDecision {
	for i := range r.Decisions {
		if r.Decisions[i].LevelOrder == r.CurrentLevel {
			return &r.Decisions[i]
		}
	}
	return nil
}

// expectedLevelFor returns the level at which actorID is the expected
// approver, if any.
func (r *Request) expectedLevelFor(actorID string) (int, bool) {
	for i := range r.Decisions {
		if r.Decisions[i].ExpectedApproverID == actorID {
			return r.Decisions[i].LevelOrder, true
		}
	}
	return 0, false
}

// actionableDecision runs the shared approve/reject guards in order:
// terminal status, current-level presence, pending decision, actor match.
// An actor bound to a different level of this chain gets a business-rule
// refusal naming the level the request is waiting on; an actor bound to no
// level gets an authorization refusal. Nothing is mutated on failure.
func (r *Request) actionableDecision(actorID string) (*LevelDecision, error) {
	if r.Status.Terminal() {
		return nil, errors.Newf(errors.ErrCodeBusinessRule, "approval request already finalized (status: %s)", r.Status)
	}

	decision := r.CurrentDecision()
	if decision == nil {
		return nil, errors.Newf(errors.ErrCodeBusinessRule, "no decision configured at current level %d", r.CurrentLevel)
	}
	if decision.Decision != DecisionPending {
		return nil, errors.Newf(errors.ErrCodeConflict, "level %d is not pending (decision: %s)", decision.LevelOrder, decision.Decision)
	}

	if decision.ExpectedApproverID != actorID {
		if order, ok := r.expectedLevelFor(actorID); ok {
			return nil, errors.Newf(errors.ErrCodeBusinessRule,
				"user %s approves at level %d; request is waiting on level %d", actorID, order, r.CurrentLevel)
		}
		return nil, errors.Unauthorized("user is not authorized to act on this approval level")
	}

	return decision, nil
}

// Approve records an approval by actorID at the current level. It returns
// the decided level and whether the request completed (final level
// approved). On intermediate levels the request stays pending and advances
// one level.
func (r *Request) Approve(actorID string, comments *string, now time.Time) (*LevelDecision, bool, error) {
	decision, err := r.actionableDecision(actorID)
	if err != nil {
		return nil, false, err
	}

	decision.Decision = DecisionApproved
	decision.DecidedBy = &actorID
	decision.DecidedAt = &now
	decision.Comments = comments

	completed := r.CurrentLevel == r.TotalLevels
	if completed {
		r.Status = StatusApproved
		r.CompletedAt = &now
	} else {
		r.CurrentLevel++
	}
	return decision, completed, nil
}

// Reject records a rejection by actorID at the current level and halts the
// whole chain: the request turns rejected immediately and later levels are
// never evaluated. A reason is always required.
func (r *Request) Reject(actorID, reason string, now time.Time) (*LevelDecision, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, errors.BusinessRule("rejection reason is required")
	}

	decision, err := r.actionableDecision(actorID)
	if err != nil {
		return nil, err
	}

	decision.Decision = DecisionRejected
	decision.DecidedBy = &actorID
	decision.DecidedAt = &now
	decision.Comments = &reason

	r.Status = StatusRejected
	r.CompletedAt = &now
	return decision, nil
}

// CompletionEvent returns the outward signal for a terminal request, or nil
// while the request is still pending.
func (r *Request) CompletionEvent() *CompletionEvent {
	if !r.Status.Terminal() || r.CompletedAt == nil {
		return nil
	}

	outcome := OutcomeApproved
	if r.Status == StatusRejected {
		outcome = OutcomeRejected
	}
	return &CompletionEvent{
		RequestID:   r.ID,
		EntityType:  r.EntityType,
		EntityID:    r.EntityID,
		Outcome:     outcome,
		CompletedAt: *r.CompletedAt,
	}
}
