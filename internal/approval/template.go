package approval

import (
	"sort"
	"strings"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// ChainLevel is one configured approval level within a template: who
// approves at which position in the chain.
type ChainLevel struct {
	LevelOrder     int    `json:"level_order"`
	LevelName      string `json:"level_name"`
	ApproverUserID string `json:"approver_user_id"`
	IsRequired     bool   `json:"is_required"`
}

// ChainTemplate is the per-entity-type approval configuration: an ordered
// list of levels, replaced wholesale on reconfiguration, never deleted
// (deactivated instead). Version guards concurrent reconfiguration.
type ChainTemplate struct {
	ID         string       `json:"id"`
	EntityType string       `json:"entity_type"`
	Name       string       `json:"name"`
	IsActive   bool         `json:"is_active"`
	Version    int          `json:"version"`
	Levels     []ChainLevel `json:"levels"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// TotalLevels returns the number of configured levels.
func (t *ChainTemplate) TotalLevels() int {
	return len(t.Levels)
}

// ValidateLevels checks that the given levels form a usable chain: every
// level names an approver, and the orders, sorted, are exactly 1..N.
func ValidateLevels(levels []ChainLevel) error {
	if len(levels) == 0 {
		return errors.BusinessRule("at least one approval level is required")
	}

	orders := make([]int, 0, len(levels))
	for _, lvl := range levels {
		if strings.TrimSpace(lvl.ApproverUserID) == "" {
			return errors.InvalidInput("approver_user_id", "every level must name an approver")
		}
		if strings.TrimSpace(lvl.LevelName) == "" {
			return errors.InvalidInput("level_name", "every level must be named")
		}
		orders = append(orders, lvl.LevelOrder)
	}

	sort.Ints(orders)
	for i, order := range orders {
		if order != i+1 {
			return errors.BusinessRule("levels must be sequential")
		}
	}
	return nil
}

// ReplaceLevels validates and replaces the whole level list, sorted by
// level order. Partial edits are not supported; the caller persists the
// template as a unit.
func (t *ChainTemplate) ReplaceLevels(levels []ChainLevel) error {
	if err := ValidateLevels(levels); err != nil {
		return err
	}

	replaced := make([]ChainLevel, len(levels))
	copy(replaced, levels)
	sort.Slice(replaced, func(i, j int) bool {
		return replaced[i].LevelOrder < replaced[j].LevelOrder
	})

	t.Levels = replaced
	return nil
}

// CreateLevelDecisions snapshots the configured levels into pending
// decisions for a new request. Later template edits never touch the
// snapshots. Pure; no side effects.
func (t *ChainTemplate) CreateLevelDecisions() []LevelDecision {
	decisions := make([]LevelDecision, 0, len(t.Levels))
	for _, lvl := range t.Levels {
		decisions = append(decisions, LevelDecision{
			LevelOrder:         lvl.LevelOrder,
			LevelName:          lvl.LevelName,
			ExpectedApproverID: lvl.ApproverUserID,
			Decision:           DecisionPending,
		})
	}
	return decisions
}
