package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/approval"
	"github.com/pesio-ai/be-plt-approvals/internal/errors"
)

type queryFixture struct {
	*commandFixture
	query *ApprovalQueryService
}

func newQueryFixture(t *testing.T) *queryFixture {
	t.Helper()
	cf := twoLevelFixture(t)
	query := NewApprovalQueryService(
		cf.templates,
		cf.requests,
		&fakeHistoryStore{requests: cf.requests},
		&fakeCommentStore{requests: cf.requests},
	)
	return &queryFixture{commandFixture: cf, query: query}
}

func TestGetRequestReturnsDecisionLadder(t *testing.T) {
	f := newQueryFixture(t)
	ctx := context.Background()

	id := f.createRequest(t, "purchase_order", "po-42")

	req, err := f.query.GetRequest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, req.ID)
	assert.Len(t, req.Decisions, 2)

	_, err = f.query.GetRequest(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))
}

func TestActiveRequestForEntity(t *testing.T) {
	f := newQueryFixture(t)
	ctx := context.Background()

	id := f.createRequest(t, "purchase_order", "po-42")

	req, err := f.query.ActiveRequestForEntity(ctx, "purchase_order", "po-42")
	require.NoError(t, err)
	assert.Equal(t, id, req.ID)

	_, err = f.query.ActiveRequestForEntity(ctx, "purchase_order", "po-99")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))

	// Finalized requests drop out of the active lookup.
	_, err = f.svc.Reject(ctx, RejectCommand{RequestID: id, ActorID: "user2", Reason: "Price too high"})
	require.NoError(t, err)
	_, err = f.query.ActiveRequestForEntity(ctx, "purchase_order", "po-42")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))
}

func TestPendingForApproverTracksCurrentLevel(t *testing.T) {
	f := newQueryFixture(t)
	ctx := context.Background()

	first := f.createRequest(t, "purchase_order", "po-42")
	second := f.createRequest(t, "purchase_order", "po-43")

	pending, err := f.query.PendingForApprover(ctx, "user2")
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	pending, err = f.query.PendingForApprover(ctx, "user1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Approving the first request moves it onto user1's list.
	_, err = f.svc.Approve(ctx, ApproveCommand{RequestID: first, ActorID: "user2"})
	require.NoError(t, err)

	pending, err = f.query.PendingForApprover(ctx, "user2")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second, pending[0].ID)

	pending, err = f.query.PendingForApprover(ctx, "user1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first, pending[0].ID)
}

func TestHistoryAndComments(t *testing.T) {
	f := newQueryFixture(t)
	ctx := context.Background()

	id := f.createRequest(t, "purchase_order", "po-42")
	followup := "Reduce by 10%"
	_, err := f.svc.Reject(ctx, RejectCommand{
		RequestID:          id,
		ActorID:            "user2",
		Reason:             "Price too high",
		AdditionalComments: &followup,
	})
	require.NoError(t, err)

	history, err := f.query.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, approval.ActionSubmitted, history[0].Action)
	assert.Equal(t, approval.ActionRejected, history[1].Action)
	require.NotNil(t, history[1].Comments)
	assert.Equal(t, "Price too high", *history[1].Comments)

	comments, err := f.query.Comments(ctx, id)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "Reduce by 10%", comments[0].Body)

	_, err = f.query.History(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))

	_, err = f.query.Comments(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))
}

func TestListTemplatesFiltersActive(t *testing.T) {
	f := newQueryFixture(t)
	ctx := context.Background()

	staged := &approval.ChainTemplate{
		EntityType: "expense_report",
		Name:       "expense chain",
		IsActive:   false,
		Levels:     []approval.ChainLevel{level(1, "Manager", "user1")},
	}
	require.NoError(t, f.templates.Create(ctx, staged))

	all, err := f.query.ListTemplates(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := f.query.ListTemplates(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "purchase_order", active[0].EntityType)

	tpl, err := f.query.ActiveTemplateForEntityType(ctx, "purchase_order")
	require.NoError(t, err)
	assert.Equal(t, active[0].ID, tpl.ID)
}
