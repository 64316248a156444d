package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"betareader/pkg/domain"
	"betareader/pkg/store"
)

// ListInviteCodes returns unused codes first, then by code.
func (a *App) ListInviteCodes(ctx context.Context) ([]domain.InviteCode, error) {
	items, err := a.store.ListInviteCodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list invite codes: %w", err)
	}
	return items, nil
}

// CreateInviteCode adds an unused invite code.
func (a *App) CreateInviteCode(ctx context.Context, code string) error {
	code = text(code)
	if code == "" {
		return invalid("Missing code")
	}
	if err := a.store.CreateInviteCode(ctx, code); err != nil {
		if errors.Is(err, store.ErrInviteExists) {
			return ErrInviteExists
		}
		return fmt.Errorf("create invite code: %w", err)
	}
	return nil
}

// ListFeedback returns all feedback newest first.
func (a *App) ListFeedback(ctx context.Context) ([]domain.Feedback, error) {
	items, err := a.store.ListFeedback(ctx)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	return items, nil
}

// SetFeedbackStatus moves a feedback item to new, triaged or fixed.
func (a *App) SetFeedbackStatus(ctx context.Context, id int64, status string) error {
	st := domain.FeedbackStatus(strings.ToLower(text(status)))
	switch st {
	case domain.FeedbackNew, domain.FeedbackTriaged, domain.FeedbackFixed:
	default:
		return invalid("Invalid status")
	}
	return notFound(a.store.UpdateFeedbackStatus(ctx, id, st), "update feedback status")
}

// ProgressOverview summarises listening activity per reader in signup order.
func (a *App) ProgressOverview(ctx context.Context) ([]domain.ProgressSummary, error) {
	items, err := a.store.ProgressSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("progress summaries: %w", err)
	}
	return items, nil
}
