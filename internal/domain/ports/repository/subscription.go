package repository

import (
	"context"

	"ai-subscription-payments/internal/domain/model"
)

type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, sub *model.UserSubscription) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.UserSubscription, error)
	// FindActiveByUserAndPlan returns the user's current active subscription for
	// the plan, or domain.ErrNotFound.
	FindActiveByUserAndPlan(ctx context.Context, tx Tx, userID, planID string) (*model.UserSubscription, error)
}
