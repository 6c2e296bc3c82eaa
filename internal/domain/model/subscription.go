package model

import (
	"time"

	"ai-subscription-payments/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusFinished  SubscriptionStatus = "finished"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// UserSubscription is a user's entitlement window for a plan.
type UserSubscription struct {
	ID        string
	UserID    string
	PlanID    string
	Status    SubscriptionStatus
	StartAt   time.Time
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewUserSubscription starts a fresh subscription running from now.
func NewUserSubscription(id, userID string, plan *SubscriptionPlan) (*UserSubscription, error) {
	if id == "" || userID == "" || plan.IsZero() {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &UserSubscription{
		ID:        id,
		UserID:    userID,
		PlanID:    plan.ID,
		Status:    SubscriptionStatusActive,
		StartAt:   now,
		ExpiresAt: now.Add(time.Duration(plan.DurationDays) * 24 * time.Hour),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Extend pushes the expiry out by the plan duration. Renewals stack: the new
// window starts at the later of now and the current expiry, so remaining time
// is never lost.
func (s *UserSubscription) Extend(plan *SubscriptionPlan) error {
	if plan.IsZero() {
		return domain.ErrInvalidArgument
	}
	now := time.Now()
	base := s.ExpiresAt
	if base.Before(now) {
		base = now
	}
	s.ExpiresAt = base.Add(time.Duration(plan.DurationDays) * 24 * time.Hour)
	s.Status = SubscriptionStatusActive
	s.UpdatedAt = now
	return nil
}

// Active reports whether the subscription currently grants access.
func (s *UserSubscription) Active(at time.Time) bool {
	return s.Status == SubscriptionStatusActive && at.Before(s.ExpiresAt)
}
