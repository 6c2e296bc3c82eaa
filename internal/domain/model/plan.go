package model

import (
	"time"

	"ai-subscription-payments/internal/domain"
)

// SubscriptionPlan represents a purchasable plan with a fixed duration and a
// price in minor units of Currency.
type SubscriptionPlan struct {
	ID           string
	Name         string
	DurationDays int
	PriceMinor   int64
	Currency     string
	CreatedAt    time.Time
}

func (p *SubscriptionPlan) IsZero() bool { return p == nil || p.ID == "" }

// NewSubscriptionPlan validates and constructs a plan.
func NewSubscriptionPlan(id, name string, durationDays int, priceMinor int64, currency string) (*SubscriptionPlan, error) {
	if id == "" || name == "" || durationDays <= 0 || priceMinor <= 0 || currency == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &SubscriptionPlan{
		ID:           id,
		Name:         name,
		DurationDays: durationDays,
		PriceMinor:   priceMinor,
		Currency:     currency,
		CreatedAt:    time.Now(),
	}, nil
}
