package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"ai-subscription-payments/internal/domain"
	"ai-subscription-payments/internal/domain/model"
	"ai-subscription-payments/internal/domain/ports/adapter"
	port "ai-subscription-payments/internal/domain/ports/gateway"
	"ai-subscription-payments/internal/domain/ports/repository"
	"ai-subscription-payments/internal/infra/gateway"
	"ai-subscription-payments/internal/infra/logging"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

type PaymentUseCase interface {
	// Create opens a payment with the requested (or default) provider and
	// persists the billing record before the intent is handed to the caller.
	Create(ctx context.Context, params model.CreatePaymentParams) (*model.PaymentIntent, error)
	// Get returns the billing record by its id.
	Get(ctx context.Context, id string) (*model.PaymentRecord, error)
	// Methods lists public-safe info about the enabled providers.
	Methods() []port.MethodInfo
	// ActivateSubscription is the one-shot success hook: it extends (or starts)
	// the user's subscription for the paid plan. The caller guarantees it runs
	// at most once per payment and passes the transaction the success
	// transition runs in, so a failed activation rolls the transition back.
	ActivateSubscription(ctx context.Context, tx repository.Tx, rec *model.PaymentRecord) error
	// SumByPeriod totals succeeded revenue for stats ("day","month",...).
	SumByPeriod(ctx context.Context, period string) (int64, error)
}

type paymentUC struct {
	payments repository.PaymentRepository
	plans    repository.PlanRepository
	subs     repository.SubscriptionRepository
	txm      repository.TransactionManager
	manager  *gateway.Manager
	notifier adapter.PaymentNotifier
	log      *zerolog.Logger
}

func NewPaymentUseCase(
	payments repository.PaymentRepository,
	plans repository.PlanRepository,
	subs repository.SubscriptionRepository,
	txm repository.TransactionManager,
	manager *gateway.Manager,
	notifier adapter.PaymentNotifier,
	log *zerolog.Logger,
) *paymentUC {
	return &paymentUC{payments: payments, plans: plans, subs: subs, txm: txm, manager: manager, notifier: notifier, log: log}
}

func (u *paymentUC) Create(ctx context.Context, params model.CreatePaymentParams) (*model.PaymentIntent, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.Create")()
	if params.PlanID != "" {
		// Price comes from the plan, never from the caller.
		plan, err := u.plans.FindByID(ctx, nil, params.PlanID)
		if err != nil {
			return nil, err
		}
		params.Amount = gateway.FromMinorUnits(plan.PriceMinor, plan.Currency)
		params.Currency = plan.Currency
		if params.Description == "" {
			params.Description = plan.Name
		}
	}

	intent, p, err := u.manager.CreatePayment(ctx, params)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	// The intent id is the join key: clients only ever hold intent.ID, so the
	// record is stored under it.
	rec := &model.PaymentRecord{
		ID:             intent.ID,
		UserID:         params.UserID,
		Provider:       p.Name(),
		PaymentMethod:  string(params.Flow),
		Amount:         gateway.ToMinorUnits(intent.Amount, intent.Currency),
		Currency:       intent.Currency,
		Status:         intent.Status,
		Description:    params.Description,
		PaymentID:      intent.ID,
		PlanID:         params.PlanID,
		SubscriptionID: params.SubscriptionID,
		Metadata:       intent.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := u.payments.Save(ctx, nil, rec); err != nil {
		u.log.Error().Err(err).Str("provider", p.Name()).Str("payment_id", intent.ID).Msg("billing record save failed")
		return nil, err
	}
	return intent, nil
}

func (u *paymentUC) Get(ctx context.Context, id string) (*model.PaymentRecord, error) {
	return u.payments.FindByID(ctx, nil, id)
}

func (u *paymentUC) Methods() []port.MethodInfo {
	return u.manager.AvailableMethods()
}

// ActivateSubscription runs inside a transaction so the subscription row a
// concurrent webhook might race on is locked for the duration. When the
// caller already holds a transaction (the success transition) the extension
// joins it; otherwise one is opened here.
func (u *paymentUC) ActivateSubscription(ctx context.Context, tx repository.Tx, rec *model.PaymentRecord) error {
	if rec.PlanID == "" {
		return nil // one-off payment, nothing to activate
	}
	ctx = logging.WithUserID(logging.WithPaymentID(ctx, rec.PaymentID), rec.UserID)
	plan, err := u.plans.FindByID(ctx, tx, rec.PlanID)
	if err != nil {
		return err
	}

	var sub *model.UserSubscription
	extend := func(ctx context.Context, tx repository.Tx) error {
		existing, err := u.subs.FindActiveByUserAndPlan(ctx, tx, rec.UserID, rec.PlanID)
		switch {
		case err == nil:
			if err := existing.Extend(plan); err != nil {
				return err
			}
			sub = existing
		case errors.Is(err, domain.ErrNotFound):
			fresh, err := model.NewUserSubscription(uuid.NewString(), rec.UserID, plan)
			if err != nil {
				return err
			}
			sub = fresh
		default:
			return err
		}
		return u.subs.Save(ctx, tx, sub)
	}
	if tx != nil {
		err = extend(ctx, tx)
	} else {
		err = u.txm.WithTx(ctx, pgx.TxOptions{}, extend)
	}
	if err != nil {
		return err
	}
	logging.With(ctx, u.log).Info().Str("plan_id", rec.PlanID).Time("expires_at", sub.ExpiresAt).Msg("subscription extended")

	if u.notifier != nil {
		if err := u.notifier.NotifyPaymentSucceeded(ctx, rec, plan); err != nil {
			u.log.Warn().Err(err).Msg("payment notification failed")
		}
	}
	return nil
}

func (u *paymentUC) SumByPeriod(ctx context.Context, period string) (int64, error) {
	return u.payments.SumByPeriod(ctx, nil, period)
}
