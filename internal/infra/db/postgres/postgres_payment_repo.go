package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"ai-subscription-payments/internal/domain"
	"ai-subscription-payments/internal/domain/model"
	"ai-subscription-payments/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, user_id, provider, payment_method, amount, currency, status, description, payment_id, transaction_id, plan_id, subscription_id, metadata, created_at, updated_at, completed_at, failed_at`

// terminalSet guards every conditional transition: a record in one of these
// states never changes again.
const terminalSet = `('succeeded','failed','canceled','expired')`

func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, rec *model.PaymentRecord) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO payments (
  ` + paymentColumns + `
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
) ON CONFLICT (id) DO UPDATE SET
  payment_method=$4, description=$8, transaction_id=$10, metadata=$13, updated_at=$15;`

	_, err = execSQL(ctx, r.pool, tx, q,
		rec.ID, rec.UserID, rec.Provider, rec.PaymentMethod, rec.Amount, rec.Currency,
		rec.Status, rec.Description, rec.PaymentID, nullable(rec.TransactionID),
		nullable(rec.PlanID), nullable(rec.SubscriptionID), meta,
		rec.CreatedAt, rec.UpdatedAt, rec.CompletedAt, rec.FailedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentRecord, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) FindByProviderPaymentID(ctx context.Context, tx repository.Tx, provider, paymentID string) (*model.PaymentRecord, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE provider=$1 AND payment_id=$2 LIMIT 1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, provider, paymentID)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

// MarkSucceeded is the one-shot success transition. The condition makes it
// idempotent under at-least-once webhook delivery: only the first delivery
// moves the row and reports true; every replay reports false.
func (r *paymentRepo) MarkSucceeded(ctx context.Context, tx repository.Tx, provider, paymentID, transactionID string) (bool, error) {
	const q = `
    UPDATE payments
       SET status = 'succeeded',
           transaction_id = COALESCE(NULLIF($3,''), transaction_id),
           completed_at = NOW(),
           updated_at = NOW()
     WHERE provider = $1
       AND payment_id = $2
       AND status NOT IN ` + terminalSet + `;`

	cmd, err := execSQL(ctx, r.pool, tx, q, provider, paymentID, transactionID)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *paymentRepo) UpdateStatusIfNotTerminal(ctx context.Context, tx repository.Tx, provider, paymentID string, status model.PaymentStatus) (bool, error) {
	const q = `
    UPDATE payments
       SET status = $3,
           failed_at = CASE WHEN $3 = 'failed' THEN NOW() ELSE failed_at END,
           updated_at = NOW()
     WHERE provider = $1
       AND payment_id = $2
       AND status NOT IN ` + terminalSet + `;`

	cmd, err := execSQL(ctx, r.pool, tx, q, provider, paymentID, string(status))
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *paymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE status IN ('pending','processing','requires_action') AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, olderThan, limit)
	if err != nil {
		switch err {
		case pgx.ErrNoRows:
			return nil, domain.ErrNotFound
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.PaymentRecord
	for rows.Next() {
		rec, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *paymentRepo) SumByPeriod(ctx context.Context, tx repository.Tx, period string) (int64, error) {
	const q = `SELECT COALESCE(SUM(amount),0) FROM payments WHERE status='succeeded' AND completed_at >= DATE_TRUNC($1, NOW());`
	row, err := pickRow(ctx, r.pool, tx, q, period)
	if err != nil {
		return 0, err
	}
	var sum int64
	if err := row.Scan(&sum); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return sum, nil
}

func scanPayment(row pgx.Row) (*model.PaymentRecord, error) {
	rec := &model.PaymentRecord{}
	var txID, planID, subID *string
	var meta []byte
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Provider, &rec.PaymentMethod, &rec.Amount, &rec.Currency,
		&rec.Status, &rec.Description, &rec.PaymentID, &txID, &planID, &subID, &meta,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.CompletedAt, &rec.FailedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	rec.TransactionID = deref(txID)
	rec.PlanID = deref(planID)
	rec.SubscriptionID = deref(subID)
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &rec.Metadata)
	}
	return rec, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
