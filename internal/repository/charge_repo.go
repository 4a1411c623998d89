package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evetabi/betledger/internal/domain"
)

const chargeColumns = `id, reference, user_id, amount, currency, purpose, status, event_id, option_id,
	bet_id, invoice_url, provider_charge_id, created_at, confirmed_at`

// GetCharge fetches a charge by its payload reference.
func (s *PostgresStore) GetCharge(ctx context.Context, reference string) (*domain.Charge, error) {
	var c domain.Charge
	err := s.db.GetContext(ctx, &c, `SELECT `+chargeColumns+` FROM charges WHERE reference = $1`, reference)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrChargeNotFound
		}
		return nil, fmt.Errorf("charge_repo.GetCharge: %w", err)
	}
	return &c, nil
}

// ListCharges returns charges filtered by status ("" for all), newest first.
func (s *PostgresStore) ListCharges(ctx context.Context, status domain.ChargeStatus, limit, offset int) ([]*domain.Charge, error) {
	var charges []*domain.Charge
	err := s.db.SelectContext(ctx, &charges, `
		SELECT `+chargeColumns+`
		FROM charges
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("charge_repo.ListCharges: %w", err)
	}
	return charges, nil
}

// ListPendingCharges returns pending charges created before olderThan.
func (s *PostgresStore) ListPendingCharges(ctx context.Context, olderThan time.Time) ([]*domain.Charge, error) {
	var charges []*domain.Charge
	err := s.db.SelectContext(ctx, &charges, `
		SELECT `+chargeColumns+`
		FROM charges
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC`,
		olderThan)
	if err != nil {
		return nil, fmt.Errorf("charge_repo.ListPendingCharges: %w", err)
	}
	return charges, nil
}

// InsertCharge records a new pending charge.
func (t *pgTx) InsertCharge(ctx context.Context, c *domain.Charge) error {
	query := `
		INSERT INTO charges
			(` + chargeColumns + `)
		VALUES
			(:id, :reference, :user_id, :amount, :currency, :purpose, :status, :event_id, :option_id,
			 :bet_id, :invoice_url, :provider_charge_id, :created_at, :confirmed_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, c); err != nil {
		return fmt.Errorf("charge_repo.InsertCharge: %w", err)
	}
	return nil
}

// ConfirmCharge is the idempotency point for payment callbacks. The row is
// locked first so the status it leaves is reported exactly; only a pending or
// expired charge is moved to confirmed.
func (t *pgTx) ConfirmCharge(ctx context.Context, reference, providerChargeID string, now time.Time) (*domain.Charge, domain.ChargeStatus, error) {
	var c domain.Charge
	err := t.tx.GetContext(ctx, &c,
		`SELECT `+chargeColumns+` FROM charges WHERE reference = $1 FOR UPDATE`, reference)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", domain.ErrChargeNotFound
		}
		return nil, "", fmt.Errorf("charge_repo.ConfirmCharge lookup: %w", err)
	}
	prev := c.Status
	if !prev.Payable() {
		return &c, prev, domain.ErrChargeNotPending
	}

	err = t.tx.GetContext(ctx, &c, `
		UPDATE charges
		SET status             = 'confirmed',
		    provider_charge_id = $1,
		    confirmed_at       = $2
		WHERE reference = $3 AND status IN ('pending', 'expired')
		RETURNING `+chargeColumns,
		providerChargeID, now, reference)
	if err != nil {
		return nil, "", fmt.Errorf("charge_repo.ConfirmCharge: %w", err)
	}
	return &c, prev, nil
}

// SetChargeInvoice stores the checkout link of a charge.
func (t *pgTx) SetChargeInvoice(ctx context.Context, reference, url string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE charges SET invoice_url = $1 WHERE reference = $2`, url, reference)
	if err != nil {
		return fmt.Errorf("charge_repo.SetChargeInvoice: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return fmt.Errorf("charge_repo.SetChargeInvoice: %w", err)
	}
	if n == 0 {
		return domain.ErrChargeNotFound
	}
	return nil
}

// UpdateChargeStatus moves a charge between two statuses.
func (t *pgTx) UpdateChargeStatus(ctx context.Context, reference string, from, to domain.ChargeStatus) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE charges SET status = $1 WHERE reference = $2 AND status = $3`,
		string(to), reference, string(from))
	if err != nil {
		return fmt.Errorf("charge_repo.UpdateChargeStatus: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return fmt.Errorf("charge_repo.UpdateChargeStatus: %w", err)
	}
	if n == 0 {
		return domain.ErrChargeNotPending
	}
	return nil
}
