package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evetabi/betledger/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const eventColumns = `id, title, description, chat_id, creator_id, deadline, resolution_date,
	min_stake, max_stake, currency, status, total_pool, commission_accrued, auto_resolve,
	created_at, updated_at, resolved_at`

// ──────────────────────────────────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────────────────────────────────

func getEvent(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID, lock bool) (*domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var e domain.Event
	if err := sqlx.GetContext(ctx, q, &e, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrEventNotFound
		}
		return nil, fmt.Errorf("event_repo.GetEvent: %w", err)
	}
	return &e, nil
}

// GetEvent fetches an event by its primary key.
func (s *PostgresStore) GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	return getEvent(ctx, s.db, id, false)
}

// ListOptions returns the options of an event in display order.
func (s *PostgresStore) ListOptions(ctx context.Context, eventID uuid.UUID) ([]*domain.Option, error) {
	var opts []*domain.Option
	err := s.db.SelectContext(ctx, &opts, `
		SELECT event_id, id, text, value, position, total_bets, total_amount
		FROM event_options
		WHERE event_id = $1
		ORDER BY position ASC`,
		eventID)
	if err != nil {
		return nil, fmt.Errorf("event_repo.ListOptions: %w", err)
	}
	return opts, nil
}

// ListEvents returns events filtered by status and chat, newest first.
func (s *PostgresStore) ListEvents(ctx context.Context, f EventFilter) ([]*domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	var events []*domain.Event
	err := s.db.SelectContext(ctx, &events, `
		SELECT `+eventColumns+`
		FROM events
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = 0  OR chat_id = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		string(f.Status), f.ChatID, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("event_repo.ListEvents: %w", err)
	}
	return events, nil
}

// ListDueEvents returns active auto-resolve events due for settlement.
func (s *PostgresStore) ListDueEvents(ctx context.Context, now time.Time) ([]*domain.Event, error) {
	var events []*domain.Event
	err := s.db.SelectContext(ctx, &events, `
		SELECT `+eventColumns+`
		FROM events
		WHERE status = 'active' AND auto_resolve AND resolution_date <= $1
		ORDER BY resolution_date ASC`,
		now)
	if err != nil {
		return nil, fmt.Errorf("event_repo.ListDueEvents: %w", err)
	}
	return events, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Writes
// ──────────────────────────────────────────────────────────────────────────────

// InsertEvent inserts a new event row.
func (t *pgTx) InsertEvent(ctx context.Context, e *domain.Event) error {
	query := `
		INSERT INTO events
			(` + eventColumns + `)
		VALUES
			(:id, :title, :description, :chat_id, :creator_id, :deadline, :resolution_date,
			 :min_stake, :max_stake, :currency, :status, :total_pool, :commission_accrued, :auto_resolve,
			 :created_at, :updated_at, :resolved_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, e); err != nil {
		return fmt.Errorf("event_repo.InsertEvent: %w", err)
	}
	return nil
}

// InsertOption inserts one option of an event.
func (t *pgTx) InsertOption(ctx context.Context, o *domain.Option) error {
	query := `
		INSERT INTO event_options
			(event_id, id, text, value, position, total_bets, total_amount)
		VALUES
			(:event_id, :id, :text, :value, :position, :total_bets, :total_amount)`
	if _, err := t.tx.NamedExecContext(ctx, query, o); err != nil {
		return fmt.Errorf("event_repo.InsertOption: %w", err)
	}
	return nil
}

// GetEvent reads an event inside the transaction without locking it.
func (t *pgTx) GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	return getEvent(ctx, t.tx, id, false)
}

// LockEvent reads the event row FOR UPDATE.
func (t *pgTx) LockEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	return getEvent(ctx, t.tx, id, true)
}

// GetOption fetches one option of an event.
func (t *pgTx) GetOption(ctx context.Context, eventID uuid.UUID, optionID string) (*domain.Option, error) {
	var o domain.Option
	err := t.tx.GetContext(ctx, &o, `
		SELECT event_id, id, text, value, position, total_bets, total_amount
		FROM event_options
		WHERE event_id = $1 AND id = $2`,
		eventID, optionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOptionNotFound
		}
		return nil, fmt.Errorf("event_repo.GetOption: %w", err)
	}
	return &o, nil
}

// IncrementPool applies the stake delta. The event update doubles as the
// status/deadline guard so a settlement that already flipped the status wins.
func (t *pgTx) IncrementPool(ctx context.Context, eventID uuid.UUID, optionID string, stake, commission decimal.Decimal, now time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE events
		SET total_pool         = total_pool + $1,
		    commission_accrued = commission_accrued + $2,
		    updated_at         = $3
		WHERE id = $4 AND status = 'active' AND deadline > $3`,
		stake.Sub(commission), commission, now, eventID)
	if err != nil {
		return fmt.Errorf("event_repo.IncrementPool event: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return fmt.Errorf("event_repo.IncrementPool event: %w", err)
	}
	if n == 0 {
		return domain.ErrEventNotActive
	}

	res, err = t.tx.ExecContext(ctx, `
		UPDATE event_options
		SET total_bets   = total_bets + 1,
		    total_amount = total_amount + $1
		WHERE event_id = $2 AND id = $3`,
		stake, eventID, optionID)
	if err != nil {
		return fmt.Errorf("event_repo.IncrementPool option: %w", err)
	}
	if n, err = rowsAffected(res); err != nil {
		return fmt.Errorf("event_repo.IncrementPool option: %w", err)
	}
	if n == 0 {
		return domain.ErrOptionNotFound
	}
	return nil
}

// MarkEventResolved flips an active event to resolved.
func (t *pgTx) MarkEventResolved(ctx context.Context, id uuid.UUID, now time.Time) error {
	return t.closeEvent(ctx, id, domain.EventStatusResolved, now)
}

// MarkEventCancelled flips an active event to cancelled.
func (t *pgTx) MarkEventCancelled(ctx context.Context, id uuid.UUID, now time.Time) error {
	return t.closeEvent(ctx, id, domain.EventStatusCancelled, now)
}

func (t *pgTx) closeEvent(ctx context.Context, id uuid.UUID, to domain.EventStatus, now time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE events
		SET status      = $1,
		    resolved_at = $2,
		    updated_at  = $2
		WHERE id = $3 AND status = 'active'`,
		string(to), now, id)
	if err != nil {
		return fmt.Errorf("event_repo.closeEvent: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return fmt.Errorf("event_repo.closeEvent: %w", err)
	}
	if n == 0 {
		return domain.ErrAlreadyResolved
	}
	return nil
}
