package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/evetabi/betledger/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const betColumns = `id, event_id, option_id, user_id, amount, status, payout, source,
	external_ref, funded, placed_at, settled_at`

// ListBetsByUser returns a user's bet history, paginated.
func (s *PostgresStore) ListBetsByUser(ctx context.Context, userID int64, limit, offset int) ([]*domain.Bet, error) {
	var bets []*domain.Bet
	err := s.db.SelectContext(ctx, &bets,
		`SELECT `+betColumns+` FROM bets WHERE user_id = $1 ORDER BY placed_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("bet_repo.ListBetsByUser: %w", err)
	}
	return bets, nil
}

// ListBetsByEvent returns every bet of an event regardless of status.
func (s *PostgresStore) ListBetsByEvent(ctx context.Context, eventID uuid.UUID) ([]*domain.Bet, error) {
	var bets []*domain.Bet
	err := s.db.SelectContext(ctx, &bets,
		`SELECT `+betColumns+` FROM bets WHERE event_id = $1 ORDER BY placed_at ASC`,
		eventID)
	if err != nil {
		return nil, fmt.Errorf("bet_repo.ListBetsByEvent: %w", err)
	}
	return bets, nil
}

// InsertBet inserts a new bet inside the transaction.
func (t *pgTx) InsertBet(ctx context.Context, b *domain.Bet) error {
	query := `
		INSERT INTO bets
			(` + betColumns + `)
		VALUES
			(:id, :event_id, :option_id, :user_id, :amount, :status, :payout, :source,
			 :external_ref, :funded, :placed_at, :settled_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, b); err != nil {
		return fmt.Errorf("bet_repo.InsertBet: %w", err)
	}
	return nil
}

// FundBet flips funded on an active external bet once its charge is paid.
func (t *pgTx) FundBet(ctx context.Context, betID uuid.UUID) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE bets SET funded = TRUE WHERE id = $1 AND status = 'active' AND NOT funded`, betID)
	if err != nil {
		return fmt.Errorf("bet_repo.FundBet: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return fmt.Errorf("bet_repo.FundBet: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("bet_repo.FundBet: bet %s: %w", betID, domain.ErrAlreadyResolved)
	}
	return nil
}

// ActiveBets returns the active bets of an event. Callers hold the event lock,
// so no new bet can join the set while settlement runs.
func (t *pgTx) ActiveBets(ctx context.Context, eventID uuid.UUID) ([]*domain.Bet, error) {
	var bets []*domain.Bet
	err := t.tx.SelectContext(ctx, &bets,
		`SELECT `+betColumns+` FROM bets WHERE event_id = $1 AND status = 'active' ORDER BY placed_at ASC`,
		eventID)
	if err != nil {
		return nil, fmt.Errorf("bet_repo.ActiveBets: %w", err)
	}
	return bets, nil
}

// SettleBet moves an active bet to its terminal status.
func (t *pgTx) SettleBet(ctx context.Context, betID uuid.UUID, status domain.BetStatus, payout *decimal.Decimal, now time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE bets
		SET status     = $1,
		    payout     = $2,
		    settled_at = $3
		WHERE id = $4 AND status = 'active'`,
		string(status), payout, now, betID)
	if err != nil {
		return fmt.Errorf("bet_repo.SettleBet: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return fmt.Errorf("bet_repo.SettleBet: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("bet_repo.SettleBet: bet %s: %w", betID, domain.ErrAlreadyResolved)
	}
	return nil
}
