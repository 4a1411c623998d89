package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/betledger/internal/domain"
	"github.com/shopspring/decimal"
)

// counterColumn whitelists the counter names that may be interpolated into
// SQL. CounterNone maps to "".
func counterColumn(c domain.Counter) (string, error) {
	switch c {
	case domain.CounterNone:
		return "", nil
	case domain.CounterDeposited, domain.CounterWon, domain.CounterLost, domain.CounterWithdrawn:
		return string(c), nil
	}
	return "", fmt.Errorf("unknown ledger counter %q", c)
}

// ──────────────────────────────────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────────────────────────────────

// GetAccount fetches a user's ledger account. A user who was never credited
// gets an empty account rather than an error.
func (s *PostgresStore) GetAccount(ctx context.Context, userID int64) (*domain.LedgerAccount, error) {
	var a domain.LedgerAccount
	err := s.db.GetContext(ctx, &a, `
		SELECT user_id, balance, total_deposited, total_won, total_lost, total_withdrawn, created_at, updated_at
		FROM ledger_accounts
		WHERE user_id = $1`,
		userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.EmptyAccount(userID), nil
		}
		return nil, fmt.Errorf("ledger_repo.GetAccount: %w", err)
	}
	return &a, nil
}

// ListTransactions returns paginated ledger history, newest first.
func (s *PostgresStore) ListTransactions(ctx context.Context, userID int64, limit, offset int) ([]*domain.LedgerTransaction, error) {
	var txns []*domain.LedgerTransaction
	err := s.db.SelectContext(ctx, &txns, `
		SELECT id, user_id, type, amount, balance_before, balance_after, reference, description, created_at
		FROM ledger_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ledger_repo.ListTransactions: %w", err)
	}
	return txns, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Writes
// ──────────────────────────────────────────────────────────────────────────────

// CreditAccount adds amount to the balance, creating the account on first use.
func (t *pgTx) CreditAccount(ctx context.Context, userID int64, amount decimal.Decimal, counter domain.Counter) (decimal.Decimal, decimal.Decimal, error) {
	col, err := counterColumn(counter)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("ledger_repo.CreditAccount: %w", err)
	}

	insertCounter, updateCounter := "", ""
	if col != "" {
		insertCounter = ", " + col
		updateCounter = fmt.Sprintf(", %[1]s = ledger_accounts.%[1]s + EXCLUDED.%[1]s", col)
	}
	insertValue := ""
	if col != "" {
		insertValue = ", $2"
	}

	query := fmt.Sprintf(`
		INSERT INTO ledger_accounts (user_id, balance%s, created_at, updated_at)
		VALUES ($1, $2%s, now(), now())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = ledger_accounts.balance + EXCLUDED.balance%s,
		    updated_at = now()
		RETURNING balance`,
		insertCounter, insertValue, updateCounter)

	var after decimal.Decimal
	if err = t.tx.GetContext(ctx, &after, query, userID, amount); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("ledger_repo.CreditAccount: %w", err)
	}
	return after.Sub(amount), after, nil
}

// DebitAccount is a single conditional update: it only matches when the
// balance covers amount, so concurrent debits can never overdraw.
func (t *pgTx) DebitAccount(ctx context.Context, userID int64, amount decimal.Decimal, counter domain.Counter) (decimal.Decimal, decimal.Decimal, error) {
	col, err := counterColumn(counter)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("ledger_repo.DebitAccount: %w", err)
	}
	setCounter := ""
	if col != "" {
		setCounter = fmt.Sprintf(", %[1]s = %[1]s + $1", col)
	}

	var after decimal.Decimal
	err = t.tx.GetContext(ctx, &after, fmt.Sprintf(`
		UPDATE ledger_accounts
		SET balance = balance - $1%s,
		    updated_at = now()
		WHERE user_id = $2 AND balance >= $1
		RETURNING balance`, setCounter),
		amount, userID)
	if err == nil {
		return after.Add(amount), after, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("ledger_repo.DebitAccount: %w", err)
	}

	// Nothing matched: report the balance that was too low.
	balance := decimal.Zero
	err = t.tx.GetContext(ctx, &balance, `SELECT balance FROM ledger_accounts WHERE user_id = $1`, userID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("ledger_repo.DebitAccount balance: %w", err)
	}
	return balance, balance, &domain.InsufficientFundsError{UserID: userID, Balance: balance, Required: amount}
}

// AddToCounter bumps a cumulative counter without moving money.
func (t *pgTx) AddToCounter(ctx context.Context, userID int64, counter domain.Counter, amount decimal.Decimal) error {
	col, err := counterColumn(counter)
	if err != nil {
		return fmt.Errorf("ledger_repo.AddToCounter: %w", err)
	}
	if col == "" {
		return fmt.Errorf("ledger_repo.AddToCounter: counter %q has no column", counter)
	}
	_, err = t.tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO ledger_accounts (user_id, balance, %[1]s, created_at, updated_at)
		VALUES ($1, 0, $2, now(), now())
		ON CONFLICT (user_id) DO UPDATE
		SET %[1]s = ledger_accounts.%[1]s + EXCLUDED.%[1]s,
		    updated_at = now()`, col),
		userID, amount)
	if err != nil {
		return fmt.Errorf("ledger_repo.AddToCounter: %w", err)
	}
	return nil
}

// InsertTransaction appends an audit record.
func (t *pgTx) InsertTransaction(ctx context.Context, txn *domain.LedgerTransaction) error {
	query := `
		INSERT INTO ledger_transactions
			(id, user_id, type, amount, balance_before, balance_after, reference, description, created_at)
		VALUES
			(:id, :user_id, :type, :amount, :balance_before, :balance_after, :reference, :description, :created_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, txn); err != nil {
		return fmt.Errorf("ledger_repo.InsertTransaction: %w", err)
	}
	return nil
}
