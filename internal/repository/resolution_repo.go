package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/evetabi/betledger/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// resolutionRow is the table shape; winning ids live in a text[] column and
// the diagnostic payload in jsonb.
type resolutionRow struct {
	ID               uuid.UUID       `db:"id"`
	EventID          uuid.UUID       `db:"event_id"`
	WinningOptionIDs pq.StringArray  `db:"winning_option_ids"`
	Source           string          `db:"source"`
	Data             []byte          `db:"data"`
	TotalWinners     int             `db:"total_winners"`
	TotalPayout      decimal.Decimal `db:"total_payout"`
	ResolvedAt       time.Time       `db:"resolved_at"`
}

func (r *resolutionRow) toDomain() *domain.Resolution {
	res := &domain.Resolution{
		ID:               r.ID,
		EventID:          r.EventID,
		WinningOptionIDs: []string(r.WinningOptionIDs),
		Source:           domain.ResolutionSource(r.Source),
		TotalWinners:     r.TotalWinners,
		TotalPayout:      r.TotalPayout,
		ResolvedAt:       r.ResolvedAt,
	}
	if len(r.Data) > 0 {
		res.Data = json.RawMessage(r.Data)
	}
	if res.WinningOptionIDs == nil {
		res.WinningOptionIDs = []string{}
	}
	return res
}

// GetResolution fetches the single resolution of an event.
func (s *PostgresStore) GetResolution(ctx context.Context, eventID uuid.UUID) (*domain.Resolution, error) {
	var row resolutionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, event_id, winning_option_ids, source, data, total_winners, total_payout, resolved_at
		FROM resolutions
		WHERE event_id = $1`,
		eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrResolutionNotFound
		}
		return nil, fmt.Errorf("resolution_repo.GetResolution: %w", err)
	}
	return row.toDomain(), nil
}

// InsertResolution writes the resolution row. The unique constraint on
// event_id backs up the status guard.
func (t *pgTx) InsertResolution(ctx context.Context, r *domain.Resolution) error {
	data := r.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO resolutions
			(id, event_id, winning_option_ids, source, data, total_winners, total_payout, resolved_at)
		VALUES
			($1, $2, $3, $4, $5::jsonb, $6, $7, $8)`,
		r.ID, r.EventID, pq.Array(r.WinningOptionIDs), string(r.Source), string(data),
		r.TotalWinners, r.TotalPayout, r.ResolvedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyResolved
		}
		return fmt.Errorf("resolution_repo.InsertResolution: %w", err)
	}
	return nil
}

// isUniqueViolation reports a PostgreSQL unique_violation (SQLSTATE 23505)
// from either driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
