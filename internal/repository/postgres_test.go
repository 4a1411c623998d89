package repository_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/evetabi/betledger/internal/domain"
	"github.com/evetabi/betledger/internal/repository"
)

// Runs against a real server only when POSTGRES_TEST_DSN is set. Every test
// works on fresh ids, so the database can be reused between runs.
func openStore(t *testing.T) *repository.PostgresStore {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	s, err := repository.OpenPostgres(ctx, "pgx", dsn, repository.PoolConfig{
		MaxOpenConns: 20, MaxIdleConns: 5, ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := repository.RunMigrations(ctx, s.DB(), "../../migrations", log); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

var nextUser atomic.Int64

func init() { nextUser.Store(time.Now().UnixNano() / 1000) }

func newUserID() int64 { return nextUser.Add(1) }

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func credit(t *testing.T, s *repository.PostgresStore, userID, amount int64) {
	t.Helper()
	ctx := context.Background()
	err := s.WithTx(ctx, func(tx repository.Tx) error {
		_, _, err := tx.CreditAccount(ctx, userID, d(amount), domain.CounterDeposited)
		return err
	})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
}

func seedEvent(t *testing.T, s *repository.PostgresStore, deadline time.Time) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id := uuid.New()
	now := time.Now().UTC()
	err := s.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.InsertEvent(ctx, &domain.Event{
			ID: id, Title: "pg test", Deadline: deadline, ResolutionDate: deadline,
			MinStake: d(1), MaxStake: d(100), Currency: domain.CurrencyStars,
			Status: domain.EventStatusActive, TotalPool: decimal.Zero, CommissionAccrued: decimal.Zero,
			CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}
		return tx.InsertOption(ctx, &domain.Option{EventID: id, ID: "X", Text: "X", TotalAmount: decimal.Zero})
	})
	if err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return id
}

func TestPostgres_DebitIsConditional(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	user := newUserID()
	credit(t, s, user, 30)

	err := s.WithTx(ctx, func(tx repository.Tx) error {
		_, _, err := tx.DebitAccount(ctx, user, d(50), domain.CounterNone)
		return err
	})
	var short *domain.InsufficientFundsError
	if !errors.As(err, &short) || !short.Balance.Equal(d(30)) || !short.Shortfall().Equal(d(20)) {
		t.Fatalf("err = %v, want shortfall 20 on balance 30", err)
	}
	acc, _ := s.GetAccount(ctx, user)
	if !acc.Balance.Equal(d(30)) {
		t.Errorf("balance = %s, want 30", acc.Balance)
	}

	// A user without an account has nothing to debit.
	err = s.WithTx(ctx, func(tx repository.Tx) error {
		_, _, err := tx.DebitAccount(ctx, newUserID(), d(1), domain.CounterNone)
		return err
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Errorf("unknown account err = %v", err)
	}
}

func TestPostgres_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	user := newUserID()
	credit(t, s, user, 100)

	const workers = 10
	var (
		wg       sync.WaitGroup
		ok, fail atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithTx(ctx, func(tx repository.Tx) error {
				_, _, err := tx.DebitAccount(ctx, user, d(30), domain.CounterNone)
				return err
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrInsufficientFunds):
				fail.Add(1)
			default:
				t.Errorf("debit: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok.Load() != 3 || fail.Load() != workers-3 {
		t.Errorf("succeeded = %d, rejected = %d", ok.Load(), fail.Load())
	}
	acc, _ := s.GetAccount(ctx, user)
	if !acc.Balance.Equal(d(10)) {
		t.Errorf("balance = %s, want 10", acc.Balance)
	}
}

func TestPostgres_ConcurrentPoolIncrements(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id := seedEvent(t, s, time.Now().Add(time.Hour))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithTx(ctx, func(tx repository.Tx) error {
				return tx.IncrementPool(ctx, id, "X", d(5), decimal.Zero, time.Now())
			})
			if err != nil {
				t.Errorf("increment: %v", err)
			}
		}()
	}
	wg.Wait()

	ev, _ := s.GetEvent(ctx, id)
	opts, _ := s.ListOptions(ctx, id)
	if !ev.TotalPool.Equal(d(100)) || len(opts) != 1 || !opts[0].TotalAmount.Equal(d(100)) || opts[0].TotalBets != 20 {
		t.Errorf("pool = %s, options = %+v", ev.TotalPool, opts)
	}
}

func TestPostgres_IncrementPoolGuardsStatusAndDeadline(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	id := seedEvent(t, s, now.Add(time.Hour))

	inc := func(at time.Time) error {
		return s.WithTx(ctx, func(tx repository.Tx) error {
			return tx.IncrementPool(ctx, id, "X", d(10), decimal.Zero, at)
		})
	}
	if err := inc(now); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := inc(now.Add(2 * time.Hour)); !errors.Is(err, domain.ErrEventNotActive) {
		t.Errorf("after deadline err = %v, want ErrEventNotActive", err)
	}

	resolve := func() error {
		return s.WithTx(ctx, func(tx repository.Tx) error { return tx.MarkEventResolved(ctx, id, now) })
	}
	if err := resolve(); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := inc(now); !errors.Is(err, domain.ErrEventNotActive) {
		t.Errorf("after resolve err = %v, want ErrEventNotActive", err)
	}
	if err := resolve(); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Errorf("second resolve err = %v, want ErrAlreadyResolved", err)
	}
	ev, _ := s.GetEvent(ctx, id)
	if ev.Status != domain.EventStatusResolved || !ev.TotalPool.Equal(d(10)) {
		t.Errorf("event = %s pool %s", ev.Status, ev.TotalPool)
	}
}

func TestPostgres_SettleAndFundBetOnce(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id := seedEvent(t, s, time.Now().Add(time.Hour))
	ref := domain.NewChargeReference(domain.PurposeBetStake)
	bet := &domain.Bet{
		ID: uuid.New(), EventID: id, OptionID: "X", UserID: newUserID(), Amount: d(10),
		Status: domain.BetStatusActive, Source: domain.SourceExternalPayment, ExternalRef: &ref,
		PlacedAt: time.Now().UTC(),
	}
	if err := s.WithTx(ctx, func(tx repository.Tx) error { return tx.InsertBet(ctx, bet) }); err != nil {
		t.Fatalf("insert: %v", err)
	}

	fund := func() error {
		return s.WithTx(ctx, func(tx repository.Tx) error { return tx.FundBet(ctx, bet.ID) })
	}
	if err := fund(); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := fund(); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Errorf("second fund err = %v", err)
	}

	payout := d(25)
	settle := func() error {
		return s.WithTx(ctx, func(tx repository.Tx) error {
			return tx.SettleBet(ctx, bet.ID, domain.BetStatusWon, &payout, time.Now())
		})
	}
	if err := settle(); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if err := settle(); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Errorf("second settle err = %v", err)
	}
	bets, _ := s.ListBetsByEvent(ctx, id)
	if len(bets) != 1 || !bets[0].Funded || bets[0].Status != domain.BetStatusWon || !bets[0].Payout.Equal(payout) {
		t.Errorf("bets = %+v", bets)
	}
}

func TestPostgres_ConfirmChargeReplay(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	insert := func(status domain.ChargeStatus) string {
		ref := domain.NewChargeReference(domain.PurposeTopUp)
		err := s.WithTx(ctx, func(tx repository.Tx) error {
			return tx.InsertCharge(ctx, &domain.Charge{
				ID: uuid.New(), Reference: ref, UserID: newUserID(), Amount: d(20),
				Currency: domain.CurrencyStars, Purpose: domain.PurposeTopUp, Status: status,
				CreatedAt: time.Now().UTC(),
			})
		})
		if err != nil {
			t.Fatalf("insert charge: %v", err)
		}
		return ref
	}
	confirm := func(ref string) (domain.ChargeStatus, error) {
		var prev domain.ChargeStatus
		err := s.WithTx(ctx, func(tx repository.Tx) error {
			var err error
			_, prev, err = tx.ConfirmCharge(ctx, ref, "tg_1", time.Now())
			return err
		})
		return prev, err
	}

	ref := insert(domain.ChargePending)
	if prev, err := confirm(ref); err != nil || prev != domain.ChargePending {
		t.Fatalf("first confirm: prev=%q err=%v", prev, err)
	}
	if _, err := confirm(ref); !errors.Is(err, domain.ErrChargeNotPending) {
		t.Errorf("replay err = %v, want ErrChargeNotPending", err)
	}
	c, _ := s.GetCharge(ctx, ref)
	if c.Status != domain.ChargeConfirmed || c.ProviderChargeID == nil || *c.ProviderChargeID != "tg_1" {
		t.Errorf("charge = %+v", c)
	}

	late := insert(domain.ChargeExpired)
	if prev, err := confirm(late); err != nil || prev != domain.ChargeExpired {
		t.Errorf("expired confirm: prev=%q err=%v", prev, err)
	}

	if _, err := confirm(domain.NewChargeReference(domain.PurposeTopUp)); !errors.Is(err, domain.ErrChargeNotFound) {
		t.Errorf("unknown err = %v, want ErrChargeNotFound", err)
	}
}

func TestPostgres_AddToCounterRejectsNone(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	err := s.WithTx(ctx, func(tx repository.Tx) error {
		return tx.AddToCounter(ctx, newUserID(), domain.CounterNone, d(5))
	})
	if err == nil || strings.Contains(err.Error(), "%!") {
		t.Errorf("err = %v", err)
	}
}
