package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/evetabi/betledger/internal/domain"
	"github.com/evetabi/betledger/internal/repository/memstore"
	"github.com/evetabi/betledger/internal/service"
)

// ── Fakes ─────────────────────────────────────────────────────────────────────

type recordingNotifier struct {
	mu   sync.Mutex
	msgs map[int64][]string
}

func (n *recordingNotifier) Notify(_ context.Context, userID int64, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.msgs == nil {
		n.msgs = make(map[int64][]string)
	}
	n.msgs[userID] = append(n.msgs[userID], text)
}

func (n *recordingNotifier) count(userID int64) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs[userID])
}

type fakeGateway struct {
	mu       sync.Mutex
	invoices []domain.InvoiceRequest
	refunds  []string
	fail     error
	// onInvoice runs before every invoice is issued.
	onInvoice func(req domain.InvoiceRequest)
}

func (g *fakeGateway) CreateInvoice(_ context.Context, req domain.InvoiceRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.onInvoice != nil {
		g.onInvoice(req)
	}
	if g.fail != nil {
		return "", g.fail
	}
	g.invoices = append(g.invoices, req)
	return "https://t.me/$" + req.Reference, nil
}

func (g *fakeGateway) Refund(_ context.Context, _ int64, providerChargeID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		return g.fail
	}
	g.refunds = append(g.refunds, providerChargeID)
	return nil
}

// ── Environment ───────────────────────────────────────────────────────────────

type env struct {
	store    *memstore.Store
	ledger   *service.LedgerService
	events   *service.EventService
	bets     *service.BetService
	settle   *service.SettlementService
	gateway  *fakeGateway
	notifier *recordingNotifier
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEnv(t *testing.T) *env {
	return newEnvWithCommission(t, 0)
}

func newEnvWithCommission(t *testing.T, rate float64) *env {
	t.Helper()
	log := discardLogger()
	store := memstore.New()
	ledger := service.NewLedgerService(store, log)
	events := service.NewEventService(store, service.EventServiceOptions{
		CacheTTL: time.Minute, DefaultMinStake: 10, DefaultMaxStake: 100,
	}, log)
	gw := &fakeGateway{}
	bets := service.NewBetService(store, ledger, events, gw, rate, log)
	settle := service.NewSettlementService(store, ledger, events, log)
	events.SetRefunder(settle)
	n := &recordingNotifier{}
	settle.SetNotifier(n)
	return &env{store: store, ledger: ledger, events: events, bets: bets, settle: settle, gateway: gw, notifier: n}
}

func (e *env) fund(t *testing.T, userID, amount int64) {
	t.Helper()
	if _, err := e.ledger.Credit(context.Background(), domain.LedgerEntry{
		UserID: userID, Amount: decimal.NewFromInt(amount), Type: domain.TxDeposit, Reference: "seed",
	}); err != nil {
		t.Fatalf("fund %d: %v", userID, err)
	}
}

func (e *env) balance(t *testing.T, userID int64) decimal.Decimal {
	t.Helper()
	acc, err := e.ledger.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance %d: %v", userID, err)
	}
	return acc.Balance
}

// createEvent creates an event with options X and Y, stakes 10..100.
func (e *env) createEvent(t *testing.T, currency domain.Currency) *domain.EventDetail {
	t.Helper()
	d, err := e.events.CreateEvent(context.Background(), domain.CreateEventRequest{
		Title:    "Who wins the derby?",
		Deadline: time.Now().Add(time.Hour),
		MinStake: decimal.NewFromInt(10),
		MaxStake: decimal.NewFromInt(100),
		Currency: currency,
		Options:  []domain.OptionSpec{{ID: "X", Text: "Home"}, {ID: "Y", Text: "Away"}},
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	return d
}

func (e *env) bet(t *testing.T, eventID uuid.UUID, optionID string, userID, amount int64) *domain.Bet {
	t.Helper()
	res, err := e.bets.PlaceBet(context.Background(), domain.PlaceBetRequest{
		EventID: eventID, OptionID: optionID, UserID: userID, Amount: decimal.NewFromInt(amount),
	})
	if err != nil {
		t.Fatalf("PlaceBet user %d: %v", userID, err)
	}
	return res.Bet
}

func (e *env) betByID(t *testing.T, eventID, betID uuid.UUID) *domain.Bet {
	t.Helper()
	bets, err := e.store.ListBetsByEvent(context.Background(), eventID)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range bets {
		if b.ID == betID {
			return b
		}
	}
	t.Fatalf("bet %s not found", betID)
	return nil
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("err = %v, want %v", err, target)
	}
}

// stake places an externally funded bet and returns it with its charge.
func (e *env) stake(t *testing.T, eventID uuid.UUID, optionID string, userID, amount int64) *domain.PlaceBetResult {
	t.Helper()
	res, err := e.bets.PlaceBet(context.Background(), domain.PlaceBetRequest{
		EventID: eventID, OptionID: optionID, UserID: userID, Amount: decimal.NewFromInt(amount),
		Source: domain.SourceExternalPayment,
	})
	if err != nil {
		t.Fatalf("PlaceBet external user %d: %v", userID, err)
	}
	return res
}

func topUp(userID, amount int64) service.TopUpRequest {
	return service.TopUpRequest{UserID: userID, Amount: decimal.NewFromInt(amount), Currency: domain.CurrencyStars}
}

func dec(n int64) decimal.Decimal { return decimal.NewFromInt(n) }
