package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/evetabi/betledger/internal/domain"
)

func TestPlaceBet_ValidationOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev := e.createEvent(t, domain.CurrencyPoints)
	e.fund(t, 1, 1000)

	cases := []struct {
		name   string
		event  uuid.UUID
		option string
		amount int64
		want   error
	}{
		{"unknown event beats everything", uuid.New(), "nope", 1, domain.ErrEventNotActive},
		{"unknown option beats amount", ev.Event.ID, "nope", 1, domain.ErrOptionNotFound},
		{"below min", ev.Event.ID, "X", 9, domain.ErrAmountOutOfRange},
		{"above max", ev.Event.ID, "X", 101, domain.ErrAmountOutOfRange},
		{"zero", ev.Event.ID, "X", 0, domain.ErrInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.bets.PlaceBet(ctx, domain.PlaceBetRequest{
				EventID: tc.event, OptionID: tc.option, UserID: 1, Amount: dec(tc.amount),
			})
			wantErr(t, err, tc.want)
		})
	}
	if got := e.balance(t, 1); !got.Equal(dec(1000)) {
		t.Errorf("balance = %s after rejected bets", got)
	}
}

func TestPlaceBet_ResolvedEventNotActive(t *testing.T) {
	e := newEnv(t)
	ev := e.createEvent(t, domain.CurrencyPoints)
	e.fund(t, 1, 100)
	if _, err := e.settle.Resolve(context.Background(), domain.ResolveRequest{EventID: ev.Event.ID}); err != nil {
		t.Fatal(err)
	}
	// An unknown option on a closed event still reports the closed event.
	_, err := e.bets.PlaceBet(context.Background(), domain.PlaceBetRequest{
		EventID: ev.Event.ID, OptionID: "nope", UserID: 1, Amount: dec(20),
	})
	wantErr(t, err, domain.ErrEventNotActive)
}

func TestPlaceBet_DebitsAndBumpsPool(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev := e.createEvent(t, domain.CurrencyPoints)
	e.fund(t, 1, 100)
	e.fund(t, 2, 100)

	b := e.bet(t, ev.Event.ID, "X", 1, 30)
	e.bet(t, ev.Event.ID, "Y", 2, 50)
	e.bet(t, ev.Event.ID, "X", 2, 20)

	if b.Status != domain.BetStatusActive || b.Source != domain.SourceBalance {
		t.Errorf("bet = %+v", b)
	}
	if got := e.balance(t, 1); !got.Equal(dec(70)) {
		t.Errorf("user 1 balance = %s, want 70", got)
	}
	if got := e.balance(t, 2); !got.Equal(dec(30)) {
		t.Errorf("user 2 balance = %s, want 30", got)
	}

	d, err := e.events.GetEvent(ctx, ev.Event.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Event.TotalPool.Equal(dec(100)) {
		t.Errorf("pool = %s, want 100", d.Event.TotalPool)
	}
	if !d.StakedTotal().Equal(d.Event.TotalPool) {
		t.Errorf("options sum %s != pool %s", d.StakedTotal(), d.Event.TotalPool)
	}
	if x := d.Option("X"); !x.TotalAmount.Equal(dec(50)) || x.TotalBets != 2 {
		t.Errorf("option X = %+v", x)
	}

	txns, _ := e.ledger.History(ctx, 1, 10, 0)
	if len(txns) != 2 || txns[0].Type != domain.TxBet || txns[0].Reference != b.ID.String() {
		t.Errorf("history = %+v", txns)
	}
}

func TestPlaceBet_InsufficientFundsChangesNothing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev := e.createEvent(t, domain.CurrencyPoints)
	e.fund(t, 1, 30)

	_, err := e.bets.PlaceBet(ctx, domain.PlaceBetRequest{
		EventID: ev.Event.ID, OptionID: "X", UserID: 1, Amount: dec(50),
	})
	var short *domain.InsufficientFundsError
	if !errors.As(err, &short) || !short.Shortfall().Equal(dec(20)) {
		t.Fatalf("err = %v, want shortfall 20", err)
	}
	d, _ := e.events.GetEvent(ctx, ev.Event.ID)
	if !d.Event.TotalPool.IsZero() || !d.StakedTotal().IsZero() {
		t.Errorf("pool moved on failed bet: %s", d.Event.TotalPool)
	}
	if bets, _ := e.store.ListBetsByEvent(ctx, ev.Event.ID); len(bets) != 0 {
		t.Errorf("bets = %d, want 0", len(bets))
	}
}

func TestPlaceBet_CommissionAccrues(t *testing.T) {
	e := newEnvWithCommission(t, 0.05)
	ev := e.createEvent(t, domain.CurrencyPoints)
	e.fund(t, 1, 200)
	e.bet(t, ev.Event.ID, "X", 1, 90) // commission 4
	e.bet(t, ev.Event.ID, "Y", 1, 30) // commission 1

	d, _ := e.events.GetEvent(context.Background(), ev.Event.ID)
	if !d.Event.CommissionAccrued.Equal(dec(5)) || !d.Event.TotalPool.Equal(dec(115)) {
		t.Errorf("pool = %s commission = %s", d.Event.TotalPool, d.Event.CommissionAccrued)
	}
	if !d.StakedTotal().Equal(d.Event.TotalPool.Add(d.Event.CommissionAccrued)) {
		t.Errorf("options sum %s != pool + commission", d.StakedTotal())
	}
}

func TestPlaceBet_External(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	pts := e.createEvent(t, domain.CurrencyPoints)
	_, err := e.bets.PlaceBet(ctx, domain.PlaceBetRequest{
		EventID: pts.Event.ID, OptionID: "X", UserID: 1, Amount: dec(20), Source: domain.SourceExternalPayment,
	})
	wantErr(t, err, domain.ErrExternalPaymentUnsupported)

	stars := e.createEvent(t, domain.CurrencyStars)
	res, err := e.bets.PlaceBet(ctx, domain.PlaceBetRequest{
		EventID: stars.Event.ID, OptionID: "Y", UserID: 1, Amount: dec(20), Source: domain.SourceExternalPayment,
	})
	if err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	if res.Charge == nil || res.Charge.Status != domain.ChargePending || res.Charge.Purpose != domain.PurposeBetStake {
		t.Fatalf("charge = %+v", res.Charge)
	}
	if res.Bet.ExternalRef == nil || *res.Bet.ExternalRef != res.Charge.Reference {
		t.Errorf("bet external ref = %v", res.Bet.ExternalRef)
	}
	if len(e.gateway.invoices) != 1 || e.gateway.invoices[0].Currency != domain.CurrencyStars {
		t.Errorf("invoices = %+v", e.gateway.invoices)
	}
	if res.Bet.Funded {
		t.Error("external bet funded before payment")
	}
	d, _ := e.events.GetEvent(ctx, stars.Event.ID)
	if !d.Event.TotalPool.IsZero() || d.Option("Y").TotalBets != 0 {
		t.Errorf("pool before payment = %s, option bets = %d", d.Event.TotalPool, d.Option("Y").TotalBets)
	}

	// Confirming the stake twice neither credits the ledger nor adds it twice.
	for i := 0; i < 2; i++ {
		conf, err := e.bets.ConfirmPayment(ctx, res.Charge.Reference, "tg-1")
		if err != nil {
			t.Fatalf("ConfirmPayment #%d: %v", i, err)
		}
		if conf.Replayed != (i == 1) || conf.Late {
			t.Errorf("confirm #%d = %+v", i, conf)
		}
	}
	if got := e.balance(t, 1); !got.IsZero() {
		t.Errorf("balance = %s, want 0", got)
	}
	d, _ = e.events.GetEvent(ctx, stars.Event.ID)
	if !d.Event.TotalPool.Equal(dec(20)) || d.Option("Y").TotalBets != 1 {
		t.Errorf("pool after confirm = %s, option bets = %d", d.Event.TotalPool, d.Option("Y").TotalBets)
	}
	if got := e.betByID(t, stars.Event.ID, res.Bet.ID); !got.Funded || got.Status != domain.BetStatusActive {
		t.Errorf("bet after confirm = %+v", got)
	}
}

func TestPlaceBet_ChargeRecordedBeforeInvoice(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev := e.createEvent(t, domain.CurrencyStars)

	var recorded bool
	e.gateway.onInvoice = func(req domain.InvoiceRequest) {
		c, err := e.store.GetCharge(ctx, req.Reference)
		recorded = err == nil && c.Status == domain.ChargePending
	}
	res := e.stake(t, ev.Event.ID, "X", 1, 20)
	if !recorded {
		t.Error("invoice issued before its charge was stored")
	}
	if c, _ := e.store.GetCharge(ctx, res.Charge.Reference); c.InvoiceURL == "" || c.InvoiceURL != res.Charge.InvoiceURL {
		t.Errorf("stored invoice url = %q, returned %q", c.InvoiceURL, res.Charge.InvoiceURL)
	}

	recorded = false
	if _, err := e.bets.RequestTopUp(ctx, topUp(1, 30)); err != nil {
		t.Fatal(err)
	}
	if !recorded {
		t.Error("top-up invoice issued before its charge was stored")
	}
}

func TestPlaceBet_GatewayFailureVoidsBet(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev := e.createEvent(t, domain.CurrencyStars)
	e.gateway.fail = errors.New("bot api down")

	_, err := e.bets.PlaceBet(ctx, domain.PlaceBetRequest{
		EventID: ev.Event.ID, OptionID: "X", UserID: 1, Amount: dec(20), Source: domain.SourceExternalPayment,
	})
	wantErr(t, err, domain.ErrExternalService)
	bets, _ := e.store.ListBetsByEvent(ctx, ev.Event.ID)
	if len(bets) != 1 || bets[0].Status != domain.BetStatusVoid || bets[0].Funded {
		t.Fatalf("bets = %+v", bets)
	}
	c, err := e.store.GetCharge(ctx, *bets[0].ExternalRef)
	if err != nil || c.Status != domain.ChargeExpired {
		t.Fatalf("charge = %+v, %v", c, err)
	}

	// Should the provider have issued the link anyway, its payment lands on
	// the balance and never in the pool.
	conf, err := e.bets.ConfirmPayment(ctx, c.Reference, "tg-late")
	if err != nil || !conf.Late {
		t.Fatalf("confirm = %+v, %v", conf, err)
	}
	if got := e.balance(t, 1); !got.Equal(dec(20)) {
		t.Errorf("balance = %s, want 20", got)
	}
	if d, _ := e.events.GetEvent(ctx, ev.Event.ID); !d.Event.TotalPool.IsZero() {
		t.Errorf("pool = %s, want 0", d.Event.TotalPool)
	}
}

func TestTopUp_GatewayFailureExpiresCharge(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.gateway.fail = errors.New("bot api down")

	_, err := e.bets.RequestTopUp(ctx, topUp(4, 30))
	wantErr(t, err, domain.ErrExternalService)
	charges, _ := e.store.ListCharges(ctx, "", 10, 0)
	if len(charges) != 1 || charges[0].Status != domain.ChargeExpired {
		t.Errorf("charges = %+v", charges)
	}
}

func TestTopUp_ConfirmIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	c, err := e.bets.RequestTopUp(ctx, topUp(5, 40))
	if err != nil {
		t.Fatalf("RequestTopUp: %v", err)
	}
	if c.InvoiceURL == "" || c.Status != domain.ChargePending {
		t.Fatalf("charge = %+v", c)
	}

	first, err := e.bets.ConfirmPayment(ctx, c.Reference, "tg-9")
	if err != nil || first.Replayed {
		t.Fatalf("first confirm = %+v, %v", first, err)
	}
	second, err := e.bets.ConfirmPayment(ctx, c.Reference, "tg-9")
	if err != nil || !second.Replayed {
		t.Fatalf("second confirm = %+v, %v", second, err)
	}
	if got := e.balance(t, 5); !got.Equal(dec(40)) {
		t.Errorf("balance = %s, want 40", got)
	}

	_, err = e.bets.ConfirmPayment(ctx, "top_up:unknown", "x")
	wantErr(t, err, domain.ErrChargeNotFound)
}

func TestRefundCharge(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	c, _ := e.bets.RequestTopUp(ctx, topUp(5, 40))
	_, err := e.bets.RefundCharge(ctx, c.Reference)
	wantErr(t, err, domain.ErrChargeNotPending) // not confirmed yet

	if _, err := e.bets.ConfirmPayment(ctx, c.Reference, "tg-9"); err != nil {
		t.Fatal(err)
	}
	refunded, err := e.bets.RefundCharge(ctx, c.Reference)
	if err != nil {
		t.Fatalf("RefundCharge: %v", err)
	}
	if refunded.Status != domain.ChargeRefunded || len(e.gateway.refunds) != 1 || e.gateway.refunds[0] != "tg-9" {
		t.Errorf("refunded = %+v, gateway = %v", refunded, e.gateway.refunds)
	}
	if got := e.balance(t, 5); !got.IsZero() {
		t.Errorf("balance = %s, want 0", got)
	}

	// A spent top-up cannot be refunded.
	c2, _ := e.bets.RequestTopUp(ctx, topUp(6, 40))
	_, _ = e.bets.ConfirmPayment(ctx, c2.Reference, "tg-10")
	ev := e.createEvent(t, domain.CurrencyPoints)
	e.bet(t, ev.Event.ID, "X", 6, 30)
	_, err = e.bets.RefundCharge(ctx, c2.Reference)
	wantErr(t, err, domain.ErrInsufficientFunds)
	if got, _ := e.store.GetCharge(ctx, c2.Reference); got.Status != domain.ChargeConfirmed {
		t.Errorf("charge status = %s, want confirmed", got.Status)
	}
}

func TestExpireStaleCharges(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev := e.createEvent(t, domain.CurrencyStars)

	tu, _ := e.bets.RequestTopUp(ctx, topUp(1, 10))
	res, err := e.bets.PlaceBet(ctx, domain.PlaceBetRequest{
		EventID: ev.Event.ID, OptionID: "X", UserID: 2, Amount: dec(10), Source: domain.SourceExternalPayment,
	})
	if err != nil {
		t.Fatal(err)
	}

	expired, stale, err := e.bets.ExpireStaleCharges(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if expired != 1 || len(stale) != 1 || stale[0].Reference != res.Charge.Reference {
		t.Errorf("expired = %d stale = %v", expired, stale)
	}
	if c, _ := e.store.GetCharge(ctx, tu.Reference); c.Status != domain.ChargeExpired {
		t.Errorf("top-up status = %s", c.Status)
	}
	// The invoice can still be paid after we gave up on it.
	conf, err := e.bets.ConfirmPayment(ctx, tu.Reference, "late")
	if err != nil {
		t.Fatalf("late confirm: %v", err)
	}
	if conf.Replayed || !conf.Late || conf.Charge.Status != domain.ChargeConfirmed {
		t.Errorf("late confirm = %+v", conf)
	}
	if got := e.balance(t, 1); !got.Equal(dec(10)) {
		t.Errorf("balance = %s, want 10", got)
	}
	again, err := e.bets.ConfirmPayment(ctx, tu.Reference, "late")
	if err != nil || !again.Replayed {
		t.Fatalf("replay = %+v, %v", again, err)
	}
	if got := e.balance(t, 1); !got.Equal(dec(10)) {
		t.Errorf("balance after replay = %s, want 10", got)
	}
}
