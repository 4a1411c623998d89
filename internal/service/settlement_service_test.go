package service_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/evetabi/betledger/internal/domain"
)

// seedThreeBets places A=30 on X, B=20 on X and C=50 on Y, each user funded with
// 100, for a pool of 100.
func seedThreeBets(t *testing.T, e *env) (ev *domain.EventDetail, a, b, c *domain.Bet) {
	t.Helper()
	ev = e.createEvent(t, domain.CurrencyPoints)
	for _, u := range []int64{1, 2, 3} {
		e.fund(t, u, 100)
	}
	a = e.bet(t, ev.Event.ID, "X", 1, 30)
	b = e.bet(t, ev.Event.ID, "X", 2, 20)
	c = e.bet(t, ev.Event.ID, "Y", 3, 50)
	return ev, a, b, c
}

func TestResolve_PaysWinnersProRata(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev, a, b, c := seedThreeBets(t, e)

	res, err := e.settle.Resolve(ctx, domain.ResolveRequest{
		EventID: ev.Event.ID, WinningOptionIDs: []string{"X"}, Source: domain.ResolutionManual,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.TotalWinners != 2 || !res.TotalPayout.Equal(dec(100)) || res.IsRefund() {
		t.Errorf("resolution = %+v", res)
	}

	for _, tc := range []struct {
		bet     *domain.Bet
		status  domain.BetStatus
		payout  int64 // -1 for nil
		balance int64
	}{
		{a, domain.BetStatusWon, 60, 130},
		{b, domain.BetStatusWon, 40, 120},
		{c, domain.BetStatusLost, -1, 50},
	} {
		got := e.betByID(t, ev.Event.ID, tc.bet.ID)
		if got.Status != tc.status {
			t.Errorf("user %d status = %s, want %s", got.UserID, got.Status, tc.status)
		}
		switch {
		case tc.payout < 0 && got.Payout != nil:
			t.Errorf("user %d payout = %s, want nil", got.UserID, got.Payout)
		case tc.payout >= 0 && (got.Payout == nil || !got.Payout.Equal(dec(tc.payout))):
			t.Errorf("user %d payout = %v, want %d", got.UserID, got.Payout, tc.payout)
		}
		if bal := e.balance(t, got.UserID); !bal.Equal(dec(tc.balance)) {
			t.Errorf("user %d balance = %s, want %d", got.UserID, bal, tc.balance)
		}
	}

	acc, _ := e.ledger.Balance(ctx, 3)
	if !acc.TotalLost.Equal(dec(50)) {
		t.Errorf("loser total_lost = %s, want 50", acc.TotalLost)
	}
	acc, _ = e.ledger.Balance(ctx, 1)
	if !acc.TotalWon.Equal(dec(60)) {
		t.Errorf("winner total_won = %s, want 60", acc.TotalWon)
	}

	d, _ := e.events.GetEvent(ctx, ev.Event.ID)
	if d.Event.Status != domain.EventStatusResolved {
		t.Errorf("status = %s", d.Event.Status)
	}
	if e.notifier.count(1) != 1 || e.notifier.count(3) != 1 {
		t.Errorf("notifications = %v", e.notifier.msgs)
	}
}

func TestResolve_NoWinnerRefundsEveryone(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev, a, b, c := seedThreeBets(t, e)

	res, err := e.settle.Resolve(ctx, domain.ResolveRequest{EventID: ev.Event.ID, WinningOptionIDs: []string{}})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.IsRefund() || !res.TotalPayout.Equal(dec(100)) {
		t.Errorf("resolution = %+v", res)
	}
	for _, bet := range []*domain.Bet{a, b, c} {
		got := e.betByID(t, ev.Event.ID, bet.ID)
		if got.Status != domain.BetStatusRefunded || got.Payout == nil || !got.Payout.Equal(bet.Amount) {
			t.Errorf("bet %d = %s payout %v", got.UserID, got.Status, got.Payout)
		}
		if bal := e.balance(t, got.UserID); !bal.Equal(dec(100)) {
			t.Errorf("user %d balance = %s, want 100", got.UserID, bal)
		}
	}

	d, _ := e.events.GetEvent(ctx, ev.Event.ID)
	if d.Event.Status != domain.EventStatusResolved || !d.Event.TotalPool.Equal(dec(100)) {
		t.Errorf("event = %s pool %s", d.Event.Status, d.Event.TotalPool)
	}
	_, err = e.bets.PlaceBet(ctx, domain.PlaceBetRequest{EventID: ev.Event.ID, OptionID: "X", UserID: 1, Amount: dec(10)})
	wantErr(t, err, domain.ErrEventNotActive)
}

// A winning option nobody backed is the same as no winner.
func TestResolve_UnbackedWinnerRefunds(t *testing.T) {
	e := newEnv(t)
	ev := e.createEvent(t, domain.CurrencyPoints)
	e.fund(t, 1, 100)
	bet := e.bet(t, ev.Event.ID, "X", 1, 40)

	res, err := e.settle.Resolve(context.Background(), domain.ResolveRequest{
		EventID: ev.Event.ID, WinningOptionIDs: []string{"Y"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsRefund() {
		t.Errorf("resolution = %+v", res)
	}
	if got := e.betByID(t, ev.Event.ID, bet.ID); got.Status != domain.BetStatusRefunded {
		t.Errorf("status = %s", got.Status)
	}
}

func TestResolve_SecondCallChangesNothing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev, _, _, _ := seedThreeBets(t, e)

	first, err := e.settle.Resolve(ctx, domain.ResolveRequest{EventID: ev.Event.ID, WinningOptionIDs: []string{"X"}})
	if err != nil {
		t.Fatal(err)
	}
	before, _ := e.ledger.History(ctx, 1, 100, 0)

	_, err = e.settle.Resolve(ctx, domain.ResolveRequest{EventID: ev.Event.ID, WinningOptionIDs: []string{"Y"}})
	wantErr(t, err, domain.ErrAlreadyResolved)

	after, _ := e.ledger.History(ctx, 1, 100, 0)
	if len(after) != len(before) {
		t.Errorf("ledger rows %d -> %d", len(before), len(after))
	}
	res, _ := e.events.GetResolution(ctx, ev.Event.ID)
	if res.ID != first.ID || res.WinningOptionIDs[0] != "X" {
		t.Errorf("resolution replaced: %+v", res)
	}
	if bal := e.balance(t, 1); !bal.Equal(dec(130)) {
		t.Errorf("balance = %s, want 130", bal)
	}
}

func TestResolve_UnknownOptionFailsBeforeWriting(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev, _, _, _ := seedThreeBets(t, e)

	_, err := e.settle.Resolve(ctx, domain.ResolveRequest{EventID: ev.Event.ID, WinningOptionIDs: []string{"X", "Z"}})
	wantErr(t, err, domain.ErrInvalidInput)
	wantErr(t, err, domain.ErrOptionNotFound)

	d, _ := e.events.GetEvent(ctx, ev.Event.ID)
	if d.Event.Status != domain.EventStatusActive {
		t.Errorf("status = %s", d.Event.Status)
	}
	_, err = e.events.GetResolution(ctx, ev.Event.ID)
	wantErr(t, err, domain.ErrResolutionNotFound)
}

func TestResolve_DustStaysUndistributed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev := e.createEvent(t, domain.CurrencyPoints)
	for _, u := range []int64{1, 2, 3, 4} {
		e.fund(t, u, 100)
	}
	e.bet(t, ev.Event.ID, "X", 1, 10)
	e.bet(t, ev.Event.ID, "X", 2, 10)
	e.bet(t, ev.Event.ID, "X", 3, 10)
	e.bet(t, ev.Event.ID, "Y", 4, 11) // pool 41, W 30

	res, err := e.settle.Resolve(ctx, domain.ResolveRequest{
		EventID: ev.Event.ID, WinningOptionIDs: []string{"X"},
		Data: json.RawMessage(`{"note":"final score 2-1"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	// floor(10*41/30) = 13 each, 39 paid, 2 dust.
	if !res.TotalPayout.Equal(dec(39)) {
		t.Errorf("total payout = %s, want 39", res.TotalPayout)
	}
	if !res.TotalPayout.LessThanOrEqual(dec(41)) {
		t.Error("paid more than the pool")
	}
	for _, u := range []int64{1, 2, 3} {
		if bal := e.balance(t, u); !bal.Equal(dec(103)) {
			t.Errorf("user %d balance = %s, want 103", u, bal)
		}
	}
}

func TestCancelEvent_RefundsAndCloses(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev, a, _, _ := seedThreeBets(t, e)

	n, err := e.events.CancelEvent(ctx, ev.Event.ID, "match postponed")
	if err != nil {
		t.Fatalf("CancelEvent: %v", err)
	}
	if n != 3 {
		t.Errorf("refunded = %d, want 3", n)
	}
	for _, u := range []int64{1, 2, 3} {
		if bal := e.balance(t, u); !bal.Equal(dec(100)) {
			t.Errorf("user %d balance = %s", u, bal)
		}
	}
	if got := e.betByID(t, ev.Event.ID, a.ID); got.Status != domain.BetStatusRefunded {
		t.Errorf("bet status = %s", got.Status)
	}
	d, _ := e.events.GetEvent(ctx, ev.Event.ID)
	if d.Event.Status != domain.EventStatusCancelled {
		t.Errorf("status = %s", d.Event.Status)
	}
	_, err = e.events.GetResolution(ctx, ev.Event.ID)
	wantErr(t, err, domain.ErrResolutionNotFound)

	_, err = e.settle.Resolve(ctx, domain.ResolveRequest{EventID: ev.Event.ID, WinningOptionIDs: []string{"X"}})
	wantErr(t, err, domain.ErrAlreadyResolved)
	_, err = e.events.CancelEvent(ctx, ev.Event.ID, "again")
	wantErr(t, err, domain.ErrAlreadyResolved)
}

func TestResolve_UnpaidStakeRefundsNothing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev := e.createEvent(t, domain.CurrencyStars)
	unpaid := e.stake(t, ev.Event.ID, "X", 7, 50)

	res, err := e.settle.Resolve(ctx, domain.ResolveRequest{EventID: ev.Event.ID, WinningOptionIDs: []string{}})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.TotalPayout.IsZero() {
		t.Errorf("total payout = %s, want 0", res.TotalPayout)
	}
	if got := e.balance(t, 7); !got.IsZero() {
		t.Errorf("unpaid user balance = %s, want 0", got)
	}
	got := e.betByID(t, ev.Event.ID, unpaid.Bet.ID)
	if got.Status != domain.BetStatusVoid || got.Payout != nil {
		t.Errorf("bet = %s payout %v, want void without payout", got.Status, got.Payout)
	}
	if c, _ := e.store.GetCharge(ctx, unpaid.Charge.Reference); c.Status != domain.ChargeExpired {
		t.Errorf("charge status = %s, want expired", c.Status)
	}

	// Paying after settlement lands on the balance, not in the settled pool.
	conf, err := e.bets.ConfirmPayment(ctx, unpaid.Charge.Reference, "tg-7")
	if err != nil || !conf.Late {
		t.Fatalf("late confirm = %+v, %v", conf, err)
	}
	if got := e.balance(t, 7); !got.Equal(dec(50)) {
		t.Errorf("balance after late payment = %s, want 50", got)
	}
	if got := e.betByID(t, ev.Event.ID, unpaid.Bet.ID); got.Status != domain.BetStatusVoid {
		t.Errorf("bet status after late payment = %s", got.Status)
	}
}

func TestResolve_UnpaidWinnerTakesNoShare(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev := e.createEvent(t, domain.CurrencyStars)

	paid := e.stake(t, ev.Event.ID, "Y", 1, 100)
	if _, err := e.bets.ConfirmPayment(ctx, paid.Charge.Reference, "tg-1"); err != nil {
		t.Fatal(err)
	}
	unpaid := e.stake(t, ev.Event.ID, "X", 7, 10)

	// Only an unpaid stake backs X, so nobody funded a winning stake.
	res, err := e.settle.Resolve(ctx, domain.ResolveRequest{EventID: ev.Event.ID, WinningOptionIDs: []string{"X"}})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.IsRefund() || !res.TotalPayout.Equal(dec(100)) {
		t.Errorf("resolution = %+v", res)
	}
	if got := e.balance(t, 7); !got.IsZero() {
		t.Errorf("unpaid user balance = %s, want 0", got)
	}
	if got := e.balance(t, 1); !got.Equal(dec(100)) {
		t.Errorf("paying user balance = %s, want 100", got)
	}
	if got := e.betByID(t, ev.Event.ID, unpaid.Bet.ID); got.Status != domain.BetStatusVoid {
		t.Errorf("unpaid bet = %s, want void", got.Status)
	}
}

func TestResolve_PaidExternalStakesShareThePool(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev := e.createEvent(t, domain.CurrencyStars)

	for _, s := range []struct {
		user   int64
		option string
		amount int64
	}{{1, "X", 30}, {2, "Y", 70}} {
		r := e.stake(t, ev.Event.ID, s.option, s.user, s.amount)
		if _, err := e.bets.ConfirmPayment(ctx, r.Charge.Reference, "tg"); err != nil {
			t.Fatal(err)
		}
	}
	e.stake(t, ev.Event.ID, "X", 3, 50) // never paid

	res, err := e.settle.Resolve(ctx, domain.ResolveRequest{EventID: ev.Event.ID, WinningOptionIDs: []string{"X"}})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.TotalWinners != 1 || !res.TotalPayout.Equal(dec(100)) {
		t.Errorf("resolution = %+v", res)
	}
	for user, want := range map[int64]int64{1: 100, 2: 0, 3: 0} {
		if got := e.balance(t, user); !got.Equal(dec(want)) {
			t.Errorf("user %d balance = %s, want %d", user, got, want)
		}
	}
}

func TestCancelEvent_VoidsUnpaidStakes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev := e.createEvent(t, domain.CurrencyStars)
	unpaid := e.stake(t, ev.Event.ID, "X", 7, 40)

	n, err := e.events.CancelEvent(ctx, ev.Event.ID, "rained out")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("refunded = %d, want 0", n)
	}
	if got := e.balance(t, 7); !got.IsZero() {
		t.Errorf("balance = %s, want 0", got)
	}
	if got := e.betByID(t, ev.Event.ID, unpaid.Bet.ID); got.Status != domain.BetStatusVoid {
		t.Errorf("bet = %s, want void", got.Status)
	}
}
