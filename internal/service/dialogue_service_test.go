package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/evetabi/betledger/internal/domain"
	"github.com/evetabi/betledger/internal/service"
)

func newDialogue(e *env, ttl domain.DialogueTTL) *service.DialogueService {
	d := service.NewDialogueService(service.NewMemoryDialogueStore(), e.bets, e.events, ttl, discardLogger())
	d.SetNotifier(e.notifier)
	return d
}

func TestDialogue_HappyPath(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev := e.createEvent(t, domain.CurrencyPoints)
	e.fund(t, 1, 100)
	dlg := newDialogue(e, domain.DefaultDialogueTTL)

	step, err := dlg.StartBetSelection(ctx, 1, ev.Event.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if step.State.Kind() != domain.KindSelectingOption {
		t.Fatalf("state = %s", step.State.Kind())
	}
	step, err = dlg.SelectOption(ctx, 1, "Y")
	if err != nil {
		t.Fatal(err)
	}
	wa, ok := step.State.(domain.WaitingAmount)
	if !ok || wa.OptionID != "Y" || !wa.Min.Equal(dec(10)) || !wa.Max.Equal(dec(100)) {
		t.Fatalf("state = %#v", step.State)
	}

	// Bad input keeps the dialogue alive.
	_, err = dlg.SubmitAmount(ctx, 1, "lots")
	wantErr(t, err, domain.ErrInvalidAmount)
	_, err = dlg.SubmitAmount(ctx, 1, "500")
	wantErr(t, err, domain.ErrAmountOutOfRange)

	step, err = dlg.SubmitAmount(ctx, 1, " 25 ")
	if err != nil {
		t.Fatalf("SubmitAmount: %v", err)
	}
	if step.Bet == nil || !step.Bet.Amount.Equal(dec(25)) || step.State.Kind() != domain.KindIdle {
		t.Fatalf("step = %+v", step)
	}
	if bal := e.balance(t, 1); !bal.Equal(dec(75)) {
		t.Errorf("balance = %s, want 75", bal)
	}
	_, err = dlg.SubmitAmount(ctx, 1, "25")
	wantErr(t, err, domain.ErrDialogueNotFound)
}

func TestDialogue_StartOverwritesPriorState(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	first := e.createEvent(t, domain.CurrencyPoints)
	second := e.createEvent(t, domain.CurrencyPoints)
	dlg := newDialogue(e, domain.DefaultDialogueTTL)

	if _, err := dlg.StartBetSelection(ctx, 1, first.Event.ID, "X"); err != nil {
		t.Fatal(err)
	}
	if _, err := dlg.StartBetSelection(ctx, 1, second.Event.ID, ""); err != nil {
		t.Fatal(err)
	}
	st, _ := dlg.Current(ctx, 1)
	sel, ok := st.(domain.SelectingOption)
	if !ok || sel.EventID != second.Event.ID {
		t.Fatalf("state = %#v", st)
	}
	_, err := dlg.SubmitAmount(ctx, 1, "10")
	wantErr(t, err, domain.ErrIllegalTransition)
}

func TestDialogue_ExpiresToIdle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev := e.createEvent(t, domain.CurrencyPoints)
	e.fund(t, 1, 100)
	dlg := newDialogue(e, domain.DialogueTTL{
		SelectingOption: 20 * time.Millisecond, WaitingAmount: 20 * time.Millisecond, WaitingPayment: 20 * time.Millisecond,
	})

	if _, err := dlg.StartBetSelection(ctx, 1, ev.Event.ID, "X"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(40 * time.Millisecond)

	st, _ := dlg.Current(ctx, 1)
	if st.Kind() != domain.KindIdle {
		t.Errorf("state = %s, want idle", st.Kind())
	}
	_, err := dlg.SubmitAmount(ctx, 1, "10")
	wantErr(t, err, domain.ErrDialogueNotFound)
	if bal := e.balance(t, 1); !bal.Equal(dec(100)) {
		t.Errorf("balance = %s", bal)
	}
}

func TestDialogue_TopUpResumesBet(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev := e.createEvent(t, domain.CurrencyStars)
	e.fund(t, 1, 30)
	dlg := newDialogue(e, domain.DefaultDialogueTTL)

	if _, err := dlg.StartBetSelection(ctx, 1, ev.Event.ID, "X"); err != nil {
		t.Fatal(err)
	}
	step, err := dlg.SubmitAmount(ctx, 1, "80")
	if err != nil {
		t.Fatalf("SubmitAmount: %v", err)
	}
	wp, ok := step.State.(domain.WaitingPayment)
	if !ok {
		t.Fatalf("state = %#v", step.State)
	}
	if !wp.Amount.Equal(dec(80)) || !wp.Shortfall.Equal(dec(50)) || wp.ChargeRef != step.Charge.Reference {
		t.Errorf("waiting payment = %+v", wp)
	}
	if !step.Charge.Amount.Equal(dec(50)) || step.Charge.Purpose != domain.PurposeTopUp {
		t.Errorf("charge = %+v", step.Charge)
	}

	out, err := dlg.OnPaymentConfirmed(ctx, step.Charge.Reference, "tg-1")
	if err != nil {
		t.Fatalf("OnPaymentConfirmed: %v", err)
	}
	if !out.Resumed || out.Bet == nil || !out.Bet.Amount.Equal(dec(80)) {
		t.Fatalf("outcome = %+v", out)
	}
	if bal := e.balance(t, 1); !bal.IsZero() {
		t.Errorf("balance = %s, want 0", bal)
	}
	if st, _ := dlg.Current(ctx, 1); st.Kind() != domain.KindIdle {
		t.Errorf("state = %s", st.Kind())
	}

	// A replayed confirmation places nothing.
	out, err = dlg.OnPaymentConfirmed(ctx, step.Charge.Reference, "tg-1")
	if err != nil || out.Resumed || !out.Confirmation.Replayed {
		t.Fatalf("replay = %+v, %v", out, err)
	}
	bets, _ := e.bets.ListMyBets(ctx, 1, 10, 0)
	if len(bets) != 1 {
		t.Errorf("bets = %d, want 1", len(bets))
	}
}

func TestDialogue_ExpiredPaymentKeepsTopUp(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev := e.createEvent(t, domain.CurrencyStars)
	dlg := newDialogue(e, domain.DialogueTTL{
		SelectingOption: time.Minute, WaitingAmount: time.Minute, WaitingPayment: 20 * time.Millisecond,
	})

	if _, err := dlg.StartBetSelection(ctx, 1, ev.Event.ID, "X"); err != nil {
		t.Fatal(err)
	}
	step, err := dlg.SubmitAmount(ctx, 1, "40")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(40 * time.Millisecond)

	out, err := dlg.OnPaymentConfirmed(ctx, step.Charge.Reference, "tg-2")
	if err != nil {
		t.Fatal(err)
	}
	if out.Resumed || out.Bet != nil {
		t.Errorf("expired dialogue resumed: %+v", out)
	}
	if bal := e.balance(t, 1); !bal.Equal(dec(40)) {
		t.Errorf("balance = %s, want the top-up of 40", bal)
	}
	if e.notifier.count(1) != 1 {
		t.Errorf("notifications = %v", e.notifier.msgs)
	}
}

func TestDialogue_PointsShortfallStaysInAmount(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev := e.createEvent(t, domain.CurrencyPoints)
	e.fund(t, 1, 15)
	dlg := newDialogue(e, domain.DefaultDialogueTTL)

	if _, err := dlg.StartBetSelection(ctx, 1, ev.Event.ID, "X"); err != nil {
		t.Fatal(err)
	}
	_, err := dlg.SubmitAmount(ctx, 1, "20")
	var short *domain.InsufficientFundsError
	if !errors.As(err, &short) {
		t.Fatalf("err = %v", err)
	}
	if st, _ := dlg.Current(ctx, 1); st.Kind() != domain.KindWaitingAmount {
		t.Errorf("state = %s, want waitingAmount", st.Kind())
	}
	if len(e.gateway.invoices) != 0 {
		t.Errorf("invoice created for points event")
	}
}

func TestDialogue_Cancel(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev := e.createEvent(t, domain.CurrencyPoints)
	dlg := newDialogue(e, domain.DefaultDialogueTTL)

	err := dlg.Cancel(ctx, 1)
	wantErr(t, err, domain.ErrDialogueNotFound)

	if _, err := dlg.StartBetSelection(ctx, 1, ev.Event.ID, ""); err != nil {
		t.Fatal(err)
	}
	if err := dlg.Cancel(ctx, 1); err != nil {
		t.Fatal(err)
	}
	_, err = dlg.SelectOption(ctx, 1, "X")
	wantErr(t, err, domain.ErrDialogueNotFound)
}

func TestDialogue_ClosedEventRejected(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev := e.createEvent(t, domain.CurrencyPoints)
	if _, err := e.events.CancelEvent(ctx, ev.Event.ID, "test"); err != nil {
		t.Fatal(err)
	}
	_, err := newDialogue(e, domain.DefaultDialogueTTL).StartBetSelection(ctx, 1, ev.Event.ID, "")
	wantErr(t, err, domain.ErrEventNotActive)
}
