package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/evetabi/betledger/internal/domain"
	"github.com/evetabi/betledger/internal/repository"
)

func TestCreateEvent_Validation(t *testing.T) {
	e := newEnv(t)
	future := time.Now().Add(time.Hour)
	two := []domain.OptionSpec{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}}

	cases := map[string]domain.CreateEventRequest{
		"no title":       {Deadline: future, Options: two},
		"one option":     {Title: "t", Deadline: future, Options: two[:1]},
		"duplicate ids":  {Title: "t", Deadline: future, Options: []domain.OptionSpec{{ID: "a", Text: "A"}, {ID: " a", Text: "B"}}},
		"blank option":   {Title: "t", Deadline: future, Options: []domain.OptionSpec{{ID: "a", Text: "A"}, {ID: "b"}}},
		"past deadline":  {Title: "t", Deadline: time.Now().Add(-time.Minute), Options: two},
		"max below min":  {Title: "t", Deadline: future, Options: two, MinStake: decimal.NewFromInt(50), MaxStake: decimal.NewFromInt(20)},
		"fractional":     {Title: "t", Deadline: future, Options: two, MinStake: decimal.RequireFromString("1.5")},
		"resolves early": {Title: "t", Deadline: future, ResolutionDate: future.Add(-time.Minute), Options: two},
		"bad currency":   {Title: "t", Deadline: future, Options: two, Currency: "EUR"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.events.CreateEvent(context.Background(), req)
			wantErr(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestCreateEvent_Defaults(t *testing.T) {
	e := newEnv(t)
	deadline := time.Now().Add(time.Hour)

	d, err := e.events.CreateEvent(context.Background(), domain.CreateEventRequest{
		Title:    "  Rain tomorrow?  ",
		Deadline: deadline,
		Options:  []domain.OptionSpec{{ID: "yes", Text: "Yes"}, {ID: "no", Text: "No"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	ev := d.Event
	if ev.Title != "Rain tomorrow?" || ev.Currency != domain.CurrencyPoints || ev.Status != domain.EventStatusActive {
		t.Errorf("event = %+v", ev)
	}
	if !ev.MinStake.Equal(dec(10)) || !ev.MaxStake.Equal(dec(100)) {
		t.Errorf("stakes = %s..%s", ev.MinStake, ev.MaxStake)
	}
	if !ev.ResolutionDate.Equal(ev.Deadline) {
		t.Errorf("resolution date = %s, deadline %s", ev.ResolutionDate, ev.Deadline)
	}
	if len(d.Options) != 2 || d.Options[1].Position != 1 || !d.Options[0].TotalAmount.IsZero() {
		t.Errorf("options = %+v", d.Options)
	}
}

func TestActiveEvents_CacheInvalidateAndRefresh(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev := e.createEvent(t, domain.CurrencyPoints)

	first, err := e.events.ActiveEvents(ctx)
	if err != nil || len(first) != 1 {
		t.Fatalf("ActiveEvents = %d, %v", len(first), err)
	}

	// A write behind the service's back is not visible until the cache
	// is dropped or reloaded.
	err = e.store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.IncrementPool(ctx, ev.Event.ID, "X", dec(25), decimal.Zero, time.Now())
	})
	if err != nil {
		t.Fatal(err)
	}
	cached, _ := e.events.ActiveEvents(ctx)
	if !cached[0].Event.TotalPool.IsZero() {
		t.Errorf("cached pool = %s, want stale 0", cached[0].Event.TotalPool)
	}

	if err := e.events.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	fresh, _ := e.events.ActiveEvents(ctx)
	if !fresh[0].Event.TotalPool.Equal(dec(25)) {
		t.Errorf("refreshed pool = %s, want 25", fresh[0].Event.TotalPool)
	}

	if _, err := e.events.CancelEvent(ctx, ev.Event.ID, "test"); err != nil {
		t.Fatal(err)
	}
	after, _ := e.events.ActiveEvents(ctx)
	if len(after) != 0 {
		t.Errorf("cancelled event still listed: %d", len(after))
	}
}

func TestListEvents_FiltersByStatus(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.createEvent(t, domain.CurrencyPoints)
	e.createEvent(t, domain.CurrencyStars)
	if _, err := e.settle.Resolve(ctx, domain.ResolveRequest{EventID: a.Event.ID}); err != nil {
		t.Fatal(err)
	}

	all, _ := e.events.ListEvents(ctx, repository.EventFilter{})
	resolved, _ := e.events.ListEvents(ctx, repository.EventFilter{Status: domain.EventStatusResolved})
	if len(all) != 2 || len(resolved) != 1 || resolved[0].ID != a.Event.ID {
		t.Errorf("all = %d resolved = %d", len(all), len(resolved))
	}
}
