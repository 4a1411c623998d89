package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/evetabi/betledger/internal/domain"
	"github.com/evetabi/betledger/internal/publish"
	"github.com/evetabi/betledger/internal/repository"
)

// ──────────────────────────────────────────────────────────────────────────────
// Refunder interface, implemented by SettlementService.
// Declared here to break the constructor cycle between the two services.
// ──────────────────────────────────────────────────────────────────────────────

// Refunder is the minimal interface EventService needs from SettlementService.
type Refunder interface {
	CancelEvent(ctx context.Context, eventID uuid.UUID, reason string) (refunded int, err error)
}

// ──────────────────────────────────────────────────────────────────────────────
// EventService
// ──────────────────────────────────────────────────────────────────────────────

// EventService handles the event lifecycle: creation, queries, the
// active-event cache and cancellation.
//
// ActiveEvents is served from a cache that may lag the store by at most
// cacheTTL. Writers that change what an active event looks like call
// Invalidate; the scheduler calls Refresh on an interval.
type EventService struct {
	store     repository.Store
	refunder  Refunder // injected after SettlementService is built
	publisher EventPublisher
	logger    *slog.Logger
	now       func() time.Time

	cacheTTL        time.Duration
	defaultMinStake decimal.Decimal
	defaultMaxStake decimal.Decimal

	cacheMu  sync.RWMutex
	active   []*domain.EventDetail
	cachedAt time.Time
}

// EventServiceOptions carries the tunables of EventService.
type EventServiceOptions struct {
	CacheTTL        time.Duration
	DefaultMinStake int64
	DefaultMaxStake int64
}

// NewEventService creates an EventService. Call SetRefunder() after
// constructing SettlementService.
func NewEventService(store repository.Store, opts EventServiceOptions, logger *slog.Logger) *EventService {
	return &EventService{
		store:           store,
		logger:          logger.With("component", "events"),
		now:             func() time.Time { return time.Now().UTC() },
		cacheTTL:        opts.CacheTTL,
		defaultMinStake: decimal.NewFromInt(opts.DefaultMinStake),
		defaultMaxStake: decimal.NewFromInt(opts.DefaultMaxStake),
	}
}

// SetRefunder injects the SettlementService after both services exist.
func (s *EventService) SetRefunder(r Refunder) { s.refunder = r }

// SetPublisher injects the domain event publisher.
func (s *EventService) SetPublisher(p EventPublisher) { s.publisher = p }

// ──────────────────────────────────────────────────────────────────────────────
// CreateEvent
// ──────────────────────────────────────────────────────────────────────────────

// CreateEvent validates req and persists the event with its options in one
// unit of work.
func (s *EventService) CreateEvent(ctx context.Context, req domain.CreateEventRequest) (*domain.EventDetail, error) {
	now := s.now()
	if req.MinStake.IsZero() {
		req.MinStake = s.defaultMinStake
	}
	if req.MaxStake.IsZero() {
		req.MaxStake = s.defaultMaxStake
	}
	if req.Currency == "" {
		req.Currency = domain.CurrencyPoints
	}
	if req.ResolutionDate.IsZero() {
		req.ResolutionDate = req.Deadline
	}
	if err := validateCreate(req, now); err != nil {
		return nil, fmt.Errorf("event_service.CreateEvent: %w", err)
	}

	ev := &domain.Event{
		ID:                uuid.New(),
		Title:             strings.TrimSpace(req.Title),
		Description:       strings.TrimSpace(req.Description),
		ChatID:            req.ChatID,
		CreatorID:         req.CreatorID,
		Deadline:          req.Deadline.UTC(),
		ResolutionDate:    req.ResolutionDate.UTC(),
		MinStake:          req.MinStake,
		MaxStake:          req.MaxStake,
		Currency:          req.Currency,
		Status:            domain.EventStatusActive,
		TotalPool:         decimal.Zero,
		CommissionAccrued: decimal.Zero,
		AutoResolve:       req.AutoResolve,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	opts := make([]*domain.Option, 0, len(req.Options))
	for i, in := range req.Options {
		opts = append(opts, &domain.Option{
			EventID:     ev.ID,
			ID:          strings.TrimSpace(in.ID),
			Text:        strings.TrimSpace(in.Text),
			Value:       in.Value,
			Position:    i,
			TotalAmount: decimal.Zero,
		})
	}

	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.InsertEvent(ctx, ev); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		for _, o := range opts {
			if err := tx.InsertOption(ctx, o); err != nil {
				return fmt.Errorf("insert option %s: %w", o.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("event_service.CreateEvent: %w", err)
	}

	s.Invalidate()
	detail := &domain.EventDetail{Event: ev, Options: opts}
	if s.publisher != nil {
		s.publisher.Publish(ctx, publish.TypeEventCreated, ev.ID.String(), detail)
	}
	s.logger.Info("event created", "event_id", ev.ID, "options", len(opts),
		"currency", ev.Currency, "deadline", ev.Deadline)
	return detail, nil
}

func validateCreate(req domain.CreateEventRequest, now time.Time) error {
	if strings.TrimSpace(req.Title) == "" {
		return domain.Invalid("title", "required")
	}
	if len(req.Options) < 2 {
		return domain.Invalid("options", "at least two options are required")
	}
	seen := make(map[string]struct{}, len(req.Options))
	for _, o := range req.Options {
		id := strings.TrimSpace(o.ID)
		if id == "" || strings.TrimSpace(o.Text) == "" {
			return domain.Invalid("options", "every option needs an id and a text")
		}
		if _, dup := seen[id]; dup {
			return domain.Invalid("options", fmt.Sprintf("duplicate option id %q", id))
		}
		seen[id] = struct{}{}
	}
	if !req.MinStake.IsPositive() || !req.MinStake.IsInteger() || !req.MaxStake.IsInteger() {
		return domain.Invalid("min_stake", "stakes must be positive whole amounts")
	}
	if req.MaxStake.LessThan(req.MinStake) {
		return domain.Invalid("max_stake", "must be at least min_stake")
	}
	if !req.Deadline.After(now) {
		return domain.Invalid("deadline", "must be in the future")
	}
	if req.ResolutionDate.Before(req.Deadline) {
		return domain.Invalid("resolution_date", "must not be before the deadline")
	}
	if !req.Currency.IsValid() {
		return domain.Invalid("currency", fmt.Sprintf("unknown currency %q", req.Currency))
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────────────────────────

// GetEvent returns an event with its options.
func (s *EventService) GetEvent(ctx context.Context, id uuid.UUID) (*domain.EventDetail, error) {
	detail, err := loadDetail(ctx, s.store, id)
	if err != nil {
		return nil, fmt.Errorf("event_service.GetEvent: %w", err)
	}
	return detail, nil
}

func loadDetail(ctx context.Context, r repository.Reader, id uuid.UUID) (*domain.EventDetail, error) {
	ev, err := r.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	opts, err := r.ListOptions(ctx, id)
	if err != nil {
		return nil, err
	}
	return &domain.EventDetail{Event: ev, Options: opts}, nil
}

// ListEvents returns a page of events; a zero Status lists every status.
func (s *EventService) ListEvents(ctx context.Context, f repository.EventFilter) ([]*domain.Event, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	events, err := s.store.ListEvents(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("event_service.ListEvents: %w", err)
	}
	return events, nil
}

// GetResolution returns the resolution of a settled event.
func (s *EventService) GetResolution(ctx context.Context, id uuid.UUID) (*domain.Resolution, error) {
	res, err := s.store.GetResolution(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("event_service.GetResolution: %w", err)
	}
	return res, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Active-event cache
// ──────────────────────────────────────────────────────────────────────────────

// ActiveEvents returns active events with their options. The result may be
// up to cacheTTL old; callers that need exact numbers use GetEvent.
func (s *EventService) ActiveEvents(ctx context.Context) ([]*domain.EventDetail, error) {
	s.cacheMu.RLock()
	if s.active != nil && s.now().Sub(s.cachedAt) < s.cacheTTL {
		out := s.active
		s.cacheMu.RUnlock()
		return out, nil
	}
	s.cacheMu.RUnlock()

	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.active, nil
}

// Refresh reloads the active-event cache from the store.
func (s *EventService) Refresh(ctx context.Context) error {
	events, err := s.store.ListEvents(ctx, repository.EventFilter{Status: domain.EventStatusActive, Limit: 500})
	if err != nil {
		return fmt.Errorf("event_service.Refresh: %w", err)
	}
	details := make([]*domain.EventDetail, 0, len(events))
	for _, ev := range events {
		opts, err := s.store.ListOptions(ctx, ev.ID)
		if err != nil {
			return fmt.Errorf("event_service.Refresh: options %s: %w", ev.ID, err)
		}
		details = append(details, &domain.EventDetail{Event: ev, Options: opts})
	}

	s.cacheMu.Lock()
	s.active = details
	s.cachedAt = s.now()
	s.cacheMu.Unlock()
	return nil
}

// Invalidate drops the cache so the next ActiveEvents call reloads it.
func (s *EventService) Invalidate() {
	s.cacheMu.Lock()
	s.active = nil
	s.cachedAt = time.Time{}
	s.cacheMu.Unlock()
}

// ──────────────────────────────────────────────────────────────────────────────
// Admin operations
// ──────────────────────────────────────────────────────────────────────────────

// CancelEvent refunds every active bet and marks the event cancelled through
// the injected Refunder.
func (s *EventService) CancelEvent(ctx context.Context, id uuid.UUID, reason string) (int, error) {
	if s.refunder == nil {
		return 0, errors.New("event_service.CancelEvent: refunder not set (call SetRefunder first)")
	}
	n, err := s.refunder.CancelEvent(ctx, id, reason)
	if err != nil {
		return 0, fmt.Errorf("event_service.CancelEvent: %w", err)
	}
	s.Invalidate()
	return n, nil
}
