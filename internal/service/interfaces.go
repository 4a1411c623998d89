package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evetabi/betledger/internal/domain"
	"github.com/evetabi/betledger/internal/oracle"
)

// ──────────────────────────────────────────────────────────────────────────────
// Collaborators injected into the services. Each one is optional unless the
// constructor says otherwise; a nil collaborator is simply skipped.
// ──────────────────────────────────────────────────────────────────────────────

// Notifier delivers a best-effort message to a user. Implemented by
// notify.Dispatcher; it must not block.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string)
}

// Broadcaster pushes live updates to websocket clients. Implemented by ws.Hub.
type Broadcaster interface {
	BroadcastPoolUpdate(detail *domain.EventDetail)
	BroadcastResolution(ev *domain.Event, res *domain.Resolution)
}

// EventPublisher emits domain events after commit. Implemented by
// publish.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, key string, payload any)
}

// PaymentGateway creates and refunds external charges. Implemented by
// telegram.StarsGateway.
type PaymentGateway interface {
	CreateInvoice(ctx context.Context, req domain.InvoiceRequest) (string, error)
	Refund(ctx context.Context, userID int64, providerChargeID string) error
}

// DialogueStore keeps the current dialogue state of each user.
type DialogueStore interface {
	Get(ctx context.Context, userID int64) (domain.DialogueState, error)
	Put(ctx context.Context, userID int64, st domain.DialogueState) error
	Delete(ctx context.Context, userID int64) error
}

// Locker grants a named, TTL-bounded exclusive lock.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// OracleClient is the decision service contract.
type OracleClient interface {
	SubmitJob(ctx context.Context, prompt string) (string, error)
	JobStatus(ctx context.Context, jobID string) (*oracle.JobStatus, error)
}

// TranscriptArchiver stores oracle transcripts.
type TranscriptArchiver interface {
	PutTranscript(ctx context.Context, eventID uuid.UUID, data []byte) (string, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// In-process fallbacks used when Redis is not configured
// ──────────────────────────────────────────────────────────────────────────────

// MemoryDialogueStore is a DialogueStore for a single process.
type MemoryDialogueStore struct {
	mu     sync.Mutex
	states map[int64]domain.DialogueState
}

// NewMemoryDialogueStore returns an empty store.
func NewMemoryDialogueStore() *MemoryDialogueStore {
	return &MemoryDialogueStore{states: make(map[int64]domain.DialogueState)}
}

func (m *MemoryDialogueStore) Get(_ context.Context, userID int64) (domain.DialogueState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[userID]; ok {
		return st, nil
	}
	return domain.Idle{}, nil
}

func (m *MemoryDialogueStore) Put(_ context.Context, userID int64, st domain.DialogueState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st == nil || st.Kind() == domain.KindIdle {
		delete(m.states, userID)
		return nil
	}
	m.states[userID] = st
	return nil
}

func (m *MemoryDialogueStore) Delete(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, userID)
	return nil
}

// LocalLocker is a Locker for a single process. TTL is ignored: the lock is
// held until released.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker returns an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, domain.ErrLockNotAcquired
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
