package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/evetabi/betledger/internal/domain"
)

// DialogueStore keeps one dialogue state per user, expiring with the state.
type DialogueStore struct {
	rdb *redis.Client
	now func() time.Time
}

// NewDialogueStore returns a store on c.
func NewDialogueStore(c *Client) *DialogueStore {
	return &DialogueStore{rdb: c.rdb, now: time.Now}
}

func dialogueKey(userID int64) string {
	return "dialogue:" + strconv.FormatInt(userID, 10)
}

// Get returns the stored state, or Idle when none is stored.
func (s *DialogueStore) Get(ctx context.Context, userID int64) (domain.DialogueState, error) {
	raw, err := s.rdb.Get(ctx, dialogueKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Idle{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get dialogue %d: %w", userID, err)
	}
	return domain.UnmarshalDialogueState(raw)
}

// Put overwrites the user's state. Idle or already expired states delete it.
func (s *DialogueStore) Put(ctx context.Context, userID int64, st domain.DialogueState) error {
	ttl := st.Expiry().Sub(s.now())
	if st.Kind() == domain.KindIdle || ttl <= 0 {
		return s.Delete(ctx, userID)
	}
	raw, err := domain.MarshalDialogueState(st)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, dialogueKey(userID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis: put dialogue %d: %w", userID, err)
	}
	return nil
}

// Delete removes the user's state.
func (s *DialogueStore) Delete(ctx context.Context, userID int64) error {
	if err := s.rdb.Del(ctx, dialogueKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis: delete dialogue %d: %w", userID, err)
	}
	return nil
}
