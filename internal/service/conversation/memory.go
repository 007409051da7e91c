package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/voicedesk/assistant/backend/internal/model/conversation"
	"github.com/voicedesk/assistant/backend/internal/model/user"
)

// MemoryStore keeps turns in process memory. Suitable for tests and for
// running without a database.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	turns  map[int64][]conversation.Turn
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		turns: make(map[int64][]conversation.Turn),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Append(_ context.Context, identity user.Identity, input, reply string) (conversation.Turn, error) {
	if err := validIdentity(identity); err != nil {
		return conversation.Turn{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	turn := conversation.Turn{
		ID:          s.nextID,
		UserID:      identity.ID,
		UserText:    input,
		LLMResponse: reply,
		CreatedAt:   s.now(),
	}

	existing := s.turns[identity.ID]
	if n := len(existing); n > 0 && turn.CreatedAt.Before(existing[n-1].CreatedAt) {
		// Keep timestamps non-decreasing per user if the clock steps back.
		turn.CreatedAt = existing[n-1].CreatedAt
	}

	s.turns[identity.ID] = append(existing, turn)
	return turn, nil
}

func (s *MemoryStore) Recent(_ context.Context, identity user.Identity, limit int) ([]conversation.Turn, error) {
	if err := validIdentity(identity); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []conversation.Turn{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.turns[identity.ID], limit), nil
}

func (s *MemoryStore) List(_ context.Context, identity user.Identity) ([]conversation.Turn, error) {
	if err := validIdentity(identity); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := s.turns[identity.ID]
	return newestFirst(turns, len(turns)), nil
}

func (s *MemoryStore) Count(_ context.Context, identity user.Identity) (int64, error) {
	if err := validIdentity(identity); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.turns[identity.ID])), nil
}

func (s *MemoryStore) Clear(_ context.Context, identity user.Identity) (int64, error) {
	if err := validIdentity(identity); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := int64(len(s.turns[identity.ID]))
	delete(s.turns, identity.ID)
	return removed, nil
}

func newestFirst(turns []conversation.Turn, limit int) []conversation.Turn {
	if limit > len(turns) {
		limit = len(turns)
	}
	out := make([]conversation.Turn, 0, limit)
	for i := len(turns) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, turns[i])
	}
	return out
}
