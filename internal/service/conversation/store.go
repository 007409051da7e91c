package conversation

import (
	"context"
	"errors"

	"github.com/voicedesk/assistant/backend/internal/model/conversation"
	"github.com/voicedesk/assistant/backend/internal/model/user"
)

var ErrIdentityRequired = errors.New("identity is required")

// Store is the durable, append-only log of turns per user.
//
// Turns are ordered by creation: ids are assigned in append order, so Recent
// and List return the highest ids first.
type Store interface {
	// Append writes input and reply together as one new turn.
	Append(ctx context.Context, identity user.Identity, input, reply string) (conversation.Turn, error)
	// Recent returns at most limit turns, newest first.
	Recent(ctx context.Context, identity user.Identity, limit int) ([]conversation.Turn, error)
	// List returns every turn of the user, newest first.
	List(ctx context.Context, identity user.Identity) ([]conversation.Turn, error)
	Count(ctx context.Context, identity user.Identity) (int64, error)
	// Clear deletes every turn of the user and reports how many were removed.
	Clear(ctx context.Context, identity user.Identity) (int64, error)
}

// Chronological reverses newest-first turns into oldest-first history.
func Chronological(turns []conversation.Turn) []conversation.HistoryEntry {
	history := make([]conversation.HistoryEntry, len(turns))
	for i, turn := range turns {
		history[len(turns)-1-i] = conversation.HistoryEntry{
			InputText: turn.UserText,
			ReplyText: turn.LLMResponse,
		}
	}
	return history
}

func validIdentity(identity user.Identity) error {
	if identity.ID <= 0 {
		return ErrIdentityRequired
	}
	return nil
}
