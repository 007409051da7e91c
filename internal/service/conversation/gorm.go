package conversation

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/voicedesk/assistant/backend/internal/model/conversation"
	"github.com/voicedesk/assistant/backend/internal/model/user"
)

// GormStore keeps turns in the conversations table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Append inserts the turn in a single statement, so both texts are written
// together or not at all.
func (s *GormStore) Append(ctx context.Context, identity user.Identity, input, reply string) (conversation.Turn, error) {
	if err := validIdentity(identity); err != nil {
		return conversation.Turn{}, err
	}

	turn := conversation.Turn{
		UserID:      identity.ID,
		UserText:    input,
		LLMResponse: reply,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&turn).Error; err != nil {
		return conversation.Turn{}, fmt.Errorf("append turn: %w", err)
	}
	return turn, nil
}

func (s *GormStore) Recent(ctx context.Context, identity user.Identity, limit int) ([]conversation.Turn, error) {
	if err := validIdentity(identity); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []conversation.Turn{}, nil
	}

	turns := make([]conversation.Turn, 0, limit)
	err := s.scoped(ctx, identity).Order("id DESC").Limit(limit).Find(&turns).Error
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	return turns, nil
}

func (s *GormStore) List(ctx context.Context, identity user.Identity) ([]conversation.Turn, error) {
	if err := validIdentity(identity); err != nil {
		return nil, err
	}

	turns := []conversation.Turn{}
	if err := s.scoped(ctx, identity).Order("id DESC").Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	return turns, nil
}

func (s *GormStore) Count(ctx context.Context, identity user.Identity) (int64, error) {
	if err := validIdentity(identity); err != nil {
		return 0, err
	}

	var count int64
	if err := s.scoped(ctx, identity).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return count, nil
}

func (s *GormStore) Clear(ctx context.Context, identity user.Identity) (int64, error) {
	if err := validIdentity(identity); err != nil {
		return 0, err
	}

	result := s.db.WithContext(ctx).Where("user_id = ?", identity.ID).Delete(&conversation.Turn{})
	if result.Error != nil {
		return 0, fmt.Errorf("clear turns: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *GormStore) scoped(ctx context.Context, identity user.Identity) *gorm.DB {
	return s.db.WithContext(ctx).Model(&conversation.Turn{}).Where("user_id = ?", identity.ID)
}
