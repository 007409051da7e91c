package conversation

import "time"

// Turn persists one utterance and the reply generated for it.
type Turn struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      int64     `gorm:"not null;index:idx_conversations_user_created,priority:1" json:"-"`
	UserText    string    `gorm:"type:text;not null" json:"user_text"`
	LLMResponse string    `gorm:"type:text;not null" json:"llm_response"`
	CreatedAt   time.Time `gorm:"not null;index:idx_conversations_user_created,priority:2" json:"created_at"`
}

// TableName pins the table to conversations.
func (Turn) TableName() string {
	return "conversations"
}

// HistoryEntry is a turn as seen by the response generator.
type HistoryEntry struct {
	InputText string
	ReplyText string
}
