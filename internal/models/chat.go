package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ChatType distinguishes one-to-one conversations from group rooms.
type ChatType string

const (
	ChatTypeDirect ChatType = "DIRECT"
	ChatTypeGroup  ChatType = "GROUP"
)

// MessageType classifies message payloads.
type MessageType string

const (
	MessageTypeText       MessageType = "TEXT"
	MessageTypeVocabulary MessageType = "VOCABULARY"
	MessageTypeSystem     MessageType = "SYSTEM"
	MessageTypeFile       MessageType = "FILE"
	MessageTypeVoice      MessageType = "VOICE"
)

// Chat is a conversation. A GROUP chat is backed by exactly one group and is
// never hard-deleted, only deactivated.
type Chat struct {
	ID           string            `gorm:"type:uuid;primaryKey" json:"id"`
	Type         ChatType          `gorm:"size:16;index;not null" json:"type"`
	Name         string            `gorm:"size:255" json:"name,omitempty"`
	GroupID      *string           `gorm:"type:uuid;uniqueIndex" json:"group_id,omitempty"`
	IsActive     bool              `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `gorm:"index" json:"updated_at"`
	Participants []ChatParticipant `json:"participants,omitempty"`
}

// BeforeCreate assigns a UUID primary key when none is provided.
func (c *Chat) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// ChatParticipant links a user to a chat. The user is active in the chat while
// LeftAt is null; LastReadAt is the unread-count watermark.
type ChatParticipant struct {
	ID         string     `gorm:"type:uuid;primaryKey" json:"id"`
	ChatID     string     `gorm:"type:uuid;not null;uniqueIndex:idx_chat_participant" json:"chat_id"`
	UserID     string     `gorm:"type:uuid;not null;uniqueIndex:idx_chat_participant" json:"user_id"`
	IsAdmin    bool       `gorm:"not null;default:false" json:"is_admin"`
	JoinedAt   time.Time  `json:"joined_at"`
	LeftAt     *time.Time `json:"left_at,omitempty"`
	LastReadAt *time.Time `json:"last_read_at,omitempty"`
	User       User       `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// BeforeCreate assigns a UUID primary key and the join timestamp.
func (p *ChatParticipant) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	return nil
}

// Message is an append-mostly chat record. A nil Content marks a tombstone:
// soft-deleted messages keep their row so ordering and audit history survive.
type Message struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"id"`
	ChatID    string         `gorm:"type:uuid;not null;index:idx_messages_chat_created,priority:1" json:"chat_id"`
	SenderID  string         `gorm:"type:uuid;not null;index" json:"sender_id"`
	Type      MessageType    `gorm:"size:16;not null;default:TEXT" json:"type"`
	Content   *string        `gorm:"type:text" json:"content"`
	FileURL   *string        `gorm:"size:512" json:"file_url,omitempty"`
	FileName  *string        `gorm:"size:255" json:"file_name,omitempty"`
	FileSize  *int64         `json:"file_size,omitempty"`
	Duration  *int           `json:"duration,omitempty"`
	IsEdited  bool           `gorm:"not null;default:false" json:"is_edited"`
	EditedAt  *time.Time     `json:"edited_at,omitempty"`
	IsSystem  bool           `gorm:"not null;default:false" json:"is_system"`
	Metadata  datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt time.Time      `gorm:"index:idx_messages_chat_created,priority:2" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Sender    User           `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
}

// BeforeCreate assigns a UUID primary key when none is provided.
func (m *Message) BeforeCreate(_ *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// Metadata kinds stored on messages. Keeping the payload tagged lets consumers
// switch exhaustively instead of probing an open-ended blob.
const (
	MetadataKindVocabulary = "vocabulary"
	MetadataKindDeletion   = "deletion"
)

// MessageMetadata is the tagged variant serialized into Message.Metadata.
type MessageMetadata struct {
	Kind      string     `json:"kind"`
	Words     []string   `json:"words,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// VocabularyMetadata builds the metadata payload for a vocabulary announcement.
func VocabularyMetadata(words []string) datatypes.JSON {
	payload, _ := json.Marshal(MessageMetadata{Kind: MetadataKindVocabulary, Words: words})
	return datatypes.JSON(payload)
}

// DeletionMetadata builds the tombstone marker stamped on soft-deleted messages.
func DeletionMetadata(at time.Time) datatypes.JSON {
	payload, _ := json.Marshal(MessageMetadata{Kind: MetadataKindDeletion, DeletedAt: &at})
	return datatypes.JSON(payload)
}

// DecodeMetadata parses the metadata payload. The second return is false when
// the message carries no metadata or the payload is not a tagged variant.
func (m *Message) DecodeMetadata() (MessageMetadata, bool) {
	if len(m.Metadata) == 0 {
		return MessageMetadata{}, false
	}

	var meta MessageMetadata
	if err := json.Unmarshal(m.Metadata, &meta); err != nil || meta.Kind == "" {
		return MessageMetadata{}, false
	}
	return meta, true
}
