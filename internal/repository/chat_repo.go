package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/linguahub/lingua-api/internal/models"
)

// ChatRepository persists chats, participants and messages.
type ChatRepository interface {
	ListChatsForUser(ctx context.Context, userID string) ([]models.Chat, error)
	GetChat(ctx context.Context, chatID string) (models.Chat, error)
	FindDirectChat(ctx context.Context, userA, userB string) (models.Chat, error)
	FindChatByGroup(ctx context.Context, groupID string) (models.Chat, error)
	CreateChat(ctx context.Context, chat *models.Chat) error
	TouchChat(ctx context.Context, chatID string, at time.Time) error

	GetParticipant(ctx context.Context, chatID, userID string) (models.ChatParticipant, error)
	JoinParticipant(ctx context.Context, participant *models.ChatParticipant) error
	LeaveParticipant(ctx context.Context, chatID, userID string, at time.Time) error
	SetLastRead(ctx context.Context, chatID, userID string, at time.Time) (int64, error)

	CreateMessage(ctx context.Context, message *models.Message) error
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	UpdateMessage(ctx context.Context, message *models.Message) error
	ListMessages(ctx context.Context, chatID, cursor string, limit int) ([]models.Message, error)
	LastMessage(ctx context.Context, chatID string) (models.Message, error)
	UnreadCount(ctx context.Context, chatID, userID string, since *time.Time) (int64, error)
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository constructs a chat repository backed by GORM.
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) ListChatsForUser(ctx context.Context, userID string) ([]models.Chat, error) {
	var chats []models.Chat
	err := r.db.WithContext(ctx).
		Joins("JOIN chat_participants cp ON cp.chat_id = chats.id AND cp.user_id = ? AND cp.left_at IS NULL", userID).
		Where("chats.is_active = ?", true).
		Preload("Participants", "left_at IS NULL").
		Preload("Participants.User").
		Order("chats.updated_at DESC").
		Find(&chats).Error
	if err != nil {
		return nil, err
	}
	return chats, nil
}

func (r *chatRepository) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	var chat models.Chat
	err := r.db.WithContext(ctx).
		Preload("Participants", "left_at IS NULL").
		Preload("Participants.User").
		First(&chat, "id = ?", chatID).Error
	if err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

// FindDirectChat matches the DIRECT chat whose active membership is exactly the
// unordered pair {userA, userB}.
func (r *chatRepository) FindDirectChat(ctx context.Context, userA, userB string) (models.Chat, error) {
	var chat models.Chat
	err := r.db.WithContext(ctx).
		Joins("JOIN chat_participants pa ON pa.chat_id = chats.id AND pa.user_id = ? AND pa.left_at IS NULL", userA).
		Joins("JOIN chat_participants pb ON pb.chat_id = chats.id AND pb.user_id = ? AND pb.left_at IS NULL", userB).
		Where("chats.type = ?", models.ChatTypeDirect).
		Where("(SELECT COUNT(*) FROM chat_participants cp WHERE cp.chat_id = chats.id AND cp.left_at IS NULL) = 2").
		Preload("Participants", "left_at IS NULL").
		Preload("Participants.User").
		First(&chat).Error
	if err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

func (r *chatRepository) FindChatByGroup(ctx context.Context, groupID string) (models.Chat, error) {
	var chat models.Chat
	err := r.db.WithContext(ctx).
		Preload("Participants", "left_at IS NULL").
		Preload("Participants.User").
		First(&chat, "group_id = ?", groupID).Error
	if err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

func (r *chatRepository) CreateChat(ctx context.Context, chat *models.Chat) error {
	return r.db.WithContext(ctx).Create(chat).Error
}

func (r *chatRepository) TouchChat(ctx context.Context, chatID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Chat{}).Where("id = ?", chatID).
		Update("updated_at", at).Error
}

func (r *chatRepository) GetParticipant(ctx context.Context, chatID, userID string) (models.ChatParticipant, error) {
	var participant models.ChatParticipant
	err := r.db.WithContext(ctx).
		First(&participant, "chat_id = ? AND user_id = ?", chatID, userID).Error
	if err != nil {
		return models.ChatParticipant{}, err
	}
	return participant, nil
}

// JoinParticipant creates the membership row, or clears leftAt when the user
// re-joins a chat they previously left.
func (r *chatRepository) JoinParticipant(ctx context.Context, participant *models.ChatParticipant) error {
	var existing models.ChatParticipant
	err := r.db.WithContext(ctx).
		First(&existing, "chat_id = ? AND user_id = ?", participant.ChatID, participant.UserID).Error
	if err == nil {
		return r.db.WithContext(ctx).Model(&existing).
			Updates(map[string]interface{}{"left_at": nil, "is_admin": participant.IsAdmin}).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	return r.db.WithContext(ctx).Create(participant).Error
}

func (r *chatRepository) LeaveParticipant(ctx context.Context, chatID, userID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.ChatParticipant{}).
		Where("chat_id = ? AND user_id = ? AND left_at IS NULL", chatID, userID).
		Update("left_at", at).Error
}

// SetLastRead advances the caller's read watermark. The returned count is zero
// when the user is not an active participant, which callers treat as a no-op.
func (r *chatRepository) SetLastRead(ctx context.Context, chatID, userID string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.ChatParticipant{}).
		Where("chat_id = ? AND user_id = ? AND left_at IS NULL", chatID, userID).
		Update("last_read_at", at)
	return result.RowsAffected, result.Error
}

func (r *chatRepository) CreateMessage(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *chatRepository) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var message models.Message
	if err := r.db.WithContext(ctx).First(&message, "id = ?", messageID).Error; err != nil {
		return models.Message{}, err
	}
	return message, nil
}

func (r *chatRepository) UpdateMessage(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Save(message).Error
}

// ListMessages fetches up to limit messages before the cursor message in
// reverse-chronological order. Pass limit+1 to detect a further page; callers
// reverse the slice for clients.
func (r *chatRepository) ListMessages(ctx context.Context, chatID, cursor string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := r.db.WithContext(ctx).Where("chat_id = ?", chatID)

	if cursor != "" {
		var pivot models.Message
		if err := r.db.WithContext(ctx).First(&pivot, "id = ? AND chat_id = ?", cursor, chatID).Error; err != nil {
			return nil, err
		}
		// (created_at, id) tuple comparison keeps pages stable when
		// timestamps collide.
		query = query.Where("created_at < ? OR (created_at = ? AND id < ?)",
			pivot.CreatedAt, pivot.CreatedAt, pivot.ID)
	}

	var messages []models.Message
	err := query.
		Preload("Sender").
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *chatRepository) LastMessage(ctx context.Context, chatID string) (models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).
		Preload("Sender").
		Where("chat_id = ?", chatID).
		Order("created_at DESC").Order("id DESC").
		First(&message).Error
	if err != nil {
		return models.Message{}, err
	}
	return message, nil
}

// UnreadCount counts messages authored by others after the watermark. A nil
// watermark means the user has never read the chat, so the total message count
// is reported instead.
func (r *chatRepository) UnreadCount(ctx context.Context, chatID, userID string, since *time.Time) (int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Message{}).Where("chat_id = ?", chatID)
	if since != nil {
		query = query.Where("sender_id <> ? AND created_at > ?", userID, *since)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
