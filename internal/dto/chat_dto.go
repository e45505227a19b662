package dto

import (
	"time"

	"github.com/linguahub/lingua-api/internal/models"
)

// UserSummary is the compact sender/participant projection embedded in chat payloads.
type UserSummary struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Role      string `json:"role,omitempty"`
}

// NewUserSummary projects a user model into its chat summary.
func NewUserSummary(user models.User) UserSummary {
	return UserSummary{
		ID:        user.ID,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		AvatarURL: user.AvatarURL,
		Role:      string(user.Role),
	}
}

// ParticipantResponse describes an active chat member.
type ParticipantResponse struct {
	UserID     string      `json:"user_id"`
	IsAdmin    bool        `json:"is_admin"`
	JoinedAt   time.Time   `json:"joined_at"`
	LastReadAt *time.Time  `json:"last_read_at,omitempty"`
	User       UserSummary `json:"user"`
}

// NewParticipantResponse converts a participant row with its preloaded user.
func NewParticipantResponse(participant models.ChatParticipant) ParticipantResponse {
	return ParticipantResponse{
		UserID:     participant.UserID,
		IsAdmin:    participant.IsAdmin,
		JoinedAt:   participant.JoinedAt,
		LastReadAt: participant.LastReadAt,
		User:       NewUserSummary(participant.User),
	}
}

// MessageResponse is the serialized representation of a chat message.
// Content is null for tombstoned (soft-deleted) messages.
type MessageResponse struct {
	ID        string                  `json:"id"`
	ChatID    string                  `json:"chat_id"`
	SenderID  string                  `json:"sender_id"`
	Type      string                  `json:"type"`
	Content   *string                 `json:"content"`
	FileURL   *string                 `json:"file_url,omitempty"`
	FileName  *string                 `json:"file_name,omitempty"`
	FileSize  *int64                  `json:"file_size,omitempty"`
	Duration  *int                    `json:"duration,omitempty"`
	IsEdited  bool                    `json:"is_edited"`
	EditedAt  *time.Time              `json:"edited_at,omitempty"`
	IsSystem  bool                    `json:"is_system"`
	Metadata  *models.MessageMetadata `json:"metadata,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
	Sender    *UserSummary            `json:"sender,omitempty"`
}

// NewMessageResponse converts a message model into a DTO. The sender summary is
// attached when preloaded; delivery never depends on it.
func NewMessageResponse(message models.Message) MessageResponse {
	response := MessageResponse{
		ID:        message.ID,
		ChatID:    message.ChatID,
		SenderID:  message.SenderID,
		Type:      string(message.Type),
		Content:   message.Content,
		FileURL:   message.FileURL,
		FileName:  message.FileName,
		FileSize:  message.FileSize,
		Duration:  message.Duration,
		IsEdited:  message.IsEdited,
		EditedAt:  message.EditedAt,
		IsSystem:  message.IsSystem,
		CreatedAt: message.CreatedAt,
		UpdatedAt: message.UpdatedAt,
	}

	if meta, ok := message.DecodeMetadata(); ok {
		response.Metadata = &meta
	}

	if message.Sender.ID != "" {
		sender := NewUserSummary(message.Sender)
		response.Sender = &sender
	}

	return response
}

// NewMessageResponseSlice converts a slice of models into DTOs.
func NewMessageResponseSlice(messages []models.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewMessageResponse(message))
	}
	return out
}

// ChatResponse describes a chat annotated for the calling user.
type ChatResponse struct {
	ID           string                `json:"id"`
	Type         string                `json:"type"`
	Name         string                `json:"name,omitempty"`
	GroupID      *string               `json:"group_id,omitempty"`
	Participants []ParticipantResponse `json:"participants"`
	LastMessage  *MessageResponse      `json:"last_message,omitempty"`
	UnreadCount  int64                 `json:"unread_count"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// NewChatResponse converts a chat with preloaded active participants.
func NewChatResponse(chat models.Chat) ChatResponse {
	participants := make([]ParticipantResponse, 0, len(chat.Participants))
	for _, participant := range chat.Participants {
		participants = append(participants, NewParticipantResponse(participant))
	}

	return ChatResponse{
		ID:           chat.ID,
		Type:         string(chat.Type),
		Name:         chat.Name,
		GroupID:      chat.GroupID,
		Participants: participants,
		CreatedAt:    chat.CreatedAt,
		UpdatedAt:    chat.UpdatedAt,
	}
}

// MessagePage is a cursor-paginated slice of messages in chronological order.
type MessagePage struct {
	Items      []MessageResponse `json:"items"`
	HasMore    bool              `json:"has_more"`
	NextCursor *string           `json:"next_cursor,omitempty"`
}

// CreateChatRequest is the payload to open a direct chat.
type CreateChatRequest struct {
	ParticipantIDs []string `json:"participant_ids" validate:"required,min=1,dive,required,uuid4"`
	Name           string   `json:"name" validate:"omitempty,max=255"`
}

// SendMessageRequest is the payload to post a message into a chat.
// Either content or a file reference must be present; the service enforces it.
type SendMessageRequest struct {
	Type     string  `json:"type" validate:"omitempty,oneof=TEXT FILE VOICE"`
	Content  string  `json:"content" validate:"omitempty,max=4000"`
	FileURL  *string `json:"file_url" validate:"omitempty,url,max=512"`
	FileName *string `json:"file_name" validate:"omitempty,max=255"`
	FileSize *int64  `json:"file_size" validate:"omitempty,min=0"`
	Duration *int    `json:"duration" validate:"omitempty,min=0"`
}

// EditMessageRequest replaces the content of a TEXT message.
type EditMessageRequest struct {
	Content string `json:"content" validate:"required,min=1,max=4000"`
}

// VocabularyRequest is the structured announcement payload for chat admins.
type VocabularyRequest struct {
	Words []string `json:"words" validate:"required,min=1,max=50,dive,required,max=100"`
}

// MessagesQuery carries pagination parameters for the message history endpoint.
type MessagesQuery struct {
	Cursor string `query:"cursor" validate:"omitempty,uuid4"`
	Take   int    `query:"take" validate:"omitempty,min=1,max=100"`
}
