package dto

import (
	"time"

	"github.com/linguahub/lingua-api/internal/models"
)

// CreateGroupRequest creates a study group with its backing group chat.
type CreateGroupRequest struct {
	Name      string `json:"name" validate:"required,min=2,max=120"`
	Level     string `json:"level" validate:"omitempty,max=32"`
	TeacherID string `json:"teacher_id" validate:"required,uuid4"`
}

// GroupMemberRequest adds or removes a roster member.
type GroupMemberRequest struct {
	UserID string `json:"user_id" validate:"required,uuid4"`
}

// GroupResponse is the API representation of a study group.
type GroupResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Level     string    `json:"level,omitempty"`
	TeacherID string    `json:"teacher_id"`
	IsActive  bool      `json:"is_active"`
	ChatID    string    `json:"chat_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewGroupResponse maps a group model, optionally attaching its backing chat id.
func NewGroupResponse(group models.Group, chatID string) GroupResponse {
	return GroupResponse{
		ID:        group.ID,
		Name:      group.Name,
		Level:     group.Level,
		TeacherID: group.TeacherID,
		IsActive:  group.IsActive,
		ChatID:    chatID,
		CreatedAt: group.CreatedAt,
		UpdatedAt: group.UpdatedAt,
	}
}
