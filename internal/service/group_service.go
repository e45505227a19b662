package service

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/linguahub/lingua-api/internal/dto"
	"github.com/linguahub/lingua-api/internal/models"
	"github.com/linguahub/lingua-api/internal/repository"
)

var (
	ErrGroupNotFound = errors.New("group not found")
	ErrUserNotFound  = errors.New("user not found")
)

// GroupService manages study groups. Every group owns a backing group chat;
// roster changes are mirrored into the chat's participant set.
type GroupService interface {
	CreateGroup(ctx context.Context, req dto.CreateGroupRequest) (dto.GroupResponse, error)
	GetGroup(ctx context.Context, groupID string) (dto.GroupResponse, error)
	ListGroups(ctx context.Context) ([]dto.GroupResponse, error)
	AddMember(ctx context.Context, groupID, userID string) error
	RemoveMember(ctx context.Context, groupID, userID string) error
}

type groupService struct {
	groups    repository.GroupRepository
	chats     repository.ChatRepository
	users     repository.UserRepository
	directory ChatService
	validator *validator.Validate
	logger    zerolog.Logger
}

func NewGroupService(groups repository.GroupRepository, chats repository.ChatRepository, users repository.UserRepository, directory ChatService, validate *validator.Validate, logger zerolog.Logger) GroupService {
	return &groupService{
		groups:    groups,
		chats:     chats,
		users:     users,
		directory: directory,
		validator: validate,
		logger:    logger.With().Str("component", "group_service").Logger(),
	}
}

func (s *groupService) CreateGroup(ctx context.Context, req dto.CreateGroupRequest) (dto.GroupResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.GroupResponse{}, err
	}

	teacher, err := s.users.FindByID(ctx, req.TeacherID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.GroupResponse{}, ErrUserNotFound
		}
		return dto.GroupResponse{}, err
	}

	group := models.Group{
		Name:      req.Name,
		Level:     req.Level,
		TeacherID: teacher.ID,
		IsActive:  true,
	}
	if err := s.groups.Create(ctx, &group); err != nil {
		return dto.GroupResponse{}, err
	}

	chat, err := s.directory.CreateGroupChat(ctx, group.ID, group.Name, teacher.ID)
	if err != nil {
		// The group exists without its chat; surface the failure so the
		// caller can retry chat provisioning.
		s.logger.Error().Err(err).Str("group_id", group.ID).Msg("failed to open backing chat")
		return dto.GroupResponse{}, err
	}

	s.logger.Info().Str("group_id", group.ID).Str("chat_id", chat.ID).Msg("group created")
	return dto.NewGroupResponse(group, chat.ID), nil
}

func (s *groupService) GetGroup(ctx context.Context, groupID string) (dto.GroupResponse, error) {
	group, err := s.groups.FindByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.GroupResponse{}, ErrGroupNotFound
		}
		return dto.GroupResponse{}, err
	}
	return dto.NewGroupResponse(group, s.chatIDFor(ctx, groupID)), nil
}

func (s *groupService) ListGroups(ctx context.Context) ([]dto.GroupResponse, error) {
	groups, err := s.groups.List(ctx)
	if err != nil {
		return nil, err
	}

	responses := make([]dto.GroupResponse, 0, len(groups))
	for _, group := range groups {
		responses = append(responses, dto.NewGroupResponse(group, s.chatIDFor(ctx, group.ID)))
	}
	return responses, nil
}

func (s *groupService) AddMember(ctx context.Context, groupID, userID string) error {
	chat, err := s.backingChat(ctx, groupID)
	if err != nil {
		return err
	}
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	return s.directory.JoinChat(ctx, chat.ID, userID, false)
}

func (s *groupService) RemoveMember(ctx context.Context, groupID, userID string) error {
	chat, err := s.backingChat(ctx, groupID)
	if err != nil {
		return err
	}
	return s.directory.LeaveChat(ctx, chat.ID, userID)
}

func (s *groupService) backingChat(ctx context.Context, groupID string) (models.Chat, error) {
	if _, err := s.groups.FindByID(ctx, groupID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Chat{}, ErrGroupNotFound
		}
		return models.Chat{}, err
	}

	chat, err := s.chats.FindChatByGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Chat{}, ErrChatNotFound
		}
		return models.Chat{}, err
	}
	return chat, nil
}

func (s *groupService) chatIDFor(ctx context.Context, groupID string) string {
	chat, err := s.chats.FindChatByGroup(ctx, groupID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn().Err(err).Str("group_id", groupID).Msg("failed to resolve backing chat")
		}
		return ""
	}
	return chat.ID
}
