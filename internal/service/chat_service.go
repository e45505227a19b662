package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/linguahub/lingua-api/internal/dto"
	"github.com/linguahub/lingua-api/internal/models"
	"github.com/linguahub/lingua-api/internal/observability"
	"github.com/linguahub/lingua-api/internal/repository"
)

var (
	// ErrChatNotFound indicates the referenced chat does not exist.
	ErrChatNotFound = errors.New("chat not found")
	// ErrMessageNotFound indicates the referenced message does not exist.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotParticipant indicates the caller is not an active participant of the chat.
	ErrNotParticipant = errors.New("caller is not a participant of this chat")
	// ErrNotMessageSender indicates a write on a message the caller did not author.
	ErrNotMessageSender = errors.New("only the original sender may modify this message")
	// ErrMessageNotEditable indicates an edit on a non-text message.
	ErrMessageNotEditable = errors.New("only text messages can be edited")
	// ErrNotChatAdmin indicates a structured announcement from a non-admin participant.
	ErrNotChatAdmin = errors.New("only chat admins can send announcements")
	// ErrNoParticipants indicates a direct chat request without any target participant.
	ErrNoParticipants = errors.New("at least one target participant is required")
	// ErrEmptyMessage indicates a send with neither content nor a file reference.
	ErrEmptyMessage = errors.New("message requires content or a file")
)

// ChatService owns every durable state transition for chats, participants and
// messages. It has no knowledge of live connections.
type ChatService interface {
	ListChats(ctx context.Context, userID string) ([]dto.ChatResponse, error)
	GetChat(ctx context.Context, chatID, callerID string) (dto.ChatResponse, error)
	ListMessages(ctx context.Context, chatID, callerID string, query dto.MessagesQuery) (dto.MessagePage, error)
	CreateDirectChat(ctx context.Context, creatorID string, payload dto.CreateChatRequest) (dto.ChatResponse, error)
	SendMessage(ctx context.Context, chatID, senderID string, payload dto.SendMessageRequest) (dto.MessageResponse, error)
	EditMessage(ctx context.Context, messageID, editorID string, payload dto.EditMessageRequest) (dto.MessageResponse, error)
	DeleteMessage(ctx context.Context, messageID, requesterID string) (dto.MessageResponse, error)
	MarkAsRead(ctx context.Context, chatID, userID string) (time.Time, bool, error)
	SendVocabulary(ctx context.Context, chatID, authorID string, payload dto.VocabularyRequest) (dto.MessageResponse, error)

	CreateGroupChat(ctx context.Context, groupID, name, adminID string) (dto.ChatResponse, error)
	JoinChat(ctx context.Context, chatID, userID string, isAdmin bool) error
	LeaveChat(ctx context.Context, chatID, userID string) error
}

type chatService struct {
	repo      repository.ChatRepository
	users     repository.UserRepository
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
	pageSize  int
	now       func() time.Time
}

// NewChatService constructs the chat directory service.
func NewChatService(repo repository.ChatRepository, users repository.UserRepository, pageSize int, validate *validator.Validate, logger zerolog.Logger) ChatService {
	sanitizer := bluemonday.UGCPolicy()
	sanitizer.AllowElements("br")

	if pageSize <= 0 {
		pageSize = 50
	}

	return &chatService{
		repo:      repo,
		users:     users,
		validator: validate,
		sanitizer: sanitizer,
		logger:    logger.With().Str("component", "chat_service").Logger(),
		tracer:    otel.Tracer("github.com/linguahub/lingua-api/internal/service/chat"),
		pageSize:  pageSize,
		now:       time.Now,
	}
}

func (s *chatService) ListChats(ctx context.Context, userID string) ([]dto.ChatResponse, error) {
	chats, err := s.repo.ListChatsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	responses := make([]dto.ChatResponse, 0, len(chats))
	for _, chat := range chats {
		responses = append(responses, s.annotateChat(ctx, chat, userID))
	}
	return responses, nil
}

func (s *chatService) GetChat(ctx context.Context, chatID, callerID string) (dto.ChatResponse, error) {
	chat, err := s.activeChatFor(ctx, chatID, callerID)
	if err != nil {
		return dto.ChatResponse{}, err
	}
	return s.annotateChat(ctx, chat, callerID), nil
}

func (s *chatService) ListMessages(ctx context.Context, chatID, callerID string, query dto.MessagesQuery) (dto.MessagePage, error) {
	if err := s.validator.Struct(query); err != nil {
		return dto.MessagePage{}, err
	}

	if _, err := s.activeChatFor(ctx, chatID, callerID); err != nil {
		return dto.MessagePage{}, err
	}

	take := query.Take
	if take <= 0 {
		take = s.pageSize
	}

	// One extra row tells us whether an older page exists.
	messages, err := s.repo.ListMessages(ctx, chatID, query.Cursor, take+1)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.MessagePage{}, ErrMessageNotFound
		}
		return dto.MessagePage{}, err
	}

	hasMore := len(messages) > take
	if hasMore {
		messages = messages[:take]
	}

	var nextCursor *string
	if hasMore && len(messages) > 0 {
		oldest := messages[len(messages)-1].ID
		nextCursor = &oldest
	}

	// Reverse to chronological order ascending for clients.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return dto.MessagePage{
		Items:      dto.NewMessageResponseSlice(messages),
		HasMore:    hasMore,
		NextCursor: nextCursor,
	}, nil
}

func (s *chatService) CreateDirectChat(ctx context.Context, creatorID string, payload dto.CreateChatRequest) (dto.ChatResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.ChatResponse{}, err
	}

	members := distinctWith(creatorID, payload.ParticipantIDs)
	if len(members) < 2 {
		return dto.ChatResponse{}, ErrNoParticipants
	}

	spanCtx, span := s.tracer.Start(ctx, "chat.create_direct", trace.WithAttributes(
		attribute.String("chat.creator_id", creatorID),
		attribute.Int("chat.participant_count", len(members)),
	))
	defer span.End()

	// A direct chat between the same two users is unique; return the
	// existing one instead of creating a duplicate.
	if len(members) == 2 {
		existing, err := s.repo.FindDirectChat(spanCtx, members[0], members[1])
		if err == nil {
			return s.annotateChat(spanCtx, existing, creatorID), nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			span.RecordError(err)
			return dto.ChatResponse{}, err
		}
	}

	chat := models.Chat{
		Type:     models.ChatTypeDirect,
		Name:     strings.TrimSpace(payload.Name),
		IsActive: true,
	}
	for i, userID := range members {
		chat.Participants = append(chat.Participants, models.ChatParticipant{
			UserID:  userID,
			IsAdmin: i == 0, // creator is admin
		})
	}

	if err := s.repo.CreateChat(spanCtx, &chat); err != nil {
		span.RecordError(err)
		return dto.ChatResponse{}, err
	}

	created, err := s.repo.GetChat(spanCtx, chat.ID)
	if err != nil {
		// The row exists; answer with what we have rather than failing.
		s.logger.Warn().Err(err).Str("chat_id", chat.ID).Msg("failed to reload created chat")
		created = chat
	}

	observability.ChatsCreated().WithLabelValues(string(models.ChatTypeDirect)).Inc()

	return s.annotateChat(spanCtx, created, creatorID), nil
}

func (s *chatService) SendMessage(ctx context.Context, chatID, senderID string, payload dto.SendMessageRequest) (dto.MessageResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.MessageResponse{}, err
	}

	if _, err := s.activeChatFor(ctx, chatID, senderID); err != nil {
		return dto.MessageResponse{}, err
	}

	clean := strings.TrimSpace(s.sanitizer.Sanitize(payload.Content))
	if clean == "" && payload.FileURL == nil {
		return dto.MessageResponse{}, ErrEmptyMessage
	}

	messageType := models.MessageType(payload.Type)
	if messageType == "" {
		messageType = models.MessageTypeText
	}

	spanCtx, span := s.tracer.Start(ctx, "chat.send", trace.WithAttributes(
		attribute.String("chat.id", chatID),
		attribute.String("chat.sender_id", senderID),
		attribute.String("chat.message_type", string(messageType)),
	))
	defer span.End()

	message := models.Message{
		ChatID:   chatID,
		SenderID: senderID,
		Type:     messageType,
		FileURL:  payload.FileURL,
		FileName: payload.FileName,
		FileSize: payload.FileSize,
		Duration: payload.Duration,
	}
	if clean != "" {
		message.Content = &clean
	}

	if err := s.repo.CreateMessage(spanCtx, &message); err != nil {
		span.RecordError(err)
		return dto.MessageResponse{}, err
	}

	if err := s.repo.TouchChat(spanCtx, chatID, s.now().UTC()); err != nil {
		s.logger.Warn().Err(err).Str("chat_id", chatID).Msg("failed to touch chat after send")
	}

	observability.ChatMessagesSent().WithLabelValues(string(messageType)).Inc()

	s.decorateSender(spanCtx, &message)
	return dto.NewMessageResponse(message), nil
}

func (s *chatService) EditMessage(ctx context.Context, messageID, editorID string, payload dto.EditMessageRequest) (dto.MessageResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.MessageResponse{}, err
	}

	message, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.MessageResponse{}, ErrMessageNotFound
		}
		return dto.MessageResponse{}, err
	}

	if message.SenderID != editorID {
		return dto.MessageResponse{}, ErrNotMessageSender
	}
	if message.Type != models.MessageTypeText {
		return dto.MessageResponse{}, ErrMessageNotEditable
	}
	// A tombstone stays deleted; nulled content is never restored.
	if message.Content == nil || message.IsSystem {
		return dto.MessageResponse{}, ErrMessageNotEditable
	}

	clean := strings.TrimSpace(s.sanitizer.Sanitize(payload.Content))
	if clean == "" {
		return dto.MessageResponse{}, ErrEmptyMessage
	}

	now := s.now().UTC()
	message.Content = &clean
	message.IsEdited = true
	message.EditedAt = &now

	if err := s.repo.UpdateMessage(ctx, &message); err != nil {
		return dto.MessageResponse{}, err
	}

	s.decorateSender(ctx, &message)
	return dto.NewMessageResponse(message), nil
}

func (s *chatService) DeleteMessage(ctx context.Context, messageID, requesterID string) (dto.MessageResponse, error) {
	message, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.MessageResponse{}, ErrMessageNotFound
		}
		return dto.MessageResponse{}, err
	}

	if message.SenderID != requesterID {
		return dto.MessageResponse{}, ErrNotMessageSender
	}

	// A second delete is a no-op; the tombstone is never mutated again.
	if message.Content == nil && message.IsSystem {
		return dto.NewMessageResponse(message), nil
	}

	message.Content = nil
	message.FileURL = nil
	message.FileName = nil
	message.FileSize = nil
	message.Duration = nil
	message.IsSystem = true
	message.Metadata = models.DeletionMetadata(s.now().UTC())

	if err := s.repo.UpdateMessage(ctx, &message); err != nil {
		return dto.MessageResponse{}, err
	}

	return dto.NewMessageResponse(message), nil
}

// MarkAsRead advances the caller's watermark. It is idempotent and silently
// succeeds when the caller is not an active participant, so the read path
// stays cheap on a race with leave. The returned flag tells callers whether a
// watermark actually moved; only then may a read-updated event leave the caller.
func (s *chatService) MarkAsRead(ctx context.Context, chatID, userID string) (time.Time, bool, error) {
	now := s.now().UTC()
	rows, err := s.repo.SetLastRead(ctx, chatID, userID, now)
	if err != nil {
		return time.Time{}, false, err
	}
	if rows == 0 {
		s.logger.Debug().Str("chat_id", chatID).Str("user_id", userID).Msg("mark-as-read skipped for non-participant")
	}
	return now, rows > 0, nil
}

func (s *chatService) SendVocabulary(ctx context.Context, chatID, authorID string, payload dto.VocabularyRequest) (dto.MessageResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.MessageResponse{}, err
	}

	chat, err := s.activeChatFor(ctx, chatID, authorID)
	if err != nil {
		return dto.MessageResponse{}, err
	}

	var isAdmin bool
	for _, participant := range chat.Participants {
		if participant.UserID == authorID && participant.IsAdmin {
			isAdmin = true
			break
		}
	}
	if !isAdmin {
		return dto.MessageResponse{}, ErrNotChatAdmin
	}

	lines := make([]string, 0, len(payload.Words))
	for i, word := range payload.Words {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, strings.TrimSpace(word)))
	}
	content := "Vocabulary for today:\n\n" + strings.Join(lines, "\n")

	message := models.Message{
		ChatID:   chatID,
		SenderID: authorID,
		Type:     models.MessageTypeVocabulary,
		Content:  &content,
		Metadata: models.VocabularyMetadata(payload.Words),
	}

	if err := s.repo.CreateMessage(ctx, &message); err != nil {
		return dto.MessageResponse{}, err
	}

	if err := s.repo.TouchChat(ctx, chatID, s.now().UTC()); err != nil {
		s.logger.Warn().Err(err).Str("chat_id", chatID).Msg("failed to touch chat after announcement")
	}

	observability.ChatMessagesSent().WithLabelValues(string(models.MessageTypeVocabulary)).Inc()

	s.decorateSender(ctx, &message)
	return dto.NewMessageResponse(message), nil
}

// CreateGroupChat opens the backing chat for a group with the group admin as
// chat admin. Called by the groups module when a group is created.
func (s *chatService) CreateGroupChat(ctx context.Context, groupID, name, adminID string) (dto.ChatResponse, error) {
	chat := models.Chat{
		Type:     models.ChatTypeGroup,
		Name:     name,
		GroupID:  &groupID,
		IsActive: true,
	}
	if adminID != "" {
		chat.Participants = append(chat.Participants, models.ChatParticipant{
			UserID:  adminID,
			IsAdmin: true,
		})
	}

	if err := s.repo.CreateChat(ctx, &chat); err != nil {
		return dto.ChatResponse{}, err
	}

	observability.ChatsCreated().WithLabelValues(string(models.ChatTypeGroup)).Inc()

	created, err := s.repo.GetChat(ctx, chat.ID)
	if err != nil {
		created = chat
	}
	return s.annotateChat(ctx, created, adminID), nil
}

// JoinChat mirrors a roster addition into the chat's participant set.
func (s *chatService) JoinChat(ctx context.Context, chatID, userID string, isAdmin bool) error {
	if _, err := s.repo.GetChat(ctx, chatID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrChatNotFound
		}
		return err
	}

	participant := models.ChatParticipant{
		ChatID:  chatID,
		UserID:  userID,
		IsAdmin: isAdmin,
	}
	return s.repo.JoinParticipant(ctx, &participant)
}

// LeaveChat marks the membership as left. History and read watermarks survive.
func (s *chatService) LeaveChat(ctx context.Context, chatID, userID string) error {
	return s.repo.LeaveParticipant(ctx, chatID, userID, s.now().UTC())
}

// activeChatFor loads a chat and authorizes the caller as an active participant.
func (s *chatService) activeChatFor(ctx context.Context, chatID, callerID string) (models.Chat, error) {
	chat, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Chat{}, ErrChatNotFound
		}
		return models.Chat{}, err
	}

	for _, participant := range chat.Participants {
		if participant.UserID == callerID {
			return chat, nil
		}
	}
	return models.Chat{}, ErrNotParticipant
}

// annotateChat decorates a chat with the caller's unread count and the most
// recent message. Annotation failures degrade to zero values instead of
// failing the call.
func (s *chatService) annotateChat(ctx context.Context, chat models.Chat, userID string) dto.ChatResponse {
	response := dto.NewChatResponse(chat)

	var watermark *time.Time
	for _, participant := range chat.Participants {
		if participant.UserID == userID {
			watermark = participant.LastReadAt
			break
		}
	}

	unread, err := s.repo.UnreadCount(ctx, chat.ID, userID, watermark)
	if err != nil {
		s.logger.Warn().Err(err).Str("chat_id", chat.ID).Msg("failed to compute unread count")
	}
	response.UnreadCount = unread

	last, err := s.repo.LastMessage(ctx, chat.ID)
	if err == nil {
		lastResponse := dto.NewMessageResponse(last)
		response.LastMessage = &lastResponse
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Warn().Err(err).Str("chat_id", chat.ID).Msg("failed to load last message")
	}

	return response
}

// decorateSender attaches the sender summary. A directory miss never blocks
// delivery; the message goes out with minimal fields.
func (s *chatService) decorateSender(ctx context.Context, message *models.Message) {
	if message.Sender.ID != "" {
		return
	}
	sender, err := s.users.FindByID(ctx, message.SenderID)
	if err != nil {
		s.logger.Warn().Err(err).Str("sender_id", message.SenderID).Msg("failed to resolve sender summary")
		return
	}
	message.Sender = sender
}

func distinctWith(first string, rest []string) []string {
	seen := map[string]struct{}{first: {}}
	out := []string{first}
	for _, id := range rest {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
