package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/linguahub/lingua-api/internal/dto"
	"github.com/linguahub/lingua-api/internal/service"
	"github.com/linguahub/lingua-api/internal/utils"
)

// ChatHandler wires chat endpoints including the websocket upgrade.
type ChatHandler struct {
	service service.ChatService
	gateway service.ChatGateway
	logger  zerolog.Logger
}

// NewChatHandler creates a chat handler instance.
func NewChatHandler(chatService service.ChatService, gateway service.ChatGateway, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		service: chatService,
		gateway: gateway,
		logger:  logger.With().Str("component", "chat_handler").Logger(),
	}
}

// Register binds chat routes under the provided router group.
func (h *ChatHandler) Register(router fiber.Router) {
	router.Get("/chats", h.listChats)
	router.Post("/chats", h.createChat)
	router.Get("/chats/:id", h.getChat)
	router.Get("/chats/:id/messages", h.listMessages)
	router.Post("/chats/:id/messages", h.sendMessage)
	router.Post("/chats/:id/read", h.markRead)
	router.Post("/chats/:id/vocabulary", h.sendVocabulary)
	router.Patch("/messages/:id", h.editMessage)
	router.Delete("/messages/:id", h.deleteMessage)

	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("request_ctx", requestContext(c))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/ws", websocket.New(h.handleConnection))
}

func (h *ChatHandler) handleConnection(conn *websocket.Conn) {
	userID := websocketUserID(conn)
	if userID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "user id missing"))
		_ = conn.Close()
		return
	}

	role := fmt.Sprint(conn.Locals("user_role"))
	correlation := fmt.Sprint(conn.Locals("correlation_id"))
	baseCtx, _ := conn.Locals("request_ctx").(context.Context)

	opts := service.GatewayConnectionOptions{
		UserID:        userID,
		Role:          role,
		CorrelationID: correlation,
		Context:       baseCtx,
	}

	h.logger.Info().Str("user_id", userID).Msg("chat websocket connected")
	h.gateway.ServeConnection(conn, opts)
	h.logger.Info().Str("user_id", userID).Msg("chat websocket disconnected")
}

func (h *ChatHandler) listChats(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	chats, err := h.service.ListChats(requestContext(c), userID)
	if err != nil {
		return h.sendServiceError(c, err, "failed to list chats")
	}
	return utils.SendSuccess(c, "chats", chats)
}

func (h *ChatHandler) createChat(c *fiber.Ctx) error {
	var req dto.CreateChatRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	chat, err := h.service.CreateDirectChat(requestContext(c), userIDFromContext(c), req)
	if err != nil {
		return h.sendServiceError(c, err, "failed to create chat")
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "chat created", chat)
}

func (h *ChatHandler) getChat(c *fiber.Ctx) error {
	chat, err := h.service.GetChat(requestContext(c), c.Params("id"), userIDFromContext(c))
	if err != nil {
		return h.sendServiceError(c, err, "failed to load chat")
	}
	return utils.SendSuccess(c, "chat", chat)
}

func (h *ChatHandler) listMessages(c *fiber.Ctx) error {
	var query dto.MessagesQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	page, err := h.service.ListMessages(requestContext(c), c.Params("id"), userIDFromContext(c), query)
	if err != nil {
		return h.sendServiceError(c, err, "failed to load messages")
	}
	return utils.SendSuccess(c, "messages", page)
}

func (h *ChatHandler) sendMessage(c *fiber.Ctx) error {
	var req dto.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	chatID := c.Params("id")
	message, err := h.service.SendMessage(requestContext(c), chatID, userIDFromContext(c), req)
	if err != nil {
		return h.sendServiceError(c, err, "failed to send message")
	}

	h.gateway.Broadcast(chatID, service.GatewayEvent{
		Event:   service.EventMessageCreated,
		ChatID:  chatID,
		Message: &message,
	})
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", message)
}

func (h *ChatHandler) editMessage(c *fiber.Ctx) error {
	var req dto.EditMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	message, err := h.service.EditMessage(requestContext(c), c.Params("id"), userIDFromContext(c), req)
	if err != nil {
		return h.sendServiceError(c, err, "failed to edit message")
	}

	h.gateway.Broadcast(message.ChatID, service.GatewayEvent{
		Event:   service.EventMessageUpdated,
		ChatID:  message.ChatID,
		Message: &message,
	})
	return utils.SendSuccess(c, "message updated", message)
}

func (h *ChatHandler) deleteMessage(c *fiber.Ctx) error {
	message, err := h.service.DeleteMessage(requestContext(c), c.Params("id"), userIDFromContext(c))
	if err != nil {
		return h.sendServiceError(c, err, "failed to delete message")
	}

	h.gateway.Broadcast(message.ChatID, service.GatewayEvent{
		Event:   service.EventMessageDeleted,
		ChatID:  message.ChatID,
		Message: &message,
	})
	return utils.SendSuccess(c, "message deleted", message)
}

func (h *ChatHandler) markRead(c *fiber.Ctx) error {
	chatID := c.Params("id")
	userID := userIDFromContext(c)

	readAt, applied, err := h.service.MarkAsRead(requestContext(c), chatID, userID)
	if err != nil {
		return h.sendServiceError(c, err, "failed to mark chat as read")
	}

	// Only an advanced watermark is announced to the room.
	if applied {
		h.gateway.Broadcast(chatID, service.GatewayEvent{
			Event:  service.EventReadUpdated,
			ChatID: chatID,
			UserID: userID,
			ReadAt: &readAt,
		})
	}
	return utils.SendSuccess(c, "chat marked as read", fiber.Map{"read_at": readAt})
}

func (h *ChatHandler) sendVocabulary(c *fiber.Ctx) error {
	var req dto.VocabularyRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	chatID := c.Params("id")
	message, err := h.service.SendVocabulary(requestContext(c), chatID, userIDFromContext(c), req)
	if err != nil {
		return h.sendServiceError(c, err, "failed to send vocabulary")
	}

	h.gateway.Broadcast(chatID, service.GatewayEvent{
		Event:   service.EventMessageCreated,
		ChatID:  chatID,
		Message: &message,
	})
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "vocabulary sent", message)
}

func (h *ChatHandler) sendServiceError(c *fiber.Ctx, err error, fallback string) error {
	switch {
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrChatNotFound), errors.Is(err, service.ErrMessageNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrNotParticipant),
		errors.Is(err, service.ErrNotMessageSender),
		errors.Is(err, service.ErrNotChatAdmin):
		return utils.SendError(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrMessageNotEditable),
		errors.Is(err, service.ErrNoParticipants),
		errors.Is(err, service.ErrEmptyMessage):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg(fallback)
		return utils.SendError(c, fiber.StatusInternalServerError, fallback)
	}
}

func websocketUserID(conn *websocket.Conn) string {
	if value := conn.Locals("user_id"); value != nil {
		if id, ok := value.(string); ok {
			return strings.TrimSpace(id)
		}
	}
	return ""
}
