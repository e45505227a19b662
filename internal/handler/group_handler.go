package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/linguahub/lingua-api/internal/dto"
	"github.com/linguahub/lingua-api/internal/service"
	"github.com/linguahub/lingua-api/internal/utils"
)

// GroupHandler exposes study-group management endpoints.
type GroupHandler struct {
	service service.GroupService
	logger  zerolog.Logger
}

// NewGroupHandler creates a group handler instance.
func NewGroupHandler(service service.GroupService, logger zerolog.Logger) *GroupHandler {
	return &GroupHandler{
		service: service,
		logger:  logger.With().Str("component", "group_handler").Logger(),
	}
}

// Register binds group routes under the provided router group.
func (h *GroupHandler) Register(router fiber.Router) {
	router.Get("/groups", h.listGroups)
	router.Post("/groups", h.createGroup)
	router.Get("/groups/:id", h.getGroup)
	router.Post("/groups/:id/members", h.addMember)
	router.Delete("/groups/:id/members/:userId", h.removeMember)
}

func (h *GroupHandler) listGroups(c *fiber.Ctx) error {
	groups, err := h.service.ListGroups(requestContext(c))
	if err != nil {
		return h.sendServiceError(c, err, "failed to list groups")
	}
	return utils.SendSuccess(c, "groups", groups)
}

func (h *GroupHandler) createGroup(c *fiber.Ctx) error {
	var req dto.CreateGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	group, err := h.service.CreateGroup(requestContext(c), req)
	if err != nil {
		return h.sendServiceError(c, err, "failed to create group")
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "group created", group)
}

func (h *GroupHandler) getGroup(c *fiber.Ctx) error {
	group, err := h.service.GetGroup(requestContext(c), c.Params("id"))
	if err != nil {
		return h.sendServiceError(c, err, "failed to load group")
	}
	return utils.SendSuccess(c, "group", group)
}

func (h *GroupHandler) addMember(c *fiber.Ctx) error {
	var req dto.GroupMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.service.AddMember(requestContext(c), c.Params("id"), req.UserID); err != nil {
		return h.sendServiceError(c, err, "failed to add member")
	}
	return utils.SendSuccess(c, "member added", nil)
}

func (h *GroupHandler) removeMember(c *fiber.Ctx) error {
	if err := h.service.RemoveMember(requestContext(c), c.Params("id"), c.Params("userId")); err != nil {
		return h.sendServiceError(c, err, "failed to remove member")
	}
	return utils.SendSuccess(c, "member removed", nil)
}

func (h *GroupHandler) sendServiceError(c *fiber.Ctx, err error, fallback string) error {
	switch {
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrGroupNotFound),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrChatNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg(fallback)
		return utils.SendError(c, fiber.StatusInternalServerError, fallback)
	}
}
