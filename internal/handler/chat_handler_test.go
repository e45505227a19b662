package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/linguahub/lingua-api/internal/dto"
	"github.com/linguahub/lingua-api/internal/service"
)

type stubChatService struct {
	chats           []dto.ChatResponse
	message         dto.MessageResponse
	err             error
	lastSender      string
	markReadApplied bool
}

func (s *stubChatService) ListChats(context.Context, string) ([]dto.ChatResponse, error) {
	return s.chats, s.err
}

func (s *stubChatService) GetChat(context.Context, string, string) (dto.ChatResponse, error) {
	if s.err != nil {
		return dto.ChatResponse{}, s.err
	}
	if len(s.chats) == 0 {
		return dto.ChatResponse{}, service.ErrChatNotFound
	}
	return s.chats[0], nil
}

func (s *stubChatService) ListMessages(context.Context, string, string, dto.MessagesQuery) (dto.MessagePage, error) {
	return dto.MessagePage{Items: []dto.MessageResponse{s.message}}, s.err
}

func (s *stubChatService) CreateDirectChat(context.Context, string, dto.CreateChatRequest) (dto.ChatResponse, error) {
	if s.err != nil {
		return dto.ChatResponse{}, s.err
	}
	return s.chats[0], nil
}

func (s *stubChatService) SendMessage(_ context.Context, _ string, senderID string, _ dto.SendMessageRequest) (dto.MessageResponse, error) {
	s.lastSender = senderID
	return s.message, s.err
}

func (s *stubChatService) EditMessage(context.Context, string, string, dto.EditMessageRequest) (dto.MessageResponse, error) {
	return s.message, s.err
}

func (s *stubChatService) DeleteMessage(context.Context, string, string) (dto.MessageResponse, error) {
	return s.message, s.err
}

func (s *stubChatService) MarkAsRead(context.Context, string, string) (time.Time, bool, error) {
	return time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC), s.markReadApplied, s.err
}

func (s *stubChatService) SendVocabulary(context.Context, string, string, dto.VocabularyRequest) (dto.MessageResponse, error) {
	return s.message, s.err
}

func (s *stubChatService) CreateGroupChat(context.Context, string, string, string) (dto.ChatResponse, error) {
	return dto.ChatResponse{}, s.err
}

func (s *stubChatService) JoinChat(context.Context, string, string, bool) error { return s.err }

func (s *stubChatService) LeaveChat(context.Context, string, string) error { return s.err }

type stubGateway struct {
	broadcasts []service.GatewayEvent
}

func (g *stubGateway) ServeConnection(service.GatewayConn, service.GatewayConnectionOptions) {}

func (g *stubGateway) Broadcast(_ string, event service.GatewayEvent) {
	g.broadcasts = append(g.broadcasts, event)
}

func (g *stubGateway) Start(context.Context) {}

func setupChatApp(svc service.ChatService, gateway service.ChatGateway) *fiber.App {
	app := fiber.New()
	chatHandler := NewChatHandler(svc, gateway, zerolog.New(io.Discard))

	group := app.Group("/api/v1/chat", func(c *fiber.Ctx) error {
		c.Locals("user_id", "user-1")
		c.Locals("user_role", "STUDENT")
		return c.Next()
	})
	chatHandler.Register(group)
	return app
}

func TestListChatsReturnsEnvelope(t *testing.T) {
	svc := &stubChatService{chats: []dto.ChatResponse{{ID: "chat-1", Type: "DIRECT", UnreadCount: 2}}}
	app := setupChatApp(svc, &stubGateway{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/chats", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Success bool               `json:"success"`
		Data    []dto.ChatResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.True(t, payload.Success)
	require.Len(t, payload.Data, 1)
	require.Equal(t, int64(2), payload.Data[0].UnreadCount)
}

func TestSendMessageBroadcastsAndReturnsCreated(t *testing.T) {
	content := "hallo"
	svc := &stubChatService{message: dto.MessageResponse{ID: "msg-1", ChatID: "chat-1", Content: &content}}
	gateway := &stubGateway{}
	app := setupChatApp(svc, gateway)

	body, _ := json.Marshal(dto.SendMessageRequest{Content: content})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/chats/chat-1/messages", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "user-1", svc.lastSender)

	require.Len(t, gateway.broadcasts, 1)
	require.Equal(t, service.EventMessageCreated, gateway.broadcasts[0].Event)
	require.Equal(t, "msg-1", gateway.broadcasts[0].Message.ID)
}

func TestChatErrorsMapToStatusCodes(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"not participant", service.ErrNotParticipant, http.StatusForbidden},
		{"not sender", service.ErrNotMessageSender, http.StatusForbidden},
		{"chat missing", service.ErrChatNotFound, http.StatusNotFound},
		{"message missing", service.ErrMessageNotFound, http.StatusNotFound},
		{"empty message", service.ErrEmptyMessage, http.StatusBadRequest},
		{"not editable", service.ErrMessageNotEditable, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubChatService{err: tc.err}
			gateway := &stubGateway{}
			app := setupChatApp(svc, gateway)

			body, _ := json.Marshal(dto.SendMessageRequest{Content: "x"})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/chats/chat-1/messages", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")

			resp, err := app.Test(req)
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
			require.Empty(t, gateway.broadcasts, "failed sends must not broadcast")
		})
	}
}

func TestMarkReadBroadcastsWatermark(t *testing.T) {
	svc := &stubChatService{markReadApplied: true}
	gateway := &stubGateway{}
	app := setupChatApp(svc, gateway)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/chats/chat-1/read", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, gateway.broadcasts, 1)
	event := gateway.broadcasts[0]
	require.Equal(t, service.EventReadUpdated, event.Event)
	require.Equal(t, "user-1", event.UserID)
	require.NotNil(t, event.ReadAt)
}

func TestMarkReadWithoutMembershipStaysQuiet(t *testing.T) {
	svc := &stubChatService{markReadApplied: false}
	gateway := &stubGateway{}
	app := setupChatApp(svc, gateway)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/chats/chat-1/read", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, gateway.broadcasts, "no watermark advanced, nothing to announce")
}

func TestWebsocketRouteRequiresUpgrade(t *testing.T) {
	app := setupChatApp(&stubChatService{}, &stubGateway{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/ws", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}
