package contract_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"github.com/linguahub/lingua-api/internal/dto"
	"github.com/linguahub/lingua-api/internal/handler"
	"github.com/linguahub/lingua-api/internal/service"
)

type stubChatService struct {
	chats   []dto.ChatResponse
	message dto.MessageResponse
}

func (s *stubChatService) ListChats(context.Context, string) ([]dto.ChatResponse, error) {
	return s.chats, nil
}

func (s *stubChatService) GetChat(context.Context, string, string) (dto.ChatResponse, error) {
	return s.chats[0], nil
}

func (s *stubChatService) ListMessages(context.Context, string, string, dto.MessagesQuery) (dto.MessagePage, error) {
	return dto.MessagePage{Items: []dto.MessageResponse{s.message}}, nil
}

func (s *stubChatService) CreateDirectChat(context.Context, string, dto.CreateChatRequest) (dto.ChatResponse, error) {
	return s.chats[0], nil
}

func (s *stubChatService) SendMessage(context.Context, string, string, dto.SendMessageRequest) (dto.MessageResponse, error) {
	return s.message, nil
}

func (s *stubChatService) EditMessage(context.Context, string, string, dto.EditMessageRequest) (dto.MessageResponse, error) {
	return s.message, nil
}

func (s *stubChatService) DeleteMessage(context.Context, string, string) (dto.MessageResponse, error) {
	return s.message, nil
}

func (s *stubChatService) MarkAsRead(context.Context, string, string) (time.Time, bool, error) {
	return time.Now().UTC(), true, nil
}

func (s *stubChatService) SendVocabulary(context.Context, string, string, dto.VocabularyRequest) (dto.MessageResponse, error) {
	return s.message, nil
}

func (s *stubChatService) CreateGroupChat(context.Context, string, string, string) (dto.ChatResponse, error) {
	return dto.ChatResponse{}, nil
}

func (s *stubChatService) JoinChat(context.Context, string, string, bool) error { return nil }

func (s *stubChatService) LeaveChat(context.Context, string, string) error { return nil }

type noopGateway struct{}

func (noopGateway) ServeConnection(service.GatewayConn, service.GatewayConnectionOptions) {}
func (noopGateway) Broadcast(string, service.GatewayEvent)                               {}
func (noopGateway) Start(context.Context)                                                {}

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	schemaPath, err := filepath.Abs(filepath.Join("..", "contracts", name))
	require.NoError(t, err)

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile("file://" + schemaPath)
	require.NoError(t, err)
	return schema
}

func setupContractApp(svc service.ChatService) *fiber.App {
	app := fiber.New()
	chatHandler := handler.NewChatHandler(svc, noopGateway{}, zerolog.Nop())
	chatHandler.Register(app.Group("/api/v1/chat", func(c *fiber.Ctx) error {
		c.Locals("user_id", "caller-1")
		c.Locals("user_role", "STUDENT")
		return c.Next()
	}))
	return app
}

func TestChatMessageContract(t *testing.T) {
	schema := compileSchema(t, "chat_message.schema.json")

	content := "Wie geht es dir?"
	now := time.Now().UTC()
	svc := &stubChatService{message: dto.MessageResponse{
		ID:        "7f1c2a9e-4f7d-4a0f-9e83-0d6a6e2f1b11",
		ChatID:    "6d9a1b2c-3e4f-4a5b-8c7d-9e0f1a2b3c4d",
		SenderID:  "caller-1",
		Type:      "TEXT",
		Content:   &content,
		CreatedAt: now,
		UpdatedAt: now,
		Sender:    &dto.UserSummary{ID: "caller-1", FirstName: "Anna", LastName: "Schmidt", Role: "STUDENT"},
	}}
	app := setupContractApp(svc)

	body, err := json.Marshal(dto.SendMessageRequest{Content: content})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/chats/6d9a1b2c-3e4f-4a5b-8c7d-9e0f1a2b3c4d/messages", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var payload interface{}
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.NoError(t, schema.Validate(payload))
}

func TestChatListContract(t *testing.T) {
	schema := compileSchema(t, "chat_list.schema.json")

	now := time.Now().UTC()
	svc := &stubChatService{chats: []dto.ChatResponse{{
		ID:   "6d9a1b2c-3e4f-4a5b-8c7d-9e0f1a2b3c4d",
		Type: "DIRECT",
		Participants: []dto.ParticipantResponse{
			{UserID: "caller-1", JoinedAt: now, User: dto.UserSummary{ID: "caller-1", FirstName: "Anna"}},
			{UserID: "peer-1", JoinedAt: now, User: dto.UserSummary{ID: "peer-1", FirstName: "Ben"}},
		},
		UnreadCount: 3,
		CreatedAt:   now,
		UpdatedAt:   now,
	}}}
	app := setupContractApp(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/chats", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var payload interface{}
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.NoError(t, schema.Validate(payload))
}
