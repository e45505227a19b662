package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/linguahub/lingua-api/internal/dto"
	"github.com/linguahub/lingua-api/internal/handler"
	"github.com/linguahub/lingua-api/internal/middleware"
	"github.com/linguahub/lingua-api/internal/models"
	"github.com/linguahub/lingua-api/internal/repository"
	"github.com/linguahub/lingua-api/internal/service"
)

const testSecret = "integration-test-secret"

type chatStack struct {
	app   *fiber.App
	db    *gorm.DB
	users map[string]models.User
}

func setupChatStack(t *testing.T) *chatStack {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Group{},
		&models.Chat{},
		&models.ChatParticipant{},
		&models.Message{},
	))

	logger := zerolog.New(io.Discard)
	validate := validator.New(validator.WithRequiredStructEnabled())
	chatRepo := repository.NewChatRepository(db)
	userRepo := repository.NewUserRepository(db)

	chatService := service.NewChatService(chatRepo, userRepo, 50, validate, logger)
	presence := service.NewPresenceCoordinator(3 * time.Second)
	gateway := service.NewChatGateway(chatService, presence, nil, nil, "", logger)
	gateway.Start(context.Background())

	chatHandler := handler.NewChatHandler(chatService, gateway, logger)

	app := fiber.New()
	app.Use(middleware.CorrelationID())
	chatHandler.Register(app.Group("/api/v1/chat", middleware.JWTProtected(testSecret)))

	stack := &chatStack{app: app, db: db, users: make(map[string]models.User)}
	for _, name := range []string{"anna", "ben"} {
		user := models.User{
			Email:     name + "@lingua.test",
			FirstName: name,
			LastName:  "Integration",
			Role:      models.RoleStudent,
			Status:    models.UserStatusActive,
		}
		require.NoError(t, db.Create(&user).Error)
		stack.users[name] = user
	}
	return stack
}

func signToken(t *testing.T, userID, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": role,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func startFiberServer(t *testing.T, app *fiber.App) (string, func()) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		if err := app.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("fiber listener stopped: %v", err)
		}
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)

	shutdown := func() {
		_ = app.Shutdown()
		_ = listener.Close()
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
	}

	return "http://" + listener.Addr().String(), shutdown
}

func createDirectChat(t *testing.T, baseURL, token, counterpartID string) dto.ChatResponse {
	t.Helper()

	body, err := json.Marshal(dto.CreateChatRequest{ParticipantIDs: []string{counterpartID}})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/v1/chat/chats", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var payload struct {
		Data dto.ChatResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload.Data
}

func dialChatSocket(t *testing.T, baseURL, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/api/v1/chat/ws?token=" + token
	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}
	conn, resp, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn
}

func readUntilEvent(t *testing.T, conn *websocket.Conn, event string) service.GatewayEvent {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var received service.GatewayEvent
		require.NoError(t, conn.ReadJSON(&received), "waiting for %s", event)
		if received.Event == event {
			return received
		}
		require.False(t, time.Now().After(deadline), "timed out waiting for %s", event)
	}
}

func TestWebsocketDeliversMessagesBetweenParticipants(t *testing.T) {
	stack := setupChatStack(t)
	baseURL, shutdown := startFiberServer(t, stack.app)
	defer shutdown()

	anna := stack.users["anna"]
	ben := stack.users["ben"]
	annaToken := signToken(t, anna.ID, "STUDENT")
	benToken := signToken(t, ben.ID, "STUDENT")

	chat := createDirectChat(t, baseURL, annaToken, ben.ID)

	annaConn := dialChatSocket(t, baseURL, annaToken)
	defer annaConn.Close()
	benConn := dialChatSocket(t, baseURL, benToken)
	defer benConn.Close()

	// Ben's presence announcement reaches Anna only after his connection has
	// joined the room, so waiting here guarantees he will see what Anna sends.
	presenceEvent := readUntilEvent(t, annaConn, service.EventPresenceChanged)
	require.Equal(t, chat.ID, presenceEvent.ChatID)
	require.Equal(t, ben.ID, presenceEvent.UserID)

	require.NoError(t, annaConn.WriteJSON(service.ClientAction{
		Action:  service.ActionSendMessage,
		ChatID:  chat.ID,
		Message: &dto.SendMessageRequest{Content: "Guten Morgen!"},
	}))

	received := readUntilEvent(t, benConn, service.EventMessageCreated)
	require.Equal(t, chat.ID, received.ChatID)
	require.NotNil(t, received.Message)
	require.Equal(t, anna.ID, received.Message.SenderID)
	require.NotNil(t, received.Message.Content)
	require.Equal(t, "Guten Morgen!", *received.Message.Content)

	// The sender gets the broadcast too.
	echoed := readUntilEvent(t, annaConn, service.EventMessageCreated)
	require.Equal(t, received.Message.ID, echoed.Message.ID)
}

func TestWebsocketPersistsMessagesForHistory(t *testing.T) {
	stack := setupChatStack(t)
	baseURL, shutdown := startFiberServer(t, stack.app)
	defer shutdown()

	anna := stack.users["anna"]
	ben := stack.users["ben"]
	annaToken := signToken(t, anna.ID, "STUDENT")

	chat := createDirectChat(t, baseURL, annaToken, ben.ID)

	annaConn := dialChatSocket(t, baseURL, annaToken)
	defer annaConn.Close()

	require.NoError(t, annaConn.WriteJSON(service.ClientAction{
		Action:  service.ActionSendMessage,
		ChatID:  chat.ID,
		Message: &dto.SendMessageRequest{Content: "bleibt gespeichert"},
	}))
	readUntilEvent(t, annaConn, service.EventMessageCreated)

	req, err := http.NewRequest(http.MethodGet, baseURL+"/api/v1/chat/chats/"+chat.ID+"/messages", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+annaToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Data dto.MessagePage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Data.Items, 1)
	require.Equal(t, "bleibt gespeichert", *payload.Data.Items[0].Content)
}

func TestWebsocketRejectsMissingToken(t *testing.T) {
	stack := setupChatStack(t)
	baseURL, shutdown := startFiberServer(t, stack.app)
	defer shutdown()

	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/api/v1/chat/ws"
	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}
	conn, resp, err := dialer.Dial(url, nil)
	require.Error(t, err)
	if conn != nil {
		_ = conn.Close()
	}
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
