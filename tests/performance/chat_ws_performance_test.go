package performance_test

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/linguahub/lingua-api/internal/dto"
	"github.com/linguahub/lingua-api/internal/handler"
	"github.com/linguahub/lingua-api/internal/middleware"
	"github.com/linguahub/lingua-api/internal/service"
)

func TestChatWebsocketHandshakeP95Under250ms(t *testing.T) {
	app := fiber.New()
	app.Use(middleware.CorrelationID())

	chatHandler := handler.NewChatHandler(stubChatService{}, stubGateway{}, zerolog.Nop())

	chatGroup := app.Group("/api/v1/chat", func(c *fiber.Ctx) error {
		c.Locals("user_id", "3f7c3e1a-9a44-4d13-8c53-1f2f4a0d9b42")
		c.Locals("user_role", "STUDENT")
		return c.Next()
	})
	chatHandler.Register(chatGroup)

	baseURL, shutdown := startFiberServer(t, app)
	defer shutdown()

	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/api/v1/chat/ws"
	clients := 500
	durations := make([]time.Duration, 0, clients)

	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}

	for i := 0; i < clients; i++ {
		start := time.Now()
		conn, resp, err := dialer.Dial(url, http.Header{"X-Correlation-ID": {"perf-" + strconv.Itoa(i)}})
		if err != nil {
			t.Fatalf("websocket dial failed: %v", err)
		}
		if resp != nil {
			_ = resp.Body.Close()
		}

		_, _, _ = conn.ReadMessage()
		_ = conn.Close()

		durations = append(durations, time.Since(start))
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	p95 := percentile(durations, 0.95)

	if p95 > 250*time.Millisecond {
		t.Fatalf("expected websocket P95 <= 250ms, got %s", p95)
	}
}

func percentile(values []time.Duration, pct float64) time.Duration {
	if len(values) == 0 {
		return 0
	}
	index := int(math.Ceil(pct*float64(len(values)))) - 1
	if index < 0 {
		index = 0
	}
	if index >= len(values) {
		index = len(values) - 1
	}
	return values[index]
}

func startFiberServer(t *testing.T, app *fiber.App) (string, func()) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}

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

type stubChatService struct{}

func (stubChatService) ListChats(context.Context, string) ([]dto.ChatResponse, error) {
	return nil, nil
}

func (stubChatService) GetChat(context.Context, string, string) (dto.ChatResponse, error) {
	return dto.ChatResponse{}, nil
}

func (stubChatService) ListMessages(context.Context, string, string, dto.MessagesQuery) (dto.MessagePage, error) {
	return dto.MessagePage{}, nil
}

func (stubChatService) CreateDirectChat(context.Context, string, dto.CreateChatRequest) (dto.ChatResponse, error) {
	return dto.ChatResponse{}, nil
}

func (stubChatService) SendMessage(context.Context, string, string, dto.SendMessageRequest) (dto.MessageResponse, error) {
	return dto.MessageResponse{}, nil
}

func (stubChatService) EditMessage(context.Context, string, string, dto.EditMessageRequest) (dto.MessageResponse, error) {
	return dto.MessageResponse{}, nil
}

func (stubChatService) DeleteMessage(context.Context, string, string) (dto.MessageResponse, error) {
	return dto.MessageResponse{}, nil
}

func (stubChatService) MarkAsRead(context.Context, string, string) (time.Time, bool, error) {
	return time.Now().UTC(), true, nil
}

func (stubChatService) SendVocabulary(context.Context, string, string, dto.VocabularyRequest) (dto.MessageResponse, error) {
	return dto.MessageResponse{}, nil
}

func (stubChatService) CreateGroupChat(context.Context, string, string, string) (dto.ChatResponse, error) {
	return dto.ChatResponse{}, nil
}

func (stubChatService) JoinChat(context.Context, string, string, bool) error { return nil }

func (stubChatService) LeaveChat(context.Context, string, string) error { return nil }

type stubGateway struct{}

func (stubGateway) ServeConnection(conn service.GatewayConn, _ service.GatewayConnectionOptions) {
	_ = conn.WriteJSON(service.GatewayEvent{Event: "connected"})
	_ = conn.Close()
}

func (stubGateway) Broadcast(string, service.GatewayEvent) {}

func (stubGateway) Start(context.Context) {}
