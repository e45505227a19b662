package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/linguahub/lingua-api/internal/dto"
	"github.com/linguahub/lingua-api/internal/observability"
)

const gatewaySendBufferSize = 32

// Client action names accepted over the socket.
const (
	ActionJoin          = "join"
	ActionSendMessage   = "send-message"
	ActionEditMessage   = "edit-message"
	ActionDeleteMessage = "delete-message"
	ActionTypingStart   = "typing-start"
	ActionTypingStop    = "typing-stop"
	ActionMarkRead      = "mark-read"
)

// Server event names broadcast to room members.
const (
	EventMessageCreated  = "message-created"
	EventMessageUpdated  = "message-updated"
	EventMessageDeleted  = "message-deleted"
	EventTyping          = "typing"
	EventPresenceChanged = "presence-changed"
	EventReadUpdated     = "read-updated"
	EventError           = "error"
)

// ClientAction is the envelope read from a connection.
type ClientAction struct {
	Action    string                  `json:"action"`
	ChatID    string                  `json:"chat_id,omitempty"`
	MessageID string                  `json:"message_id,omitempty"`
	Content   string                  `json:"content,omitempty"`
	Message   *dto.SendMessageRequest `json:"message,omitempty"`
}

// GatewayEvent is the envelope written to connections.
type GatewayEvent struct {
	Event   string               `json:"event"`
	ChatID  string               `json:"chat_id,omitempty"`
	UserID  string               `json:"user_id,omitempty"`
	Message *dto.MessageResponse `json:"message,omitempty"`
	Online  *bool                `json:"online,omitempty"`
	Typing  *bool                `json:"typing,omitempty"`
	ReadAt  *time.Time           `json:"read_at,omitempty"`
	Code    string               `json:"code,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// GatewayConnectionOptions wraps metadata extracted during the HTTP upgrade.
type GatewayConnectionOptions struct {
	UserID        string
	Role          string
	CorrelationID string
	Context       context.Context
}

// GatewayConn is the subset of the websocket connection the gateway uses.
// *websocket.Conn satisfies it; tests substitute in-memory fakes.
type GatewayConn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// ChatGateway bridges persistent connections to the chat directory service and
// the presence coordinator, and enforces room-scoped broadcast.
type ChatGateway interface {
	ServeConnection(conn GatewayConn, opts GatewayConnectionOptions)
	Broadcast(chatID string, event GatewayEvent)
	Start(ctx context.Context)
}

type chatGateway struct {
	chats        ChatService
	presence     *PresenceCoordinator
	hub          *roomHub
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
	nodeID       string
}

// relayEnvelope carries an event between server instances. Source suppresses
// the loop back to the publishing node.
type relayEnvelope struct {
	Source     string       `json:"source"`
	ChatID     string       `json:"chat_id"`
	Event      GatewayEvent `json:"event"`
	ExceptUser string       `json:"except_user,omitempty"`
	SentAt     time.Time    `json:"sent_at"`
}

// NewChatGateway creates the realtime gateway. redisClient and natsConn may be
// nil; the gateway then stays single-instance.
func NewChatGateway(chats ChatService, presence *PresenceCoordinator, redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) ChatGateway {
	hub := &roomHub{
		rooms: make(map[string]map[*gatewayClient]struct{}),
		log:   logger.With().Str("component", "chat_hub").Logger(),
	}

	redisChannel := ""
	natsSubject := ""
	if channelBase != "" {
		redisChannel = channelBase + ":chat:events"
		natsSubject = channelBase + ".chat.events"
	}

	return &chatGateway{
		chats:        chats,
		presence:     presence,
		hub:          hub,
		redis:        redisClient,
		redisChannel: redisChannel,
		nats:         natsConn,
		natsSubject:  natsSubject,
		logger:       logger.With().Str("component", "chat_gateway").Logger(),
		nodeID:       uuid.NewString(),
	}
}

// Start launches the cross-instance consumers. It returns immediately.
func (g *chatGateway) Start(ctx context.Context) {
	if g.redis != nil && g.redisChannel != "" {
		go g.consumeRedis(ctx)
	}
	if g.nats != nil && g.natsSubject != "" {
		go g.consumeNATS(ctx)
	}
}

func (g *chatGateway) ServeConnection(conn GatewayConn, opts GatewayConnectionOptions) {
	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	client := &gatewayClient{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan GatewayEvent, gatewaySendBufferSize),
		opts:    opts,
		gateway: g,
		closed:  make(chan struct{}),
		baseCtx: baseCtx,
	}

	chats, err := g.chats.ListChats(baseCtx, opts.UserID)
	if err != nil {
		g.logger.Warn().Err(err).Str("user_id", opts.UserID).Msg("failed to load chat list on connect")
		// The writer goroutine does not exist yet, so the failure has to go
		// out synchronously before the close.
		_ = conn.WriteJSON(GatewayEvent{Event: EventError, Code: "INTERNAL", Error: "failed to load chats"})
		_ = conn.Close()
		return
	}

	observability.ChatConnections().Inc()
	defer observability.ChatConnections().Dec()

	for _, chat := range chats {
		g.joinRoom(client, chat.ID)
	}

	go client.writer()
	client.reader()
}

// Broadcast delivers an event to every local member of the room and relays it
// to peer instances.
func (g *chatGateway) Broadcast(chatID string, event GatewayEvent) {
	g.hub.broadcast(chatID, event, "")
	g.publish(chatID, event, "")
}

func (g *chatGateway) broadcastExcept(chatID string, event GatewayEvent, exceptUser string) {
	g.hub.broadcast(chatID, event, exceptUser)
	g.publish(chatID, event, exceptUser)
}

// joinRoom registers the connection in the room and in the presence set, and
// announces the user when this is their first live connection there.
func (g *chatGateway) joinRoom(client *gatewayClient, chatID string) {
	wasOnline := g.presence.IsOnline(chatID, client.opts.UserID)
	g.hub.join(client, chatID)
	g.presence.MarkOnline(chatID, client.opts.UserID, client.id)

	if !wasOnline {
		online := true
		g.broadcastExcept(chatID, GatewayEvent{
			Event:  EventPresenceChanged,
			ChatID: chatID,
			UserID: client.opts.UserID,
			Online: &online,
		}, client.opts.UserID)
	}
}

// dropClient removes the connection from every room. Offline events go out only
// when the user's last connection in a room is gone.
func (g *chatGateway) dropClient(client *gatewayClient) {
	rooms := g.hub.remove(client)
	for _, chatID := range rooms {
		if g.presence.MarkOffline(chatID, client.opts.UserID, client.id) {
			online := false
			g.broadcastExcept(chatID, GatewayEvent{
				Event:  EventPresenceChanged,
				ChatID: chatID,
				UserID: client.opts.UserID,
				Online: &online,
			}, client.opts.UserID)
		}
	}
}

func (g *chatGateway) handleAction(ctx context.Context, client *gatewayClient, action ClientAction) {
	userID := client.opts.UserID

	switch action.Action {
	case ActionJoin:
		if _, err := g.chats.GetChat(ctx, action.ChatID, userID); err != nil {
			client.ack(errorEvent(action.ChatID, err))
			return
		}
		g.joinRoom(client, action.ChatID)

	case ActionSendMessage:
		if action.Message == nil {
			client.ack(GatewayEvent{Event: EventError, ChatID: action.ChatID, Code: "VALIDATION_ERROR", Error: "message payload required"})
			return
		}
		message, err := g.chats.SendMessage(ctx, action.ChatID, userID, *action.Message)
		if err != nil {
			client.ack(errorEvent(action.ChatID, err))
			return
		}
		g.presence.ClearTyping(action.ChatID, userID)
		g.Broadcast(action.ChatID, GatewayEvent{Event: EventMessageCreated, ChatID: action.ChatID, Message: &message})

	case ActionEditMessage:
		message, err := g.chats.EditMessage(ctx, action.MessageID, userID, dto.EditMessageRequest{Content: action.Content})
		if err != nil {
			client.ack(errorEvent(action.ChatID, err))
			return
		}
		g.Broadcast(message.ChatID, GatewayEvent{Event: EventMessageUpdated, ChatID: message.ChatID, Message: &message})

	case ActionDeleteMessage:
		message, err := g.chats.DeleteMessage(ctx, action.MessageID, userID)
		if err != nil {
			client.ack(errorEvent(action.ChatID, err))
			return
		}
		g.Broadcast(message.ChatID, GatewayEvent{Event: EventMessageDeleted, ChatID: message.ChatID, Message: &message})

	case ActionTypingStart:
		g.presence.SetTyping(action.ChatID, userID)
		typing := true
		g.broadcastExcept(action.ChatID, GatewayEvent{Event: EventTyping, ChatID: action.ChatID, UserID: userID, Typing: &typing}, userID)

	case ActionTypingStop:
		g.presence.ClearTyping(action.ChatID, userID)
		typing := false
		g.broadcastExcept(action.ChatID, GatewayEvent{Event: EventTyping, ChatID: action.ChatID, UserID: userID, Typing: &typing}, userID)

	case ActionMarkRead:
		readAt, applied, err := g.chats.MarkAsRead(ctx, action.ChatID, userID)
		if err != nil {
			client.ack(errorEvent(action.ChatID, err))
			return
		}
		event := GatewayEvent{Event: EventReadUpdated, ChatID: action.ChatID, UserID: userID, ReadAt: &readAt}
		// No watermark moved means the caller is not a participant; the room
		// never hears about it.
		if !applied {
			client.ack(event)
			return
		}
		g.Broadcast(action.ChatID, event)

	default:
		client.ack(GatewayEvent{Event: EventError, Code: "UNKNOWN_ACTION", Error: "unsupported action: " + action.Action})
	}
}

func (g *chatGateway) publish(chatID string, event GatewayEvent, exceptUser string) {
	if g.redis == nil && g.nats == nil {
		return
	}

	envelope := relayEnvelope{
		Source:     g.nodeID,
		ChatID:     chatID,
		Event:      event,
		ExceptUser: exceptUser,
		SentAt:     time.Now().UTC(),
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		g.logger.Warn().Err(err).Msg("failed to marshal relay envelope")
		return
	}

	if g.redis != nil && g.redisChannel != "" {
		if err := g.redis.Publish(context.Background(), g.redisChannel, payload).Err(); err != nil {
			g.logger.Warn().Err(err).Msg("failed to publish chat event to redis")
		}
	}
	if g.nats != nil && g.natsSubject != "" {
		if err := g.nats.Publish(g.natsSubject, payload); err != nil {
			g.logger.Warn().Err(err).Msg("failed to publish chat event to nats")
		}
	}
}

func (g *chatGateway) consumeRedis(ctx context.Context) {
	pubsub := g.redis.Subscribe(ctx, g.redisChannel)
	defer func() {
		_ = pubsub.Close()
	}()
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			g.logger.Error().Err(err).Msg("chat redis subscription closed")
			return
		}
		g.handleRelay([]byte(msg.Payload))
	}
}

func (g *chatGateway) consumeNATS(ctx context.Context) {
	sub, err := g.nats.QueueSubscribe(g.natsSubject, "lingua-chat", func(msg *nats.Msg) {
		g.handleRelay(msg.Data)
	})
	if err != nil {
		g.logger.Error().Err(err).Msg("failed to subscribe to nats chat subject")
		return
	}
	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			g.logger.Warn().Err(err).Msg("failed to drain chat nats subscription")
		}
	}()
}

// handleRelay delivers events published by peer instances to local room
// members. It never re-publishes, so events traverse the bus exactly once.
func (g *chatGateway) handleRelay(data []byte) {
	var envelope relayEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		g.logger.Warn().Err(err).Msg("invalid chat relay envelope")
		return
	}
	if envelope.Source == g.nodeID {
		return
	}
	g.hub.broadcast(envelope.ChatID, envelope.Event, envelope.ExceptUser)
}

func errorEvent(chatID string, err error) GatewayEvent {
	code := "INTERNAL"
	switch {
	case errors.Is(err, ErrChatNotFound), errors.Is(err, ErrMessageNotFound):
		code = "NOT_FOUND"
	case errors.Is(err, ErrNotParticipant), errors.Is(err, ErrNotMessageSender), errors.Is(err, ErrNotChatAdmin):
		code = "FORBIDDEN"
	case errors.Is(err, ErrMessageNotEditable), errors.Is(err, ErrNoParticipants), errors.Is(err, ErrEmptyMessage):
		code = "INVALID_STATE"
	default:
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			code = "VALIDATION_ERROR"
		}
	}

	return GatewayEvent{Event: EventError, ChatID: chatID, Code: code, Error: err.Error()}
}

// roomHub tracks live connections per chat room.
type roomHub struct {
	mu    sync.RWMutex
	rooms map[string]map[*gatewayClient]struct{}
	log   zerolog.Logger
}

func (h *roomHub) join(client *gatewayClient, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[chatID]
	if !ok {
		room = make(map[*gatewayClient]struct{})
		h.rooms[chatID] = room
	}
	room[client] = struct{}{}
	client.trackRoom(chatID)
	h.log.Debug().Str("chat_id", chatID).Str("user_id", client.opts.UserID).Msg("client joined room")
}

// remove detaches the client from every room and returns the rooms it was in.
func (h *roomHub) remove(client *gatewayClient) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	rooms := client.roomList()
	for _, chatID := range rooms {
		if room, ok := h.rooms[chatID]; ok {
			delete(room, client)
			if len(room) == 0 {
				delete(h.rooms, chatID)
			}
		}
	}
	h.log.Debug().Str("user_id", client.opts.UserID).Int("rooms", len(rooms)).Msg("client removed")
	return rooms
}

// broadcast fans an event out to room members, skipping every connection of
// exceptUser when set. Slow consumers are dropped rather than blocking the room.
func (h *roomHub) broadcast(chatID string, event GatewayEvent, exceptUser string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[chatID] {
		if exceptUser != "" && client.opts.UserID == exceptUser {
			continue
		}
		select {
		case client.send <- event:
		default:
			h.log.Warn().Str("chat_id", chatID).Str("user_id", client.opts.UserID).Msg("dropping event for slow client")
		}
	}
}

type gatewayClient struct {
	id      string
	conn    GatewayConn
	send    chan GatewayEvent
	opts    GatewayConnectionOptions
	gateway *chatGateway
	closed  chan struct{}
	once    sync.Once
	baseCtx context.Context

	roomMu sync.Mutex
	rooms  []string
}

func (c *gatewayClient) trackRoom(chatID string) {
	c.roomMu.Lock()
	defer c.roomMu.Unlock()
	for _, existing := range c.rooms {
		if existing == chatID {
			return
		}
	}
	c.rooms = append(c.rooms, chatID)
}

func (c *gatewayClient) roomList() []string {
	c.roomMu.Lock()
	defer c.roomMu.Unlock()
	out := make([]string, len(c.rooms))
	copy(out, c.rooms)
	return out
}

// ack delivers an event to this connection only.
func (c *gatewayClient) ack(event GatewayEvent) {
	select {
	case c.send <- event:
	case <-c.closed:
	default:
		c.gateway.logger.Warn().Str("user_id", c.opts.UserID).Msg("sender queue full, dropping ack")
	}
}

// reader handles incoming actions serially, which keeps one sender's messages
// in submission order within a chat.
func (c *gatewayClient) reader() {
	defer c.close()

	for {
		var action ClientAction
		if err := c.conn.ReadJSON(&action); err != nil {
			c.gateway.logger.Debug().Err(err).Str("user_id", c.opts.UserID).Msg("gateway read loop ended")
			return
		}
		c.gateway.handleAction(c.baseCtx, c, action)
	}
}

func (c *gatewayClient) writer() {
	defer c.close()

	for {
		select {
		case event, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				c.gateway.logger.Debug().Err(err).Str("user_id", c.opts.UserID).Msg("gateway write loop terminated")
				return
			}
		case <-time.After(30 * time.Second):
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.gateway.logger.Debug().Err(err).Str("user_id", c.opts.UserID).Msg("gateway ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *gatewayClient) close() {
	c.once.Do(func() {
		close(c.closed)
		c.gateway.dropClient(c)
		_ = c.conn.Close()
	})
}
