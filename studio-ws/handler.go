package studiows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atelierhq/studio-realtime/studio-ws/connectiondao"
	"github.com/atelierhq/studio-realtime/studio-ws/eventdao"
	"github.com/atelierhq/studio-realtime/studio-ws/messagedao"
	"github.com/atelierhq/studio-realtime/studio-ws/notificationdao"
	"github.com/atelierhq/studio-realtime/studio-ws/threaddao"
	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ConnectionStore is the registry surface the dispatcher needs.
type ConnectionStore interface {
	Put(ctx context.Context, conn connectiondao.Connection) error
	Delete(ctx context.Context, connectionID string) error
	SetActiveConversation(ctx context.Context, connectionID, conversationID string) error
	Renew(ctx context.Context, connectionID string, expiresAt int64, pingedAt time.Time) error
	ListAll(ctx context.Context) ([]connectiondao.Connection, error)
	ListByUser(ctx context.Context, userID string) ([]connectiondao.Connection, error)
}

// MessageStore persists chat messages for one conversation table.
type MessageStore interface {
	Put(ctx context.Context, msg messagedao.Message) error
	Get(ctx context.Context, hashValue, messageID string) (*messagedao.Message, error)
	SetReactions(ctx context.Context, hashValue, messageID string, reactions map[string][]string) error
}

// ThreadStore upserts DM thread summaries.
type ThreadStore interface {
	Upsert(ctx context.Context, s threaddao.Summary) error
}

// EventStore persists project timeline events.
type EventStore interface {
	ListByProject(ctx context.Context, projectID string) ([]eventdao.TimelineEvent, error)
	ReplaceAll(ctx context.Context, projectID string, prev, next []eventdao.TimelineEvent) error
}

// NotificationFeed reads the notification log for fetchNotifications.
type NotificationFeed interface {
	Recent(ctx context.Context, userID string, limit int) ([]notificationdao.Notification, error)
}

// Broadcaster fans payloads out to users and conversations.
type Broadcaster interface {
	SendToUser(ctx context.Context, userID string, payload interface{}) error
	SendToConversation(ctx context.Context, conversationID string, payload interface{}) error
}

// Handler routes API Gateway WebSocket events to the engine's flows.
type Handler struct {
	Connections     ConnectionStore
	DMs             MessageStore
	ProjectMessages MessageStore
	Threads         ThreadStore
	Events          EventStore
	Notifications   NotificationFeed
	Notifier        *Notifier
	Router          Broadcaster
	Sender          Sender
	Logger          zerolog.Logger
	ConnTTL         time.Duration // initial TTL for connection records (default 24 hours)

	now   func() time.Time
	newID func() string
}

const feedLimit = 100

// HandleEvent routes a WebSocket event by route key.
func (h *Handler) HandleEvent(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	logger := h.Logger.With().
		Str("connection_id", req.RequestContext.ConnectionID).
		Str("route", req.RequestContext.RouteKey).
		Logger()

	switch req.RequestContext.RouteKey {
	case "$connect":
		return h.handleConnect(ctx, logger, req)
	case "$disconnect":
		return h.handleDisconnect(ctx, logger, req)
	case "$default":
		return h.handleMessage(ctx, logger, req)
	default:
		logger.Warn().Msg("unknown route")
		return respond(400, "unknown route"), nil
	}
}

func (h *Handler) handleMessage(ctx context.Context, logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	request, err := ParseRequest(req.Body)
	if err != nil {
		logger.Warn().Err(err).Msg("invalid message")
		return respond(400, "invalid JSON payload"), nil
	}

	logger = logger.With().Str("action", request.Action).Logger()

	switch request.Action {
	case ActionSendMessage:
		return h.handleSendMessage(ctx, logger, request)
	case ActionMarkRead:
		return h.handleMarkRead(ctx, logger, request)
	case ActionDeleteMessage:
		return h.handleDeleteMessage(ctx, logger, request)
	case ActionEditMessage:
		return h.handleEditMessage(ctx, logger, request)
	case ActionToggleReaction:
		return h.handleToggleReaction(ctx, logger, request)
	case ActionPing, ActionPresencePing:
		return h.handlePresencePing(ctx, logger, req)
	case ActionTimelineUpdate, ActionTimelineDelete:
		return h.handleTimelineRelay(ctx, logger, request)
	case ActionSetActiveConversation:
		return h.handleSetActiveConversation(ctx, logger, req, request)
	case ActionTimelineUpdated:
		return h.handleTimelineUpdated(ctx, logger, request)
	case ActionProjectUpdated:
		return h.handleProjectUpdated(ctx, logger, request)
	case ActionBudgetUpdated:
		return h.handleBudgetUpdated(ctx, logger, request)
	case ActionLineLocked, ActionLineUnlocked:
		return h.handleLineLockEvent(ctx, logger, request)
	case ActionFetchNotifications:
		return h.handleFetchNotifications(ctx, logger, req)
	default:
		logger.Warn().Msg("unknown action")
		return respond(400, fmt.Sprintf("Unknown action: %v", request.Action)), nil
	}
}

func (h *Handler) handleSetActiveConversation(ctx context.Context, logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest, request *Request) (events.APIGatewayProxyResponse, error) {
	var payload struct {
		ConversationID string `json:"conversationId"`
	}
	if err := request.Bind(&payload); err != nil {
		return respond(400, "invalid payload"), nil
	}

	connID := req.RequestContext.ConnectionID
	if connID == "" || payload.ConversationID == "" {
		logger.Warn().Msg("missing connectionId or conversationId")
		return respond(400, "Missing connectionId or conversationId"), nil
	}

	if err := h.Connections.SetActiveConversation(ctx, connID, payload.ConversationID); err != nil {
		logger.Error().Err(err).Msg("failed to set active conversation")
		return respond(500, "DB update error"), nil
	}

	logger.Debug().Str("conversation_id", payload.ConversationID).Msg("active conversation set")
	return respond(200, "Active conversation set"), nil
}

func (h *Handler) handleFetchNotifications(ctx context.Context, logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connID := req.RequestContext.ConnectionID
	userID := authorizedUserID(req)
	if userID == "" {
		logger.Warn().Msg("missing userId in fetchNotifications")
		return respond(400, "Missing user info"), nil
	}

	items, err := h.Notifications.Recent(ctx, userID, feedLimit)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load notifications")
		return respond(500, "DB query error"), nil
	}

	if err := h.send(ctx, connID, NewNotificationsBatchMessage(items)); err != nil {
		logger.Error().Err(err).Msg("failed to deliver notifications batch")
	}
	return respond(200, ""), nil
}

// authorizedUserID extracts the authenticated user id placed on the request
// context by the gateway's authorizer.
func authorizedUserID(req events.APIGatewayWebsocketProxyRequest) string {
	if m, ok := req.RequestContext.Authorizer.(map[string]interface{}); ok {
		if s, ok := m["userId"].(string); ok {
			return s
		}
	}
	return ""
}

// subprotocols splits the Sec-WebSocket-Protocol header the browser sends as
// "token, sessionId".
func subprotocols(req events.APIGatewayWebsocketProxyRequest) []string {
	raw := ""
	for k, v := range req.Headers {
		if strings.EqualFold(k, "Sec-WebSocket-Protocol") {
			raw = v
			break
		}
	}
	if raw == "" {
		for k, v := range req.MultiValueHeaders {
			if strings.EqualFold(k, "Sec-WebSocket-Protocol") && len(v) > 0 {
				raw = v[0]
				break
			}
		}
	}

	var parts []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func (h *Handler) send(ctx context.Context, connectionID string, payload interface{}) error {
	data, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	return h.Sender.Send(ctx, connectionID, data)
}

func (h *Handler) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now()
}

func (h *Handler) newEventID() string {
	if h.newID != nil {
		return h.newID()
	}
	return uuid.NewString()
}

func respond(status int, body string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{StatusCode: status, Body: body}
}
