package studiows

import (
	"context"
	"fmt"

	"github.com/atelierhq/studio-realtime/studio-ws/messagedao"
	"github.com/atelierhq/studio-realtime/studio-ws/threaddao"
	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// messageEvent is the newMessage payload pushed to clients.
type messageEvent struct {
	Action           string `json:"action"`
	ConversationType string `json:"conversationType"`
	messagedao.Message
}

type sendMessagePayload struct {
	ConversationType string   `json:"conversationType"`
	ConversationID   string   `json:"conversationId"`
	SenderID         string   `json:"senderId"`
	Username         string   `json:"username"`
	Text             string   `json:"text"`
	Timestamp        string   `json:"timestamp"`
	Title            string   `json:"title"`
	OptimisticID     string   `json:"optimisticId"`
	Attachments      []string `json:"attachments"`
}

func (h *Handler) handleSendMessage(ctx context.Context, logger zerolog.Logger, request *Request) (events.APIGatewayProxyResponse, error) {
	var payload sendMessagePayload
	if err := request.Bind(&payload); err != nil {
		return respond(400, "invalid payload"), nil
	}
	if payload.ConversationType == "" || payload.ConversationID == "" || payload.SenderID == "" || payload.Text == "" || payload.Timestamp == "" {
		logger.Warn().Msg("missing required message fields")
		return respond(400, "Missing required fields"), nil
	}

	var store MessageStore
	switch payload.ConversationType {
	case ConversationTypeDM:
		store = h.DMs
	case ConversationTypeProject:
		store = h.ProjectMessages
	default:
		logger.Warn().Str("conversation_type", payload.ConversationType).Msg("invalid conversation type")
		return respond(400, "Invalid conversation type"), nil
	}

	conversationID := payload.ConversationID
	if payload.ConversationType == ConversationTypeDM {
		conversationID = CanonicalDMID(conversationID)
	}

	msg := messagedao.Message{
		MessageID:      "MESSAGE#" + payload.Timestamp,
		ConversationID: conversationID,
		SenderID:       payload.SenderID,
		Username:       payload.Username,
		Text:           payload.Text,
		Timestamp:      payload.Timestamp,
		OptimisticID:   payload.OptimisticID,
		Attachments:    payload.Attachments,
		Reactions:      map[string][]string{},
	}

	var uid1, uid2, recipientID string
	if payload.ConversationType == ConversationTypeDM {
		uid1, uid2 = DMParticipants(conversationID)
		recipientID = uid2
		if payload.SenderID == uid2 {
			recipientID = uid1
		}
		msg.RecipientPK = "USER#" + recipientID
		msg.RecipientSK = payload.Timestamp
	} else {
		msg.ProjectID = ProjectID(conversationID)
	}

	if err := store.Put(ctx, msg); err != nil {
		logger.Error().Err(err).Msg("failed to persist message")
		return respond(500, "DB write error"), nil
	}

	if payload.ConversationType == ConversationTypeDM {
		h.updateThreadSummaries(ctx, logger, msg, recipientID)
	}

	event := messageEvent{
		Action:           ActionNewMessage,
		ConversationType: payload.ConversationType,
		Message:          msg,
	}

	if payload.ConversationType == ConversationTypeProject {
		if err := h.Router.SendToConversation(ctx, conversationID, event); err != nil {
			logger.Error().Err(err).Msg("failed to broadcast project message")
		}

		summary := messageSummary(msg, payload.Title)
		if err := h.Notifier.FanOutToProject(ctx, msg.ProjectID, summary, msg.MessageID, msg.SenderID); err != nil {
			logger.Error().Err(err).Msg("failed to fan out message notification")
		}
		return respond(200, "Project message sent"), nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, userID := range []string{uid1, uid2} {
		userID := userID
		g.Go(func() error {
			return h.Router.SendToUser(gctx, userID, event)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("failed to broadcast dm message")
	}

	return respond(200, "Message sent successfully"), nil
}

// updateThreadSummaries writes both participants' thread rows. The rows are
// independent; one side failing is logged and tolerated, never rolled back.
func (h *Handler) updateThreadSummaries(ctx context.Context, logger zerolog.Logger, msg messagedao.Message, recipientID string) {
	summaries := []threaddao.Summary{
		{
			UserID:         msg.SenderID,
			ConversationID: msg.ConversationID,
			LastMsgTs:      msg.Timestamp,
			Snippet:        msg.Text,
			OtherUserID:    recipientID,
			Read:           true,
		},
		{
			UserID:         recipientID,
			ConversationID: msg.ConversationID,
			LastMsgTs:      msg.Timestamp,
			Snippet:        msg.Text,
			OtherUserID:    msg.SenderID,
			Read:           false,
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range summaries {
		s := s
		g.Go(func() error {
			return h.Threads.Upsert(gctx, s)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("failed to update thread summaries")
	}
}

// messageSummary derives a short human-readable notification line for a
// project message.
func messageSummary(msg messagedao.Message, title string) string {
	projectName := title
	if projectName == "" {
		projectName = msg.ProjectID
	}
	senderName := msg.Username
	if senderName == "" {
		senderName = msg.SenderID
	}

	if len(msg.Attachments) > 0 {
		return fmt.Sprintf("%v uploaded %d file(s) in %q", senderName, len(msg.Attachments), projectName)
	}
	return fmt.Sprintf("%v in %q: %v", senderName, projectName, truncate(msg.Text, 60))
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

type markReadPayload struct {
	ConversationType string `json:"conversationType"`
	ConversationID   string `json:"conversationId"`
	UserID           string `json:"userId"`
	Read             bool   `json:"read"`
}

func (h *Handler) handleMarkRead(ctx context.Context, logger zerolog.Logger, request *Request) (events.APIGatewayProxyResponse, error) {
	var payload markReadPayload
	if err := request.Bind(&payload); err != nil {
		return respond(400, "invalid payload"), nil
	}
	if payload.ConversationType != ConversationTypeDM {
		return respond(400, "Invalid conversationType"), nil
	}

	event := struct {
		Action string `json:"action"`
		markReadPayload
	}{Action: ActionMarkRead, markReadPayload: payload}

	uid1, uid2 := DMParticipants(payload.ConversationID)
	g, gctx := errgroup.WithContext(ctx)
	for _, userID := range []string{uid1, uid2} {
		userID := userID
		g.Go(func() error {
			if err := h.Router.SendToUser(gctx, userID, event); err != nil {
				logger.Error().Err(err).Str("user_id", userID).Msg("failed to broadcast read state")
			}
			return nil
		})
	}
	_ = g.Wait()

	return respond(200, "Read state broadcasted"), nil
}

type deleteMessagePayload struct {
	ConversationType string `json:"conversationType"`
	ConversationID   string `json:"conversationId"`
	MessageID        string `json:"messageId"`
}

// handleDeleteMessage broadcasts a deleteMessage event so each participant can
// drop the message from their view; for project messages the generated
// notifications are removed as well. The message row itself is deleted by the
// owning CRUD service.
func (h *Handler) handleDeleteMessage(ctx context.Context, logger zerolog.Logger, request *Request) (events.APIGatewayProxyResponse, error) {
	var payload deleteMessagePayload
	if err := request.Bind(&payload); err != nil {
		return respond(400, "invalid payload"), nil
	}
	if payload.ConversationType == "" || payload.ConversationID == "" || payload.MessageID == "" {
		logger.Warn().Msg("missing conversationType, conversationId or messageId")
		return respond(400, "Missing fields"), nil
	}

	event := struct {
		Action string `json:"action"`
		deleteMessagePayload
	}{Action: ActionDeleteMessage, deleteMessagePayload: payload}

	switch payload.ConversationType {
	case ConversationTypeDM:
		uid1, uid2 := DMParticipants(payload.ConversationID)
		h.broadcastDM(ctx, logger, payload.ConversationID, uid1, uid2, event)
	case ConversationTypeProject:
		if err := h.Router.SendToConversation(ctx, payload.ConversationID, event); err != nil {
			logger.Error().Err(err).Msg("failed to broadcast delete")
		}
		h.Notifier.DeleteByDedupeID(ctx, payload.MessageID)
	default:
		logger.Warn().Str("conversation_type", payload.ConversationType).Msg("invalid conversationType for deleteMessage")
		return respond(400, "Invalid conversationType"), nil
	}

	return respond(200, "Delete broadcasted"), nil
}

type editMessagePayload struct {
	ConversationType string `json:"conversationType"`
	ConversationID   string `json:"conversationId"`
	MessageID        string `json:"messageId"`
	Text             string `json:"text"`
	EditedAt         string `json:"editedAt"`
	EditedBy         string `json:"editedBy"`
	Timestamp        string `json:"timestamp"`
	ProjectID        string `json:"projectId,omitempty"`
}

// handleEditMessage relays an edit so the new content shows up in real time;
// persistence of the edit is the owning CRUD service's job.
func (h *Handler) handleEditMessage(ctx context.Context, logger zerolog.Logger, request *Request) (events.APIGatewayProxyResponse, error) {
	var payload editMessagePayload
	if err := request.Bind(&payload); err != nil {
		return respond(400, "invalid payload"), nil
	}
	if payload.ConversationType == "" || payload.ConversationID == "" || payload.MessageID == "" || payload.Text == "" {
		logger.Warn().Msg("missing required fields for editMessage")
		return respond(400, "Missing fields"), nil
	}
	if payload.EditedAt == "" {
		payload.EditedAt = h.clock().UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}

	event := struct {
		Action string `json:"action"`
		editMessagePayload
	}{Action: ActionEditMessage, editMessagePayload: payload}

	switch payload.ConversationType {
	case ConversationTypeDM:
		uid1, uid2 := DMParticipants(payload.ConversationID)
		h.broadcastDM(ctx, logger, payload.ConversationID, uid1, uid2, event)
	case ConversationTypeProject:
		if err := h.Router.SendToConversation(ctx, payload.ConversationID, event); err != nil {
			logger.Error().Err(err).Msg("failed to broadcast edit")
		}
	default:
		logger.Warn().Str("conversation_type", payload.ConversationType).Msg("invalid conversationType for editMessage")
		return respond(400, "Invalid conversationType"), nil
	}

	return respond(200, "Edit broadcasted"), nil
}

type toggleReactionPayload struct {
	ConversationType string `json:"conversationType"`
	ConversationID   string `json:"conversationId"`
	MessageID        string `json:"messageId"`
	Emoji            string `json:"emoji"`
	UserID           string `json:"userId"`
}

func (h *Handler) handleToggleReaction(ctx context.Context, logger zerolog.Logger, request *Request) (events.APIGatewayProxyResponse, error) {
	var payload toggleReactionPayload
	if err := request.Bind(&payload); err != nil {
		return respond(400, "invalid payload"), nil
	}
	if payload.ConversationType == "" || payload.ConversationID == "" || payload.MessageID == "" || payload.Emoji == "" || payload.UserID == "" {
		logger.Warn().Msg("missing fields for toggleReaction")
		return respond(400, "Missing fields"), nil
	}

	var (
		store     MessageStore
		hashValue string
		projectID string
	)
	switch payload.ConversationType {
	case ConversationTypeDM:
		store = h.DMs
		hashValue = payload.ConversationID
	case ConversationTypeProject:
		store = h.ProjectMessages
		projectID = ProjectID(payload.ConversationID)
		hashValue = projectID
	default:
		logger.Warn().Str("conversation_type", payload.ConversationType).Msg("invalid conversationType for toggleReaction")
		return respond(400, "Invalid conversationType"), nil
	}

	msg, err := store.Get(ctx, hashValue, payload.MessageID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch message for toggleReaction")
		return respond(500, "DB get error"), nil
	}
	if msg == nil {
		return respond(404, "Message not found"), nil
	}

	reactions := messagedao.Toggle(msg.Reactions, payload.Emoji, payload.UserID)
	if err := store.SetReactions(ctx, hashValue, payload.MessageID, reactions); err != nil {
		logger.Error().Err(err).Msg("failed to update reactions")
		return respond(500, "DB update error"), nil
	}

	event := struct {
		Action           string              `json:"action"`
		ConversationType string              `json:"conversationType"`
		ConversationID   string              `json:"conversationId"`
		MessageID        string              `json:"messageId"`
		Reactions        map[string][]string `json:"reactions"`
		ProjectID        string              `json:"projectId,omitempty"`
	}{
		Action:           ActionToggleReaction,
		ConversationType: payload.ConversationType,
		ConversationID:   payload.ConversationID,
		MessageID:        payload.MessageID,
		Reactions:        reactions,
		ProjectID:        projectID,
	}

	if payload.ConversationType == ConversationTypeDM {
		uid1, uid2 := DMParticipants(payload.ConversationID)
		h.broadcastDM(ctx, logger, payload.ConversationID, uid1, uid2, event)
	} else {
		if err := h.Router.SendToConversation(ctx, payload.ConversationID, event); err != nil {
			logger.Error().Err(err).Msg("failed to broadcast reaction")
		}
	}

	return respond(200, "Reaction toggled"), nil
}

// broadcastDM delivers an event to both participants' endpoints and to anyone
// focused on the conversation. The three sends run concurrently; delivery
// failures are logged, never surfaced.
func (h *Handler) broadcastDM(ctx context.Context, logger zerolog.Logger, conversationID, uid1, uid2 string, payload interface{}) {
	g, gctx := errgroup.WithContext(ctx)
	for _, userID := range []string{uid1, uid2} {
		userID := userID
		g.Go(func() error {
			if err := h.Router.SendToUser(gctx, userID, payload); err != nil {
				logger.Error().Err(err).Str("user_id", userID).Msg("failed to broadcast to participant")
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := h.Router.SendToConversation(gctx, conversationID, payload); err != nil {
			logger.Error().Err(err).Msg("failed to broadcast to conversation")
		}
		return nil
	})
	_ = g.Wait()
}
