package studiows

import (
	"context"
	"time"

	"github.com/atelierhq/studio-realtime/studio-ws/connectiondao"
	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
)

// staleConnectionAge is how long a connection may go without a ping before
// the connect hook treats it as abandoned.
const staleConnectionAge = time.Minute

func (h *Handler) handleConnect(ctx context.Context, logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connID := req.RequestContext.ConnectionID
	userID := authorizedUserID(req)
	if userID == "" {
		logger.Warn().Msg("unauthorized connection attempt")
		return respond(403, "Unauthorized"), nil
	}

	protocols := subprotocols(req)
	var token, sessionID string
	if len(protocols) > 0 {
		token = protocols[0]
	}
	if len(protocols) > 1 {
		sessionID = protocols[1]
	}

	now := h.clock()
	h.reapUserConnections(ctx, logger, userID, sessionID, now)

	ttl := h.ConnTTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	conn := connectiondao.Connection{
		ConnectionID: connID,
		UserID:       userID,
		SessionID:    sessionID,
		ConnectedAt:  now.UTC().Format(time.RFC3339),
		LastPing:     now.UTC().Format(time.RFC3339),
		ExpiresAt:    now.Add(ttl).Unix(),
		Healthy:      true,
	}
	if err := h.Connections.Put(ctx, conn); err != nil {
		logger.Error().Err(err).Msg("failed to store connection")
		return respond(500, "Failed to connect."), nil
	}

	logger.Info().Str("user_id", userID).Msg("connection established")

	resp := respond(200, "Connected.")
	if token != "" {
		// The gateway must echo exactly one offered subprotocol or the
		// browser fails the handshake.
		resp.Headers = map[string]string{"Sec-WebSocket-Protocol": token}
	}
	return resp, nil
}

// reapUserConnections removes the user's abandoned endpoints: rows replaced by
// the same session, or rows that have neither connected nor pinged recently.
func (h *Handler) reapUserConnections(ctx context.Context, logger zerolog.Logger, userID, sessionID string, now time.Time) {
	existing, err := h.Connections.ListByUser(ctx, userID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list existing connections")
		return
	}

	cutoff := now.Add(-staleConnectionAge).UTC().Format(time.RFC3339)
	for _, conn := range existing {
		replaced := sessionID != "" && conn.SessionID == sessionID
		stale := conn.ConnectedAt < cutoff || conn.LastPing == "" || conn.LastPing < cutoff
		if !replaced && !stale {
			continue
		}
		if err := h.Connections.Delete(ctx, conn.ConnectionID); err != nil {
			logger.Error().Err(err).
				Str("stale_connection_id", conn.ConnectionID).
				Msg("failed to remove stale connection")
		}
	}
}

func (h *Handler) handleDisconnect(ctx context.Context, logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connID := req.RequestContext.ConnectionID
	if connID == "" {
		logger.Error().Msg("disconnect event missing connectionId")
		return respond(400, "Missing connectionId"), nil
	}

	if err := h.Connections.Delete(ctx, connID); err != nil {
		logger.Error().Err(err).Msg("failed to delete connection")
		return respond(500, "Failed to disconnect."), nil
	}

	logger.Info().Msg("connection closed")
	return respond(200, "Disconnected successfully."), nil
}
