package studiows

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/atelierhq/studio-realtime/studio-ws/connectiondao"
	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// renewalWindow is how far a successful presence ping extends a connection's
// expiry.
const renewalWindow = 10 * time.Minute

// handlePresencePing renews the pinging connection, acknowledges it, then
// piggybacks a liveness sweep: stale rows are reaped and the deduplicated
// online roster is broadcast to every live endpoint.
func (h *Handler) handlePresencePing(ctx context.Context, logger zerolog.Logger, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connID := req.RequestContext.ConnectionID
	userID := authorizedUserID(req)
	if connID == "" || userID == "" {
		logger.Warn().Msg("missing connectionId or userId in presence ping")
		return respond(400, "Missing connection/user info"), nil
	}

	now := h.clock()
	timestamp := now.UTC().Format(time.RFC3339)

	if err := h.Connections.Renew(ctx, connID, now.Add(renewalWindow).Unix(), now); err != nil {
		if errors.Is(err, connectiondao.ErrNotFound) {
			logger.Warn().Msg("connection record missing, client must reconnect")
			return respond(404, "Connection not found"), nil
		}
		logger.Error().Err(err).Msg("failed to renew connection")
		return respond(500, "Presence update error"), nil
	}

	// Immediate ack; a failed pong is logged but never fails the flow.
	if err := h.send(ctx, connID, NewPongMessage(timestamp)); err != nil {
		logger.Error().Err(err).Msg("failed to send pong")
	}

	all, err := h.Connections.ListAll(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list connections for sweep")
		return respond(500, "Presence update error"), nil
	}

	var live, stale []connectiondao.Connection
	for _, conn := range all {
		if conn.Live(now) {
			live = append(live, conn)
		} else {
			stale = append(stale, conn)
		}
	}

	if len(stale) > 0 {
		logger.Info().Int("count", len(stale)).Msg("reaping stale connections")
		// Fire-and-forget: the sweep must never delay or fail the ping.
		go h.reapStale(context.WithoutCancel(ctx), logger, stale)
	}

	roster := onlineRoster(live)
	h.broadcastRoster(ctx, logger, live, NewOnlineUsersMessage(roster))

	body, _ := json.Marshal(map[string]interface{}{
		"status":            "pong",
		"timestamp":         timestamp,
		"activeConnections": len(live),
		"onlineUsers":       len(roster),
	})
	return respond(200, string(body)), nil
}

func (h *Handler) reapStale(ctx context.Context, logger zerolog.Logger, stale []connectiondao.Connection) {
	for _, conn := range stale {
		if err := h.Connections.Delete(ctx, conn.ConnectionID); err != nil {
			logger.Error().Err(err).
				Str("stale_connection_id", conn.ConnectionID).
				Msg("failed to reap stale connection")
		}
	}
}

// broadcastRoster pushes the roster to each live connection concurrently, so
// one slow endpoint never holds up the rest. Endpoints that report Gone are
// deleted immediately; the roster self-heals on the next ping.
func (h *Handler) broadcastRoster(ctx context.Context, logger zerolog.Logger, live []connectiondao.Connection, payload OnlineUsersMessage) {
	data, err := marshalPayload(payload)
	if err != nil {
		logger.Error().Err(err).Msg("failed to marshal roster")
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(50)
	for _, conn := range live {
		conn := conn
		g.Go(func() error {
			err := h.Sender.Send(gctx, conn.ConnectionID, data)
			if err == nil {
				return nil
			}
			if IsGone(err) {
				if delErr := h.Connections.Delete(gctx, conn.ConnectionID); delErr != nil {
					logger.Error().Err(delErr).
						Str("gone_connection_id", conn.ConnectionID).
						Msg("failed to delete gone connection")
				}
				return nil
			}
			logger.Error().Err(err).
				Str("connection_id", conn.ConnectionID).
				Msg("failed to broadcast roster")
			return nil
		})
	}
	_ = g.Wait()
}

// onlineRoster deduplicates user ids over the live partition, preserving
// first-seen order.
func onlineRoster(live []connectiondao.Connection) []string {
	seen := make(map[string]bool, len(live))
	var users []string
	for _, conn := range live {
		if conn.UserID == "" || seen[conn.UserID] {
			continue
		}
		seen[conn.UserID] = true
		users = append(users, conn.UserID)
	}
	return users
}
