package studiows

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
)

type lineLockPayload struct {
	ProjectID string `json:"projectId"`
	LineID    string `json:"lineId"`
	Revision  string `json:"revision,omitempty"`
	SenderID  string `json:"senderId,omitempty"`
}

// handleLineLockEvent relays budget line lock and unlock events to everyone
// viewing the project. Locks are advisory; no state is stored, so a crashed
// editor's lock simply stops being re-asserted.
func (h *Handler) handleLineLockEvent(ctx context.Context, logger zerolog.Logger, request *Request) (events.APIGatewayProxyResponse, error) {
	var payload lineLockPayload
	if err := request.Bind(&payload); err != nil {
		return respond(400, "invalid payload"), nil
	}
	if payload.ProjectID == "" || payload.LineID == "" {
		logger.Warn().Msg("missing projectId or lineId")
		return respond(400, "Missing projectId or lineId"), nil
	}

	event := struct {
		Action string `json:"action"`
		lineLockPayload
	}{Action: request.Action, lineLockPayload: payload}

	if err := h.Router.SendToConversation(ctx, "project#"+ProjectID(payload.ProjectID), event); err != nil {
		logger.Error().Err(err).Msg("failed to relay line lock event")
	}
	return respond(200, "Lock event relayed"), nil
}
