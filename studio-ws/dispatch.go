package studiows

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/atelierhq/studio-realtime/studio-ws/publish"
	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
)

// Dispatcher replays server-originated events from the Kinesis stream through
// the same flows a client message would take. Only actions that don't depend
// on an originating connection are accepted.
type Dispatcher struct {
	Handler *Handler
	Logger  zerolog.Logger
}

// HandleKinesisEvent processes a batch of Kinesis records. A bad record is
// logged and skipped rather than failing the batch, since the batch would be
// retried in order and the bad record would wedge the shard.
func (d *Dispatcher) HandleKinesisEvent(ctx context.Context, event events.KinesisEvent) error {
	for _, record := range event.Records {
		if err := d.ProcessRecord(ctx, record); err != nil {
			d.Logger.Error().Err(err).
				Str("event_id", record.EventID).
				Msg("failed to process kinesis record")
		}
	}
	return nil
}

func (d *Dispatcher) ProcessRecord(ctx context.Context, record events.KinesisEventRecord) error {
	var envelope publish.Envelope
	if err := json.Unmarshal(record.Kinesis.Data, &envelope); err != nil {
		return fmt.Errorf("unmarshalling kinesis record: %w", err)
	}
	if envelope.Action == "" {
		d.Logger.Warn().Msg("kinesis record has empty action, skipping")
		return nil
	}

	logger := d.Logger.With().Str("action", envelope.Action).Logger()
	request := &Request{Action: envelope.Action, Raw: envelope.Payload}

	h := d.Handler
	var (
		resp events.APIGatewayProxyResponse
		err  error
	)
	switch envelope.Action {
	case ActionSendMessage:
		resp, err = h.handleSendMessage(ctx, logger, request)
	case ActionMarkRead:
		resp, err = h.handleMarkRead(ctx, logger, request)
	case ActionDeleteMessage:
		resp, err = h.handleDeleteMessage(ctx, logger, request)
	case ActionEditMessage:
		resp, err = h.handleEditMessage(ctx, logger, request)
	case ActionTimelineUpdated:
		resp, err = h.handleTimelineUpdated(ctx, logger, request)
	case ActionProjectUpdated:
		resp, err = h.handleProjectUpdated(ctx, logger, request)
	case ActionBudgetUpdated:
		resp, err = h.handleBudgetUpdated(ctx, logger, request)
	case ActionLineLocked, ActionLineUnlocked:
		resp, err = h.handleLineLockEvent(ctx, logger, request)
	case ActionNotify:
		return d.processNotify(ctx, logger, request)
	default:
		logger.Warn().Msg("action not dispatchable from stream, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("dispatching %v: %v %v", envelope.Action, resp.StatusCode, resp.Body)
	}
	return nil
}

type notifyPayload struct {
	UserID    string `json:"userId,omitempty"`
	ProjectID string `json:"projectId,omitempty"`
	Message   string `json:"message"`
	DedupeID  string `json:"dedupeId,omitempty"`
	SenderID  string `json:"senderId,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// processNotify creates a notification directly, either for one user or
// fanned out to a project's team.
func (d *Dispatcher) processNotify(ctx context.Context, logger zerolog.Logger, request *Request) error {
	var payload notifyPayload
	if err := request.Bind(&payload); err != nil {
		return err
	}
	if payload.Message == "" {
		logger.Warn().Msg("notify record has empty message, skipping")
		return nil
	}

	if payload.ProjectID != "" {
		return d.Handler.Notifier.FanOutToProject(ctx, ProjectID(payload.ProjectID), payload.Message, payload.DedupeID, payload.SenderID)
	}
	if payload.UserID == "" {
		logger.Warn().Msg("notify record has neither userId nor projectId, skipping")
		return nil
	}
	return d.Handler.Notifier.Create(ctx, payload.UserID, payload.Message, payload.DedupeID, payload.Timestamp, payload.SenderID, "")
}
