package studiows

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/atelierhq/studio-realtime/studio-ws/eventdao"
	"github.com/aws/aws-lambda-go/events"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

type timelineRelayPayload struct {
	ConversationType string          `json:"conversationType"`
	ConversationID   string          `json:"conversationId"`
	SenderID         string          `json:"senderId,omitempty"`
	Events           json.RawMessage `json:"events"`
}

// handleTimelineRelay forwards a timeline edit to everyone viewing the
// project. The payload is passed through untouched so clients stay in sync
// with the editor's local state.
func (h *Handler) handleTimelineRelay(ctx context.Context, logger zerolog.Logger, request *Request) (events.APIGatewayProxyResponse, error) {
	var payload timelineRelayPayload
	if err := request.Bind(&payload); err != nil {
		return respond(400, "invalid payload"), nil
	}
	if payload.ConversationType != ConversationTypeProject {
		return respond(400, "Invalid conversationType"), nil
	}
	if payload.ConversationID == "" || len(payload.Events) == 0 {
		logger.Warn().Msg("missing conversationId or events")
		return respond(400, "Missing fields"), nil
	}

	event := struct {
		Action string `json:"action"`
		timelineRelayPayload
	}{Action: request.Action, timelineRelayPayload: payload}

	if err := h.Router.SendToConversation(ctx, payload.ConversationID, event); err != nil {
		logger.Error().Err(err).Msg("failed to relay timeline event")
	}
	return respond(200, "Timeline event relayed"), nil
}

type timelineUpdatedPayload struct {
	ProjectID string                   `json:"projectId"`
	Title     string                   `json:"title"`
	SenderID  string                   `json:"senderId"`
	Username  string                   `json:"username"`
	Events    []eventdao.TimelineEvent `json:"events"`
}

// handleTimelineUpdated persists the new timeline, broadcasts it and notifies
// the team about the first difference against the stored set. Only one
// notification goes out per save no matter how many rows changed.
func (h *Handler) handleTimelineUpdated(ctx context.Context, logger zerolog.Logger, request *Request) (events.APIGatewayProxyResponse, error) {
	var payload timelineUpdatedPayload
	if err := request.Bind(&payload); err != nil {
		return respond(400, "invalid payload"), nil
	}
	if payload.ProjectID == "" {
		logger.Warn().Msg("missing projectId")
		return respond(400, "Missing projectId"), nil
	}
	projectID := ProjectID(payload.ProjectID)

	next := payload.Events
	for i := range next {
		if next[i].ID == "" {
			next[i].ID = h.newEventID()
		}
	}

	prev, err := h.Events.ListByProject(ctx, projectID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load stored timeline")
		prev = nil
	}

	if err := h.Events.ReplaceAll(ctx, projectID, prev, next); err != nil {
		logger.Error().Err(err).Msg("failed to persist timeline")
	}

	event := struct {
		Action    string                   `json:"action"`
		ProjectID string                   `json:"projectId"`
		Events    []eventdao.TimelineEvent `json:"events"`
	}{Action: ActionTimelineUpdated, ProjectID: projectID, Events: next}

	if err := h.Router.SendToConversation(ctx, "project#"+projectID, event); err != nil {
		logger.Error().Err(err).Msg("failed to broadcast timeline")
	}

	kind, changed, ok := firstChange(prev, next)
	if ok {
		title := payload.Title
		if title == "" {
			title = projectID
		}
		message := timelineChangeSummary(payload.Username, kind, changed, title)
		dedupeID := fmt.Sprintf("timeline#%v#%v#%v", projectID, kind, changed.ID)
		if err := h.Notifier.FanOutToProject(ctx, projectID, message, dedupeID, payload.SenderID); err != nil {
			logger.Error().Err(err).Msg("failed to fan out timeline notification")
		}
	}

	return respond(200, "Timeline updated"), nil
}

// firstChange reports the first difference between the stored and submitted
// event sets: additions win over edits, edits over removals. A difference
// that fits none of those buckets is reported as a plain modification.
func firstChange(prev, next []eventdao.TimelineEvent) (string, eventdao.TimelineEvent, bool) {
	prevByID := make(map[string]eventdao.TimelineEvent, len(prev))
	for _, ev := range prev {
		id := ev.ID
		if id == "" {
			id = ev.EventID
		}
		prevByID[id] = ev
	}
	nextIDs := make(map[string]struct{}, len(next))
	for _, ev := range next {
		nextIDs[ev.ID] = struct{}{}
	}

	for _, ev := range next {
		if _, found := prevByID[ev.ID]; !found {
			return "added", ev, true
		}
	}
	for _, ev := range next {
		old := prevByID[ev.ID]
		if old.Date != ev.Date || old.Description != ev.Description || old.Hours != ev.Hours {
			return "updated", ev, true
		}
	}
	for _, ev := range prev {
		id := ev.ID
		if id == "" {
			id = ev.EventID
		}
		if _, found := nextIDs[id]; !found {
			return "removed", ev, true
		}
	}
	if len(next) > 0 {
		return "modified", next[0], true
	}
	return "", eventdao.TimelineEvent{}, false
}

func timelineChangeSummary(username, kind string, ev eventdao.TimelineEvent, projectTitle string) string {
	actor := username
	if actor == "" {
		actor = "Someone"
	}
	verb := map[string]string{
		"added":    "added",
		"updated":  "updated",
		"removed":  "removed",
		"modified": "changed",
	}[kind]

	label := ev.Description
	if label == "" {
		label = "a timeline event"
	}
	msg := fmt.Sprintf("%v %v %q in %q", actor, verb, label, projectTitle)
	if ev.Date != "" {
		msg += " on " + ev.Date
	}
	return msg
}

type projectUpdatedPayload struct {
	ProjectID string                 `json:"projectId"`
	Title     string                 `json:"title"`
	SenderID  string                 `json:"senderId"`
	Username  string                 `json:"username"`
	Timestamp string                 `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields"`
}

// handleProjectUpdated notifies the team that project settings changed. The
// changed fields are rendered into a single line so the notification reads
// without opening the project.
func (h *Handler) handleProjectUpdated(ctx context.Context, logger zerolog.Logger, request *Request) (events.APIGatewayProxyResponse, error) {
	var payload projectUpdatedPayload
	if err := request.Bind(&payload); err != nil {
		return respond(400, "invalid payload"), nil
	}
	if payload.ProjectID == "" || len(payload.Fields) == 0 {
		logger.Warn().Msg("missing projectId or fields")
		return respond(400, "Missing fields"), nil
	}
	projectID := ProjectID(payload.ProjectID)

	// Viewers get only the changed fields, never the sender metadata.
	event := struct {
		Action    string                 `json:"action"`
		ProjectID string                 `json:"projectId"`
		Fields    map[string]interface{} `json:"fields"`
	}{Action: ActionProjectUpdated, ProjectID: projectID, Fields: payload.Fields}
	if err := h.Router.SendToConversation(ctx, "project#"+projectID, event); err != nil {
		logger.Error().Err(err).Msg("failed to broadcast project update")
	}

	title := payload.Title
	if title == "" {
		title = projectID
	}
	actor := payload.Username
	if actor == "" {
		actor = "Someone"
	}
	message := fmt.Sprintf("%v updated %q: %v", actor, title, describeFields(payload.Fields))

	ts := h.clock()
	if payload.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, payload.Timestamp); err == nil {
			ts = parsed
		}
	}
	dedupeID := fmt.Sprintf("project#%v#%d", projectID, ts.UnixMilli())
	if err := h.Notifier.FanOutToProject(ctx, projectID, message, dedupeID, payload.SenderID); err != nil {
		logger.Error().Err(err).Msg("failed to fan out project notification")
	}

	return respond(200, "Project update broadcasted"), nil
}

// describeFields renders the changed fields as "name: value | name: value",
// sorted by name so repeated saves produce identical text.
func describeFields(fields map[string]interface{}) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%v: %v", k, formatFieldValue(fields[k])))
	}
	return strings.Join(parts, " | ")
}

func formatFieldValue(v interface{}) string {
	switch value := v.(type) {
	case map[string]interface{}:
		if total, found := value["total"].(float64); found {
			formatted := "$" + humanize.Commaf(total)
			if date, found := value["date"].(string); found && date != "" {
				formatted += " on " + date
			}
			return formatted
		}
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprint(value)
		}
		return string(data)
	case []interface{}:
		parts := make([]string, 0, len(value))
		for _, item := range value {
			parts = append(parts, formatFieldValue(item))
		}
		return strings.ReplaceAll(strings.Join(parts, ", "), "\n", " ")
	case string:
		return strings.ReplaceAll(value, "\n", " ")
	case float64:
		return humanize.Commaf(value)
	default:
		return fmt.Sprint(value)
	}
}

// budgetBucket groups budget notifications into ten minute windows.
const budgetBucket = 10 * time.Minute

type budgetUpdatedPayload struct {
	ProjectID string  `json:"projectId"`
	Title     string  `json:"title"`
	Total     float64 `json:"total"`
	Revision  string  `json:"revision"`
	SenderID  string  `json:"senderId"`
	Username  string  `json:"username"`
}

// handleBudgetUpdated broadcasts a budget change and notifies the team once
// per revision per window, so a burst of incremental edits lands as a single
// notification.
func (h *Handler) handleBudgetUpdated(ctx context.Context, logger zerolog.Logger, request *Request) (events.APIGatewayProxyResponse, error) {
	var payload budgetUpdatedPayload
	if err := request.Bind(&payload); err != nil {
		return respond(400, "invalid payload"), nil
	}
	if payload.ProjectID == "" {
		logger.Warn().Msg("missing projectId")
		return respond(400, "Missing projectId"), nil
	}
	projectID := ProjectID(payload.ProjectID)

	event := struct {
		Action    string  `json:"action"`
		ProjectID string  `json:"projectId"`
		Revision  string  `json:"revision"`
		Total     float64 `json:"total"`
	}{Action: ActionBudgetUpdated, ProjectID: projectID, Revision: payload.Revision, Total: payload.Total}
	if err := h.Router.SendToConversation(ctx, "project#"+projectID, event); err != nil {
		logger.Error().Err(err).Msg("failed to broadcast budget update")
	}

	title := payload.Title
	if title == "" {
		title = projectID
	}
	actor := payload.Username
	if actor == "" {
		actor = "Someone"
	}
	message := fmt.Sprintf("%v updated the budget for %q to $%v", actor, title, humanize.Commaf(payload.Total))

	revision := payload.Revision
	if revision == "" {
		revision = "unknown"
	}
	bucket := h.clock().Unix() / int64(budgetBucket.Seconds())
	dedupeID := fmt.Sprintf("budget#%v#%v#update#%d", projectID, revision, bucket)
	if err := h.Notifier.FanOutToProject(ctx, projectID, message, dedupeID, payload.SenderID); err != nil {
		logger.Error().Err(err).Msg("failed to fan out budget notification")
	}

	return respond(200, "Budget update broadcasted"), nil
}
