// Package studiows implements the realtime connection, presence and broadcast
// engine behind the studio WebSocket gateway.
package studiows

import (
	"encoding/json"
	"fmt"

	"github.com/atelierhq/studio-realtime/studio-ws/notificationdao"
)

// Inbound actions. Every message through the gateway's $default route carries
// {"action": ..., ...fields}.
const (
	ActionSendMessage           = "sendMessage"
	ActionMarkRead              = "markRead"
	ActionDeleteMessage         = "deleteMessage"
	ActionEditMessage           = "editMessage"
	ActionToggleReaction        = "toggleReaction"
	ActionPing                  = "ping"
	ActionPresencePing          = "presencePing"
	ActionTimelineUpdate        = "timelineUpdate"
	ActionTimelineDelete        = "timelineDelete"
	ActionSetActiveConversation = "setActiveConversation"
	ActionTimelineUpdated       = "timelineUpdated"
	ActionProjectUpdated        = "projectUpdated"
	ActionBudgetUpdated         = "budgetUpdated"
	ActionLineLocked            = "lineLocked"
	ActionLineUnlocked          = "lineUnlocked"
	ActionFetchNotifications    = "fetchNotifications"
	ActionNotify                = "notify"

	ActionNewMessage         = "newMessage"
	ActionNotification       = "notification"
	ActionNotificationsBatch = "notificationsBatch"
)

// Request is an inbound action envelope. Raw holds the full body so each
// action can unmarshal its own fields.
type Request struct {
	Action string `json:"action"`
	Raw    json.RawMessage
}

// ParseRequest parses an inbound message body.
func ParseRequest(body string) (*Request, error) {
	var req Request
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	if req.Action == "" {
		return nil, fmt.Errorf("missing action")
	}
	req.Raw = json.RawMessage(body)
	return &req, nil
}

// Bind unmarshals the request body into an action-specific payload struct.
func (r *Request) Bind(v interface{}) error {
	if err := json.Unmarshal(r.Raw, v); err != nil {
		return fmt.Errorf("invalid %v payload: %w", r.Action, err)
	}
	return nil
}

func marshalPayload(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshalling payload: %w", err)
	}
	return data, nil
}

// PongMessage acknowledges a presence ping.
type PongMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
}

func NewPongMessage(timestamp string) PongMessage {
	return PongMessage{Type: "pong", Timestamp: timestamp, Status: "healthy"}
}

// OnlineUsersMessage carries the deduplicated online roster.
type OnlineUsersMessage struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

func NewOnlineUsersMessage(users []string) OnlineUsersMessage {
	return OnlineUsersMessage{Type: "onlineUsers", Users: users}
}

// NotificationMessage pushes a freshly stored notification row.
type NotificationMessage struct {
	Action string `json:"action"`
	notificationdao.Notification
}

func NewNotificationMessage(n notificationdao.Notification) NotificationMessage {
	return NotificationMessage{Action: ActionNotification, Notification: n}
}

// NotificationsBatchMessage answers a fetchNotifications request.
type NotificationsBatchMessage struct {
	Action string                         `json:"action"`
	Items  []notificationdao.Notification `json:"items"`
}

func NewNotificationsBatchMessage(items []notificationdao.Notification) NotificationsBatchMessage {
	if items == nil {
		items = []notificationdao.Notification{}
	}
	return NotificationsBatchMessage{Action: ActionNotificationsBatch, Items: items}
}
