package connectiondao

import "time"

// Connection represents one reachable WebSocket endpoint stored in DynamoDB.
// ActiveConversation is the conversation the endpoint currently wants
// conversation-scoped events for; last write wins.
type Connection struct {
	ConnectionID       string `dynamodbav:"connectionId" ddb:"hash"`
	UserID             string `dynamodbav:"userId,omitempty" ddb:"gsi_hash:userId-sessionId-index"`
	SessionID          string `dynamodbav:"sessionId,omitempty"`
	ActiveConversation string `dynamodbav:"activeConversation,omitempty"`
	ConnectedAt        string `dynamodbav:"connectedAt,omitempty"`
	LastPing           string `dynamodbav:"lastPing,omitempty"`
	ExpiresAt          int64  `dynamodbav:"expiresAt,omitempty"`
	Healthy            bool   `dynamodbav:"connectionHealthy,omitempty"`
}

// Live reports whether the connection should still be treated as reachable.
// Rows with a zero or past expiry must never receive broadcasts, even if a
// delete race has not completed yet.
func (c Connection) Live(now time.Time) bool {
	return c.ExpiresAt > now.Unix()
}
