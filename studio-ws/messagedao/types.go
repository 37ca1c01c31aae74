package messagedao

// Message is a persisted chat message. DM and project messages share the shape
// but live in different tables with different hash-key attributes, so the DAO
// marshals rows itself instead of binding a single table schema.
type Message struct {
	MessageID      string              `dynamodbav:"messageId" json:"messageId"`
	ConversationID string              `dynamodbav:"conversationId" json:"conversationId"`
	ProjectID      string              `dynamodbav:"projectId,omitempty" json:"projectId,omitempty"`
	SenderID       string              `dynamodbav:"senderId" json:"senderId"`
	Username       string              `dynamodbav:"username,omitempty" json:"username,omitempty"`
	Text           string              `dynamodbav:"text" json:"text"`
	Timestamp      string              `dynamodbav:"timestamp" json:"timestamp"`
	RecipientPK    string              `dynamodbav:"GSI1PK,omitempty" json:"GSI1PK,omitempty"`
	RecipientSK    string              `dynamodbav:"GSI1SK,omitempty" json:"GSI1SK,omitempty"`
	OptimisticID   string              `dynamodbav:"optimisticId,omitempty" json:"optimisticId,omitempty"`
	Attachments    []string            `dynamodbav:"attachments,omitempty" json:"attachments,omitempty"`
	Reactions      map[string][]string `dynamodbav:"reactions,omitempty" json:"reactions"`
	EditedAt       string              `dynamodbav:"editedAt,omitempty" json:"editedAt,omitempty"`
	EditedBy       string              `dynamodbav:"editedBy,omitempty" json:"editedBy,omitempty"`
}

// Toggle flips userID's reaction for emoji and returns the updated map.
// Empty reaction sets are removed outright, never stored as empty lists.
func Toggle(reactions map[string][]string, emoji, userID string) map[string][]string {
	updated := make(map[string][]string, len(reactions))
	for k, v := range reactions {
		updated[k] = append([]string(nil), v...)
	}

	users := updated[emoji]
	found := -1
	for i, u := range users {
		if u == userID {
			found = i
			break
		}
	}
	if found >= 0 {
		users = append(users[:found], users[found+1:]...)
	} else {
		users = append(users, userID)
	}

	if len(users) > 0 {
		updated[emoji] = users
	} else {
		delete(updated, emoji)
	}
	return updated
}
