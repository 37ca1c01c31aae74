package notificationdao

// Notification is one row of a user's durable notification feed, sorted
// newest-first by the composite timestamp#uuid key. The dedupeId identifies
// "the same notification" across retried domain events and backs the
// dedupeId-index GSI used for bulk deletes.
type Notification struct {
	UserID    string `dynamodbav:"userId" ddb:"hash" json:"userId"`
	SortKey   string `dynamodbav:"timestamp#uuid" ddb:"range" json:"timestamp#uuid"`
	Timestamp string `dynamodbav:"timestamp" json:"timestamp"`
	DedupeID  string `dynamodbav:"dedupeId" ddb:"gsi_hash:dedupeId-index" json:"dedupeId"`
	Message   string `dynamodbav:"message" json:"message"`
	SenderID  string `dynamodbav:"senderId,omitempty" json:"senderId,omitempty"`
	ProjectID string `dynamodbav:"projectId,omitempty" json:"projectId,omitempty"`
	Read      bool   `dynamodbav:"read" json:"read"`
}
