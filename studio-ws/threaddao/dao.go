// Package threaddao maintains per-participant DM thread summaries: one row per
// (userId, conversationId), two symmetric upserts per message.
package threaddao

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

// Summary is one participant's view of a DM thread.
type Summary struct {
	UserID         string `dynamodbav:"userId"`
	ConversationID string `dynamodbav:"conversationId"`
	LastMsgTs      string `dynamodbav:"lastMsgTs"`
	Snippet        string `dynamodbav:"snippet"`
	OtherUserID    string `dynamodbav:"otherUserId"`
	Read           bool   `dynamodbav:"read"`
}

type DAO struct {
	api       dynamodbiface.DynamoDBAPI
	tableName string
}

func New(api dynamodbiface.DynamoDBAPI, tableName string) *DAO {
	return &DAO{api: api, tableName: tableName}
}

// Build creates a thread-summary DAO using the standard table name for the
// given environment.
func Build(api dynamodbiface.DynamoDBAPI, env string) *DAO {
	return New(api, TableName(env))
}

func TableName(env string) string {
	return env + "-studio-realtime--dm-threads"
}

// Upsert merges the summary fields into the participant's row. An UpdateItem
// rather than a put, so attributes outside the summary survive.
func (d *DAO) Upsert(ctx context.Context, s Summary) error {
	_, err := d.api.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"userId":         {S: aws.String(s.UserID)},
			"conversationId": {S: aws.String(s.ConversationID)},
		},
		UpdateExpression:         aws.String("SET lastMsgTs = :ts, snippet = :snip, otherUserId = :other, #r = :read"),
		ExpressionAttributeNames: map[string]*string{"#r": aws.String("read")},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":ts":    {S: aws.String(s.LastMsgTs)},
			":snip":  {S: aws.String(s.Snippet)},
			":other": {S: aws.String(s.OtherUserID)},
			":read":  {BOOL: aws.Bool(s.Read)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert thread summary for %v/%v: %w", s.UserID, s.ConversationID, err)
	}
	return nil
}
