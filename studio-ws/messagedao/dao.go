package messagedao

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

// DAO provides access to one message table. hashAttr names the table's
// partition-key attribute: conversationId for DMs, projectId for project
// messages.
type DAO struct {
	api       dynamodbiface.DynamoDBAPI
	tableName string
	hashAttr  string
}

func New(api dynamodbiface.DynamoDBAPI, tableName, hashAttr string) *DAO {
	return &DAO{api: api, tableName: tableName, hashAttr: hashAttr}
}

// BuildDM creates a DAO for the direct-messages table.
func BuildDM(api dynamodbiface.DynamoDBAPI, env string) *DAO {
	return New(api, env+"-studio-realtime--dms", "conversationId")
}

// BuildProject creates a DAO for the project-messages table.
func BuildProject(api dynamodbiface.DynamoDBAPI, env string) *DAO {
	return New(api, env+"-studio-realtime--project-messages", "projectId")
}

func (d *DAO) key(hashValue, messageID string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		d.hashAttr:  {S: aws.String(hashValue)},
		"messageId": {S: aws.String(messageID)},
	}
}

// Put stores a message row.
func (d *DAO) Put(ctx context.Context, msg Message) error {
	item, err := dynamodbattribute.MarshalMap(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message %v: %w", msg.MessageID, err)
	}
	if _, err := d.api.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("failed to put message %v: %w", msg.MessageID, err)
	}
	return nil
}

// Get retrieves a message by its table's hash value and message id. Returns
// nil when the row does not exist.
func (d *DAO) Get(ctx context.Context, hashValue, messageID string) (*Message, error) {
	output, err := d.api.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key:       d.key(hashValue, messageID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get message %v: %w", messageID, err)
	}
	if output.Item == nil {
		return nil, nil
	}

	var msg Message
	if err := dynamodbattribute.UnmarshalMap(output.Item, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message %v: %w", messageID, err)
	}
	return &msg, nil
}

// SetReactions replaces the message's reactions map.
func (d *DAO) SetReactions(ctx context.Context, hashValue, messageID string, reactions map[string][]string) error {
	value, err := dynamodbattribute.Marshal(reactions)
	if err != nil {
		return fmt.Errorf("failed to marshal reactions for %v: %w", messageID, err)
	}
	if _, err := d.api.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(d.tableName),
		Key:              d.key(hashValue, messageID),
		UpdateExpression: aws.String("SET reactions = :r"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":r": value,
		},
	}); err != nil {
		return fmt.Errorf("failed to update reactions for %v: %w", messageID, err)
	}
	return nil
}
