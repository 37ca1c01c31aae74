package notificationdao

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	studioddb "github.com/atelierhq/studio-realtime/studio-ddb"
	"github.com/savaki/ddb"
)

// DAO provides access to the notifications table.
type DAO struct {
	table     *ddb.Table
	api       dynamodbiface.DynamoDBAPI
	tableName string
}

// New creates a new notifications DAO.
func New(api dynamodbiface.DynamoDBAPI, tableName string) *DAO {
	return &DAO{
		table:     ddb.New(api).MustTable(tableName, Notification{}),
		api:       api,
		tableName: tableName,
	}
}

// Put stores a notification row.
func (d *DAO) Put(ctx context.Context, n Notification) error {
	return d.table.Put(n).RunWithContext(ctx)
}

// Recent returns up to limit notifications for the user, newest first.
func (d *DAO) Recent(ctx context.Context, userID string, limit int) ([]Notification, error) {
	output, err := d.api.QueryWithContext(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		KeyConditionExpression: aws.String("userId = :u"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":u": {S: aws.String(userID)},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int64(int64(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications for %v: %w", userID, err)
	}

	var items []Notification
	if err := dynamodbattribute.UnmarshalListOfMaps(output.Items, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notifications for %v: %w", userID, err)
	}
	return items, nil
}

// MarkRead flips the read flag on a single notification.
func (d *DAO) MarkRead(ctx context.Context, userID, sortKey string) error {
	_, err := d.api.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"userId":         {S: aws.String(userID)},
			"timestamp#uuid": {S: aws.String(sortKey)},
		},
		UpdateExpression:         aws.String("SET #r = :true"),
		ExpressionAttributeNames: map[string]*string{"#r": aws.String("read")},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":true": {BOOL: aws.Bool(true)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to mark notification read for %v: %w", userID, err)
	}
	return nil
}

// Delete removes a single notification row.
func (d *DAO) Delete(ctx context.Context, userID, sortKey string) error {
	return d.table.Delete(userID).Range(sortKey).RunWithContext(ctx)
}

// KeysByDedupeID queries the dedupeId-index GSI and returns the primary keys
// of every notification generated from the given dedupe id.
func (d *DAO) KeysByDedupeID(ctx context.Context, dedupeID string) ([]Notification, error) {
	output, err := d.api.QueryWithContext(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		IndexName:              aws.String("dedupeId-index"),
		KeyConditionExpression: aws.String("dedupeId = :d"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":d": {S: aws.String(dedupeID)},
		},
		ProjectionExpression:     aws.String("userId, #ts"),
		ExpressionAttributeNames: map[string]*string{"#ts": aws.String("timestamp#uuid")},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications by dedupeId %v: %w", dedupeID, err)
	}

	var items []Notification
	if err := dynamodbattribute.UnmarshalListOfMaps(output.Items, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification keys for dedupeId %v: %w", dedupeID, err)
	}
	return items, nil
}

// DeleteByDedupeID removes every notification generated from the given dedupe
// id, batched in chunks of the store's write limit. It returns the number of
// rows found.
func (d *DAO) DeleteByDedupeID(ctx context.Context, dedupeID string) (int, error) {
	items, err := d.KeysByDedupeID(ctx, dedupeID)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	requests := make([]*dynamodb.WriteRequest, len(items))
	for i, item := range items {
		requests[i] = &dynamodb.WriteRequest{
			DeleteRequest: &dynamodb.DeleteRequest{
				Key: map[string]*dynamodb.AttributeValue{
					"userId":         {S: aws.String(item.UserID)},
					"timestamp#uuid": {S: aws.String(item.SortKey)},
				},
			},
		}
	}

	if err := studioddb.BatchWrite(ctx, d.api, d.tableName, requests); err != nil {
		return 0, fmt.Errorf("failed to delete notifications for dedupeId %v: %w", dedupeID, err)
	}
	return len(items), nil
}
