package connectiondao

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/savaki/ddb"
)

// ErrNotFound signals an operation against a connection row that no longer
// exists. Callers treat it as "client must reconnect", not as a transient
// failure.
var ErrNotFound = errors.New("connection not found")

// DAO provides access to the live-connections table.
type DAO struct {
	table     *ddb.Table
	api       dynamodbiface.DynamoDBAPI
	tableName string
}

// New creates a new connections DAO.
func New(api dynamodbiface.DynamoDBAPI, tableName string) *DAO {
	return &DAO{
		table:     ddb.New(api).MustTable(tableName, Connection{}),
		api:       api,
		tableName: tableName,
	}
}

// Put stores a connection record, replacing any previous row for the id.
func (d *DAO) Put(ctx context.Context, conn Connection) error {
	return d.table.Put(conn).RunWithContext(ctx)
}

// Get retrieves a connection record by ID.
func (d *DAO) Get(ctx context.Context, connectionID string) (*Connection, error) {
	var conn Connection
	if err := d.table.Get(connectionID).ScanWithContext(ctx, &conn); err != nil {
		if ddb.IsItemNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get connection %v: %w", connectionID, err)
	}
	return &conn, nil
}

// Delete removes a connection record by ID. Deleting an absent row is a no-op.
func (d *DAO) Delete(ctx context.Context, connectionID string) error {
	return d.table.Delete(connectionID).RunWithContext(ctx)
}

// SetActiveConversation records which conversation the connection wants
// conversation-scoped events for. The update is unconditional: focusing before
// the connect hook has written the row creates a partial row, which stays out
// of every recipient set because it carries no expiry.
func (d *DAO) SetActiveConversation(ctx context.Context, connectionID, conversationID string) error {
	_, err := d.api.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"connectionId": {S: aws.String(connectionID)},
		},
		UpdateExpression: aws.String("SET activeConversation = :c"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":c": {S: aws.String(strings.TrimSpace(conversationID))},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to set active conversation for %v: %w", connectionID, err)
	}
	return nil
}

// Renew extends a connection's expiry and records the ping. The update is
// conditional on the row existing; a missing row yields ErrNotFound.
func (d *DAO) Renew(ctx context.Context, connectionID string, expiresAt int64, pingedAt time.Time) error {
	_, err := d.api.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"connectionId": {S: aws.String(connectionID)},
		},
		UpdateExpression:    aws.String("SET expiresAt = :exp, lastPing = :pingTime, connectionHealthy = :healthy"),
		ConditionExpression: aws.String("attribute_exists(connectionId)"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":exp":      {N: aws.String(fmt.Sprintf("%d", expiresAt))},
			":pingTime": {S: aws.String(pingedAt.UTC().Format(time.RFC3339))},
			":healthy":  {BOOL: aws.Bool(true)},
		},
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
			return ErrNotFound
		}
		return fmt.Errorf("failed to renew connection %v: %w", connectionID, err)
	}
	return nil
}

// ListAll returns every connection row, expired ones included. The table holds
// one gateway's live endpoints, so a full scan filtered client-side is the
// accepted access pattern.
func (d *DAO) ListAll(ctx context.Context) ([]Connection, error) {
	var (
		conns   []Connection
		lastKey map[string]*dynamodb.AttributeValue
	)
	for {
		output, err := d.api.ScanWithContext(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(d.tableName),
			ExclusiveStartKey: lastKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan connections: %w", err)
		}

		var page []Connection
		if err := dynamodbattribute.UnmarshalListOfMaps(output.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal connections: %w", err)
		}
		conns = append(conns, page...)

		if output.LastEvaluatedKey == nil {
			return conns, nil
		}
		lastKey = output.LastEvaluatedKey
	}
}

// ListByUser returns every connection row owned by the user.
func (d *DAO) ListByUser(ctx context.Context, userID string) ([]Connection, error) {
	all, err := d.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	var conns []Connection
	for _, c := range all {
		if c.UserID == userID {
			conns = append(conns, c)
		}
	}
	return conns, nil
}
