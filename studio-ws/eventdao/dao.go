// Package eventdao stores project timeline events. Saves replace the full
// event set: delete everything previously stored, then put the new set,
// batched at the store's write limit.
package eventdao

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	studioddb "github.com/atelierhq/studio-realtime/studio-ddb"
)

// TimelineEvent is one row of a project's timeline. EventID mirrors ID as the
// range key.
type TimelineEvent struct {
	ProjectID    string  `dynamodbav:"projectId" json:"-"`
	EventID      string  `dynamodbav:"eventId" json:"-"`
	ID           string  `dynamodbav:"id" json:"id"`
	Date         string  `dynamodbav:"date,omitempty" json:"date,omitempty"`
	Description  string  `dynamodbav:"description,omitempty" json:"description,omitempty"`
	Hours        float64 `dynamodbav:"hours,omitempty" json:"hours,omitempty"`
	BudgetItemID string  `dynamodbav:"budgetItemId,omitempty" json:"budgetItemId,omitempty"`
}

type DAO struct {
	api       dynamodbiface.DynamoDBAPI
	tableName string
}

func New(api dynamodbiface.DynamoDBAPI, tableName string) *DAO {
	return &DAO{api: api, tableName: tableName}
}

// Build creates a timeline-events DAO using the standard table name for the
// given environment.
func Build(api dynamodbiface.DynamoDBAPI, env string) *DAO {
	return New(api, TableName(env))
}

func TableName(env string) string {
	return env + "-studio-realtime--events"
}

// ListByProject returns every stored event for the project.
func (d *DAO) ListByProject(ctx context.Context, projectID string) ([]TimelineEvent, error) {
	var (
		events  []TimelineEvent
		lastKey map[string]*dynamodb.AttributeValue
	)
	for {
		output, err := d.api.QueryWithContext(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(d.tableName),
			KeyConditionExpression: aws.String("projectId = :p"),
			ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
				":p": {S: aws.String(projectID)},
			},
			ExclusiveStartKey: lastKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query events for project %v: %w", projectID, err)
		}

		var page []TimelineEvent
		if err := dynamodbattribute.UnmarshalListOfMaps(output.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal events for project %v: %w", projectID, err)
		}
		events = append(events, page...)

		if output.LastEvaluatedKey == nil {
			return events, nil
		}
		lastKey = output.LastEvaluatedKey
	}
}

// ReplaceAll writes next and deletes any prev row not present in it, batched
// as one sequence. A key can appear only once per batch call, so rows that
// survive are written, never delete-then-put.
func (d *DAO) ReplaceAll(ctx context.Context, projectID string, prev, next []TimelineEvent) error {
	var requests []*dynamodb.WriteRequest

	keep := make(map[string]bool, len(next))
	for _, ev := range next {
		keep[ev.ID] = true
	}
	for _, ev := range prev {
		eventID := ev.EventID
		if eventID == "" {
			eventID = ev.ID
		}
		if keep[eventID] {
			continue
		}
		requests = append(requests, &dynamodb.WriteRequest{
			DeleteRequest: &dynamodb.DeleteRequest{
				Key: map[string]*dynamodb.AttributeValue{
					"projectId": {S: aws.String(projectID)},
					"eventId":   {S: aws.String(eventID)},
				},
			},
		})
	}

	for _, ev := range next {
		ev.ProjectID = projectID
		ev.EventID = ev.ID
		item, err := dynamodbattribute.MarshalMap(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event %v: %w", ev.ID, err)
		}
		requests = append(requests, &dynamodb.WriteRequest{
			PutRequest: &dynamodb.PutRequest{Item: item},
		})
	}

	if len(requests) == 0 {
		return nil
	}
	if err := studioddb.BatchWrite(ctx, d.api, d.tableName, requests); err != nil {
		return fmt.Errorf("failed to replace events for project %v: %w", projectID, err)
	}
	return nil
}
