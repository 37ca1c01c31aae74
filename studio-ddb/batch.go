package studioddb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

// BatchSize is the DynamoDB batch-write item limit.
const BatchSize = 25

const maxBatchRetries = 5

// BatchWrite issues the given write requests against a single table in chunks
// of BatchSize, retrying unprocessed items with exponential backoff.
func BatchWrite(ctx context.Context, api dynamodbiface.DynamoDBAPI, tableName string, requests []*dynamodb.WriteRequest) error {
	for i := 0; i < len(requests); i += BatchSize {
		end := i + BatchSize
		if end > len(requests) {
			end = len(requests)
		}

		unprocessed := map[string][]*dynamodb.WriteRequest{
			tableName: requests[i:end],
		}

		for attempt := 0; attempt < maxBatchRetries; attempt++ {
			output, err := api.BatchWriteItemWithContext(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: unprocessed,
			})
			if err != nil {
				return fmt.Errorf("failed to batch write to %v: %w", tableName, err)
			}
			if len(output.UnprocessedItems) == 0 {
				break
			}
			unprocessed = output.UnprocessedItems
			if attempt == maxBatchRetries-1 {
				return fmt.Errorf("failed to batch write to %v: %d items unprocessed after %d retries", tableName, len(unprocessed[tableName]), maxBatchRetries)
			}

			backoff := time.Duration(1<<attempt) * 100 * time.Millisecond
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("context cancelled during batch write to %v: %w", tableName, ctx.Err())
			case <-timer.C:
			}
		}
	}
	return nil
}
