// Package projectdao reads the externally-owned projects table for team
// roster lookups. The engine never writes here.
package projectdao

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/savaki/ddb"
)

// TeamMember is one roster entry on a project.
type TeamMember struct {
	UserID string `dynamodbav:"userId"`
}

// Project is the subset of the project record this engine reads.
type Project struct {
	ProjectID string       `dynamodbav:"projectId" ddb:"hash"`
	Title     string       `dynamodbav:"title,omitempty"`
	Team      []TeamMember `dynamodbav:"team,omitempty"`
}

type DAO struct {
	table *ddb.Table
}

func New(api dynamodbiface.DynamoDBAPI, tableName string) *DAO {
	return &DAO{table: ddb.New(api).MustTable(tableName, Project{})}
}

// Build creates a projects DAO using the standard table name for the given
// environment.
func Build(api dynamodbiface.DynamoDBAPI, env string) *DAO {
	return New(api, TableName(env))
}

func TableName(env string) string {
	return env + "-studio--projects"
}

// TeamIDs returns the user ids on the project's team. A missing project
// yields an empty roster, not an error.
func (d *DAO) TeamIDs(ctx context.Context, projectID string) ([]string, error) {
	var project Project
	if err := d.table.Get(projectID).ScanWithContext(ctx, &project); err != nil {
		if ddb.IsItemNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get project %v: %w", projectID, err)
	}

	ids := make([]string, 0, len(project.Team))
	for _, member := range project.Team {
		ids = append(ids, member.UserID)
	}
	return ids, nil
}
