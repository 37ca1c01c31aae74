package studiows

import (
	"context"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi/apigatewaymanagementapiiface"
)

// Sender delivers a payload to a single connection. Implementations must
// return an error for which IsGone reports true when the endpoint is
// permanently unreachable.
type Sender interface {
	Send(ctx context.Context, connectionID string, data []byte) error
}

// Gateway sends through the API Gateway Management API for the configured
// WebSocket endpoint. The client is built lazily and reused.
type Gateway struct {
	Endpoint string

	mu     sync.Mutex
	client apigatewaymanagementapiiface.ApiGatewayManagementApiAPI
}

// NewGateway creates a Gateway for the given management endpoint
// (https://{domain}/{stage}).
func NewGateway(endpoint string) *Gateway {
	return &Gateway{Endpoint: endpoint}
}

// NewGatewayWithClient creates a Gateway around an existing client.
func NewGatewayWithClient(client apigatewaymanagementapiiface.ApiGatewayManagementApiAPI) *Gateway {
	return &Gateway{client: client}
}

func (g *Gateway) api() apigatewaymanagementapiiface.ApiGatewayManagementApiAPI {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		sess := session.Must(session.NewSession(aws.NewConfig().WithEndpoint(g.Endpoint)))
		g.client = apigatewaymanagementapi.New(sess)
	}
	return g.client
}

func (g *Gateway) Send(ctx context.Context, connectionID string, data []byte) error {
	_, err := g.api().PostToConnectionWithContext(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(connectionID),
		Data:         data,
	})
	return err
}

// IsGone checks if the error is a GoneException (HTTP 410), indicating the
// WebSocket connection no longer exists.
func IsGone(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "GoneException") ||
		strings.Contains(err.Error(), "410")
}
