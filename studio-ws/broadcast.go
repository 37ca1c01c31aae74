package studiows

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/atelierhq/studio-realtime/studio-ws/connectiondao"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// connectionSource is the slice of the registry the router needs.
type connectionSource interface {
	ListAll(ctx context.Context) ([]connectiondao.Connection, error)
	Delete(ctx context.Context, connectionID string) error
}

// Router fans out payloads to a user's endpoints or to every endpoint focused
// on a conversation. Delivery is best-effort and unordered; endpoints that
// report Gone are reaped after the send pass.
type Router struct {
	Connections connectionSource
	Sender      Sender
	Logger      zerolog.Logger
	Concurrency int // max concurrent sends (default 50)

	now func() time.Time
}

func NewRouter(connections connectionSource, sender Sender, logger zerolog.Logger) *Router {
	return &Router{
		Connections: connections,
		Sender:      sender,
		Logger:      logger,
		now:         time.Now,
	}
}

// SendToUser delivers the payload to every live endpoint owned by the user.
func (r *Router) SendToUser(ctx context.Context, userID string, payload interface{}) error {
	all, err := r.Connections.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("listing connections for user %v: %w", userID, err)
	}

	now := r.clock()
	var recipients []connectiondao.Connection
	for _, c := range all {
		if c.UserID == userID && c.Live(now) {
			recipients = append(recipients, c)
		}
	}

	return r.deliver(ctx, recipients, payload)
}

// SendToConversation delivers the payload to every live endpoint focused on
// the conversation. An empty recipient set is a normal state, not an error.
func (r *Router) SendToConversation(ctx context.Context, conversationID string, payload interface{}) error {
	all, err := r.Connections.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("listing connections for conversation %v: %w", conversationID, err)
	}

	now := r.clock()
	target := strings.TrimSpace(conversationID)
	var recipients []connectiondao.Connection
	for _, c := range all {
		if strings.TrimSpace(c.ActiveConversation) == target && c.Live(now) {
			recipients = append(recipients, c)
		}
	}

	if len(recipients) == 0 {
		r.Logger.Debug().Str("conversation_id", target).Msg("no connections focused on conversation")
		return nil
	}

	return r.deliver(ctx, recipients, payload)
}

// deliver sends to each recipient concurrently, then reaps any connection
// that reported Gone. Individual delivery failures never fail the call.
func (r *Router) deliver(ctx context.Context, recipients []connectiondao.Connection, payload interface{}) error {
	if len(recipients) == 0 {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling broadcast payload: %w", err)
	}

	concurrency := r.Concurrency
	if concurrency <= 0 {
		concurrency = 50
	}

	var (
		mu   sync.Mutex
		gone []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, conn := range recipients {
		conn := conn
		g.Go(func() error {
			if err := r.Sender.Send(gctx, conn.ConnectionID, data); err != nil {
				if IsGone(err) {
					mu.Lock()
					gone = append(gone, conn.ConnectionID)
					mu.Unlock()
				} else {
					r.Logger.Error().Err(err).
						Str("connection_id", conn.ConnectionID).
						Msg("failed to deliver payload")
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, connID := range gone {
		r.Logger.Info().Str("connection_id", connID).Msg("connection gone, cleaning up")
		if err := r.Connections.Delete(ctx, connID); err != nil {
			r.Logger.Error().Err(err).Str("connection_id", connID).Msg("failed to delete gone connection")
		}
	}

	return nil
}

func (r *Router) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}
