package studiows

import (
	"context"
	"fmt"
	"time"

	"github.com/atelierhq/studio-realtime/studio-ws/notificationdao"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// dedupeLookback bounds the duplicate check to the most recent rows per user.
// Cheap reads over perfect global dedup; an accepted limitation.
const dedupeLookback = 5

type notificationStore interface {
	Recent(ctx context.Context, userID string, limit int) ([]notificationdao.Notification, error)
	Put(ctx context.Context, n notificationdao.Notification) error
	DeleteByDedupeID(ctx context.Context, dedupeID string) (int, error)
}

type rosterSource interface {
	TeamIDs(ctx context.Context, projectID string) ([]string, error)
}

type userBroadcaster interface {
	SendToUser(ctx context.Context, userID string, payload interface{}) error
}

// Notifier maintains the durable per-user notification feed and pushes each
// stored row to the recipient's live endpoints.
type Notifier struct {
	Store    notificationStore
	Projects rosterSource
	Router   userBroadcaster
	Logger   zerolog.Logger

	now   func() time.Time
	newID func() string
}

func NewNotifier(store notificationStore, projects rosterSource, router userBroadcaster, logger zerolog.Logger) *Notifier {
	return &Notifier{
		Store:    store,
		Projects: projects,
		Router:   router,
		Logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Create stores one notification for the user and pushes it out. A dedupeId
// already present in the user's recent rows makes this an idempotent no-op.
func (n *Notifier) Create(ctx context.Context, userID, message, dedupeID, timestamp, senderID, projectID string) error {
	recent, err := n.Store.Recent(ctx, userID, dedupeLookback)
	if err != nil {
		return fmt.Errorf("checking recent notifications for %v: %w", userID, err)
	}
	for _, existing := range recent {
		if existing.DedupeID == dedupeID {
			n.Logger.Debug().
				Str("user_id", userID).
				Str("dedupe_id", dedupeID).
				Msg("duplicate notification skipped")
			return nil
		}
	}

	ts := timestamp
	if ts == "" {
		ts = n.clock().UTC().Format(time.RFC3339)
	}

	row := notificationdao.Notification{
		UserID:    userID,
		SortKey:   ts + "#" + n.id(),
		Timestamp: ts,
		DedupeID:  dedupeID,
		Message:   message,
		SenderID:  senderID,
		ProjectID: projectID,
		Read:      false,
	}
	if err := n.Store.Put(ctx, row); err != nil {
		return fmt.Errorf("storing notification for %v: %w", userID, err)
	}

	if err := n.Router.SendToUser(ctx, userID, NewNotificationMessage(row)); err != nil {
		n.Logger.Error().Err(err).Str("user_id", userID).Msg("failed to push notification")
	}
	return nil
}

// FanOutToProject notifies every member of the project's team, always
// including the sender. Each recipient's dedup check is independent, so a
// retried fan-out is safe per recipient; partial delivery is accepted and
// logged.
func (n *Notifier) FanOutToProject(ctx context.Context, projectID, message, dedupeID, senderID string) error {
	team, err := n.Projects.TeamIDs(ctx, projectID)
	if err != nil {
		return fmt.Errorf("resolving team for project %v: %w", projectID, err)
	}
	if senderID != "" {
		team = append(team, senderID)
	}

	seen := make(map[string]bool, len(team))
	var recipients []string
	for _, id := range team {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		recipients = append(recipients, id)
	}

	timestamp := n.clock().UTC().Format(time.RFC3339)

	g, gctx := errgroup.WithContext(ctx)
	for _, userID := range recipients {
		userID := userID
		g.Go(func() error {
			if err := n.Create(gctx, userID, message, dedupeID, timestamp, senderID, projectID); err != nil {
				n.Logger.Error().Err(err).
					Str("user_id", userID).
					Str("project_id", projectID).
					Msg("failed to notify team member")
			}
			return nil
		})
	}
	return g.Wait()
}

// DeleteByDedupeID removes every notification generated from the originating
// item. Zero matching rows is valid: the item may never have produced
// notifications.
func (n *Notifier) DeleteByDedupeID(ctx context.Context, dedupeID string) {
	if dedupeID == "" {
		n.Logger.Error().Msg("deleteByDedupeId called without a dedupeId")
		return
	}
	count, err := n.Store.DeleteByDedupeID(ctx, dedupeID)
	if err != nil {
		n.Logger.Error().Err(err).Str("dedupe_id", dedupeID).Msg("failed to delete notifications")
		return
	}
	if count == 0 {
		n.Logger.Warn().Str("dedupe_id", dedupeID).Msg("no notifications found for dedupeId")
	}
}

func (n *Notifier) clock() time.Time {
	if n.now != nil {
		return n.now()
	}
	return time.Now()
}

func (n *Notifier) id() string {
	if n.newID != nil {
		return n.newID()
	}
	return uuid.NewString()
}
