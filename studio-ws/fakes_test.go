package studiows

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/atelierhq/studio-realtime/studio-ws/connectiondao"
	"github.com/atelierhq/studio-realtime/studio-ws/eventdao"
	"github.com/atelierhq/studio-realtime/studio-ws/messagedao"
	"github.com/atelierhq/studio-realtime/studio-ws/notificationdao"
	"github.com/atelierhq/studio-realtime/studio-ws/threaddao"
)

var errGone = errors.New("GoneException: connection is no longer available")

type fakeConnections struct {
	mu      sync.Mutex
	conns   []connectiondao.Connection
	deleted []string
}

func (f *fakeConnections) Put(_ context.Context, conn connectiondao.Connection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.conns {
		if c.ConnectionID == conn.ConnectionID {
			f.conns[i] = conn
			return nil
		}
	}
	f.conns = append(f.conns, conn)
	return nil
}

func (f *fakeConnections) Delete(_ context.Context, connectionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, connectionID)
	for i, c := range f.conns {
		if c.ConnectionID == connectionID {
			f.conns = append(f.conns[:i], f.conns[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeConnections) SetActiveConversation(_ context.Context, connectionID, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.conns {
		if c.ConnectionID == connectionID {
			f.conns[i].ActiveConversation = conversationID
			return nil
		}
	}
	// Matches the registry's unconditional update: a missing row becomes a
	// partial row holding only the focus.
	f.conns = append(f.conns, connectiondao.Connection{
		ConnectionID:       connectionID,
		ActiveConversation: conversationID,
	})
	return nil
}

func (f *fakeConnections) Renew(_ context.Context, connectionID string, expiresAt int64, pingedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.conns {
		if c.ConnectionID == connectionID {
			f.conns[i].ExpiresAt = expiresAt
			f.conns[i].LastPing = pingedAt.UTC().Format(time.RFC3339)
			f.conns[i].Healthy = true
			return nil
		}
	}
	return connectiondao.ErrNotFound
}

func (f *fakeConnections) ListAll(_ context.Context) ([]connectiondao.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]connectiondao.Connection(nil), f.conns...), nil
}

func (f *fakeConnections) ListByUser(_ context.Context, userID string) ([]connectiondao.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []connectiondao.Connection
	for _, c := range f.conns {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeConnections) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type fakeSender struct {
	mu   sync.Mutex
	sent map[string][][]byte
	gone map[string]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: map[string][][]byte{}, gone: map[string]bool{}}
}

func (f *fakeSender) Send(_ context.Context, connectionID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone[connectionID] {
		return errGone
	}
	f.sent[connectionID] = append(f.sent[connectionID], data)
	return nil
}

func (f *fakeSender) sentTo(connectionID string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent[connectionID]...)
}

// gate blocks each arrival until the expected number of callers has shown up,
// so a serial caller stalls and a concurrent one sails through.
type gate struct {
	mu       sync.Mutex
	arrived  int
	expected int
	release  chan struct{}
	stalled  bool
}

func newGate(expected int) *gate {
	return &gate{expected: expected, release: make(chan struct{})}
}

func (g *gate) arrive() error {
	g.mu.Lock()
	g.arrived++
	if g.arrived == g.expected {
		close(g.release)
	}
	g.mu.Unlock()

	select {
	case <-g.release:
		return nil
	case <-time.After(500 * time.Millisecond):
		g.mu.Lock()
		g.stalled = true
		g.mu.Unlock()
		return errors.New("fan-out stalled waiting for concurrent sends")
	}
}

func (g *gate) wasStalled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stalled
}

// gatedSender releases sends only once all of them are in flight.
type gatedSender struct {
	*gate
}

func (s *gatedSender) Send(_ context.Context, _ string, _ []byte) error {
	return s.arrive()
}

// gatedBroadcaster releases router calls only once all of them are in flight.
type gatedBroadcaster struct {
	*gate
}

func (b *gatedBroadcaster) SendToUser(_ context.Context, _ string, _ interface{}) error {
	return b.arrive()
}

func (b *gatedBroadcaster) SendToConversation(_ context.Context, _ string, _ interface{}) error {
	return b.arrive()
}

type fakeNotificationStore struct {
	mu   sync.Mutex
	rows []notificationdao.Notification
}

func (f *fakeNotificationStore) Put(_ context.Context, n notificationdao.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append([]notificationdao.Notification{n}, f.rows...)
	return nil
}

func (f *fakeNotificationStore) Recent(_ context.Context, userID string, limit int) ([]notificationdao.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notificationdao.Notification
	for _, row := range f.rows {
		if row.UserID != userID {
			continue
		}
		out = append(out, row)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeNotificationStore) DeleteByDedupeID(_ context.Context, dedupeID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []notificationdao.Notification
	count := 0
	for _, row := range f.rows {
		if row.DedupeID == dedupeID {
			count++
			continue
		}
		kept = append(kept, row)
	}
	f.rows = kept
	return count, nil
}

func (f *fakeNotificationStore) byUser(userID string) []notificationdao.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notificationdao.Notification
	for _, row := range f.rows {
		if row.UserID == userID {
			out = append(out, row)
		}
	}
	return out
}

type fakeRoster struct {
	teams map[string][]string
}

func (f *fakeRoster) TeamIDs(_ context.Context, projectID string) ([]string, error) {
	return f.teams[projectID], nil
}

type sentPayload struct {
	Target  string
	Payload interface{}
}

// fakeBroadcaster records router calls without touching connections.
type fakeBroadcaster struct {
	mu            sync.Mutex
	users         []sentPayload
	conversations []sentPayload
}

func (f *fakeBroadcaster) SendToUser(_ context.Context, userID string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, sentPayload{Target: userID, Payload: payload})
	return nil
}

func (f *fakeBroadcaster) SendToConversation(_ context.Context, conversationID string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations = append(f.conversations, sentPayload{Target: conversationID, Payload: payload})
	return nil
}

func (f *fakeBroadcaster) userTargets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.users {
		out = append(out, s.Target)
	}
	return out
}

type fakeMessageStore struct {
	mu   sync.Mutex
	rows map[string]messagedao.Message
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{rows: map[string]messagedao.Message{}}
}

func messageKey(hashValue, messageID string) string {
	return fmt.Sprintf("%v/%v", hashValue, messageID)
}

func (f *fakeMessageStore) Put(_ context.Context, msg messagedao.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	hash := msg.ConversationID
	if msg.ProjectID != "" {
		hash = msg.ProjectID
	}
	f.rows[messageKey(hash, msg.MessageID)] = msg
	return nil
}

func (f *fakeMessageStore) Get(_ context.Context, hashValue, messageID string) (*messagedao.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, found := f.rows[messageKey(hashValue, messageID)]
	if !found {
		return nil, nil
	}
	return &msg, nil
}

func (f *fakeMessageStore) SetReactions(_ context.Context, hashValue, messageID string, reactions map[string][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, found := f.rows[messageKey(hashValue, messageID)]
	if !found {
		return fmt.Errorf("message %v not found", messageID)
	}
	msg.Reactions = reactions
	f.rows[messageKey(hashValue, messageID)] = msg
	return nil
}

type fakeThreadStore struct {
	mu        sync.Mutex
	summaries []threaddao.Summary
}

func (f *fakeThreadStore) Upsert(_ context.Context, s threaddao.Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.summaries {
		if existing.UserID == s.UserID && existing.ConversationID == s.ConversationID {
			f.summaries[i] = s
			return nil
		}
	}
	f.summaries = append(f.summaries, s)
	return nil
}

func (f *fakeThreadStore) byUser(userID string) []threaddao.Summary {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []threaddao.Summary
	for _, s := range f.summaries {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out
}

type fakeEventStore struct {
	mu     sync.Mutex
	events map[string][]eventdao.TimelineEvent
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{events: map[string][]eventdao.TimelineEvent{}}
}

func (f *fakeEventStore) ListByProject(_ context.Context, projectID string) ([]eventdao.TimelineEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]eventdao.TimelineEvent(nil), f.events[projectID]...), nil
}

func (f *fakeEventStore) ReplaceAll(_ context.Context, projectID string, _, next []eventdao.TimelineEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[projectID] = append([]eventdao.TimelineEvent(nil), next...)
	return nil
}
