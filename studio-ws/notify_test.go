package studiows

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/tj/assert"
)

func testNotifier(store *fakeNotificationStore, roster *fakeRoster, router *fakeBroadcaster) *Notifier {
	n := NewNotifier(store, roster, router, zerolog.Nop())
	n.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	var counter int64
	n.newID = func() string {
		return fmt.Sprintf("id-%d", atomic.AddInt64(&counter, 1))
	}
	return n
}

func TestNotifierCreate(t *testing.T) {
	t.Run("stores and pushes one row", func(t *testing.T) {
		store := &fakeNotificationStore{}
		router := &fakeBroadcaster{}
		n := testNotifier(store, &fakeRoster{}, router)

		err := n.Create(context.Background(), "alice", "hello", "dedupe-1", "", "bob", "p1")
		assert.NoError(t, err)

		rows := store.byUser("alice")
		assert.Len(t, rows, 1)
		assert.Equal(t, "hello", rows[0].Message)
		assert.Equal(t, "dedupe-1", rows[0].DedupeID)
		assert.Equal(t, "2026-03-01T12:00:00Z", rows[0].Timestamp)
		assert.Equal(t, "2026-03-01T12:00:00Z#id-1", rows[0].SortKey)
		assert.False(t, rows[0].Read)

		assert.Equal(t, []string{"alice"}, router.userTargets())
	})

	t.Run("repeated dedupeId is a no-op", func(t *testing.T) {
		store := &fakeNotificationStore{}
		router := &fakeBroadcaster{}
		n := testNotifier(store, &fakeRoster{}, router)

		assert.NoError(t, n.Create(context.Background(), "alice", "hello", "dedupe-1", "", "", ""))
		assert.NoError(t, n.Create(context.Background(), "alice", "hello again", "dedupe-1", "", "", ""))

		assert.Len(t, store.byUser("alice"), 1)
		assert.Len(t, router.userTargets(), 1)
	})

	t.Run("same dedupeId for different users stores both", func(t *testing.T) {
		store := &fakeNotificationStore{}
		router := &fakeBroadcaster{}
		n := testNotifier(store, &fakeRoster{}, router)

		assert.NoError(t, n.Create(context.Background(), "alice", "hello", "dedupe-1", "", "", ""))
		assert.NoError(t, n.Create(context.Background(), "bob", "hello", "dedupe-1", "", "", ""))

		assert.Len(t, store.byUser("alice"), 1)
		assert.Len(t, store.byUser("bob"), 1)
	})
}

func TestNotifierFanOut(t *testing.T) {
	t.Run("notifies team plus sender, deduplicated", func(t *testing.T) {
		store := &fakeNotificationStore{}
		router := &fakeBroadcaster{}
		roster := &fakeRoster{teams: map[string][]string{
			"p1": {"alice", "bob", "alice"},
		}}
		n := testNotifier(store, roster, router)

		err := n.FanOutToProject(context.Background(), "p1", "budget changed", "budget#p1#r1", "carol")
		assert.NoError(t, err)

		targets := router.userTargets()
		sort.Strings(targets)
		assert.Equal(t, []string{"alice", "bob", "carol"}, targets)

		assert.Len(t, store.byUser("alice"), 1)
		assert.Len(t, store.byUser("bob"), 1)
		assert.Len(t, store.byUser("carol"), 1)
	})

	t.Run("missing project yields sender-only fan-out", func(t *testing.T) {
		store := &fakeNotificationStore{}
		router := &fakeBroadcaster{}
		n := testNotifier(store, &fakeRoster{}, router)

		err := n.FanOutToProject(context.Background(), "missing", "msg", "d1", "carol")
		assert.NoError(t, err)
		assert.Equal(t, []string{"carol"}, router.userTargets())
	})
}

func TestNotifierDeleteByDedupeID(t *testing.T) {
	t.Run("removes every matching row", func(t *testing.T) {
		store := &fakeNotificationStore{}
		router := &fakeBroadcaster{}
		roster := &fakeRoster{teams: map[string][]string{"p1": {"alice", "bob"}}}
		n := testNotifier(store, roster, router)

		assert.NoError(t, n.FanOutToProject(context.Background(), "p1", "msg", "MESSAGE#ts", ""))
		assert.Len(t, store.byUser("alice"), 1)
		assert.Len(t, store.byUser("bob"), 1)

		n.DeleteByDedupeID(context.Background(), "MESSAGE#ts")
		assert.Len(t, store.byUser("alice"), 0)
		assert.Len(t, store.byUser("bob"), 0)
	})

	t.Run("empty dedupeId does nothing", func(t *testing.T) {
		store := &fakeNotificationStore{}
		n := testNotifier(store, &fakeRoster{}, &fakeBroadcaster{})
		n.DeleteByDedupeID(context.Background(), "")
	})
}
