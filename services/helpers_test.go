package services

import (
	"chat-core/auth"
	"chat-core/domain/chat"
	"chat-core/internal"
	"chat-core/observability"
	"chat-core/repositories"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

var (
	alice = auth.NewSession("alice")
	bob   = auth.NewSession("bob")
	carol = auth.NewSession("carol")
	t0    = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store    *repositories.BadgerStore
	clock    *fakeClock
	blocks   *BlockService
	unread   *UnreadService
	messages *MessageService
	presence *PresenceService
	profiles repositories.IUserRepository
	conv     chat.Conversation
}

func newFixture(t *testing.T, cfg internal.Config) *fixture {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	store := repositories.NewBadgerStore(db, log)
	t.Cleanup(func() {
		store.Close()
		_ = db.Close()
	})

	clock := &fakeClock{now: t0}
	f := &fixture{store: store, clock: clock, conv: chat.NewConversation("alice", "bob")}
	f.profiles = repositories.NewUserRepository(store)
	f.blocks = NewBlockService(store, clock, log)
	f.unread = NewUnreadService(store, clock, log, cfg)
	f.messages = NewMessageService(store, f.blocks, f.unread, clock, log, observability.NopMetrics(), cfg)
	f.presence = NewPresenceService(store, f.profiles, f.blocks, clock, log, cfg)
	return f
}

func text(body string) SendRequest {
	return SendRequest{Body: body, Type: chat.TypeText}
}

func receive[T any](t *testing.T, updates <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-updates:
		require.True(t, ok, "watch closed")
		return v
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no update received in time")
	}
	var zero T
	return zero
}

func silent[T any](t *testing.T, updates <-chan T, wait time.Duration) {
	t.Helper()
	select {
	case v, ok := <-updates:
		if ok {
			require.FailNow(t, "unexpected update", "%+v", v)
		}
	case <-time.After(wait):
	}
}
