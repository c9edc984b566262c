package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/seedgate-core/internal/auth"
)

type published struct {
	topic   string
	payload []byte
}

// fakePublisher records published events and can be told to fail.
type fakePublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *fakePublisher) PublishJSON(topic string, v any, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.events = append(p.events, published{topic: topic, payload: b})
	return nil
}

func (p *fakePublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.topic
	}
	return out
}

type fakeEvictor struct {
	evicted []string
}

func (e *fakeEvictor) Evict(userID string) error {
	e.evicted = append(e.evicted, userID)
	return nil
}

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestManager(opts ...Option) *Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewManager(logger, opts...)
}

func alice() auth.User {
	return auth.User{
		Username:   "alice",
		IsAdmin:    true,
		Connection: auth.NetworkTarget{Host: "127.0.0.1", Port: 5000},
	}
}

func TestManager_CreateUpdateDestroy(t *testing.T) {
	pub := &fakePublisher{}
	evictor := &fakeEvictor{}
	m := newTestManager(WithPublisher(pub), WithSettingsEvictor(evictor))
	ctx := context.Background()

	require.NoError(t, m.Create(ctx, alice()))
	rec, ok := m.Get("alice")
	require.True(t, ok)
	assert.Equal(t, StateActive, rec.State)
	assert.Equal(t, fixedNow, rec.CreatedAt)
	assert.Equal(t, auth.NetworkTarget{Host: "127.0.0.1", Port: 5000}, rec.Connection)

	updated := alice()
	updated.Connection = auth.SocketTarget{Path: "/run/alice.sock"}
	require.NoError(t, m.Update(ctx, updated))
	rec, _ = m.Get("alice")
	assert.Equal(t, auth.SocketTarget{Path: "/run/alice.sock"}, rec.Connection)

	require.NoError(t, m.Destroy(ctx, updated))
	_, ok = m.Get("alice")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, []string{"alice"}, evictor.evicted)

	assert.Equal(t, []string{
		"seedgate/service/alice/created",
		"seedgate/service/alice/updated",
		"seedgate/service/alice/destroyed",
	}, pub.topics())

	var ev Event
	require.NoError(t, json.Unmarshal(pub.events[1].payload, &ev))
	assert.Equal(t, "alice", ev.Username)
	assert.Equal(t, "updated", ev.Event)
	assert.Equal(t, "unix:///run/alice.sock", ev.Connection)
	assert.True(t, ev.IsAdmin)
}

func TestManager_CreateTwice(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.Create(ctx, alice()))
	err := m.Create(ctx, alice())
	assert.ErrorIs(t, err, ErrServiceExists)
}

func TestManager_UnknownService(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	assert.ErrorIs(t, m.Update(ctx, alice()), ErrServiceNotFound)
	assert.ErrorIs(t, m.Destroy(ctx, alice()), ErrServiceNotFound)
}

func TestManager_NoConnection(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	u := alice()
	u.Connection = nil
	assert.ErrorIs(t, m.Create(ctx, u), ErrNoConnection)
	assert.ErrorIs(t, m.Update(ctx, u), ErrNoConnection)
}

func TestManager_PublishFailureIsNotFatal(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	m := newTestManager(WithPublisher(pub))
	ctx := context.Background()

	require.NoError(t, m.Create(ctx, alice()))
	rec, ok := m.Get("alice")
	require.True(t, ok)
	assert.Equal(t, StateUnannounced, rec.State)

	pub.mu.Lock()
	pub.err = nil
	pub.mu.Unlock()

	require.NoError(t, m.Update(ctx, alice()))
	rec, _ = m.Get("alice")
	assert.Equal(t, StateActive, rec.State)
}

func TestManager_InvalidTopicUsername(t *testing.T) {
	pub := &fakePublisher{}
	m := newTestManager(WithPublisher(pub))

	u := alice()
	u.Username = "bad+name"
	require.NoError(t, m.Create(context.Background(), u))

	assert.Empty(t, pub.topics())
	rec, _ := m.Get("bad+name")
	assert.Equal(t, StateUnannounced, rec.State)
}

func TestManager_Bootstrap(t *testing.T) {
	pub := &fakePublisher{}
	m := newTestManager(WithPublisher(pub))
	ctx := context.Background()

	users := []auth.User{
		{Username: "carol", Connection: auth.SocketTarget{Path: "/run/carol.sock"}},
		alice(),
		{Username: "nobody"},
	}
	require.NoError(t, m.Bootstrap(ctx, users))
	require.NoError(t, m.Bootstrap(ctx, users))

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alice", list[0].Username)
	assert.Equal(t, "carol", list[1].Username)
	assert.Empty(t, pub.topics(), "bootstrap does not publish")
}

func TestManager_BootstrapCancelled(t *testing.T) {
	m := newTestManager()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Bootstrap(ctx, []auth.User{alice()})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, m.Count())
}

func TestManager_ConcurrentLifecycle(t *testing.T) {
	m := newTestManager(WithPublisher(&fakePublisher{}))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := auth.User{
				Username:   "user" + string(rune('a'+i)),
				Connection: auth.NetworkTarget{Host: "localhost", Port: 5000 + i},
			}
			assert.NoError(t, m.Create(ctx, u))
			assert.NoError(t, m.Update(ctx, u))
			_ = m.List()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, m.Count())
}

func TestManager_Reannounce(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	m := newTestManager(WithPublisher(pub))
	ctx := context.Background()

	bob := auth.User{Username: "bob", Connection: auth.SocketTarget{Path: "/run/bob.sock"}}
	require.NoError(t, m.Create(ctx, alice()))
	require.NoError(t, m.Create(ctx, bob))

	// Still down: nothing goes through and the records stay pending.
	assert.Equal(t, 0, m.Reannounce(ctx))
	rec, _ := m.Get("bob")
	assert.Equal(t, StateUnannounced, rec.State)

	pub.mu.Lock()
	pub.err = nil
	pub.mu.Unlock()

	assert.Equal(t, 2, m.Reannounce(ctx))
	for _, r := range m.List() {
		assert.Equal(t, StateActive, r.State, r.Username)
	}
	assert.ElementsMatch(t,
		[]string{"seedgate/service/alice/updated", "seedgate/service/bob/updated"},
		pub.topics())

	var ev Event
	pub.mu.Lock()
	for _, e := range pub.events {
		if e.topic == "seedgate/service/alice/updated" {
			require.NoError(t, json.Unmarshal(e.payload, &ev))
		}
	}
	pub.mu.Unlock()
	assert.True(t, ev.IsAdmin)
	assert.Equal(t, "127.0.0.1:5000", ev.Connection)

	// Nothing left to send.
	assert.Equal(t, 0, m.Reannounce(ctx))
}

func TestManager_ReannounceDestroyed(t *testing.T) {
	pub := &fakePublisher{}
	m := newTestManager(WithPublisher(pub))
	ctx := context.Background()

	bob := auth.User{Username: "bob", Connection: auth.SocketTarget{Path: "/run/bob.sock"}}
	require.NoError(t, m.Create(ctx, alice()))
	require.NoError(t, m.Create(ctx, bob))

	pub.mu.Lock()
	pub.err = errors.New("broker down")
	pub.mu.Unlock()

	require.NoError(t, m.Destroy(ctx, alice()))
	require.NoError(t, m.Destroy(ctx, bob))
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, 2, m.Unannounced())

	// bob comes back before the bus does: only alice's removal is owed.
	pub.mu.Lock()
	pub.err = nil
	pub.events = nil
	pub.mu.Unlock()
	require.NoError(t, m.Create(ctx, bob))
	assert.Equal(t, 1, m.Unannounced())

	assert.Equal(t, 1, m.Reannounce(ctx))
	assert.ElementsMatch(t,
		[]string{"seedgate/service/bob/created", "seedgate/service/alice/destroyed"},
		pub.topics())
	assert.Equal(t, 0, m.Unannounced())
	assert.Equal(t, 0, m.Reannounce(ctx))
}

func TestManager_ReannounceWithoutPublisher(t *testing.T) {
	m := newTestManager()
	require.NoError(t, m.Create(context.Background(), alice()))
	assert.Equal(t, 0, m.Reannounce(context.Background()))
}
