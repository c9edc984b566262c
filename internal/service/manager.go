package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/seedgate-core/internal/auth"
	"github.com/nerrad567/seedgate-core/internal/infrastructure/mqtt"
)

// State is the lifecycle state of a user's service.
type State string

const (
	// StateActive means the service is tracked and its last change was
	// announced (or no publisher is configured).
	StateActive State = "active"

	// StateUnannounced means the last change could not be published, so
	// consumers of the event bus may hold a stale view.
	StateUnannounced State = "unannounced"
)

var (
	// ErrServiceExists is returned when creating a service that is already tracked.
	ErrServiceExists = errors.New("service already exists")

	// ErrServiceNotFound is returned when updating or destroying an unknown service.
	ErrServiceNotFound = errors.New("service not found")

	// ErrNoConnection is returned when a user has no connection target.
	ErrNoConnection = errors.New("user has no connection target")
)

// Record is the manager's view of one user's service.
type Record struct {
	Username   string
	Connection auth.ConnectionTarget
	IsAdmin    bool
	State      State
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Event is the JSON body published for every lifecycle change.
type Event struct {
	Username   string    `json:"username"`
	Event      string    `json:"event"`
	Connection string    `json:"connection"`
	IsAdmin    bool      `json:"isAdmin"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher sends lifecycle events to the message bus.
// *mqtt.Client satisfies it.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// SettingsEvictor releases a user's cached settings handle.
// *settings.HandleManager satisfies it.
type SettingsEvictor interface {
	Evict(userID string) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithPublisher announces lifecycle changes through p.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithSettingsEvictor releases settings handles of destroyed users.
func WithSettingsEvictor(e SettingsEvictor) Option {
	return func(m *Manager) { m.evictor = e }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager keeps one service record per user. It is safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	records map[string]*Record

	// tombstones holds destroyed users whose destroyed event has not been
	// published yet. Reannounce retries them.
	tombstones map[string]auth.User

	publisher Publisher
	evictor   SettingsEvictor
	logger    *slog.Logger
	now       func() time.Time
}

var _ auth.ServiceLifecycle = (*Manager)(nil)

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		records:    make(map[string]*Record),
		tombstones: make(map[string]auth.User),
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Bootstrap registers services for users that already exist at startup.
// Users already tracked are skipped. No events are published.
func (m *Manager) Bootstrap(ctx context.Context, users []auth.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	added := 0
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("bootstrapping services: %w", err)
		}
		if _, ok := m.records[u.Username]; ok {
			continue
		}
		if u.Connection == nil {
			m.logger.Warn("user has no connection target, skipping service", "username", u.Username)
			continue
		}
		m.records[u.Username] = &Record{
			Username:   u.Username,
			Connection: u.Connection,
			IsAdmin:    u.IsAdmin,
			State:      StateActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		added++
	}

	m.logger.Info("services bootstrapped", "count", added)
	return nil
}

// Create implements auth.ServiceLifecycle.
func (m *Manager) Create(ctx context.Context, user auth.User) error {
	if user.Connection == nil {
		return ErrNoConnection
	}

	m.mu.Lock()
	if _, ok := m.records[user.Username]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrServiceExists, user.Username)
	}
	now := m.now().UTC()
	delete(m.tombstones, user.Username)
	m.records[user.Username] = &Record{
		Username:   user.Username,
		Connection: user.Connection,
		IsAdmin:    user.IsAdmin,
		State:      StateActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.mu.Unlock()

	m.logger.Info("service created", "username", user.Username, "connection", user.Connection.String())
	m.setState(user.Username, m.publish(ctx, user, mqtt.EventCreated, now))
	return nil
}

// Update implements auth.ServiceLifecycle. The record takes the user's
// current connection target.
func (m *Manager) Update(ctx context.Context, user auth.User) error {
	if user.Connection == nil {
		return ErrNoConnection
	}

	m.mu.Lock()
	rec, ok := m.records[user.Username]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrServiceNotFound, user.Username)
	}
	now := m.now().UTC()
	rec.Connection = user.Connection
	rec.IsAdmin = user.IsAdmin
	rec.UpdatedAt = now
	m.mu.Unlock()

	m.logger.Info("service updated", "username", user.Username, "connection", user.Connection.String())
	m.setState(user.Username, m.publish(ctx, user, mqtt.EventUpdated, now))
	return nil
}

// Destroy implements auth.ServiceLifecycle.
func (m *Manager) Destroy(ctx context.Context, user auth.User) error {
	m.mu.Lock()
	rec, ok := m.records[user.Username]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrServiceNotFound, user.Username)
	}
	delete(m.records, user.Username)
	m.mu.Unlock()

	now := m.now().UTC()

	if m.evictor != nil {
		if err := m.evictor.Evict(user.Username); err != nil {
			m.logger.Warn("releasing settings handle", "username", user.Username, "error", err)
		}
	}

	m.logger.Info("service destroyed", "username", user.Username)
	if user.Connection == nil {
		user.Connection = rec.Connection
	}
	if !m.publish(ctx, user, mqtt.EventDestroyed, now) {
		m.mu.Lock()
		if _, recreated := m.records[user.Username]; !recreated {
			m.tombstones[user.Username] = user
		}
		m.mu.Unlock()
	}
	return nil
}

// Reannounce publishes an updated event for every record whose last change
// could not be published, and a destroyed event for every destroyed user
// whose removal was never announced. It returns how many went through and
// is meant to run when the message bus connection comes back.
func (m *Manager) Reannounce(ctx context.Context) int {
	if m.publisher == nil {
		return 0
	}

	m.mu.RLock()
	var pending []Record
	for _, rec := range m.records {
		if rec.State == StateUnannounced {
			pending = append(pending, *rec)
		}
	}
	removed := make([]auth.User, 0, len(m.tombstones))
	for _, u := range m.tombstones {
		removed = append(removed, u)
	}
	m.mu.RUnlock()

	sent := 0
	for _, rec := range pending {
		if ctx.Err() != nil {
			break
		}
		user := auth.User{Username: rec.Username, IsAdmin: rec.IsAdmin, Connection: rec.Connection}
		if m.publish(ctx, user, mqtt.EventUpdated, m.now().UTC()) {
			m.setState(rec.Username, true)
			sent++
		}
	}
	for _, user := range removed {
		if ctx.Err() != nil {
			break
		}
		if m.announceRemoval(ctx, user) {
			sent++
		}
	}

	if total := len(pending) + len(removed); total > 0 {
		m.logger.Info("services reannounced", "pending", total, "sent", sent)
	}
	return sent
}

// announceRemoval retries a destroyed event. A tombstone superseded by a
// new service for the same user is dropped without publishing.
func (m *Manager) announceRemoval(ctx context.Context, user auth.User) bool {
	m.mu.RLock()
	_, still := m.tombstones[user.Username]
	m.mu.RUnlock()
	if !still {
		return false
	}

	if !m.publish(ctx, user, mqtt.EventDestroyed, m.now().UTC()) {
		return false
	}
	m.mu.Lock()
	delete(m.tombstones, user.Username)
	m.mu.Unlock()
	return true
}

// Unannounced returns the number of records and tombstones waiting for
// Reannounce.
func (m *Manager) Unannounced() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.tombstones)
	for _, rec := range m.records {
		if rec.State == StateUnannounced {
			n++
		}
	}
	return n
}

// Get returns a copy of the record for username.
func (m *Manager) Get(username string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[username]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// List returns copies of all records ordered by username.
func (m *Manager) List() []Record {
	m.mu.RLock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, *rec)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Count returns the number of tracked services.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// setState records whether the last change was announced.
func (m *Manager) setState(username string, announced bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[username]
	if !ok {
		return
	}
	if announced {
		rec.State = StateActive
	} else {
		rec.State = StateUnannounced
	}
}

// publish reports whether the event reached the publisher, or true when
// no publisher is configured.
func (m *Manager) publish(ctx context.Context, user auth.User, event string, at time.Time) bool {
	if m.publisher == nil {
		return true
	}
	topic, err := mqtt.Topics{}.ServiceEvent(user.Username, event)
	if err != nil {
		m.logger.Warn("building service event topic", "username", user.Username, "error", err)
		return false
	}

	payload := Event{
		Username:  user.Username,
		Event:     event,
		IsAdmin:   user.IsAdmin,
		Timestamp: at,
	}
	if user.Connection != nil {
		payload.Connection = user.Connection.String()
	}

	if err := m.publisher.PublishJSON(topic, payload, false); err != nil {
		m.logger.WarnContext(ctx, "publishing service event", "topic", topic, "error", err)
		return false
	}
	return true
}
