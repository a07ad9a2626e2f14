package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"hk-cultural-events/internal/models"
)

// memStore is an in-memory catalog, user and session store for tests
type memStore struct {
	mu       sync.Mutex
	nextID   int
	venues   map[string]*models.Venue // by external id
	events   map[string]*models.Event // by external id
	meta     map[string]*models.SyncMetadata
	users    map[string]*models.User
	sessions map[string]*models.Session

	// ops records every catalog call in order
	ops []string

	// failOn makes the named operation fail, e.g. "UpsertEvent"
	failOn string
}

func newMemStore() *memStore {
	return &memStore{
		venues:   make(map[string]*models.Venue),
		events:   make(map[string]*models.Event),
		meta:     make(map[string]*models.SyncMetadata),
		users:    make(map[string]*models.User),
		sessions: make(map[string]*models.Session),
	}
}

var errInjected = errors.New("injected store failure")

func (m *memStore) record(op string) error {
	m.ops = append(m.ops, op)
	if m.failOn == op {
		return errInjected
	}
	return nil
}

func (m *memStore) newID(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%04d", prefix, m.nextID)
}

func (m *memStore) DeleteAllEvents(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("DeleteAllEvents"); err != nil {
		return 0, err
	}
	n := len(m.events)
	m.events = make(map[string]*models.Event)
	return n, nil
}

func (m *memStore) DeleteAllVenues(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("DeleteAllVenues"); err != nil {
		return 0, err
	}
	n := len(m.venues)
	m.venues = make(map[string]*models.Venue)
	return n, nil
}

func (m *memStore) UpsertVenue(ctx context.Context, venue *models.Venue) (*models.Venue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("UpsertVenue"); err != nil {
		return nil, err
	}
	if err := venue.Validate(); err != nil {
		return nil, err
	}
	stored := *venue
	if existing, ok := m.venues[venue.VenueID]; ok {
		stored.ID = existing.ID
		stored.Events = existing.Events
	} else {
		stored.ID = m.newID("v")
		stored.Events = []string{}
	}
	m.venues[venue.VenueID] = &stored
	out := stored
	return &out, nil
}

func (m *memStore) UpsertEvent(ctx context.Context, event *models.Event) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("UpsertEvent"); err != nil {
		return nil, err
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	stored := *event
	if existing, ok := m.events[event.EventID]; ok {
		stored.ID = existing.ID
	} else {
		stored.ID = m.newID("e")
	}
	m.events[event.EventID] = &stored
	out := stored
	return &out, nil
}

func (m *memStore) SetVenueEvents(ctx context.Context, venueID string, eventIDs []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("SetVenueEvents"); err != nil {
		return err
	}
	v, ok := m.venues[venueID]
	if !ok {
		return ErrNotFound
	}
	v.Events = append([]string(nil), eventIDs...)
	v.LastUpdated = at
	return nil
}

func (m *memStore) PutSyncMetadata(ctx context.Context, meta *models.SyncMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("PutSyncMetadata"); err != nil {
		return err
	}
	stored := *meta
	m.meta[meta.Key] = &stored
	return nil
}

func (m *memStore) GetSyncMetadata(ctx context.Context, key string) (*models.SyncMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == "GetSyncMetadata" {
		return nil, errInjected
	}
	meta, ok := m.meta[key]
	if !ok {
		return nil, nil
	}
	out := *meta
	return &out, nil
}

func (m *memStore) ListVenues(ctx context.Context) ([]models.Venue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Venue, 0, len(m.venues))
	for _, v := range m.venues {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VenueID < out[j].VenueID })
	return out, nil
}

func (m *memStore) ListEvents(ctx context.Context) ([]models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Event, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out, nil
}

func (m *memStore) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.Username]; ok {
		return fmt.Errorf("user %s: %w", user.Username, ErrAlreadyExists)
	}
	if user.UserID == "" {
		user.UserID = m.newID("u")
	}
	stored := *user
	m.users[user.Username] = &stored
	return nil
}

func (m *memStore) GetUser(ctx context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	out := *u
	return &out, nil
}

func (m *memStore) PutSession(ctx context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *session
	m.sessions[session.SessionID] = &stored
	return nil
}

func (m *memStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.Expired(time.Now()) {
		return nil, fmt.Errorf("session: %w", ErrNotFound)
	}
	out := *s
	return &out, nil
}

func (m *memStore) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

// countOps returns how many times op was called
func (m *memStore) countOps(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.ops {
		if o == op {
			n++
		}
	}
	return n
}
