package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hk-cultural-events/internal/models"
)

// Collection names
const (
	collVenues   = "venues"
	collEvents   = "events"
	collMeta     = "meta"
	collLocks    = "locks"
	collUsers    = "users"
	collSessions = "sessions"
)

type venueDoc struct {
	ID          primitive.ObjectID   `bson:"_id,omitempty"`
	VenueID     string               `bson:"venueId"`
	Name        string               `bson:"name"`
	Latitude    float64              `bson:"latitude"`
	Longitude   float64              `bson:"longitude"`
	Region      string               `bson:"region"`
	Events      []primitive.ObjectID `bson:"events"`
	LastUpdated time.Time            `bson:"lastUpdated"`
}

func (d *venueDoc) toModel() models.Venue {
	events := make([]string, 0, len(d.Events))
	for _, id := range d.Events {
		events = append(events, id.Hex())
	}
	return models.Venue{
		ID:          d.ID.Hex(),
		VenueID:     d.VenueID,
		Name:        d.Name,
		Latitude:    d.Latitude,
		Longitude:   d.Longitude,
		Region:      models.Region(d.Region),
		Events:      events,
		LastUpdated: d.LastUpdated,
	}
}

type eventDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	EventID     string             `bson:"eventId"`
	Title       string             `bson:"title"`
	Description string             `bson:"description"`
	Presenter   string             `bson:"presenter"`
	DateTime    string             `bson:"dateTime"`
	Venue       primitive.ObjectID `bson:"venue"`
	VenueID     string             `bson:"venueId"`
	LastUpdated time.Time          `bson:"lastUpdated"`
}

func (d *eventDoc) toModel() models.Event {
	return models.Event{
		ID:          d.ID.Hex(),
		EventID:     d.EventID,
		Title:       d.Title,
		Description: d.Description,
		Presenter:   d.Presenter,
		DateTime:    d.DateTime,
		Venue:       d.Venue.Hex(),
		VenueID:     d.VenueID,
		LastUpdated: d.LastUpdated,
	}
}

type metaDoc struct {
	Key            string    `bson:"key"`
	LastImportedAt time.Time `bson:"lastImportedAt"`
	UpdatedAt      time.Time `bson:"updatedAt"`
}

type userDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Username  string             `bson:"username"`
	Password  string             `bson:"password"`
	IsAdmin   bool               `bson:"isAdmin"`
	CreatedAt time.Time          `bson:"createdAt"`
}

type sessionDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"userId"`
	Username  string    `bson:"username"`
	IsAdmin   bool      `bson:"isAdmin"`
	DidSync   bool      `bson:"didSync"`
	CreatedAt time.Time `bson:"createdAt"`
	ExpiresAt time.Time `bson:"expiresAt"`
}

type leaseDoc struct {
	ID         string    `bson:"_id"`
	Owner      string    `bson:"owner"`
	AcquiredAt time.Time `bson:"acquiredAt"`
	ExpiresAt  time.Time `bson:"expiresAt"`
}

// MongoStore keeps the catalog, users and sessions in MongoDB collections
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// ConnectMongo connects to uri and verifies the connection
func ConnectMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return NewMongoStore(client, client.Database(database)), nil
}

// NewMongoStore wraps an existing database handle
func NewMongoStore(client *mongo.Client, db *mongo.Database) *MongoStore {
	return &MongoStore{client: client, db: db}
}

// Close disconnects the client
func (m *MongoStore) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}

// EnsureIndexes creates the unique keys the upserts rely on and the TTL
// index that expires sessions
func (m *MongoStore) EnsureIndexes(ctx context.Context) error {
	unique := map[string]string{
		collVenues: "venueId",
		collEvents: "eventId",
		collMeta:   "key",
		collUsers:  "username",
	}
	for coll, field := range unique {
		_, err := m.db.Collection(coll).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: field, Value: 1}},
			Options: options.Index().SetUnique(true),
		})
		if err != nil {
			return fmt.Errorf("failed to create index on %s.%s: %w", coll, field, err)
		}
	}

	_, err := m.db.Collection(collSessions).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("failed to create session TTL index: %w", err)
	}
	return nil
}

// Catalog

// DeleteAllEvents removes every event document
func (m *MongoStore) DeleteAllEvents(ctx context.Context) (int, error) {
	res, err := m.db.Collection(collEvents).DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}
	return int(res.DeletedCount), nil
}

// DeleteAllVenues removes every venue document
func (m *MongoStore) DeleteAllVenues(ctx context.Context) (int, error) {
	res, err := m.db.Collection(collVenues).DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to delete venues: %w", err)
	}
	return int(res.DeletedCount), nil
}

// UpsertVenue finds the venue by external id, creating it if absent
func (m *MongoStore) UpsertVenue(ctx context.Context, venue *models.Venue) (*models.Venue, error) {
	if err := venue.Validate(); err != nil {
		return nil, fmt.Errorf("invalid venue: %w", err)
	}

	update := bson.M{
		"$set": bson.M{
			"name":        venue.Name,
			"latitude":    venue.Latitude,
			"longitude":   venue.Longitude,
			"region":      string(venue.Region),
			"lastUpdated": venue.LastUpdated,
		},
		"$setOnInsert": bson.M{"events": bson.A{}},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc venueDoc
	err := m.db.Collection(collVenues).FindOneAndUpdate(ctx, bson.M{"venueId": venue.VenueID}, update, opts).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert venue: %w", err)
	}
	stored := doc.toModel()
	return &stored, nil
}

// UpsertEvent finds the event by external id, creating it if absent
func (m *MongoStore) UpsertEvent(ctx context.Context, event *models.Event) (*models.Event, error) {
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}
	venueRef, err := primitive.ObjectIDFromHex(event.Venue)
	if err != nil {
		return nil, fmt.Errorf("invalid venue reference %q: %w", event.Venue, err)
	}

	update := bson.M{
		"$set": bson.M{
			"title":       event.Title,
			"description": event.Description,
			"presenter":   event.Presenter,
			"dateTime":    event.DateTime,
			"venue":       venueRef,
			"venueId":     event.VenueID,
			"lastUpdated": event.LastUpdated,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc eventDoc
	err = m.db.Collection(collEvents).FindOneAndUpdate(ctx, bson.M{"eventId": event.EventID}, update, opts).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert event: %w", err)
	}
	stored := doc.toModel()
	return &stored, nil
}

// SetVenueEvents overwrites the venue's events array
func (m *MongoStore) SetVenueEvents(ctx context.Context, venueID string, eventIDs []string, at time.Time) error {
	refs := make([]primitive.ObjectID, 0, len(eventIDs))
	for _, id := range eventIDs {
		ref, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			return fmt.Errorf("invalid event reference %q: %w", id, err)
		}
		refs = append(refs, ref)
	}

	res, err := m.db.Collection(collVenues).UpdateOne(ctx,
		bson.M{"venueId": venueID},
		bson.M{"$set": bson.M{"events": refs, "lastUpdated": at}},
	)
	if err != nil {
		return fmt.Errorf("failed to set venue events: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("venue %s: %w", venueID, ErrNotFound)
	}
	return nil
}

// ListVenues returns every venue
func (m *MongoStore) ListVenues(ctx context.Context) ([]models.Venue, error) {
	cursor, err := m.db.Collection(collVenues).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list venues: %w", err)
	}
	var docs []venueDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode venues: %w", err)
	}

	venues := make([]models.Venue, 0, len(docs))
	for i := range docs {
		venues = append(venues, docs[i].toModel())
	}
	return venues, nil
}

// ListEvents returns every event
func (m *MongoStore) ListEvents(ctx context.Context) ([]models.Event, error) {
	cursor, err := m.db.Collection(collEvents).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	var docs []eventDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}

	events := make([]models.Event, 0, len(docs))
	for i := range docs {
		events = append(events, docs[i].toModel())
	}
	return events, nil
}

// Sync metadata

// PutSyncMetadata overwrites the record with meta.Key
func (m *MongoStore) PutSyncMetadata(ctx context.Context, meta *models.SyncMetadata) error {
	if meta.UpdatedAt.IsZero() {
		meta.UpdatedAt = time.Now().UTC()
	}
	_, err := m.db.Collection(collMeta).UpdateOne(ctx,
		bson.M{"key": meta.Key},
		bson.M{"$set": bson.M{"lastImportedAt": meta.LastImportedAt, "updatedAt": meta.UpdatedAt}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to put sync metadata: %w", err)
	}
	return nil
}

// GetSyncMetadata returns the record with key, or nil if absent
func (m *MongoStore) GetSyncMetadata(ctx context.Context, key string) (*models.SyncMetadata, error) {
	var doc metaDoc
	err := m.db.Collection(collMeta).FindOne(ctx, bson.M{"key": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync metadata: %w", err)
	}
	return &models.SyncMetadata{
		Key:            doc.Key,
		LastImportedAt: doc.LastImportedAt,
		UpdatedAt:      doc.UpdatedAt,
	}, nil
}

// Users

// CreateUser inserts a new user. ErrAlreadyExists if the username is taken.
func (m *MongoStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	res, err := m.db.Collection(collUsers).InsertOne(ctx, userDoc{
		Username:  user.Username,
		Password:  user.PasswordHash,
		IsAdmin:   user.IsAdmin,
		CreatedAt: user.CreatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("user %s: %w", user.Username, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		user.UserID = id.Hex()
	}
	return nil
}

// GetUser retrieves a user by username
func (m *MongoStore) GetUser(ctx context.Context, username string) (*models.User, error) {
	var doc userDoc
	err := m.db.Collection(collUsers).FindOne(ctx, bson.M{"username": username}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &models.User{
		UserID:       doc.ID.Hex(),
		Username:     doc.Username,
		PasswordHash: doc.Password,
		IsAdmin:      doc.IsAdmin,
		CreatedAt:    doc.CreatedAt,
	}, nil
}

// Sessions

// PutSession creates or replaces a session
func (m *MongoStore) PutSession(ctx context.Context, session *models.Session) error {
	doc := sessionDoc{
		ID:        session.SessionID,
		UserID:    session.UserID,
		Username:  session.Username,
		IsAdmin:   session.IsAdmin,
		DidSync:   session.DidSync,
		CreatedAt: session.CreatedAt,
		ExpiresAt: session.ExpiresAt,
	}
	_, err := m.db.Collection(collSessions).ReplaceOne(ctx,
		bson.M{"_id": session.SessionID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to put session: %w", err)
	}
	return nil
}

// GetSession retrieves a live session
func (m *MongoStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var doc sessionDoc
	err := m.db.Collection(collSessions).FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("session: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	session := &models.Session{
		SessionID: doc.ID,
		UserID:    doc.UserID,
		Username:  doc.Username,
		IsAdmin:   doc.IsAdmin,
		DidSync:   doc.DidSync,
		CreatedAt: doc.CreatedAt,
		ExpiresAt: doc.ExpiresAt,
	}
	// the TTL monitor runs about once a minute
	if session.Expired(time.Now()) {
		return nil, fmt.Errorf("session: %w", ErrNotFound)
	}
	return session, nil
}

// DeleteSession removes a session
func (m *MongoStore) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := m.db.Collection(collSessions).DeleteOne(ctx, bson.M{"_id": sessionID}); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// MongoImportLock is a lease document keyed by lock name. The unique _id
// makes the insert the atomic step.
type MongoImportLock struct {
	coll *mongo.Collection
	name string
	now  func() time.Time
}

// NewImportLock creates the lock stored under _id = name
func (m *MongoStore) NewImportLock(name string) *MongoImportLock {
	return &MongoImportLock{coll: m.db.Collection(collLocks), name: name, now: time.Now}
}

// Acquire clears an expired lease and then tries to insert a new one
func (l *MongoImportLock) Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	now := l.now().UTC()
	_, err := l.coll.DeleteOne(ctx, bson.M{"_id": l.name, "expiresAt": bson.M{"$lt": now}})
	if err != nil {
		return false, fmt.Errorf("failed to clear expired lease: %w", err)
	}

	_, err = l.coll.InsertOne(ctx, leaseDoc{
		ID:         l.name,
		Owner:      owner,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	})
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	return true, nil
}

// Release drops the lease if owner still holds it
func (l *MongoImportLock) Release(ctx context.Context, owner string) error {
	if _, err := l.coll.DeleteOne(ctx, bson.M{"_id": l.name, "owner": owner}); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}
