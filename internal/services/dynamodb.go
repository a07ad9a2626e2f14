package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"hk-cultural-events/internal/models"
)

// DynamoDBAPI is the subset of the DynamoDB client used by the services
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

const (
	// BatchWriteItem accepts at most 25 requests
	maxBatchWrite = 25

	maxUnprocessedRetries = 5
)

// DynamoDBService stores the catalog, users and sessions in a single table
type DynamoDBService struct {
	client DynamoDBAPI
	table  string

	// retryInterval is the first wait before resending unprocessed items
	retryInterval time.Duration
}

// NewDynamoDBService creates a new DynamoDB service instance
func NewDynamoDBService(client DynamoDBAPI, table string) *DynamoDBService {
	return &DynamoDBService{
		client:        client,
		table:         table,
		retryInterval: 50 * time.Millisecond,
	}
}

// Catalog Operations

// UpsertVenue writes a venue keyed by its external id. The internal id is
// assigned on first write and kept on later upserts.
func (s *DynamoDBService) UpsertVenue(ctx context.Context, venue *models.Venue) (*models.Venue, error) {
	if err := venue.Validate(); err != nil {
		return nil, fmt.Errorf("invalid venue: %w", err)
	}

	update := newUpdateBuilder().
		setIfNotExists("internal_id", uuid.NewString()).
		setIfNotExists("events", []string{}).
		set("entity_type", models.EntityTypeVenue).
		set("venue_id", venue.VenueID).
		set("name", venue.Name).
		set("latitude", venue.Latitude).
		set("longitude", venue.Longitude).
		set("region", venue.Region).
		set("last_updated", venue.LastUpdated)

	var stored models.Venue
	if err := s.upsert(ctx, models.CreateVenuePK(venue.VenueID), update, &stored); err != nil {
		return nil, fmt.Errorf("failed to upsert venue: %w", err)
	}
	return &stored, nil
}

// UpsertEvent writes an event keyed by its external id
func (s *DynamoDBService) UpsertEvent(ctx context.Context, event *models.Event) (*models.Event, error) {
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}

	update := newUpdateBuilder().
		setIfNotExists("internal_id", uuid.NewString()).
		set("entity_type", models.EntityTypeEvent).
		set("event_id", event.EventID).
		set("title", event.Title).
		set("description", event.Description).
		set("presenter", event.Presenter).
		set("date_time", event.DateTime).
		set("venue", event.Venue).
		set("venue_id", event.VenueID).
		set("last_updated", event.LastUpdated)

	var stored models.Event
	if err := s.upsert(ctx, models.CreateEventPK(event.EventID), update, &stored); err != nil {
		return nil, fmt.Errorf("failed to upsert event: %w", err)
	}
	return &stored, nil
}

func (s *DynamoDBService) upsert(ctx context.Context, pk string, update *updateBuilder, out interface{}) error {
	expr, names, values, err := update.build()
	if err != nil {
		return err
	}

	result, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       itemKey(pk),
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return err
	}

	if err := attributevalue.UnmarshalMap(result.Attributes, out); err != nil {
		return fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return nil
}

// SetVenueEvents replaces the event list of an existing venue
func (s *DynamoDBService) SetVenueEvents(ctx context.Context, venueID string, eventIDs []string, at time.Time) error {
	if eventIDs == nil {
		eventIDs = []string{}
	}
	expr, names, values, err := newUpdateBuilder().
		set("events", eventIDs).
		set("last_updated", at).
		build()
	if err != nil {
		return err
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       itemKey(models.CreateVenuePK(venueID)),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if isConditionalCheckFailed(err) {
		return fmt.Errorf("venue %s: %w", venueID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to set venue events: %w", err)
	}
	return nil
}

// DeleteAllEvents removes every event item and returns how many were deleted
func (s *DynamoDBService) DeleteAllEvents(ctx context.Context) (int, error) {
	return s.deleteAllOfType(ctx, models.EntityTypeEvent)
}

// DeleteAllVenues removes every venue item and returns how many were deleted
func (s *DynamoDBService) DeleteAllVenues(ctx context.Context) (int, error) {
	return s.deleteAllOfType(ctx, models.EntityTypeVenue)
}

func (s *DynamoDBService) deleteAllOfType(ctx context.Context, entityType string) (int, error) {
	var keys []map[string]types.AttributeValue
	err := s.scanType(ctx, entityType, true, func(items []map[string]types.AttributeValue) error {
		keys = append(keys, items...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan %s items: %w", entityType, err)
	}

	for start := 0; start < len(keys); start += maxBatchWrite {
		end := min(start+maxBatchWrite, len(keys))
		requests := make([]types.WriteRequest, 0, end-start)
		for _, key := range keys[start:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: key},
			})
		}
		if err := s.batchWrite(ctx, requests); err != nil {
			return start, fmt.Errorf("failed to delete %s items: %w", entityType, err)
		}
	}
	return len(keys), nil
}

// batchWrite sends one batch and resends unprocessed items with exponential
// backoff
func (s *DynamoDBService) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{s.table: requests}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retryInterval
	policy.MaxElapsedTime = 0
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, maxUnprocessedRetries), ctx)

	err := backoff.Retry(func() error {
		result, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: pending,
		})
		if err != nil {
			return backoff.Permanent(err)
		}
		pending = result.UnprocessedItems
		if n := len(pending[s.table]); n > 0 {
			return fmt.Errorf("%d items still unprocessed", n)
		}
		return nil
	}, retry)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// scanType pages through every item of an entity type. keysOnly projects
// the primary key.
func (s *DynamoDBService) scanType(ctx context.Context, entityType string, keysOnly bool, fn func([]map[string]types.AttributeValue) error) error {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(s.table),
		FilterExpression: aws.String("entity_type = :type"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":type": &types.AttributeValueMemberS{Value: entityType},
		},
	}
	if keysOnly {
		input.ProjectionExpression = aws.String("PK, SK")
	}

	for {
		result, err := s.client.Scan(ctx, input)
		if err != nil {
			return err
		}
		if err := fn(result.Items); err != nil {
			return err
		}
		if len(result.LastEvaluatedKey) == 0 {
			return nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

// ListVenues returns every venue in the catalog
func (s *DynamoDBService) ListVenues(ctx context.Context) ([]models.Venue, error) {
	var venues []models.Venue
	err := s.scanType(ctx, models.EntityTypeVenue, false, func(items []map[string]types.AttributeValue) error {
		var page []models.Venue
		if err := attributevalue.UnmarshalListOfMaps(items, &page); err != nil {
			return fmt.Errorf("failed to unmarshal venues: %w", err)
		}
		venues = append(venues, page...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list venues: %w", err)
	}
	return venues, nil
}

// ListEvents returns every event in the catalog
func (s *DynamoDBService) ListEvents(ctx context.Context) ([]models.Event, error) {
	var events []models.Event
	err := s.scanType(ctx, models.EntityTypeEvent, false, func(items []map[string]types.AttributeValue) error {
		var page []models.Event
		if err := attributevalue.UnmarshalListOfMaps(items, &page); err != nil {
			return fmt.Errorf("failed to unmarshal events: %w", err)
		}
		events = append(events, page...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// Sync Metadata Operations

// PutSyncMetadata overwrites the record stored under meta.Key
func (s *DynamoDBService) PutSyncMetadata(ctx context.Context, meta *models.SyncMetadata) error {
	meta.PK = models.CreateMetaPK(meta.Key)
	meta.SK = models.SortKeyMetadata
	meta.EntityType = models.EntityTypeMeta
	if meta.UpdatedAt.IsZero() {
		meta.UpdatedAt = time.Now().UTC()
	}

	item, err := attributevalue.MarshalMap(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal sync metadata: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put sync metadata: %w", err)
	}
	return nil
}

// GetSyncMetadata returns the record stored under key, or nil if absent
func (s *DynamoDBService) GetSyncMetadata(ctx context.Context, key string) (*models.SyncMetadata, error) {
	var meta models.SyncMetadata
	found, err := s.getItem(ctx, models.CreateMetaPK(key), &meta)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync metadata: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &meta, nil
}

// User Operations

// CreateUser stores a new user. ErrAlreadyExists if the username is taken.
func (s *DynamoDBService) CreateUser(ctx context.Context, user *models.User) error {
	user.PK = models.CreateUserPK(user.Username)
	user.SK = models.SortKeyMetadata
	user.EntityType = models.EntityTypeUser
	if user.UserID == "" {
		user.UserID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	item, err := attributevalue.MarshalMap(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if isConditionalCheckFailed(err) {
		return fmt.Errorf("user %s: %w", user.Username, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by username
func (s *DynamoDBService) GetUser(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	found, err := s.getItem(ctx, models.CreateUserPK(username), &user)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	return &user, nil
}

// Session Operations

// PutSession creates or replaces a session. The ttl attribute lets DynamoDB
// expire it.
func (s *DynamoDBService) PutSession(ctx context.Context, session *models.Session) error {
	session.PK = models.CreateSessionPK(session.SessionID)
	session.SK = models.SortKeyMetadata
	session.EntityType = models.EntityTypeSession
	session.TTL = models.CalculateTTL(session.ExpiresAt)

	item, err := attributevalue.MarshalMap(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id. TTL deletion is lazy, so expired
// sessions still present in the table are reported as not found.
func (s *DynamoDBService) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	found, err := s.getItem(ctx, models.CreateSessionPK(sessionID), &session)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if !found || session.Expired(time.Now()) {
		return nil, fmt.Errorf("session: %w", ErrNotFound)
	}
	return &session, nil
}

// DeleteSession removes a session
func (s *DynamoDBService) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       itemKey(models.CreateSessionPK(sessionID)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *DynamoDBService) getItem(ctx context.Context, pk string, out interface{}) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       itemKey(pk),
	})
	if err != nil {
		return false, err
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return true, nil
}

// Import Lock

// DynamoDBImportLock is a lease record in the catalog table. A lease can be
// taken when absent or expired, so a crashed holder blocks imports for at
// most one TTL.
type DynamoDBImportLock struct {
	client DynamoDBAPI
	table  string
	name   string
	now    func() time.Time
}

// NewDynamoDBImportLock creates the lock stored under LOCK#{name}
func NewDynamoDBImportLock(client DynamoDBAPI, table, name string) *DynamoDBImportLock {
	return &DynamoDBImportLock{client: client, table: table, name: name, now: time.Now}
}

// Acquire takes the lease for owner
func (l *DynamoDBImportLock) Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	now := l.now().UTC()
	expires := now.Add(ttl).Unix()
	item, err := attributevalue.MarshalMap(&models.ImportLease{
		PK:         models.CreateLockPK(l.name),
		SK:         models.SortKeyMetadata,
		EntityType: models.EntityTypeLock,
		Owner:      owner,
		AcquiredAt: now,
		ExpiresAt:  expires,
		TTL:        expires,
	})
	if err != nil {
		return false, fmt.Errorf("failed to marshal lease: %w", err)
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR expires_at < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: fmt.Sprint(now.Unix())},
		},
	})
	if isConditionalCheckFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	return true, nil
}

// Release drops the lease if owner still holds it
func (l *DynamoDBImportLock) Release(ctx context.Context, owner string) error {
	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(l.table),
		Key:                 itemKey(models.CreateLockPK(l.name)),
		ConditionExpression: aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if isConditionalCheckFailed(err) {
		// expired and taken over by another run
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// Helpers

func itemKey(pk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: models.SortKeyMetadata},
	}
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return err != nil && errors.As(err, &ccf)
}

// updateBuilder assembles a SET update expression. Every attribute name is
// aliased, which sidesteps DynamoDB's reserved words (name, region, owner...).
type updateBuilder struct {
	fields      map[string]interface{}
	ifNotExists map[string]interface{}
}

func newUpdateBuilder() *updateBuilder {
	return &updateBuilder{
		fields:      make(map[string]interface{}),
		ifNotExists: make(map[string]interface{}),
	}
}

func (b *updateBuilder) set(attr string, value interface{}) *updateBuilder {
	b.fields[attr] = value
	return b
}

func (b *updateBuilder) setIfNotExists(attr string, value interface{}) *updateBuilder {
	b.ifNotExists[attr] = value
	return b
}

func (b *updateBuilder) build() (string, map[string]string, map[string]types.AttributeValue, error) {
	attrs := make([]string, 0, len(b.fields)+len(b.ifNotExists))
	for attr := range b.fields {
		attrs = append(attrs, attr)
	}
	for attr := range b.ifNotExists {
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)

	names := make(map[string]string, len(attrs))
	raw := make(map[string]interface{}, len(attrs))
	clauses := make([]string, 0, len(attrs))
	for i, attr := range attrs {
		name := fmt.Sprintf("#a%d", i)
		value := fmt.Sprintf(":v%d", i)
		names[name] = attr
		if v, ok := b.ifNotExists[attr]; ok {
			raw[value] = v
			clauses = append(clauses, fmt.Sprintf("%s = if_not_exists(%s, %s)", name, name, value))
		} else {
			raw[value] = b.fields[attr]
			clauses = append(clauses, fmt.Sprintf("%s = %s", name, value))
		}
	}

	values, err := attributevalue.MarshalMap(raw)
	if err != nil {
		return "", nil, nil, fmt.Errorf("failed to marshal update values: %w", err)
	}

	return "SET " + strings.Join(clauses, ", "), names, values, nil
}
