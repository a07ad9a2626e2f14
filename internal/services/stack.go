package services

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"hk-cultural-events/internal/config"
	"hk-cultural-events/internal/logging"
)

// importLockName is the key of the lease shared by every import runner
const importLockName = "import"

// catalogBackend is everything a store backend provides
type catalogBackend interface {
	CatalogStore
	UserStore
	SessionStore
}

// Stack is the set of services built from one configuration
type Stack struct {
	Store       catalogBackend
	Archive     *S3FeedArchive // nil unless a bucket is configured
	Importer    *Importer
	Runner      Runner
	Auth        *AuthService
	LastUpdated *LastUpdatedReader
	SessionSync *SessionSync

	close func(context.Context) error
}

// StackOptions controls how the stack runs imports
type StackOptions struct {
	// RemoteImports routes Runner through the import Lambda when
	// import.function_name is set. The import Lambda itself must leave
	// this off.
	RemoteImports bool
}

// NewStack connects to the configured store and wires the services
func NewStack(ctx context.Context, cfg *config.Config, opts StackOptions) (*Stack, error) {
	st := &Stack{close: func(context.Context) error { return nil }}

	awsCfg, err := LoadAWSConfig(ctx, AWSConfig{Region: cfg.AWS.Region, Profile: cfg.AWS.Profile})
	if err != nil {
		return nil, err
	}

	var lock ImportLock
	switch cfg.Store.Backend {
	case config.BackendMongoDB:
		mongoStore, err := ConnectMongo(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if err := mongoStore.EnsureIndexes(ctx); err != nil {
			_ = mongoStore.Close(ctx)
			return nil, err
		}
		st.Store = mongoStore
		st.close = mongoStore.Close
		lock = mongoStore.NewImportLock(importLockName)
	default:
		client := dynamodb.NewFromConfig(awsCfg)
		st.Store = NewDynamoDBService(client, cfg.Store.CatalogTable)
		lock = NewDynamoDBImportLock(client, cfg.Store.CatalogTable, importLockName)
	}

	var archive FeedArchive
	if cfg.AWS.S3Bucket != "" && cfg.Import.ArchiveFeeds {
		st.Archive = NewS3FeedArchive(s3.NewFromConfig(awsCfg), cfg.AWS.S3Bucket)
		archive = st.Archive
	}

	var seed *uint64
	if cfg.Import.Seed != 0 {
		s := cfg.Import.Seed
		seed = &s
	}

	st.LastUpdated = NewLastUpdatedReader(st.Store, 0)
	st.Importer = NewImporter(
		NewFeedFetcher(cfg.Feeds.Timeout),
		NewSelector(seed, cfg.Import.SampleSize),
		st.Store,
		ImporterOptions{
			URLs: FeedURLs{
				Venues:     cfg.Feeds.VenuesURL,
				Events:     cfg.Feeds.EventsURL,
				EventDates: cfg.Feeds.EventDatesURL,
			},
			LockTTL:    cfg.Import.LockTTL,
			Lock:       lock,
			Archive:    archive,
			OnComplete: st.LastUpdated.Invalidate,
		},
	)

	st.Runner = st.Importer
	if opts.RemoteImports && cfg.Import.FunctionName != "" {
		st.Runner = NewLambdaRunner(lambda.NewFromConfig(awsCfg), cfg.Import.FunctionName)
		logging.Info().Str("function", cfg.Import.FunctionName).Msg("Imports delegated to Lambda")
	}

	st.Auth = NewAuthService(st.Store, st.Store, cfg.Auth.SessionTTL)
	st.SessionSync = NewSessionSync(st.Runner, st.Store, st.Store, st.LastUpdated)

	logging.Info().Str("backend", backendName(cfg)).Bool("archive", archive != nil).Msg("Service stack ready")
	return st, nil
}

// Close releases store connections
func (s *Stack) Close(ctx context.Context) error {
	if err := s.close(ctx); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}

func backendName(cfg *config.Config) string {
	if cfg.Store.Backend == config.BackendMongoDB {
		return config.BackendMongoDB
	}
	return config.BackendDynamoDB
}
