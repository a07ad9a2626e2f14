package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"hk-cultural-events/internal/logging"
	"hk-cultural-events/internal/metrics"
	"hk-cultural-events/internal/models"
)

// Runner runs one import. Implemented in process by Importer and remotely
// by LambdaRunner.
type Runner interface {
	Run(ctx context.Context, trigger string) (*models.ImportSummary, error)
}

// FeedArchive stores raw feed snapshots and run summaries
type FeedArchive interface {
	ArchiveFeeds(ctx context.Context, runID string, docs *FeedDocuments) ([]string, error)
	ArchiveSummary(ctx context.Context, summary *models.ImportSummary) (string, error)
}

// ImportLock is a lease shared by every process that can run an import
type ImportLock interface {
	// Acquire returns false when another owner holds an unexpired lease
	Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, owner string) error
}

// ImporterOptions configures an Importer
type ImporterOptions struct {
	URLs    FeedURLs
	LockTTL time.Duration
	Lock    ImportLock  // optional
	Archive FeedArchive // optional
	// OnComplete runs after every successful import, e.g. to drop caches
	OnComplete func()
}

// Importer runs the fetch, parse, select and reconcile pipeline
type Importer struct {
	fetcher    *FeedFetcher
	selector   *Selector
	reconciler *Reconciler
	opts       ImporterOptions

	// running allows at most one import per process; the lease covers
	// other processes sharing the store
	running sync.Mutex
}

// NewImporter creates an importer
func NewImporter(fetcher *FeedFetcher, selector *Selector, store CatalogStore, opts ImporterOptions) *Importer {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	return &Importer{
		fetcher:    fetcher,
		selector:   selector,
		reconciler: NewReconciler(store),
		opts:       opts,
	}
}

// Run executes one import. It fails fast with ErrImportInProgress when
// another import is running, and with an *ImportError otherwise.
func (im *Importer) Run(ctx context.Context, trigger string) (*models.ImportSummary, error) {
	start := time.Now()
	summary := &models.ImportSummary{
		RunID:       models.GenerateImportRunID(start),
		TriggerType: trigger,
		StartedAt:   start.UTC(),
	}
	ctx = logging.ContextWithRunID(ctx, summary.RunID)
	logger := logging.Ctx(ctx)

	if !im.running.TryLock() {
		metrics.RecordImport(trigger, "busy", 0)
		return nil, ErrImportInProgress
	}
	defer im.running.Unlock()

	if im.opts.Lock != nil {
		ok, err := im.opts.Lock.Acquire(ctx, summary.RunID, im.opts.LockTTL)
		if err != nil {
			metrics.RecordImport(trigger, "error", 0)
			return nil, &ImportError{Kind: WriteFailed, Op: "acquire lock", Err: err}
		}
		if !ok {
			metrics.RecordImport(trigger, "busy", 0)
			return nil, ErrImportInProgress
		}
		defer func() {
			// the run context may already be cancelled
			if err := im.opts.Lock.Release(context.WithoutCancel(ctx), summary.RunID); err != nil {
				logger.Warn().Err(err).Msg("Failed to release import lock")
			}
		}()
	}

	logger.Info().Str("trigger", trigger).Msg("Import started")

	err := im.run(ctx, summary)
	summary.CompletedAt = time.Now().UTC()
	summary.Duration = time.Since(start).Milliseconds()

	if err != nil {
		summary.Status = models.ImportStatusFailed
		summary.Error = err.Error()
		result := "error"
		if kind, ok := ImportErrorKindOf(err); ok {
			result = string(kind)
		}
		metrics.RecordImport(trigger, result, time.Since(start))
		logger.Error().Err(err).Str("result", result).Msg("Import failed")
		return summary, err
	}

	summary.Status = models.ImportStatusCompleted
	metrics.RecordImport(trigger, "success", time.Since(start))
	metrics.RecordCatalog(summary.CandidateVenues, summary.VenuesWritten, summary.EventsWritten, summary.CompletedAt)

	if im.opts.Archive != nil {
		if key, err := im.opts.Archive.ArchiveSummary(ctx, summary); err != nil {
			logger.Warn().Err(err).Msg("Failed to archive import summary")
		} else {
			summary.ArchivedFiles = append(summary.ArchivedFiles, key)
		}
	}
	if im.opts.OnComplete != nil {
		im.opts.OnComplete()
	}

	logger.Info().
		Int("venues", summary.VenuesWritten).
		Int("events", summary.EventsWritten).
		Int64("duration_ms", summary.Duration).
		Msg("Import completed")
	return summary, nil
}

func (im *Importer) run(ctx context.Context, summary *models.ImportSummary) error {
	docs, err := im.fetcher.FetchAll(ctx, im.opts.URLs)
	if err != nil {
		return err
	}

	if im.opts.Archive != nil {
		keys, err := im.opts.Archive.ArchiveFeeds(ctx, summary.RunID, docs)
		if err != nil {
			// archiving is best effort
			logging.Ctx(ctx).Warn().Err(err).Msg("Failed to archive feeds")
			summary.Warnings = append(summary.Warnings, "feed archive failed: "+err.Error())
		}
		summary.ArchivedFiles = append(summary.ArchivedFiles, keys...)
	}

	venueRoot, err := parseDocument(FeedVenues, docs.Venues)
	if err != nil {
		return err
	}
	eventRoot, err := parseDocument(FeedEvents, docs.Events)
	if err != nil {
		return err
	}
	dateRoot, err := parseDocument(FeedEventDates, docs.EventDates)
	if err != nil {
		return err
	}

	venues := NormalizeVenues(venueRoot)
	events := NormalizeEvents(eventRoot, BuildEventDates(dateRoot))
	summary.FeedVenues = len(venues)
	summary.FeedEvents = len(events)

	sel := im.selector.Select(ctx, venues, events)
	summary.CandidateVenues = sel.CandidateCount
	summary.SelectedVenues = len(sel.Venues)
	summary.SelectedEvents = len(sel.Events)
	summary.Warnings = append(summary.Warnings, sel.Warnings...)

	res, err := im.reconciler.Apply(ctx, sel)
	if err != nil {
		return err
	}
	summary.VenuesWritten = res.VenuesWritten
	summary.EventsWritten = res.EventsWritten
	summary.EventsSkipped = res.EventsSkipped
	return nil
}

func parseDocument(feed string, raw []byte) (*Node, error) {
	root, err := ParseFeed(raw)
	if err != nil {
		return nil, &ImportError{Kind: ParseFailed, Op: feed, Err: err}
	}
	return root, nil
}

// IsImportBusy reports whether err means another import was already running
func IsImportBusy(err error) bool {
	return errors.Is(err, ErrImportInProgress)
}
