package services

import (
	"context"
	"time"

	"hk-cultural-events/internal/logging"
	"hk-cultural-events/internal/models"
)

// CatalogStore is the document store the catalog lives in. UpsertVenue and
// UpsertEvent match on the external id and return the stored record, which
// carries the store's internal id.
type CatalogStore interface {
	SyncMetadataStore
	DeleteAllEvents(ctx context.Context) (int, error)
	DeleteAllVenues(ctx context.Context) (int, error)
	UpsertVenue(ctx context.Context, venue *models.Venue) (*models.Venue, error)
	UpsertEvent(ctx context.Context, event *models.Event) (*models.Event, error)
	// SetVenueEvents overwrites the venue's event list
	SetVenueEvents(ctx context.Context, venueID string, eventIDs []string, at time.Time) error
	ListVenues(ctx context.Context) ([]models.Venue, error)
	ListEvents(ctx context.Context) ([]models.Event, error)
}

// ReconcileResult counts what a reconciliation wrote
type ReconcileResult struct {
	VenuesWritten int
	EventsWritten int
	EventsSkipped int
	CompletedAt   time.Time
}

// Reconciler replaces the catalog with a selection. Writes are sequential
// and there is no rollback: a failure after the deletes leaves a partially
// written catalog until the next successful run.
type Reconciler struct {
	store CatalogStore
	now   func() time.Time
}

// NewReconciler creates a reconciler writing to store
func NewReconciler(store CatalogStore) *Reconciler {
	return &Reconciler{store: store, now: time.Now}
}

// Apply deletes every event and then every venue, upserts the selected
// venues and events, rewrites each venue's event list and records the
// import time under the dataImport key.
func (r *Reconciler) Apply(ctx context.Context, sel Selection) (*ReconcileResult, error) {
	logger := logging.Ctx(ctx)

	// Events first so no event points at a deleted venue
	deletedEvents, err := r.store.DeleteAllEvents(ctx)
	if err != nil {
		return nil, &ImportError{Kind: WriteFailed, Op: "delete events", Err: err}
	}
	deletedVenues, err := r.store.DeleteAllVenues(ctx)
	if err != nil {
		return nil, &ImportError{Kind: WriteFailed, Op: "delete venues", Err: err}
	}
	logger.Info().
		Int("events_deleted", deletedEvents).
		Int("venues_deleted", deletedVenues).
		Msg("Cleared catalog")

	now := r.now().UTC()
	result := &ReconcileResult{}

	// external venue id -> internal id
	venueRefs := make(map[string]string, len(sel.Venues))
	var order []string
	for _, v := range sel.Venues {
		if !v.HasCoordinates() {
			continue
		}
		stored, err := r.store.UpsertVenue(ctx, &models.Venue{
			VenueID:     v.ID,
			Name:        v.Name,
			Latitude:    *v.Latitude,
			Longitude:   *v.Longitude,
			Region:      ClassifyRegion(*v.Latitude, *v.Longitude),
			LastUpdated: now,
		})
		if err != nil {
			return nil, &ImportError{Kind: WriteFailed, Op: "upsert venue " + v.ID, Err: err}
		}
		venueRefs[v.ID] = stored.ID
		order = append(order, v.ID)
		result.VenuesWritten++
	}

	linked := make(map[string][]string, len(venueRefs))
	for _, ev := range sel.Events {
		venueRef, ok := venueRefs[ev.VenueID]
		if !ok {
			result.EventsSkipped++
			continue
		}
		stored, err := r.store.UpsertEvent(ctx, &models.Event{
			EventID:     ev.ID,
			Title:       ev.Title,
			Description: ev.Description,
			Presenter:   ev.Presenter,
			DateTime:    ev.DateTime,
			Venue:       venueRef,
			VenueID:     ev.VenueID,
			LastUpdated: now,
		})
		if err != nil {
			return nil, &ImportError{Kind: WriteFailed, Op: "upsert event " + ev.ID, Err: err}
		}
		linked[ev.VenueID] = append(linked[ev.VenueID], stored.ID)
		result.EventsWritten++
	}

	for _, venueID := range order {
		eventIDs := linked[venueID]
		if eventIDs == nil {
			eventIDs = []string{}
		}
		if err := r.store.SetVenueEvents(ctx, venueID, eventIDs, now); err != nil {
			return nil, &ImportError{Kind: WriteFailed, Op: "link venue " + venueID, Err: err}
		}
	}

	err = r.store.PutSyncMetadata(ctx, &models.SyncMetadata{
		Key:            models.MetaKeyDataImport,
		LastImportedAt: now,
		UpdatedAt:      now,
	})
	if err != nil {
		return nil, &ImportError{Kind: WriteFailed, Op: "record import time", Err: err}
	}

	result.CompletedAt = now
	logger.Info().
		Int("venues", result.VenuesWritten).
		Int("events", result.EventsWritten).
		Int("skipped", result.EventsSkipped).
		Msg("Catalog reconciled")
	return result, nil
}
