package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hk-cultural-events/internal/models"
)

type fakeLock struct {
	mu       sync.Mutex
	held     bool
	owner    string
	acquires int
	releases int
	err      error
}

func (l *fakeLock) Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquires++
	if l.err != nil {
		return false, l.err
	}
	if l.held {
		return false, nil
	}
	l.held = true
	l.owner = owner
	return true, nil
}

func (l *fakeLock) Release(ctx context.Context, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releases++
	if l.owner == owner {
		l.held = false
		l.owner = ""
	}
	return nil
}

type fakeArchive struct {
	feeds     map[string]*FeedDocuments
	summaries []*models.ImportSummary
	err       error
}

func (a *fakeArchive) ArchiveFeeds(ctx context.Context, runID string, docs *FeedDocuments) ([]string, error) {
	if a.err != nil {
		return nil, a.err
	}
	if a.feeds == nil {
		a.feeds = make(map[string]*FeedDocuments)
	}
	a.feeds[runID] = docs
	return []string{FeedKey(runID, FeedVenues), FeedKey(runID, FeedEvents), FeedKey(runID, FeedEventDates)}, nil
}

func (a *fakeArchive) ArchiveSummary(ctx context.Context, summary *models.ImportSummary) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.summaries = append(a.summaries, summary)
	return SummaryKey(summary), nil
}

// standardFeeds returns ten qualifying venues plus venues and events that
// must never be selected
func standardFeeds() (venues, events, dates []byte) {
	fv, fe := catalogFixture(10, 3)
	fv = append(fv,
		fixtureVenue{id: "2000", name: "Missing Title Hall", lat: "22.30", lng: "114.17"},
		fixtureVenue{id: "2001", name: "Nowhere Hall", lat: "", lng: "114.17"},
	)
	fe = append(fe,
		fixtureEvent{id: "200000", venueID: "2000", title: "One"},
		fixtureEvent{id: "200001", venueID: "2000", title: "Two"},
		fixtureEvent{id: "200002", venueID: "2000", title: ""},
		fixtureEvent{id: "200100", venueID: "2001", title: "A"},
		fixtureEvent{id: "200101", venueID: "2001", title: "B"},
		fixtureEvent{id: "200102", venueID: "2001", title: "C"},
	)
	fe[1].predate = "Every Friday"
	return venuesXML(fv...), eventsXML(fe...), eventDatesXML(map[string][]string{
		"100000": {"2026-02-01", "2026-02-02"},
	})
}

func newTestImporter(t *testing.T, urls FeedURLs, store CatalogStore, opts ImporterOptions) *Importer {
	t.Helper()
	seed := uint64(1)
	opts.URLs = urls
	return NewImporter(NewFeedFetcher(2*time.Second), NewSelector(&seed, DefaultSampleSize), store, opts)
}

func TestImporter_EndToEnd(t *testing.T) {
	vx, ex, dx := standardFeeds()
	_, urls := feedServer(t, vx, ex, dx)
	store := newMemStore()
	lock := &fakeLock{}
	archive := &fakeArchive{}
	completed := 0

	im := newTestImporter(t, urls, store, ImporterOptions{
		Lock:       lock,
		Archive:    archive,
		OnComplete: func() { completed++ },
	})

	summary, err := im.Run(context.Background(), models.TriggerTypeManual)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Status != models.ImportStatusCompleted {
		t.Errorf("Status = %s", summary.Status)
	}
	if summary.FeedVenues != 12 || summary.CandidateVenues != 10 {
		t.Errorf("feed venues %d, candidates %d", summary.FeedVenues, summary.CandidateVenues)
	}
	if summary.SelectedVenues != 10 || summary.VenuesWritten != 10 || summary.EventsWritten != 30 {
		t.Errorf("unexpected counts: %+v", summary)
	}
	if len(summary.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", summary.Warnings)
	}
	if len(summary.ArchivedFiles) != 4 {
		t.Errorf("ArchivedFiles = %v", summary.ArchivedFiles)
	}
	if len(archive.summaries) != 1 {
		t.Errorf("expected one archived summary, got %d", len(archive.summaries))
	}
	if completed != 1 {
		t.Errorf("OnComplete called %d times", completed)
	}
	if lock.acquires != 1 || lock.releases != 1 || lock.held {
		t.Errorf("lock not acquired and released once: %+v", lock)
	}

	venues, _ := store.ListVenues(context.Background())
	for _, v := range venues {
		if v.VenueID == "2000" || v.VenueID == "2001" {
			t.Errorf("venue %s should not qualify", v.VenueID)
		}
		if v.Region != models.RegionKowloon {
			t.Errorf("venue %s region = %s", v.VenueID, v.Region)
		}
	}

	events, _ := store.ListEvents(context.Background())
	schedules := map[string]string{}
	for _, e := range events {
		schedules[e.EventID] = e.DateTime
	}
	if got := schedules["100000"]; got != "2026-02-01, 2026-02-02" {
		t.Errorf("schedule from dates feed = %q", got)
	}
	if got := schedules["100001"]; got != "Every Friday" {
		t.Errorf("inline schedule = %q", got)
	}
	if got := schedules["100002"]; got != models.UnscheduledMarker {
		t.Errorf("missing schedule = %q", got)
	}
	if _, ok := schedules["200002"]; ok {
		t.Error("event without a title was imported")
	}

	meta, _ := store.GetSyncMetadata(context.Background(), models.MetaKeyDataImport)
	if meta == nil {
		t.Error("dataImport metadata not written")
	}
}

func TestImporter_FailureKinds(t *testing.T) {
	venues, events, dates := standardFeeds()

	tests := []struct {
		name     string
		venues   []byte
		events   []byte
		failOn   string
		wantKind ImportErrorKind
	}{
		{name: "feed unavailable", venues: nil, events: events, wantKind: FetchFailed},
		{name: "malformed feed", venues: venues, events: []byte("<events><event>"), wantKind: ParseFailed},
		{name: "store failure", venues: venues, events: events, failOn: "UpsertVenue", wantKind: WriteFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, urls := feedServer(t, tt.venues, tt.events, dates)
			store := newMemStore()
			store.failOn = tt.failOn
			lock := &fakeLock{}
			completed := 0
			im := newTestImporter(t, urls, store, ImporterOptions{Lock: lock, OnComplete: func() { completed++ }})

			summary, err := im.Run(context.Background(), models.TriggerTypeAdmin)
			if !errors.Is(err, ErrImportFailed) {
				t.Fatalf("error %v does not match ErrImportFailed", err)
			}
			if kind, _ := ImportErrorKindOf(err); kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", kind, tt.wantKind)
			}
			if summary == nil || summary.Status != models.ImportStatusFailed || summary.Error == "" {
				t.Errorf("summary not marked failed: %+v", summary)
			}
			if completed != 0 {
				t.Error("OnComplete ran for a failed import")
			}
			if lock.held {
				t.Error("lock still held after a failed import")
			}
			if tt.wantKind != WriteFailed && len(store.ops) != 0 {
				t.Errorf("store touched before the failure: %v", store.ops)
			}
		})
	}
}

func TestImporter_RejectsConcurrentRun(t *testing.T) {
	vx, ex, dx := standardFeeds()
	_, urls := feedServer(t, vx, ex, dx)

	t.Run("same process", func(t *testing.T) {
		store := newMemStore()
		im := newTestImporter(t, urls, store, ImporterOptions{})
		im.running.Lock()
		defer im.running.Unlock()

		summary, err := im.Run(context.Background(), models.TriggerTypeLogin)
		if !errors.Is(err, ErrImportInProgress) || !IsImportBusy(err) {
			t.Fatalf("err = %v, want ErrImportInProgress", err)
		}
		if summary != nil {
			t.Errorf("summary = %+v, want nil", summary)
		}
		if len(store.ops) != 0 {
			t.Errorf("store touched: %v", store.ops)
		}
	})

	t.Run("lease held elsewhere", func(t *testing.T) {
		store := newMemStore()
		lock := &fakeLock{held: true, owner: "other-run"}
		im := newTestImporter(t, urls, store, ImporterOptions{Lock: lock})

		_, err := im.Run(context.Background(), models.TriggerTypeScheduled)
		if !errors.Is(err, ErrImportInProgress) {
			t.Fatalf("err = %v, want ErrImportInProgress", err)
		}
		if lock.owner != "other-run" {
			t.Errorf("lease owner changed to %q", lock.owner)
		}
		if len(store.ops) != 0 {
			t.Errorf("store touched: %v", store.ops)
		}
	})

	t.Run("lock error", func(t *testing.T) {
		lock := &fakeLock{err: errors.New("table unavailable")}
		im := newTestImporter(t, urls, newMemStore(), ImporterOptions{Lock: lock})

		_, err := im.Run(context.Background(), models.TriggerTypeScheduled)
		if err == nil || errors.Is(err, ErrImportInProgress) {
			t.Fatalf("err = %v, want a lock error", err)
		}
		if !errors.Is(err, ErrImportFailed) {
			t.Errorf("lock error does not match ErrImportFailed: %v", err)
		}
		var ie *ImportError
		if !errors.As(err, &ie) || ie.Kind != WriteFailed || ie.Op != "acquire lock" {
			t.Errorf("err = %#v, want WriteFailed on acquire lock", err)
		}
	})
}

func TestImporter_ArchiveFailureIsNotFatal(t *testing.T) {
	vx, ex, dx := standardFeeds()
	_, urls := feedServer(t, vx, ex, dx)
	archive := &fakeArchive{err: errors.New("bucket missing")}
	im := newTestImporter(t, urls, newMemStore(), ImporterOptions{Archive: archive})

	summary, err := im.Run(context.Background(), models.TriggerTypeManual)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Warnings) != 1 {
		t.Errorf("expected one archive warning, got %v", summary.Warnings)
	}
	if len(summary.ArchivedFiles) != 0 {
		t.Errorf("ArchivedFiles = %v", summary.ArchivedFiles)
	}
}

func TestImporter_SequentialRuns(t *testing.T) {
	vx, ex, dx := standardFeeds()
	_, urls := feedServer(t, vx, ex, dx)
	store := newMemStore()
	im := newTestImporter(t, urls, store, ImporterOptions{Lock: &fakeLock{}})

	for i := 0; i < 2; i++ {
		if _, err := im.Run(context.Background(), models.TriggerTypeManual); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	venues, _ := store.ListVenues(context.Background())
	events, _ := store.ListEvents(context.Background())
	if len(venues) != 10 || len(events) != 30 {
		t.Errorf("catalog has %d venues and %d events after two runs", len(venues), len(events))
	}
}
