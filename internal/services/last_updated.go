package services

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"hk-cultural-events/internal/models"
)

// SyncMetadataStore reads and overwrites single-record sync timestamps
type SyncMetadataStore interface {
	PutSyncMetadata(ctx context.Context, meta *models.SyncMetadata) error
	// GetSyncMetadata returns nil, nil when the key has never been written
	GetSyncMetadata(ctx context.Context, key string) (*models.SyncMetadata, error)
}

const lastUpdatedCacheKey = "last_updated"

// LastUpdatedReader answers "when was the catalog last imported". Results,
// including "never", are cached for a short time.
type LastUpdatedReader struct {
	store SyncMetadataStore
	cache *cache.Cache
}

// NewLastUpdatedReader creates a reader caching results for ttl
func NewLastUpdatedReader(store SyncMetadataStore, ttl time.Duration) *LastUpdatedReader {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &LastUpdatedReader{
		store: store,
		cache: cache.New(ttl, 2*ttl),
	}
}

// LastUpdated returns the time of the last import, or nil if no import has
// completed. The dataImport record is authoritative; stores written before
// it existed only carry the login-sync record.
func (r *LastUpdatedReader) LastUpdated(ctx context.Context) (*time.Time, error) {
	if v, ok := r.cache.Get(lastUpdatedCacheKey); ok {
		return v.(*time.Time), nil
	}

	var result *time.Time
	for _, key := range []string{models.MetaKeyDataImport, models.MetaKeyDataSync} {
		meta, err := r.store.GetSyncMetadata(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		if meta != nil && !meta.LastImportedAt.IsZero() {
			t := meta.LastImportedAt
			result = &t
			break
		}
	}

	r.cache.SetDefault(lastUpdatedCacheKey, result)
	return result, nil
}

// Invalidate drops the cached value so the next read goes to the store
func (r *LastUpdatedReader) Invalidate() {
	r.cache.Delete(lastUpdatedCacheKey)
}
