package services

import (
	"context"
	"time"

	"hk-cultural-events/internal/logging"
	"hk-cultural-events/internal/models"
)

// SessionSync runs an import on the first login of a session. The session
// record, not process state, remembers whether that import succeeded.
type SessionSync struct {
	runner      Runner
	sessions    SessionStore
	metadata    SyncMetadataStore
	lastUpdated *LastUpdatedReader
	now         func() time.Time
}

// NewSessionSync creates the login hook
func NewSessionSync(runner Runner, sessions SessionStore, metadata SyncMetadataStore, lastUpdated *LastUpdatedReader) *SessionSync {
	return &SessionSync{
		runner:      runner,
		sessions:    sessions,
		metadata:    metadata,
		lastUpdated: lastUpdated,
		now:         time.Now,
	}
}

// OnLogin imports unless the session already synced. Failures never block
// the login: they are logged and the session stays unsynced so the next
// login retries.
func (s *SessionSync) OnLogin(ctx context.Context, session *models.Session) models.DataSyncStatus {
	logger := logging.Ctx(ctx).With().Str("session_user", session.Username).Logger()
	now := s.now().UTC()
	status := models.DataSyncStatus{}

	if session.DidSync {
		logger.Info().Msg("Skipped import, session already synced")
	} else if _, err := s.runner.Run(ctx, models.TriggerTypeLogin); err != nil {
		logger.Error().Err(err).Msg("Login import failed, continuing login")
	} else {
		status.DidImport = true
		session.DidSync = true
		if err := s.sessions.PutSession(ctx, session); err != nil {
			logger.Warn().Err(err).Msg("Failed to persist session sync flag")
		}
		err := s.metadata.PutSyncMetadata(ctx, &models.SyncMetadata{
			Key:            models.MetaKeyDataSync,
			LastImportedAt: now,
			UpdatedAt:      now,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to record login sync time")
		}
		s.lastUpdated.Invalidate()
	}

	status.LastUpdated = now
	last, err := s.lastUpdated.LastUpdated(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to read last updated time")
	} else if last != nil {
		status.LastUpdated = *last
	}
	return status
}
