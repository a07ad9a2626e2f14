package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"hk-cultural-events/internal/logging"
	"hk-cultural-events/internal/models"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password
var ErrInvalidCredentials = errors.New("invalid credentials")

// UserStore persists login accounts
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, username string) (*models.User, error)
}

// SessionStore persists server-side sessions
type SessionStore interface {
	PutSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// DemoUser is an account created by SeedUsers
type DemoUser struct {
	Username string
	Password string
	IsAdmin  bool
}

// DemoUsers are the accounts every fresh deployment starts with
var DemoUsers = []DemoUser{
	{Username: "user", Password: "user123"},
	{Username: "admin", Password: "admin123", IsAdmin: true},
}

// AuthService checks passwords and manages sessions
type AuthService struct {
	users      UserStore
	sessions   SessionStore
	sessionTTL time.Duration
	now        func() time.Time
}

// NewAuthService creates an auth service issuing sessions valid for sessionTTL
func NewAuthService(users UserStore, sessions SessionStore, sessionTTL time.Duration) *AuthService {
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &AuthService{
		users:      users,
		sessions:   sessions,
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

// Login verifies the password and returns the caller's session. A live
// session in existingID that belongs to the same user is kept, with its
// sync flag, and its expiry extended. Otherwise a new, unsynced session is
// opened and any other session in existingID is closed.
func (a *AuthService) Login(ctx context.Context, username, password, existingID string) (*models.Session, error) {
	user, err := a.users.GetUser(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := a.now().UTC()
	if existingID != "" {
		current, err := a.sessions.GetSession(ctx, existingID)
		switch {
		case err == nil && current.UserID == user.UserID && !current.Expired(now):
			current.ExpiresAt = now.Add(a.sessionTTL)
			if err := a.sessions.PutSession(ctx, current); err != nil {
				return nil, fmt.Errorf("failed to extend session: %w", err)
			}
			logging.Info().Str("username", user.Username).Bool("synced", current.DidSync).Msg("User logged in, session kept")
			return current, nil
		case err == nil:
			if err := a.sessions.DeleteSession(ctx, existingID); err != nil {
				logging.Warn().Err(err).Msg("Failed to close previous session")
			}
		case !errors.Is(err, ErrNotFound):
			return nil, fmt.Errorf("failed to read session: %w", err)
		}
	}

	session := &models.Session{
		SessionID: uuid.NewString(),
		UserID:    user.UserID,
		Username:  user.Username,
		IsAdmin:   user.IsAdmin,
		CreatedAt: now,
		ExpiresAt: now.Add(a.sessionTTL),
	}
	if err := a.sessions.PutSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	logging.Info().Str("username", user.Username).Bool("admin", user.IsAdmin).Msg("User logged in")
	return session, nil
}

// Session returns the live session with the given id, or ErrNotFound
func (a *AuthService) Session(ctx context.Context, sessionID string) (*models.Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session: %w", ErrNotFound)
	}
	return a.sessions.GetSession(ctx, sessionID)
}

// Logout deletes the session
func (a *AuthService) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return a.sessions.DeleteSession(ctx, sessionID)
}

// CreateUser hashes the password and stores a new account
func (a *AuthService) CreateUser(ctx context.Context, username, password string, isAdmin bool) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user := &models.User{
		Username:     username,
		PasswordHash: string(hash),
		IsAdmin:      isAdmin,
		CreatedAt:    a.now().UTC(),
	}
	if err := a.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// SeedUsers creates any of the given accounts that do not exist yet and
// returns the usernames created
func (a *AuthService) SeedUsers(ctx context.Context, users []DemoUser) ([]string, error) {
	var created []string
	for _, u := range users {
		_, err := a.CreateUser(ctx, u.Username, u.Password, u.IsAdmin)
		if errors.Is(err, ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("failed to seed user %s: %w", u.Username, err)
		}
		created = append(created, u.Username)
	}
	return created, nil
}
