package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"hk-cultural-events/internal/models"
	"hk-cultural-events/internal/services"
)

// apiStore keeps users, sessions and sync metadata in memory
type apiStore struct {
	mu       sync.Mutex
	users    map[string]*models.User
	sessions map[string]*models.Session
	meta     map[string]*models.SyncMetadata
}

func newAPIStore() *apiStore {
	return &apiStore{
		users:    map[string]*models.User{},
		sessions: map[string]*models.Session{},
		meta:     map[string]*models.SyncMetadata{},
	}
}

func (s *apiStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.Username]; ok {
		return services.ErrAlreadyExists
	}
	u := *user
	u.UserID = "u-" + user.Username
	s.users[user.Username] = &u
	return nil
}

func (s *apiStore) GetUser(ctx context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", username, services.ErrNotFound)
	}
	out := *u
	return &out, nil
}

func (s *apiStore) PutSession(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := *session
	s.sessions[session.SessionID] = &out
	return nil
}

func (s *apiStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, services.ErrNotFound
	}
	out := *sess
	return &out, nil
}

func (s *apiStore) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *apiStore) PutSyncMetadata(ctx context.Context, meta *models.SyncMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := *meta
	s.meta[meta.Key] = &out
	return nil
}

func (s *apiStore) GetSyncMetadata(ctx context.Context, key string) (*models.SyncMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meta[key]
	if !ok {
		return nil, nil
	}
	out := *m
	return &out, nil
}

type apiRunner struct {
	calls int
	err   error
}

func (r *apiRunner) Run(ctx context.Context, trigger string) (*models.ImportSummary, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &models.ImportSummary{RunID: "run_1", TriggerType: trigger, Status: models.ImportStatusCompleted}, nil
}

func newTestServer(t *testing.T, runner *apiRunner) (*server, *apiStore) {
	t.Helper()
	store := newAPIStore()
	auth := services.NewAuthService(store, store, time.Hour)
	if _, err := auth.SeedUsers(context.Background(), services.DemoUsers); err != nil {
		t.Fatal(err)
	}
	reader := services.NewLastUpdatedReader(store, time.Minute)
	return &server{
		auth:        auth,
		sync:        services.NewSessionSync(runner, store, store, reader),
		runner:      runner,
		lastUpdated: reader,
		cookieName:  "session",
		sessionTTL:  time.Hour,
	}, store
}

func call(t *testing.T, s *server, method, path, body, cookie string) events.APIGatewayProxyResponse {
	t.Helper()
	req := events.APIGatewayProxyRequest{HTTPMethod: method, Path: path, Body: body, Headers: map[string]string{}}
	if cookie != "" {
		req.Headers["Cookie"] = cookie
	}
	resp, err := s.handleRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// login returns the Cookie header value for a fresh session
func login(t *testing.T, s *server, username, password string) (string, LoginResponse) {
	t.Helper()
	return loginWithCookie(t, s, username, password, "")
}

// loginWithCookie logs in from a browser that already holds cookie
func loginWithCookie(t *testing.T, s *server, username, password, cookie string) (string, LoginResponse) {
	t.Helper()
	resp := call(t, s, http.MethodPost, "/api/login", fmt.Sprintf(`{"username":%q,"password":%q}`, username, password), cookie)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, body %s", resp.StatusCode, resp.Body)
	}
	var body LoginResponse
	if err := json.Unmarshal([]byte(resp.Body), &body); err != nil {
		t.Fatal(err)
	}
	setCookie := resp.Headers["Set-Cookie"]
	return strings.SplitN(setCookie, ";", 2)[0], body
}

func TestLogin(t *testing.T) {
	runner := &apiRunner{}
	s, _ := newTestServer(t, runner)

	cookie, body := login(t, s, "user", "user123")
	if !strings.HasPrefix(cookie, "session=") {
		t.Errorf("cookie = %q", cookie)
	}
	if body.User.Username != "user" || body.User.IsAdmin {
		t.Errorf("user = %+v", body.User)
	}
	if !body.DataSync.DidImport || runner.calls != 1 {
		t.Errorf("login did not import: %+v, calls %d", body.DataSync, runner.calls)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad password", `{"username":"user","password":"nope"}`, http.StatusUnauthorized},
		{"unknown user", `{"username":"ghost","password":"x"}`, http.StatusUnauthorized},
		{"malformed body", `{`, http.StatusBadRequest},
		{"missing username", `{"password":"x"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, s, http.MethodPost, "/api/login", tt.body, "")
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestLogin_ImportFailureDoesNotBlock(t *testing.T) {
	runner := &apiRunner{err: services.ErrImportInProgress}
	s, _ := newTestServer(t, runner)

	_, body := login(t, s, "admin", "admin123")
	if body.DataSync.DidImport {
		t.Error("DidImport reported for a failed import")
	}
	if body.DataSync.LastUpdated.IsZero() {
		t.Error("LastUpdated not filled in")
	}
}

func TestLogin_ImportsOncePerSession(t *testing.T) {
	tests := []struct {
		name        string
		firstErr    error
		secondUser  string
		secondPass  string
		wantCalls   int
		wantImport  bool
		wantSameKey bool
	}{
		{name: "same user, same cookie", secondUser: "user", secondPass: "user123", wantCalls: 1, wantSameKey: true},
		{name: "first import failed", firstErr: services.ErrImportInProgress, secondUser: "user", secondPass: "user123", wantCalls: 2, wantSameKey: true},
		{name: "other user, same cookie", secondUser: "admin", secondPass: "admin123", wantCalls: 2, wantImport: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &apiRunner{err: tt.firstErr}
			s, _ := newTestServer(t, runner)

			cookie, _ := login(t, s, "user", "user123")
			runner.err = nil
			again, body := loginWithCookie(t, s, tt.secondUser, tt.secondPass, cookie)

			if runner.calls != tt.wantCalls {
				t.Errorf("imports = %d, want %d", runner.calls, tt.wantCalls)
			}
			if tt.firstErr == nil && body.DataSync.DidImport != tt.wantImport {
				t.Errorf("DidImport = %v, want %v", body.DataSync.DidImport, tt.wantImport)
			}
			if (again == cookie) != tt.wantSameKey {
				t.Errorf("cookie %q after %q, want same session = %v", again, cookie, tt.wantSameKey)
			}
		})
	}
}

func TestSessionAndLogout(t *testing.T) {
	s, _ := newTestServer(t, &apiRunner{})

	resp := call(t, s, http.MethodGet, "/api/session", "", "")
	if !strings.Contains(resp.Body, `"loggedIn":false`) {
		t.Errorf("anonymous session body = %s", resp.Body)
	}

	cookie, _ := login(t, s, "admin", "admin123")
	resp = call(t, s, http.MethodGet, "/api/session", "", cookie)
	var sess SessionResponse
	if err := json.Unmarshal([]byte(resp.Body), &sess); err != nil {
		t.Fatal(err)
	}
	if !sess.LoggedIn || sess.Username != "admin" || !sess.IsAdmin {
		t.Errorf("session = %+v", sess)
	}

	resp = call(t, s, http.MethodPost, "/api/logout", "", cookie)
	if resp.StatusCode != http.StatusOK || !strings.Contains(resp.Headers["Set-Cookie"], "Max-Age=0") {
		t.Errorf("logout = %d, cookie %q", resp.StatusCode, resp.Headers["Set-Cookie"])
	}
	resp = call(t, s, http.MethodGet, "/api/session", "", cookie)
	if !strings.Contains(resp.Body, `"loggedIn":false`) {
		t.Errorf("session after logout = %s", resp.Body)
	}
}

func TestImportData(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		runErr   error
		want     int
	}{
		{name: "anonymous", want: http.StatusUnauthorized},
		{name: "non-admin", username: "user", password: "user123", want: http.StatusForbidden},
		{name: "admin", username: "admin", password: "admin123", want: http.StatusOK},
		{name: "busy", username: "admin", password: "admin123", runErr: services.ErrImportInProgress, want: http.StatusConflict},
		{name: "failed", username: "admin", password: "admin123", runErr: &services.ImportError{Kind: services.WriteFailed, Op: "delete events", Err: fmt.Errorf("throttled")}, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &apiRunner{}
			s, _ := newTestServer(t, runner)
			cookie := ""
			if tt.username != "" {
				cookie, _ = login(t, s, tt.username, tt.password)
			}
			runner.err = tt.runErr

			resp := call(t, s, http.MethodPost, "/api/import-data", "", cookie)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d (%s)", resp.StatusCode, tt.want, resp.Body)
			}
		})
	}
}

func TestLastUpdated(t *testing.T) {
	s, store := newTestServer(t, &apiRunner{})

	resp := call(t, s, http.MethodGet, "/api/last-updated", "", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(resp.Body, `"lastUpdated":null`) {
		t.Errorf("never imported = %d %s", resp.StatusCode, resp.Body)
	}

	at := time.Date(2026, 1, 30, 8, 0, 0, 0, time.UTC)
	store.PutSyncMetadata(context.Background(), &models.SyncMetadata{Key: models.MetaKeyDataImport, LastImportedAt: at})
	s.lastUpdated.Invalidate()

	resp = call(t, s, http.MethodGet, "/api/last-updated", "", "")
	if !strings.Contains(resp.Body, "2026-01-30T08:00:00Z") {
		t.Errorf("body = %s", resp.Body)
	}
}

func TestRouting(t *testing.T) {
	s, _ := newTestServer(t, &apiRunner{})

	if resp := call(t, s, http.MethodOptions, "/api/login", "", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("OPTIONS status = %d", resp.StatusCode)
	}
	resp := call(t, s, http.MethodGet, "/api/unknown", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown route status = %d", resp.StatusCode)
	}
	if resp.Headers["Access-Control-Allow-Origin"] != "*" {
		t.Errorf("CORS headers missing: %v", resp.Headers)
	}
}

func TestSessionID(t *testing.T) {
	req := events.APIGatewayProxyRequest{Headers: map[string]string{"cookie": "theme=dark; session=abc123"}}
	if got := sessionID(req, "session"); got != "abc123" {
		t.Errorf("sessionID = %q", got)
	}
	req = events.APIGatewayProxyRequest{MultiValueHeaders: map[string][]string{"Cookie": {"session=xyz"}}}
	if got := sessionID(req, "session"); got != "xyz" {
		t.Errorf("sessionID from multi-value headers = %q", got)
	}
	if got := sessionID(events.APIGatewayProxyRequest{}, "session"); got != "" {
		t.Errorf("sessionID without cookie = %q", got)
	}
}
