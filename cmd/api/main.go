package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"hk-cultural-events/internal/config"
	"hk-cultural-events/internal/logging"
	"hk-cultural-events/internal/models"
	"hk-cultural-events/internal/services"
)

// LoginRequest is the body of POST /api/login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginUser is the user block of a login response
type LoginUser struct {
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
	UserID   string `json:"userId"`
}

// LoginResponse is returned by a successful login
type LoginResponse struct {
	Message  string                `json:"message"`
	User     LoginUser             `json:"user"`
	DataSync models.DataSyncStatus `json:"dataSync"`
}

// SessionResponse is returned by GET /api/session
type SessionResponse struct {
	LoggedIn bool   `json:"loggedIn"`
	Username string `json:"username,omitempty"`
	IsAdmin  bool   `json:"isAdmin,omitempty"`
}

// ImportResponse is returned by POST /api/import-data
type ImportResponse struct {
	Message string                `json:"message"`
	Summary *models.ImportSummary `json:"summary,omitempty"`
}

// LastUpdatedResponse is returned by GET /api/last-updated
type LastUpdatedResponse struct {
	LastUpdated *time.Time `json:"lastUpdated"`
}

// ErrorResponse carries a user-facing error message
type ErrorResponse struct {
	Error string `json:"error"`
}

// server holds the dependencies of the API handler
type server struct {
	auth        *services.AuthService
	sync        *services.SessionSync
	runner      services.Runner
	lastUpdated *services.LastUpdatedReader
	cookieName  string
	sessionTTL  time.Duration
}

func newServer(ctx context.Context) (*server, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	stack, err := services.NewStack(ctx, cfg, services.StackOptions{RemoteImports: true})
	if err != nil {
		return nil, err
	}

	return &server{
		auth:        stack.Auth,
		sync:        stack.SessionSync,
		runner:      stack.Runner,
		lastUpdated: stack.LastUpdated,
		cookieName:  cfg.Auth.CookieName,
		sessionTTL:  cfg.Auth.SessionTTL,
	}, nil
}

func (s *server) handleRequest(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if request.HTTPMethod == http.MethodOptions {
		return respond(http.StatusOK, nil), nil
	}

	path := request.Path
	method := request.HTTPMethod
	logging.Debug().Str("method", method).Str("path", path).Msg("API request")

	switch {
	case method == http.MethodPost && path == "/api/login":
		return s.handleLogin(ctx, request), nil
	case method == http.MethodPost && path == "/api/logout":
		return s.handleLogout(ctx, request), nil
	case method == http.MethodGet && path == "/api/session":
		return s.handleSession(ctx, request), nil
	case method == http.MethodPost && path == "/api/import-data":
		return s.handleImport(ctx, request), nil
	case method == http.MethodGet && path == "/api/last-updated":
		return s.handleLastUpdated(ctx), nil
	default:
		return respond(http.StatusNotFound, ErrorResponse{Error: "Not found"}), nil
	}
}

func (s *server) handleLogin(ctx context.Context, request events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	var req LoginRequest
	if err := json.Unmarshal([]byte(request.Body), &req); err != nil || req.Username == "" {
		return respond(http.StatusBadRequest, ErrorResponse{Error: "Username and password are required"})
	}

	session, err := s.auth.Login(ctx, req.Username, req.Password, sessionID(request, s.cookieName))
	if errors.Is(err, services.ErrInvalidCredentials) {
		return respond(http.StatusUnauthorized, ErrorResponse{Error: "Invalid credentials"})
	}
	if err != nil {
		logging.Error().Err(err).Msg("Login failed")
		return respond(http.StatusInternalServerError, ErrorResponse{Error: "Login failed"})
	}

	status := s.sync.OnLogin(ctx, session)

	resp := respond(http.StatusOK, LoginResponse{
		Message:  "Login successful",
		User:     LoginUser{Username: session.Username, IsAdmin: session.IsAdmin, UserID: session.UserID},
		DataSync: status,
	})
	resp.Headers["Set-Cookie"] = s.sessionCookie(session.SessionID, int(s.sessionTTL.Seconds()))
	return resp
}

func (s *server) handleLogout(ctx context.Context, request events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	if id := sessionID(request, s.cookieName); id != "" {
		if err := s.auth.Logout(ctx, id); err != nil {
			logging.Warn().Err(err).Msg("Failed to delete session")
		}
	}
	resp := respond(http.StatusOK, map[string]string{"message": "Logout successful"})
	resp.Headers["Set-Cookie"] = s.sessionCookie("", -1)
	return resp
}

func (s *server) handleSession(ctx context.Context, request events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	session, err := s.auth.Session(ctx, sessionID(request, s.cookieName))
	if err != nil {
		return respond(http.StatusOK, SessionResponse{LoggedIn: false})
	}
	return respond(http.StatusOK, SessionResponse{
		LoggedIn: true,
		Username: session.Username,
		IsAdmin:  session.IsAdmin,
	})
}

func (s *server) handleImport(ctx context.Context, request events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	session, err := s.auth.Session(ctx, sessionID(request, s.cookieName))
	if err != nil {
		return respond(http.StatusUnauthorized, ErrorResponse{Error: "Unauthorized"})
	}
	if !session.IsAdmin {
		return respond(http.StatusForbidden, ErrorResponse{Error: "Admin access required"})
	}

	summary, err := s.runner.Run(ctx, models.TriggerTypeAdmin)
	if services.IsImportBusy(err) {
		return respond(http.StatusConflict, ErrorResponse{Error: "Import already in progress"})
	}
	if err != nil {
		logging.Err(err).Str("admin", session.Username).Bool("import_failure", services.IsImportFailure(err)).Msg("Admin import failed")
		return respond(http.StatusInternalServerError, ErrorResponse{Error: "Failed to import data"})
	}
	s.lastUpdated.Invalidate()

	return respond(http.StatusOK, ImportResponse{Message: "Data imported successfully", Summary: summary})
}

func (s *server) handleLastUpdated(ctx context.Context) events.APIGatewayProxyResponse {
	last, err := s.lastUpdated.LastUpdated(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to read last updated time")
		return respond(http.StatusInternalServerError, LastUpdatedResponse{})
	}
	return respond(http.StatusOK, LastUpdatedResponse{LastUpdated: last})
}

func (s *server) sessionCookie(value string, maxAge int) string {
	c := &http.Cookie{
		Name:     s.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
	return c.String()
}

// sessionID extracts the session cookie from the request headers
func sessionID(request events.APIGatewayProxyRequest, name string) string {
	header := http.Header{}
	for k, v := range request.Headers {
		header.Add(k, v)
	}
	for k, vs := range request.MultiValueHeaders {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	r := &http.Request{Header: header}
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func respond(status int, body interface{}) events.APIGatewayProxyResponse {
	headers := map[string]string{
		"Access-Control-Allow-Origin":      "*",
		"Access-Control-Allow-Headers":     "Content-Type,Cookie",
		"Access-Control-Allow-Methods":     "GET,POST,OPTIONS",
		"Access-Control-Allow-Credentials": "true",
		"Content-Type":                     "application/json",
	}
	if body == nil {
		return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    headers,
			Body:       `{"error":"failed to encode response"}`,
		}
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers, Body: string(payload)}
}

func main() {
	api, err := newServer(context.Background())
	if err != nil {
		logging.Error().Err(err).Msg("Failed to initialise API")
		os.Exit(1)
	}
	lambda.Start(api.handleRequest)
}
