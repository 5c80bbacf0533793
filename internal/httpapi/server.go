package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"tunetrivia/internal/game"
	"tunetrivia/shared/go/logging"
)

// SessionManager captures the session lifecycle operations needed by the
// HTTP handlers.
type SessionManager interface {
	Create(ctx context.Context, playerID string) (string, *game.Session, error)
	Get(id string) (*game.Session, error)
}

// PlayerLedger exposes the durable per-player state behind the /me routes.
type PlayerLedger interface {
	HighScore(ctx context.Context, playerID string) (int, error)
	CompletedAlbums(ctx context.Context, playerID string) ([]string, error)
	Language(ctx context.Context, playerID string) (string, error)
	SetLanguage(ctx context.Context, playerID, language string) error
}

// TokenIssuer mints and verifies the anonymous player tokens.
type TokenIssuer interface {
	Issue(playerID string) (string, error)
	Verify(token string) (string, error)
}

// Server wires HTTP handlers to the underlying services.
type Server struct {
	sessions SessionManager
	players  PlayerLedger
	tokens   TokenIssuer
}

// New configures a Server with the given collaborators.
func New(sessions SessionManager, players PlayerLedger, tokens TokenIssuer) *Server {
	return &Server{
		sessions: sessions,
		players:  players,
		tokens:   tokens,
	}
}

// Routes exposes the HTTP handlers for player and session management.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Player routes
	mux.HandleFunc("POST /api/v1/players", s.handleCreatePlayer)
	mux.HandleFunc("GET /api/v1/me", s.handleMe)
	mux.HandleFunc("GET /api/v1/me/language", s.handleGetLanguage)
	mux.HandleFunc("PUT /api/v1/me/language", s.handleSetLanguage)

	// Session lifecycle
	mux.HandleFunc("POST /api/v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleSessionSnapshot)

	// Session intents
	mux.HandleFunc("POST /api/v1/sessions/{id}/search", s.handleSearch)
	mux.HandleFunc("POST /api/v1/sessions/{id}/album", s.handleSelectAlbum)
	mux.HandleFunc("POST /api/v1/sessions/{id}/difficulty", s.handleSetDifficulty)
	mux.HandleFunc("POST /api/v1/sessions/{id}/answer", s.handleAnswer)
	mux.HandleFunc("POST /api/v1/sessions/{id}/replay", s.handleReplay)
	mux.HandleFunc("POST /api/v1/sessions/{id}/next", s.handleNextRound)
	mux.HandleFunc("POST /api/v1/sessions/{id}/reset", s.handleReset)
	mux.HandleFunc("POST /api/v1/sessions/{id}/new-search", s.handleNewSearch)
	mux.HandleFunc("POST /api/v1/sessions/{id}/albums", s.handleBrowseAlbums)
	mux.HandleFunc("POST /api/v1/sessions/{id}/quota-resolved", s.handleQuotaResolved)
	mux.HandleFunc("POST /api/v1/sessions/{id}/playback-error", s.handlePlaybackError)

	return mux
}

type errorResponse struct {
	Error string `json:"error"`
}

// authedPlayer verifies the bearer token and returns the player id along
// with a request whose context carries it for logging. On failure it writes
// the 401 itself and returns ok=false.
func (s *Server) authedPlayer(w http.ResponseWriter, r *http.Request) (string, *http.Request, bool) {
	token := parseBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing bearer token"})
		return "", r, false
	}

	playerID, err := s.tokens.Verify(token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid token"})
		return "", r, false
	}

	r = r.WithContext(context.WithValue(r.Context(), logging.PlayerIDKey, playerID))
	return playerID, r, true
}

// session resolves the {id} path value to a live session. On failure it
// writes the error response itself and returns ok=false.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*game.Session, *http.Request, bool) {
	_, r, ok := s.authedPlayer(w, r)
	if !ok {
		return nil, r, false
	}

	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeGameError(w, err)
		return nil, r, false
	}
	return sess, r, true
}

// writeGameError maps session errors to HTTP statuses.
func writeGameError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, game.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, game.ErrUnknownAlbum):
		status = http.StatusBadRequest
	case errors.Is(err, game.ErrInvalidIntent),
		errors.Is(err, game.ErrNoReplays),
		errors.Is(err, game.ErrBusy):
		status = http.StatusConflict
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func parseBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}
