package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"tunetrivia/internal/store"
	"tunetrivia/shared/go/logging"
)

type createPlayerResponse struct {
	PlayerID string `json:"playerId"`
	Token    string `json:"token"`
}

type meResponse struct {
	HighScore       int      `json:"highScore"`
	CompletedAlbums []string `json:"completedAlbums"`
	Language        string   `json:"language"`
}

type languagePayload struct {
	Language string `json:"language"`
}

// handleCreatePlayer mints an anonymous player identity. There is no signup
// flow; losing the token means starting over with a fresh ledger.
func (s *Server) handleCreatePlayer(w http.ResponseWriter, r *http.Request) {
	playerID := uuid.New().String()

	token, err := s.tokens.Issue(playerID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "token issue failed"})
		return
	}

	writeJSON(w, http.StatusCreated, createPlayerResponse{
		PlayerID: playerID,
		Token:    token,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	playerID, r, ok := s.authedPlayer(w, r)
	if !ok {
		return
	}

	highScore, err := s.players.HighScore(r.Context(), playerID)
	if err != nil {
		logging.WithContext(r.Context()).Error().Err(err).Msg("high score lookup failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	completed, err := s.players.CompletedAlbums(r.Context(), playerID)
	if err != nil {
		logging.WithContext(r.Context()).Error().Err(err).Msg("completed albums lookup failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	language, err := s.players.Language(r.Context(), playerID)
	if err != nil {
		logging.WithContext(r.Context()).Error().Err(err).Msg("language lookup failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		HighScore:       highScore,
		CompletedAlbums: completed,
		Language:        language,
	})
}

func (s *Server) handleGetLanguage(w http.ResponseWriter, r *http.Request) {
	playerID, r, ok := s.authedPlayer(w, r)
	if !ok {
		return
	}

	language, err := s.players.Language(r.Context(), playerID)
	if err != nil {
		logging.WithContext(r.Context()).Error().Err(err).Msg("language lookup failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, languagePayload{Language: language})
}

func (s *Server) handleSetLanguage(w http.ResponseWriter, r *http.Request) {
	playerID, r, ok := s.authedPlayer(w, r)
	if !ok {
		return
	}

	var req languagePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}

	if err := s.players.SetLanguage(r.Context(), playerID, req.Language); err != nil {
		if errors.Is(err, store.ErrInvalidLanguage) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
