package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"tunetrivia/internal/challenge"
	"tunetrivia/internal/game"
	"tunetrivia/shared/go/logging"
)

type createSessionResponse struct {
	SessionID string        `json:"sessionId"`
	Snapshot  game.Snapshot `json:"snapshot"`
}

type searchRequest struct {
	Query string `json:"query"`
}

type selectAlbumRequest struct {
	AlbumID string `json:"albumId"`
}

type difficultyRequest struct {
	Difficulty string `json:"difficulty"`
}

type answerRequest struct {
	TrackID string `json:"trackId"`
}

type playbackErrorRequest struct {
	Attempt uint64 `json:"attempt"`
	Reason  string `json:"reason"` // "load" or "blocked"
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	playerID, r, ok := s.authedPlayer(w, r)
	if !ok {
		return
	}

	id, sess, err := s.sessions.Create(r.Context(), playerID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	snap := sess.Snapshot()
	logging.GameEvent(r.Context(), id, "create", string(snap.State))
	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: id,
		Snapshot:  snap,
	})
}

func (s *Server) handleSessionSnapshot(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// respondIntent writes the post-intent snapshot. An exhausted AI quota is
// not an HTTP failure: the snapshot carries the flag and the client renders
// the recovery screen.
func respondIntent(w http.ResponseWriter, r *http.Request, sess *game.Session, intent string, err error) {
	if err != nil && !errors.Is(err, challenge.ErrQuotaExhausted) {
		writeGameError(w, err)
		return
	}
	snap := sess.Snapshot()
	logging.GameEvent(r.Context(), r.PathValue("id"), intent, string(snap.State))
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	sess, r, ok := s.session(w, r)
	if !ok {
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}

	respondIntent(w, r, sess, "search", sess.Search(r.Context(), req.Query))
}

func (s *Server) handleSelectAlbum(w http.ResponseWriter, r *http.Request) {
	sess, r, ok := s.session(w, r)
	if !ok {
		return
	}

	var req selectAlbumRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}

	respondIntent(w, r, sess, "album", sess.SelectAlbum(r.Context(), req.AlbumID))
}

func (s *Server) handleSetDifficulty(w http.ResponseWriter, r *http.Request) {
	sess, r, ok := s.session(w, r)
	if !ok {
		return
	}

	var req difficultyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}

	d, err := game.ParseDifficulty(req.Difficulty)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	respondIntent(w, r, sess, "difficulty", sess.SetDifficulty(d))
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	sess, r, ok := s.session(w, r)
	if !ok {
		return
	}

	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}

	respondIntent(w, r, sess, "answer", sess.Answer(r.Context(), req.TrackID))
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	sess, r, ok := s.session(w, r)
	if !ok {
		return
	}
	respondIntent(w, r, sess, "replay", sess.Replay(r.Context()))
}

func (s *Server) handleNextRound(w http.ResponseWriter, r *http.Request) {
	sess, r, ok := s.session(w, r)
	if !ok {
		return
	}
	respondIntent(w, r, sess, "next", sess.NextRound(r.Context()))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, r, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Reset()
	respondIntent(w, r, sess, "reset", nil)
}

func (s *Server) handleNewSearch(w http.ResponseWriter, r *http.Request) {
	sess, r, ok := s.session(w, r)
	if !ok {
		return
	}
	respondIntent(w, r, sess, "new-search", sess.NewSearch())
}

func (s *Server) handleBrowseAlbums(w http.ResponseWriter, r *http.Request) {
	sess, r, ok := s.session(w, r)
	if !ok {
		return
	}
	respondIntent(w, r, sess, "albums", sess.BrowseAlbums())
}

func (s *Server) handleQuotaResolved(w http.ResponseWriter, r *http.Request) {
	sess, r, ok := s.session(w, r)
	if !ok {
		return
	}
	respondIntent(w, r, sess, "quota-resolved", sess.ResolveQuota(r.Context()))
}

func (s *Server) handlePlaybackError(w http.ResponseWriter, r *http.Request) {
	sess, r, ok := s.session(w, r)
	if !ok {
		return
	}

	var req playbackErrorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}

	switch req.Reason {
	case "blocked":
		sess.PlaybackBlocked(req.Attempt)
	default:
		sess.PlaybackFailed(r.Context(), req.Attempt)
	}
	respondIntent(w, r, sess, "playback-error", nil)
}
