package game

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tunetrivia/internal/catalog"
	"tunetrivia/internal/challenge"
)

// Session owns one player's game-state machine. Every intent method runs to
// completion under the session mutex; the mutex is released only across
// network calls, and any result arriving after the session has moved on is
// detected by the attempt token and discarded.
type Session struct {
	mu sync.Mutex

	cfg      Config
	catalog  catalog.Client
	source   ChallengeSource
	rotator  KeyRotator
	ledger   Ledger
	player   AudioPlayer
	playerID string

	state      State
	difficulty Difficulty
	message    string

	quotaError     bool
	noSamplesError bool
	busy           bool

	results []catalog.Album
	album   *catalog.Album
	tracks  []catalog.Track

	played      map[string]struct{}
	replaysLeft int
	score       int
	highScore   int

	current      *challenge.Challenge
	roundWon     bool
	answerPrompt bool
	lossPending  bool
	playing      bool
	lastCorrect  string

	// attempt is the monotonic token tagging the current playback/round
	// lifecycle. Asynchronous callbacks compare their captured token against
	// it and are no-ops on mismatch.
	attempt uint64
	timer   *time.Timer
}

// Deps collects the collaborators a session needs.
type Deps struct {
	Catalog  catalog.Client
	Source   ChallengeSource
	Rotator  KeyRotator
	Ledger   Ledger
	Player   AudioPlayer
	PlayerID string
}

// NewSession creates a session in the Searching state with the player's
// persisted high score loaded.
func NewSession(ctx context.Context, cfg Config, deps Deps) (*Session, error) {
	highScore, err := deps.Ledger.HighScore(ctx, deps.PlayerID)
	if err != nil {
		return nil, err
	}

	return &Session{
		cfg:         cfg,
		catalog:     deps.Catalog,
		source:      deps.Source,
		rotator:     deps.Rotator,
		ledger:      deps.Ledger,
		player:      deps.Player,
		playerID:    deps.PlayerID,
		state:       StateSearching,
		difficulty:  DifficultyMedium,
		played:      make(map[string]struct{}),
		replaysLeft: cfg.Replays,
		highScore:   highScore,
	}, nil
}

// Search submits a catalog query. A non-empty result moves the session to
// album selection; an empty or failed search leaves it where it was with a
// "no results" message. Overlapping searches are rejected.
func (s *Session) Search(ctx context.Context, query string) error {
	s.mu.Lock()
	if s.state != StateSearching && s.state != StateAlbumSelection {
		s.mu.Unlock()
		return ErrInvalidIntent
	}
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	s.busy = true
	tok := s.bump()
	s.mu.Unlock()

	results := s.catalog.SearchAlbums(ctx, query)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	if tok != s.attempt {
		return nil
	}

	if len(results) == 0 {
		s.message = "no albums found"
		return nil
	}

	s.results = results
	s.state = StateAlbumSelection
	s.noSamplesError = false
	s.message = ""
	return nil
}

// SelectAlbum loads an album's tracks and, if any carry audio, starts the
// first round.
func (s *Session) SelectAlbum(ctx context.Context, albumID string) error {
	s.mu.Lock()
	if s.state != StateAlbumSelection && s.state != StateSurvived {
		s.mu.Unlock()
		return ErrInvalidIntent
	}
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}

	var picked *catalog.Album
	for i := range s.results {
		if s.results[i].ID == albumID {
			picked = &s.results[i]
			break
		}
	}
	if picked == nil {
		s.mu.Unlock()
		return ErrUnknownAlbum
	}
	album := *picked

	s.busy = true
	tok := s.bump()
	s.mu.Unlock()

	tracks := s.catalog.AlbumTracks(ctx, album.ID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	if tok != s.attempt {
		return nil
	}

	if len(tracks) == 0 {
		s.noSamplesError = true
		s.state = StateAlbumSelection
		return nil
	}

	s.album = &album
	s.tracks = tracks
	s.played = make(map[string]struct{})
	s.replaysLeft = s.cfg.Replays
	s.noSamplesError = false
	s.state = StateAlbumSelection
	return s.startRoundLocked(ctx)
}

// SetDifficulty changes the difficulty. Allowed pre-round only.
func (s *Session) SetDifficulty(d Difficulty) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StatePlaying {
		return ErrInvalidIntent
	}
	s.difficulty = d
	return nil
}

// Answer judges the player's pick against the current round.
func (s *Session) Answer(ctx context.Context, trackID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return ErrBusy
	}
	if s.state != StatePlaying || s.current == nil || s.quotaError || s.roundWon || s.lossPending {
		return ErrInvalidIntent
	}

	correct := s.current.Correct
	if trackID == correct.ID {
		s.score += s.difficulty.Points()
		if s.score > s.highScore {
			s.highScore = s.score
			if err := s.ledger.SaveHighScore(ctx, s.playerID, s.highScore); err != nil {
				log.Warn().Err(err).Str("player_id", s.playerID).Msg("persist high score failed")
			}
		}
		s.played[correct.ID] = struct{}{}
		s.roundWon = true
		s.answerPrompt = false
		s.stopTimerLocked()
		s.bump()

		// Reward cue: replay the snippet from the start, untimed.
		if err := s.player.Play(correct.PreviewURL); err != nil {
			s.playing = false
		} else {
			s.playing = true
		}
		return nil
	}

	// Wrong answer: the session is over after the loss cue plays out.
	s.player.Stop()
	s.playing = false
	s.stopTimerLocked()
	s.lastCorrect = correct.Name
	s.lossPending = true
	tok := s.bump()
	time.AfterFunc(s.cfg.LossDelay, func() { s.finishLoss(tok) })
	return nil
}

// Replay restarts the snippet, spending one replay. Denied while audio is
// playing, after the round is won, or with an empty budget.
func (s *Session) Replay(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return ErrBusy
	}
	if s.state != StatePlaying || s.current == nil || s.quotaError || s.roundWon || s.lossPending {
		return ErrInvalidIntent
	}
	if s.replaysLeft <= 0 || s.playing {
		return ErrNoReplays
	}

	s.replaysLeft--
	s.startSnippetLocked(ctx)
	return nil
}

// NextRound advances past a won round.
func (s *Session) NextRound(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return ErrBusy
	}
	if s.state != StatePlaying || !s.roundWon {
		return ErrInvalidIntent
	}
	s.player.Stop()
	s.playing = false
	s.roundWon = false
	return s.startRoundLocked(ctx)
}

// Reset clears the session back to Searching. The persisted high score and
// completed-album ledger are untouched.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bump()
	s.stopTimerLocked()
	s.player.Stop()

	s.state = StateSearching
	s.score = 0
	s.results = nil
	s.album = nil
	s.tracks = nil
	s.current = nil
	s.played = make(map[string]struct{})
	s.replaysLeft = s.cfg.Replays
	s.quotaError = false
	s.noSamplesError = false
	s.roundWon = false
	s.answerPrompt = false
	s.lossPending = false
	s.playing = false
	s.lastCorrect = ""
	s.message = ""
}

// NewSearch returns to the search screen without ending the session. Used to
// recover from a no-samples album or to continue after surviving one.
func (s *Session) NewSearch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateGameOver || s.state == StatePlaying {
		return ErrInvalidIntent
	}
	s.bump()
	s.stopTimerLocked()
	s.player.Stop()
	s.playing = false
	s.state = StateSearching
	s.results = nil
	s.noSamplesError = false
	s.message = ""
	return nil
}

// BrowseAlbums returns to the album list of the last search. Same recovery
// paths as NewSearch.
func (s *Session) BrowseAlbums() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.results) == 0 || (s.state != StateAlbumSelection && s.state != StateSurvived) {
		return ErrInvalidIntent
	}
	s.bump()
	s.stopTimerLocked()
	s.player.Stop()
	s.playing = false
	s.state = StateAlbumSelection
	s.noSamplesError = false
	return nil
}

// ResolveQuota completes the key-reselection action: rotate to the next AI
// credential, clear the quota flag, and retry the round that hit the wall.
func (s *Session) ResolveQuota(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.quotaError {
		return ErrInvalidIntent
	}
	if s.rotator != nil {
		s.rotator.RotateKey()
	}
	s.quotaError = false
	if s.album != nil {
		return s.startRoundLocked(ctx)
	}
	return nil
}

// PlaybackFailed reports an asynchronous audio load failure from the
// platform. Stale reports (older attempt) are ignored; a current one marks
// the track as played and skips to a fresh round without penalty.
func (s *Session) PlaybackFailed(ctx context.Context, attempt uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if attempt != s.attempt || s.state != StatePlaying || s.current == nil || s.roundWon || s.lossPending {
		return
	}
	s.playing = false
	s.skipUnplayableLocked(ctx)
}

// PlaybackBlocked reports that the platform refused to start audio (autoplay
// restriction). The playback indicator clears; the round continues and the
// replay control stays available for a manual retry.
func (s *Session) PlaybackBlocked(attempt uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if attempt != s.attempt {
		return
	}
	log.Info().Str("player_id", s.playerID).Msg("playback blocked by platform")
	s.playing = false
}

// Snapshot returns the observable session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:            s.state,
		Difficulty:       s.difficulty,
		Score:            s.score,
		HighScore:        s.highScore,
		ReplaysRemaining: s.replaysLeft,
		QuotaError:       s.quotaError,
		NoSamplesError:   s.noSamplesError,
		Message:          s.message,
		Results:          s.results,
		Album:            s.album,
		RoundWon:         s.roundWon,
		AnswerPrompt:     s.answerPrompt,
		LossPending:      s.lossPending,
		Playing:          s.playing,
		Attempt:          s.attempt,
		LastCorrectTrack: s.lastCorrect,
		PlayedCount:      len(s.played),
		TrackCount:       len(s.tracks),
	}
	if s.playing && s.current != nil {
		snap.PlaybackURL = s.current.Correct.PreviewURL
	}
	if s.current != nil && s.state == StatePlaying && !s.quotaError {
		snap.Round = &RoundView{
			Options:       s.current.Options,
			Vibe:          s.current.Vibe,
			SnippetMillis: s.cfg.SnippetDurations[s.difficulty].Milliseconds(),
		}
	}
	return snap
}

// bump invalidates all outstanding asynchronous callbacks and returns the new
// current token. Caller must hold the mutex.
func (s *Session) bump() uint64 {
	s.attempt++
	return s.attempt
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) remainingLocked() []catalog.Track {
	remaining := make([]catalog.Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		if _, ok := s.played[t.ID]; !ok {
			remaining = append(remaining, t)
		}
	}
	return remaining
}

// startRoundLocked runs the round-start sequence: exhaustion check, challenge
// fetch, self-healing, playback. The mutex is released across the generator
// call; a stale result is discarded by token comparison.
func (s *Session) startRoundLocked(ctx context.Context) error {
	remaining := s.remainingLocked()
	if len(remaining) == 0 {
		s.stopTimerLocked()
		s.player.Stop()
		s.playing = false
		s.current = nil
		s.state = StateSurvived
		if err := s.ledger.MarkAlbumCompleted(ctx, s.playerID, s.album.ID); err != nil {
			log.Warn().Err(err).
				Str("player_id", s.playerID).
				Str("album_id", s.album.ID).
				Msg("mark album completed failed")
		}
		return nil
	}

	album := *s.album
	tracks := s.tracks
	difficulty := s.difficulty
	s.busy = true
	tok := s.bump()
	s.mu.Unlock()

	ch, err := s.source.Generate(ctx, album, tracks, string(difficulty))

	s.mu.Lock()
	s.busy = false
	if tok != s.attempt {
		return nil
	}

	if err != nil {
		if errors.Is(err, challenge.ErrQuotaExhausted) {
			s.quotaError = true
			s.current = nil
			s.state = StatePlaying
			return err
		}
		return err
	}

	// Self-healing: the chosen correct track must be playable and novel
	// within the current album.
	remaining = s.remainingLocked()
	if _, seen := s.played[ch.Correct.ID]; seen || ch.Correct.PreviewURL == "" {
		replacement := remaining[rand.Intn(len(remaining))]
		ch.Correct = replacement

		present := false
		for _, o := range ch.Options {
			if o.ID == replacement.ID {
				present = true
				break
			}
		}
		if !present && len(ch.Options) > 0 {
			ch.Options[len(ch.Options)-1] = replacement
		}
		rand.Shuffle(len(ch.Options), func(i, j int) {
			ch.Options[i], ch.Options[j] = ch.Options[j], ch.Options[i]
		})
	}

	s.current = &ch
	s.state = StatePlaying
	s.roundWon = false
	s.answerPrompt = false
	s.message = ""
	s.startSnippetLocked(ctx)
	return nil
}

// startSnippetLocked begins snippet playback for the current round and arms
// the expiry timer for the active difficulty.
func (s *Session) startSnippetLocked(ctx context.Context) {
	s.stopTimerLocked()
	s.player.Stop()
	s.playing = false
	s.answerPrompt = false
	tok := s.bump()

	if err := s.player.Play(s.current.Correct.PreviewURL); err != nil {
		log.Warn().Err(err).
			Str("track_id", s.current.Correct.ID).
			Msg("snippet failed to load")
		s.skipUnplayableLocked(ctx)
		return
	}
	s.playing = true

	duration := s.cfg.SnippetDurations[s.difficulty]
	s.timer = time.AfterFunc(duration, func() { s.snippetExpired(tok) })
}

// skipUnplayableLocked marks the current correct track as played so it is
// never served again, then re-enters round-start for the same album. Not a
// wrong answer; no points are lost.
func (s *Session) skipUnplayableLocked(ctx context.Context) {
	s.played[s.current.Correct.ID] = struct{}{}
	if err := s.startRoundLocked(ctx); err != nil && !errors.Is(err, challenge.ErrQuotaExhausted) {
		log.Warn().Err(err).Msg("restart after unplayable track failed")
	}
	if s.state == StatePlaying && !s.quotaError {
		s.message = "skipping a track that would not play"
	}
}

// snippetExpired fires when the timed snippet runs out. Stale timers and
// already-won rounds are no-ops.
func (s *Session) snippetExpired(tok uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok != s.attempt || s.state != StatePlaying || s.roundWon {
		return
	}
	s.player.Pause()
	s.playing = false
	s.answerPrompt = true
}

// finishLoss completes the wrong-answer transition after the loss cue delay.
func (s *Session) finishLoss(tok uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok != s.attempt {
		return
	}
	s.lossPending = false
	s.player.Stop()
	s.playing = false
	s.state = StateGameOver
}
