package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tunetrivia/internal/catalog"
	"tunetrivia/internal/challenge"
)

// State drives which screen the presentation renders and which intents are
// valid. Searching is the initial state; GameOver is terminal for the
// session, Survived terminal per album.
type State string

const (
	StateSearching      State = "searching"
	StateAlbumSelection State = "album_selection"
	StatePlaying        State = "playing"
	StateGameOver       State = "game_over"
	StateSurvived       State = "survived"
)

// Difficulty controls snippet duration and points per correct answer.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Points returns the score awarded for a correct answer at this difficulty.
func (d Difficulty) Points() int {
	switch d {
	case DifficultyHard:
		return 200
	case DifficultyMedium:
		return 100
	default:
		return 50
	}
}

// ParseDifficulty validates a difficulty value from the outside world.
func ParseDifficulty(raw string) (Difficulty, error) {
	switch Difficulty(raw) {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return Difficulty(raw), nil
	}
	return "", fmt.Errorf("unknown difficulty %q", raw)
}

var (
	// ErrInvalidIntent signals an intent that is not valid in the current state.
	ErrInvalidIntent = errors.New("intent not valid in current state")
	// ErrUnknownAlbum signals an album pick outside the current search results.
	ErrUnknownAlbum = errors.New("album not in current results")
	// ErrNoReplays signals a replay request with an exhausted replay budget.
	ErrNoReplays = errors.New("no replays remaining")
	// ErrBusy signals an intent submitted while a previous one is still
	// waiting on a network response.
	ErrBusy = errors.New("another request is in flight")
	// ErrSessionNotFound signals an unknown or expired session id.
	ErrSessionNotFound = errors.New("session not found")
)

// ChallengeSource produces one round's question material. The only error it
// may return is (a wrapped) challenge.ErrQuotaExhausted.
type ChallengeSource interface {
	Generate(ctx context.Context, album catalog.Album, tracks []catalog.Track, difficulty string) (challenge.Challenge, error)
}

// KeyRotator advances the AI credential after a quota error. Implemented by
// challenge.OpenAIGenerator.
type KeyRotator interface {
	RotateKey()
}

// Ledger persists the per-player state that survives across sessions.
type Ledger interface {
	HighScore(ctx context.Context, playerID string) (int, error)
	SaveHighScore(ctx context.Context, playerID string, score int) error
	MarkAlbumCompleted(ctx context.Context, playerID, albumID string) error
}

// AudioPlayer is the platform audio primitive. Exactly one handle is live per
// session; starting playback replaces, never layers. Play restarts from the
// beginning and returns an error on load failure.
type AudioPlayer interface {
	Play(url string) error
	Pause()
	Stop()
}

// Config carries the round timing and budget knobs. Tests shorten the
// durations; production uses DefaultConfig.
type Config struct {
	SnippetDurations map[Difficulty]time.Duration
	LossDelay        time.Duration
	Replays          int
}

// DefaultConfig returns the standard game timings.
func DefaultConfig() Config {
	return Config{
		SnippetDurations: map[Difficulty]time.Duration{
			DifficultyEasy:   5000 * time.Millisecond,
			DifficultyMedium: 2000 * time.Millisecond,
			DifficultyHard:   800 * time.Millisecond,
		},
		LossDelay: 1500 * time.Millisecond,
		Replays:   2,
	}
}

// RoundView is the per-round slice of the snapshot.
type RoundView struct {
	Options       []catalog.Track `json:"options"`
	Vibe          string          `json:"vibe"`
	SnippetMillis int64           `json:"snippetMillis"`
}

// Snapshot is the observable session state the presentation renders from.
type Snapshot struct {
	State            State           `json:"state"`
	Difficulty       Difficulty      `json:"difficulty"`
	Score            int             `json:"score"`
	HighScore        int             `json:"highScore"`
	ReplaysRemaining int             `json:"replaysRemaining"`
	QuotaError       bool            `json:"quotaError"`
	NoSamplesError   bool            `json:"noSamplesError"`
	Message          string          `json:"message,omitempty"`
	Results          []catalog.Album `json:"results,omitempty"`
	Album            *catalog.Album  `json:"album,omitempty"`
	Round            *RoundView      `json:"round,omitempty"`
	RoundWon         bool            `json:"roundWon"`
	AnswerPrompt     bool            `json:"answerPrompt"`
	LossPending      bool            `json:"lossPending"`
	Playing          bool            `json:"playing"`
	PlaybackURL      string          `json:"playbackUrl,omitempty"`
	Attempt          uint64          `json:"attempt"`
	LastCorrectTrack string          `json:"lastCorrectTrack,omitempty"`
	PlayedCount      int             `json:"playedCount"`
	TrackCount       int             `json:"trackCount"`
}
