package game

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tunetrivia/internal/catalog"
	"tunetrivia/internal/challenge"
)

type fakeCatalog struct {
	albums []catalog.Album
	tracks []catalog.Track
}

func (f *fakeCatalog) SearchAlbums(context.Context, string) []catalog.Album { return f.albums }
func (f *fakeCatalog) AlbumTracks(context.Context, string) []catalog.Track  { return f.tracks }

// fakeSource picks the first supplied track as correct unless a pick
// function or error is scripted.
type fakeSource struct {
	err   error
	pick  func(tracks []catalog.Track) challenge.Challenge
	calls int

	// When set, Generate signals started and then parks until block closes,
	// so tests can poke the session while a challenge is in flight.
	started chan struct{}
	block   chan struct{}
}

func (f *fakeSource) Generate(_ context.Context, _ catalog.Album, tracks []catalog.Track, _ string) (challenge.Challenge, error) {
	f.calls++
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return challenge.Challenge{}, f.err
	}
	if f.pick != nil {
		return f.pick(tracks), nil
	}
	return pickChallenge(tracks, 0), nil
}

// pickChallenge builds a challenge whose correct answer is tracks[idx] with
// up to three other tracks as wrong options.
func pickChallenge(tracks []catalog.Track, idx int) challenge.Challenge {
	ch := challenge.Challenge{Correct: tracks[idx], Vibe: "vibe"}
	ch.Options = append(ch.Options, tracks[idx])
	for i, t := range tracks {
		if i == idx || len(ch.Options) == 4 {
			continue
		}
		ch.Options = append(ch.Options, t)
	}
	return ch
}

type fakeRotator struct{ rotated int }

func (f *fakeRotator) RotateKey() { f.rotated++ }

type fakeLedger struct {
	highScore int
	saved     []int
	completed []string
}

func (f *fakeLedger) HighScore(context.Context, string) (int, error) { return f.highScore, nil }

func (f *fakeLedger) SaveHighScore(_ context.Context, _ string, score int) error {
	f.saved = append(f.saved, score)
	return nil
}

func (f *fakeLedger) MarkAlbumCompleted(_ context.Context, _, albumID string) error {
	f.completed = append(f.completed, albumID)
	return nil
}

// fakePlayer records playback calls and can be scripted to fail for
// particular preview URLs.
type fakePlayer struct {
	played  []string
	failing map[string]bool
	playing bool
}

func (f *fakePlayer) Play(url string) error {
	if f.failing[url] {
		return fmt.Errorf("load failed for %s", url)
	}
	f.played = append(f.played, url)
	f.playing = true
	return nil
}

func (f *fakePlayer) Pause() { f.playing = false }
func (f *fakePlayer) Stop()  { f.playing = false }

func fourTracks() []catalog.Track {
	return []catalog.Track{
		{ID: "t1", Name: "One", PreviewURL: "https://audio.test/1.m4a"},
		{ID: "t2", Name: "Two", PreviewURL: "https://audio.test/2.m4a"},
		{ID: "t3", Name: "Three", PreviewURL: "https://audio.test/3.m4a"},
		{ID: "t4", Name: "Four", PreviewURL: "https://audio.test/4.m4a"},
	}
}

func testConfig() Config {
	return Config{
		SnippetDurations: map[Difficulty]time.Duration{
			DifficultyEasy:   50 * time.Millisecond,
			DifficultyMedium: 100 * time.Millisecond,
			DifficultyHard:   25 * time.Millisecond,
		},
		LossDelay: 10 * time.Millisecond,
		Replays:   2,
	}
}

type fixture struct {
	session *Session
	catalog *fakeCatalog
	source  *fakeSource
	rotator *fakeRotator
	ledger  *fakeLedger
	player  *fakePlayer
}

func newFixture(t *testing.T, tracks []catalog.Track) *fixture {
	t.Helper()
	f := &fixture{
		catalog: &fakeCatalog{
			albums: []catalog.Album{
				{ID: "album-1", Name: "Album", Artist: "Artist", Year: "2001"},
				{ID: "album-2", Name: "Other", Artist: "Artist", Year: "1999"},
			},
			tracks: tracks,
		},
		source:  &fakeSource{},
		rotator: &fakeRotator{},
		ledger:  &fakeLedger{},
		player:  &fakePlayer{},
	}

	session, err := NewSession(context.Background(), testConfig(), Deps{
		Catalog:  f.catalog,
		Source:   f.source,
		Rotator:  f.rotator,
		Ledger:   f.ledger,
		Player:   f.player,
		PlayerID: "player-1",
	})
	require.NoError(t, err)
	f.session = session
	return f
}

// startRound drives the session into its first round of album-1.
func (f *fixture) startRound(t *testing.T) {
	t.Helper()
	require.NoError(t, f.session.Search(context.Background(), "artist"))
	require.NoError(t, f.session.SelectAlbum(context.Background(), "album-1"))
	require.Equal(t, StatePlaying, f.session.Snapshot().State)
}

// waitAnswerPrompt waits out the snippet so answers and replays open up.
func (f *fixture) waitAnswerPrompt(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.session.Snapshot().AnswerPrompt
	}, time.Second, 2*time.Millisecond)
}

func TestNewSessionLoadsPersistedHighScore(t *testing.T) {
	f := newFixture(t, fourTracks())
	f.ledger.highScore = 700

	session, err := NewSession(context.Background(), testConfig(), Deps{
		Catalog:  f.catalog,
		Source:   f.source,
		Rotator:  f.rotator,
		Ledger:   f.ledger,
		Player:   &fakePlayer{},
		PlayerID: "player-1",
	})
	require.NoError(t, err)

	snap := session.Snapshot()
	assert.Equal(t, StateSearching, snap.State)
	assert.Equal(t, DifficultyMedium, snap.Difficulty)
	assert.Equal(t, 700, snap.HighScore)
}

func TestSearchWithResultsMovesToAlbumSelection(t *testing.T) {
	f := newFixture(t, fourTracks())

	require.NoError(t, f.session.Search(context.Background(), "artist"))

	snap := f.session.Snapshot()
	assert.Equal(t, StateAlbumSelection, snap.State)
	assert.Len(t, snap.Results, 2)
	assert.Empty(t, snap.Message)
}

func TestSearchWithoutResultsStaysWithMessage(t *testing.T) {
	f := newFixture(t, fourTracks())
	f.catalog.albums = nil

	require.NoError(t, f.session.Search(context.Background(), "nothing"))

	snap := f.session.Snapshot()
	assert.Equal(t, StateSearching, snap.State)
	assert.NotEmpty(t, snap.Message)
}

func TestSelectAlbumOutsideResultsRejected(t *testing.T) {
	f := newFixture(t, fourTracks())
	require.NoError(t, f.session.Search(context.Background(), "artist"))

	err := f.session.SelectAlbum(context.Background(), "album-99")
	assert.ErrorIs(t, err, ErrUnknownAlbum)
}

func TestSelectAlbumWithoutPlayableTracks(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.session.Search(context.Background(), "artist"))

	require.NoError(t, f.session.SelectAlbum(context.Background(), "album-1"))

	snap := f.session.Snapshot()
	assert.Equal(t, StateAlbumSelection, snap.State)
	assert.True(t, snap.NoSamplesError)
	assert.Nil(t, snap.Round)

	// Recovery: a fresh search clears the flag.
	require.NoError(t, f.session.NewSearch())
	snap = f.session.Snapshot()
	assert.Equal(t, StateSearching, snap.State)
	assert.False(t, snap.NoSamplesError)
}

func TestSelectAlbumStartsRoundAndSnippet(t *testing.T) {
	f := newFixture(t, fourTracks())
	f.startRound(t)

	snap := f.session.Snapshot()
	require.NotNil(t, snap.Round)
	assert.Len(t, snap.Round.Options, 4)
	assert.Equal(t, int64(100), snap.Round.SnippetMillis)
	assert.True(t, snap.Playing)
	assert.Equal(t, "https://audio.test/1.m4a", snap.PlaybackURL)
	assert.Equal(t, 2, snap.ReplaysRemaining)
	require.Len(t, f.player.played, 1)
	assert.Equal(t, "https://audio.test/1.m4a", f.player.played[0])
}

func TestCorrectAnswerAtHardAwardsTwoHundred(t *testing.T) {
	f := newFixture(t, fourTracks())
	require.NoError(t, f.session.SetDifficulty(DifficultyHard))
	f.startRound(t)

	require.NoError(t, f.session.Answer(context.Background(), "t1"))

	snap := f.session.Snapshot()
	assert.Equal(t, 200, snap.Score)
	assert.Equal(t, 200, snap.HighScore)
	assert.True(t, snap.RoundWon)
	assert.Equal(t, []int{200}, f.ledger.saved)
	// Reward cue: the winning snippet replays from the start.
	assert.Equal(t, 2, len(f.player.played))
}

func TestHighScoreOnlyRisesMonotonically(t *testing.T) {
	f := newFixture(t, fourTracks())
	f.ledger.highScore = 1000

	session, err := NewSession(context.Background(), testConfig(), Deps{
		Catalog: f.catalog, Source: f.source, Rotator: f.rotator,
		Ledger: f.ledger, Player: &fakePlayer{}, PlayerID: "player-1",
	})
	require.NoError(t, err)
	f.session = session

	f.startRound(t)
	require.NoError(t, f.session.Answer(context.Background(), "t1"))

	snap := f.session.Snapshot()
	assert.Equal(t, 100, snap.Score)
	assert.Equal(t, 1000, snap.HighScore)
	assert.Empty(t, f.ledger.saved)
}

func TestWrongAnswerEndsSessionAfterLossCue(t *testing.T) {
	f := newFixture(t, fourTracks())
	f.startRound(t)

	require.NoError(t, f.session.Answer(context.Background(), "t2"))

	snap := f.session.Snapshot()
	assert.True(t, snap.LossPending)
	assert.Equal(t, "One", snap.LastCorrectTrack)
	assert.Equal(t, 0, snap.Score)

	require.Eventually(t, func() bool {
		return f.session.Snapshot().State == StateGameOver
	}, time.Second, 2*time.Millisecond)

	// GameOver is terminal for everything but reset.
	assert.ErrorIs(t, f.session.Answer(context.Background(), "t1"), ErrInvalidIntent)
	assert.ErrorIs(t, f.session.Search(context.Background(), "x"), ErrInvalidIntent)
	assert.ErrorIs(t, f.session.NewSearch(), ErrInvalidIntent)
}

func TestSecondAnswerOfRoundRejected(t *testing.T) {
	f := newFixture(t, fourTracks())
	f.startRound(t)

	require.NoError(t, f.session.Answer(context.Background(), "t1"))
	assert.ErrorIs(t, f.session.Answer(context.Background(), "t2"), ErrInvalidIntent)
}

func TestDifficultyLockedDuringRound(t *testing.T) {
	f := newFixture(t, fourTracks())
	f.startRound(t)

	assert.ErrorIs(t, f.session.SetDifficulty(DifficultyEasy), ErrInvalidIntent)

	snap := f.session.Snapshot()
	assert.Equal(t, DifficultyMedium, snap.Difficulty)
}

func TestReplayBudgetSpendsDown(t *testing.T) {
	f := newFixture(t, fourTracks())
	f.startRound(t)

	// Replay is denied while the snippet is still running.
	assert.ErrorIs(t, f.session.Replay(context.Background()), ErrNoReplays)

	f.waitAnswerPrompt(t)
	require.NoError(t, f.session.Replay(context.Background()))
	assert.Equal(t, 1, f.session.Snapshot().ReplaysRemaining)

	f.waitAnswerPrompt(t)
	require.NoError(t, f.session.Replay(context.Background()))
	assert.Equal(t, 0, f.session.Snapshot().ReplaysRemaining)

	f.waitAnswerPrompt(t)
	assert.ErrorIs(t, f.session.Replay(context.Background()), ErrNoReplays)
}

func TestRoundsNeverRepeatUntilSurvived(t *testing.T) {
	f := newFixture(t, fourTracks())
	f.startRound(t)

	correctIDs := map[string]struct{}{}
	for i := 0; i < 4; i++ {
		snap := f.session.Snapshot()
		require.Equal(t, StatePlaying, snap.State, "round %d", i)

		// The snapshot hides the answer, so find it by answering every
		// option until the score moves.
		id := f.answerCorrectly(t)
		_, repeated := correctIDs[id]
		require.False(t, repeated, "correct track %s repeated", id)
		correctIDs[id] = struct{}{}

		require.NoError(t, f.session.NextRound(context.Background()))
	}

	snap := f.session.Snapshot()
	assert.Equal(t, StateSurvived, snap.State)
	assert.Equal(t, []string{"album-1"}, f.ledger.completed)

	// Survived allows picking another album from the same results.
	require.NoError(t, f.session.BrowseAlbums())
	assert.Equal(t, StateAlbumSelection, f.session.Snapshot().State)
}

// answerCorrectly submits the real correct answer for the current round and
// returns its track id.
func (f *fixture) answerCorrectly(t *testing.T) string {
	t.Helper()
	f.session.mu.Lock()
	require.NotNil(t, f.session.current)
	id := f.session.current.Correct.ID
	f.session.mu.Unlock()

	require.NoError(t, f.session.Answer(context.Background(), id))
	return id
}

func TestIntentsRejectedWhileChallengeInFlight(t *testing.T) {
	f := newFixture(t, fourTracks())
	// The source stubbornly proposes t1 every round.
	f.source.pick = func(tracks []catalog.Track) challenge.Challenge {
		return pickChallenge(tracks, 0)
	}
	f.startRound(t)

	require.NoError(t, f.session.Answer(context.Background(), "t1"))
	require.Equal(t, 100, f.session.Snapshot().Score)

	f.source.started = make(chan struct{}, 1)
	f.source.block = make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- f.session.NextRound(context.Background()) }()
	<-f.source.started

	// The previous round's challenge must not be answerable again while the
	// next one is being generated.
	require.ErrorIs(t, f.session.Answer(context.Background(), "t1"), ErrBusy)
	require.ErrorIs(t, f.session.Replay(context.Background()), ErrBusy)
	require.ErrorIs(t, f.session.NextRound(context.Background()), ErrBusy)
	require.Equal(t, 100, f.session.Snapshot().Score)

	close(f.source.block)
	require.NoError(t, <-done)

	snap := f.session.Snapshot()
	require.Equal(t, StatePlaying, snap.State)
	require.NotNil(t, snap.Round)

	f.session.mu.Lock()
	require.NotEqual(t, "t1", f.session.current.Correct.ID)
	f.session.mu.Unlock()
}

func TestSelfHealingReplacesAlreadyPlayedCorrect(t *testing.T) {
	f := newFixture(t, fourTracks())
	// The source stubbornly proposes t1 every round.
	f.source.pick = func(tracks []catalog.Track) challenge.Challenge {
		return pickChallenge(tracks, 0)
	}
	f.startRound(t)

	require.NoError(t, f.session.Answer(context.Background(), "t1"))
	require.NoError(t, f.session.NextRound(context.Background()))

	f.session.mu.Lock()
	current := f.session.current
	f.session.mu.Unlock()

	require.NotNil(t, current)
	assert.NotEqual(t, "t1", current.Correct.ID)

	found := false
	for _, o := range current.Options {
		if o.ID == current.Correct.ID {
			found = true
		}
	}
	assert.True(t, found, "replacement must appear in the options")
}

func TestUnplayableCorrectTrackSkipsWithoutPenalty(t *testing.T) {
	f := newFixture(t, fourTracks())
	f.player.failing = map[string]bool{"https://audio.test/1.m4a": true}

	f.startRound(t)

	snap := f.session.Snapshot()
	assert.Equal(t, StatePlaying, snap.State)
	assert.Equal(t, 0, snap.Score)
	assert.NotEmpty(t, snap.Message)

	f.session.mu.Lock()
	correctID := f.session.current.Correct.ID
	_, t1Burned := f.session.played["t1"]
	f.session.mu.Unlock()

	assert.NotEqual(t, "t1", correctID)
	assert.True(t, t1Burned, "unplayable track counts as played")
}

func TestPlaybackFailureReportIgnoredWhenStale(t *testing.T) {
	f := newFixture(t, fourTracks())
	f.startRound(t)

	before := f.session.Snapshot()
	f.session.PlaybackFailed(context.Background(), before.Attempt-1)

	after := f.session.Snapshot()
	assert.Equal(t, before.Attempt, after.Attempt)
	assert.Equal(t, before.PlayedCount, after.PlayedCount)
}

func TestPlaybackFailureReportSkipsCurrentRound(t *testing.T) {
	f := newFixture(t, fourTracks())
	f.startRound(t)

	snap := f.session.Snapshot()
	f.session.PlaybackFailed(context.Background(), snap.Attempt)

	after := f.session.Snapshot()
	assert.Equal(t, StatePlaying, after.State)
	assert.Equal(t, 1, after.PlayedCount)
}

func TestPlaybackBlockedClearsIndicator(t *testing.T) {
	f := newFixture(t, fourTracks())
	f.startRound(t)

	snap := f.session.Snapshot()
	require.True(t, snap.Playing)

	f.session.PlaybackBlocked(snap.Attempt)
	assert.False(t, f.session.Snapshot().Playing)
}

func TestQuotaErrorLatchesAndRecovers(t *testing.T) {
	f := newFixture(t, fourTracks())
	f.source.err = challenge.ErrQuotaExhausted

	require.NoError(t, f.session.Search(context.Background(), "artist"))
	err := f.session.SelectAlbum(context.Background(), "album-1")
	require.ErrorIs(t, err, challenge.ErrQuotaExhausted)

	snap := f.session.Snapshot()
	assert.Equal(t, StatePlaying, snap.State)
	assert.True(t, snap.QuotaError)
	assert.Nil(t, snap.Round)

	// Answering is impossible while the flag is latched.
	assert.ErrorIs(t, f.session.Answer(context.Background(), "t1"), ErrInvalidIntent)
	assert.ErrorIs(t, f.session.Replay(context.Background()), ErrInvalidIntent)

	// Key reselection rotates the credential and retries the round.
	f.source.err = nil
	require.NoError(t, f.session.ResolveQuota(context.Background()))

	snap = f.session.Snapshot()
	assert.Equal(t, 1, f.rotator.rotated)
	assert.False(t, snap.QuotaError)
	require.NotNil(t, snap.Round)
	assert.Equal(t, StatePlaying, snap.State)
}

func TestResolveQuotaWithoutFlagRejected(t *testing.T) {
	f := newFixture(t, fourTracks())
	assert.ErrorIs(t, f.session.ResolveQuota(context.Background()), ErrInvalidIntent)
}

func TestResetReturnsToSearchingKeepingHighScore(t *testing.T) {
	f := newFixture(t, fourTracks())
	f.startRound(t)
	require.NoError(t, f.session.Answer(context.Background(), "t1"))

	f.session.Reset()

	snap := f.session.Snapshot()
	assert.Equal(t, StateSearching, snap.State)
	assert.Equal(t, 0, snap.Score)
	assert.Equal(t, 100, snap.HighScore)
	assert.Nil(t, snap.Album)
	assert.Empty(t, snap.Results)
	assert.Equal(t, 2, snap.ReplaysRemaining)
}

func TestStaleSnippetTimerIsNoOp(t *testing.T) {
	f := newFixture(t, fourTracks())
	f.startRound(t)

	snap := f.session.Snapshot()
	f.session.snippetExpired(snap.Attempt - 1)

	assert.False(t, f.session.Snapshot().AnswerPrompt)
}

func TestManagerLifecycle(t *testing.T) {
	f := newFixture(t, fourTracks())
	manager := NewManager(testConfig(), f.catalog, f.source, f.rotator, f.ledger, func() AudioPlayer {
		return &fakePlayer{}
	})

	id, session, err := manager.Create(context.Background(), "player-1")
	require.NoError(t, err)
	require.NotNil(t, session)

	got, err := manager.Get(id)
	require.NoError(t, err)
	assert.Same(t, session, got)

	_, err = manager.Get("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	removed := manager.Sweep(0)
	assert.Equal(t, 1, removed)
	_, err = manager.Get(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
