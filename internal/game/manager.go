package game

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"tunetrivia/internal/catalog"
)

// Manager owns the live sessions, keyed by session id. Sessions idle past the
// sweep age are evicted; their durable state lives in the ledger regardless.
type Manager struct {
	cfg     Config
	catalog catalog.Client
	source  ChallengeSource
	rotator KeyRotator
	ledger  Ledger

	// newPlayer builds the audio handle for each new session.
	newPlayer func() AudioPlayer

	mu       sync.Mutex
	sessions map[string]*managedSession
}

type managedSession struct {
	session    *Session
	playerID   string
	lastActive time.Time
}

// NewManager wires a session factory around the shared collaborators.
func NewManager(cfg Config, cat catalog.Client, source ChallengeSource, rotator KeyRotator, ledger Ledger, newPlayer func() AudioPlayer) *Manager {
	if newPlayer == nil {
		newPlayer = func() AudioPlayer { return NewRelayPlayer() }
	}
	return &Manager{
		cfg:       cfg,
		catalog:   cat,
		source:    source,
		rotator:   rotator,
		ledger:    ledger,
		newPlayer: newPlayer,
		sessions:  make(map[string]*managedSession),
	}
}

// Create starts a new session for the player and returns its id.
func (m *Manager) Create(ctx context.Context, playerID string) (string, *Session, error) {
	session, err := NewSession(ctx, m.cfg, Deps{
		Catalog:  m.catalog,
		Source:   m.source,
		Rotator:  m.rotator,
		Ledger:   m.ledger,
		Player:   m.newPlayer(),
		PlayerID: playerID,
	})
	if err != nil {
		return "", nil, err
	}

	id := uuid.New().String()

	m.mu.Lock()
	m.sessions[id] = &managedSession{
		session:    session,
		playerID:   playerID,
		lastActive: time.Now(),
	}
	m.mu.Unlock()

	log.Info().Str("session_id", id).Str("player_id", playerID).Msg("session created")
	return id, session, nil
}

// Get returns the session and refreshes its activity timestamp.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	ms.lastActive = time.Now()
	return ms.session, nil
}

// Sweep evicts sessions idle longer than maxIdle and reports how many went.
func (m *Manager) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, ms := range m.sessions {
		if ms.lastActive.Before(cutoff) {
			ms.session.Reset()
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		log.Info().Int("count", removed).Msg("idle sessions evicted")
	}
	return removed
}

// SweepLoop runs Sweep on an interval until the context ends.
func (m *Manager) SweepLoop(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(maxIdle)
		}
	}
}
