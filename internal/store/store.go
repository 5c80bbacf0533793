package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidLanguage indicates a language code outside the two-letter form.
	ErrInvalidLanguage = errors.New("invalid language code")
)

// defaultLanguage is returned for players with no stored preference.
const defaultLanguage = "en"

// Store provides the durable per-player ledger backed by Postgres: the high
// score, the completed-album set, and the language preference. It is pure
// key/value per player; absent rows read as the zero state.
type Store struct {
	db *sql.DB
}

// New sets up a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// HighScore returns the player's persisted high score, 0 when none exists.
func (s *Store) HighScore(ctx context.Context, playerID string) (int, error) {
	var score int
	err := s.db.QueryRowContext(ctx, `
		SELECT high_score
		FROM player_state
		WHERE player_id = $1
	`, playerID).Scan(&score)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("lookup high score: %w", err)
	}
	return score, nil
}

// SaveHighScore records a new high score. The stored value is monotone: a
// lower score than the one on record is a no-op.
func (s *Store) SaveHighScore(ctx context.Context, playerID string, score int) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO player_state (player_id, high_score)
		VALUES ($1, $2)
		ON CONFLICT (player_id)
		DO UPDATE SET high_score = GREATEST(player_state.high_score, EXCLUDED.high_score), updated_at = NOW()
	`, playerID, score); err != nil {
		return fmt.Errorf("save high score: %w", err)
	}
	return nil
}

// CompletedAlbums lists the album ids the player has survived.
func (s *Store) CompletedAlbums(ctx context.Context, playerID string) ([]string, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT completed_albums
		FROM player_state
		WHERE player_id = $1
	`, playerID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("lookup completed albums: %w", err)
	}

	var albums []string
	if err := json.Unmarshal(raw, &albums); err != nil {
		return nil, fmt.Errorf("decode completed albums: %w", err)
	}
	return albums, nil
}

// MarkAlbumCompleted adds an album id to the player's completed set.
// Idempotent: marking twice leaves exactly one occurrence.
func (s *Store) MarkAlbumCompleted(ctx context.Context, playerID, albumID string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO player_state (player_id, completed_albums)
		VALUES ($1, jsonb_build_array($2::text))
		ON CONFLICT (player_id)
		DO UPDATE SET completed_albums = CASE
			WHEN player_state.completed_albums ? $2 THEN player_state.completed_albums
			ELSE player_state.completed_albums || to_jsonb($2::text)
		END, updated_at = NOW()
	`, playerID, albumID); err != nil {
		return fmt.Errorf("mark album completed: %w", err)
	}
	return nil
}

// Language returns the player's stored language preference, "en" by default.
func (s *Store) Language(ctx context.Context, playerID string) (string, error) {
	var lang string
	err := s.db.QueryRowContext(ctx, `
		SELECT language
		FROM player_state
		WHERE player_id = $1
	`, playerID).Scan(&lang)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return defaultLanguage, nil
		}
		return "", fmt.Errorf("lookup language: %w", err)
	}
	if lang == "" {
		return defaultLanguage, nil
	}
	return lang, nil
}

// SetLanguage stores a two-letter language preference.
func (s *Store) SetLanguage(ctx context.Context, playerID, language string) error {
	language = strings.ToLower(strings.TrimSpace(language))
	if len(language) != 2 {
		return ErrInvalidLanguage
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO player_state (player_id, language)
		VALUES ($1, $2)
		ON CONFLICT (player_id)
		DO UPDATE SET language = EXCLUDED.language, updated_at = NOW()
	`, playerID, language); err != nil {
		return fmt.Errorf("set language: %w", err)
	}
	return nil
}
