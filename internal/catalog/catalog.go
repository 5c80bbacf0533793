package catalog

import "context"

// Album is a catalog album as offered for a play session. Instances are
// immutable once fetched; the selected album is the source for every round
// until the session moves on.
type Album struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Artist   string `json:"artist"`
	Year     string `json:"year"`
	ImageURL string `json:"imageUrl"`
}

// Track is a single song on an album. Tracks without a preview URL carry no
// playable audio and are filtered out before they reach the game.
type Track struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PreviewURL string `json:"previewUrl"`
}

// Client defines the catalog lookups the game depends on. Both operations
// fail soft: network or decode problems yield an empty slice, never an error,
// so callers only ever distinguish "results" from "no results".
type Client interface {
	// SearchAlbums queries the catalog by free text and returns matching
	// albums deduplicated by id and sorted by release year, newest first.
	SearchAlbums(ctx context.Context, query string) []Album

	// AlbumTracks returns the playable tracks of an album. An empty result
	// means no playable audio exists for the album in any storefront.
	AlbumTracks(ctx context.Context, albumID string) []Track
}
