package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://itunes.apple.com"

// ITunesClient implements the Client interface against the iTunes Search API.
type ITunesClient struct {
	baseURL    string
	httpClient *http.Client

	// storefronts is the fallback chain for track lookups. The empty entry
	// means "no storefront qualifier". The first storefront that yields at
	// least one playable track wins.
	storefronts []string
}

// NewITunesClient creates a catalog client. An empty baseURL selects the
// public iTunes endpoint.
func NewITunesClient(baseURL string) *ITunesClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &ITunesClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		storefronts: []string{"", "us", "gb"},
	}
}

// iTunes Search API response structures
type itunesResponse struct {
	ResultCount int            `json:"resultCount"`
	Results     []itunesResult `json:"results"`
}

type itunesResult struct {
	WrapperType    string `json:"wrapperType"`
	Kind           string `json:"kind"`
	CollectionID   int64  `json:"collectionId"`
	CollectionName string `json:"collectionName"`
	ArtistName     string `json:"artistName"`
	ReleaseDate    string `json:"releaseDate"`
	ArtworkURL100  string `json:"artworkUrl100"`
	TrackID        int64  `json:"trackId"`
	TrackName      string `json:"trackName"`
	PreviewURL     string `json:"previewUrl"`
}

// SearchAlbums queries the catalog for albums matching the free-text query.
// Failures degrade to an empty result; they are logged, not returned.
func (c *ITunesClient) SearchAlbums(ctx context.Context, query string) []Album {
	params := url.Values{
		"term":   []string{query},
		"entity": []string{"album"},
		"limit":  []string{"25"},
	}

	var result itunesResponse
	if err := c.doRequest(ctx, "/search", params, &result); err != nil {
		log.Warn().Err(err).Str("query", query).Msg("album search failed")
		return []Album{}
	}

	// Deduplicate by collection id, last-seen wins.
	seen := make(map[string]int)
	albums := make([]Album, 0, len(result.Results))
	for _, item := range result.Results {
		if item.WrapperType != "collection" || item.CollectionID == 0 ||
			item.CollectionName == "" || item.ArtistName == "" {
			continue
		}

		album := Album{
			ID:       strconv.FormatInt(item.CollectionID, 10),
			Name:     item.CollectionName,
			Artist:   item.ArtistName,
			Year:     releaseYear(item.ReleaseDate),
			ImageURL: upgradeArtwork(item.ArtworkURL100),
		}

		if idx, ok := seen[album.ID]; ok {
			albums[idx] = album
			continue
		}
		seen[album.ID] = len(albums)
		albums = append(albums, album)
	}

	// Newest first; albums without a parseable year sort last.
	sort.SliceStable(albums, func(i, j int) bool {
		yi, iok := numericYear(albums[i].Year)
		yj, jok := numericYear(albums[j].Year)
		if iok != jok {
			return iok
		}
		return yi > yj
	})

	return albums
}

// AlbumTracks looks up the playable tracks of an album, walking the
// storefront fallback chain until one yields audio previews.
func (c *ITunesClient) AlbumTracks(ctx context.Context, albumID string) []Track {
	for _, storefront := range c.storefronts {
		tracks, err := c.lookupTracks(ctx, albumID, storefront)
		if err != nil {
			log.Warn().Err(err).
				Str("album_id", albumID).
				Str("storefront", storefront).
				Msg("track lookup failed")
			continue
		}
		if len(tracks) > 0 {
			return tracks
		}
	}
	return []Track{}
}

func (c *ITunesClient) lookupTracks(ctx context.Context, albumID, storefront string) ([]Track, error) {
	params := url.Values{
		"id":     []string{albumID},
		"entity": []string{"song"},
	}
	if storefront != "" {
		params.Set("country", storefront)
	}

	var result itunesResponse
	if err := c.doRequest(ctx, "/lookup", params, &result); err != nil {
		return nil, err
	}

	tracks := make([]Track, 0, len(result.Results))
	for _, item := range result.Results {
		if item.WrapperType != "track" || item.Kind != "song" || item.TrackID == 0 {
			continue
		}
		// Previewless tracks are dropped here so an empty result always
		// means "no playable audio", not "no metadata".
		if item.PreviewURL == "" {
			continue
		}
		tracks = append(tracks, Track{
			ID:         strconv.FormatInt(item.TrackID, 10),
			Name:       item.TrackName,
			PreviewURL: securePreview(item.PreviewURL),
		})
	}
	return tracks, nil
}

// doRequest performs a GET against the catalog API and decodes the response.
func (c *ITunesClient) doRequest(ctx context.Context, endpoint string, params url.Values, result any) error {
	apiURL := c.baseURL + endpoint
	if len(params) > 0 {
		apiURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", apiURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("catalog api error: %s - %s", resp.Status, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// releaseYear extracts the four-digit year from a catalog release date.
// Dates that don't start with a year come back as "N/A".
func releaseYear(releaseDate string) string {
	if len(releaseDate) >= 4 {
		if _, err := strconv.Atoi(releaseDate[:4]); err == nil {
			return releaseDate[:4]
		}
	}
	return "N/A"
}

func numericYear(year string) (int, bool) {
	v, err := strconv.Atoi(year)
	if err != nil {
		return 0, false
	}
	return v, true
}

// upgradeArtwork swaps the catalog's small artwork resolution for a larger one.
func upgradeArtwork(artworkURL string) string {
	return strings.Replace(artworkURL, "100x100", "600x600", 1)
}

// securePreview normalizes preview URLs to https.
func securePreview(previewURL string) string {
	if strings.HasPrefix(previewURL, "http://") {
		return "https://" + strings.TrimPrefix(previewURL, "http://")
	}
	return previewURL
}
