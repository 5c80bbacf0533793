package challenge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tunetrivia/internal/catalog"
)

// pickInstructions is the fixed instruction template sent with every
// generation request. The model must answer with bare JSON matching the
// three-field schema; anything else trips the fallback path.
const pickInstructions = `You are the host of a music trivia game.
The player is listening to a short audio snippet from the album %q by %s.
From the track list below, pick exactly one track as the correct answer and
three different tracks from the same list as plausible wrong answers, plus a
one-sentence description of the correct track's mood that does not name it.
Difficulty: %s.

Respond with JSON only, exactly this shape:
{"correctTrackName": "...", "wrongTrackNames": ["...", "...", "..."], "vibeDescription": "..."}

Track list:
%s`

// Config contains configuration for the AI generator.
type Config struct {
	BaseURL     string
	APIKeys     []string
	Model       string
	MaxTokens   int
	Temperature float64
}

// OpenAIGenerator produces challenges through an OpenAI-compatible
// chat-completions endpoint, degrading to local random selection whenever the
// provider misbehaves for any reason other than quota exhaustion.
type OpenAIGenerator struct {
	cfg        Config
	httpClient *http.Client

	mu       sync.Mutex
	keyIndex int
}

// NewOpenAIGenerator creates a generator. At least one API key is expected;
// with none configured every call takes the fallback path.
func NewOpenAIGenerator(cfg Config) *OpenAIGenerator {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}
	return &OpenAIGenerator{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// RotateKey advances to the next configured API key. This is the backend half
// of the user's key-reselection action after a quota error.
func (g *OpenAIGenerator) RotateKey() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.cfg.APIKeys) > 1 {
		g.keyIndex = (g.keyIndex + 1) % len(g.cfg.APIKeys)
	}
}

func (g *OpenAIGenerator) currentKey() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.cfg.APIKeys) == 0 {
		return ""
	}
	return g.cfg.APIKeys[g.keyIndex]
}

// Generate asks the AI to pick a round from the given playable tracks.
// tracks must be non-empty; the game guards this before calling.
func (g *OpenAIGenerator) Generate(ctx context.Context, album catalog.Album, tracks []catalog.Track, difficulty string) (Challenge, error) {
	pick, err := g.requestPick(ctx, album, tracks, difficulty)
	if err != nil {
		if isQuotaError(err) {
			return Challenge{}, fmt.Errorf("%w: %s", ErrQuotaExhausted, err)
		}
		log.Warn().Err(err).
			Str("album_id", album.ID).
			Msg("ai challenge failed, using random fallback")
		return Fallback(album, tracks), nil
	}

	correct, ok := trackByName(tracks, pick.CorrectTrackName)
	if !ok {
		correct = tracks[0]
	}

	// Resolve wrong names against the real track list, keeping the options
	// distinct. Hallucinated names are replaced by unused tracks.
	used := map[string]struct{}{correct.ID: {}}
	wrongs := make([]catalog.Track, 0, len(pick.WrongTrackNames))
	for _, name := range pick.WrongTrackNames {
		w, ok := trackByName(tracks, name)
		if ok {
			if _, dup := used[w.ID]; dup {
				ok = false
			}
		}
		if !ok {
			w, ok = unusedTrack(tracks, used)
			if !ok {
				break
			}
		}
		used[w.ID] = struct{}{}
		wrongs = append(wrongs, w)
	}

	return Challenge{
		Correct: correct,
		Options: assemble(correct, wrongs),
		Vibe:    pick.VibeDescription,
	}, nil
}

// Fallback builds a challenge from uniform randomness alone. It never fails
// as long as at least one track is supplied.
func Fallback(album catalog.Album, tracks []catalog.Track) Challenge {
	shuffled := make([]catalog.Track, len(tracks))
	copy(shuffled, tracks)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	correct := shuffled[0]
	wrongs := shuffled[1:]
	if len(wrongs) > 3 {
		wrongs = wrongs[:3]
	}

	return Challenge{
		Correct: correct,
		Options: assemble(correct, wrongs),
		Vibe:    fmt.Sprintf("A standout moment from %s by %s.", album.Name, album.Artist),
	}
}

// aiPick is the structured result the model is asked to return.
type aiPick struct {
	CorrectTrackName string   `json:"correctTrackName"`
	WrongTrackNames  []string `json:"wrongTrackNames"`
	VibeDescription  string   `json:"vibeDescription"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// apiError carries the provider's status code for quota classification.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("ai api returned status %d: %s", e.status, e.body)
}

func isQuotaError(err error) bool {
	var ae *apiError
	if errors.As(err, &ae) && ae.status == http.StatusTooManyRequests {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "quota")
}

func (g *OpenAIGenerator) requestPick(ctx context.Context, album catalog.Album, tracks []catalog.Track, difficulty string) (*aiPick, error) {
	names := make([]string, len(tracks))
	for i, t := range tracks {
		names[i] = t.Name
	}

	prompt := fmt.Sprintf(pickInstructions, album.Name, album.Artist, difficulty, strings.Join(names, "\n"))

	reqBody := chatRequest{
		Model: g.cfg.Model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", g.cfg.BaseURL+"/chat/completions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.currentKey())

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &apiError{status: resp.StatusCode, body: string(body)}
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	var pick aiPick
	content := stripFences(chatResp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &pick); err != nil {
		return nil, fmt.Errorf("parse pick: %w", err)
	}
	if pick.CorrectTrackName == "" {
		return nil, fmt.Errorf("pick missing correct track name")
	}

	return &pick, nil
}

// stripFences removes a surrounding markdown code fence, which some models
// add despite the JSON-only instruction.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

// unusedTrack picks a random track not yet in the option set.
func unusedTrack(tracks []catalog.Track, used map[string]struct{}) (catalog.Track, bool) {
	candidates := make([]catalog.Track, 0, len(tracks))
	for _, t := range tracks {
		if _, ok := used[t.ID]; !ok {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return catalog.Track{}, false
	}
	return candidates[rand.Intn(len(candidates))], true
}

func trackByName(tracks []catalog.Track, name string) (catalog.Track, bool) {
	for _, t := range tracks {
		if t.Name == name {
			return t, true
		}
	}
	return catalog.Track{}, false
}
