package challenge

import (
	"errors"
	"math/rand"

	"tunetrivia/internal/catalog"
)

// ErrQuotaExhausted signals the AI provider rejected the call for quota or
// rate-limit reasons. It is the only generator failure that reaches the game;
// every other failure degrades to the local random fallback.
var ErrQuotaExhausted = errors.New("ai quota exhausted")

// Challenge is one round's question material: the track the player must
// recognize, up to four answer options containing it exactly once, and a
// one-sentence mood description of the snippet.
type Challenge struct {
	Correct catalog.Track   `json:"correct"`
	Options []catalog.Track `json:"options"`
	Vibe    string          `json:"vibe"`
}

// assemble builds the shuffled option list from a correct track and wrong
// picks, truncated to four entries with the correct track always included.
func assemble(correct catalog.Track, wrongs []catalog.Track) []catalog.Track {
	options := make([]catalog.Track, 0, 4)
	options = append(options, correct)
	for _, w := range wrongs {
		if len(options) == 4 {
			break
		}
		options = append(options, w)
	}
	rand.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})
	return options
}
