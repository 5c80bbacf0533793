package game

import "sync"

// RelayPlayer is the AudioPlayer used behind the HTTP surface: the actual
// audio element lives in the browser, so this player only tracks what the
// session wants playing. The browser reads the desired playback from the
// snapshot and reports failures back through the playback intents.
type RelayPlayer struct {
	mu      sync.Mutex
	url     string
	playing bool
}

// NewRelayPlayer returns an idle relay player.
func NewRelayPlayer() *RelayPlayer {
	return &RelayPlayer{}
}

// Play records the URL as the live playback handle. It never fails; load
// failures in the browser arrive later via Session.PlaybackFailed.
func (p *RelayPlayer) Play(url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	p.playing = true
	return nil
}

func (p *RelayPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
}

func (p *RelayPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = ""
	p.playing = false
}

// Current reports the live handle, if any.
func (p *RelayPlayer) Current() (url string, playing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, p.playing
}
