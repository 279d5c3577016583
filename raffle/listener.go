package raffle

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/onnwee/shoutout-companion/chat"
)

// Listener enters chat senders whose message contains the trigger phrase.
type Listener struct {
	Store *Store
	// TwitchChannel is the channel whose chat counts; empty ignores Twitch chat.
	TwitchChannel string
	// YouTube accepts entries from YouTube live chat.
	YouTube bool

	mu      sync.RWMutex
	trigger string
}

// NewListener returns a listener for the given trigger phrase.
func NewListener(store *Store, trigger string) *Listener {
	l := &Listener{Store: store}
	l.SetTrigger(trigger)
	return l
}

// SetTrigger replaces the trigger phrase. An empty phrase disables entries.
func (l *Listener) SetTrigger(trigger string) {
	l.mu.Lock()
	l.trigger = strings.ToLower(strings.TrimSpace(trigger))
	l.mu.Unlock()
}

func (l *Listener) Trigger() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.trigger
}

// HandleMessage enters the sender when the message belongs to a configured
// channel and contains the trigger. Anything else is silently ignored.
func (l *Listener) HandleMessage(m chat.Message) {
	if l == nil || l.Store == nil || !l.inContext(m) {
		return
	}
	trigger := l.Trigger()
	if trigger == "" || !strings.Contains(strings.ToLower(m.Text), trigger) {
		return
	}
	if l.Store.Enter(m.User) {
		slog.Debug("raffle entry", slog.String("platform", string(m.Platform)), slog.String("user", m.User))
	}
}

func (l *Listener) inContext(m chat.Message) bool {
	switch m.Platform {
	case chat.PlatformTwitch:
		ch := strings.TrimPrefix(strings.ToLower(l.TwitchChannel), "#")
		return ch != "" && strings.EqualFold(strings.TrimPrefix(m.Channel, "#"), ch)
	case chat.PlatformYouTube:
		return l.YouTube
	default:
		return false
	}
}
