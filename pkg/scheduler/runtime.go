package scheduler

import (
	"sync"
	"sync/atomic"

	"github.com/tavernchat/tavern/pkg/bots"
)

// BotSender is the remote "send message as this bot" operation.
type BotSender interface {
	SendMessage(text string) error
}

// BotRuntime is the per-bot runtime shared between the scheduler and that
// bot's connection lifecycle callbacks. The online flag and connection
// identity are mutated only by the bot's own callbacks.
type BotRuntime struct {
	Profile bots.Profile
	Conn    BotSender

	online   atomic.Bool
	idMu     sync.Mutex
	identity string
}

// NewBotRuntime wires a runtime for one configured bot.
func NewBotRuntime(profile bots.Profile, conn BotSender) *BotRuntime {
	return &BotRuntime{Profile: profile, Conn: conn}
}

// SetOnline records the bot's connection state. Called from the bot's
// connect/disconnect callbacks.
func (b *BotRuntime) SetOnline(online bool) {
	b.online.Store(online)
}

// Online reports whether the bot's connection is currently up.
func (b *BotRuntime) Online() bool {
	return b.online.Load()
}

// SetIdentity records the identity assigned by the remote store after the
// bot's connect handshake. Empty clears it.
func (b *BotRuntime) SetIdentity(identity string) {
	b.idMu.Lock()
	defer b.idMu.Unlock()
	b.identity = identity
}

// Identity returns the bot's connection identity, or "" before the handshake.
func (b *BotRuntime) Identity() string {
	b.idMu.Lock()
	defer b.idMu.Unlock()
	return b.identity
}
