// Package roomstate holds the locally materialized view of the chat room:
// remote messages and users merged with locally synthesized system messages,
// plus the per-bot conversation histories.
package roomstate

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tavernchat/tavern/pkg/textutil"
)

// SystemMessageIDBase is the first id used for locally synthesized messages.
// It sits far above any realistic remote auto-increment so the two id ranges
// never collide and the merged timeline stays sorted.
const SystemMessageIDBase uint64 = 1_000_000_000

// systemLogCap bounds the synthetic message log; oldest entries drop first.
const systemLogCap = 200

// SystemSender is the sender identity stamped on synthetic messages.
const SystemSender = "System"

// Message mirrors a remote message row, or a locally synthesized entry when
// ID >= SystemMessageIDBase.
type Message struct {
	ID     uint64
	Sender string
	Text   string
	SentAt string
}

// User mirrors a remote user row. Identity is the stable key.
type User struct {
	Identity string
	Name     string
	Online   bool
}

// Role tags one conversation history turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryEntry is a single turn in a bot's bounded conversation history.
type HistoryEntry struct {
	Role    Role
	Content string
}

// Room is the mutable room view. It is only ever touched through State.
type Room struct {
	Messages       []Message
	Users          []User
	SystemMessages []Message
	Histories      map[string][]HistoryEntry
	MyIdentity     string
	Connected      bool
	UserScroll     int

	presenceInit bool
	nextSystemID uint64
}

// State wraps Room behind a single lock. Readers take cheap snapshot copies;
// writers run short closures under the lock.
type State struct {
	mu   sync.Mutex
	room Room
	log  zerolog.Logger
}

// NewState creates an empty room state.
func NewState(log zerolog.Logger) *State {
	return &State{
		room: Room{
			Histories:    make(map[string][]HistoryEntry),
			nextSystemID: SystemMessageIDBase,
		},
		log: log.With().Str("component", "roomstate").Logger(),
	}
}

// Snapshot returns a deep copy of the room for lock-free reading.
func (s *State) Snapshot() Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room.clone()
}

// Update runs fn against the room under the state lock.
func (s *State) Update(fn func(*Room)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.room)
}

func (r *Room) clone() Room {
	out := *r
	out.Messages = append([]Message(nil), r.Messages...)
	out.Users = append([]User(nil), r.Users...)
	out.SystemMessages = append([]Message(nil), r.SystemMessages...)
	out.Histories = make(map[string][]HistoryEntry, len(r.Histories))
	for name, history := range r.Histories {
		out.Histories[name] = append([]HistoryEntry(nil), history...)
	}
	return out
}

// DisplayName renders a user's preferred label: trimmed name when present,
// shortened identity otherwise.
func DisplayName(u User) string {
	if name := strings.TrimSpace(u.Name); name != "" {
		return name
	}
	return textutil.ShortIdentity(u.Identity)
}
