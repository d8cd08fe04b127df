// Package scheduler decides, per observed message, which bot (if any)
// responds, throttles bot-to-bot chains, starts proactive conversations
// during idle stretches, and delivers finished replies in per-bot FIFO order.
package scheduler

import (
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tavernchat/tavern/pkg/bots"
	"github.com/tavernchat/tavern/pkg/genai"
	"github.com/tavernchat/tavern/pkg/roomstate"
)

// Config carries the scheduler's tunable heuristics.
type Config struct {
	// MaxAIChain is the run length of consecutive bot messages after which
	// no bot responds to a bot-authored message.
	MaxAIChain int `yaml:"max_ai_chain"`
	// AIReplyChanceIdle applies when no human is online.
	AIReplyChanceIdle float64 `yaml:"ai_reply_chance_idle"`
	// AIReplyChanceWithHumans applies when at least one human is online.
	AIReplyChanceWithHumans float64 `yaml:"ai_reply_chance_with_humans"`

	ProactiveCooldownSecs int     `yaml:"proactive_cooldown_secs"`
	ProactiveIdleSecs     int     `yaml:"proactive_idle_secs"`
	ProactiveChance       float64 `yaml:"proactive_chance"`
}

// WithDefaults fills zero values with the tuned defaults.
func (c Config) WithDefaults() Config {
	if c.MaxAIChain <= 0 {
		c.MaxAIChain = 5
	}
	if c.AIReplyChanceIdle == 0 {
		c.AIReplyChanceIdle = 0.22
	}
	if c.AIReplyChanceWithHumans == 0 {
		c.AIReplyChanceWithHumans = 0.06
	}
	if c.ProactiveCooldownSecs == 0 {
		c.ProactiveCooldownSecs = 18
	}
	if c.ProactiveIdleSecs == 0 {
		c.ProactiveIdleSecs = 8
	}
	if c.ProactiveChance == 0 {
		c.ProactiveChance = 0.45
	}
	return c
}

// ProactiveCooldown is the minimum spacing between proactive attempts.
func (c Config) ProactiveCooldown() time.Duration {
	return time.Duration(c.ProactiveCooldownSecs) * time.Second
}

// ProactiveIdle is the quiet window required before a proactive start.
func (c Config) ProactiveIdle() time.Duration {
	return time.Duration(c.ProactiveIdleSecs) * time.Second
}

// ReplyRequester dispatches asynchronous reply generation for a bot.
type ReplyRequester interface {
	Request(bot bots.Profile, incomingText string)
}

// Scheduler runs once per main-loop tick against the latest room snapshot.
// It is not goroutine safe; the single cooperative loop owns it.
type Scheduler struct {
	bots     []*BotRuntime
	pipeline ReplyRequester
	replies  <-chan genai.GeneratedReply
	cfg      Config
	rng      *rand.Rand
	now      func() time.Time
	log      zerolog.Logger

	pending map[string][]string

	initialized   bool
	lastSeenID    uint64
	consecutiveAI int
	lastActivity  time.Time
	lastProactive time.Time
}

// New builds a scheduler. rng and now are injectable so responder selection
// and proactive gating are deterministically testable.
func New(runtimes []*BotRuntime, pipeline ReplyRequester, replies <-chan genai.GeneratedReply, cfg Config, rng *rand.Rand, now func() time.Time, log zerolog.Logger) *Scheduler {
	if now == nil {
		now = time.Now
	}
	pending := make(map[string][]string, len(runtimes))
	for _, rt := range runtimes {
		pending[rt.Profile.Name] = nil
	}
	return &Scheduler{
		bots:          runtimes,
		pipeline:      pipeline,
		replies:       replies,
		cfg:           cfg.WithDefaults(),
		rng:           rng,
		now:           now,
		log:           log.With().Str("component", "scheduler").Logger(),
		pending:       pending,
		lastActivity:  now(),
		lastProactive: now(),
	}
}

// Tick runs one scheduler pass: drain finished replies into the per-bot
// queues, deliver what can be delivered, inspect new messages, and maybe
// start a proactive conversation.
func (s *Scheduler) Tick(room roomstate.Room) {
	s.drainReplies()
	s.deliverPending()

	botIdentities := s.botIdentitySet()

	onlineHumans := make(map[string]bool)
	for _, u := range room.Users {
		if u.Online && !botIdentities[u.Identity] {
			onlineHumans[u.Identity] = true
		}
	}

	if !s.initialized {
		// First tick: never retroactively trigger on pre-existing history.
		for _, m := range room.Messages {
			if m.ID < roomstate.SystemMessageIDBase && m.ID > s.lastSeenID {
				s.lastSeenID = m.ID
			}
		}
		s.initialized = true
		return
	}

	for _, msg := range room.Messages {
		if msg.ID <= s.lastSeenID || msg.ID >= roomstate.SystemMessageIDBase {
			continue
		}
		s.lastSeenID = msg.ID
		if strings.TrimSpace(msg.Text) == "" {
			continue
		}

		senderIsAI := botIdentities[msg.Sender]
		if !senderIsAI && !onlineHumans[msg.Sender] {
			// Stale or offline sender; not a live conversation trigger.
			continue
		}
		s.lastActivity = s.now()

		if senderIsAI {
			s.consecutiveAI++
		} else {
			s.consecutiveAI = 0
		}

		responder := s.findDirectedBot(msg.Sender, msg.Text)
		if responder == nil {
			responder = s.chooseResponder(msg.Sender, senderIsAI, botIdentities, len(onlineHumans))
		}
		if responder != nil {
			s.log.Debug().
				Str("bot", responder.Profile.Name).
				Uint64("message_id", msg.ID).
				Msg("Dispatching reply generation")
			s.pipeline.Request(responder.Profile, msg.Text)
		}
	}

	s.maybeStartProactiveChat(len(onlineHumans))
}

func (s *Scheduler) botIdentitySet() map[string]bool {
	identities := make(map[string]bool, len(s.bots))
	for _, rt := range s.bots {
		if id := rt.Identity(); id != "" {
			identities[id] = true
		}
	}
	return identities
}

// findDirectedBot returns the first online bot whose name appears in the
// message text (case-insensitive), excluding the sender bot itself.
// A directed mention always fires, bypassing the probability gates.
func (s *Scheduler) findDirectedBot(senderIdentity, text string) *BotRuntime {
	lowered := strings.ToLower(text)
	for _, rt := range s.bots {
		if !rt.Online() {
			continue
		}
		if id := rt.Identity(); id != "" && id == senderIdentity {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(rt.Profile.Name)) {
			return rt
		}
	}
	return nil
}

func (s *Scheduler) chooseResponder(senderIdentity string, senderIsAI bool, botIdentities map[string]bool, onlineHumanCount int) *BotRuntime {
	var candidates []*BotRuntime
	for _, rt := range s.bots {
		if rt.Online() {
			candidates = append(candidates, rt)
		}
	}

	if senderIsAI {
		if s.consecutiveAI >= s.cfg.MaxAIChain {
			return nil
		}
		chance := s.cfg.AIReplyChanceIdle
		if onlineHumanCount > 0 {
			chance = s.cfg.AIReplyChanceWithHumans
		}
		if s.rng.Float64() >= chance {
			return nil
		}
		filtered := candidates[:0]
		for _, rt := range candidates {
			if id := rt.Identity(); id != "" && id == senderIdentity {
				continue
			}
			filtered = append(filtered, rt)
		}
		candidates = filtered
	} else if senderIdentity == roomstate.SystemSender || botIdentities[senderIdentity] {
		return nil
	}

	if len(candidates) == 0 {
		return nil
	}
	return candidates[s.rng.Intn(len(candidates))]
}
