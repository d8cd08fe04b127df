package scheduler

import "fmt"

// proactiveTopics seeds bot-initiated conversations during idle stretches.
var proactiveTopics = []string{
	"the tavern food",
	"rain over the kingdom",
	"quest rumors",
	"new gear",
	"traveling music",
	"gossip from the city",
	"potion prices",
	"the funny story of the day",
}

// maybeStartProactiveChat manufactures a bot-to-bot opener when the room has
// gone quiet: at least two bots online, no replies still pending, cooldown
// and idle window elapsed, plus a final probability gate.
func (s *Scheduler) maybeStartProactiveChat(onlineHumanCount int) {
	if len(s.bots) < 2 {
		return
	}
	if s.anyPendingReplies() {
		return
	}

	now := s.now()
	if now.Sub(s.lastProactive) < s.cfg.ProactiveCooldown() {
		return
	}
	s.lastProactive = now

	if now.Sub(s.lastActivity) < s.cfg.ProactiveIdle() {
		return
	}
	if s.rng.Float64() >= s.cfg.ProactiveChance {
		return
	}

	var online []*BotRuntime
	for _, rt := range s.bots {
		if rt.Online() {
			online = append(online, rt)
		}
	}
	if len(online) < 2 {
		return
	}

	s.rng.Shuffle(len(online), func(i, j int) {
		online[i], online[j] = online[j], online[i]
	})
	starter, target := online[0], online[1]
	opening := s.proactiveOpeningPrompt(target.Profile.Name, onlineHumanCount > 0)

	s.log.Debug().
		Str("starter", starter.Profile.Name).
		Str("target", target.Profile.Name).
		Msg("Starting proactive conversation")
	s.pipeline.Request(starter.Profile, opening)
	// Seeding a conversation counts as activity, resetting the idle clock.
	s.lastActivity = now
}

func (s *Scheduler) proactiveOpeningPrompt(targetName string, hasHumansOnline bool) string {
	topic := proactiveTopics[s.rng.Intn(len(proactiveTopics))]

	if hasHumansOnline {
		return fmt.Sprintf(
			"Write ONE short casual message to %s about %s. "+
				"Friendly group-chat tone, no formal greeting and no offering help.",
			targetName, topic)
	}
	return fmt.Sprintf(
		"Write ONE short message striking up a chat with %s about %s. "+
			"Just light talk between characters, no assistant speak.",
		targetName, topic)
}
