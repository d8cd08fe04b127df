package scheduler

// drainReplies moves finished replies from the pipeline channel into the
// per-bot pending queues without blocking the loop.
func (s *Scheduler) drainReplies() {
	for {
		select {
		case reply, ok := <-s.replies:
			if !ok {
				return
			}
			if _, known := s.pending[reply.BotName]; !known {
				s.log.Warn().Str("bot", reply.BotName).Msg("Reply for unknown bot dropped")
				continue
			}
			s.pending[reply.BotName] = append(s.pending[reply.BotName], reply.Text)
		default:
			return
		}
	}
}

// deliverPending drains each online bot's queue head-first. A failed send
// stops that bot's drain for this tick; the reply stays at the head and is
// retried next tick, so delivery is per-bot FIFO and nothing is dropped.
func (s *Scheduler) deliverPending() {
	for _, rt := range s.bots {
		if !rt.Online() {
			continue
		}
		queue := s.pending[rt.Profile.Name]
		for len(queue) > 0 {
			if err := rt.Conn.SendMessage(queue[0]); err != nil {
				s.log.Warn().Err(err).Str("bot", rt.Profile.Name).Msg("Send failed, retrying next tick")
				break
			}
			queue = queue[1:]
		}
		s.pending[rt.Profile.Name] = queue
	}
}

// PendingCount reports how many replies are queued for a bot.
func (s *Scheduler) PendingCount(botName string) int {
	return len(s.pending[botName])
}

func (s *Scheduler) anyPendingReplies() bool {
	for _, queue := range s.pending {
		if len(queue) > 0 {
			return true
		}
	}
	return false
}
