package roomstate

import (
	"fmt"
	"sort"
	"strings"
)

// ApplySnapshot merges a raw remote table snapshot into the room. It sorts
// the incoming rows, diffs presence against the previous user set, appends
// synthetic connect/disconnect notices, and rebuilds the merged timeline.
// Everything happens under one critical section so concurrent readers never
// observe a half-merged view.
func (s *State) ApplySnapshot(users []User, messages []Message) {
	sorted := append([]Message(nil), messages...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	sortedUsers := append([]User(nil), users...)
	sort.Slice(sortedUsers, func(i, j int) bool {
		if sortedUsers[i].Online != sortedUsers[j].Online {
			return sortedUsers[i].Online
		}
		return strings.ToLower(sortedUsers[i].Name) < strings.ToLower(sortedUsers[j].Name)
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.room.presenceInit {
		s.diffPresenceLocked(sortedUsers)
	} else {
		// First snapshot: everyone already in the room would otherwise show
		// up as a connect storm. Just arm the diff for next time.
		s.room.presenceInit = true
	}

	s.room.Users = sortedUsers
	s.room.Messages = mergeTimeline(sorted, s.room.SystemMessages)

	if n := len(s.room.Users); s.room.UserScroll >= n {
		if n == 0 {
			s.room.UserScroll = 0
		} else {
			s.room.UserScroll = n - 1
		}
	}
}

func (s *State) diffPresenceLocked(current []User) {
	previous := make(map[string]bool, len(s.room.Users))
	for _, u := range s.room.Users {
		previous[u.Identity] = u.Online
	}

	for _, u := range current {
		was := previous[u.Identity]
		switch {
		case u.Online && !was:
			s.appendSystemLocked(SystemSender, fmt.Sprintf("%s connected", DisplayName(u)))
		case !u.Online && was:
			s.appendSystemLocked(SystemSender, fmt.Sprintf("%s disconnected", DisplayName(u)))
		}
	}
}

// AddSystemMessage appends a locally synthesized entry (presence notice,
// error notice) and rebuilds the merged timeline.
func (s *State) AddSystemMessage(sender, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendSystemLocked(sender, text)
	remote := make([]Message, 0, len(s.room.Messages))
	for _, m := range s.room.Messages {
		if m.ID < SystemMessageIDBase {
			remote = append(remote, m)
		}
	}
	s.room.Messages = mergeTimeline(remote, s.room.SystemMessages)
}

func (s *State) appendSystemLocked(sender, text string) {
	msg := Message{
		ID:     s.room.nextSystemID,
		Sender: sender,
		Text:   text,
	}
	s.room.nextSystemID++
	s.room.SystemMessages = append(s.room.SystemMessages, msg)
	if over := len(s.room.SystemMessages) - systemLogCap; over > 0 {
		s.room.SystemMessages = s.room.SystemMessages[over:]
	}
	s.log.Debug().Str("sender", sender).Str("text", text).Msg("Synthetic message appended")
}

// mergeTimeline interleaves remote and synthetic messages into one id-sorted
// timeline. Both inputs are already sorted, so a merge walk is enough.
func mergeTimeline(remote, synthetic []Message) []Message {
	merged := make([]Message, 0, len(remote)+len(synthetic))
	merged = append(merged, remote...)
	merged = append(merged, synthetic...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	return merged
}
