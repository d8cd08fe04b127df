package genai

import (
	"fmt"
	"strings"

	"github.com/tavernchat/tavern/pkg/bots"
	"github.com/tavernchat/tavern/pkg/roomstate"
	"github.com/tavernchat/tavern/pkg/textutil"
)

const (
	// DefaultMaxContextMessages is the recent-message window injected into
	// the contextual prompt.
	DefaultMaxContextMessages = 16
	// DefaultMaxContextMessageLen caps each message before prompt injection.
	DefaultMaxContextMessageLen = 320
)

// BaseSystemPrompt is the behavior prompt shared by every bot.
const BaseSystemPrompt = "You are a real person taking part in this chat. " +
	"Reply naturally, short and direct, like everyday conversation. " +
	"Use at most 2 short sentences. " +
	"Match the tone of the conversation, no canned speeches and no catchphrases. " +
	"Avoid opening every message with a greeting and avoid repeating the other person's name in every message. " +
	"No self-introductions, no message of the day, no narrating. " +
	"Don't offer help out of nowhere; only help when asked directly. " +
	"Avoid exaggerated formality (e.g. \"a pleasure\", \"at your disposal\", \"let's schedule a meeting\"). " +
	"No theatrical, mystical, flowery or lecture-like language. " +
	"Never say you are an AI, a model or a virtual assistant. " +
	"Avoid repeating the user's question and avoid rehashing a topic with nothing new."

// PromptContext is the room digest injected into the prompt.
type PromptContext struct {
	RequesterIdentity string
	RequesterName     string
	OnlineUsers       []string
	RecentMessages    []string
}

// BuildPromptContext extracts the pieces of room state useful for a
// context-aware reply: who asked, who is online, and the recent transcript
// restricted to currently-online senders.
func BuildPromptContext(room *roomstate.Room, maxMessages, maxMessageLen int) PromptContext {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxContextMessages
	}
	if maxMessageLen <= 0 {
		maxMessageLen = DefaultMaxContextMessageLen
	}

	namesByIdentity := make(map[string]string, len(room.Users))
	onlineIdentities := make(map[string]bool, len(room.Users))
	for _, u := range room.Users {
		namesByIdentity[u.Identity] = u.Name
		if u.Online {
			onlineIdentities[u.Identity] = true
		}
	}

	resolveName := func(identity string) string {
		if name := strings.TrimSpace(namesByIdentity[identity]); name != "" {
			return name
		}
		return textutil.ShortIdentity(identity)
	}

	ctx := PromptContext{
		RequesterIdentity: room.MyIdentity,
		RequesterName:     resolveName(room.MyIdentity),
	}

	for _, u := range room.Users {
		if !u.Online {
			continue
		}
		ctx.OnlineUsers = append(ctx.OnlineUsers,
			fmt.Sprintf("%s (%s)", roomstate.DisplayName(u), textutil.ShortIdentity(u.Identity)))
	}

	// Walk the timeline backwards so the window holds the newest messages,
	// then flip it back to chronological order.
	var recent []string
	for i := len(room.Messages) - 1; i >= 0 && len(recent) < maxMessages; i-- {
		m := room.Messages[i]
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		if m.Sender != roomstate.SystemSender && !onlineIdentities[m.Sender] {
			continue
		}
		sender := resolveName(m.Sender)
		text := textutil.TruncateForContext(m.Text, maxMessageLen)
		if sentAt := strings.TrimSpace(m.SentAt); sentAt != "" {
			recent = append(recent, fmt.Sprintf("[%s] %s: %s", sentAt, sender, text))
		} else {
			recent = append(recent, fmt.Sprintf("%s: %s", sender, text))
		}
	}
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	ctx.RecentMessages = recent

	return ctx
}

// ContextSystemPrompt renders the room digest as a system prompt.
func ContextSystemPrompt(ctx PromptContext) string {
	onlineUsers := "none"
	if len(ctx.OnlineUsers) > 0 {
		onlineUsers = strings.Join(ctx.OnlineUsers, ", ")
	}
	recentMessages := "none"
	if len(ctx.RecentMessages) > 0 {
		recentMessages = strings.Join(ctx.RecentMessages, "\n")
	}

	return fmt.Sprintf(
		"Current chat context:\n- User who called you: %s (%s)\n- Online users: %s\n- Recent chat messages (chronological order):\n%s\nFocus only on who is online right now and do not strike up conversation with offline users.\nUse this context to reply coherently.",
		ctx.RequesterName, ctx.RequesterIdentity, onlineUsers, recentMessages)
}

// RoleplayPrompt renders the persona prompt for a bot profile.
func RoleplayPrompt(bot bots.Profile) string {
	return fmt.Sprintf(
		"Your name in this chat is %s and your fantasy profession is %s. %s "+
			"You are just one more person in the chat, not a guide, tutor or attendant. "+
			"Bring that flavor in lightly, without playing a caricature. "+
			"Keep replies short and natural.",
		bot.Name, bot.Profession, bots.RoleplayStyle(bot.Profession))
}
