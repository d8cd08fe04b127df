package scheduler

import (
	"strings"
	"testing"
	"time"

	"github.com/tavernchat/tavern/pkg/genai"
	"github.com/tavernchat/tavern/pkg/roomstate"
)

func proactiveConfig() Config {
	return Config{
		ProactiveChance:       1.0,
		ProactiveCooldownSecs: 5,
		ProactiveIdleSecs:     3,
	}
}

func TestProactive_StartsConversationWhenIdle(t *testing.T) {
	fx := newFixture(t, proactiveConfig(), "Aelric", "Branna")
	fx.requester.echo = false
	users := onlineUsers(fx)

	fx.sched.Tick(roomWith(users))
	fx.clock.advance(10 * time.Second)
	fx.sched.Tick(roomWith(users))

	if len(fx.requester.requests) != 1 {
		t.Fatalf("Expected 1 proactive dispatch, got %d", len(fx.requester.requests))
	}
	req := fx.requester.requests[0]
	other := "Branna"
	if req.Bot.Name == "Branna" {
		other = "Aelric"
	}
	if !strings.Contains(req.Text, other) {
		t.Errorf("Opening prompt should target the other bot, got %q", req.Text)
	}
	if !strings.Contains(req.Text, "ONE short") {
		t.Errorf("Expected opening-prompt shape, got %q", req.Text)
	}
}

func TestProactive_CooldownBlocksImmediateRetry(t *testing.T) {
	fx := newFixture(t, proactiveConfig(), "Aelric", "Branna")
	fx.requester.echo = false
	users := onlineUsers(fx)

	fx.sched.Tick(roomWith(users))
	fx.clock.advance(10 * time.Second)
	fx.sched.Tick(roomWith(users))
	if len(fx.requester.requests) != 1 {
		t.Fatalf("Expected first proactive dispatch, got %d", len(fx.requester.requests))
	}

	// Within cooldown and with the idle clock reset, nothing new fires.
	fx.clock.advance(time.Second)
	fx.sched.Tick(roomWith(users))
	if len(fx.requester.requests) != 1 {
		t.Errorf("Expected cooldown to block, got %d dispatches", len(fx.requester.requests))
	}
}

func TestProactive_PendingRepliesBlockStart(t *testing.T) {
	fx := newFixture(t, proactiveConfig(), "Aelric", "Branna")
	fx.requester.echo = false
	fx.runtimes[0].SetOnline(false)
	fx.requester.replies <- genai.GeneratedReply{BotName: "Aelric", Text: "stuck"}
	users := onlineUsers(fx)

	fx.sched.Tick(roomWith(users))
	fx.clock.advance(10 * time.Second)
	fx.sched.Tick(roomWith(users))

	if len(fx.requester.requests) != 0 {
		t.Errorf("Expected pending reply to block proactive start, got %d", len(fx.requester.requests))
	}
}

func TestProactive_RecentActivityBlocksStart(t *testing.T) {
	fx := newFixture(t, proactiveConfig(), "Aelric", "Branna")
	fx.requester.echo = false
	users := onlineUsers(fx, "id_rafael")

	fx.sched.Tick(roomWith(users))
	fx.clock.advance(10 * time.Second)

	// Fresh human message resets the idle clock in the same tick, so even
	// though the cooldown has elapsed the room is not idle.
	fx.sched.Tick(roomWith(users, roomstate.Message{ID: 1, Sender: "id_rafael", Text: "still here"}))

	for _, req := range fx.requester.requests {
		if strings.Contains(req.Text, "ONE short") {
			t.Errorf("Proactive opener fired during active chat: %q", req.Text)
		}
	}
}

func TestProactive_NeedsTwoOnlineBots(t *testing.T) {
	fx := newFixture(t, proactiveConfig(), "Aelric", "Branna")
	fx.requester.echo = false
	fx.runtimes[1].SetOnline(false)
	users := onlineUsers(fx)

	fx.sched.Tick(roomWith(users))
	fx.clock.advance(10 * time.Second)
	fx.sched.Tick(roomWith(users))

	if len(fx.requester.requests) != 0 {
		t.Errorf("Expected no proactive start with one bot online, got %d", len(fx.requester.requests))
	}
}
