package scheduler

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tavernchat/tavern/pkg/bots"
	"github.com/tavernchat/tavern/pkg/genai"
	"github.com/tavernchat/tavern/pkg/roomstate"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	fail bool
}

func (f *fakeSender) SendMessage(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSender) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// fakeRequester records dispatches and can synthesize finished replies onto
// the scheduler's reply channel, standing in for the real pipeline.
type fakeRequester struct {
	requests []struct {
		Bot  bots.Profile
		Text string
	}
	replies chan genai.GeneratedReply
	echo    bool
}

func (f *fakeRequester) Request(bot bots.Profile, text string) {
	f.requests = append(f.requests, struct {
		Bot  bots.Profile
		Text string
	}{bot, text})
	if f.echo {
		f.replies <- genai.GeneratedReply{BotName: bot.Name, Text: "reply to: " + text}
	}
}

type fixture struct {
	sched     *Scheduler
	requester *fakeRequester
	runtimes  []*BotRuntime
	senders   []*fakeSender
	clock     *fakeClock
}

type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time { return c.current }

func (c *fakeClock) advance(d time.Duration) { c.current = c.current.Add(d) }

func newFixture(t *testing.T, cfg Config, botNames ...string) *fixture {
	t.Helper()
	replies := make(chan genai.GeneratedReply, 16)
	requester := &fakeRequester{replies: replies, echo: true}

	var runtimes []*BotRuntime
	var senders []*fakeSender
	for i, name := range botNames {
		sender := &fakeSender{}
		rt := NewBotRuntime(bots.Profile{Name: name, Profession: bots.Professions[i%len(bots.Professions)]}, sender)
		rt.SetIdentity("id_bot_" + name)
		rt.SetOnline(true)
		runtimes = append(runtimes, rt)
		senders = append(senders, sender)
	}

	clock := &fakeClock{current: time.Date(2026, 2, 12, 13, 0, 0, 0, time.UTC)}
	sched := New(runtimes, requester, replies, cfg, rand.New(rand.NewSource(42)), clock.now, zerolog.Nop())
	return &fixture{sched: sched, requester: requester, runtimes: runtimes, senders: senders, clock: clock}
}

func roomWith(users []roomstate.User, messages ...roomstate.Message) roomstate.Room {
	return roomstate.Room{Users: users, Messages: messages}
}

func onlineUsers(fx *fixture, humans ...string) []roomstate.User {
	var users []roomstate.User
	for _, h := range humans {
		users = append(users, roomstate.User{Identity: h, Name: h, Online: true})
	}
	for _, rt := range fx.runtimes {
		users = append(users, roomstate.User{Identity: rt.Identity(), Name: rt.Profile.Name, Online: true})
	}
	return users
}

func TestTick_FirstTickNeverTriggersOnExistingHistory(t *testing.T) {
	fx := newFixture(t, Config{}, "Ai")
	room := roomWith(onlineUsers(fx, "id_rafael"),
		roomstate.Message{ID: 1, Sender: "id_rafael", Text: "Oi"},
		roomstate.Message{ID: 2, Sender: "id_rafael", Text: "anyone there?"},
	)

	fx.sched.Tick(room)
	if len(fx.requester.requests) != 0 {
		t.Errorf("First tick must not dispatch, got %d requests", len(fx.requester.requests))
	}
}

func TestTick_HumanMessageSelectsSomeOnlineBot(t *testing.T) {
	fx := newFixture(t, Config{}, "Ai")
	users := onlineUsers(fx, "id_rafael")

	fx.sched.Tick(roomWith(users))
	fx.sched.Tick(roomWith(users, roomstate.Message{ID: 1, Sender: "id_rafael", Text: "Oi"}))

	if len(fx.requester.requests) != 1 {
		t.Fatalf("Expected 1 dispatch, got %d", len(fx.requester.requests))
	}
	if fx.requester.requests[0].Bot.Name != "Ai" {
		t.Errorf("Expected bot Ai selected, got %q", fx.requester.requests[0].Bot.Name)
	}
	if fx.requester.requests[0].Text != "Oi" {
		t.Errorf("Expected triggering text forwarded, got %q", fx.requester.requests[0].Text)
	}

	// Next tick drains the generated reply into the bot's queue and
	// delivers it through the bot's own connection.
	fx.sched.Tick(roomWith(users, roomstate.Message{ID: 1, Sender: "id_rafael", Text: "Oi"}))
	sent := fx.senders[0].sentMessages()
	if len(sent) != 1 || sent[0] != "reply to: Oi" {
		t.Errorf("Expected delivered reply, got %v", sent)
	}
}

func TestTick_DirectedMentionIsDeterministic(t *testing.T) {
	fx := newFixture(t, Config{}, "Aelric", "Branna", "Cedric")
	users := onlineUsers(fx, "id_rafael")

	fx.sched.Tick(roomWith(users))
	fx.sched.Tick(roomWith(users, roomstate.Message{ID: 1, Sender: "id_rafael", Text: "hey BRANNA, what do you think?"}))

	if len(fx.requester.requests) != 1 {
		t.Fatalf("Expected 1 dispatch, got %d", len(fx.requester.requests))
	}
	if got := fx.requester.requests[0].Bot.Name; got != "Branna" {
		t.Errorf("Expected directed mention to pick Branna, got %q", got)
	}
}

func TestTick_DirectedMentionExcludesSenderBot(t *testing.T) {
	fx := newFixture(t, Config{AIReplyChanceIdle: -1, AIReplyChanceWithHumans: -1}, "Aelric", "Branna")
	users := onlineUsers(fx)

	fx.sched.Tick(roomWith(users))
	// Aelric says his own name; the mention must not bounce back to him,
	// and with reply chances forced negative no probabilistic pick happens.
	fx.sched.Tick(roomWith(users, roomstate.Message{ID: 1, Sender: "id_bot_Aelric", Text: "Aelric is my name"}))

	if len(fx.requester.requests) != 0 {
		t.Errorf("Expected no dispatch, got %+v", fx.requester.requests)
	}
}

func TestTick_ChainCapBlocksBotToBotReplies(t *testing.T) {
	fx := newFixture(t, Config{MaxAIChain: 2, AIReplyChanceIdle: 1.0, AIReplyChanceWithHumans: 1.0}, "Aelric", "Branna")
	users := onlineUsers(fx)

	fx.sched.Tick(roomWith(users))

	// Three consecutive bot messages; the third crosses the cap.
	msgs := []roomstate.Message{
		{ID: 1, Sender: "id_bot_Aelric", Text: "one"},
		{ID: 2, Sender: "id_bot_Branna", Text: "two"},
		{ID: 3, Sender: "id_bot_Aelric", Text: "three"},
	}
	fx.sched.Tick(roomWith(users, msgs...))

	// Chance 1.0 means every trial under the cap succeeds: messages 1
	// dispatches (chain=1 < 2), messages 2 and 3 are at/over the cap.
	if len(fx.requester.requests) != 1 {
		t.Fatalf("Expected exactly 1 dispatch under chain cap, got %d", len(fx.requester.requests))
	}
}

func TestTick_HumanMessageResetsChain(t *testing.T) {
	fx := newFixture(t, Config{MaxAIChain: 2, AIReplyChanceIdle: 1.0, AIReplyChanceWithHumans: 1.0}, "Aelric", "Branna")
	users := onlineUsers(fx, "id_rafael")

	fx.sched.Tick(roomWith(users))
	fx.sched.Tick(roomWith(users,
		roomstate.Message{ID: 1, Sender: "id_bot_Aelric", Text: "one"},
		roomstate.Message{ID: 2, Sender: "id_rafael", Text: "humans talking"},
		roomstate.Message{ID: 3, Sender: "id_bot_Branna", Text: "two"},
	))

	// Message 1: chain=1, dispatch. Message 2: human, chain reset, dispatch.
	// Message 3: chain=1 again, dispatch.
	if len(fx.requester.requests) != 3 {
		t.Errorf("Expected 3 dispatches after chain reset, got %d", len(fx.requester.requests))
	}
}

func TestTick_IgnoresSystemAndOfflineSenders(t *testing.T) {
	fx := newFixture(t, Config{}, "Ai")
	users := append(onlineUsers(fx, "id_rafael"),
		roomstate.User{Identity: "id_ghost", Name: "Ghost", Online: false})

	fx.sched.Tick(roomWith(users))
	fx.sched.Tick(roomWith(users,
		roomstate.Message{ID: 1, Sender: roomstate.SystemSender, Text: "maintenance"},
		roomstate.Message{ID: 2, Sender: "id_ghost", Text: "from the past"},
		roomstate.Message{ID: 3, Sender: "id_unknown", Text: "who am I"},
	))

	if len(fx.requester.requests) != 0 {
		t.Errorf("Expected no dispatches, got %+v", fx.requester.requests)
	}
}

func TestTick_SkipsSyntheticAndEmptyMessages(t *testing.T) {
	fx := newFixture(t, Config{}, "Ai")
	users := onlineUsers(fx, "id_rafael")

	fx.sched.Tick(roomWith(users))
	fx.sched.Tick(roomWith(users,
		roomstate.Message{ID: 1, Sender: "id_rafael", Text: "   "},
		roomstate.Message{ID: roomstate.SystemMessageIDBase, Sender: roomstate.SystemSender, Text: "Bob connected"},
	))

	if len(fx.requester.requests) != 0 {
		t.Errorf("Expected no dispatches, got %+v", fx.requester.requests)
	}
}

func TestTick_OfflineBotNeverSelected(t *testing.T) {
	fx := newFixture(t, Config{}, "Aelric", "Branna")
	fx.runtimes[0].SetOnline(false)
	users := onlineUsers(fx, "id_rafael")

	fx.sched.Tick(roomWith(users))
	for i := 0; i < 10; i++ {
		fx.sched.Tick(roomWith(users, roomstate.Message{ID: uint64(i + 1), Sender: "id_rafael", Text: "ping"}))
	}

	for _, req := range fx.requester.requests {
		if req.Bot.Name == "Aelric" {
			t.Fatal("Offline bot was selected to respond")
		}
	}
	if len(fx.requester.requests) == 0 {
		t.Error("Expected the online bot to be selected")
	}
}
