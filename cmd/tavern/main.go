// Command tavern runs the chat orchestration core: it mirrors the room state
// from the relay server, connects a small cast of AI bots, and drives their
// replies through the inference pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tavernchat/tavern/pkg/bots"
	"github.com/tavernchat/tavern/pkg/config"
	"github.com/tavernchat/tavern/pkg/genai"
	"github.com/tavernchat/tavern/pkg/relay"
	"github.com/tavernchat/tavern/pkg/roomstate"
	"github.com/tavernchat/tavern/pkg/scheduler"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.StampMilli}).
		With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(level)
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Tavern exited with error")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	state := roomstate.NewState(log)

	observer, err := relay.Dial(ctx, relay.Config{
		URI:    cfg.Relay.URI,
		Module: cfg.Relay.Module,
		Logger: log.With().Str("conn", "observer").Logger(),
		OnConnect: func(_ *relay.Client, identity string) {
			state.Update(func(r *roomstate.Room) {
				r.MyIdentity = identity
				r.Connected = true
			})
		},
		OnDisconnect: func(_ *relay.Client, err error) {
			state.Update(func(r *roomstate.Room) {
				r.Connected = false
			})
		},
		OnSnapshot: func(users []relay.UserRow, messages []relay.MessageRow) {
			state.ApplySnapshot(toUsers(users), toMessages(messages))
		},
	})
	if err != nil {
		return fmt.Errorf("observer connection: %w", err)
	}
	defer observer.Close()

	client := genai.NewClient(cfg.Inference, log)
	pipeline := genai.NewPipeline(client, state, cfg.Pipeline, log)
	pipeline.Start()
	defer pipeline.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	profiles := bots.GenerateProfiles(cfg.Bots.Count, rng)

	runtimes := make([]*scheduler.BotRuntime, 0, len(profiles))
	for _, profile := range profiles {
		rt, conn, err := connectBot(ctx, cfg, profile, log)
		if err != nil {
			return fmt.Errorf("connecting bot %s: %w", profile.Name, err)
		}
		defer conn.Close()
		runtimes = append(runtimes, rt)
		log.Info().
			Str("bot", profile.Name).
			Str("profession", profile.Profession).
			Msg("Bot connected")
	}

	sched := scheduler.New(runtimes, pipeline, pipeline.Replies(), cfg.Scheduler, rng, nil, log)

	log.Info().
		Str("relay", cfg.Relay.URI).
		Int("bots", len(runtimes)).
		Dur("tick", cfg.TickEvery()).
		Msg("Tavern running")

	ticker := time.NewTicker(cfg.TickEvery())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Shutting down")
			return nil
		case <-ticker.C:
			sched.Tick(state.Snapshot())
		}
	}
}

// connectBot dials one relay connection for a bot. Claiming the display name
// happens off the reader goroutine: the set_name ack arrives on that same
// goroutine, so claiming inline would deadlock. The bot only flips online
// once its name is visible to the room.
func connectBot(ctx context.Context, cfg config.Config, profile bots.Profile, log zerolog.Logger) (*scheduler.BotRuntime, *relay.Client, error) {
	rt := scheduler.NewBotRuntime(profile, nil)
	botLog := log.With().Str("conn", "bot").Str("bot", profile.Name).Logger()

	conn, err := relay.Dial(ctx, relay.Config{
		URI:    cfg.Relay.URI,
		Module: cfg.Relay.Module,
		Logger: botLog,
		OnConnect: func(conn *relay.Client, identity string) {
			rt.SetIdentity(identity)
			go func() {
				if err := conn.SetName(profile.Name); err != nil {
					botLog.Warn().Err(err).Msg("Failed to claim bot name")
				}
				rt.SetOnline(true)
			}()
		},
		OnDisconnect: func(_ *relay.Client, err error) {
			rt.SetOnline(false)
			rt.SetIdentity("")
			if err != nil {
				botLog.Warn().Err(err).Msg("Bot connection lost")
			}
		},
	})
	if err != nil {
		return nil, nil, err
	}
	rt.Conn = conn
	return rt, conn, nil
}

func toUsers(rows []relay.UserRow) []roomstate.User {
	users := make([]roomstate.User, len(rows))
	for i, row := range rows {
		users[i] = roomstate.User{Identity: row.Identity, Name: row.Name, Online: row.Online}
	}
	return users
}

func toMessages(rows []relay.MessageRow) []roomstate.Message {
	messages := make([]roomstate.Message, len(rows))
	for i, row := range rows {
		messages[i] = roomstate.Message{ID: row.ID, Sender: row.Sender, Text: row.Text, SentAt: row.SentAt}
	}
	return messages
}
