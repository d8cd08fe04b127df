package genai

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tavernchat/tavern/pkg/bots"
	"github.com/tavernchat/tavern/pkg/roomstate"
	"github.com/tavernchat/tavern/pkg/textutil"
)

// DefaultMaxHistoryEntries caps each bot's conversation history.
const DefaultMaxHistoryEntries = 12

const (
	defaultWorkers   = 2
	defaultQueueSize = 16
	replyBuffer      = 64
)

// GeneratedReply is one finished bot reply, tagged with its owning bot.
type GeneratedReply struct {
	BotName string
	Text    string
}

// PipelineConfig tunes the reply pipeline.
type PipelineConfig struct {
	Workers              int `yaml:"workers"`
	QueueSize            int `yaml:"queue_size"`
	MaxHistoryEntries    int `yaml:"max_history_entries"`
	MaxContextMessages   int `yaml:"max_context_messages"`
	MaxContextMessageLen int `yaml:"max_context_message_len"`
}

// WithDefaults fills zero values.
func (c PipelineConfig) WithDefaults() PipelineConfig {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.MaxHistoryEntries <= 0 {
		c.MaxHistoryEntries = DefaultMaxHistoryEntries
	}
	if c.MaxContextMessages <= 0 {
		c.MaxContextMessages = DefaultMaxContextMessages
	}
	if c.MaxContextMessageLen <= 0 {
		c.MaxContextMessageLen = DefaultMaxContextMessageLen
	}
	return c
}

type replyRequest struct {
	bot       bots.Profile
	history   []roomstate.HistoryEntry
	promptCtx PromptContext
}

// Pipeline turns incoming chat text into normalized bot replies on a bounded
// worker pool, so a burst of triggers cannot spawn unbounded concurrent
// requests against the inference server.
type Pipeline struct {
	gen   Generator
	state *roomstate.State
	cfg   PipelineConfig
	log   zerolog.Logger

	requests chan replyRequest
	replies  chan GeneratedReply
	wg       sync.WaitGroup
}

// NewPipeline wires the pipeline. Call Start before Request.
func NewPipeline(gen Generator, state *roomstate.State, cfg PipelineConfig, log zerolog.Logger) *Pipeline {
	cfg = cfg.WithDefaults()
	return &Pipeline{
		gen:      gen,
		state:    state,
		cfg:      cfg,
		log:      log.With().Str("component", "reply_pipeline").Logger(),
		requests: make(chan replyRequest, cfg.QueueSize),
		replies:  make(chan GeneratedReply, replyBuffer),
	}
}

// Start launches the worker pool.
func (p *Pipeline) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.workerLoop()
	}
}

// Stop waits for in-flight generations to finish. In-flight requests always
// run to completion; there is no cancellation path.
func (p *Pipeline) Stop() {
	close(p.requests)
	p.wg.Wait()
	close(p.replies)
}

// Replies exposes the finished-reply channel drained by the main loop.
func (p *Pipeline) Replies() <-chan GeneratedReply {
	return p.replies
}

// Request records the incoming text as a User turn in the bot's history,
// snapshots history and room context under the state lock, and hands the
// generation off to a worker. A full queue drops the request with a warning
// rather than blocking the caller.
func (p *Pipeline) Request(bot bots.Profile, incomingText string) {
	req := replyRequest{bot: bot}
	p.state.Update(func(r *roomstate.Room) {
		history := append(r.Histories[bot.Name], roomstate.HistoryEntry{
			Role:    roomstate.RoleUser,
			Content: incomingText,
		})
		history = trimHistory(history, p.cfg.MaxHistoryEntries)
		r.Histories[bot.Name] = history

		req.history = append([]roomstate.HistoryEntry(nil), history...)
		req.promptCtx = BuildPromptContext(r, p.cfg.MaxContextMessages, p.cfg.MaxContextMessageLen)
	})

	select {
	case p.requests <- req:
	default:
		p.log.Warn().Str("bot", bot.Name).Msg("Reply queue full, dropping generation request")
	}
}

func (p *Pipeline) workerLoop() {
	defer p.wg.Done()
	for req := range p.requests {
		p.process(req)
	}
}

func (p *Pipeline) process(req replyRequest) {
	// A panic anywhere in the pipeline must degrade to a visible system
	// message, never take the process down.
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Str("bot", req.bot.Name).Msg("Reply generation panicked")
			p.state.AddSystemMessage(roomstate.SystemSender,
				fmt.Sprintf("AI error (%s): generation panicked", req.bot.Name))
		}
	}()

	reply, err := p.generate(req)
	if err != nil {
		p.log.Warn().Err(err).Str("bot", req.bot.Name).Msg("Reply generation failed")
		p.state.AddSystemMessage(roomstate.SystemSender,
			fmt.Sprintf("AI error (%s): %v", req.bot.Name, err))
		return
	}

	p.state.Update(func(r *roomstate.Room) {
		history := append(r.Histories[req.bot.Name], roomstate.HistoryEntry{
			Role:    roomstate.RoleAssistant,
			Content: reply,
		})
		r.Histories[req.bot.Name] = trimHistory(history, p.cfg.MaxHistoryEntries)
	})

	p.replies <- GeneratedReply{BotName: req.bot.Name, Text: reply}
}

func (p *Pipeline) generate(req replyRequest) (string, error) {
	turns := make([]Turn, 0, len(req.history)+3)
	turns = append(turns,
		Turn{Role: RoleSystem, Content: BaseSystemPrompt},
		Turn{Role: RoleSystem, Content: RoleplayPrompt(req.bot)},
		Turn{Role: RoleSystem, Content: ContextSystemPrompt(req.promptCtx)},
	)
	for _, entry := range req.history {
		if entry.Content == "" {
			continue
		}
		role := RoleUser
		if entry.Role == roomstate.RoleAssistant {
			role = RoleAssistant
		}
		turns = append(turns, Turn{Role: role, Content: entry.Content})
	}

	raw, err := p.gen.Generate(context.Background(), turns)
	if err != nil {
		return "", err
	}

	reply := textutil.NormalizeReply(raw)
	if reply == "" {
		return "", fmt.Errorf("empty reply from model")
	}
	return reply, nil
}

func trimHistory(history []roomstate.HistoryEntry, limit int) []roomstate.HistoryEntry {
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}
