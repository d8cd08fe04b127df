// Package genai builds context-aware prompts and turns them into bot replies
// through an OpenAI-compatible inference server.
package genai

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog"
	"go.mau.fi/util/random"
)

// Defaults for the local inference server. Each is overridable via
// environment variable (OLLAMA_MODEL, OLLAMA_HOST, OLLAMA_PORT).
const (
	DefaultModel = "mistral:7b"
	DefaultHost  = "http://127.0.0.1"
	DefaultPort  = 11434
)

// Generation parameters tuned for short, non-repetitive chat replies.
const (
	defaultMaxTokens        = 70
	defaultTemperature      = 0.85
	defaultTopP             = 0.95
	defaultFrequencyPenalty = 1.35
)

// Role tags one prompt turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single role-tagged prompt message.
type Turn struct {
	Role    Role
	Content string
}

// Generator abstracts the generative text service so the pipeline and the
// scheduler tests can inject a fake.
type Generator interface {
	Generate(ctx context.Context, turns []Turn) (string, error)
}

// ClientConfig configures the inference client.
type ClientConfig struct {
	Model string `yaml:"model"`
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`

	MaxTokens        int     `yaml:"max_tokens"`
	Temperature      float64 `yaml:"temperature"`
	TopP             float64 `yaml:"top_p"`
	FrequencyPenalty float64 `yaml:"frequency_penalty"`
}

// WithDefaults fills zero values from environment variables and fixed
// defaults.
func (c ClientConfig) WithDefaults() ClientConfig {
	if c.Model == "" {
		c.Model = envOr("OLLAMA_MODEL", DefaultModel)
	}
	if c.Host == "" {
		c.Host = envOr("OLLAMA_HOST", DefaultHost)
	}
	if c.Port == 0 {
		c.Port = DefaultPort
		if raw := strings.TrimSpace(os.Getenv("OLLAMA_PORT")); raw != "" {
			if port, err := strconv.Atoi(raw); err == nil {
				c.Port = port
			}
		}
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.Temperature == 0 {
		c.Temperature = defaultTemperature
	}
	if c.TopP == 0 {
		c.TopP = defaultTopP
	}
	if c.FrequencyPenalty == 0 {
		c.FrequencyPenalty = defaultFrequencyPenalty
	}
	return c
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

// Client talks to the inference server through its OpenAI-compatible
// chat-completions endpoint.
type Client struct {
	api openai.Client
	cfg ClientConfig
	log zerolog.Logger
}

// NewClient builds the inference client. The base URL points at the
// server's OpenAI compatibility layer.
func NewClient(cfg ClientConfig, log zerolog.Logger) *Client {
	cfg = cfg.WithDefaults()
	baseURL := fmt.Sprintf("%s:%d/v1", strings.TrimRight(cfg.Host, "/"), cfg.Port)

	clientLog := log.With().Str("component", "genai").Logger()
	api := openai.NewClient(
		option.WithBaseURL(baseURL),
		// The local server ignores auth but the SDK requires a key.
		option.WithAPIKey("unused"),
		option.WithMiddleware(makeRequestTraceMiddleware(clientLog)),
	)

	return &Client{api: api, cfg: cfg, log: clientLog}
}

func newOutboundRequestID() string {
	return "tvn_" + random.String(12)
}

func makeRequestTraceMiddleware(log zerolog.Logger) option.Middleware {
	traceLog := log.With().Str("component", "genai_http").Logger()
	return func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		start := time.Now()
		requestID := strings.TrimSpace(req.Header.Get("x-request-id"))
		if requestID == "" {
			requestID = newOutboundRequestID()
			req.Header.Set("x-request-id", requestID)
		}

		resp, err := next(req)

		evt := traceLog.Debug().
			Str("request_id", requestID).
			Str("request_method", req.Method).
			Dur("duration", time.Since(start))
		if req.URL != nil {
			evt = evt.Str("request_host", req.URL.Host).Str("request_path", req.URL.Path)
		}
		if err != nil {
			evt.Err(err).Msg("Inference request failed")
		} else {
			evt.Int("status", resp.StatusCode).Msg("Inference request completed")
		}
		return resp, err
	}
}

// Generate runs one synchronous chat completion and returns the raw reply
// text. Empty output is an error so callers can surface it.
func (c *Client) Generate(ctx context.Context, turns []Turn) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, turn := range turns {
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		switch turn.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(turn.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("no prompt messages to send")
	}

	req := openai.ChatCompletionNewParams{
		Model:               c.cfg.Model,
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(c.cfg.MaxTokens)),
		Temperature:         openai.Float(c.cfg.Temperature),
		TopP:                openai.Float(c.cfg.TopP),
		FrequencyPenalty:    openai.Float(c.cfg.FrequencyPenalty),
	}

	resp, err := c.api.Chat.Completions.New(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("empty reply from model")
	}
	return reply, nil
}
