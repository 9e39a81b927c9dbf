package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/rhythmiq/rhythmiq/pkg/ratelimit"
	"github.com/sashabaranov/go-openai"
)

var (
	// ErrConfig is returned when the selected backend lacks its settings.
	ErrConfig = errors.New("llm: invalid configuration")
	// ErrUnsupported is returned for unknown backends.
	ErrUnsupported = errors.New("llm: unsupported backend")
	// ErrTransport wraps any failure talking to the backend.
	ErrTransport = errors.New("llm: transport error")
)

// Backends
const (
	Remote = "remote"
	Local  = "local"
)

const (
	defaultRemoteURL = "https://nano-gpt.com/api/v1"
	defaultLocalURL  = "http://127.0.0.1:5000/v1"
	defaultModel     = "chatgpt-4o-latest"
	defaultMaxTokens = 4096
)

type Config struct {
	Backend     string
	Key         string
	BaseURL     string
	Model       string
	Temperature float32
	TopP        float32
	MaxTokens   int
	Wait        time.Duration
	Debug       bool
	Client      *http.Client
}

// Client sends chat prompts to an OpenAI compatible backend.
type Client struct {
	client      *openai.Client
	backend     string
	model       string
	temperature float32
	topP        float32
	maxTokens   int
	debug       bool
	ratelimit   ratelimit.Lock
}

// New creates a client for the configured backend. Missing credentials are
// reported here, before any request is sent.
func New(cfg *Config) (*Client, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = Remote
	}
	var oc openai.ClientConfig
	switch backend {
	case Remote:
		if cfg.Key == "" {
			return nil, fmt.Errorf("%w: missing api key for %s backend", ErrConfig, backend)
		}
		oc = openai.DefaultConfig(cfg.Key)
		oc.BaseURL = defaultRemoteURL
	case Local:
		oc = openai.DefaultConfig(cfg.Key)
		oc.BaseURL = defaultLocalURL
	default:
		return nil, fmt.Errorf("%w: %q (supported: %s, %s)", ErrUnsupported, cfg.Backend, Remote, Local)
	}
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: 5 * time.Minute,
		}
	}
	oc.HTTPClient = client

	model := cfg.Model
	if model == "" && backend == Remote {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 && backend == Local {
		maxTokens = defaultMaxTokens
	}
	return &Client{
		client:      openai.NewClientWithConfig(oc),
		backend:     backend,
		model:       model,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
		maxTokens:   maxTokens,
		debug:       cfg.Debug,
		ratelimit:   ratelimit.New(cfg.Wait),
	}, nil
}

// Model returns the default model.
func (c *Client) Model() string {
	return c.model
}

// Generate sends the prompts and returns the text of the assistant message.
// An empty model uses the default one. Errors aren't retried.
func (c *Client) Generate(ctx context.Context, system, user, model string) (string, error) {
	req := openai.ChatCompletionRequest{
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens: c.maxTokens,
	}
	if c.backend == Remote {
		req.Model = model
		if req.Model == "" {
			req.Model = c.model
		}
		req.Temperature = c.temperature
		req.TopP = c.topP
	}
	c.log("llm: request %s model=%q system=%d user=%d", c.backend, req.Model, len(system), len(user))

	unlock := c.ratelimit.Lock(ctx)
	defer unlock()

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("llm: %w", ctx.Err())
		}
		return "", fmt.Errorf("llm: couldn't create chat completion: %w: %w", ErrTransport, err)
	}
	c.log("llm: response %s usage=%+v", resp.ID, resp.Usage)
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: %w: empty choices", ErrTransport)
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("llm: %w: empty message", ErrTransport)
	}
	return text, nil
}

func (c *Client) log(format string, args ...interface{}) {
	if c.debug {
		format += "\n"
		log.Printf(format, args...)
	}
}
