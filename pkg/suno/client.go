package suno

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/rhythmiq/rhythmiq/pkg/ratelimit"
)

const (
	defaultBaseURL = "https://api.sunoaiapi.com"
	defaultModel   = "chirp-v3-5"
)

var (
	// ErrConfig is returned when the client is started without an api key.
	ErrConfig = errors.New("suno: invalid configuration")
	// ErrSubmission is returned when the gateway rejects a song.
	ErrSubmission = errors.New("suno: submission failed")
)

type Client struct {
	client    *http.Client
	baseURL   string
	key       string
	model     string
	debug     bool
	ratelimit ratelimit.Lock
}

type Config struct {
	BaseURL string
	Key     string
	Model   string
	Wait    time.Duration
	Debug   bool
	Client  *http.Client
}

func New(cfg *Config) *Client {
	wait := cfg.Wait
	if wait == 0 {
		wait = 1 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: 2 * time.Minute,
		}
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Client{
		client:    client,
		baseURL:   baseURL,
		key:       cfg.Key,
		model:     model,
		ratelimit: ratelimit.New(wait),
		debug:     cfg.Debug,
	}
}

// Start checks the client can talk to the gateway.
func (c *Client) Start(ctx context.Context) error {
	if c.key == "" {
		return fmt.Errorf("%w: missing api key", ErrConfig)
	}
	return nil
}

func (c *Client) Stop(ctx context.Context) error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *Client) log(format string, args ...interface{}) {
	if c.debug {
		format += "\n"
		log.Printf(format, args...)
	}
}

type errStatusCode int

func (e errStatusCode) Error() string {
	return fmt.Sprintf("%d", e)
}

// StatusCode returns the http status code of a gateway error, or 0.
func StatusCode(err error) int {
	var errStatus errStatusCode
	if errors.As(err, &errStatus) {
		return int(errStatus)
	}
	return 0
}

// do sends a single request. Retries are left to the poller.
func (c *Client) do(ctx context.Context, method, path string, in, out any) ([]byte, error) {
	var body []byte
	var reqBody io.Reader
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("suno: couldn't marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(body)
	}
	logBody := string(body)
	if len(logBody) > 100 {
		logBody = logBody[:100] + "..."
	}
	c.log("suno: do %s %s %s", method, path, logBody)

	u := fmt.Sprintf("%s/api/v1/gateway/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("suno: couldn't create request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("content-type", "application/json")
	req.Header.Set("api-key", c.key)

	unlock := c.ratelimit.Lock(ctx)
	defer unlock()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("suno: couldn't %s %s: %w", method, u, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("suno: couldn't read response body: %w", err)
	}
	c.log("suno: response %s %s %d %s", method, path, resp.StatusCode, string(respBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errMessage := string(respBody)
		if len(errMessage) > 100 {
			errMessage = errMessage[:100] + "..."
		}
		return nil, fmt.Errorf("suno: %s %s returned (%s): %w", method, u, errMessage, errStatusCode(resp.StatusCode))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return nil, fmt.Errorf("suno: couldn't unmarshal response body (%T): %w", out, err)
		}
	}
	return respBody, nil
}
