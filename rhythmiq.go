package rhythmiq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/rhythmiq/rhythmiq/pkg/llm"
	"github.com/rhythmiq/rhythmiq/pkg/pipeline"
	"github.com/rhythmiq/rhythmiq/pkg/prompt"
	"github.com/rhythmiq/rhythmiq/pkg/song"
	"github.com/rhythmiq/rhythmiq/pkg/station"
	"github.com/rhythmiq/rhythmiq/pkg/suno"
)

type Config struct {
	Debug bool
	Proxy string

	// Language model
	Backend     string
	LLMKey      string
	LLMURL      string
	Model       string
	RandomModel bool
	// RandomStation draws a station when the request doesn't name one.
	RandomStation bool
	Temperature float64
	TopP        float64
	MaxTokens   int
	LLMWait     time.Duration

	// Audio service
	SunoKey   string
	SunoURL   string
	SunoModel string
	SunoWait  time.Duration

	// Polling
	PollAttempts   int
	PollRetryDelay time.Duration
	PollInterval   time.Duration
	PollMax        int
	BatchSize      int

	// Prompt
	Templates string
	Shots     int
	Stations  string
	Seed      int64
}

// Engine is a configured pipeline with the clients it uses.
type Engine struct {
	Pipeline *pipeline.Pipeline
	Stations *station.Catalog
	singer   *suno.Client
}

// Stop releases the clients of the engine.
func (e *Engine) Stop(ctx context.Context) {
	if err := e.singer.Stop(ctx); err != nil {
		log.Printf("rhythmiq: couldn't stop suno client: %v\n", err)
	}
}

// Build creates the pipeline from the configuration. Configuration errors
// are reported before any request is sent.
func Build(ctx context.Context, cfg *Config, rec pipeline.Recorder, onStatus func(pipeline.Update)) (*Engine, error) {
	return build(ctx, cfg, rec, onStatus, true)
}

// build skips the audio service checks when sing is false, so that lyrics
// can be written without its credentials.
func build(ctx context.Context, cfg *Config, rec pipeline.Recorder, onStatus func(pipeline.Update), sing bool) (*Engine, error) {
	httpClient := &http.Client{
		Timeout: 5 * time.Minute,
	}
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("rhythmiq: invalid proxy URL: %w", err)
		}
		httpClient.Transport = &http.Transport{
			Proxy: http.ProxyURL(u),
		}
	}

	stations := station.Default()
	if cfg.Stations != "" {
		var err error
		stations, err = station.Load(cfg.Stations)
		if err != nil {
			return nil, fmt.Errorf("rhythmiq: couldn't load stations: %w", err)
		}
	}
	pcfg := &prompt.Config{
		Shots:    cfg.Shots,
		Stations: stations,
	}
	if cfg.Templates != "" {
		pcfg.FS = os.DirFS(cfg.Templates)
	}
	assembler, err := prompt.New(pcfg)
	if err != nil {
		return nil, fmt.Errorf("rhythmiq: couldn't load prompt templates: %w", err)
	}

	generator, err := llm.New(&llm.Config{
		Backend:     cfg.Backend,
		Key:         cfg.LLMKey,
		BaseURL:     cfg.LLMURL,
		Model:       cfg.Model,
		Temperature: float32(cfg.Temperature),
		TopP:        float32(cfg.TopP),
		MaxTokens:   cfg.MaxTokens,
		Wait:        cfg.LLMWait,
		Debug:       cfg.Debug,
		Client:      httpClient,
	})
	if err != nil {
		return nil, err
	}

	singer := suno.New(&suno.Config{
		BaseURL: cfg.SunoURL,
		Key:     cfg.SunoKey,
		Model:   cfg.SunoModel,
		Wait:    cfg.SunoWait,
		Debug:   cfg.Debug,
		Client:  httpClient,
	})
	if sing {
		if err := singer.Start(ctx); err != nil {
			return nil, err
		}
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	p, err := pipeline.New(&pipeline.Config{
		Prompt:    assembler,
		Generator: generator,
		Singer:    singer,
		Policy: suno.Policy{
			Attempts:   cfg.PollAttempts,
			RetryDelay: cfg.PollRetryDelay,
			Interval:   cfg.PollInterval,
			MaxPolls:   cfg.PollMax,
		},
		BatchSize:     cfg.BatchSize,
		RandomModel:   cfg.RandomModel,
		RandomStation: cfg.RandomStation,
		Recorder:      rec,
		OnStatus:      onStatus,
		Rand:          rand.New(rand.NewSource(seed)),
		Debug:         cfg.Debug,
	})
	if err != nil {
		return nil, err
	}
	return &Engine{
		Pipeline: p,
		Stations: stations,
		singer:   singer,
	}, nil
}

func logStatus(u pipeline.Update) {
	log.Printf("rhythmiq: %s %s\n", u.ID, u.Status)
}

// WriteSong writes the lyrics of a song and prints them as JSON.
func WriteSong(ctx context.Context, cfg *Config, req pipeline.Request, output string) error {
	e, err := build(ctx, cfg, nil, logStatus, false)
	if err != nil {
		return err
	}
	defer e.Stop(ctx)

	w, err := e.Pipeline.WriteSong(ctx, req)
	if err != nil {
		return err
	}
	log.Printf("rhythmiq: %q written by %s\n", w.Title, llm.Nickname(w.Model()))
	return writeJSON(output, w)
}

// Sing sings the songs of a JSON file holding a draft or a list of drafts.
func Sing(ctx context.Context, cfg *Config, input, output string) error {
	b, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("rhythmiq: couldn't read input: %w", err)
	}
	drafts, err := ParseDrafts(b)
	if err != nil {
		return err
	}

	e, err := Build(ctx, cfg, nil, logStatus)
	if err != nil {
		return err
	}
	defer e.Stop(ctx)

	o := e.Pipeline.Sing(ctx, drafts...)
	if err := o.Failure(); err != nil {
		return err
	}
	return writeJSON(output, o.Jobs)
}

// Run writes a song and sings it. An empty instruction picks a random one.
func Run(ctx context.Context, cfg *Config, req pipeline.Request, output string) error {
	e, err := Build(ctx, cfg, nil, logStatus)
	if err != nil {
		return err
	}
	defer e.Stop(ctx)

	o := e.Pipeline.Run(ctx, req)
	if err := o.Failure(); err != nil {
		return err
	}
	for _, d := range o.Drafts {
		log.Println("title:", d.Title)
		log.Println("style:", d.Style)
	}
	for _, j := range o.Jobs {
		log.Println("id:", j.ID)
		log.Println("audio:", j.Audio)
		log.Println("image:", j.Image)
	}
	return writeJSON(output, o.Jobs)
}

// ParseDrafts decodes a single draft or a list of drafts.
func ParseDrafts(b []byte) ([]*song.Draft, error) {
	var drafts []*song.Draft
	if err := json.Unmarshal(b, &drafts); err != nil {
		var d song.Draft
		if err := json.Unmarshal(b, &d); err != nil {
			return nil, fmt.Errorf("rhythmiq: couldn't unmarshal drafts: %w", err)
		}
		drafts = []*song.Draft{&d}
	}
	if len(drafts) == 0 {
		return nil, errors.New("rhythmiq: no drafts found")
	}
	return drafts, nil
}

func writeJSON(output string, v any) error {
	js, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("rhythmiq: couldn't marshal output: %w", err)
	}
	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("rhythmiq: couldn't create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	if _, err := fmt.Fprintln(w, string(js)); err != nil {
		return fmt.Errorf("rhythmiq: couldn't write output: %w", err)
	}
	return nil
}
