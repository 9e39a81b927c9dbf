package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rhythmiq/rhythmiq/pkg/llm"
	"github.com/rhythmiq/rhythmiq/pkg/prompt"
	"github.com/rhythmiq/rhythmiq/pkg/song"
	"github.com/rhythmiq/rhythmiq/pkg/suno"
)

const defaultBatchSize = 2

var (
	// ErrConfig is returned when the pipeline lacks one of its collaborators.
	ErrConfig = errors.New("pipeline: invalid configuration")
	// ErrNoSong is returned when the model answered without a song call.
	ErrNoSong = errors.New("pipeline: model didn't write a song")
)

// Generator writes text from a system and user prompt.
type Generator interface {
	Generate(ctx context.Context, system, user, model string) (string, error)
}

// Singer submits songs to the audio service and reports their state.
type Singer interface {
	suno.Querier
	Submit(ctx context.Context, d *song.Draft) (*suno.Batch, error)
}

// Recorder stores finished outcomes.
type Recorder interface {
	Record(ctx context.Context, o *Outcome) error
}

type Config struct {
	Prompt    *prompt.Assembler
	Generator Generator
	Singer    Singer
	Policy    suno.Policy
	// BatchSize is the maximum number of jobs polled per submission.
	BatchSize int
	// Models is the pool used when RandomModel is set and the request
	// doesn't name a model. Empty means every known model.
	Models      []string
	RandomModel bool
	// RandomStation draws a station from the catalog of the prompt
	// assembler when the request doesn't name one.
	RandomStation bool
	Recorder      Recorder
	// OnStatus receives the status changes of every run, tagged with the
	// id of the run.
	OnStatus func(Update)
	Rand     *rand.Rand
	Debug    bool
}

// Update is a status change of a run.
type Update struct {
	ID     string
	Status Status
}

// Pipeline drives instructions through lyrics, audio submission and polling.
type Pipeline struct {
	prompt      *prompt.Assembler
	generator   Generator
	singer      Singer
	policy      suno.Policy
	batchSize   int
	models        []string
	randomModel   bool
	randomStation bool
	recorder      Recorder
	onStatus      func(Update)
	debug         bool

	lck sync.Mutex
	rnd *rand.Rand
}

// Request is the input of a single run.
type Request struct {
	// ID identifies the run in status updates and outcomes. A random one is
	// used if empty.
	ID          string `json:"id,omitempty"`
	Instruction string `json:"instruction,omitempty"`
	Station     string `json:"station,omitempty"`
	Model       string `json:"model,omitempty"`
	Artist      string `json:"artist,omitempty"`
	BatchSize   int    `json:"batch_size,omitempty"`
}

func New(cfg *Config) (*Pipeline, error) {
	switch {
	case cfg.Prompt == nil:
		return nil, fmt.Errorf("%w: missing prompt assembler", ErrConfig)
	case cfg.Generator == nil:
		return nil, fmt.Errorf("%w: missing generator", ErrConfig)
	case cfg.Singer == nil:
		return nil, fmt.Errorf("%w: missing singer", ErrConfig)
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	onStatus := cfg.OnStatus
	if onStatus == nil {
		onStatus = func(Update) {}
	}
	return &Pipeline{
		prompt:      cfg.Prompt,
		generator:   cfg.Generator,
		singer:      cfg.Singer,
		policy:      cfg.Policy,
		batchSize:   batchSize,
		models:        cfg.Models,
		randomModel:   cfg.RandomModel,
		randomStation: cfg.RandomStation,
		recorder:      cfg.Recorder,
		onStatus:      onStatus,
		debug:         cfg.Debug,
		rnd:           rnd,
	}, nil
}

// Orchestrate runs the pipeline with a random instruction.
func (p *Pipeline) Orchestrate(ctx context.Context) *Outcome {
	return p.Run(ctx, Request{})
}

// Run writes a song for the request, sings it and waits for the audio.
// The first failure stops the run and is reported in the outcome.
func (p *Pipeline) Run(ctx context.Context, req Request) *Outcome {
	req.ID = runID(req.ID)
	o := newOutcome(req)
	defer p.record(ctx, o)

	w, err := p.write(ctx, req)
	o.Instruction = w.instruction
	o.Model = w.model
	o.Station = w.station
	if err != nil {
		return o.fail(err)
	}
	p.sing(ctx, o, p.size(req.BatchSize), &w.Draft)
	return o
}

// Written is a song draft with the instruction and model that produced it.
type Written struct {
	song.Draft
	instruction string
	model       string
	station     string
}

// Instruction returns the instruction the song was written for.
func (w *Written) Instruction() string { return w.instruction }

// Model returns the model that wrote the song.
func (w *Written) Model() string { return w.model }

// Station returns the station the song was written for, if any.
func (w *Written) Station() string { return w.station }

// WriteSong asks the language model for a song and parses the response.
// Errors are of type *Error.
func (p *Pipeline) WriteSong(ctx context.Context, req Request) (*Written, error) {
	req.ID = runID(req.ID)
	w, err := p.write(ctx, req)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// write always returns the drawn instruction, model and station, even on
// failure.
func (p *Pipeline) write(ctx context.Context, req Request) (*Written, error) {
	p.status(req.ID, StatusWriting)
	w := &Written{
		instruction: req.Instruction,
		model:       req.Model,
		station:     req.Station,
	}

	// Draw everything random under the lock
	p.lck.Lock()
	if w.station == "" && p.randomStation {
		if s, ok := p.prompt.RandomStation(p.rnd); ok {
			w.station = s.ID
		}
	}
	pr, err := p.prompt.Build(prompt.Input{
		Instruction: req.Instruction,
		Station:     w.station,
		Artist:      req.Artist,
	}, p.rnd)
	if w.model == "" && p.randomModel {
		w.model = llm.RandomModel(p.rnd, p.models...)
	}
	p.lck.Unlock()
	if err != nil {
		return w, p.fail(req.ID, StageConfig, err)
	}
	w.instruction = pr.Instruction
	p.log("pipeline: %s writing song for %q with model %q", req.ID, w.instruction, w.model)

	raw, err := p.generator.Generate(ctx, pr.System, pr.User, w.model)
	if err != nil {
		return w, p.fail(req.ID, StageLyrics, err)
	}
	d, err := song.Parse(raw)
	if err != nil {
		return w, p.fail(req.ID, StageParse, err)
	}
	if d == nil {
		p.log("pipeline: response without song call: %s", raw)
		return w, p.fail(req.ID, StageParse, ErrNoSong)
	}
	p.log("pipeline: song written %s", d)
	w.Draft = *d
	return w, nil
}

// Sing submits the drafts in order and waits for their audio. The first
// failure stops the batch.
func (p *Pipeline) Sing(ctx context.Context, drafts ...*song.Draft) *Outcome {
	o := newOutcome(Request{ID: runID("")})
	defer p.record(ctx, o)
	if len(drafts) == 0 {
		return o.fail(p.fail(o.ID, StageSubmit, errors.New("pipeline: no songs to sing")))
	}
	p.sing(ctx, o, p.batchSize, drafts...)
	return o
}

func (p *Pipeline) sing(ctx context.Context, o *Outcome, size int, drafts ...*song.Draft) {
	p.status(o.ID, StatusSinging)
	for _, d := range drafts {
		if d == nil {
			o.fail(p.fail(o.ID, StageParse, song.ErrMissingLyrics))
			return
		}
		draft := *d
		if err := draft.Normalize(); err != nil {
			o.fail(p.fail(o.ID, StageParse, err))
			return
		}
		o.Drafts = append(o.Drafts, draft)

		batch, err := p.singer.Submit(ctx, &draft)
		if err != nil {
			o.fail(p.fail(o.ID, StageSubmit, err))
			return
		}
		ids := batch.IDs
		if len(ids) > size {
			p.log("pipeline: %d jobs submitted, polling the first %d", len(ids), size)
			ids = ids[:size]
		}
		o.Batches = append(o.Batches, suno.Batch{GenerationID: batch.GenerationID, IDs: ids})
		p.log("pipeline: %s waiting for jobs %v", o.ID, ids)

		jobs, err := suno.Wait(ctx, p.singer, ids, p.policy)
		if err != nil {
			var jobErr *suno.JobError
			if errors.As(err, &jobErr) {
				o.fail(p.fail(o.ID, StageJob, err))
				return
			}
			o.fail(p.fail(o.ID, StagePoll, err))
			return
		}
		o.Jobs = append(o.Jobs, jobs...)
	}
	o.Finished = time.Now().UTC()
	p.status(o.ID, StatusComplete)
}

func runID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func (p *Pipeline) size(n int) int {
	if n <= 0 {
		return p.batchSize
	}
	return n
}

func (p *Pipeline) fail(id string, stage Stage, err error) *Error {
	p.status(id, StatusError)
	log.Printf("❌ pipeline: %s: %s: %v\n", id, stage, err)
	return &Error{Stage: stage, Err: err}
}

func (p *Pipeline) status(id string, s Status) {
	p.onStatus(Update{ID: id, Status: s})
}

func (p *Pipeline) record(ctx context.Context, o *Outcome) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.Record(context.WithoutCancel(ctx), o); err != nil {
		log.Printf("pipeline: couldn't record outcome: %v\n", err)
	}
}

func (p *Pipeline) log(format string, args ...interface{}) {
	if p.debug {
		format += "\n"
		log.Printf(format, args...)
	}
}
