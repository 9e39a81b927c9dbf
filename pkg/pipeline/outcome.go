package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/rhythmiq/rhythmiq/pkg/song"
	"github.com/rhythmiq/rhythmiq/pkg/suno"
)

// Stage is the step of the pipeline where a run failed.
type Stage string

const (
	StageConfig Stage = "config"
	StageLyrics Stage = "lyrics"
	StageParse  Stage = "parse"
	StageSubmit Stage = "submit"
	StagePoll   Stage = "poll"
	StageJob    Stage = "job"
)

// Status is reported while a run progresses.
type Status string

const (
	StatusWriting  Status = "writing lyrics"
	StatusSinging  Status = "singing"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Error is a pipeline failure tagged with its stage.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pipeline: %s failed: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StageOf returns the stage of a pipeline error, or an empty stage.
func StageOf(err error) Stage {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

// Outcome is the result of a run: the completed jobs or the failure that
// stopped it.
type Outcome struct {
	ID          string
	Request     Request
	Instruction string
	Model       string
	Station     string
	Drafts      []song.Draft
	Batches     []suno.Batch
	Jobs        []suno.Job
	Err         *Error
	Started     time.Time
	Finished    time.Time
}

func newOutcome(req Request) *Outcome {
	return &Outcome{
		ID:      req.ID,
		Request: req,
		Station: req.Station,
		Started: time.Now().UTC(),
	}
}

func (o *Outcome) fail(err error) *Outcome {
	var e *Error
	if !errors.As(err, &e) {
		e = &Error{Stage: StageConfig, Err: err}
	}
	o.Err = e
	o.Finished = time.Now().UTC()
	return o
}

// Status returns the final status of the outcome.
func (o *Outcome) Status() Status {
	if o.Err != nil {
		return StatusError
	}
	return StatusComplete
}

// Failure returns the failure of the outcome as an error, or nil.
func (o *Outcome) Failure() error {
	if o.Err == nil {
		return nil
	}
	return o.Err
}
