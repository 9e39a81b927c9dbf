package suno

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

var (
	// ErrNoData is returned when every query attempt of a poll cycle failed.
	ErrNoData = errors.New("suno: no data")
	// ErrExhausted is returned when the poll cycles run out.
	ErrExhausted = errors.New("suno: poll limit reached")
)

// Querier returns the state of a set of jobs.
type Querier interface {
	Query(ctx context.Context, ids []string) ([]Job, error)
}

// Policy controls how jobs are polled.
type Policy struct {
	// Attempts is the number of queries tried in a poll cycle.
	Attempts int
	// RetryDelay is the sleep between failed queries.
	RetryDelay time.Duration
	// Interval is the sleep before each poll cycle.
	Interval time.Duration
	// MaxPolls bounds the poll cycles. Zero uses the default bound and a
	// negative value disables it.
	MaxPolls int
}

// DefaultPolicy returns the default polling policy.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:   3,
		RetryDelay: 2 * time.Second,
		Interval:   5 * time.Second,
		MaxPolls:   120,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Attempts <= 0 {
		p.Attempts = d.Attempts
	}
	if p.RetryDelay == 0 {
		p.RetryDelay = d.RetryDelay
	}
	if p.Interval == 0 {
		p.Interval = d.Interval
	}
	if p.MaxPolls == 0 {
		p.MaxPolls = d.MaxPolls
	}
	return p
}

// JobError is returned when at least one job of a batch failed.
type JobError struct {
	Jobs []Job
}

func (e *JobError) Error() string {
	var msgs []string
	for _, j := range e.Jobs {
		msgs = append(msgs, fmt.Sprintf("%s: %s", j.ID, j.Error))
	}
	return fmt.Sprintf("suno: generation error(s): %s", strings.Join(msgs, "; "))
}

// Wait polls the jobs until all of them are complete or one of them fails.
// Completed jobs are returned in the same order as ids.
func Wait(ctx context.Context, q Querier, ids []string, p Policy) ([]Job, error) {
	if len(ids) == 0 {
		return nil, errors.New("suno: no job ids to wait for")
	}
	p = p.withDefaults()
	for poll := 1; ; poll++ {
		if p.MaxPolls > 0 && poll > p.MaxPolls {
			return nil, fmt.Errorf("suno: %w after %d polls", ErrExhausted, p.MaxPolls)
		}
		if err := sleep(ctx, p.Interval); err != nil {
			return nil, err
		}
		jobs, err := query(ctx, q, ids, p)
		if err != nil {
			return nil, err
		}
		done, err := reconcile(ids, jobs)
		if err != nil {
			return nil, err
		}
		if done != nil {
			return done, nil
		}
	}
}

// query runs the attempts of a single poll cycle.
func query(ctx context.Context, q Querier, ids []string, p Policy) ([]Job, error) {
	var last error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, p.RetryDelay); err != nil {
				return nil, err
			}
		}
		jobs, err := q.Query(ctx, ids)
		if err == nil && len(jobs) > 0 {
			return jobs, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("suno: %w", ctx.Err())
		}
		if err == nil {
			err = errors.New("empty response")
		}
		last = err
		log.Printf("suno: query attempt %d/%d failed: %v\n", attempt, p.Attempts, err)
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrNoData, p.Attempts, last)
}

// reconcile returns the ordered jobs if all of them are complete, nil if
// some are still pending or a JobError if any of them failed.
func reconcile(ids []string, jobs []Job) ([]Job, error) {
	lookup := map[string]Job{}
	for _, j := range jobs {
		if _, ok := lookup[j.ID]; ok {
			continue
		}
		lookup[j.ID] = j
	}
	var failed []Job
	var ordered []Job
	pending := false
	for _, id := range ids {
		j, ok := lookup[id]
		switch {
		case !ok:
			pending = true
		case j.Status == StatusError:
			if j.Error == "" {
				j.Error = unknownError
			}
			failed = append(failed, j)
		case j.Status == StatusComplete:
			ordered = append(ordered, j)
		default:
			pending = true
		}
	}
	if len(failed) > 0 {
		return nil, &JobError{Jobs: failed}
	}
	if pending {
		return nil, nil
	}
	return ordered, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("suno: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}
