package suno

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type response struct {
	jobs []Job
	err  error
}

// fakeQuerier replays responses, repeating the last one when it runs out.
type fakeQuerier struct {
	lck       sync.Mutex
	responses []response
	calls     int
}

func (f *fakeQuerier) Query(ctx context.Context, ids []string) ([]Job, error) {
	f.lck.Lock()
	defer f.lck.Unlock()
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	return f.responses[i].jobs, f.responses[i].err
}

var fastPolicy = Policy{
	Attempts:   3,
	RetryDelay: time.Millisecond,
	Interval:   time.Millisecond,
}

func complete(id string) Job {
	return Job{ID: id, Status: StatusComplete, Media: Media{Audio: id + ".mp3", Image: id + ".png"}}
}

func pending(id string) Job {
	return Job{ID: id, Status: StatusPending}
}

func TestWaitOrdered(t *testing.T) {
	q := &fakeQuerier{responses: []response{
		{jobs: []Job{pending("a1"), pending("a2")}},
		{jobs: []Job{complete("a2"), complete("a1")}},
	}}
	jobs, err := Wait(context.Background(), q, []string{"a1", "a2"}, fastPolicy)
	if err != nil {
		t.Fatalf("Wait() err = %v; want nil", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("Wait() = %d jobs; want 2", len(jobs))
	}
	if jobs[0].ID != "a1" || jobs[1].ID != "a2" {
		t.Errorf("Wait() = [%s %s]; want [a1 a2]", jobs[0].ID, jobs[1].ID)
	}
	if jobs[0].Audio != "a1.mp3" {
		t.Errorf("audio = %q; want %q", jobs[0].Audio, "a1.mp3")
	}
	if q.calls != 2 {
		t.Errorf("calls = %d; want 2", q.calls)
	}
}

func TestWaitRetry(t *testing.T) {
	q := &fakeQuerier{responses: []response{
		{err: errors.New("timeout")},
		{err: errors.New("timeout")},
		{jobs: []Job{complete("a1")}},
	}}
	jobs, err := Wait(context.Background(), q, []string{"a1"}, fastPolicy)
	if err != nil {
		t.Fatalf("Wait() err = %v; want nil", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "a1" {
		t.Fatalf("Wait() = %v; want [a1]", jobs)
	}
	if q.calls != 3 {
		t.Errorf("calls = %d; want 3", q.calls)
	}
}

func TestWaitNoData(t *testing.T) {
	q := &fakeQuerier{responses: []response{
		{err: errors.New("502")},
	}}
	_, err := Wait(context.Background(), q, []string{"a1"}, fastPolicy)
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("Wait() err = %v; want %v", err, ErrNoData)
	}
	if q.calls != 3 {
		t.Errorf("calls = %d; want 3", q.calls)
	}
}

func TestWaitEmptyResponse(t *testing.T) {
	q := &fakeQuerier{responses: []response{
		{},
	}}
	_, err := Wait(context.Background(), q, []string{"a1"}, fastPolicy)
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("Wait() err = %v; want %v", err, ErrNoData)
	}
}

func TestWaitJobError(t *testing.T) {
	q := &fakeQuerier{responses: []response{
		{jobs: []Job{
			{ID: "a1", Status: StatusError, Error: "content policy"},
			pending("a2"),
		}},
		{jobs: []Job{complete("a1"), complete("a2")}},
	}}
	_, err := Wait(context.Background(), q, []string{"a1", "a2"}, fastPolicy)
	var jobErr *JobError
	if !errors.As(err, &jobErr) {
		t.Fatalf("Wait() err = %v; want *JobError", err)
	}
	if len(jobErr.Jobs) != 1 || jobErr.Jobs[0].ID != "a1" {
		t.Fatalf("JobError.Jobs = %v; want [a1]", jobErr.Jobs)
	}
	if !strings.Contains(err.Error(), "content policy") {
		t.Errorf("Error() = %q; want it to contain %q", err.Error(), "content policy")
	}
	if q.calls != 1 {
		t.Errorf("calls = %d; want 1", q.calls)
	}
}

func TestWaitUnknownError(t *testing.T) {
	q := &fakeQuerier{responses: []response{
		{jobs: []Job{{ID: "a1", Status: StatusError}, {ID: "a2", Status: StatusError}}},
	}}
	_, err := Wait(context.Background(), q, []string{"a1", "a2"}, fastPolicy)
	var jobErr *JobError
	if !errors.As(err, &jobErr) {
		t.Fatalf("Wait() err = %v; want *JobError", err)
	}
	if len(jobErr.Jobs) != 2 {
		t.Fatalf("JobError.Jobs = %v; want 2 jobs", jobErr.Jobs)
	}
	for _, j := range jobErr.Jobs {
		if j.Error != "Unknown error" {
			t.Errorf("job %s error = %q; want %q", j.ID, j.Error, "Unknown error")
		}
	}
}

func TestWaitExhausted(t *testing.T) {
	q := &fakeQuerier{responses: []response{
		{jobs: []Job{pending("a1")}},
	}}
	p := fastPolicy
	p.MaxPolls = 4
	_, err := Wait(context.Background(), q, []string{"a1"}, p)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("Wait() err = %v; want %v", err, ErrExhausted)
	}
	if q.calls != 4 {
		t.Errorf("calls = %d; want 4", q.calls)
	}
}

func TestWaitDefaultBound(t *testing.T) {
	// The gateway answers but never lists the requested job
	q := &fakeQuerier{responses: []response{
		{jobs: []Job{complete("other")}},
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := Wait(ctx, q, []string{"a1"}, fastPolicy)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("Wait() err = %v; want %v", err, ErrExhausted)
	}
	if want := DefaultPolicy().MaxPolls; q.calls != want {
		t.Errorf("calls = %d; want %d", q.calls, want)
	}
}

func TestWaitUnbounded(t *testing.T) {
	q := &fakeQuerier{responses: []response{
		{jobs: []Job{pending("a1")}},
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	p := fastPolicy
	p.MaxPolls = -1
	_, err := Wait(ctx, q, []string{"a1"}, p)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() err = %v; want %v", err, context.DeadlineExceeded)
	}
}

func TestWaitCanceled(t *testing.T) {
	q := &fakeQuerier{responses: []response{
		{jobs: []Job{pending("a1")}},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := fastPolicy
	p.Interval = time.Hour
	_, err := Wait(ctx, q, []string{"a1"}, p)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() err = %v; want %v", err, context.Canceled)
	}
	if q.calls != 0 {
		t.Errorf("calls = %d; want 0", q.calls)
	}
}

func TestWaitMissingJob(t *testing.T) {
	q := &fakeQuerier{responses: []response{
		{jobs: []Job{complete("a1")}},
		{jobs: []Job{complete("a1"), complete("a2")}},
	}}
	jobs, err := Wait(context.Background(), q, []string{"a1", "a2"}, fastPolicy)
	if err != nil {
		t.Fatalf("Wait() err = %v; want nil", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("Wait() = %d jobs; want 2", len(jobs))
	}
}
