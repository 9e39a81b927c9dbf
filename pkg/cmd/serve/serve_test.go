package serve

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rhythmiq/rhythmiq/pkg/pipeline"
	"github.com/rhythmiq/rhythmiq/pkg/prompt"
	"github.com/rhythmiq/rhythmiq/pkg/song"
	"github.com/rhythmiq/rhythmiq/pkg/station"
	"github.com/rhythmiq/rhythmiq/pkg/storage"
	"github.com/rhythmiq/rhythmiq/pkg/suno"
)

const lyrics = "<use_tool><name>song</name><title>Rise Again</title><lyrics>We rise</lyrics><style>rock</style></use_tool>"

type generator struct{ text string }

func (g *generator) Generate(ctx context.Context, system, user, model string) (string, error) {
	return g.text, nil
}

// singer returns the given jobs, or one completed job per draft if there
// are none.
type singer struct{ jobs []suno.Job }

func (s *singer) Submit(ctx context.Context, d *song.Draft) (*suno.Batch, error) {
	if s.jobs == nil {
		return &suno.Batch{GenerationID: uuid.New(), IDs: []string{d.Title + "-1"}}, nil
	}
	var ids []string
	for _, j := range s.jobs {
		ids = append(ids, j.ID)
	}
	return &suno.Batch{IDs: ids}, nil
}

func (s *singer) Query(ctx context.Context, ids []string) ([]suno.Job, error) {
	if s.jobs == nil {
		var jobs []suno.Job
		for _, id := range ids {
			jobs = append(jobs, suno.Job{ID: id, Status: suno.StatusComplete, Media: suno.Media{Audio: id + ".mp3"}})
		}
		return jobs, nil
	}
	return s.jobs, nil
}

type songs struct {
	page, size int
	deleted    string
}

func (s *songs) GetSong(ctx context.Context, id string) (*storage.Song, error) {
	if id != "01" {
		return nil, storage.ErrNotFound
	}
	return &storage.Song{ID: "01", Title: "Rise Again"}, nil
}

func (s *songs) DeleteSong(ctx context.Context, id string) error {
	s.deleted = id
	return nil
}

func (s *songs) ListSongs(ctx context.Context, page, size int, orderBy string, filter ...storage.Filter) ([]*storage.Song, error) {
	s.page, s.size = page, size
	return []*storage.Song{{ID: "01", Title: "Rise Again"}}, nil
}

func newServer(t *testing.T, text string, jobs []suno.Job) (*httptest.Server, *songs) {
	t.Helper()
	a, err := prompt.New(&prompt.Config{})
	if err != nil {
		t.Fatal(err)
	}
	p, err := pipeline.New(&pipeline.Config{
		Prompt:    a,
		Generator: &generator{text: text},
		Singer:    &singer{jobs: jobs},
		Policy:    suno.Policy{Attempts: 1, RetryDelay: time.Millisecond, Interval: time.Millisecond},
	})
	if err != nil {
		t.Fatal(err)
	}
	s := &songs{}
	srv := httptest.NewServer(NewRouter(p, station.Default(), s, nil, false))
	t.Cleanup(srv.Close)
	return srv, s
}

func post(t *testing.T, u, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(u, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestWriteSong(t *testing.T) {
	srv, _ := newServer(t, lyrics, nil)
	resp := post(t, srv.URL+"/write_song", `{"instruction":"Write a song about resilience","model":"grok-3"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d; want %d", resp.StatusCode, http.StatusOK)
	}
	var got writeResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Title != "Rise Again" || got.Lyrics != "We rise" {
		t.Errorf("draft = %+v", got.Draft)
	}
	if got.Nickname != "Grok Rhymes" {
		t.Errorf("nickname = %q; want %q", got.Nickname, "Grok Rhymes")
	}
}

func TestWriteSongRefused(t *testing.T) {
	srv, _ := newServer(t, "no song today", nil)
	resp := post(t, srv.URL+"/write_song", `{"instruction":"x"}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d; want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}
	var got errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Stage != pipeline.StageParse || got.Status != pipeline.StatusError {
		t.Errorf("response = %+v", got)
	}
}

func TestSing(t *testing.T) {
	jobs := []suno.Job{
		{ID: "a1", Status: suno.StatusComplete, Media: suno.Media{Audio: "a1.mp3"}},
		{ID: "a2", Status: suno.StatusComplete, Media: suno.Media{Audio: "a2.mp3"}},
	}
	srv, _ := newServer(t, lyrics, jobs)
	resp := post(t, srv.URL+"/sing", `{"title":"Rise Again","lyrics":"We rise","style":"rock"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d; want %d", resp.StatusCode, http.StatusOK)
	}
	var got outcomeResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Status != pipeline.StatusComplete || len(got.Songs) != 2 {
		t.Fatalf("response = %+v", got)
	}
	if got.Songs[1].AudioURL != "a2.mp3" {
		t.Errorf("audio = %q; want %q", got.Songs[1].AudioURL, "a2.mp3")
	}
}

func TestSingBadRequest(t *testing.T) {
	srv, _ := newServer(t, lyrics, nil)
	resp := post(t, srv.URL+"/sing", `not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d; want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestOrchestrateJobError(t *testing.T) {
	jobs := []suno.Job{
		{ID: "a1", Status: suno.StatusError, Error: "content policy"},
		{ID: "a2", Status: suno.StatusPending},
	}
	srv, _ := newServer(t, lyrics, jobs)
	resp := post(t, srv.URL+"/orchestrate", `{}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d; want %d", resp.StatusCode, http.StatusBadGateway)
	}
	var got outcomeResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Stage != pipeline.StageJob {
		t.Errorf("stage = %q; want %q", got.Stage, pipeline.StageJob)
	}
	if len(got.Songs) != 1 || got.Songs[0].Error != "content policy" {
		t.Errorf("songs = %+v", got.Songs)
	}
}

func TestStationsAndSongs(t *testing.T) {
	srv, s := newServer(t, lyrics, nil)

	resp, err := http.Get(srv.URL + "/api/stations")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var stations []stationResponse
	if err := json.NewDecoder(resp.Body).Decode(&stations); err != nil {
		t.Fatal(err)
	}
	if len(stations) != 4 {
		t.Fatalf("stations = %d; want 4", len(stations))
	}
	workout, _ := station.Default().Get("workout")
	if stations[0].ID != "workout" || stations[0].Announcement != workout.Announcement() {
		t.Errorf("station = %+v", stations[0])
	}

	resp, err = http.Get(srv.URL + "/api/songs?page=2&size=5")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var vs []storage.Song
	if err := json.NewDecoder(resp.Body).Decode(&vs); err != nil {
		t.Fatal(err)
	}
	if len(vs) != 1 || vs[0].Title != "Rise Again" {
		t.Errorf("songs = %+v", vs)
	}
	if s.page != 2 || s.size != 5 {
		t.Errorf("page, size = %d, %d; want 2, 5", s.page, s.size)
	}
}

func TestSongByID(t *testing.T) {
	srv, s := newServer(t, lyrics, nil)

	resp, err := http.Get(srv.URL + "/api/songs/01")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var v storage.Song
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	if v.Title != "Rise Again" {
		t.Errorf("song = %+v", v)
	}

	resp, err = http.Get(srv.URL + "/api/songs/02")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d; want %d", resp.StatusCode, http.StatusNotFound)
	}

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/songs/01", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || s.deleted != "01" {
		t.Errorf("delete status = %d, deleted = %q", resp.StatusCode, s.deleted)
	}
}

func TestSingMultiple(t *testing.T) {
	srv, _ := newServer(t, lyrics, nil)
	resp := post(t, srv.URL+"/sing", `[{"title":"One","lyrics":"la"},{"title":"Two","lyrics":"na"}]`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d; want %d", resp.StatusCode, http.StatusOK)
	}
	var got outcomeResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.ID == "" {
		t.Error("run id = empty")
	}
	if len(got.Songs) != 2 {
		t.Fatalf("songs = %+v; want 2", got.Songs)
	}
	for i, title := range []string{"One", "Two"} {
		v := got.Songs[i]
		if v.Title != title || v.ID != title+"-1" || v.GenerationID == "" {
			t.Errorf("song %d = %+v; want title %s with generation id", i, v, title)
		}
	}
	if got.Songs[0].GenerationID == got.Songs[1].GenerationID {
		t.Error("songs share a generation id")
	}
}

func TestStatusCode(t *testing.T) {
	gateway := func(code int) error {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		defer srv.Close()
		c := suno.New(&suno.Config{BaseURL: srv.URL, Key: "secret", Wait: time.Millisecond})
		_, err := c.Submit(context.Background(), &song.Draft{Title: "T", Lyrics: "la"})
		if err == nil {
			t.Fatalf("Submit() err = nil; want %d", code)
		}
		return &pipeline.Error{Stage: pipeline.StageSubmit, Err: err}
	}
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"config", &pipeline.Error{Stage: pipeline.StageConfig, Err: errors.New("x")}, http.StatusInternalServerError},
		{"parse", &pipeline.Error{Stage: pipeline.StageParse, Err: errors.New("x")}, http.StatusUnprocessableEntity},
		{"lyrics", &pipeline.Error{Stage: pipeline.StageLyrics, Err: errors.New("x")}, http.StatusBadGateway},
		{"rate limited", gateway(http.StatusTooManyRequests), http.StatusTooManyRequests},
		{"unauthorized", gateway(http.StatusUnauthorized), http.StatusInternalServerError},
		{"gateway timeout", gateway(http.StatusGatewayTimeout), http.StatusGatewayTimeout},
		{"gateway error", gateway(http.StatusInternalServerError), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusCode(tt.err); got != tt.want {
				t.Errorf("statusCode() = %d; want %d", got, tt.want)
			}
		})
	}
}
