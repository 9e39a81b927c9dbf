package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rhythmiq/rhythmiq"
	"github.com/rhythmiq/rhythmiq/pkg/llm"
	"github.com/rhythmiq/rhythmiq/pkg/pipeline"
	"github.com/rhythmiq/rhythmiq/pkg/station"
	"github.com/rhythmiq/rhythmiq/pkg/storage"
	"github.com/rhythmiq/rhythmiq/pkg/suno"
)

type Config struct {
	rhythmiq.Config

	DBType string
	DBConn string

	Addr        string
	Credentials map[string]string
}

// Serve starts the http host of the pipeline.
func Serve(ctx context.Context, cfg *Config) error {
	log.Println("serve: server started")
	defer log.Println("serve: server ended")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	debug := func(format string, args ...interface{}) {
		if !cfg.Debug {
			return
		}
		format += "\n"
		log.Printf(format, args...)
	}

	store, err := storage.New(cfg.DBType, cfg.DBConn, cfg.Debug)
	if err != nil {
		return fmt.Errorf("serve: couldn't create orm store: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("serve: couldn't start orm store: %w", err)
	}
	defer func() {
		if err := store.Stop(context.Background()); err != nil {
			log.Printf("serve: couldn't stop orm store: %v\n", err)
		}
	}()

	engine, err := rhythmiq.Build(ctx, &cfg.Config, store, func(u pipeline.Update) {
		debug("serve: %s %s", u.ID, u.Status)
	})
	if err != nil {
		return fmt.Errorf("serve: couldn't build pipeline: %w", err)
	}
	defer engine.Stop(context.Background())

	host, port, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return fmt.Errorf("serve: invalid address %s: %w", cfg.Addr, err)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return fmt.Errorf("serve: invalid port: %s", port)
	}
	server := &http.Server{
		Addr:    net.JoinHostPort(host, port),
		Handler: NewRouter(engine.Pipeline, engine.Stations, store, cfg.Credentials, cfg.Debug),
	}
	go func() {
		note := fmt.Sprintf("http://%s", server.Addr)
		if host == "" {
			note = fmt.Sprintf("all interfaces http://localhost:%s", port)
		}
		log.Printf("serve: listening on %s\n", note)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("serve: failed to start server: %v\n", err)
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("serve: couldn't shutdown server: %w", err)
	}
	return nil
}

// Songs gives access to the stored songs.
type Songs interface {
	GetSong(ctx context.Context, id string) (*storage.Song, error)
	DeleteSong(ctx context.Context, id string) error
	ListSongs(ctx context.Context, page, size int, orderBy string, filter ...storage.Filter) ([]*storage.Song, error)
}

// NewRouter returns the http handler of the host api.
func NewRouter(p *pipeline.Pipeline, stations *station.Catalog, songs Songs, creds map[string]string, debug bool) http.Handler {
	mux := chi.NewRouter()

	// Add middleware
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)
	if debug {
		mux.Use(middleware.Logger)
	}
	if len(creds) > 0 {
		mux.Use(middleware.BasicAuth("rhythmiq", creds))
	}

	mux.Post("/write_song", func(w http.ResponseWriter, r *http.Request) {
		var req pipeline.Request
		if err := decode(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		d, err := p.WriteSong(r.Context(), req)
		if err != nil {
			log.Println("serve: couldn't write song:", err)
			writeJSON(w, statusCode(err), &errorResponse{
				Status: pipeline.StatusError,
				Stage:  pipeline.StageOf(err),
				Error:  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, &writeResponse{
			Draft:       d.Draft,
			Instruction: d.Instruction(),
			Model:       d.Model(),
			Nickname:    llm.Nickname(d.Model()),
		})
	})

	mux.Post("/sing", func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, fmt.Sprintf("couldn't read body: %v", err), http.StatusBadRequest)
			return
		}
		drafts, err := rhythmiq.ParseDrafts(b)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		o := p.Sing(r.Context(), drafts...)
		writeOutcome(w, o)
	})

	mux.Post("/orchestrate", func(w http.ResponseWriter, r *http.Request) {
		var req pipeline.Request
		if err := decode(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		o := p.Run(r.Context(), req)
		writeOutcome(w, o)
	})

	mux.Get("/api/stations", func(w http.ResponseWriter, r *http.Request) {
		var resp []stationResponse
		for _, s := range stations.List() {
			resp = append(resp, stationResponse{Station: s, Announcement: s.Announcement()})
		}
		writeJSON(w, http.StatusOK, resp)
	})

	mux.Get("/api/songs", func(w http.ResponseWriter, r *http.Request) {
		// Obtain page from query params
		page, err := strconv.Atoi(r.URL.Query().Get("page"))
		if err != nil {
			page = 1
		}
		size, err := strconv.Atoi(r.URL.Query().Get("size"))
		if err != nil || size <= 0 {
			size = 100
		}
		var filters []storage.Filter
		for _, q := range []string{"status", "station", "model"} {
			if v := r.URL.Query().Get(q); v != "" {
				filters = append(filters, storage.Where(fmt.Sprintf("%s = ?", q), v))
			}
		}
		vs, err := songs.ListSongs(r.Context(), page, size, "created_at desc", filters...)
		if err != nil {
			log.Println("serve: couldn't list songs:", err)
			http.Error(w, fmt.Sprintf("couldn't list songs: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, vs)
	})

	mux.Get("/api/songs/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		v, err := songs.GetSong(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, fmt.Sprintf("song %s not found", id), http.StatusNotFound)
			return
		}
		if err != nil {
			log.Println("serve: couldn't get song:", err)
			http.Error(w, fmt.Sprintf("couldn't get song: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, v)
	})

	mux.Delete("/api/songs/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := songs.DeleteSong(r.Context(), id); err != nil {
			log.Println("serve: couldn't delete song:", err)
			http.Error(w, fmt.Sprintf("couldn't delete song: %v", err), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}

func decode(r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("couldn't decode body: %w", err)
	}
	return nil
}

func writeOutcome(w http.ResponseWriter, o *pipeline.Outcome) {
	resp := toResponse(o)
	code := http.StatusOK
	if err := o.Failure(); err != nil {
		log.Println("serve:", err)
		code = statusCode(err)
	}
	writeJSON(w, code, resp)
}

// statusCode maps a pipeline failure to an http status.
func statusCode(err error) int {
	switch pipeline.StageOf(err) {
	case pipeline.StageConfig:
		return http.StatusInternalServerError
	case pipeline.StageParse:
		return http.StatusUnprocessableEntity
	}
	// Gateway answers that aren't the fault of the caller
	switch code := suno.StatusCode(err); {
	case code == http.StatusTooManyRequests:
		return http.StatusTooManyRequests
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return http.StatusInternalServerError
	case code == http.StatusGatewayTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Println("serve: couldn't encode response:", err)
	}
}

func toResponse(o *pipeline.Outcome) *outcomeResponse {
	resp := &outcomeResponse{
		ID:     o.ID,
		Status: o.Status(),
		Songs:  []songResponse{},
	}
	if o.Err != nil {
		resp.Stage = o.Err.Stage
		resp.Error = o.Err.Err.Error()
	}
	jobs := append([]suno.Job{}, o.Jobs...)
	var jobErr *suno.JobError
	if o.Err != nil && errors.As(o.Err.Err, &jobErr) {
		jobs = append(jobs, jobErr.Jobs...)
	}
	// Link every job to the draft it was submitted for
	type origin struct {
		title        string
		generationID string
	}
	origins := map[string]origin{}
	for i, b := range o.Batches {
		if i >= len(o.Drafts) {
			break
		}
		var generationID string
		if b.GenerationID != uuid.Nil {
			generationID = b.GenerationID.String()
		}
		for _, id := range b.IDs {
			origins[id] = origin{title: o.Drafts[i].Title, generationID: generationID}
		}
	}
	for _, j := range jobs {
		resp.Songs = append(resp.Songs, songResponse{
			ID:            j.ID,
			Title:         origins[j.ID].title,
			GenerationID:  origins[j.ID].generationID,
			Status:        string(j.Status),
			AudioURL:      j.Audio,
			ImageURL:      j.Image,
			ImageLargeURL: j.ImageLarge,
			VideoURL:      j.Video,
			Error:         j.Error,
		})
	}
	for _, d := range o.Drafts {
		resp.Titles = append(resp.Titles, d.Title)
	}
	return resp
}
