package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/rhythmiq/rhythmiq/pkg/storage"
	"github.com/rhythmiq/rhythmiq/pkg/suno"
)

type Config struct {
	Debug       bool
	DBType      string
	DBConn      string
	Timeout     time.Duration
	Concurrency int
	Limit       int
	Proxy       string

	Output string
}

// Run downloads the audio and cover art of the completed generations.
func Run(ctx context.Context, cfg *Config) error {
	var iteration int
	log.Printf("download: started\n")
	defer func() {
		log.Printf("download: ended (%d)\n", iteration)
	}()

	debug := func(format string, args ...any) {
		if !cfg.Debug {
			return
		}
		format += "\n"
		log.Printf(format, args...)
	}

	if err := os.MkdirAll(cfg.Output, 0755); err != nil {
		return fmt.Errorf("download: couldn't create output directory: %w", err)
	}

	store, err := storage.New(cfg.DBType, cfg.DBConn, cfg.Debug)
	if err != nil {
		return fmt.Errorf("download: couldn't create orm store: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("download: couldn't start orm store: %w", err)
	}
	defer func() { _ = store.Stop(ctx) }()

	httpClient := &http.Client{
		Timeout: 2 * time.Minute,
	}
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return fmt.Errorf("download: invalid proxy URL: %w", err)
		}
		httpClient.Transport = &http.Transport{
			Proxy: http.ProxyURL(u),
		}
	}

	nErr := 0
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 24 * time.Hour
	}
	ticker := time.NewTicker(timeout)
	defer ticker.Stop()

	// Concurrency settings
	concurrency := cfg.Concurrency
	if concurrency == 0 {
		concurrency = 1
	}
	errC := make(chan error, concurrency)
	for i := 0; i < concurrency; i++ {
		errC <- nil
	}
	var wg sync.WaitGroup
	defer wg.Wait()

	var currID string
	var gens []*storage.Generation
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("download: %w", ctx.Err())
		case <-ticker.C:
			return nil
		case err := <-errC:
			if err != nil {
				nErr += 1
			} else {
				nErr = 0
			}

			// Check exit conditions
			if nErr > 10 {
				return fmt.Errorf("download: too many consecutive errors: %w", err)
			}
			if cfg.Limit > 0 && iteration >= cfg.Limit {
				return nil
			}

			// Get next gens
			if len(gens) == 0 {
				var err error
				gens, err = store.ListGenerations(ctx, 1, 100, "id asc",
					storage.Where("id > ?", currID),
					storage.Where("status = ?", string(suno.StatusComplete)),
				)
				if err != nil {
					return fmt.Errorf("download: couldn't get generations from database: %w", err)
				}
				if len(gens) == 0 {
					log.Println("download: no more generations to download")
					return nil
				}
				currID = gens[len(gens)-1].ID
			}
			gen := gens[0]
			gens = gens[1:]
			iteration++

			// Launch download in a goroutine
			wg.Add(1)
			go func() {
				defer wg.Done()
				debug("download: start %s", gen.ExternalID)
				err := download(ctx, httpClient, gen, cfg.Output)
				if err != nil {
					log.Println(err)
				}
				debug("download: end %s", gen.ExternalID)
				errC <- err
			}()
		}
	}
}

func download(ctx context.Context, client *http.Client, gen *storage.Generation, output string) error {
	// External ids come from the gateway, keep them inside the output folder
	name := filepath.Base(filepath.Clean("/" + gen.ExternalID))
	if name == "/" || name == "." || name == "" {
		name = gen.ID
	}
	files := []struct {
		url string
		ext string
	}{
		{gen.Audio, ".mp3"},
		{gen.Image, ".jpeg"},
	}
	for _, f := range files {
		if f.url == "" {
			continue
		}
		ext := path.Ext(f.url)
		if u, err := url.Parse(f.url); err == nil {
			ext = path.Ext(u.Path)
		}
		if ext == "" {
			ext = f.ext
		}
		out := filepath.Join(output, name+ext)
		if _, err := os.Stat(out); err == nil {
			continue
		}
		if err := downloadFile(ctx, client, f.url, out); err != nil {
			return fmt.Errorf("download: couldn't download %s: %w", f.url, err)
		}
	}
	return nil
}

func downloadFile(ctx context.Context, client *http.Client, u, output string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("couldn't create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("couldn't get file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	// Write to a temp file first so partial downloads aren't kept
	tmp := output + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("couldn't create temp file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("couldn't write to temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("couldn't close temp file: %w", err)
	}
	if err := os.Rename(tmp, output); err != nil {
		return errors.Join(fmt.Errorf("couldn't rename temp file: %w", err), os.Remove(tmp))
	}
	return nil
}
