package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/rhythmiq/rhythmiq"
	"github.com/rhythmiq/rhythmiq/pkg/pipeline"
	"github.com/rhythmiq/rhythmiq/pkg/storage"
)

type Config struct {
	rhythmiq.Config

	DBType      string
	DBConn      string
	Timeout     time.Duration
	Concurrency int
	WaitMin     time.Duration
	WaitMax     time.Duration
	Limit       int

	Input       string
	Instruction string
	Station     string
	Artist      string
}

type input struct {
	Weight      int    `json:"weight" csv:"weight"`
	Instruction string `json:"instruction" csv:"instruction"`
	Station     string `json:"station" csv:"station"`
	Artist      string `json:"artist" csv:"artist"`
	Model       string `json:"model" csv:"model"`
}

// Run launches the continuous song generation process.
func Run(ctx context.Context, cfg *Config) error {
	var iteration int
	log.Println("generate: process started")
	defer func() {
		log.Printf("generate: process ended (%d)\n", iteration)
	}()

	debug := func(format string, args ...interface{}) {
		if !cfg.Debug {
			return
		}
		format += "\n"
		log.Printf(format, args...)
	}

	if cfg.WaitMax < cfg.WaitMin {
		return fmt.Errorf("generate: wait max (%s) is lower than wait min (%s)", cfg.WaitMax, cfg.WaitMin)
	}

	next := func() pipeline.Request {
		return pipeline.Request{
			Instruction: cfg.Instruction,
			Station:     cfg.Station,
			Artist:      cfg.Artist,
			Model:       cfg.Model,
		}
	}
	if cfg.Input != "" {
		var err error
		next, err = toRequestFunc(cfg.Input)
		if err != nil {
			return err
		}
	}

	store, err := storage.New(cfg.DBType, cfg.DBConn, cfg.Debug)
	if err != nil {
		return fmt.Errorf("generate: couldn't create orm store: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("generate: couldn't start orm store: %w", err)
	}
	defer func() {
		if err := store.Stop(ctx); err != nil {
			log.Printf("generate: couldn't stop orm store: %v\n", err)
		}
	}()

	engine, err := rhythmiq.Build(ctx, &cfg.Config, store, func(u pipeline.Update) {
		debug("generate: %s %s", u.ID, u.Status)
	})
	if err != nil {
		return fmt.Errorf("generate: couldn't build pipeline: %w", err)
	}
	defer engine.Stop(ctx)

	// Print time stats
	start := time.Now()
	defer func() {
		if iteration == 0 {
			return
		}
		total := time.Since(start)
		log.Printf("generate: total time %s, average time %s\n", total, total/time.Duration(iteration))
	}()

	nErr := 0
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 24 * time.Hour
	}
	ticker := time.NewTicker(timeout)
	last := time.Now()
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

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("generate: %w", ctx.Err())
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
				return fmt.Errorf("generate: too many consecutive errors: %w", err)
			}
			if cfg.Limit > 0 && iteration >= cfg.Limit {
				return nil
			}

			iteration++
			if time.Since(last) > 60*time.Minute {
				last = time.Now()
				log.Printf("generate: iteration %d\n", iteration)
			}

			// Wait for a random time.
			wait := 1 * time.Second
			if iteration > 1 && cfg.WaitMax > cfg.WaitMin {
				wait = time.Duration(rand.Int63n(int64(cfg.WaitMax-cfg.WaitMin))) + cfg.WaitMin
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("generate: %w", ctx.Err())
			case <-time.After(wait):
			}

			req := next()

			// Launch the pipeline in a goroutine
			wg.Add(1)
			go func() {
				defer wg.Done()
				debug("generate: start %q", req.Instruction)
				o := engine.Pipeline.Run(ctx, req)
				err := o.Failure()
				if err != nil {
					log.Println(err)
				} else {
					for _, j := range o.Jobs {
						log.Printf("generate: %s %s\n", j.ID, j.Audio)
					}
				}
				debug("generate: end %q", o.Instruction)
				errC <- err
			}()
		}
	}
}

func toRequestFunc(file string) (func() pipeline.Request, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("generate: couldn't read input file: %w", err)
	}
	inputs, err := parseInputs(filepath.Ext(file), b)
	if err != nil {
		return nil, err
	}
	var opts []pipeline.Request
	for _, i := range inputs {
		w := i.Weight
		if w <= 0 {
			w = 1
		}
		req := pipeline.Request{
			Instruction: i.Instruction,
			Station:     i.Station,
			Artist:      i.Artist,
			Model:       i.Model,
		}
		for n := 0; n < w; n++ {
			opts = append(opts, req)
		}
	}
	return func() pipeline.Request {
		return opts[rand.Intn(len(opts))]
	}, nil
}

func parseInputs(ext string, b []byte) ([]*input, error) {
	var unmarshal func([]byte) ([]*input, error)
	switch ext {
	case ".json":
		unmarshal = func(b []byte) ([]*input, error) {
			var is []*input
			if err := json.Unmarshal(b, &is); err != nil {
				return nil, fmt.Errorf("couldn't unmarshal items: %w", err)
			}
			return is, nil
		}
	case ".csv":
		unmarshal = func(b []byte) ([]*input, error) {
			var is []*input
			if err := gocsv.UnmarshalBytes(b, &is); err != nil {
				return nil, fmt.Errorf("couldn't unmarshal items: %w", err)
			}
			return is, nil
		}
	default:
		return nil, fmt.Errorf("generate: unsupported input format: %s", ext)
	}
	inputs, err := unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("generate: couldn't unmarshal input: %w", err)
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("generate: no inputs found in file")
	}
	return inputs, nil
}
