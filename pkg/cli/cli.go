package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/ffyaml"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/rhythmiq/rhythmiq"
	"github.com/rhythmiq/rhythmiq/pkg/cmd/download"
	"github.com/rhythmiq/rhythmiq/pkg/cmd/generate"
	"github.com/rhythmiq/rhythmiq/pkg/cmd/migrate"
	"github.com/rhythmiq/rhythmiq/pkg/cmd/serve"
	"github.com/rhythmiq/rhythmiq/pkg/pipeline"
	"gopkg.in/natefinch/lumberjack.v2"
)

const envPrefix = "RHYTHMIQ"

func New(version, commit, date string) *ffcli.Command {
	// Values from .env are loaded as environment variables if present
	_ = godotenv.Load()

	fs := flag.NewFlagSet("rhythmiq", flag.ExitOnError)

	return &ffcli.Command{
		ShortUsage: "rhythmiq [flags] <subcommand>",
		FlagSet:    fs,
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
		Subcommands: []*ffcli.Command{
			newVersionCommand(version, commit, date),
			newMigrateCommand(),
			newWriteCommand(),
			newSingCommand(),
			newOrchestrateCommand(),
			newGenerateCommand(),
			newServeCommand(),
			newDownloadCommand(),
		},
	}
}

func newVersionCommand(version, commit, date string) *ffcli.Command {
	return &ffcli.Command{
		Name:       "version",
		ShortUsage: "rhythmiq version",
		ShortHelp:  "print version",
		Exec: func(ctx context.Context, args []string) error {
			v := version
			if v == "" {
				if buildInfo, ok := debug.ReadBuildInfo(); ok {
					v = buildInfo.Main.Version
				}
			}
			if v == "" {
				v = "dev"
			}
			versionFields := []string{v}
			if commit != "" {
				versionFields = append(versionFields, commit)
			}
			if date != "" {
				versionFields = append(versionFields, date)
			}
			fmt.Println(strings.Join(versionFields, " "))
			return nil
		},
	}
}

func newCommand(cmd string, fs *flag.FlagSet, logFile *string, exec func(context.Context) error) *ffcli.Command {
	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("rhythmiq %s [flags] <key> <value data...>", cmd),
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ffyaml.Parser),
			ff.WithEnvVarPrefix(envPrefix),
		},
		ShortHelp: fmt.Sprintf("rhythmiq %s action", cmd),
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			closer := setLogOutput(*logFile)
			defer closer.Close()
			return exec(ctx)
		},
	}
}

func newMigrateCommand() *ffcli.Command {
	cmd := "migrate"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")
	logFile := fs.String("log-file", "", "log file with rotation (optional)")

	cfg := &migrate.Config{}
	fs.StringVar(&cfg.DBType, "db-type", "sqlite", "db type (sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "rhythmiq.db", "path for sqlite, dsn for mysql or postgres")

	return newCommand(cmd, fs, logFile, func(ctx context.Context) error {
		return migrate.Run(ctx, cfg)
	})
}

func newWriteCommand() *ffcli.Command {
	cmd := "write"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")
	logFile := fs.String("log-file", "", "log file with rotation (optional)")

	cfg := &rhythmiq.Config{}
	pipelineFlags(fs, cfg)
	req := &pipeline.Request{}
	requestFlags(fs, req)
	var output string
	fs.StringVar(&output, "output", "", "output json file (default stdout)")

	return newCommand(cmd, fs, logFile, func(ctx context.Context) error {
		return rhythmiq.WriteSong(ctx, cfg, *req, output)
	})
}

func newSingCommand() *ffcli.Command {
	cmd := "sing"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")
	logFile := fs.String("log-file", "", "log file with rotation (optional)")

	cfg := &rhythmiq.Config{}
	pipelineFlags(fs, cfg)
	var input, output string
	fs.StringVar(&input, "input", "", "json file with a song or a list of songs")
	fs.StringVar(&output, "output", "", "output json file (default stdout)")

	return newCommand(cmd, fs, logFile, func(ctx context.Context) error {
		if input == "" {
			return errors.New("sing: input is required")
		}
		return rhythmiq.Sing(ctx, cfg, input, output)
	})
}

func newOrchestrateCommand() *ffcli.Command {
	cmd := "orchestrate"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")
	logFile := fs.String("log-file", "", "log file with rotation (optional)")

	cfg := &rhythmiq.Config{}
	pipelineFlags(fs, cfg)
	req := &pipeline.Request{}
	requestFlags(fs, req)
	var output string
	fs.StringVar(&output, "output", "", "output json file (default stdout)")

	return newCommand(cmd, fs, logFile, func(ctx context.Context) error {
		return rhythmiq.Run(ctx, cfg, *req, output)
	})
}

func newGenerateCommand() *ffcli.Command {
	cmd := "generate"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")
	logFile := fs.String("log-file", "", "log file with rotation (optional)")

	cfg := &generate.Config{}
	pipelineFlags(fs, &cfg.Config)

	fs.StringVar(&cfg.DBType, "db-type", "sqlite", "db type (sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "rhythmiq.db", "path for sqlite, dsn for mysql or postgres")
	fs.DurationVar(&cfg.Timeout, "timeout", 0, "timeout for the process (0 means no timeout)")
	fs.IntVar(&cfg.Concurrency, "concurrency", 1, "number of concurrent processes")
	fs.IntVar(&cfg.Limit, "limit", 0, "limit the number iterations (0 means no limit)")
	fs.DurationVar(&cfg.WaitMin, "wait-min", 3*time.Second, "minimum wait time between songs")
	fs.DurationVar(&cfg.WaitMax, "wait-max", 1*time.Minute, "maximum wait time between songs")

	fs.StringVar(&cfg.Input, "input", "", "csv or json with instructions (fields: weight,instruction,station,artist,model)")
	fs.StringVar(&cfg.Instruction, "instruction", "", "instruction to use (random if empty)")
	fs.StringVar(&cfg.Station, "station", "", "station id")
	fs.StringVar(&cfg.Artist, "artist", "", "artist name")

	return newCommand(cmd, fs, logFile, func(ctx context.Context) error {
		return generate.Run(ctx, cfg)
	})
}

func newServeCommand() *ffcli.Command {
	cmd := "serve"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")
	logFile := fs.String("log-file", "", "log file with rotation (optional)")

	cfg := &serve.Config{}
	pipelineFlags(fs, &cfg.Config)

	fs.StringVar(&cfg.DBType, "db-type", "sqlite", "db type (sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "rhythmiq.db", "path for sqlite, dsn for mysql or postgres")
	fs.StringVar(&cfg.Addr, "addr", ":8000", "address to listen on")
	fsMapVar(fs, &cfg.Credentials, "creds", nil, "credentials to use (semicolon separated) Example: user1:pass1;user2:pass2")

	return newCommand(cmd, fs, logFile, func(ctx context.Context) error {
		return serve.Serve(ctx, cfg)
	})
}

func newDownloadCommand() *ffcli.Command {
	cmd := "download"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")
	logFile := fs.String("log-file", "", "log file with rotation (optional)")

	cfg := &download.Config{}
	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.Proxy, "proxy", "", "proxy to use")
	fs.StringVar(&cfg.DBType, "db-type", "sqlite", "db type (sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "rhythmiq.db", "path for sqlite, dsn for mysql or postgres")
	fs.DurationVar(&cfg.Timeout, "timeout", 0, "timeout for the process (0 means no timeout)")
	fs.IntVar(&cfg.Concurrency, "concurrency", 1, "number of concurrent downloads")
	fs.IntVar(&cfg.Limit, "limit", 0, "limit the number of generations (0 means no limit)")
	fs.StringVar(&cfg.Output, "output", "downloads", "output folder")

	return newCommand(cmd, fs, logFile, func(ctx context.Context) error {
		return download.Run(ctx, cfg)
	})
}

func pipelineFlags(fs *flag.FlagSet, cfg *rhythmiq.Config) {
	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.Proxy, "proxy", "", "proxy to use")

	fs.StringVar(&cfg.Backend, "backend", "remote", "language model backend (remote, local)")
	fs.StringVar(&cfg.LLMKey, "llm-key", "", "language model api key (required for remote backend)")
	fs.StringVar(&cfg.LLMURL, "llm-url", "", "language model base url (default depends on backend)")
	fs.StringVar(&cfg.Model, "model", "", "language model to use")
	fs.BoolVar(&cfg.RandomModel, "random-model", false, "pick a random model when none is given")
	fs.BoolVar(&cfg.RandomStation, "random-station", false, "pick a random station when none is given")
	fs.Float64Var(&cfg.Temperature, "temperature", 0.7, "language model temperature")
	fs.Float64Var(&cfg.TopP, "top-p", 0, "language model top p (0 means backend default)")
	fs.IntVar(&cfg.MaxTokens, "max-tokens", 0, "maximum tokens of the response (0 means backend default)")
	fs.DurationVar(&cfg.LLMWait, "llm-wait", 1*time.Second, "minimum time between language model requests")

	fs.StringVar(&cfg.SunoKey, "suno-key", "", "audio service api key")
	fs.StringVar(&cfg.SunoURL, "suno-url", "", "audio service base url")
	fs.StringVar(&cfg.SunoModel, "suno-model", "chirp-v3-5", "audio model version")
	fs.DurationVar(&cfg.SunoWait, "suno-wait", 1*time.Second, "minimum time between audio service requests")

	fs.IntVar(&cfg.PollAttempts, "poll-attempts", 3, "query attempts per poll cycle")
	fs.DurationVar(&cfg.PollRetryDelay, "poll-retry-delay", 2*time.Second, "wait between failed queries")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", 5*time.Second, "wait before each poll cycle")
	fs.IntVar(&cfg.PollMax, "poll-max", 120, "maximum poll cycles (negative means no limit)")
	fs.IntVar(&cfg.BatchSize, "batch-size", 2, "maximum audio jobs polled per song")

	fs.StringVar(&cfg.Templates, "templates", "", "prompt templates folder (default built-in)")
	fs.IntVar(&cfg.Shots, "shots", 2, "example songs added to the prompt (negative disables)")
	fs.StringVar(&cfg.Stations, "stations", "", "stations yaml file (default built-in)")
	fs.Int64Var(&cfg.Seed, "seed", 0, "random seed (0 means random)")
}

func requestFlags(fs *flag.FlagSet, req *pipeline.Request) {
	fs.StringVar(&req.Instruction, "instruction", "", "instruction to use (random if empty)")
	fs.StringVar(&req.Station, "station", "", "station id")
	fs.StringVar(&req.Artist, "artist", "", "artist name")
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// setLogOutput sends logs to a rotating file as well as stderr.
func setLogOutput(file string) io.Closer {
	if file == "" {
		return nopCloser{}
	}
	l := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     30,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, l))
	return l
}

type mapValue struct {
	v *map[string]string
}

func (m *mapValue) String() string {
	if m.v == nil {
		return ""
	}
	return fmt.Sprintf("%v", map[string]string(*m.v))
}

func (m *mapValue) Set(value string) error {
	if m.v == nil {
		return errors.New("nil map reference")
	}
	pairs := strings.Split(value, ";")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid map entry: %s", pair)
		}
		(*m.v)[parts[0]] = parts[1]
	}
	return nil
}

func fsMapVar(fs *flag.FlagSet, p *map[string]string, name string, value map[string]string, usage string) {
	if value == nil {
		value = make(map[string]string)
	}
	*p = value
	fs.Var(&mapValue{p}, name, usage)
}
