package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"echoes/internal/infra"
	"echoes/internal/providers/fal"
	"echoes/internal/queue"
)

var CLI struct {
	Kind      string   `long:"kind" short:"k" description:"Job kind to run (see --list)"`
	Inputs    []string `long:"input" short:"i" description:"Input field as key=value; JSON values are decoded" value-name:"KEY=VALUE"`
	InputFile string   `long:"input-file" description:"JSON object file with input fields; --input entries override it"`
	APIKey    string   `long:"api-key" env:"FAL_KEY" description:"Fal API key"`
	QueueURL  string   `long:"queue-url" env:"FAL_QUEUE_BASE_URL" default:"https://queue.fal.run" description:"Fal queue API root"`
	Timeout   int      `long:"timeout" default:"0" description:"Abort after this many seconds (0 waits for the attempt bound)"`
	List      bool     `long:"list" description:"List job kinds and exit"`
	Debug     bool     `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

func main() {
	var parser = flags.NewParser(&CLI, flags.Default)
	if _, err := parser.Parse(); err != nil {
		switch flagsErr := err.(type) {
		case flags.ErrorType:
			if flagsErr == flags.ErrHelp {
				os.Exit(0)
			}
			os.Exit(1)
		default:
			os.Exit(1)
		}
	}

	appEnv := "production"
	if CLI.Debug {
		appEnv = "development"
	}
	logger := infra.NewLoggerTo(os.Stderr, appEnv)

	registry := queue.NewRegistry()
	if err := fal.Register(registry, fal.Options{
		QueueBaseURL: CLI.QueueURL,
		Storage:      fal.NewStorage(fal.StorageOptions{Logger: &logger}),
	}); err != nil {
		logger.Fatal().Err(err).Msg("failed to register job kinds")
	}

	if CLI.List {
		listKinds(os.Stdout, registry)
		return
	}

	d, err := registry.Lookup(CLI.Kind)
	if err != nil {
		logger.Fatal().Err(err).Msg("unknown job kind, see --list")
	}
	input, err := parseInputs(CLI.Inputs, CLI.InputFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid input")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if CLI.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(CLI.Timeout)*time.Second)
		defer cancel()
	}

	client := queue.NewClient(
		queue.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
		queue.WithLogger(&logger),
	)
	res, err := client.Run(ctx, d, queue.Request{APIKey: CLI.APIKey, Input: input}, func(s queue.Snapshot) {
		event := logger.Info().
			Str("status", string(s.Status)).
			Int("attempt", s.Attempt)
		if n := len(s.Logs); n > 0 {
			event = event.Str("log", s.Logs[n-1])
		}
		event.Msg("poll")
	})
	if err != nil {
		event := logger.Error().Err(err).Str("kind", queue.KindName(err))
		if logs := queue.LogsOf(err); len(logs) > 0 {
			event = event.Strs("logs", logs)
		}
		event.Msg("job did not complete")
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		logger.Fatal().Err(err).Msg("failed to write result")
	}
}

func listKinds(w io.Writer, registry *queue.Registry) {
	for _, d := range registry.Descriptors() {
		fmt.Fprintf(w, "%-26s %s\n", d.Kind, d.Title)
	}
}

// parseInputs merges the JSON object in file (if any) with key=value pairs.
// Values that parse as JSON keep their type; anything else is a string.
func parseInputs(pairs []string, file string) (map[string]any, error) {
	input := map[string]any{}
	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read input file: %w", err)
		}
		if err := json.Unmarshal(raw, &input); err != nil {
			return nil, fmt.Errorf("input file %s: %w", file, err)
		}
		if input == nil {
			input = map[string]any{}
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("input %q is not key=value", pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			input[key] = decoded
		} else {
			input[key] = value
		}
	}
	return input, nil
}
