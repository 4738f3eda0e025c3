// Command relayclient runs the producing side of the relay: it feeds audio to
// a recognizer, buffers settled text and posts it to the ingestion server on
// a fixed interval.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"speech-relay-service/internal/app"
	"speech-relay-service/internal/config"
	"speech-relay-service/internal/models"
	"speech-relay-service/internal/observability"
	"speech-relay-service/internal/observability/logging"
	"speech-relay-service/internal/observability/metrics"
	"speech-relay-service/internal/service/buffer"
	"speech-relay-service/internal/service/relay"
	"speech-relay-service/internal/service/source"
	"speech-relay-service/internal/service/stt"
	"speech-relay-service/internal/service/stt/google"
	"speech-relay-service/internal/service/stt/mock"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("Relay client failed")
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("relayclient", pflag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	ingestURL := fs.String("ingest-url", "", "ingestion endpoint URL")
	flushInterval := fs.Duration("flush-interval", 0, "interval between buffer flushes")
	provider := fs.StringP("provider", "p", "", "transcription provider (mock, google)")
	audioFile := fs.StringP("audio", "a", "", "raw PCM or WAV input; - reads stdin")
	includePartial := fs.Bool("include-partial", false, "append the latest partial to each flush")
	metricsAddr := fs.String("metrics-addr", "", "observability listen address; empty disables")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		return err
	}
	if fs.Changed("ingest-url") {
		cfg.Relay.IngestURL = *ingestURL
	}
	if fs.Changed("flush-interval") {
		cfg.Relay.FlushInterval = *flushInterval
	}
	if fs.Changed("provider") {
		cfg.STT.Provider = *provider
	}
	if fs.Changed("audio") {
		cfg.STT.AudioFile = *audioFile
	}
	if fs.Changed("include-partial") {
		cfg.Relay.IncludePartial = *includePartial
	}
	if fs.Changed("metrics-addr") {
		cfg.Observability.MetricsAddr = *metricsAddr
	}
	if fs.Changed("log-level") {
		cfg.Observability.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	application := app.New(cfg, "client")
	if err := application.Start(); err != nil {
		return err
	}
	defer application.Shutdown()
	logger := application.Logger

	logger.Info().
		Str("ingestUrl", cfg.Relay.IngestURL).
		Dur("flushInterval", cfg.Relay.FlushInterval).
		Dur("requestTimeout", cfg.Relay.RequestTimeout).
		Int("maxRetries", cfg.Relay.MaxRetries).
		Str("provider", cfg.STT.Provider).
		Str("languageCode", cfg.STT.LanguageCode).
		Bool("includePartial", cfg.Relay.IncludePartial).
		Msg("STT realtime relay client")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	audio, closeAudio, err := openAudio(cfg.STT)
	if err != nil {
		return err
	}
	defer closeAudio()

	adapter, listener, err := newRecognizer(ctx, cfg.STT)
	if err != nil {
		return err
	}
	if s, ok := adapter.(interface{ Shutdown() error }); ok {
		defer s.Shutdown()
	}

	pipeline, err := relay.New(relay.Options{
		Relay:         cfg.Relay,
		Adapter:       adapter,
		Listener:      listener,
		Audio:         audio,
		FrameSize:     source.FrameSize(cfg.STT.SampleRateHz, cfg.STT.FrameInterval),
		FrameInterval: cfg.STT.FrameInterval,
		Metrics:       metrics.DefaultMetrics,
		OnDisplay:     display(logging.WithComponent("display")),
	})
	if err != nil {
		return err
	}

	if cfg.Observability.MetricsAddr != "" {
		obs := observability.NewServer(cfg.Observability.MetricsAddr, nil, nil)
		if err := obs.Start(); err != nil {
			return fmt.Errorf("start observability server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = obs.Shutdown(shutdownCtx)
		}()
	}

	logger.Info().Msg("Listening for speech (Ctrl+C to stop)")
	_, err = pipeline.Run(ctx)
	return err
}

// openAudio opens the configured audio input. The mock recognizer with no
// file gets no reader and runs on silent frames.
func openAudio(cfg config.STTConfig) (io.Reader, func(), error) {
	noop := func() {}
	switch {
	case cfg.AudioFile == "-":
		return os.Stdin, noop, nil
	case cfg.AudioFile != "":
		f, err := os.Open(cfg.AudioFile)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open audio file: %w", err)
		}
		return f, func() { f.Close() }, nil
	case cfg.Provider == "google":
		return os.Stdin, noop, nil
	default:
		return nil, noop, nil
	}
}

func newRecognizer(ctx context.Context, cfg config.STTConfig) (stt.Adapter, relay.Listener, error) {
	switch strings.ToLower(cfg.Provider) {
	case "google":
		a, err := google.New(ctx, google.Config{
			LanguageCode:   cfg.LanguageCode,
			SampleRateHz:   int32(cfg.SampleRateHz),
			InterimResults: cfg.InterimResults,
			AudioEncoding:  cfg.AudioEncoding,
		})
		if err != nil {
			return nil, nil, err
		}
		return a, a, nil
	default:
		return mock.New(), nil, nil
	}
}

// display echoes recognizer output: partials as the live line, finals as
// confirmed text.
func display(logger zerolog.Logger) buffer.DisplayFunc {
	return func(kind models.SegmentKind, text string) {
		if kind == models.Final {
			logger.Info().Str("text", text).Msg("Confirmed")
			return
		}
		logger.Debug().Str("text", text).Msg("Live")
	}
}
