// Command speech-relay runs the ingestion server: the HTTP API, the websocket
// push channel, the gRPC health service and the optional Kafka mirror.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	grpcapi "speech-relay-service/internal/api/grpc"
	"speech-relay-service/internal/app"
	"speech-relay-service/internal/config"
	"speech-relay-service/internal/events"
	apihttp "speech-relay-service/internal/http"
	"speech-relay-service/internal/observability/metrics"
	"speech-relay-service/internal/service/fanout"
	"speech-relay-service/internal/service/ingest"
	"speech-relay-service/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("Speech relay server failed")
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("speech-relay", pflag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	httpAddr := fs.String("http-addr", "", "HTTP listen address")
	grpcPort := fs.String("grpc-port", "", "gRPC health port")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	kafkaEnabled := fs.Bool("kafka", false, "mirror stored messages to Kafka")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		return err
	}
	if fs.Changed("http-addr") {
		cfg.Server.HTTPAddr = *httpAddr
	}
	if fs.Changed("grpc-port") {
		cfg.Server.GRPCPort = *grpcPort
	}
	if fs.Changed("log-level") {
		cfg.Observability.LogLevel = *logLevel
	}
	if fs.Changed("kafka") {
		cfg.Kafka.Enabled = *kafkaEnabled
	}

	application := app.New(cfg, "server")
	if err := application.Start(); err != nil {
		return err
	}
	defer application.Shutdown()
	logger := application.Logger

	m := metrics.DefaultMetrics
	messages := store.NewMemory()

	mirror := events.New(&events.Config{
		Enabled:   cfg.Kafka.Enabled,
		Brokers:   cfg.Kafka.Brokers,
		Topic:     cfg.Kafka.Topic,
		Principal: cfg.Kafka.Principal,
	}, m)
	defer mirror.Close()

	hub := fanout.NewHub(fanout.Options{
		SendQueue:      cfg.Fanout.SendQueue,
		WriteTimeout:   cfg.Fanout.WriteTimeout,
		AllowedOrigins: cfg.Server.CORSOrigins,
		Snapshot:       messages.List,
		Metrics:        m,
	})

	svc := ingest.New(messages, ingest.Options{
		Metrics:   m,
		Notifiers: []ingest.Notifier{hub, mirror},
	})

	var ready atomic.Bool
	router := apihttp.NewRouter(apihttp.Deps{
		Ingest:      svc,
		Subscribers: hub,
		Metrics:     m,
		CORSOrigins: cfg.Server.CORSOrigins,
		Ready:       ready.Load,
	})
	httpServer := apihttp.NewServer(cfg.Server.HTTPAddr, router)

	grpcLis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC port %s: %w", cfg.Server.GRPCPort, err)
	}
	health := grpcapi.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("addr", cfg.Server.HTTPAddr).
			Strs("corsOrigins", cfg.Server.CORSOrigins).
			Bool("kafka", mirror.Enabled()).
			Msg("Starting STT API server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := health.Serve(grpcLis); err != nil && !errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down")
		ready.Store(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		hub.Close()
		health.Stop()
		return err
	})

	ready.Store(true)
	return g.Wait()
}
