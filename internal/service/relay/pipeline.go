// Package relay assembles the producing side: recognizer, buffer aggregator,
// flush scheduler, delivery client and statistics.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"speech-relay-service/internal/config"
	"speech-relay-service/internal/observability/logging"
	"speech-relay-service/internal/observability/metrics"
	"speech-relay-service/internal/service/buffer"
	"speech-relay-service/internal/service/delivery"
	"speech-relay-service/internal/service/flush"
	"speech-relay-service/internal/service/source"
	"speech-relay-service/internal/service/stats"
	"speech-relay-service/internal/service/stt"
)

// listenDrainTimeout bounds how long a streaming recognizer may keep sending
// results after its audio has ended.
const listenDrainTimeout = 5 * time.Second

// Listener is implemented by recognizers whose results arrive on a separate
// receive loop.
type Listener interface {
	Listen(ctx context.Context) error
}

// Options configures a Pipeline.
type Options struct {
	Relay    config.RelayConfig
	Adapter  stt.Adapter
	Listener Listener
	// Audio is nil for recognizers that need no input, which then receive
	// silent frames.
	Audio         io.Reader
	FrameSize     int
	FrameInterval time.Duration
	Metrics       *metrics.Metrics
	OnDisplay     buffer.DisplayFunc
	HTTPClient    *http.Client
}

// Pipeline runs the producing client until its context is cancelled or its
// audio ends.
type Pipeline struct {
	adapter  stt.Adapter
	listener Listener
	sink     *source.Sink
	pump     *source.Pump
	buffer   *buffer.Aggregator
	sched    *flush.Scheduler
	stats    *stats.Stats
	reporter *stats.Reporter
	logger   zerolog.Logger
}

// New wires the pipeline components.
func New(opts Options) (*Pipeline, error) {
	if opts.Adapter == nil {
		return nil, errors.New("recognizer adapter is required")
	}
	logger := logging.WithComponent("relay")

	if worst := opts.Relay.WorstCaseSendLatency(); opts.Relay.FlushInterval <= worst {
		logger.Warn().
			Dur("flushInterval", opts.Relay.FlushInterval).
			Dur("worstCaseSend", worst).
			Msg("Flush interval does not cover a full retry cycle; flush cadence will slip under network failure")
	}

	st := stats.New()
	agg := buffer.New(buffer.Options{
		IncludePartial: opts.Relay.IncludePartial,
		OnDisplay:      opts.OnDisplay,
		Metrics:        opts.Metrics,
	})
	client, err := delivery.New(delivery.Config{
		URL:        opts.Relay.IngestURL,
		Timeout:    opts.Relay.RequestTimeout,
		MaxRetries: opts.Relay.MaxRetries,
		Backoff:    opts.Relay.RetryBackoff,
		HTTPClient: opts.HTTPClient,
	}, st, opts.Metrics)
	if err != nil {
		return nil, fmt.Errorf("create delivery client: %w", err)
	}

	return &Pipeline{
		adapter:  opts.Adapter,
		listener: opts.Listener,
		sink:     source.NewSink(opts.Relay.QueueSize),
		pump:     source.NewPump(opts.Adapter, opts.Audio, opts.FrameSize, opts.FrameInterval),
		buffer:   agg,
		sched:    flush.New(agg, client, st, opts.Relay.FlushInterval, opts.Metrics),
		stats:    st,
		reporter: stats.NewReporter(st, opts.Relay.StatsInterval, logging.WithComponent("stats")),
		logger:   logger,
	}, nil
}

// Run blocks until ctx is cancelled or the audio ends. Buffered text then gets
// one final flush and the final statistics are logged and returned.
func (p *Pipeline) Run(ctx context.Context) (stats.Snapshot, error) {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	// The recognizer stream outlives ctx so results for audio already sent
	// can still arrive during shutdown.
	streamCtx, cancelStream := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelStream()

	if err := p.adapter.Start(streamCtx, p.sink); err != nil {
		return p.stats.Snapshot(), fmt.Errorf("start recognizer: %w", err)
	}
	p.logger.Info().Msg("Speech recognition started")

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer stop()
		defer p.sink.Close()
		return p.runSource(gctx, streamCtx, cancelStream)
	})
	g.Go(func() error {
		p.buffer.Run(p.sink.Segments())
		return nil
	})
	g.Go(func() error {
		return p.sched.Run(gctx)
	})
	g.Go(func() error {
		p.reporter.Run(gctx)
		return nil
	})

	err := g.Wait()

	p.sched.FlushFinal(context.Background())
	snap := p.reporter.Report("Final statistics")
	return snap, err
}

// Stats returns the current delivery statistics.
func (p *Pipeline) Stats() stats.Snapshot {
	return p.stats.Snapshot()
}

func (p *Pipeline) runSource(ctx, streamCtx context.Context, cancelStream context.CancelFunc) error {
	if p.listener == nil {
		return p.pump.Run(ctx)
	}

	listenErr := make(chan error, 1)
	go func() { listenErr <- p.listener.Listen(streamCtx) }()

	pumpErr := p.pump.Run(ctx)
	select {
	case err := <-listenErr:
		return errors.Join(pumpErr, err)
	case <-time.After(listenDrainTimeout):
		p.logger.Warn().Dur("timeout", listenDrainTimeout).Msg("Recognizer did not finish after audio ended")
		cancelStream()
		<-listenErr
		return pumpErr
	}
}
