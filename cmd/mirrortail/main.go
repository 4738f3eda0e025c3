// Command mirrortail follows the Kafka message mirror and prints each stored
// message as it arrives.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"speech-relay-service/internal/config"
	"speech-relay-service/internal/events"
	"speech-relay-service/internal/observability/logging"
)

func main() {
	cfg := config.Load()

	brokers := pflag.StringSlice("brokers", cfg.Kafka.Brokers, "Kafka brokers")
	topic := pflag.String("topic", cfg.Kafka.Topic, "mirror topic")
	group := pflag.String("group", "", "consumer group (empty reads partition 0)")
	since := pflag.Duration("since", time.Hour, "replay window when no group is set")
	asJSON := pflag.Bool("json", false, "print raw JSON lines instead of log lines")
	pflag.Parse()

	logging.Init(logging.Config{
		Level:   cfg.Observability.LogLevel,
		Format:  "console",
		Service: "mirrortail",
	})
	logger := logging.WithComponent("mirrortail")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer, err := events.NewConsumer(ctx, events.ConsumerConfig{
		Brokers: *brokers,
		Topic:   *topic,
		GroupID: *group,
		Since:   *since,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kafka consumer")
	}
	defer consumer.Close()

	logger.Info().
		Strs("brokers", *brokers).
		Str("topic", *topic).
		Str("group", *group).
		Msg("Following message mirror")

	enc := json.NewEncoder(os.Stdout)
	err = consumer.Run(ctx, func(ev events.MessageEvent) {
		if *asJSON {
			_ = enc.Encode(ev)
			return
		}
		logger.Info().
			Int64("messageId", ev.MessageID).
			Float64("timestamp", ev.Timestamp).
			Str("principal", ev.Principal).
			Str("text", logging.Preview(ev.Text, 80)).
			Msg("Message")
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Consumer stopped")
	}
}
