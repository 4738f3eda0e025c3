// Package google provides a Google Cloud Speech-to-Text recognizer.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"

	"speech-relay-service/internal/observability/logging"
	"speech-relay-service/internal/service/stt"
)

// Config is the recognition configuration sent as the first stream message.
type Config struct {
	LanguageCode   string
	SampleRateHz   int32
	InterimResults bool
	AudioEncoding  string
}

// DefaultConfig returns the settings used for Korean 16 kHz PCM.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "ko-KR",
		SampleRateHz:   16000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
	}
}

// parseAudioEncoding maps an enum name to its value. Unknown names fall back
// to LINEAR16.
func parseAudioEncoding(name string) speechpb.RecognitionConfig_AudioEncoding {
	if v, ok := speechpb.RecognitionConfig_AudioEncoding_value[name]; ok && v != 0 {
		return speechpb.RecognitionConfig_AudioEncoding(v)
	}
	return speechpb.RecognitionConfig_LINEAR16
}

type recognizeStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
type Adapter struct {
	cfg    Config
	client *speech.Client
	logger zerolog.Logger

	mu     sync.Mutex
	stream recognizeStream
	cb     stt.Callback
}

// New creates a Google recognizer. Credentials come from
// GOOGLE_APPLICATION_CREDENTIALS.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return &Adapter{
		cfg:    cfg,
		client: c,
		logger: logging.WithComponent("stt-google"),
	}, nil
}

// Start opens a streaming recognition session and sends the config.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	stream, err := a.client.StreamingRecognize(ctx)
	if err != nil {
		return fmt.Errorf("open recognize stream: %w", err)
	}
	return a.start(stream, cb)
}

func (a *Adapter) start(stream recognizeStream, cb stt.Callback) error {
	a.mu.Lock()
	a.stream = stream
	a.cb = cb
	a.mu.Unlock()

	a.logger.Info().
		Str("languageCode", a.cfg.LanguageCode).
		Int32("sampleRateHz", a.cfg.SampleRateHz).
		Str("encoding", a.cfg.AudioEncoding).
		Bool("interimResults", a.cfg.InterimResults).
		Msg("Starting streaming recognition")

	return stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: a.streamingConfig(),
		},
	})
}

func (a *Adapter) streamingConfig() *speechpb.StreamingRecognitionConfig {
	return &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   parseAudioEncoding(a.cfg.AudioEncoding),
			SampleRateHertz:            a.cfg.SampleRateHz,
			LanguageCode:               a.cfg.LanguageCode,
			EnableAutomaticPunctuation: true,
		},
		InterimResults: a.cfg.InterimResults,
	}
}

// SendAudio sends one audio frame.
func (a *Adapter) SendAudio(_ context.Context, audio []byte) error {
	a.mu.Lock()
	stream := a.stream
	a.mu.Unlock()
	if stream == nil {
		return errors.New("recognize stream not started")
	}
	return stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Close half-closes the stream; Listen returns once the service has sent its
// remaining results.
func (a *Adapter) Close() error {
	a.mu.Lock()
	stream := a.stream
	a.mu.Unlock()
	if stream == nil {
		return nil
	}
	return stream.CloseSend()
}

// Shutdown releases the underlying client.
func (a *Adapter) Shutdown() error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

// Listen receives responses and invokes the callback until the stream ends.
// It returns nil on a clean end of stream. Run it in its own goroutine after
// Start.
func (a *Adapter) Listen(ctx context.Context) error {
	a.mu.Lock()
	stream, cb := a.stream, a.cb
	a.mu.Unlock()
	if stream == nil {
		return errors.New("recognize stream not started")
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			cb.OnError(err)
			return err
		}
		if st := resp.GetError(); st != nil {
			err := fmt.Errorf("recognition error %d: %s", st.GetCode(), st.GetMessage())
			cb.OnError(err)
			return err
		}

		for _, r := range resp.GetResults() {
			if len(r.GetAlternatives()) == 0 {
				continue
			}
			alt := r.GetAlternatives()[0]
			if r.GetIsFinal() {
				cb.OnFinal(alt.GetTranscript(), float64(alt.GetConfidence()))
			} else {
				cb.OnPartial(alt.GetTranscript())
			}
		}
	}
}
