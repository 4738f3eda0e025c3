package source

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"speech-relay-service/internal/observability/logging"
	"speech-relay-service/internal/service/stt"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// WAVFormat is the format block of a PCM WAV header.
type WAVFormat struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
}

// ErrNotWAV is returned by ParseWAVHeader for non RIFF/WAVE input.
var ErrNotWAV = errors.New("not a WAV header")

// ParseWAVHeader decodes a canonical 44-byte WAV header.
func ParseWAVHeader(header []byte) (WAVFormat, error) {
	if len(header) < wavHeaderSize || string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return WAVFormat{}, ErrNotWAV
	}
	return WAVFormat{
		AudioFormat:   binary.LittleEndian.Uint16(header[20:22]),
		Channels:      binary.LittleEndian.Uint16(header[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(header[24:28]),
		BitsPerSample: binary.LittleEndian.Uint16(header[34:36]),
	}, nil
}

// FrameSize returns the bytes of 16-bit mono PCM covering interval.
func FrameSize(sampleRateHz int, interval time.Duration) int {
	n := int(int64(sampleRateHz) * 2 * int64(interval) / int64(time.Second))
	if n < 2 {
		return 2
	}
	return n
}

// Pump feeds audio frames into a recognizer at a fixed cadence.
type Pump struct {
	adapter   stt.Adapter
	audio     io.Reader
	frameSize int
	interval  time.Duration
	logger    zerolog.Logger
}

// NewPump creates a pump. A nil audio reader sends silent frames until the
// context is cancelled, which is what the mock recognizer needs.
func NewPump(adapter stt.Adapter, audio io.Reader, frameSize int, interval time.Duration) *Pump {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if frameSize <= 0 {
		frameSize = FrameSize(16000, interval)
	}
	return &Pump{
		adapter:   adapter,
		audio:     audio,
		frameSize: frameSize,
		interval:  interval,
		logger:    logging.WithComponent("pump"),
	}
}

// Run streams frames until ctx is done or the audio ends, then closes the
// adapter. It returns nil on either clean stop.
func (p *Pump) Run(ctx context.Context) error {
	defer func() {
		if err := p.adapter.Close(); err != nil {
			p.logger.Warn().Err(err).Msg("Error closing recognizer")
		}
	}()

	var r *bufio.Reader
	if p.audio != nil {
		r = bufio.NewReaderSize(p.audio, max(p.frameSize, wavHeaderSize))
		p.skipWAVHeader(r)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	frame := make([]byte, p.frameSize)
	var frames, totalBytes int64
	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Int64("frames", frames).Int64("bytes", totalBytes).Msg("Audio pump stopped")
			return nil
		case <-ticker.C:
		}

		n := len(frame)
		if r != nil {
			var err error
			n, err = io.ReadFull(r, frame)
			if errors.Is(err, io.EOF) {
				p.logger.Info().Int64("frames", frames).Int64("bytes", totalBytes).Msg("Audio input finished")
				return nil
			}
			if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("read audio: %w", err)
			}
		}

		if err := p.adapter.SendAudio(ctx, frame[:n]); err != nil {
			return fmt.Errorf("send audio: %w", err)
		}
		frames++
		totalBytes += int64(n)
		if frames%100 == 0 {
			p.logger.Debug().Int64("frames", frames).Int64("bytes", totalBytes).Msg("Streaming audio")
		}
		if n < len(frame) {
			p.logger.Info().Int64("frames", frames).Int64("bytes", totalBytes).Msg("Audio input finished")
			return nil
		}
	}
}

func (p *Pump) skipWAVHeader(r *bufio.Reader) {
	header, err := r.Peek(wavHeaderSize)
	if err != nil {
		return
	}
	format, err := ParseWAVHeader(header)
	if err != nil {
		return
	}
	_, _ = r.Discard(wavHeaderSize)

	ev := p.logger.Info()
	if format.AudioFormat != 1 || format.BitsPerSample != 16 || format.Channels != 1 {
		ev = p.logger.Warn()
	}
	ev.Uint16("audioFormat", format.AudioFormat).
		Uint16("channels", format.Channels).
		Uint32("sampleRate", format.SampleRate).
		Uint16("bitsPerSample", format.BitsPerSample).
		Msg("WAV input detected")
}
