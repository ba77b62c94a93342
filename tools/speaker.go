package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/bt-bridge/voice-ledger/shared"
	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
)

// SpeakerSink plays PCM16 mono through the default output device.
type SpeakerSink struct {
	logger       shared.LoggerAdapter
	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	buffer       *AudioBuffer

	mu sync.Mutex
}

var _ AudioSink = (*SpeakerSink)(nil)

func NewSpeakerSink(logger shared.LoggerAdapter, sampleRate int, bufferSeconds int) (*SpeakerSink, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	logger = logger.With(zap.String("component", "speaker"))
	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Trace("malgo", zap.String("message", message))
	})
	if err != nil {
		return nil, &shared.ResourceError{Resource: "speaker", Err: err}
	}

	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * WireChannels
	s := &SpeakerSink{
		logger:       logger,
		audioContext: audioCtx,
		buffer:       NewAudioBuffer(bufferSeconds * sampleRate * bytesPerFrame),
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.SampleRate = uint32(sampleRate)
	cfg.Playback.Format = format
	cfg.Playback.Channels = WireChannels
	cfg.Alsa.NoMMap = 1
	cfg.PeriodSizeInFrames = uint32(sampleRate / 20)
	cfg.Periods = 4

	s.device, err = malgo.InitDevice(audioCtx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			s.buffer.Read(out[:int(frameCount)*bytesPerFrame])
		},
	})
	if err != nil {
		s.freeContext()
		return nil, &shared.ResourceError{Resource: "speaker", Err: err}
	}
	if err := s.device.Start(); err != nil {
		s.device.Uninit()
		s.freeContext()
		return nil, &shared.ResourceError{Resource: "speaker", Err: fmt.Errorf("starting playback device: %w", err)}
	}
	return s, nil
}

// PlayChunk returns once the device callback has pulled every byte of the
// chunk. Cancelling ctx discards what is left of this chunk and anything
// queued before it; audio written by a later call is kept.
func (s *SpeakerSink) PlayChunk(ctx context.Context, samples []float32) error {
	mark, dropped := s.buffer.Write(EncodeForWire(samples))
	if dropped > 0 {
		s.logger.Warn("playback buffer overflow", zap.Int("droppedBytes", dropped))
	}
	if err := s.buffer.WaitConsumed(ctx, mark); err != nil {
		s.buffer.DiscardThrough(mark)
		return err
	}
	return nil
}

func (s *SpeakerSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return nil
	}
	if err := s.device.Stop(); err != nil {
		s.logger.Error("stopping playback device", err)
	}
	s.device.Uninit()
	s.device = nil
	s.buffer.Reset()
	return s.freeContext()
}

func (s *SpeakerSink) freeContext() error {
	if s.audioContext == nil {
		return nil
	}
	err := s.audioContext.Uninit()
	s.audioContext.Free()
	s.audioContext = nil
	return err
}
