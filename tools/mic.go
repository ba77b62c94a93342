package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/bt-bridge/voice-ledger/shared"
	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
	"go.uber.org/zap"
)

// MicSource captures the default microphone through pion/mediadevices.
type MicSource struct {
	logger shared.LoggerAdapter
}

var _ AudioSource = (*MicSource)(nil)

func NewMicSource(logger shared.LoggerAdapter) (*MicSource, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	return &MicSource{logger: logger.With(zap.String("component", "mic"))}, nil
}

func (m *MicSource) Open(ctx context.Context, format AudioFormat) (Capture, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(format.SampleRate)
			c.ChannelCount = prop.Int(1)
			c.SampleSize = prop.Int(16)
		},
	})
	if err != nil {
		return nil, &shared.ResourceError{Resource: "microphone", Err: err}
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, &shared.ResourceError{Resource: "microphone", Err: errors.New("no audio track in stream")}
	}
	track, ok := tracks[0].(*mediadevices.AudioTrack)
	if !ok {
		_ = tracks[0].Close()
		return nil, &shared.ResourceError{Resource: "microphone", Err: fmt.Errorf("unexpected track type %T", tracks[0])}
	}
	for _, extra := range tracks[1:] {
		_ = extra.Close()
	}

	c := &micCapture{
		logger: m.logger,
		track:  track,
		frames: make(chan []float32, 8),
		done:   make(chan struct{}),
	}
	go c.run(ctx, track.NewReader(false), format)
	m.logger.Info("microphone opened", zap.Int("sampleRate", format.SampleRate))
	return c, nil
}

type micCapture struct {
	logger shared.LoggerAdapter
	track  *mediadevices.AudioTrack
	frames chan []float32

	mu   sync.Mutex
	err  error
	once sync.Once
	done chan struct{}
}

func (c *micCapture) Frames() <-chan []float32 { return c.frames }

func (c *micCapture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *micCapture) Close() (err error) {
	c.once.Do(func() {
		close(c.done)
		err = c.track.Close()
	})
	return err
}

func (c *micCapture) run(ctx context.Context, reader interface {
	Read() (wave.Audio, func(), error)
}, format AudioFormat) {
	defer close(c.frames)
	assembler := NewFrameAssembler(FrameSamples(format.FrameDuration, format.SampleRate, 1))
	for {
		chunk, release, err := reader.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) && !c.closed() {
				c.fail(&shared.ResourceError{Resource: "microphone", Err: err})
			}
			return
		}
		samples, rate, err := monoSamples(chunk)
		release()
		if err != nil {
			c.fail(&shared.ResourceError{Resource: "microphone", Err: err})
			return
		}
		for _, frame := range assembler.Push(Resample(samples, rate, format.SampleRate)) {
			select {
			case c.frames <- frame:
			case <-c.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *micCapture) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *micCapture) fail(err error) {
	c.logger.Error("microphone capture stopped", err)
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func monoSamples(chunk wave.Audio) ([]float32, int, error) {
	info := chunk.ChunkInfo()
	switch a := chunk.(type) {
	case *wave.Int16Interleaved:
		return DownmixInterleaved(Int16ToFloat(a.Data), info.Channels), info.SamplingRate, nil
	case *wave.Float32Interleaved:
		samples := make([]float32, len(a.Data))
		copy(samples, a.Data)
		return DownmixInterleaved(samples, info.Channels), info.SamplingRate, nil
	default:
		return nil, 0, fmt.Errorf("unsupported sample format %T", chunk)
	}
}
