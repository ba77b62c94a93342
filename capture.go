package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bt-bridge/voice-ledger/shared"
	"github.com/bt-bridge/voice-ledger/tools"
	"go.uber.org/zap"
)

// micLock allows a single capturing session per process.
var micLock sync.Mutex

type captureRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// StartCapture opens the audio source and streams its frames as
// input_audio_buffer.append messages. When the session is not connected it
// connects first and gives up after the capture timeout.
func (s *Session) StartCapture(ctx context.Context) error {
	if s.source == nil {
		return shared.ErrNoAudioSource
	}
	s.mu.Lock()
	capturing, state := s.capture != nil, s.state
	s.mu.Unlock()
	if capturing {
		return nil
	}
	if state != Connected {
		wctx, cancel := context.WithTimeout(ctx, s.captureTimeout)
		err := s.Connect(wctx)
		expired := errors.Is(wctx.Err(), context.DeadlineExceeded)
		cancel()
		if err != nil {
			if expired {
				return fmt.Errorf("%w: %w", shared.ErrCaptureStartTimeout, err)
			}
			return err
		}
	}

	if !micLock.TryLock() {
		return &shared.ResourceError{Resource: "microphone", Err: shared.ErrMicrophoneBusy}
	}
	capture, err := s.source.Open(ctx, s.format)
	if err != nil {
		micLock.Unlock()
		var re *shared.ResourceError
		if !errors.As(err, &re) {
			err = &shared.ResourceError{Resource: "microphone", Err: err}
		}
		s.logger.Error("opening audio source", err)
		return err
	}

	s.mu.Lock()
	if s.state != Connected || s.capture != nil {
		running := s.capture != nil
		s.mu.Unlock()
		_ = capture.Close()
		micLock.Unlock()
		if running {
			return nil
		}
		return shared.ErrNotConnected
	}
	runCtx, cancel := context.WithCancel(s.connCtx)
	run := &captureRun{cancel: cancel, done: make(chan struct{})}
	s.capture = run
	conn, gen := s.conn, s.gen
	s.mu.Unlock()

	go s.captureLoop(runCtx, run, capture, conn, gen)
	s.logger.Info("capture started", zap.Int("sample_rate", s.format.SampleRate))
	return nil
}

// StopCapture releases the audio source before returning. It is a no-op when
// not capturing.
func (s *Session) StopCapture() {
	s.mu.Lock()
	run := s.capture
	s.mu.Unlock()
	if run == nil {
		return
	}
	run.cancel()
	<-run.done
}

func (s *Session) IsCapturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capture != nil
}

func (s *Session) captureLoop(ctx context.Context, run *captureRun, capture tools.Capture, conn Conn, gen uint64) {
	defer close(run.done)
	defer func() {
		if err := capture.Close(); err != nil {
			s.logger.Warn("closing audio source", zap.Error(err))
		}
		micLock.Unlock()
		s.mu.Lock()
		if s.capture == run {
			s.capture = nil
		}
		s.mu.Unlock()
		run.cancel()
		s.logger.Info("capture stopped")
	}()

	frames := capture.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				if err := capture.Err(); err != nil {
					s.logger.Error("audio source failed", err)
					s.reportError(err)
				}
				return
			}
			if err := s.send(ctx, conn, InputAudioAppendEvent(tools.EncodeAudioFrame(frame))); err != nil {
				if ctx.Err() != nil {
					return
				}
				// StopCapture waits on this goroutine.
				go s.connectionLost(gen, err)
				return
			}
		}
	}
}
