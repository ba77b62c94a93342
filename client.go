package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bt-bridge/voice-ledger/command"
	"github.com/bt-bridge/voice-ledger/shared"
	"github.com/bt-bridge/voice-ledger/tools"
	"go.uber.org/zap"
)

const DefaultCaptureTimeout = 10 * time.Second

type ErrorHandler func(err error)
type TranscriptHandler func(text string)
type StateHandler func(state ConnectionState)
type FunctionResultHandler func(call FunctionCall, result FunctionResult)

type Option func(*Session)

// WithAudioSource enables StartCapture. format.SampleRate should match the
// wire rate; sources resample when the device differs.
func WithAudioSource(src tools.AudioSource, format tools.AudioFormat) Option {
	return func(s *Session) {
		s.source = src
		s.format = format
	}
}

// WithPlayback routes audio deltas into q. Without it audio is dropped.
func WithPlayback(q *tools.PlaybackQueue) Option {
	return func(s *Session) { s.queue = q }
}

func WithInterpreter(i *command.Interpreter) Option {
	return func(s *Session) { s.interp = i }
}

func WithMetrics(m *shared.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

func WithCaptureTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.captureTimeout = d
		}
	}
}

// Session owns one realtime connection at a time together with its capture
// loop, playback queue and command interpreter.
type Session struct {
	logger         shared.LoggerAdapter
	metrics        *shared.Metrics
	provider       SessionConfigProvider
	transport      Transport
	bridge         HostBridge
	source         tools.AudioSource
	format         tools.AudioFormat
	queue          *tools.PlaybackQueue
	interp         *command.Interpreter
	captureTimeout time.Duration

	mu          sync.Mutex
	state       ConnectionState
	stateCh     chan struct{}
	lastErr     error
	gen         uint64
	conn        Conn
	connCtx     context.Context
	connCancel  context.CancelFunc
	capture     *captureRun
	seenCalls   map[string]struct{}
	textSources map[string]TextSource

	eh  ErrorHandler
	th  TranscriptHandler
	sh  StateHandler
	frh FunctionResultHandler
}

func NewSession(
	logger shared.LoggerAdapter,
	provider SessionConfigProvider,
	transport Transport,
	bridge HostBridge,
	opts ...Option,
) (*Session, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if provider == nil {
		return nil, shared.ErrNoConfigProvider
	}
	if transport == nil {
		return nil, shared.ErrNoTransport
	}
	if bridge == nil {
		return nil, shared.ErrNoHostBridge
	}
	s := &Session{
		logger:         logger.With(zap.String("component", "session")),
		provider:       provider,
		transport:      transport,
		bridge:         bridge,
		format:         tools.AudioFormat{SampleRate: tools.WireSampleRate, Channels: tools.WireChannels, FrameDuration: 100 * time.Millisecond},
		captureTimeout: DefaultCaptureTimeout,
		stateCh:        make(chan struct{}),
		seenCalls:      make(map[string]struct{}),
		textSources:    make(map[string]TextSource),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = shared.DefaultMetrics()
	}
	if s.interp == nil {
		var err error
		s.interp, err = command.NewInterpreter(logger, command.WithMetrics(s.metrics))
		if err != nil {
			return nil, fmt.Errorf("creating interpreter: %w", err)
		}
	}
	return s, nil
}

func (s *Session) RegisterErrorHandler(handler ErrorHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIdleLocked(handler != nil, s.eh != nil); err != nil {
		return err
	}
	s.eh = handler
	return nil
}

func (s *Session) RegisterTranscriptHandler(handler TranscriptHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIdleLocked(handler != nil, s.th != nil); err != nil {
		return err
	}
	s.th = handler
	return nil
}

func (s *Session) RegisterStateHandler(handler StateHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIdleLocked(handler != nil, s.sh != nil); err != nil {
		return err
	}
	s.sh = handler
	return nil
}

func (s *Session) RegisterFunctionResultHandler(handler FunctionResultHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIdleLocked(handler != nil, s.frh != nil); err != nil {
		return err
	}
	s.frh = handler
	return nil
}

func (s *Session) checkIdleLocked(given, set bool) error {
	if s.state == Connecting || s.state == Connected {
		return shared.ErrSessionAlreadyRunning
	}
	if set {
		return shared.ErrHandlerAlreadySet
	}
	if !given {
		return errors.New("handler is required")
	}
	return nil
}

func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the session into Error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) SetMuted(muted bool) {
	if s.queue != nil {
		s.queue.SetMuted(muted)
	}
}

// IsSpeaking reports whether received audio is being played.
func (s *Session) IsSpeaking() bool {
	return s.queue != nil && s.queue.IsPlaying()
}

// setStateLocked must be called with mu held. The returned func notifies the
// state handler and must be called after mu is released.
func (s *Session) setStateLocked(state ConnectionState, cause error) func() {
	if s.state == state {
		return func() {}
	}
	s.logger.Debug("connection state changed",
		zap.Stringer("prev", s.state),
		zap.Stringer("new", state),
	)
	s.state = state
	s.lastErr = cause
	close(s.stateCh)
	s.stateCh = make(chan struct{})
	sh := s.sh
	return func() {
		if sh != nil {
			sh(state)
		}
	}
}

// Connect fetches a fresh session config, dials the transport and sends the
// session configuration. It is a no-op when already connected and waits for
// the outcome when another Connect is in progress.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Connected:
		s.mu.Unlock()
		return nil
	case Connecting:
		s.mu.Unlock()
		return s.waitConnected(ctx)
	}
	s.gen++
	gen := s.gen
	notify := s.setStateLocked(Connecting, nil)
	s.mu.Unlock()
	notify()

	cfg, err := s.provider.Fetch(ctx)
	if err != nil {
		return s.failConnect(gen, fmt.Errorf("fetching session config: %w", err))
	}
	s.logger.Info("dialing realtime endpoint", zap.String("url", cfg.URL))
	conn, err := s.transport.Dial(ctx, cfg.URL, cfg.Credential)
	if err != nil {
		return s.failConnect(gen, err)
	}
	if err := s.send(ctx, conn, SessionUpdateEvent(cfg.Session)); err != nil {
		_ = conn.Close()
		return s.failConnect(gen, err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		cancel()
		_ = conn.Close()
		return shared.ErrSessionClosed
	}
	s.conn = conn
	s.connCtx = connCtx
	s.connCancel = cancel
	clear(s.seenCalls)
	clear(s.textSources)
	notify = s.setStateLocked(Connected, nil)
	s.mu.Unlock()
	notify()

	go s.receive(connCtx, conn, gen)
	go s.deliver(connCtx)
	s.logger.Info("session connected")
	return nil
}

func (s *Session) failConnect(gen uint64, err error) error {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return err
	}
	notify := s.setStateLocked(Error, err)
	s.mu.Unlock()
	notify()
	s.logger.Error("connecting failed", err)
	return err
}

// waitConnected blocks until a pending Connect resolves.
func (s *Session) waitConnected(ctx context.Context) error {
	for {
		s.mu.Lock()
		state, ch, lastErr := s.state, s.stateCh, s.lastErr
		s.mu.Unlock()
		switch state {
		case Connected:
			return nil
		case Error:
			return lastErr
		case Disconnected:
			return shared.ErrNotConnected
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Disconnect stops capture, discards queued playback, abandons in-flight
// function calls and closes the transport. It is idempotent.
func (s *Session) Disconnect() error {
	s.StopCapture()
	return s.teardown(Disconnected, nil)
}

func (s *Session) teardown(state ConnectionState, cause error) error {
	s.mu.Lock()
	s.gen++
	conn, cancel := s.conn, s.connCancel
	s.conn, s.connCancel = nil, nil
	clear(s.seenCalls)
	clear(s.textSources)
	notify := s.setStateLocked(state, cause)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s.queue != nil {
		s.queue.Clear()
	}
	s.interp.Reset()
	notify()
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil && !errors.Is(err, shared.ErrTransportClosed) {
		s.logger.Warn("closing transport", zap.Error(err))
		return err
	}
	return nil
}

// connectionLost handles a failed read or write on the connection of gen.
func (s *Session) connectionLost(gen uint64, err error) {
	s.mu.Lock()
	current := s.gen == gen
	s.mu.Unlock()
	if !current {
		return
	}
	s.StopCapture()
	if errors.Is(err, shared.ErrTransportClosed) {
		s.logger.Info("connection closed by remote")
		_ = s.teardownIfCurrent(gen, Disconnected, nil)
		return
	}
	s.logger.Error("connection lost", err)
	if s.teardownIfCurrent(gen, Error, err) {
		s.reportError(err)
	}
}

func (s *Session) teardownIfCurrent(gen uint64, state ConnectionState, cause error) bool {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()
	_ = s.teardown(state, cause)
	return true
}

func (s *Session) send(ctx context.Context, conn Conn, event *ClientEvent) error {
	data, err := event.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", event.Type, err)
	}
	if err := conn.WriteMessage(ctx, data); err != nil {
		return err
	}
	s.logger.Trace("sent event", zap.String("type", string(event.Type)), zap.String("event_id", event.EventId))
	return nil
}

func (s *Session) reportError(err error) {
	s.mu.Lock()
	eh := s.eh
	s.mu.Unlock()
	if eh != nil {
		eh(err)
	}
}
