package agents

import (
	"context"
	"errors"
	"fmt"
	"sync"

	realtime "github.com/bt-bridge/voice-ledger"
	"github.com/bt-bridge/voice-ledger/bootstrap"
	"github.com/bt-bridge/voice-ledger/command"
	"github.com/bt-bridge/voice-ledger/ledger"
	"github.com/bt-bridge/voice-ledger/notify"
	"github.com/bt-bridge/voice-ledger/shared"
	"github.com/bt-bridge/voice-ledger/tools"
	"github.com/goccy/go-yaml"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const speakerBufferSeconds = 2

// CLIAgent runs one voice session against the terminal: microphone in,
// speaker out, ledger writes and transcripts printed as they happen.
type CLIAgent struct {
	logger  shared.LoggerAdapter
	printer *shared.Printer
	cfg     *shared.Config

	session *realtime.Session
	bridge  *ledger.Bridge
	webhook *notify.Webhook
	speaker *tools.SpeakerSink
	queue   *tools.PlaybackQueue
	pool    *pgxpool.Pool

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

func (a *CLIAgent) Spawn(
	ctx context.Context,
	logger shared.LoggerAdapter,
	cfg *shared.Config,
	printer *shared.Printer,
	metrics *shared.Metrics,
) error {
	if logger == nil {
		return shared.ErrNoLogger
	}
	if cfg == nil {
		return shared.ErrNoConfig
	}
	if printer == nil {
		return errors.New("no printer provided")
	}
	if metrics == nil {
		metrics = shared.DefaultMetrics()
	}
	a.logger = logger.With(zap.String("component", "agent"))
	a.printer = printer
	a.cfg = cfg
	a.done = make(chan struct{})
	a.logger.Info("spawning CLI agent")
	a.say(0, "🤖 Spawning voice ledger agent...\n")

	if err := a.setupBridge(ctx); err != nil {
		a.logger.Error("setting up ledger", err)
		return err
	}

	provider, err := bootstrap.New(logger, cfg)
	if err != nil {
		a.logger.Error("creating session config provider", err)
		return err
	}
	transport, err := bootstrap.NewTransport(logger, cfg)
	if err != nil {
		a.logger.Error("creating transport", err)
		return err
	}

	opts := []realtime.Option{
		realtime.WithMetrics(metrics),
		realtime.WithCaptureTimeout(cfg.Capture.StartTimeout),
	}

	interp, err := command.NewInterpreter(logger,
		command.WithPendingTTL(cfg.Interpreter.PendingTTL),
		command.WithMaxBuffer(cfg.Interpreter.MaxBuffer),
		command.WithMetrics(metrics),
	)
	if err != nil {
		a.logger.Error("creating interpreter", err)
		return err
	}
	opts = append(opts, realtime.WithInterpreter(interp))

	// Playback is optional; a machine without an output device still logs.
	a.say(0, "🔈 Opening speaker...")
	if a.speaker, err = tools.NewSpeakerSink(logger, tools.WireSampleRate, speakerBufferSeconds); err != nil {
		a.logger.Warn("speaker unavailable, continuing without playback", zap.Error(err))
		a.say(0, "🔇 No audio output available, replies will only be printed.\n")
	} else {
		if a.queue, err = tools.NewPlaybackQueue(logger, a.speaker, metrics); err != nil {
			a.logger.Error("creating playback queue", err)
			return err
		}
		a.queue.SetMuted(cfg.Playback.Muted)
		opts = append(opts, realtime.WithPlayback(a.queue))
		a.say(0, "✅ Speaker ready.\n")
	}

	mic, err := tools.NewMicSource(logger)
	if err != nil {
		a.logger.Error("creating microphone source", err)
		return err
	}
	opts = append(opts, realtime.WithAudioSource(mic, tools.AudioFormat{
		SampleRate:    cfg.Capture.SampleRate,
		Channels:      tools.WireChannels,
		FrameDuration: cfg.Capture.FrameDuration,
	}))

	a.session, err = realtime.NewSession(logger, provider, transport, a.bridge, opts...)
	if err != nil {
		a.logger.Error("creating session", err)
		return err
	}
	if err := a.registerHandlers(); err != nil {
		a.logger.Error("registering session handlers", err)
		return err
	}

	if err := a.printSessionParams(); err != nil {
		return err
	}

	a.say(0, "\n\n🎤 Accessing microphone...")
	if err := a.session.StartCapture(ctx); err != nil {
		a.logger.Error("starting capture", err)
		var resErr *shared.ResourceError
		switch {
		case errors.As(err, &resErr):
			a.say(0, "❌ Unable to access microphone. Please ensure that your microphone is connected and that you have granted permission to access it.\n")
		case errors.Is(err, shared.ErrUnauthorized):
			a.say(0, "❌ The realtime endpoint rejected the credentials.\n")
		default:
			a.say(0, fmt.Sprintf("❌ Could not start the session: %v\n", err))
		}
		return err
	}
	a.logger.Info("capture started")
	a.say(0, "✅ Listening. Say something like \"lunch 500 rupees via UPI\".\n")
	return nil
}

func (a *CLIAgent) setupBridge(ctx context.Context) error {
	var store ledger.Store
	switch a.cfg.Store.Driver {
	case shared.StorePostgres:
		pool, err := pgxpool.New(ctx, a.cfg.Store.DSN)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		pg := ledger.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return err
		}
		a.pool = pool
		store = pg
	default:
		store = ledger.NewMemoryStore()
	}

	opts := []ledger.BridgeOption{
		ledger.WithAgent(a.cfg.Notify.Agent),
		ledger.WithOutcomeHandler(a.onOutcome),
	}
	if a.cfg.Notify.WebhookURL != "" {
		wh, err := notify.NewWebhook(a.logger, a.cfg.Notify)
		if err != nil {
			return err
		}
		a.webhook = wh
		opts = append(opts, ledger.WithNotifier(wh))
	}

	bridge, err := ledger.NewBridge(a.logger, store, a.cfg.Store.SheetID, opts...)
	if err != nil {
		return err
	}
	a.bridge = bridge
	return nil
}

func (a *CLIAgent) registerHandlers() error {
	if err := a.session.RegisterErrorHandler(func(err error) {
		a.say(1, fmt.Sprintf("⚠️  %v", err))
	}); err != nil {
		return err
	}
	if err := a.session.RegisterTranscriptHandler(func(text string) {
		a.say(1, "🗣  "+text)
	}); err != nil {
		return err
	}
	if err := a.session.RegisterStateHandler(func(state realtime.ConnectionState) {
		a.logger.Info("connection state changed", zap.Stringer("state", state))
		switch state {
		case realtime.Error:
			a.say(0, "❌ Connection lost.")
			a.finish()
		case realtime.Disconnected:
			a.say(0, "👋 Session closed.")
			a.finish()
		}
	}); err != nil {
		return err
	}
	return a.session.RegisterFunctionResultHandler(func(call realtime.FunctionCall, res realtime.FunctionResult) {
		if res.Success {
			a.say(1, "✅ "+res.Message)
			return
		}
		a.say(1, fmt.Sprintf("❌ %s: %s", call.Name, res.Message))
	})
}

func (a *CLIAgent) onOutcome(o ledger.Outcome) {
	if o.Err != nil {
		a.say(1, fmt.Sprintf("❌ Could not save %s: %v", o.Command.Kind, o.Err))
		return
	}
	a.say(1, "✅ "+o.Command.Summary())
}

func (a *CLIAgent) printSessionParams() error {
	a.say(0, "📋 Session Config\n")
	yamlBytes, err := yaml.Marshal(realtime.SessionParamsFromConfig(a.cfg.Realtime))
	if err != nil {
		a.logger.Error("marshaling session params to yaml", err)
		return err
	}
	if err := a.printer.Write(string(yamlBytes), 1); err != nil {
		a.logger.Error("printing session params", err)
		return err
	}
	return nil
}

func (a *CLIAgent) say(ind int, s string) {
	if err := a.printer.Writeln(s, ind); err != nil {
		a.logger.Error("printing message", err)
	}
}

func (a *CLIAgent) finish() {
	a.doneOnce.Do(func() { close(a.done) })
}

// Done is closed when the session ends on its own or after Close.
func (a *CLIAgent) Done() <-chan struct{} {
	return a.done
}

// Close stops capture, waits for pending ledger writes and notifications,
// then releases the audio device and database pool.
func (a *CLIAgent) Close() error {
	a.closeOnce.Do(func() {
		var errs []error
		if a.session != nil {
			if err := a.session.Disconnect(); err != nil {
				errs = append(errs, fmt.Errorf("disconnecting session: %w", err))
			}
		}
		if a.queue != nil {
			a.queue.Clear()
		}
		if a.bridge != nil {
			a.bridge.Wait()
		}
		if a.webhook != nil {
			a.webhook.Wait()
		}
		if a.speaker != nil {
			if err := a.speaker.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing speaker: %w", err))
			}
		}
		if a.pool != nil {
			a.pool.Close()
		}
		a.closeErr = errors.Join(errs...)
		if a.done != nil {
			a.finish()
		}
	})
	return a.closeErr
}
