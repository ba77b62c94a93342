package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	realtime "github.com/bt-bridge/voice-ledger"
	"github.com/bt-bridge/voice-ledger/command"
	"github.com/bt-bridge/voice-ledger/shared"
	"go.uber.org/zap"
)

const DefaultWriteTimeout = 10 * time.Second

// Notifier is told about every persisted command. Notify must not block.
type Notifier interface {
	Notify(cmd *command.Command, agent string)
}

// Outcome reports one asynchronous persistence attempt.
type Outcome struct {
	Command *command.Command
	Record  *Record
	Err     error
}

type BridgeOption func(*Bridge)

func WithNotifier(n Notifier) BridgeOption {
	return func(b *Bridge) { b.notifier = n }
}

// WithAgent names the person or device commands are attributed to.
func WithAgent(name string) BridgeOption {
	return func(b *Bridge) { b.agent = name }
}

// WithOutcomeHandler receives the result of every OnCommandReady write.
func WithOutcomeHandler(fn func(Outcome)) BridgeOption {
	return func(b *Bridge) { b.onOutcome = fn }
}

func WithWriteTimeout(d time.Duration) BridgeOption {
	return func(b *Bridge) { b.timeout = d }
}

// Bridge is the default realtime.HostBridge. It appends every completed
// command to a Store under one sheet id.
type Bridge struct {
	logger    shared.LoggerAdapter
	store     Store
	sheetID   string
	agent     string
	notifier  Notifier
	onOutcome func(Outcome)
	timeout   time.Duration

	wg sync.WaitGroup
}

var _ realtime.HostBridge = (*Bridge)(nil)

func NewBridge(logger shared.LoggerAdapter, store Store, sheetID string, opts ...BridgeOption) (*Bridge, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if store == nil {
		return nil, errors.New("ledger: store is required")
	}
	if sheetID == "" {
		return nil, errors.New("ledger: sheet id is required")
	}
	b := &Bridge{
		logger:  logger.With(zap.String("component", "ledger"), zap.String("sheet_id", sheetID)),
		store:   store,
		sheetID: sheetID,
		timeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// OnCommandReady persists in the background. The write outlives the
// connection that produced the command.
func (b *Bridge) OnCommandReady(ctx context.Context, cmd *command.Command) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
		defer cancel()
		rec, err := b.persist(wctx, cmd)
		if b.onOutcome != nil {
			b.onOutcome(Outcome{Command: cmd, Record: rec, Err: err})
		}
	}()
}

// ExecuteFunction persists synchronously, bounded by ctx and the write
// timeout, and answers with a confirmation the model can read back.
func (b *Bridge) ExecuteFunction(ctx context.Context, call realtime.FunctionCall) realtime.FunctionResult {
	if call.Command == nil {
		return realtime.FunctionResult{Success: false, Message: rejection(call)}
	}
	wctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if _, err := b.persist(wctx, call.Command); err != nil {
		return realtime.FunctionResult{
			Success: false,
			Message: fmt.Sprintf("Failed to log %s: %v", kindLabel(call.Command.Kind), err),
		}
	}
	return realtime.FunctionResult{Success: true, Message: call.Command.Summary()}
}

// Wait blocks until background writes and their outcome callbacks finish.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

func (b *Bridge) persist(ctx context.Context, cmd *command.Command) (*Record, error) {
	rec, err := NewRecord(b.sheetID, cmd)
	if err != nil {
		return nil, err
	}
	if err := b.store.Append(ctx, rec); err != nil {
		b.logger.Error("appending record", err, zap.String("kind", string(cmd.Kind)))
		return nil, err
	}
	b.logger.Info("record appended",
		zap.String("id", rec.ID),
		zap.String("kind", string(rec.Kind)),
		zap.String("strategy", string(rec.Strategy)),
	)
	if b.notifier != nil {
		b.notifier.Notify(cmd, b.agent)
	}
	return rec, nil
}

func rejection(call realtime.FunctionCall) string {
	var perr *shared.ParseError
	switch {
	case errors.As(call.ParseErr, &perr):
		return fmt.Sprintf("Could not read the arguments for %s", call.Name)
	case errors.Is(call.ParseErr, shared.ErrUnknownFunction):
		return fmt.Sprintf("Unknown function %s", call.Name)
	case errors.Is(call.ParseErr, command.ErrIncomplete):
		return fmt.Sprintf("Missing details for %s: %v", call.Name, call.ParseErr)
	}
	return fmt.Sprintf("Nothing to log for %s", call.Name)
}

func kindLabel(k command.Kind) string {
	if k == command.KindTimeLog {
		return "time log"
	}
	return string(k)
}
