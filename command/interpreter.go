package command

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/bt-bridge/voice-ledger/shared"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

const (
	DefaultPendingTTL = 2 * time.Minute
	DefaultMaxBuffer  = 64 << 10
)

type Option func(*Interpreter)

// WithPendingTTL discards accumulated text older than ttl. Zero keeps text
// until the response ends.
func WithPendingTTL(ttl time.Duration) Option {
	return func(i *Interpreter) { i.pendingTTL = ttl }
}

func WithMaxBuffer(n int) Option {
	return func(i *Interpreter) {
		if n > 0 {
			i.maxBuffer = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(i *Interpreter) { i.now = now }
}

func WithMetrics(m *shared.Metrics) Option {
	return func(i *Interpreter) { i.metrics = m }
}

// Interpreter holds one pending slot per kind. A newer completed command of
// the same kind replaces an undelivered older one.
type Interpreter struct {
	logger     shared.LoggerAdapter
	metrics    *shared.Metrics
	now        func() time.Time
	pendingTTL time.Duration
	maxBuffer  int

	mu         sync.Mutex
	buf        []byte
	bufSince   time.Time
	transcript string
	pending    map[Kind]*Command
	seq        uint64
	ready      chan struct{}
}

func NewInterpreter(logger shared.LoggerAdapter, opts ...Option) (*Interpreter, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	i := &Interpreter{
		logger:     logger.With(zap.String("component", "interpreter")),
		now:        time.Now,
		pendingTTL: DefaultPendingTTL,
		maxBuffer:  DefaultMaxBuffer,
		pending:    make(map[Kind]*Command),
		ready:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.metrics == nil {
		i.metrics = shared.DefaultMetrics()
	}
	return i, nil
}

// ObserveTranscript records the latest user utterance. It is attached to the
// next completed command.
func (i *Interpreter) ObserveTranscript(text string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.transcript = text
}

// FeedText appends an assistant text delta and extracts every complete JSON
// object it closes.
func (i *Interpreter) FeedText(delta string) {
	if delta == "" {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	now := i.now()
	if len(i.buf) > 0 && i.pendingTTL > 0 && now.Sub(i.bufSince) > i.pendingTTL {
		i.logger.Debug("discarding stale partial text", zap.Int("bytes", len(i.buf)))
		i.buf = i.buf[:0]
	}
	if len(i.buf) == 0 {
		i.bufSince = now
	}
	i.buf = append(i.buf, delta...)
	i.scan()
}

// EndResponse drops whatever text the finished response left behind. An
// unmatched '{' in prose would hide every object after it, so the leftover
// is rescanned from each later brace first.
func (i *Interpreter) EndResponse() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.scan()
	if len(i.buf) > 0 {
		i.logger.Debug("response ended with partial text", zap.Int("bytes", len(i.buf)))
	}
	for len(i.buf) > 1 {
		i.buf = i.buf[1:]
		i.scan()
	}
	i.buf = nil
}

// scan must be called with mu held. It keeps only an unterminated object.
func (i *Interpreter) scan() {
	rest := i.buf
	for {
		start, end := nextObject(rest)
		if start < 0 {
			rest = nil
			break
		}
		if end < 0 {
			rest = rest[start:]
			break
		}
		i.consider(rest[start : end+1])
		rest = rest[end+1:]
	}
	if len(rest) > i.maxBuffer {
		i.logger.Warn("partial text exceeds buffer limit, discarding", zap.Int("bytes", len(rest)))
		rest = nil
	}
	i.buf = append(i.buf[:0], rest...)
}

func (i *Interpreter) consider(raw []byte) {
	var fields Fields
	if err := sonic.Unmarshal(raw, &fields); err != nil {
		i.metrics.RecordParseError(context.Background(), "text")
		i.logger.Warn("dropping malformed JSON in assistant text",
			zap.Error(&shared.ParseError{Op: "command", Err: err}),
			zap.ByteString("raw", raw),
		)
		return
	}
	kind := Kind(stringField(fields, "type"))
	if !kind.Valid() {
		i.logger.Debug("ignoring JSON without a known command type", zap.String("type", string(kind)))
		return
	}
	cmd, err := Build(kind, fields, i.now())
	if err != nil {
		i.logger.Info("discarding incomplete command", zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	cmd.Strategy = StrategyText
	i.put(cmd)
}

// put must be called with mu held.
func (i *Interpreter) put(cmd *Command) {
	cmd.RawText = i.transcript
	i.seq++
	cmd.seq = i.seq
	if prev, ok := i.pending[cmd.Kind]; ok {
		i.logger.Info("replacing undelivered command", zap.String("kind", string(cmd.Kind)), zap.Uint64("replaced", prev.seq))
	}
	i.pending[cmd.Kind] = cmd
	select {
	case i.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled whenever a slot is filled.
func (i *Interpreter) Ready() <-chan struct{} {
	return i.ready
}

// Take empties every slot and returns the commands in completion order.
func (i *Interpreter) Take() []*Command {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.pending) == 0 {
		return nil
	}
	out := make([]*Command, 0, len(i.pending))
	for kind, cmd := range i.pending {
		out = append(out, cmd)
		delete(i.pending, kind)
	}
	slices.SortFunc(out, func(a, b *Command) int { return cmp.Compare(a.seq, b.seq) })
	return out
}

func (i *Interpreter) Pending(kind Kind) *Command {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.pending[kind]
}

// Reset drops partial text, undelivered commands and the last transcript.
func (i *Interpreter) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.buf = i.buf[:0]
	i.transcript = ""
	clear(i.pending)
	select {
	case <-i.ready:
	default:
	}
}

// FromFunctionCall parses function arguments. Malformed arguments become an
// empty field set so the call still executes; err then carries the parse
// failure. cmd is nil unless the fields form a complete record.
func (i *Interpreter) FromFunctionCall(name, args string) (fields Fields, cmd *Command, err error) {
	fields = Fields{}
	if args != "" {
		if perr := sonic.UnmarshalString(args, &fields); perr != nil || fields == nil {
			i.metrics.RecordParseError(context.Background(), "function")
			fields = Fields{}
			if perr == nil {
				perr = errors.New("arguments are not an object")
			}
			err = &shared.ParseError{Op: "function arguments", Err: perr}
			i.logger.Warn("function arguments unparseable, using empty set", zap.String("name", name), zap.Error(err))
		}
	}
	kind, ok := KindForFunction(name)
	if !ok {
		return fields, nil, errors.Join(err, shared.ErrUnknownFunction)
	}
	built, berr := Build(kind, fields, i.now())
	if berr != nil {
		return fields, nil, errors.Join(err, berr)
	}
	built.Strategy = StrategyFunction
	i.mu.Lock()
	built.RawText = i.transcript
	i.mu.Unlock()
	return fields, built, err
}

// nextObject finds the first balanced {...} in b, skipping braces inside
// JSON strings. end is -1 when the object is not closed yet.
func nextObject(b []byte) (start, end int) {
	start = -1
	depth := 0
	inString, escaped := false, false
	for idx, c := range b {
		if start < 0 {
			if c == '{' {
				start, depth = idx, 1
			}
			continue
		}
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return start, idx
			}
		}
	}
	return start, -1
}
