package realtime

import (
	"context"
	"time"

	"github.com/bt-bridge/voice-ledger/shared"
	"github.com/bt-bridge/voice-ledger/tools"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// receive is the single dispatch loop of one connection. Events are handled
// in arrival order.
func (s *Session) receive(ctx context.Context, conn Conn, gen uint64) {
	for {
		data, err := conn.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.connectionLost(gen, err)
			return
		}
		s.dispatch(ctx, conn, data)
	}
}

func (s *Session) dispatch(ctx context.Context, conn Conn, data []byte) {
	event, err := ParseServerEvent(data)
	if err != nil {
		s.metrics.RecordParseError(ctx, "event")
		s.logger.Warn("dropping malformed event",
			zap.Error(&shared.ParseError{Op: "event", Err: err}),
			zap.ByteString("data", data),
		)
		return
	}
	s.metrics.RecordEvent(ctx, event.Kind.String())
	s.logger.Trace("received event",
		zap.String("type", string(event.Type)),
		zap.String("event_id", event.EventId),
	)

	switch p := event.Param.(type) {
	case *ServerEventParamSession:
		s.logger.Debug("session acknowledged", zap.String("type", string(event.Type)))
	case *ServerEventParamSpeech:
		s.logger.Debug("speech boundary", zap.Stringer("kind", event.Kind), zap.Int("audio_ms", p.AudioMs))
	case *ServerEventParamTranscriptionCompleted:
		s.interp.ObserveTranscript(p.Transcript)
		s.mu.Lock()
		th := s.th
		s.mu.Unlock()
		if th != nil {
			th(p.Transcript)
		}
	case *ServerEventParamTextDelta:
		if s.acceptText(p) {
			s.interp.FeedText(p.Delta)
		}
	case *ServerEventParamAudioDelta:
		s.playDelta(ctx, p)
	case *ServerEventParamAudioDone:
		s.logger.Debug("response audio complete", zap.String("response_id", p.ResponseId))
	case *ServerEventParamResponseDone:
		s.interp.EndResponse()
		s.mu.Lock()
		delete(s.textSources, p.ResponseId)
		s.mu.Unlock()
	case *ServerEventParamFunctionCallArgumentsDone:
		s.handleFunctionCall(ctx, conn, p)
	case *ServerEventParamError:
		rerr := p.Err()
		s.metrics.RecordRemoteError(ctx, p.Code)
		s.logger.Error("remote error", rerr, zap.String("event_id", p.EventId))
		s.reportError(rerr)
	default:
		s.logger.Trace("ignoring event", zap.String("type", string(event.Type)))
	}
}

// acceptText pins each response to the first text stream it delivers, so
// the text and audio transcript of the same response are not interleaved.
func (s *Session) acceptText(p *ServerEventParamTextDelta) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.textSources[p.ResponseId]
	if !ok {
		s.textSources[p.ResponseId] = p.Source
		return true
	}
	return src == p.Source
}

func (s *Session) playDelta(ctx context.Context, p *ServerEventParamAudioDelta) {
	if s.queue == nil {
		return
	}
	samples, err := tools.DecodeAudioDelta(p.Delta)
	if err != nil {
		s.metrics.RecordCodecError(ctx)
		s.logger.Warn("dropping audio chunk", zap.Error(err), zap.String("response_id", p.ResponseId))
		return
	}
	if !s.queue.Enqueue(samples) {
		s.logger.Trace("muted, audio chunk dropped")
	}
}

// deliver hands completed text-strategy commands to the host.
func (s *Session) deliver(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.interp.Ready():
			for _, cmd := range s.interp.Take() {
				if ctx.Err() != nil {
					return
				}
				s.metrics.RecordCommand(ctx, string(cmd.Kind), string(cmd.Strategy))
				s.logger.Info("command ready", zap.String("kind", string(cmd.Kind)))
				s.bridge.OnCommandReady(ctx, cmd)
			}
		}
	}
}

// handleFunctionCall executes a call off the dispatch loop. A call id is
// executed and answered at most once per connection.
func (s *Session) handleFunctionCall(ctx context.Context, conn Conn, p *ServerEventParamFunctionCallArgumentsDone) {
	s.mu.Lock()
	if _, dup := s.seenCalls[p.CallId]; dup {
		s.mu.Unlock()
		s.logger.Warn("ignoring repeated function call", zap.String("call_id", p.CallId))
		return
	}
	s.seenCalls[p.CallId] = struct{}{}
	frh := s.frh
	s.mu.Unlock()

	fields, cmd, err := s.interp.FromFunctionCall(p.Name, p.Arguments)
	call := FunctionCall{
		CallID:    p.CallId,
		Name:      p.Name,
		Arguments: p.Arguments,
		Fields:    fields,
		Command:   cmd,
		ParseErr:  err,
	}
	if cmd != nil {
		s.metrics.RecordCommand(ctx, string(cmd.Kind), string(cmd.Strategy))
	}
	logger := s.logger.With(zap.String("call_id", p.CallId), zap.String("name", p.Name))
	logger.Info("executing function call")

	go func() {
		start := time.Now()
		result := s.bridge.ExecuteFunction(ctx, call)
		status := "ok"
		if !result.Success {
			status = "failed"
		}
		s.metrics.RecordFunctionCall(ctx, p.Name, status, time.Since(start).Seconds())
		if ctx.Err() != nil {
			logger.Debug("connection gone, function result abandoned")
			return
		}
		if frh != nil {
			frh(call, result)
		}
		output, merr := sonic.MarshalString(result)
		if merr != nil {
			logger.Error("marshaling function result", merr)
			return
		}
		if err := s.send(ctx, conn, FunctionCallOutputEvent(p.CallId, output)); err != nil {
			logger.Error("sending function result", err)
			return
		}
		if err := s.send(ctx, conn, ResponseCreateEvent()); err != nil {
			logger.Error("requesting response", err)
		}
	}()
}
