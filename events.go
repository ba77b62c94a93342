package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bt-bridge/voice-ledger/shared"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

type EventType string

type ServerEventType EventType

type ClientEventType EventType

// Server event types. Both the beta and GA names are accepted for deltas.
const (
	ServerEventTypeError                           ServerEventType = "error"
	ServerEventTypeSessionCreated                  ServerEventType = "session.created"
	ServerEventTypeSessionUpdated                  ServerEventType = "session.updated"
	ServerEventTypeInputAudioBufferSpeechStarted   ServerEventType = "input_audio_buffer.speech_started"
	ServerEventTypeInputAudioBufferSpeechStopped   ServerEventType = "input_audio_buffer.speech_stopped"
	ServerEventTypeInputAudioTranscriptionComplete ServerEventType = "conversation.item.input_audio_transcription.completed"
	ServerEventTypeResponseTextDelta               ServerEventType = "response.text.delta"
	ServerEventTypeResponseOutputTextDelta         ServerEventType = "response.output_text.delta"
	ServerEventTypeResponseAudioTranscriptDelta    ServerEventType = "response.audio_transcript.delta"
	ServerEventTypeResponseOutputTranscriptDelta   ServerEventType = "response.output_audio_transcript.delta"
	ServerEventTypeResponseAudioDelta              ServerEventType = "response.audio.delta"
	ServerEventTypeResponseOutputAudioDelta        ServerEventType = "response.output_audio.delta"
	ServerEventTypeResponseAudioDone               ServerEventType = "response.audio.done"
	ServerEventTypeResponseOutputAudioDone         ServerEventType = "response.output_audio.done"
	ServerEventTypeResponseDone                    ServerEventType = "response.done"
	ServerEventTypeResponseFunctionCallArgsDone    ServerEventType = "response.function_call_arguments.done"
)

// Client event types
const (
	ClientEventTypeSessionUpdate          ClientEventType = "session.update"
	ClientEventTypeInputAudioBufferAppend ClientEventType = "input_audio_buffer.append"
	ClientEventTypeConversationItemCreate ClientEventType = "conversation.item.create"
	ClientEventTypeResponseCreate         ClientEventType = "response.create"
)

// EventKind is the closed set of inbound events the session acts on.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindSessionCreated
	KindSessionUpdated
	KindSpeechStarted
	KindSpeechStopped
	KindTranscriptionCompleted
	KindResponseTextDelta
	KindResponseAudioDelta
	KindResponseAudioDone
	KindResponseDone
	KindFunctionCallArgumentsDone
	KindError
)

var kindNames = [...]string{
	KindUnknown:                   "unknown",
	KindSessionCreated:            "session_created",
	KindSessionUpdated:            "session_updated",
	KindSpeechStarted:             "speech_started",
	KindSpeechStopped:             "speech_stopped",
	KindTranscriptionCompleted:    "transcription_completed",
	KindResponseTextDelta:         "response_text_delta",
	KindResponseAudioDelta:        "response_audio_delta",
	KindResponseAudioDone:         "response_audio_done",
	KindResponseDone:              "response_done",
	KindFunctionCallArgumentsDone: "function_call_arguments_done",
	KindError:                     "error",
}

func (k EventKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// ServerEvent is one decoded inbound message. Unrecognized types decode into
// ServerEventParamUnknown instead of failing.
type ServerEvent struct {
	EventId string
	Type    ServerEventType
	Kind    EventKind
	Param   EventParam
}

type EventParam interface {
	New(map[string]any) error
	Json() map[string]any
}

func ParseServerEvent(data []byte) (*ServerEvent, error) {
	e := new(ServerEvent)
	if err := e.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *ServerEvent) MarshalJSON() ([]byte, error) {
	if e.Type == "" {
		return nil, errors.New("Type is empty")
	}
	if e.Param == nil {
		return nil, errors.New("Param is nil")
	}
	resp := map[string]any{}
	for k, v := range e.Param.Json() {
		resp[k] = v
	}
	if e.EventId != "" {
		resp["event_id"] = e.EventId
	}
	resp["type"] = e.Type
	return sonic.Marshal(resp)
}

func (e *ServerEvent) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return errors.New("event is not an object")
	}
	if v, ok := raw["event_id"].(string); ok {
		e.EventId = v
		delete(raw, "event_id")
	}
	if v, ok := raw["type"].(string); ok && v != "" {
		e.Type = ServerEventType(v)
		delete(raw, "type")
	} else {
		return errors.New("missing type")
	}
	switch e.Type {
	case ServerEventTypeError:
		e.Kind, e.Param = KindError, new(ServerEventParamError)
	case ServerEventTypeSessionCreated:
		e.Kind, e.Param = KindSessionCreated, new(ServerEventParamSession)
	case ServerEventTypeSessionUpdated:
		e.Kind, e.Param = KindSessionUpdated, new(ServerEventParamSession)
	case ServerEventTypeInputAudioBufferSpeechStarted:
		e.Kind, e.Param = KindSpeechStarted, new(ServerEventParamSpeech)
	case ServerEventTypeInputAudioBufferSpeechStopped:
		e.Kind, e.Param = KindSpeechStopped, new(ServerEventParamSpeech)
	case ServerEventTypeInputAudioTranscriptionComplete:
		e.Kind, e.Param = KindTranscriptionCompleted, new(ServerEventParamTranscriptionCompleted)
	case ServerEventTypeResponseTextDelta, ServerEventTypeResponseOutputTextDelta:
		e.Kind, e.Param = KindResponseTextDelta, &ServerEventParamTextDelta{Source: TextSourceText}
	case ServerEventTypeResponseAudioTranscriptDelta, ServerEventTypeResponseOutputTranscriptDelta:
		e.Kind, e.Param = KindResponseTextDelta, &ServerEventParamTextDelta{Source: TextSourceAudioTranscript}
	case ServerEventTypeResponseAudioDelta, ServerEventTypeResponseOutputAudioDelta:
		e.Kind, e.Param = KindResponseAudioDelta, new(ServerEventParamAudioDelta)
	case ServerEventTypeResponseAudioDone, ServerEventTypeResponseOutputAudioDone:
		e.Kind, e.Param = KindResponseAudioDone, new(ServerEventParamAudioDone)
	case ServerEventTypeResponseDone:
		e.Kind, e.Param = KindResponseDone, new(ServerEventParamResponseDone)
	case ServerEventTypeResponseFunctionCallArgsDone:
		e.Kind, e.Param = KindFunctionCallArgumentsDone, new(ServerEventParamFunctionCallArgumentsDone)
	default:
		e.Kind, e.Param = KindUnknown, new(ServerEventParamUnknown)
	}
	if err := e.Param.New(raw); err != nil {
		return fmt.Errorf("%s: %w", e.Type, err)
	}
	return nil
}

// Helpers for number conversions
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}

func asString(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

// error
type ServerEventParamError struct {
	Type    string
	EventId string
	Code    string
	Message string
	Param   any
}

func (p *ServerEventParamError) New(jsonMap map[string]any) error {
	src := jsonMap
	if errObj, ok := jsonMap["error"].(map[string]any); ok {
		src = errObj
	}
	p.Type = asString(src, "type")
	p.EventId = asString(src, "event_id")
	p.Code = asString(src, "code")
	p.Message = asString(src, "message")
	p.Param = src["param"]
	if p.Message == "" {
		return errors.New("missing error.message")
	}
	return nil
}

func (p *ServerEventParamError) Json() map[string]any {
	return map[string]any{
		"error": map[string]any{
			"type":     p.Type,
			"event_id": p.EventId,
			"code":     p.Code,
			"message":  p.Message,
			"param":    p.Param,
		},
	}
}

// Err converts the event into the taxonomy error surfaced to callers.
func (p *ServerEventParamError) Err() error {
	return &shared.RemoteError{Type: p.Type, Code: p.Code, Message: p.Message}
}

// session.created, session.updated
type ServerEventParamSession struct {
	Session map[string]any
}

func (p *ServerEventParamSession) New(m map[string]any) error {
	if session, ok := m["session"].(map[string]any); ok {
		p.Session = session
		return nil
	}
	return errors.New("missing session")
}

func (p *ServerEventParamSession) Json() map[string]any {
	return map[string]any{"session": p.Session}
}

// input_audio_buffer.speech_started, input_audio_buffer.speech_stopped
type ServerEventParamSpeech struct {
	ItemId  string
	AudioMs int
}

func (p *ServerEventParamSpeech) New(m map[string]any) error {
	p.ItemId = asString(m, "item_id")
	if v, ok := asInt(m["audio_start_ms"]); ok {
		p.AudioMs = v
	} else if v, ok := asInt(m["audio_end_ms"]); ok {
		p.AudioMs = v
	}
	return nil
}

func (p *ServerEventParamSpeech) Json() map[string]any {
	return map[string]any{"item_id": p.ItemId, "audio_start_ms": p.AudioMs}
}

// conversation.item.input_audio_transcription.completed
type ServerEventParamTranscriptionCompleted struct {
	ItemId       string
	ContentIndex int
	Transcript   string
}

func (p *ServerEventParamTranscriptionCompleted) New(m map[string]any) error {
	v, ok := m["transcript"].(string)
	if !ok {
		return errors.New("missing transcript")
	}
	p.Transcript = v
	p.ItemId = asString(m, "item_id")
	p.ContentIndex, _ = asInt(m["content_index"])
	return nil
}

func (p *ServerEventParamTranscriptionCompleted) Json() map[string]any {
	return map[string]any{
		"item_id":       p.ItemId,
		"content_index": p.ContentIndex,
		"transcript":    p.Transcript,
	}
}

type TextSource string

const (
	TextSourceText            TextSource = "text"
	TextSourceAudioTranscript TextSource = "audio_transcript"
)

// response.text.delta, response.audio_transcript.delta and their GA names
type ServerEventParamTextDelta struct {
	Source     TextSource
	ResponseId string
	ItemId     string
	Delta      string
}

func (p *ServerEventParamTextDelta) New(m map[string]any) error {
	v, ok := m["delta"].(string)
	if !ok {
		return errors.New("missing delta")
	}
	p.Delta = v
	p.ResponseId = asString(m, "response_id")
	p.ItemId = asString(m, "item_id")
	return nil
}

func (p *ServerEventParamTextDelta) Json() map[string]any {
	return map[string]any{"response_id": p.ResponseId, "item_id": p.ItemId, "delta": p.Delta}
}

// response.audio.delta, response.output_audio.delta
type ServerEventParamAudioDelta struct {
	ResponseId string
	ItemId     string
	// Delta is base64 PCM16; decoding happens in the session so a bad chunk
	// is dropped without losing the event.
	Delta string
}

func (p *ServerEventParamAudioDelta) New(m map[string]any) error {
	v, ok := m["delta"].(string)
	if !ok {
		return errors.New("missing delta")
	}
	p.Delta = v
	p.ResponseId = asString(m, "response_id")
	p.ItemId = asString(m, "item_id")
	return nil
}

func (p *ServerEventParamAudioDelta) Json() map[string]any {
	return map[string]any{"response_id": p.ResponseId, "item_id": p.ItemId, "delta": p.Delta}
}

// response.audio.done, response.output_audio.done
type ServerEventParamAudioDone struct {
	ResponseId string
	ItemId     string
}

func (p *ServerEventParamAudioDone) New(m map[string]any) error {
	p.ResponseId = asString(m, "response_id")
	p.ItemId = asString(m, "item_id")
	return nil
}

func (p *ServerEventParamAudioDone) Json() map[string]any {
	return map[string]any{"response_id": p.ResponseId, "item_id": p.ItemId}
}

// response.done
type ServerEventParamResponseDone struct {
	ResponseId string
	Status     string
	Response   map[string]any
}

func (p *ServerEventParamResponseDone) New(m map[string]any) error {
	p.Response, _ = m["response"].(map[string]any)
	if p.Response != nil {
		p.ResponseId = asString(p.Response, "id")
		p.Status = asString(p.Response, "status")
	}
	return nil
}

func (p *ServerEventParamResponseDone) Json() map[string]any {
	resp := map[string]any{}
	for k, v := range p.Response {
		resp[k] = v
	}
	if p.ResponseId != "" {
		resp["id"] = p.ResponseId
	}
	if p.Status != "" {
		resp["status"] = p.Status
	}
	return map[string]any{"response": resp}
}

// response.function_call_arguments.done
type ServerEventParamFunctionCallArgumentsDone struct {
	ResponseId string
	ItemId     string
	CallId     string
	Name       string
	Arguments  string
}

func (p *ServerEventParamFunctionCallArgumentsDone) New(m map[string]any) error {
	if v, ok := m["call_id"].(string); ok && v != "" {
		p.CallId = v
	} else {
		return errors.New("missing call_id")
	}
	p.ResponseId = asString(m, "response_id")
	p.ItemId = asString(m, "item_id")
	p.Name = asString(m, "name")
	p.Arguments = asString(m, "arguments")
	return nil
}

func (p *ServerEventParamFunctionCallArgumentsDone) Json() map[string]any {
	return map[string]any{
		"response_id": p.ResponseId,
		"item_id":     p.ItemId,
		"call_id":     p.CallId,
		"name":        p.Name,
		"arguments":   p.Arguments,
	}
}

// ServerEventParamUnknown keeps the raw payload of an unrecognized type.
type ServerEventParamUnknown struct {
	Raw map[string]any
}

func (p *ServerEventParamUnknown) New(m map[string]any) error {
	p.Raw = m
	return nil
}

func (p *ServerEventParamUnknown) Json() map[string]any {
	return p.Raw
}

// ClientEvent is an outbound message.
type ClientEvent struct {
	EventId string
	Type    ClientEventType
	Param   map[string]any
}

func newClientEvent(t ClientEventType, param map[string]any) *ClientEvent {
	return &ClientEvent{EventId: "evt_" + uuid.NewString(), Type: t, Param: param}
}

func (e *ClientEvent) MarshalJSON() ([]byte, error) {
	if e.Type == "" {
		return nil, errors.New("Type is empty")
	}
	resp := make(map[string]any, len(e.Param)+2)
	for k, v := range e.Param {
		resp[k] = v
	}
	if e.EventId != "" {
		resp["event_id"] = e.EventId
	}
	resp["type"] = e.Type
	return sonic.Marshal(resp)
}

func SessionUpdateEvent(params SessionParams) *ClientEvent {
	return newClientEvent(ClientEventTypeSessionUpdate, map[string]any{"session": params})
}

func InputAudioAppendEvent(audioBase64 string) *ClientEvent {
	return newClientEvent(ClientEventTypeInputAudioBufferAppend, map[string]any{"audio": audioBase64})
}

func FunctionCallOutputEvent(callId, output string) *ClientEvent {
	return newClientEvent(ClientEventTypeConversationItemCreate, map[string]any{
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callId,
			"output":  output,
		},
	})
}

func ResponseCreateEvent() *ClientEvent {
	return newClientEvent(ClientEventTypeResponseCreate, nil)
}
