package realtime

import (
	"context"

	"github.com/bt-bridge/voice-ledger/command"
	"github.com/bt-bridge/voice-ledger/shared"
)

type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Error
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Error:
		return "error"
	}
	return "unknown"
}

type TurnDetection struct {
	Type              string  `json:"type" yaml:"type"`
	Threshold         float64 `json:"threshold" yaml:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms" yaml:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms" yaml:"silence_duration_ms"`
}

type InputTranscription struct {
	Model string `json:"model" yaml:"model"`
}

// SessionParams is the body of the session.update message.
type SessionParams struct {
	Modalities              []string            `json:"modalities" yaml:"modalities"`
	Instructions            string              `json:"instructions" yaml:"instructions"`
	Voice                   string              `json:"voice" yaml:"voice"`
	InputAudioFormat        string              `json:"input_audio_format" yaml:"input_audio_format"`
	OutputAudioFormat       string              `json:"output_audio_format" yaml:"output_audio_format"`
	InputAudioTranscription *InputTranscription `json:"input_audio_transcription,omitempty" yaml:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection      `json:"turn_detection,omitempty" yaml:"turn_detection,omitempty"`
	Tools                   []command.Tool      `json:"tools" yaml:"tools"`
	ToolChoice              string              `json:"tool_choice" yaml:"tool_choice"`
	Temperature             float64             `json:"temperature" yaml:"temperature"`
}

// SessionConfig is fetched once per connection attempt and never cached.
type SessionConfig struct {
	URL        string        `yaml:"url"`
	Credential string        `yaml:"-"`
	Session    SessionParams `yaml:"session"`
}

const (
	AudioFormatPCM16        = "pcm16"
	DefaultTranscriberModel = "whisper-1"
)

func DefaultSessionParams(toolMode string) SessionParams {
	functionMode := toolMode == shared.ToolModeFunction
	p := SessionParams{
		Modalities:              []string{"text", "audio"},
		Instructions:            command.Instructions(functionMode),
		Voice:                   "alloy",
		InputAudioFormat:        AudioFormatPCM16,
		OutputAudioFormat:       AudioFormatPCM16,
		InputAudioTranscription: &InputTranscription{Model: DefaultTranscriberModel},
		TurnDetection: &TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
		},
		Tools:       []command.Tool{},
		ToolChoice:  "none",
		Temperature: 0.8,
	}
	if functionMode {
		p.Tools = command.FunctionTools()
		p.ToolChoice = "auto"
	}
	return p
}

// SessionParamsFromConfig applies the configured overrides on top of the
// defaults for the configured tool mode.
func SessionParamsFromConfig(cfg shared.RealtimeConfig) SessionParams {
	p := DefaultSessionParams(cfg.ToolMode)
	if cfg.Instructions != "" {
		p.Instructions = cfg.Instructions
	}
	if cfg.Voice != "" {
		p.Voice = cfg.Voice
	}
	if cfg.Temperature > 0 {
		p.Temperature = cfg.Temperature
	}
	if cfg.Turn.Type != "" {
		p.TurnDetection = &TurnDetection{
			Type:              cfg.Turn.Type,
			Threshold:         cfg.Turn.Threshold,
			PrefixPaddingMs:   cfg.Turn.PrefixPaddingMs,
			SilenceDurationMs: cfg.Turn.SilenceDurationMs,
		}
	}
	return p
}

type SessionConfigProvider interface {
	Fetch(ctx context.Context) (*SessionConfig, error)
}

// Conn carries JSON text frames. WriteMessage must be safe for concurrent
// use. ReadMessage returns an error wrapping shared.ErrTransportClosed on a
// normal close.
type Conn interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	Close() error
}

type Transport interface {
	Dial(ctx context.Context, url, credential string) (Conn, error)
}

// FunctionCall is one remote-invoked action. Fields is empty when Arguments
// could not be parsed, and Command is nil unless Fields form a complete
// record.
type FunctionCall struct {
	CallID    string
	Name      string
	Arguments string
	Fields    command.Fields
	Command   *command.Command
	ParseErr  error
}

type FunctionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HostBridge receives completed commands. OnCommandReady runs on the
// delivery goroutine and must not block for long. ExecuteFunction runs on
// its own goroutine; ctx is cancelled when the connection goes away.
type HostBridge interface {
	OnCommandReady(ctx context.Context, cmd *command.Command)
	ExecuteFunction(ctx context.Context, call FunctionCall) FunctionResult
}
