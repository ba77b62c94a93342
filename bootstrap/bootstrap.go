// Package bootstrap supplies the per-attempt session config: where to
// connect, with which credential, and how to configure the session.
package bootstrap

import (
	"fmt"

	realtime "github.com/bt-bridge/voice-ledger"
	"github.com/bt-bridge/voice-ledger/shared"
	"github.com/bt-bridge/voice-ledger/transport/webrtc"
	"github.com/bt-bridge/voice-ledger/transport/websocket"
)

// New builds the provider selected by cfg.Bootstrap.Mode.
func New(logger shared.LoggerAdapter, cfg *shared.Config) (realtime.SessionConfigProvider, error) {
	if cfg == nil {
		return nil, shared.ErrNoConfig
	}
	switch cfg.Bootstrap.Mode {
	case shared.BootstrapStatic:
		return NewStatic(cfg)
	case shared.BootstrapOpenAI:
		return NewOpenAI(logger, cfg)
	case shared.BootstrapRemote:
		return NewRemote(logger, cfg)
	}
	return nil, fmt.Errorf("unsupported bootstrap mode %q", cfg.Bootstrap.Mode)
}

// NewTransport builds the transport selected by cfg.Realtime.Transport.
func NewTransport(logger shared.LoggerAdapter, cfg *shared.Config) (realtime.Transport, error) {
	if cfg == nil {
		return nil, shared.ErrNoConfig
	}
	switch cfg.Realtime.Transport {
	case shared.TransportWebsocket:
		return websocket.New(logger, websocket.WithModel(cfg.Realtime.Model))
	case shared.TransportWebRTC:
		return webrtc.New(logger, webrtc.WithModel(cfg.Realtime.Model))
	}
	return nil, fmt.Errorf("unsupported transport %q", cfg.Realtime.Transport)
}

// endpoint is the URL the selected transport dials.
func endpoint(cfg *shared.Config) string {
	if cfg.Realtime.Transport == shared.TransportWebRTC {
		return cfg.Realtime.BaseURL
	}
	return cfg.Realtime.URL
}
