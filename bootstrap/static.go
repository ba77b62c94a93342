package bootstrap

import (
	"context"

	realtime "github.com/bt-bridge/voice-ledger"
	"github.com/bt-bridge/voice-ledger/shared"
)

// Static hands out the configured API key on every attempt.
type Static struct {
	url    string
	apiKey string
	params realtime.SessionParams
}

var _ realtime.SessionConfigProvider = (*Static)(nil)

func NewStatic(cfg *shared.Config) (*Static, error) {
	if cfg.Realtime.APIKey == "" {
		return nil, shared.ErrNoAPIKey
	}
	return &Static{
		url:    endpoint(cfg),
		apiKey: cfg.Realtime.APIKey,
		params: realtime.SessionParamsFromConfig(cfg.Realtime),
	}, nil
}

func (s *Static) Fetch(ctx context.Context) (*realtime.SessionConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &realtime.SessionConfig{URL: s.url, Credential: s.apiKey, Session: s.params}, nil
}
