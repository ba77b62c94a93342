package bootstrap

import (
	"context"
	"fmt"

	realtime "github.com/bt-bridge/voice-ledger"
	"github.com/bt-bridge/voice-ledger/shared"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	oairt "github.com/openai/openai-go/v3/realtime"
	"go.uber.org/zap"
)

// OpenAI mints a short-lived client secret per attempt so the long-lived key
// never reaches the transport.
type OpenAI struct {
	logger shared.LoggerAdapter
	client openai.Client
	url    string
	model  string
	ttl    int64
	params realtime.SessionParams
}

var _ realtime.SessionConfigProvider = (*OpenAI)(nil)

func NewOpenAI(logger shared.LoggerAdapter, cfg *shared.Config, opts ...option.RequestOption) (*OpenAI, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if cfg.Realtime.APIKey == "" {
		return nil, shared.ErrNoAPIKey
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.Realtime.APIKey)}
	if cfg.Realtime.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.Realtime.BaseURL))
	}
	reqOpts = append(reqOpts, opts...)
	return &OpenAI{
		logger: logger.With(zap.String("component", "bootstrap.openai")),
		client: openai.NewClient(reqOpts...),
		url:    endpoint(cfg),
		model:  cfg.Realtime.Model,
		ttl:    int64(cfg.Bootstrap.TTL.Seconds()),
		params: realtime.SessionParamsFromConfig(cfg.Realtime),
	}, nil
}

func (o *OpenAI) Fetch(ctx context.Context) (*realtime.SessionConfig, error) {
	body := oairt.ClientSecretNewParams{
		Session: oairt.ClientSecretNewParamsSessionUnion{
			OfRealtime: &oairt.RealtimeSessionCreateRequestParam{
				Model:        o.model,
				Instructions: param.NewOpt(o.params.Instructions),
			},
		},
	}
	if o.ttl > 0 {
		body.ExpiresAfter = oairt.ClientSecretNewParamsExpiresAfter{
			Seconds: param.NewOpt(o.ttl),
			Anchor:  "created_at",
		}
	}
	secret, err := o.client.Realtime.ClientSecrets.New(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("creating client secret: %w", err)
	}
	if secret.Value == "" {
		return nil, fmt.Errorf("creating client secret: empty value")
	}
	o.logger.Debug("client secret issued", zap.Int64("expires_at", secret.ExpiresAt))
	return &realtime.SessionConfig{URL: o.url, Credential: secret.Value, Session: o.params}, nil
}
