package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	realtime "github.com/bt-bridge/voice-ledger"
	"github.com/bt-bridge/voice-ledger/shared"
	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Remote asks a bootstrap endpoint for connection details. The endpoint
// answers {success, data: {url, apiKey, sessionConfig}, error}.
type Remote struct {
	logger   shared.LoggerAdapter
	http     *fasthttp.Client
	url      string
	token    string
	timeout  time.Duration
	fallback realtime.SessionParams
}

type remoteResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		URL           string                  `json:"url"`
		APIKey        string                  `json:"apiKey"`
		SessionConfig *realtime.SessionParams `json:"sessionConfig"`
	} `json:"data"`
}

var _ realtime.SessionConfigProvider = (*Remote)(nil)

func NewRemote(logger shared.LoggerAdapter, cfg *shared.Config) (*Remote, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if cfg.Bootstrap.RemoteURL == "" {
		return nil, errors.New("no bootstrap url provided")
	}
	return &Remote{
		logger:   logger.With(zap.String("component", "bootstrap.remote")),
		http:     &fasthttp.Client{},
		url:      cfg.Bootstrap.RemoteURL,
		token:    cfg.Bootstrap.Token,
		timeout:  cfg.Bootstrap.Timeout,
		fallback: realtime.SessionParamsFromConfig(cfg.Realtime),
	}, nil
}

func (r *Remote) Fetch(ctx context.Context) (*realtime.SessionConfig, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	req := fasthttp.AcquireRequest()
	req.SetRequestURI(r.url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
		req.Header.SetCookie("auth-token", r.token)
	}
	res, err := shared.DoHTTP(ctx, r.http, req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", r.url, err)
	}

	var body remoteResponse
	perr := sonic.Unmarshal(res.Body, &body)
	msg := body.Error
	if msg == "" {
		msg = "no error description"
	}
	switch {
	case res.Status == fasthttp.StatusUnauthorized:
		return nil, fmt.Errorf("%w: %s", shared.ErrUnauthorized, msg)
	case res.Status != fasthttp.StatusOK:
		return nil, fmt.Errorf("bootstrap failed (status %d): %s", res.Status, msg)
	case perr != nil:
		return nil, &shared.ParseError{Op: "bootstrap response", Err: perr}
	case !body.Success:
		return nil, fmt.Errorf("bootstrap failed: %s", msg)
	}
	if body.Data.URL == "" || body.Data.APIKey == "" {
		return nil, errors.New("bootstrap response is missing url or apiKey")
	}
	params := r.fallback
	if body.Data.SessionConfig != nil {
		params = *body.Data.SessionConfig
	}
	r.logger.Debug("session config fetched", zap.String("url", body.Data.URL))
	return &realtime.SessionConfig{URL: body.Data.URL, Credential: body.Data.APIKey, Session: params}, nil
}
