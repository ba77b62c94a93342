// Package websocket carries realtime JSON frames over a gorilla websocket.
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	realtime "github.com/bt-bridge/voice-ledger"
	"github.com/bt-bridge/voice-ledger/shared"
	gorilla "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultDialTimeout = 15 * time.Second
	closeGracePeriod   = 2 * time.Second
	inboundBuffer      = 256
)

type Option func(*Transport)

// WithModel adds the model query parameter when the URL has none.
func WithModel(model string) Option {
	return func(t *Transport) { t.model = model }
}

func WithHeader(key, value string) Option {
	return func(t *Transport) { t.header.Set(key, value) }
}

func WithDialer(d *gorilla.Dialer) Option {
	return func(t *Transport) { t.dialer = d }
}

type Transport struct {
	logger shared.LoggerAdapter
	dialer *gorilla.Dialer
	header http.Header
	model  string
}

var _ realtime.Transport = (*Transport)(nil)

func New(logger shared.LoggerAdapter, opts ...Option) (*Transport, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	t := &Transport{
		logger: logger.With(zap.String("component", "websocket")),
		dialer: gorilla.DefaultDialer,
		header: make(http.Header),
	}
	t.header.Set("OpenAI-Beta", "realtime=v1")
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Transport) Dial(ctx context.Context, rawURL, credential string) (realtime.Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &shared.TransportError{Op: "dial", URL: rawURL, Err: err}
	}
	if t.model != "" && u.Query().Get("model") == "" {
		q := u.Query()
		q.Set("model", t.model)
		u.RawQuery = q.Encode()
	}
	header := t.header.Clone()
	if credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
	}
	ws, resp, err := t.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("handshake failed (status %d): %w", resp.StatusCode, err)
			if resp.StatusCode == http.StatusUnauthorized {
				err = fmt.Errorf("%w: %w", shared.ErrUnauthorized, err)
			}
		}
		return nil, &shared.TransportError{Op: "dial", URL: u.Redacted(), Err: err}
	}
	c := &conn{
		logger: t.logger,
		url:    u.Redacted(),
		ws:     ws,
		msgs:   make(chan []byte, inboundBuffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	t.logger.Debug("websocket connected", zap.String("url", c.url))
	return c, nil
}

type conn struct {
	logger shared.LoggerAdapter
	url    string
	ws     *gorilla.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	msgs chan []byte
	stop chan struct{}
	done chan struct{}
	err  error
}

func (c *conn) readLoop() {
	defer close(c.done)
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.closed.Load() || gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway) {
				c.err = &shared.TransportError{Op: "read", URL: c.url, Err: shared.ErrTransportClosed}
			} else {
				c.err = &shared.TransportError{Op: "read", URL: c.url, Err: err}
			}
			return
		}
		if mt != gorilla.TextMessage {
			c.logger.Warn("ignoring non-text frame", zap.Int("type", mt))
			continue
		}
		select {
		case c.msgs <- data:
		case <-c.stop:
			c.err = &shared.TransportError{Op: "read", URL: c.url, Err: shared.ErrTransportClosed}
			return
		}
	}
}

func (c *conn) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.msgs:
		return data, nil
	default:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data := <-c.msgs:
		return data, nil
	case <-c.done:
		select {
		case data := <-c.msgs:
			return data, nil
		default:
		}
		return nil, c.err
	}
}

func (c *conn) WriteMessage(ctx context.Context, data []byte) error {
	if c.closed.Load() {
		return &shared.TransportError{Op: "write", URL: c.url, Err: shared.ErrTransportClosed}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline, _ := ctx.Deadline()
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(gorilla.TextMessage, data); err != nil {
		return &shared.TransportError{Op: "write", URL: c.url, Err: err}
	}
	return nil
}

// Close sends a normal closure frame and closes the socket. It is safe to
// call more than once.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stop)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(gorilla.CloseMessage,
			gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
