// Package webrtc carries realtime JSON frames over a WebRTC data channel.
// The SDP offer is exchanged with the calls endpoint over HTTP; remote audio
// arriving as RTP is drained and not played.
package webrtc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"sync"
	"sync/atomic"

	realtime "github.com/bt-bridge/voice-ledger"
	"github.com/bt-bridge/voice-ledger/shared"
	"github.com/bytedance/sonic"
	pion "github.com/pion/webrtc/v4"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	dataChannelLabel = "oai-events"
	callsPath        = "/realtime/calls"
	inboundBuffer    = 256
)

type Option func(*Transport)

func WithModel(model string) Option {
	return func(t *Transport) { t.model = model }
}

func WithHTTPClient(c *fasthttp.Client) Option {
	return func(t *Transport) { t.http = c }
}

func WithICEServers(urls ...string) Option {
	return func(t *Transport) {
		t.ice = append(t.ice, pion.ICEServer{URLs: urls})
	}
}

type Transport struct {
	logger shared.LoggerAdapter
	http   *fasthttp.Client
	model  string
	ice    []pion.ICEServer
}

var _ realtime.Transport = (*Transport)(nil)

func New(logger shared.LoggerAdapter, opts ...Option) (*Transport, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	t := &Transport{
		logger: logger.With(zap.String("component", "webrtc")),
		http:   &fasthttp.Client{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Dial negotiates a peer connection with baseURL's calls endpoint and
// returns once the data channel is open.
func (t *Transport) Dial(ctx context.Context, baseURL, credential string) (realtime.Conn, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, &shared.TransportError{Op: "dial", URL: baseURL, Err: err}
	}
	if credential == "" {
		return nil, &shared.TransportError{Op: "dial", URL: baseURL, Err: shared.ErrNoAPIKey}
	}
	endpoint := base.JoinPath(callsPath).String()
	fail := func(op string, err error) error {
		return &shared.TransportError{Op: op, URL: endpoint, Err: err}
	}

	pc, err := pion.NewPeerConnection(pion.Configuration{ICEServers: t.ice})
	if err != nil {
		return nil, fail("dial", fmt.Errorf("creating peer connection: %w", err))
	}
	c := &conn{
		logger: t.logger,
		url:    endpoint,
		pc:     pc,
		msgs:   make(chan []byte, inboundBuffer),
		opened: make(chan struct{}),
		done:   make(chan struct{}),
	}
	ok := false
	defer func() {
		if !ok {
			_ = c.Close()
		}
	}()

	pc.OnConnectionStateChange(c.onStateChange)
	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		c.logger.Debug("draining remote track", zap.String("codec", track.Codec().MimeType))
		go func() {
			for {
				if _, _, err := track.ReadRTP(); err != nil {
					return
				}
			}
		}()
	})
	if _, err := pc.AddTransceiverFromKind(pion.RTPCodecTypeAudio, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return nil, fail("dial", fmt.Errorf("adding audio transceiver: %w", err))
	}

	c.dc, err = pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		return nil, fail("dial", fmt.Errorf("creating data channel: %w", err))
	}
	c.dc.OnOpen(func() { close(c.opened) })
	c.dc.OnClose(func() { c.finish(shared.ErrTransportClosed) })
	c.dc.OnMessage(c.onMessage)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, fail("dial", fmt.Errorf("creating offer: %w", err))
	}
	gathered := pion.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, fail("dial", fmt.Errorf("setting local description: %w", err))
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, fail("dial", ctx.Err())
	}

	answer, err := t.exchange(ctx, endpoint, credential, pc.LocalDescription().SDP)
	if err != nil {
		return nil, fail("sdp", err)
	}
	if err := pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: answer}); err != nil {
		return nil, fail("sdp", fmt.Errorf("setting remote description: %w", err))
	}

	select {
	case <-c.opened:
	case <-c.done:
		return nil, fail("dial", c.err)
	case <-ctx.Done():
		return nil, fail("dial", ctx.Err())
	}
	ok = true
	t.logger.Debug("data channel open", zap.String("url", endpoint))
	return c, nil
}

// exchange posts the offer as multipart form data and returns the answer.
func (t *Transport) exchange(ctx context.Context, endpoint, credential, offer string) (string, error) {
	session := map[string]any{"type": "realtime"}
	if t.model != "" {
		session["model"] = t.model
	}
	sessBytes, err := sonic.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("marshaling session: %w", err)
	}

	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	parts := []struct {
		name, contentType string
		data              []byte
	}{
		{"sdp", "application/sdp", []byte(offer)},
		{"session", "application/json", sessBytes},
	}
	for _, p := range parts {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q`, p.name))
		h.Set("Content-Type", p.contentType)
		w, err := writer.CreatePart(h)
		if err != nil {
			return "", fmt.Errorf("creating %s part: %w", p.name, err)
		}
		if _, err := w.Write(p.data); err != nil {
			return "", fmt.Errorf("writing %s part: %w", p.name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("closing multipart writer: %w", err)
	}

	req := fasthttp.AcquireRequest()
	req.SetRequestURI(endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.SetContentType(writer.FormDataContentType())
	req.SetBody(body.Bytes())

	res, err := shared.DoHTTP(ctx, t.http, req)
	if err != nil {
		return "", fmt.Errorf("performing HTTP request: %w", err)
	}
	switch res.Status {
	case fasthttp.StatusCreated, fasthttp.StatusOK:
		return string(res.Body), nil
	case fasthttp.StatusUnauthorized:
		return "", fmt.Errorf("%w: %s", shared.ErrUnauthorized, res.Body)
	}
	return "", fmt.Errorf("unexpected status code: %d, body: %s", res.Status, res.Body)
}

type conn struct {
	logger shared.LoggerAdapter
	url    string
	pc     *pion.PeerConnection
	dc     *pion.DataChannel

	state     pion.PeerConnectionState
	stateMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	doneOnce  sync.Once

	msgs   chan []byte
	opened chan struct{}
	done   chan struct{}
	err    error
}

func (c *conn) onStateChange(state pion.PeerConnectionState) {
	c.stateMu.Lock()
	prev := c.state
	c.state = state
	c.stateMu.Unlock()
	c.logger.Trace("peer connection state changed",
		zap.String("prev", prev.String()),
		zap.String("new", state.String()),
	)
	switch state {
	case pion.PeerConnectionStateDisconnected:
		c.finish(errors.New("peer connection disconnected"))
	case pion.PeerConnectionStateFailed:
		c.finish(errors.New("peer connection failed"))
	case pion.PeerConnectionStateClosed:
		c.finish(shared.ErrTransportClosed)
	}
}

func (c *conn) onMessage(msg pion.DataChannelMessage) {
	if !msg.IsString {
		c.logger.Warn("received non-string message on data channel")
		return
	}
	select {
	case c.msgs <- msg.Data:
	case <-c.done:
	}
}

// finish records why the connection ended. Only the first cause is kept,
// and a local Close always reads as a normal close.
func (c *conn) finish(cause error) {
	c.doneOnce.Do(func() {
		if c.closed.Load() {
			cause = shared.ErrTransportClosed
		}
		c.err = &shared.TransportError{Op: "read", URL: c.url, Err: cause}
		close(c.done)
	})
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
	if err := c.dc.SendText(string(data)); err != nil {
		return &shared.TransportError{Op: "write", URL: c.url, Err: err}
	}
	return nil
}

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.pc.Close()
		c.finish(shared.ErrTransportClosed)
	})
	return err
}
