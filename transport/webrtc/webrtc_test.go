package webrtc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bt-bridge/voice-ledger/shared"
	pion "github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// answerer plays the calls endpoint: it answers the offer with a local peer
// that echoes every data channel message.
type answerer struct {
	t       *testing.T
	mu      sync.Mutex
	peers   []*pion.PeerConnection
	session string
}

func (a *answerer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	pc, err := pion.NewPeerConnection(pion.Configuration{})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	a.mu.Lock()
	a.peers = append(a.peers, pc)
	a.session = r.FormValue("session")
	a.mu.Unlock()
	pc.OnDataChannel(func(dc *pion.DataChannel) {
		dc.OnMessage(func(msg pion.DataChannelMessage) {
			_ = dc.SendText(string(msg.Data))
		})
	})
	if err := pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: r.FormValue("sdp")}); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	gathered := pion.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	<-gathered
	w.Header().Set("Content-Type", "application/sdp")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(pc.LocalDescription().SDP))
}

func (a *answerer) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, pc := range a.peers {
		_ = pc.Close()
	}
}

func newTransport(t *testing.T, opts ...Option) *Transport {
	t.Helper()
	tr, err := New(shared.NewZapLogger(zaptest.NewLogger(t)), opts...)
	require.NoError(t, err)
	return tr
}

func TestDialAndEcho(t *testing.T) {
	a := &answerer{t: t}
	srv := httptest.NewServer(a)
	defer srv.Close()
	defer a.close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tr := newTransport(t, WithModel("gpt-realtime"))
	c, err := tr.Dial(ctx, srv.URL+"/v1", "secret")
	require.NoError(t, err)

	require.NoError(t, c.WriteMessage(ctx, []byte(`{"type":"session.update"}`)))
	data, err := c.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"session.update"}`, string(data))

	a.mu.Lock()
	assert.JSONEq(t, `{"type":"realtime","model":"gpt-realtime"}`, a.session)
	a.mu.Unlock()

	require.NoError(t, c.Close())
	_, err = c.ReadMessage(ctx)
	assert.ErrorIs(t, err, shared.ErrTransportClosed)
	assert.ErrorIs(t, c.WriteMessage(ctx, []byte(`{}`)), shared.ErrTransportClosed)
}

func TestDialRejected(t *testing.T) {
	a := &answerer{t: t}
	srv := httptest.NewServer(a)
	defer srv.Close()

	tr := newTransport(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := tr.Dial(ctx, srv.URL+"/v1", "wrong")
	var terr *shared.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "sdp", terr.Op)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestDialInvalidInput(t *testing.T) {
	tr := newTransport(t)
	tests := []struct {
		name, url, credential string
		err                   error
	}{
		{"no credential", "https://api.openai.com/v1", "", shared.ErrNoAPIKey},
		{"bad url", "://x", "secret", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.Dial(context.Background(), tt.url, tt.credential)
			var terr *shared.TransportError
			require.ErrorAs(t, err, &terr)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}
