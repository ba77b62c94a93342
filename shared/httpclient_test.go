package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func TestDoHTTP(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			<-release
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()
	defer close(release)

	tests := []struct {
		name    string
		path    string
		timeout time.Duration
		status  int
		err     error
	}{
		{"plain", "/", 0, http.StatusCreated, nil},
		{"with deadline", "/", time.Second, http.StatusCreated, nil},
		{"cancelled", "/slow", 50 * time.Millisecond, 0, context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tt.timeout)
				defer cancel()
			}
			req := fasthttp.AcquireRequest()
			req.SetRequestURI(srv.URL + tt.path)
			res, err := DoHTTP(ctx, &fasthttp.Client{}, req)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, "ok", string(res.Body))
		})
	}
}
