package shared

import (
	"context"

	"github.com/valyala/fasthttp"
)

type HTTPResult struct {
	Status int
	Body   []byte
}

// DoHTTP runs req on client and waits for it or ctx. It takes ownership of
// req, which must not be used or released by the caller afterwards. A nil
// client uses the fasthttp default client.
func DoHTTP(ctx context.Context, client *fasthttp.Client, req *fasthttp.Request) (*HTTPResult, error) {
	type outcome struct {
		res *HTTPResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseResponse(resp)
		defer fasthttp.ReleaseRequest(req)
		var err error
		deadline, hasDeadline := ctx.Deadline()
		switch {
		case client != nil && hasDeadline:
			err = client.DoDeadline(req, resp, deadline)
		case client != nil:
			err = client.Do(req, resp)
		case hasDeadline:
			err = fasthttp.DoDeadline(req, resp, deadline)
		default:
			err = fasthttp.Do(req, resp)
		}
		if err != nil {
			done <- outcome{err: err}
			return
		}
		done <- outcome{res: &HTTPResult{
			Status: resp.StatusCode(),
			Body:   append([]byte(nil), resp.Body()...),
		}}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-done:
		if o.err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return o.res, o.err
	}
}
