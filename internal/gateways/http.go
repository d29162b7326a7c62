package gateways

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

// DefaultTimeout bounds an outbound call when no timeout is configured.
const DefaultTimeout = 2 * time.Second

// HTTPClient performs JSON calls to a provider through a fiber Agent. Every
// call is bounded by Timeout and by the context deadline, whichever is sooner.
type HTTPClient struct {
	Provider string
	Timeout  time.Duration
}

// PostJSON sends in as a JSON body and decodes a 2xx response into out.
func (c HTTPClient) PostJSON(ctx context.Context, url string, headers map[string]string, in, out interface{}) error {
	a := fiber.Post(url)
	if in != nil {
		a.JSON(in)
	}
	return c.do(ctx, a, headers, out)
}

// GetJSON issues a GET and decodes a 2xx response into out.
func (c HTTPClient) GetJSON(ctx context.Context, url string, headers map[string]string, out interface{}) error {
	return c.do(ctx, fiber.Get(url), headers, out)
}

func (c HTTPClient) do(ctx context.Context, a *fiber.Agent, headers map[string]string, out interface{}) error {
	timeout, err := c.timeoutFor(ctx)
	if err != nil {
		fiber.ReleaseAgent(a)
		return err
	}
	for k, v := range headers {
		a.Set(k, v)
	}
	a.Timeout(timeout)

	code, body, errs := a.Bytes()
	if len(errs) > 0 {
		return c.transportFailure(errs[0])
	}
	if code < 200 || code >= 300 {
		return NewFailure(c.Provider, fmt.Sprintf("HTTP_%d", code), truncate(string(body), 200))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return NewFailure(c.Provider, CodeDecode, fmt.Sprintf("undecodable response: %v", err))
	}
	return nil
}

func (c HTTPClient) timeoutFor(ctx context.Context) (time.Duration, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if err := ctx.Err(); err != nil {
		return 0, NewFailure(c.Provider, CodeCancelled, err.Error())
	}
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, NewFailure(c.Provider, CodeTimeout, "context deadline exceeded")
		}
		if remaining < timeout {
			timeout = remaining
		}
	}
	return timeout, nil
}

func (c HTTPClient) transportFailure(err error) *Failure {
	if errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return NewFailure(c.Provider, CodeTimeout, "request timed out")
	}
	return NewFailure(c.Provider, CodeTransport, err.Error())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
