package remote

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Health is the result of one reachability ping.
type Health struct {
	OK        bool          `json:"ok"`
	Status    int           `json:"status,omitempty"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checked_at"`
	Message   string        `json:"message,omitempty"`
}

// Ping checks that the endpoint is reachable. It sends HEAD and falls back to
// GET when HEAD fails or is not allowed. Any response below 500 counts as
// reachable. Ping never returns an error; failures are reported in Health.
func (c *Client) Ping(ctx context.Context) Health {
	start := c.clock.Now()
	h := Health{CheckedAt: start}

	cfg := c.Config()
	u, err := endpoint(cfg)
	if err != nil {
		h.Message = err.Error()
		return h
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()

	status, err := c.reach(ctx, http.MethodHead, u.String())
	if err != nil || status == http.StatusMethodNotAllowed {
		status, err = c.reach(ctx, http.MethodGet, u.String())
	}

	h.Latency = c.clock.Since(start)
	if err != nil {
		h.Message = err.Error()
		return h
	}

	h.Status = status
	h.OK = status < 500
	if h.OK {
		h.Message = fmt.Sprintf("reachable (%d) in %s", status, h.Latency.Round(time.Millisecond))
	} else {
		h.Message = fmt.Sprintf("endpoint returned %d", status)
	}
	return h
}

func (c *Client) reach(ctx context.Context, method, target string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, networkError(ctx, "ping", err)
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
