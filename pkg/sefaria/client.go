package sefaria

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"github.com/chavruta/chavruta/pkg/logger"
)

const userAgent = "chavruta-gateway/1.0"

// client dispatches requests to the reference API. Every attempt passes the
// shared courtesy limiter first, then a single HTTP round trip bounded by the
// per-attempt client timeout.
type client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	policy  RetryPolicy
}

func (c *client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return callWithRetry(ctx, c.policy, func(ctx context.Context) ([]byte, error) {
		u := c.baseURL + path
		if len(params) > 0 {
			u += "?" + params.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		return c.do(req)
	})
}

func (c *client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return callWithRetry(ctx, c.policy, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		return c.do(req)
	})
}

func (c *client) do(req *http.Request) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		logger.WarnCF("gateway", "Upstream returned non-OK status",
			map[string]any{
				"status": resp.StatusCode,
				"path":   req.URL.Path,
			})
		return nil, &statusError{status: resp.StatusCode, body: truncateBody(body)}
	}
	return body, nil
}

// truncateBody keeps error logs readable when the upstream sends HTML pages.
func truncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
