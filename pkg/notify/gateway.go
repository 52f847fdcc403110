package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// GatewayDeliverer posts notifications as JSON to an HTTP push gateway.
type GatewayDeliverer struct {
	url        string
	client     *http.Client
	backoff    Backoff
	maxRetries int
	timeout    time.Duration
	secret     string
	now        func() time.Time
}

// GatewayOption configures a GatewayDeliverer.
type GatewayOption func(*GatewayDeliverer)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) GatewayOption {
	return func(g *GatewayDeliverer) {
		if c != nil {
			g.client = c
		}
	}
}

// WithBackoff sets the retry delay strategy.
func WithBackoff(b Backoff) GatewayOption {
	return func(g *GatewayDeliverer) {
		if b != nil {
			g.backoff = b
		}
	}
}

// WithMaxRetries sets how many times a transient failure is retried.
func WithMaxRetries(n int) GatewayOption {
	return func(g *GatewayDeliverer) {
		if n >= 0 {
			g.maxRetries = n
		}
	}
}

// WithRequestTimeout bounds each individual request.
func WithRequestTimeout(d time.Duration) GatewayOption {
	return func(g *GatewayDeliverer) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithSigningSecret signs each request body with HMAC-SHA256 over
// "<unix timestamp>.<body>", sent in X-Signature and X-Signature-Timestamp.
func WithSigningSecret(secret string) GatewayOption {
	return func(g *GatewayDeliverer) {
		g.secret = secret
	}
}

// NewGatewayDeliverer creates a deliverer for the gateway at rawURL.
func NewGatewayDeliverer(rawURL string, opts ...GatewayOption) (*GatewayDeliverer, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Join(ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: only http and https schemes are supported", ErrInvalidURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidURL)
	}

	g := &GatewayDeliverer{
		url:        rawURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		backoff:    DefaultBackoff(),
		maxRetries: 2,
		timeout:    3 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *GatewayDeliverer) Deliver(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidNotification, err)
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(g.backoff.NextInterval(attempt))
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		status, err := g.attempt(ctx, payload)
		if err == nil {
			return nil
		}
		lastErr = err
		if permanent(status) {
			return fmt.Errorf("%w: %w", ErrPermanentFailure, err)
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrDeliveryFailed, g.maxRetries+1, lastErr)
}

func (g *GatewayDeliverer) attempt(ctx context.Context, payload []byte) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "billingsync-notify/1.0")
	if g.secret != "" {
		ts := g.now().Unix()
		req.Header.Set("X-Signature", sign(g.secret, ts, payload))
		req.Header.Set("X-Signature-Timestamp", strconv.FormatInt(ts, 10))
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return 0, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return 0, fmt.Errorf("%w: %w", ErrTemporaryFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return resp.StatusCode, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	msg := fmt.Sprintf("gateway returned status %d", resp.StatusCode)
	if len(body) > 0 {
		s := strings.ReplaceAll(string(body), "\n", " ")
		if len(s) > 200 {
			s = s[:200] + "..."
		}
		msg += ": " + s
	}
	return resp.StatusCode, errors.New(msg)
}

func sign(secret string, ts int64, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	h.Write([]byte("."))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// permanent reports 4xx responses that a retry cannot fix.
func permanent(status int) bool {
	if status < 400 || status >= 500 {
		return false
	}
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return false
	}
	return true
}
