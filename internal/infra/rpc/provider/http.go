package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/vietddude/gaswatch/internal/indexing/metrics"
)

// maxBodyBytes caps how much of a response is read.
const maxBodyBytes = 4 << 20

var _ Provider = (*HTTPProvider)(nil)

// HTTPProvider talks to a single HTTP endpoint, either JSON-RPC 2.0 or plain JSON.
type HTTPProvider struct {
	*Endpoint
	endpoint   string
	headers    http.Header
	httpClient *http.Client
}

// NewHTTPProvider creates a new HTTP provider.
func NewHTTPProvider(name, endpoint string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		Endpoint: NewEndpoint(name),
		endpoint: endpoint,
		headers:  make(http.Header),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// WithHeader sets a header sent on every request (e.g. Authorization).
func (p *HTTPProvider) WithHeader(key, value string) *HTTPProvider {
	if value != "" {
		p.headers.Set(key, value)
	}
	return p
}

// URL returns the configured endpoint.
func (p *HTTPProvider) URL() string {
	return p.endpoint
}

// Call makes a single JSON-RPC call and returns the raw result.
func (p *HTTPProvider) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	reqBody, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	body, err := p.do(ctx, http.MethodPost, method, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		p.fail(method, "parse")
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if rpcResp.Error != nil {
		if isThrottleMessage(rpcResp.Error.Message) {
			p.throttle.Limit(http.StatusTooManyRequests, "")
		}
		p.fail(method, "rpc")
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// GetJSON issues a GET against the endpoint and decodes the body into out.
func (p *HTTPProvider) GetJSON(ctx context.Context, name string, out any) error {
	body, err := p.do(ctx, http.MethodGet, name, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		p.fail(name, "parse")
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (p *HTTPProvider) do(ctx context.Context, httpMethod, name string, reqBody io.Reader) ([]byte, error) {
	if status := p.throttle.Status(); status == StatusThrottled || status == StatusBlocked {
		return nil, &StatusError{
			StatusCode: http.StatusTooManyRequests,
			RetryAfter: strconv.Itoa(int(p.throttle.Remaining().Round(time.Second).Seconds())),
			Body:       "provider " + status.String(),
		}
	}

	start := time.Now()
	metrics.RPCCallsTotal.WithLabelValues(p.name, name).Inc()
	defer func() {
		metrics.RPCLatency.WithLabelValues(p.name, name).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, httpMethod, p.endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range p.headers {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		errType := "network"
		if errors.Is(err, context.DeadlineExceeded) {
			errType = "timeout"
		}
		p.fail(name, errType)
		return nil, fmt.Errorf("%s call: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		p.fail(name, "read")
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden {
			p.throttle.Limit(resp.StatusCode, resp.Header.Get("Retry-After"))
		}
		p.fail(name, "http_"+strconv.Itoa(resp.StatusCode))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: resp.Header.Get("Retry-After"),
			Body:       truncate(string(body), 256),
		}
	}

	p.success(time.Since(start))
	return body, nil
}

func (p *HTTPProvider) fail(name, errType string) {
	p.failure()
	metrics.RPCErrorsTotal.WithLabelValues(p.name, errType).Inc()
}

// Close cleans up resources.
func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
