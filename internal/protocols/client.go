package protocols

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bityield/yieldr/internal/models"
)

// Client fetches normalized yield opportunities from one protocol vendor API.
// FetchYieldOpportunities never panics past its boundary: a single pool's
// failure is logged and the pool omitted, but a total API failure returns an
// error to the caller.
type Client interface {
	Name() models.Protocol
	FetchYieldOpportunities(ctx context.Context) ([]models.YieldOpportunity, error)
	HealthCheck(ctx context.Context) HealthStatus
}

// HealthStatus reports a vendor API's reachability.
type HealthStatus struct {
	Up        bool      `json:"up"`
	LatencyMs int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// httpClient is the shared HTTP plumbing for vendor APIs.
type httpClient struct {
	client  *http.Client
	baseURL string
}

func newHTTPClient(baseURL string, timeoutSeconds int) *httpClient {
	timeout := time.Duration(timeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &httpClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// getJSON performs a GET against path and decodes the JSON response into result.
func (c *httpClient) getJSON(ctx context.Context, path string, result interface{}) error {
	return c.request(ctx, http.MethodGet, path, nil, result)
}

func (c *httpClient) request(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "yieldr/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("vendor API error (%d): %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

// ping measures reachability of a path and fills a HealthStatus.
func (c *httpClient) ping(ctx context.Context, path string) HealthStatus {
	start := time.Now()
	err := c.getJSON(ctx, path, nil)
	latency := time.Since(start)

	status := HealthStatus{
		Up:        err == nil,
		LatencyMs: latency.Milliseconds(),
		CheckedAt: time.Now(),
	}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// isSBTCAsset reports whether a token symbol or contract address refers to
// sBTC. Detection is by substring match against the known sbtc/wsbtc markers.
func isSBTCAsset(symbol, contractAddress string) bool {
	symbol = strings.ToLower(symbol)
	contractAddress = strings.ToLower(contractAddress)
	for _, marker := range []string{"sbtc", "wsbtc"} {
		if strings.Contains(symbol, marker) || strings.Contains(contractAddress, marker) {
			return true
		}
	}
	return false
}

// tradingFeeAPY annualizes 24h trading fees against pool TVL, as a percentage.
func tradingFeeAPY(fees24hUSD, tvlUSD float64) float64 {
	if tvlUSD <= 0 {
		return 0
	}
	return fees24hUSD * 365 / tvlUSD * 100
}

// estimatedRewardAPY assumes a reward rate from the pool's TVL bucket; larger
// pools get a lower assumed rate. Used only when the vendor does not report
// reward emissions, and always marked as estimated on the breakdown.
func estimatedRewardAPY(tvlUSD float64) float64 {
	switch {
	case tvlUSD >= 10_000_000:
		return 2.0
	case tvlUSD >= 1_000_000:
		return 5.0
	case tvlUSD >= 100_000:
		return 8.0
	default:
		return 12.0
	}
}
