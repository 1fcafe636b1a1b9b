// Package metrics supplies the sample series behind the built-in
// recursive and alert commands: local system probes plus an HTTP JSON
// poller for deployments that expose their numbers on a gateway.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/cadencebot/cadence/pkg/alert"
	"github.com/cadencebot/cadence/pkg/logger"
)

// GatewayClient polls a JSON metrics endpoint. Alert handlers wrap
// Sample in a closure and hand it to their command definition.
type GatewayClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewGatewayClient creates a poller for the given base URL. An empty
// URL falls back to the local gateway.
func NewGatewayClient(baseURL, apiKey string) *GatewayClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:7380"
	}
	return &GatewayClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Sample fetches path and projects the named numeric field into a
// single timestamped sample.
func (c *GatewayClient) Sample(ctx context.Context, path, field string) ([]alert.Sample, error) {
	data, err := c.fetch(ctx, path)
	if err != nil {
		return nil, err
	}
	v, ok := data[field].(float64)
	if !ok {
		return nil, fmt.Errorf("metrics: field %q missing or not numeric in %s", field, path)
	}
	return []alert.Sample{{Time: time.Now(), Value: v}}, nil
}

func (c *GatewayClient) fetch(ctx context.Context, path string) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("metrics: gateway %d on %s", resp.StatusCode, path)
	}
	return result, nil
}

// --- Local probes ---

const loadavgPath = "/proc/loadavg"

// LoadAverage reads the 1/5/15-minute load averages as a sample series,
// oldest window first. Only available on Linux.
func LoadAverage() ([]alert.Sample, error) {
	data, err := os.ReadFile(loadavgPath)
	if err != nil {
		return nil, fmt.Errorf("metrics: read loadavg: %w", err)
	}
	return parseLoadAvg(string(data), time.Now())
}

// parseLoadAvg maps the three load windows onto a timeline so the
// cumulative-difference gate sees the 1-minute figure as newest.
func parseLoadAvg(raw string, now time.Time) ([]alert.Sample, error) {
	fields := strings.Fields(raw)
	if len(fields) < 3 {
		return nil, fmt.Errorf("metrics: malformed loadavg %q", raw)
	}
	windows := []time.Duration{15 * time.Minute, 5 * time.Minute, time.Minute}
	out := make([]alert.Sample, 3)
	for i, age := range windows {
		v, err := strconv.ParseFloat(fields[2-i], 64)
		if err != nil {
			return nil, fmt.Errorf("metrics: loadavg field %q: %w", fields[2-i], err)
		}
		out[i] = alert.Sample{Time: now.Add(-age), Value: v}
	}
	return out, nil
}

// ProcessStats reports this process's health for the recursive uptime
// command.
func ProcessStats(start time.Time) map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	stats := map[string]interface{}{
		"Uptime":     time.Since(start).Round(time.Second).String(),
		"Goroutines": runtime.NumGoroutine(),
		"AllocMB":    m.Alloc / (1 << 20),
	}
	logger.DebugCF("metrics", "process stats sampled", stats)
	return stats
}
