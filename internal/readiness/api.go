package readiness

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
)

// defaultProbeTimeout bounds a single status API request. It stays well
// under the poll interval so a hung agent cannot stall the poll loop.
const defaultProbeTimeout = 2 * time.Second

// TunnelRecord is one entry of the agent's status API response.
type TunnelRecord struct {
	Name      string `json:"name"`
	PublicURL string `json:"public_url"`
	Proto     string `json:"proto"`
	Config    struct {
		Addr string `json:"addr"`
	} `json:"config"`
}

// TunnelsResponse is the body returned by the agent's status endpoint,
// e.g. {"tunnels":[{"public_url":"https://x.example/"}]}.
type TunnelsResponse struct {
	Tunnels []TunnelRecord `json:"tunnels"`
	URI     string         `json:"uri"`
}

// APIDetector polls an agent's loopback status endpoint.
type APIDetector struct {
	client *resty.Client
	url    string
}

// NewAPIDetector creates a detector for the given status URL.
//
// Retries are disabled: the orchestrator's poll loop is the retry policy,
// and a failed probe simply waits for the next tick.
func NewAPIDetector(url string) *APIDetector {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 0
	retryClient.Logger = nil

	client := resty.New().
		SetTimeout(defaultProbeTimeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "tunnelctl")
	client.SetTransport(retryClient.HTTPClient.Transport)

	return &APIDetector{client: client, url: url}
}

// URL returns the probed status endpoint.
func (d *APIDetector) URL() string {
	return d.url
}

// Detect issues one GET and returns the public URL of the first tunnel
// record that has one. An empty tunnel list means "not ready yet".
func (d *APIDetector) Detect(ctx context.Context, _ Source) (string, error) {
	resp, err := d.client.R().SetContext(ctx).Get(d.url)
	if err != nil {
		return "", fmt.Errorf("status probe %s: %w", d.url, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("status probe %s: unexpected status %d", d.url, resp.StatusCode())
	}

	var body TunnelsResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", fmt.Errorf("status probe %s: decode response: %w", d.url, err)
	}
	return FirstPublicURL(body), nil
}

// FirstPublicURL returns the first non-empty public URL in the response.
func FirstPublicURL(body TunnelsResponse) string {
	for _, t := range body.Tunnels {
		if t.PublicURL != "" {
			return t.PublicURL
		}
	}
	return ""
}
