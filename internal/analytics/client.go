package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sdko-org/query-gateway/internal/accesslog"
	"github.com/sdko-org/query-gateway/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrDisabled is returned when no analytics service is configured.
var ErrDisabled = errors.New("analytics service not configured")

// Client calls the external text-generation service with aggregated usage
// statistics or endpoint metadata and returns its free-form text. The
// generated text is opaque to the gateway.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	log        *logrus.Entry
}

type loggingTransport struct {
	log *logrus.Entry
}

func NewClient(logger *logrus.Logger, baseURL, token string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: &loggingTransport{log: logger.WithField("component", "analytics_transport")},
		},
		baseURL: baseURL,
		token:   token,
		log:     logger.WithField("component", "analytics_client"),
	}
}

// GenerateInsights submits usage statistics and returns generated analysis.
func (c *Client) GenerateInsights(ctx context.Context, stats *accesslog.UsageStats) (string, error) {
	return c.generate(ctx, map[string]interface{}{
		"kind":  "usage_insights",
		"stats": stats,
	})
}

// GenerateDocumentation submits an endpoint definition and returns
// generated documentation text.
func (c *Client) GenerateDocumentation(ctx context.Context, def *models.EndpointDefinition) (string, error) {
	return c.generate(ctx, map[string]interface{}{
		"kind": "endpoint_documentation",
		"endpoint": map[string]interface{}{
			"name":        def.Name,
			"path":        def.Path,
			"method":      def.Method,
			"description": def.Description,
			"parameters":  def.Parameters,
		},
	})
}

func (c *Client) generate(ctx context.Context, payload map[string]interface{}) (string, error) {
	if c.baseURL == "" {
		return "", ErrDisabled
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode analytics request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build analytics request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "QueryGateway/1.0")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WithError(err).Error("Analytics request failed")
		return "", fmt.Errorf("analytics request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.WithField("status_code", resp.StatusCode).Error("Analytics service returned error")
		return "", fmt.Errorf("analytics service returned status %d", resp.StatusCode)
	}

	var generated struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&generated); err != nil {
		return "", fmt.Errorf("failed to decode analytics response: %w", err)
	}

	return generated.Text, nil
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	log := t.log.WithFields(logrus.Fields{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		log.WithError(err).Error("HTTP request failed")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"duration":    time.Since(start),
	}).Debug("HTTP request completed")
	return resp, nil
}
