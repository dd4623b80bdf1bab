package beamclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"beam/pkg/beamclient/types"

	"github.com/sirupsen/logrus"
)

const (
	inboxKeyHeader  = "X-Inbox-Key"
	maxResponseBody = 1 << 20
)

type Client = types.Client

type BeamClient struct {
	baseURL string
	client  *http.Client
	logger  *logrus.Logger
}

func NewClient(baseURL string, httpClient *http.Client) Client {
	return NewClientWithLogger(baseURL, httpClient, nil)
}

func NewClientWithLogger(baseURL string, httpClient *http.Client, logger *logrus.Logger) Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &BeamClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  httpClient,
		logger:  logger,
	}
}

func (c *BeamClient) Register(ctx context.Context, req types.RegisterRequest) (*types.RegisterResponse, error) {
	var result types.RegisterResponse
	if err := c.do(ctx, http.MethodPost, "/v1/devices", "", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *BeamClient) RotateKey(ctx context.Context, deviceID, inboxKey string, req types.RotateKeyRequest) error {
	endpoint := fmt.Sprintf("/v1/devices/%s/rotate-key", url.PathEscape(deviceID))
	var result types.RotateKeyResponse
	if err := c.do(ctx, http.MethodPost, endpoint, inboxKey, req, &result); err != nil {
		return err
	}
	if !result.Rotated {
		return fmt.Errorf("beam API did not confirm key rotation for %s", deviceID)
	}
	return nil
}

func (c *BeamClient) Enqueue(ctx context.Context, deviceID, inboxKey string, req types.EnqueueRequest) (*types.EnqueueResponse, error) {
	endpoint := fmt.Sprintf("/v1/inbox/%s", url.PathEscape(deviceID))
	var result types.EnqueueResponse
	if err := c.do(ctx, http.MethodPost, endpoint, inboxKey, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListPending returns the device's pending items. Entries that do not decode
// as objects are dropped; callers still need to check for missing fields.
func (c *BeamClient) ListPending(ctx context.Context, deviceID, inboxKey string) ([]types.PendingItem, error) {
	endpoint := fmt.Sprintf("/v1/devices/%s/pending", url.PathEscape(deviceID))
	var result types.PendingResponse
	if err := c.do(ctx, http.MethodGet, endpoint, inboxKey, nil, &result); err != nil {
		return nil, err
	}

	items := make([]types.PendingItem, 0, len(result.Items))
	for i, raw := range result.Items {
		var item types.PendingItem
		if err := json.Unmarshal(raw, &item); err != nil {
			c.logger.WithFields(logrus.Fields{
				"index": i,
				"error": err.Error(),
			}).Debug("Skipping undecodable pending entry")
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (c *BeamClient) Ack(ctx context.Context, itemID, inboxKey string) (*types.AckResponse, error) {
	endpoint := fmt.Sprintf("/v1/items/%s/ack", url.PathEscape(itemID))
	var result types.AckResponse
	if err := c.do(ctx, http.MethodPost, endpoint, inboxKey, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *BeamClient) VAPIDPublicKey(ctx context.Context) (string, error) {
	var result types.VAPIDKeyResponse
	if err := c.do(ctx, http.MethodGet, "/v1/vapid-public-key", "", nil, &result); err != nil {
		return "", err
	}
	return result.PublicKey, nil
}

func (c *BeamClient) HealthCheck(ctx context.Context) error {
	var result types.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/healthz", "", nil, &result); err != nil {
		return err
	}
	if !result.OK {
		return fmt.Errorf("beam API reported unhealthy")
	}
	return nil
}

func (c *BeamClient) do(ctx context.Context, method, path, inboxKey string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	endpoint := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil || method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	if inboxKey != "" {
		req.Header.Set(inboxKeyHeader, inboxKey)
	}

	c.logger.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
	}).Debug("Sending beam API request")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := types.ParseAPIError(resp.StatusCode, bodyBytes)
		if retry, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = retry
		}
		c.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"code":   apiErr.Code,
			"path":   path,
		}).Debug("Beam API returned error status")
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(bodyBytes)) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
