package beamclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"beam/pkg/beamclient/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/devices", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Empty(t, r.Header.Get("X-Inbox-Key"))

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "chr_abc123", body["deviceId"])
		assert.Equal(t, "Laptop", body["name"])
		sub := body["subscription"].(map[string]interface{})
		assert.Equal(t, "https://push.example.com/1", sub["endpoint"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"deviceId":"chr_abc123","updated":false}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", nil)
	resp, err := client.Register(context.Background(), types.RegisterRequest{
		DeviceID: "chr_abc123",
		KeyHash:  "ab",
		Subscription: &types.Subscription{
			Endpoint: "https://push.example.com/1",
			Keys:     types.SubscriptionKeys{P256dh: "p", Auth: "a"},
		},
		Name: "Laptop",
	})
	require.NoError(t, err)
	assert.Equal(t, "chr_abc123", resp.DeviceID)
	assert.False(t, resp.Updated)
}

func TestRotateKey(t *testing.T) {
	t.Run("sends current key", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/devices/chr_abc123/rotate-key", r.URL.Path)
			assert.Equal(t, "old-key", r.Header.Get("X-Inbox-Key"))
			_, _ = w.Write([]byte(`{"rotated":true}`))
		}))
		defer server.Close()

		err := NewClient(server.URL, nil).RotateKey(context.Background(), "chr_abc123", "old-key", types.RotateKeyRequest{KeyHash: "cd"})
		assert.NoError(t, err)
	})

	t.Run("unconfirmed rotation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))
		defer server.Close()

		err := NewClient(server.URL, nil).RotateKey(context.Background(), "chr_abc123", "old-key", types.RotateKeyRequest{KeyHash: "cd"})
		assert.Error(t, err)
	})
}

func TestListPending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/devices/chr_abc123/pending", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Inbox-Key"))
		_, _ = w.Write([]byte(`{"items":[
			{"itemId":"itm_1","url":"https://example.com/1","createdAt":"2026-03-01T12:00:00Z"},
			42,
			{"url":"https://example.com/missing-id"}
		]}`))
	}))
	defer server.Close()

	items, err := NewClient(server.URL, nil).ListPending(context.Background(), "chr_abc123", "secret")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "itm_1", items[0].ItemID)
	assert.Equal(t, "2026-03-01T12:00:00Z", items[0].CreatedAt)
	assert.Empty(t, items[1].ItemID)
}

func TestAck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/items/itm_1/ack", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Inbox-Key"))
		body, _ := io.ReadAll(r.Body)
		assert.Empty(t, body)
		_, _ = w.Write([]byte(`{"acknowledged":true,"itemId":"itm_1"}`))
	}))
	defer server.Close()

	resp, err := NewClient(server.URL, nil).Ack(context.Background(), "itm_1", "secret")
	require.NoError(t, err)
	assert.True(t, resp.Acknowledged)
	assert.Equal(t, "itm_1", resp.ItemID)
}

func TestEnqueue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/inbox/chr_abc123", r.URL.Path)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://example.com", body["url"])
		_, hasSentAt := body["sentAt"]
		assert.False(t, hasSentAt)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"itemId":"itm_9","enqueued":true}`))
	}))
	defer server.Close()

	resp, err := NewClient(server.URL, nil).Enqueue(context.Background(), "chr_abc123", "secret", types.EnqueueRequest{URL: "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, "itm_9", resp.ItemID)
	assert.True(t, resp.Enqueued)
}

func TestAPIErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		retryAfter string
		wantCode   string
		wantMsg    string
		wantRetry  int
	}{
		{
			name:     "unknown item",
			status:   http.StatusNotFound,
			body:     `{"error":{"code":"ERR_ACK_UNKNOWN_ITEM","message":"Pending item not found"}}`,
			wantCode: "ERR_ACK_UNKNOWN_ITEM",
			wantMsg:  "Pending item not found",
		},
		{
			name:       "rate limited",
			status:     http.StatusTooManyRequests,
			body:       `{"error":{"code":"ERR_RATE_LIMIT","message":"Rate limit exceeded"}}`,
			retryAfter: "42",
			wantCode:   "ERR_RATE_LIMIT",
			wantMsg:    "Rate limit exceeded",
			wantRetry:  42,
		},
		{
			name:    "plain text body",
			status:  http.StatusBadGateway,
			body:    "upstream down",
			wantMsg: "upstream down",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewClient(server.URL, nil).Ack(context.Background(), "itm_1", "secret")
			require.Error(t, err)

			var apiErr *types.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.Equal(t, tt.wantMsg, apiErr.Message)
			assert.Equal(t, tt.wantRetry, apiErr.RetryAfter)
		})
	}
}

func TestHealthAndVAPIDKey(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"service":"beam"}`))
	})
	mux.HandleFunc("/v1/vapid-public-key", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"publicKey":"BPub"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL, nil)
	assert.NoError(t, client.HealthCheck(context.Background()))

	key, err := client.VAPIDPublicKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "BPub", key)
}

func TestTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	_, err := NewClient(server.URL, nil).Ack(context.Background(), "itm_1", "secret")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to send request")
}
