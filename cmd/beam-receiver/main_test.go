package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"sync"
	"testing"
	"time"

	"beam/internal/models"
	"beam/internal/receiver"
	"beam/internal/storage"
	"beam/pkg/webpush"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newStore() *receiver.KVStorage {
	return receiver.NewKVStorage(storage.NewMemoryKV())
}

func TestPushKeys_PersistedAcrossLoads(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	first, err := loadOrCreatePushKeys(ctx, store)
	require.NoError(t, err)
	second, err := loadOrCreatePushKeys(ctx, store)
	require.NoError(t, err)

	assert.Equal(t, first.PrivateKey, second.PrivateKey)
	assert.Equal(t, first.Auth, second.Auth)

	sub := second.subscription("https://laptop.example.com/push")
	assert.Equal(t, "https://laptop.example.com/push", sub.Endpoint)
	assert.Equal(t, webpush.EncodeBase64URL(first.private.PublicKey().Bytes()), sub.Keys.P256dh)
	assert.Equal(t, first.Auth, sub.Keys.Auth)
}

func TestPushKeys_CorruptStoredKey(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	require.NoError(t, store.Set(ctx, keyPushKeys, map[string]string{"privateKey": "!!", "auth": "x"}))

	_, err := loadOrCreatePushKeys(ctx, store)
	assert.Error(t, err)
}

type recordedPushes struct {
	mu       sync.Mutex
	payloads []models.PushPayload
	done     chan struct{}
}

func (r *recordedPushes) handle(ctx context.Context, p models.PushPayload) error {
	r.mu.Lock()
	r.payloads = append(r.payloads, p)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func encryptFor(t *testing.T, keys *pushKeys, payload interface{}) []byte {
	t.Helper()
	plaintext, err := json.Marshal(payload)
	require.NoError(t, err)
	sub := keys.subscription("https://laptop.example.com/push")
	enc, err := webpush.Encrypt(webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
	}, plaintext)
	require.NoError(t, err)
	return enc.Body
}

func TestPushEndpoint(t *testing.T) {
	ctx := context.Background()
	keys, err := loadOrCreatePushKeys(ctx, newStore())
	require.NoError(t, err)

	pushes := &recordedPushes{done: make(chan struct{}, 4)}
	endpoint := newPushEndpoint(ctx, keys, pushes.handle, quietLogger())
	server := httptest.NewServer(endpoint.router())
	defer server.Close()

	post := func(body []byte, encoding string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, server.URL+"/push", bytes.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Encoding", encoding)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	t.Run("delivers decrypted payload", func(t *testing.T) {
		body := encryptFor(t, keys, models.PushPayload{ItemID: "itm_1", URL: "https://example.com", SentAt: "2026-03-01T12:00:00Z"})
		resp := post(body, "aesgcm")
		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		select {
		case <-pushes.done:
		case <-time.After(2 * time.Second):
			t.Fatal("push was not handled")
		}
		endpoint.Wait()

		pushes.mu.Lock()
		defer pushes.mu.Unlock()
		require.Len(t, pushes.payloads, 1)
		assert.Equal(t, "itm_1", pushes.payloads[0].ItemID)
		assert.Equal(t, "https://example.com", pushes.payloads[0].URL)
	})

	t.Run("rejects other encodings", func(t *testing.T) {
		resp := post([]byte("{}"), "aes128gcm")
		assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	})

	t.Run("rejects undecryptable body", func(t *testing.T) {
		resp := post(bytes.Repeat([]byte{1}, 120), "aesgcm")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("rejects payload without url", func(t *testing.T) {
		body := encryptFor(t, keys, map[string]string{"itemId": "itm_2"})
		resp := post(body, "aesgcm")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestPushEndpoint_EndToEndFromSender(t *testing.T) {
	ctx := context.Background()
	keys, err := loadOrCreatePushKeys(ctx, newStore())
	require.NoError(t, err)

	pushes := &recordedPushes{done: make(chan struct{}, 1)}
	endpoint := newPushEndpoint(ctx, keys, pushes.handle, quietLogger())
	server := httptest.NewServer(endpoint.router())
	defer server.Close()

	vapid, _, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	sender := webpush.NewSender(vapid, "mailto:test@example.com")

	sub := keys.subscription(server.URL + "/push")
	payload, err := json.Marshal(models.PushPayload{ItemID: "itm_9", URL: "https://example.com/9"})
	require.NoError(t, err)

	result, err := sender.Send(ctx, webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
	}, payload)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, result.StatusCode)

	select {
	case <-pushes.done:
	case <-time.After(2 * time.Second):
		t.Fatal("push was not handled")
	}
	endpoint.Wait()
	assert.Equal(t, "itm_9", pushes.payloads[0].ItemID)
}

func TestBrowserTabs_OpenCommand(t *testing.T) {
	tests := []struct {
		goos     string
		wantName string
		wantArgs []string
	}{
		{goos: "darwin", wantName: "open", wantArgs: []string{"https://example.com"}},
		{goos: "windows", wantName: "rundll32", wantArgs: []string{"url.dll,FileProtocolHandler", "https://example.com"}},
		{goos: "linux", wantName: "xdg-open", wantArgs: []string{"https://example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			name, args := (&browserTabs{goos: tt.goos}).openCommand("https://example.com")
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestBrowserTabs_LaunchFailure(t *testing.T) {
	tabs := &browserTabs{
		goos: "linux",
		command: func(ctx context.Context, name string, args ...string) *exec.Cmd {
			return exec.CommandContext(ctx, "/nonexistent/beam-opener", args...)
		},
	}
	err := tabs.Create(context.Background(), "https://example.com", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to launch xdg-open")
}

func TestSaveSettingsAndPairing(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	disabled := false

	require.NoError(t, saveSettings(ctx, store, &models.ReceiverConfig{
		APIBaseURL: "https://relay.example.com",
		DeviceName: "Desk",
		AutoOpen:   &disabled,
	}))

	raw, err := store.Get(ctx, receiver.KeySettings)
	require.NoError(t, err)
	assert.JSONEq(t, `{"autoOpen":false}`, string(raw))

	raw, err = store.Get(ctx, receiver.KeyConfig)
	require.NoError(t, err)
	assert.JSONEq(t, `{"apiBaseUrl":"https://relay.example.com","deviceName":"Desk"}`, string(raw))

	assert.ErrorIs(t, printPairing(ctx, store), receiver.ErrNotRegistered)

	require.NoError(t, store.Set(ctx, receiver.KeyDevice, receiver.Device{
		DeviceID:   "chr_abc123",
		InboxKey:   "secret",
		APIBaseURL: "https://relay.example.com",
		Name:       "Desk",
	}))
	assert.NoError(t, printPairing(ctx, store))
}
