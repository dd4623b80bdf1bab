package main

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"beam/internal/receiver"
	"beam/pkg/beamclient/types"
	"beam/pkg/webpush"
)

const (
	keyPushKeys    = "beam.pushkeys"
	authSecretSize = 16
)

// pushKeys is this receiver's Web Push identity: the P-256 key the relay
// encrypts to and the shared auth secret
type pushKeys struct {
	PrivateKey string `json:"privateKey"`
	Auth       string `json:"auth"`

	private *ecdh.PrivateKey
	auth    []byte
}

// loadOrCreatePushKeys reuses the stored key pair so the registered
// subscription stays valid across restarts
func loadOrCreatePushKeys(ctx context.Context, store receiver.Storage) (*pushKeys, error) {
	raw, err := store.Get(ctx, keyPushKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to read push keys: %w", err)
	}
	if len(raw) > 0 {
		var keys pushKeys
		if err := json.Unmarshal(raw, &keys); err != nil {
			return nil, fmt.Errorf("failed to decode push keys: %w", err)
		}
		if err := keys.decode(); err != nil {
			return nil, err
		}
		return &keys, nil
	}

	private, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate push key: %w", err)
	}
	auth := make([]byte, authSecretSize)
	if _, err := rand.Read(auth); err != nil {
		return nil, fmt.Errorf("failed to generate auth secret: %w", err)
	}

	keys := &pushKeys{
		PrivateKey: webpush.EncodeBase64URL(private.Bytes()),
		Auth:       webpush.EncodeBase64URL(auth),
		private:    private,
		auth:       auth,
	}
	if err := store.Set(ctx, keyPushKeys, keys); err != nil {
		return nil, fmt.Errorf("failed to persist push keys: %w", err)
	}
	return keys, nil
}

func (k *pushKeys) decode() error {
	d, err := webpush.DecodeBase64URL(k.PrivateKey)
	if err != nil {
		return fmt.Errorf("invalid stored push key: %w", err)
	}
	private, err := ecdh.P256().NewPrivateKey(d)
	if err != nil {
		return fmt.Errorf("invalid stored push key: %w", err)
	}
	auth, err := webpush.DecodeBase64URL(k.Auth)
	if err != nil || len(auth) != authSecretSize {
		return fmt.Errorf("invalid stored auth secret")
	}
	k.private = private
	k.auth = auth
	return nil
}

func (k *pushKeys) subscription(endpoint string) *types.Subscription {
	return &types.Subscription{
		Endpoint: endpoint,
		Keys: types.SubscriptionKeys{
			P256dh: webpush.EncodeBase64URL(k.private.PublicKey().Bytes()),
			Auth:   webpush.EncodeBase64URL(k.auth),
		},
	}
}
