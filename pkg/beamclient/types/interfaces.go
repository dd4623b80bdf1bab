package types

import (
	"context"
)

type Client interface {
	Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error)
	RotateKey(ctx context.Context, deviceID, inboxKey string, req RotateKeyRequest) error
	Enqueue(ctx context.Context, deviceID, inboxKey string, req EnqueueRequest) (*EnqueueResponse, error)
	ListPending(ctx context.Context, deviceID, inboxKey string) ([]PendingItem, error)
	Ack(ctx context.Context, itemID, inboxKey string) (*AckResponse, error)
	VAPIDPublicKey(ctx context.Context) (string, error)
	HealthCheck(ctx context.Context) error
}
