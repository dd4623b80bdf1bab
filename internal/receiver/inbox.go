package receiver

import (
	"context"
	"errors"
	"net/http"

	"beam/internal/privacy"
	"beam/pkg/beamclient"
	"beam/pkg/beamclient/types"

	"github.com/sirupsen/logrus"
)

// ClientFactory builds an API client for a relay base URL
type ClientFactory func(baseURL string) beamclient.Client

// NewClientFactory returns a factory sharing one HTTP client and logger
func NewClientFactory(httpClient *http.Client, logger *logrus.Logger) ClientFactory {
	return func(baseURL string) beamclient.Client {
		return beamclient.NewClientWithLogger(baseURL, httpClient, logger)
	}
}

// APIInbox talks to whichever relay the device record points at
type APIInbox struct {
	clients ClientFactory
	logger  *logrus.Logger
}

func NewAPIInbox(clients ClientFactory, logger *logrus.Logger) *APIInbox {
	if logger == nil {
		logger = logrus.New()
	}
	return &APIInbox{clients: clients, logger: logger}
}

// Ack acknowledges an item. An item the relay no longer holds was already
// consumed elsewhere (push and catch-up racing), so that 404 counts as done.
func (a *APIInbox) Ack(ctx context.Context, device Device, itemID string) error {
	_, err := a.clients(device.APIBaseURL).Ack(ctx, itemID, device.InboxKey)
	var apiErr *types.APIError
	if errors.As(err, &apiErr) && apiErr.UnknownItem() {
		a.logger.WithField("item_id", privacy.MaskItemID(itemID)).Debug("Item already acknowledged")
		return nil
	}
	return err
}

func (a *APIInbox) ListPending(ctx context.Context, device Device) ([]types.PendingItem, error) {
	return a.clients(device.APIBaseURL).ListPending(ctx, device.DeviceID, device.InboxKey)
}
