package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"beam/internal/errors"
	"beam/internal/metrics"
	"beam/internal/models"
	"beam/internal/tracing"
	"beam/pkg/circuitbreaker"
	"beam/pkg/webpush"
)

// PushSender delivers one encrypted Web Push message
type PushSender interface {
	Send(ctx context.Context, sub webpush.Subscription, payload []byte, opts ...webpush.EncryptOption) (webpush.Result, error)
}

// PushDispatcher sends a pending item to its device's push endpoint. Each
// push service origin gets its own circuit breaker. Delivery is best effort:
// the item stays pending whatever happens here, and the receiver's catch-up
// picks it up later.
type PushDispatcher struct {
	sender   PushSender
	breakers *circuitbreaker.Group
	logger   *logrus.Logger
}

// NewPushDispatcher creates a dispatcher. A nil sender disables push.
func NewPushDispatcher(sender PushSender, breakers *circuitbreaker.Group, logger *logrus.Logger) *PushDispatcher {
	return &PushDispatcher{sender: sender, breakers: breakers, logger: logger}
}

// errUpstream marks push service responses that should count against the breaker
type errUpstream struct {
	status int
}

func (e *errUpstream) Error() string {
	return fmt.Sprintf("push service answered %d", e.status)
}

// Dispatch encrypts and sends the item's payload. It returns an error for
// logging only; callers never surface it to the enqueuing client.
func (d *PushDispatcher) Dispatch(ctx context.Context, device *models.Device, item *models.PendingItem) error {
	entry := eventEntry(d.logger, EventPushSkipped, device.DeviceID).WithFields(itemFields(ctx, item.ItemID, ""))

	if d.sender == nil {
		entry.Debug("Push disabled, item left for catch-up")
		metrics.IncrementCounter(metrics.PushSkipped, map[string]string{"reason": "disabled"}, "Pushes not attempted")
		return nil
	}

	sub, err := device.DecodeSubscription()
	if err != nil || sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		entry.Warn("Device subscription is incomplete, skipping push")
		metrics.IncrementCounter(metrics.PushSkipped, map[string]string{"reason": "subscription"}, "Pushes not attempted")
		return errors.NewPushError("", webpush.ErrIncompleteKeys)
	}

	origin, err := webpush.Audience(sub.Endpoint)
	if err != nil {
		return errors.NewPushError("", err)
	}

	payload, err := json.Marshal(item.Payload())
	if err != nil {
		return errors.NewPushError(origin, err)
	}

	ctx, span := tracing.StartSpan(ctx, "push.send", attribute.String("push.origin", origin))
	defer span.End()

	var result webpush.Result
	start := time.Now()
	err = d.breakers.Execute(ctx, origin, func(ctx context.Context) error {
		res, err := d.sender.Send(ctx, webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}, payload)
		if err != nil {
			return err
		}
		result = res
		if res.StatusCode >= http.StatusInternalServerError || res.StatusCode == http.StatusTooManyRequests {
			return &errUpstream{status: res.StatusCode}
		}
		return nil
	})
	duration := time.Since(start)

	fields := itemFields(ctx, item.ItemID, "")
	fields[LogFieldOrigin] = origin
	fields[LogFieldDuration] = duration.Milliseconds()

	if circuitbreaker.IsCircuitBreakerError(err) {
		eventEntry(d.logger, EventPushSkipped, device.DeviceID).WithFields(fields).Warn("Push service circuit open, skipping push")
		metrics.IncrementCounter(metrics.PushSkipped, map[string]string{"reason": "circuit_open"}, "Pushes not attempted")
		return errors.NewPushError(origin, err)
	}

	metrics.RecordTimer(metrics.PushDuration, duration, map[string]string{"origin": origin}, "Push send duration")
	tracing.AddSpanAttributes(ctx, attribute.Int("http.response.status_code", result.StatusCode))

	if result.StatusCode == 0 && err != nil {
		tracing.RecordError(ctx, err)
		eventEntry(d.logger, EventPushFailed, device.DeviceID).WithFields(fields).WithError(err).Error("Push delivery failed")
		metrics.IncrementCounter(metrics.PushSent, map[string]string{"result": "error"}, "Push send attempts")
		return errors.NewPushError(origin, err)
	}

	fields[LogFieldStatusCode] = result.StatusCode
	if result.Gone() {
		// the device must re-register; its items stay listed for catch-up
		eventEntry(d.logger, EventPushGone, device.DeviceID).WithFields(fields).Warn("Push subscription expired")
		metrics.IncrementCounter(metrics.PushSubscriptionGone, map[string]string{"origin": origin}, "Pushes to expired subscriptions")
		return errors.NewPushError(origin, fmt.Errorf("push subscription gone (%d)", result.StatusCode))
	}
	if !result.Accepted {
		tracing.RecordError(ctx, fmt.Errorf("push rejected with %d", result.StatusCode))
		eventEntry(d.logger, EventPushRejected, device.DeviceID).WithFields(fields).Warn("Push service rejected message")
		metrics.IncrementCounter(metrics.PushSent, map[string]string{"result": "rejected", "status": strconv.Itoa(result.StatusCode)}, "Push send attempts")
		return errors.NewPushError(origin, fmt.Errorf("push service answered %d", result.StatusCode))
	}

	eventEntry(d.logger, EventPushSent, device.DeviceID).WithFields(fields).Info("Push sent")
	metrics.IncrementCounter(metrics.PushSent, map[string]string{"result": "accepted"}, "Push send attempts")
	return nil
}
