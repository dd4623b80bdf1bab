package webpush

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	DefaultTTL      = 60 * time.Second
	DefaultUrgency  = "high"
	DefaultTokenTTL = 12 * time.Hour
)

// Result reports how the push service answered
type Result struct {
	Accepted   bool
	StatusCode int
}

// Gone reports that the push service no longer knows the subscription
func (r Result) Gone() bool {
	return r.StatusCode == http.StatusNotFound || r.StatusCode == http.StatusGone
}

// HTTPDoer is the subset of *http.Client used for delivery
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Sender encrypts and POSTs messages to push services. It never retries.
type Sender struct {
	keys     *VAPIDKeys
	subject  string
	client   HTTPDoer
	ttl      time.Duration
	urgency  string
	tokenTTL time.Duration
	now      func() time.Time
}

// SenderOption configures a Sender
type SenderOption func(*Sender)

func WithHTTPClient(c HTTPDoer) SenderOption {
	return func(s *Sender) { s.client = c }
}

func WithTTL(ttl time.Duration) SenderOption {
	return func(s *Sender) { s.ttl = ttl }
}

func WithUrgency(urgency string) SenderOption {
	return func(s *Sender) { s.urgency = urgency }
}

func WithTokenTTL(ttl time.Duration) SenderOption {
	return func(s *Sender) { s.tokenTTL = ttl }
}

func WithClock(now func() time.Time) SenderOption {
	return func(s *Sender) { s.now = now }
}

// NewSender creates a sender. keys may be nil, in which case every Send fails
// with ErrMissingVAPIDKeys.
func NewSender(keys *VAPIDKeys, subject string, opts ...SenderOption) *Sender {
	s := &Sender{
		keys:     keys,
		subject:  subject,
		client:   &http.Client{Timeout: 10 * time.Second},
		ttl:      DefaultTTL,
		urgency:  DefaultUrgency,
		tokenTTL: DefaultTokenTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PublicKey returns the VAPID public key, or "" when none is configured
func (s *Sender) PublicKey() string {
	if s.keys == nil {
		return ""
	}
	return s.keys.PublicKey
}

// Send encrypts payload for sub and delivers it. Accepted means the push
// service answered with a status below 400; it says nothing about the device.
func (s *Sender) Send(ctx context.Context, sub Subscription, payload []byte, opts ...EncryptOption) (Result, error) {
	if s.keys == nil {
		return Result{}, ErrMissingVAPIDKeys
	}
	if err := sub.Validate(); err != nil {
		return Result{}, err
	}

	req, err := s.NewRequest(ctx, sub, payload, opts...)
	if err != nil {
		return Result{}, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("webpush: deliver: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	return Result{Accepted: resp.StatusCode < 400, StatusCode: resp.StatusCode}, nil
}

// NewRequest builds the encrypted, VAPID-signed POST without sending it
func (s *Sender) NewRequest(ctx context.Context, sub Subscription, payload []byte, opts ...EncryptOption) (*http.Request, error) {
	if s.keys == nil {
		return nil, ErrMissingVAPIDKeys
	}

	enc, err := Encrypt(sub, payload, opts...)
	if err != nil {
		return nil, err
	}

	token, err := VAPIDToken(s.keys, sub.Endpoint, s.subject, s.now().Add(s.tokenTTL))
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(enc.Body))
	if err != nil {
		return nil, fmt.Errorf("webpush: build request: %w", err)
	}

	req.Header.Set("Authorization", AuthorizationHeader(token, s.keys.PublicKey))
	req.Header.Set("Content-Encoding", ContentEncoding)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Crypto-Key", "dh="+EncodeBase64URL(enc.ServerPublicKey)+", p256ecdsa="+s.keys.PublicKey)
	req.Header.Set("Encryption", "salt="+EncodeBase64URL(enc.Salt))
	req.Header.Set("TTL", strconv.Itoa(int(s.ttl/time.Second)))
	req.Header.Set("Urgency", s.urgency)

	return req, nil
}
