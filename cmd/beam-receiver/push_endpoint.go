package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"beam/internal/constants"
	"beam/internal/models"
	"beam/internal/privacy"
	"beam/pkg/webpush"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const maxPushBody = 8 * 1024

type pushHandler func(ctx context.Context, payload models.PushPayload) error

// pushEndpoint plays the push service role for this receiver: the relay
// POSTs encrypted messages here and each one is handed to the runtime
type pushEndpoint struct {
	ctx    context.Context
	keys   *pushKeys
	handle pushHandler
	logger *logrus.Logger
	wg     sync.WaitGroup
}

func newPushEndpoint(ctx context.Context, keys *pushKeys, handle pushHandler, logger *logrus.Logger) *pushEndpoint {
	return &pushEndpoint{ctx: ctx, keys: keys, handle: handle, logger: logger}
}

func (p *pushEndpoint) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(constants.ReceiverPushPath, p.handlePush).Methods(http.MethodPost)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "service": "beam-receiver"})
	}).Methods(http.MethodGet)
	return r
}

func (p *pushEndpoint) handlePush(w http.ResponseWriter, r *http.Request) {
	if !strings.EqualFold(r.Header.Get("Content-Encoding"), "aesgcm") {
		http.Error(w, "unsupported content encoding", http.StatusUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPushBody))
	if err != nil {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	plaintext, err := webpush.Decrypt(body, p.keys.private, p.keys.auth)
	if err != nil {
		p.logger.WithError(err).Warn("Rejected undecryptable push message")
		http.Error(w, "cannot decrypt message", http.StatusBadRequest)
		return
	}

	var payload models.PushPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil || payload.ItemID == "" || payload.URL == "" {
		p.logger.Warn("Rejected push message without itemId and url")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	p.logger.WithFields(logrus.Fields{
		"item_id": privacy.MaskItemID(payload.ItemID),
		"url":     privacy.MaskURL(payload.URL),
	}).Debug("Push message received")

	// respond before handling so the relay is never held up by the tab queue
	w.WriteHeader(http.StatusCreated)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.handle(p.ctx, payload); err != nil {
			p.logger.WithError(err).WithField("item_id", privacy.MaskItemID(payload.ItemID)).
				Error("Beam push handling failed")
		}
	}()
}

// Wait blocks until in-flight push handling finishes
func (p *pushEndpoint) Wait() {
	p.wg.Wait()
}
