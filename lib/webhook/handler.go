// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/conveyor-ci/conveyor/lib/engine"
	"github.com/conveyor-ci/conveyor/lib/event"
)

// maxBodySize caps a webhook delivery body. Forge push payloads with
// large commit listings stay well under this.
const maxBodySize = 10 * 1024 * 1024

// Submitter is the engine surface the webhook handler needs.
// *engine.Engine satisfies it.
type Submitter interface {
	SubmitEvent(ctx context.Context, ev event.Event) ([]engine.Submission, error)
}

// HandlerConfig configures the webhook HTTP handler.
type HandlerConfig struct {
	// Submitter receives parsed events.
	Submitter Submitter

	// Secret is the HMAC shared secret. Empty disables signature
	// verification; only acceptable for local development.
	Secret []byte

	// Logger receives per-delivery events.
	Logger *slog.Logger
}

// deliveryResponse is the JSON body for accepted deliveries.
type deliveryResponse struct {
	Event       string              `json:"event"`
	Submissions []engine.Submission `json:"submissions"`
}

// errorResponse is the JSON body for every non-2xx response and for
// ignored deliveries.
type errorResponse struct {
	Error   string `json:"error,omitempty"`
	Ignored string `json:"ignored,omitempty"`
}

// NewHandler returns the webhook HTTP handler: POST /webhook for
// deliveries and GET /healthz for liveness probes.
func NewHandler(config HandlerConfig) http.Handler {
	if config.Submitter == nil {
		panic("webhook.NewHandler: missing Submitter")
	}
	if config.Logger == nil {
		panic("webhook.NewHandler: missing Logger")
	}
	h := &handler{
		submitter: config.Submitter,
		secret:    config.Secret,
		logger:    config.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", h.handleDelivery)
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	return mux
}

type handler struct {
	submitter Submitter
	secret    []byte
	logger    *slog.Logger
}

func (h *handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "ok\n")
}

// handleDelivery verifies, parses, and submits one webhook delivery.
// Ignored deliveries are acknowledged with 200 so the forge does not
// retry them; only unparseable or unverifiable deliveries get error
// statuses.
func (h *handler) handleDelivery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "reading request body"})
		return
	}

	if len(h.secret) > 0 {
		signature := r.Header.Get("X-Hub-Signature-256")
		if err := VerifySignature(h.secret, body, signature); err != nil {
			h.logger.Warn("webhook signature rejected",
				"remote", r.RemoteAddr,
				"error", err)
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "signature verification failed"})
			return
		}
	}

	eventName := r.Header.Get("X-GitHub-Event")
	ev, err := event.ParseWebhook(eventName, body)
	if err != nil {
		switch {
		case errors.Is(err, event.ErrIgnoredEvent):
			writeJSON(w, http.StatusOK, errorResponse{Ignored: err.Error()})
		case errors.Is(err, event.ErrUnsupportedEvent):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		default:
			h.logger.Warn("webhook payload rejected", "event", eventName, "error", err)
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
		return
	}
	ev.ReceivedAt = time.Now().UTC()

	submissions, err := h.submitter.SubmitEvent(r.Context(), ev)
	if err != nil {
		h.logger.Error("webhook submission failed", "event", ev.String(), "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "submission failed"})
		return
	}

	h.logger.Info("webhook delivery accepted",
		"event", ev.String(),
		"workflows", len(submissions))
	writeJSON(w, http.StatusAccepted, deliveryResponse{
		Event:       string(ev.Kind),
		Submissions: submissions,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
