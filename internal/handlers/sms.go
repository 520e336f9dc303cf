// nexus sms-relay - inbound SMS relay
// Copyright (C) 2025  nexus contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.

// Package handlers serves the relay's HTTP endpoints: the provider webhook
// that stores inbound SMS and the lookup used by consumers to fetch the
// latest message for a number.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jredh-dev/sms-relay/internal/guard"
	"github.com/jredh-dev/sms-relay/internal/sms"
	"github.com/jredh-dev/sms-relay/internal/store"
)

// ErrValidation is returned when a webhook lacks "to" or "message".
var ErrValidation = errors.New("validation failed")

// publishTimeout bounds one background publish.
const publishTimeout = 10 * time.Second

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	store     store.Store
	guard     *guard.Guard
	publisher sms.Publisher

	// publishing tracks background publishes still in flight.
	publishing sync.WaitGroup
}

// New creates a new Handler.  publisher may be nil to disable fan-out.
func New(s store.Store, g *guard.Guard, p sms.Publisher) *Handler {
	return &Handler{store: s, guard: g, publisher: p}
}

// Register mounts the SMS routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/sms", func(r chi.Router) {
		r.Get("/incoming", h.Incoming)
		r.Post("/incoming", h.Incoming)
		r.Get("/latest", h.Latest)
	})
}

// Health is the liveness probe: no auth, no dependency checks.
// GET /health
func Health(w http.ResponseWriter, _ *http.Request) {
	text(w, http.StatusOK, "OK")
}

// Incoming stores an SMS delivered by the provider webhook.
// POST /sms/incoming, GET /sms/incoming
func (h *Handler) Incoming(w http.ResponseWriter, r *http.Request) {
	msg, err := h.ingest(w, r)
	switch {
	case errors.Is(err, guard.ErrForbidden):
		log.Printf("sms-relay: incoming rejected from %s", guard.ClientIP(r))
		text(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, ErrValidation):
		log.Printf("sms-relay: incoming bad request: %v", err)
		text(w, http.StatusBadRequest, "Bad Request")
	case err != nil:
		log.Printf("sms-relay: incoming failed: %v", err)
		text(w, http.StatusInternalServerError, "Internal Server Error")
	default:
		log.Printf("sms-relay: stored id=%d from=%q to=%s", msg.ID, msg.Sender, msg.NormRecipient)
		text(w, http.StatusOK, "OK")
		h.publish(r.Context(), *msg)
	}
}

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) (*sms.Message, error) {
	if err := h.guard.Authorize(r); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrValidation, err)
	}

	p, src := extractPayload(r, body)
	var missing []string
	if p.To == "" {
		missing = append(missing, "to")
	}
	if p.Message == "" {
		missing = append(missing, "message")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s (source %q)", ErrValidation, strings.Join(missing, ", "), src)
	}

	return h.store.Insert(r.Context(), sms.NewMessage(p.SMSID, p.From, p.To, p.Message))
}

// publish forwards a committed message in the background, detached from
// the request so a disconnecting client does not cancel it.  Failure is
// logged only.
func (h *Handler) publish(ctx context.Context, msg sms.Message) {
	if h.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	h.publishing.Add(1)
	go func() {
		defer h.publishing.Done()
		defer cancel()
		if err := h.publisher.Publish(ctx, msg); err != nil {
			log.Printf("sms-relay: publish id=%d failed: %v", msg.ID, err)
		}
	}()
}

// Wait blocks until every background publish has finished.  Call it after
// the server stops accepting requests and before closing the publisher.
func (h *Handler) Wait() {
	h.publishing.Wait()
}

// latestResp is the body of GET /sms/latest.  To is omitted when the
// number normalized to nothing.
type latestResp struct {
	To      string  `json:"to,omitempty"`
	Found   bool    `json:"found"`
	Message *string `json:"message"`
}

// Latest returns the newest message sent to the "to" number.
// GET /sms/latest?to=<number>
func (h *Handler) Latest(w http.ResponseWriter, r *http.Request) {
	resp, err := h.lookup(r)
	switch {
	case errors.Is(err, guard.ErrForbidden):
		log.Printf("sms-relay: latest rejected from %s", guard.ClientIP(r))
		jsonError(w, "forbidden", http.StatusForbidden)
	case err != nil:
		log.Printf("sms-relay: latest failed: %v", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
	default:
		jsonOK(w, http.StatusOK, resp)
	}
}

func (h *Handler) lookup(r *http.Request) (latestResp, error) {
	if err := h.guard.Authorize(r); err != nil {
		return latestResp{}, err
	}

	to := strings.TrimSpace(r.URL.Query().Get("to"))
	norm := sms.Normalize(to)
	if norm == "" {
		return latestResp{}, nil
	}

	msg, err := h.store.Latest(r.Context(), norm)
	if err != nil {
		return latestResp{}, err
	}
	resp := latestResp{To: to}
	if msg != nil {
		resp.Found = true
		resp.Message = &msg.Body
	}
	return resp, nil
}
