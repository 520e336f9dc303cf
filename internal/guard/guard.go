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

// Package guard authorizes relay requests with a shared-secret token and an
// optional source IP allowlist.
package guard

import (
	"errors"
	"net"
	"net/http"
	"strings"
)

const (
	// TokenParam is the query parameter carrying the shared secret.
	TokenParam = "token"

	// TokenHeader carries the shared secret when the query parameter is absent.
	TokenHeader = "X-Auth-Token"
)

// ErrForbidden is returned for a bad token or a disallowed source IP.
var ErrForbidden = errors.New("forbidden")

// Guard holds the immutable auth settings resolved at startup.  It is safe
// for concurrent use.
type Guard struct {
	token   string
	allowed map[string]struct{}
}

// New builds a Guard.  An empty token disables token auth for requests that
// also present no token.  An empty allowlist allows every source IP; blank
// entries are ignored.
func New(token string, allowedIPs []string) *Guard {
	allowed := make(map[string]struct{}, len(allowedIPs))
	for _, ip := range allowedIPs {
		if ip = strings.TrimSpace(ip); ip != "" {
			allowed[ip] = struct{}{}
		}
	}
	return &Guard{token: token, allowed: allowed}
}

// Authorize checks both the token and the source IP of r.
func (g *Guard) Authorize(r *http.Request) error {
	if !g.TokenOK(RequestToken(r)) {
		return ErrForbidden
	}
	if !g.IPAllowed(ClientIP(r)) {
		return ErrForbidden
	}
	return nil
}

// TokenOK reports whether supplied matches the configured secret.  With no
// secret configured only an empty supplied token passes.
func (g *Guard) TokenOK(supplied string) bool {
	return (g.token == "" && supplied == "") || supplied == g.token
}

// IPAllowed reports whether ip may call the relay.
func (g *Guard) IPAllowed(ip string) bool {
	if len(g.allowed) == 0 {
		return true
	}
	_, ok := g.allowed[ip]
	return ok
}

// RequestToken returns the token from the query string, falling back to the
// X-Auth-Token header when the query value is missing or empty.
func RequestToken(r *http.Request) string {
	if tok := r.URL.Query().Get(TokenParam); tok != "" {
		return tok
	}
	return r.Header.Get(TokenHeader)
}

// ClientIP resolves the original client address: the leftmost
// X-Forwarded-For entry when present, otherwise the peer address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr without a port.
		return r.RemoteAddr
	}
	return host
}
