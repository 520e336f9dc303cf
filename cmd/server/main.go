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

// server is the SMS relay: it stores inbound SMS posted by the provider
// webhook and serves the latest message per number.
//
// Configuration is done entirely via environment variables:
//
//	DATABASE_URL        postgres://... or a SQLite path (required)
//	AUTH_TOKEN          shared secret for both endpoints (optional)
//	ALLOWED_IPS         comma-separated source IP allowlist (optional)
//	PORT                listen port (default 3000)
//	KAFKA_BROKERS       comma-separated brokers; enables sms-inbox publishing
//	KAFKA_INBOX_TOPIC   topic name (default "sms-inbox")
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/jredh-dev/sms-relay/internal/config"
	"github.com/jredh-dev/sms-relay/internal/guard"
	"github.com/jredh-dev/sms-relay/internal/handlers"
	"github.com/jredh-dev/sms-relay/internal/server"
	"github.com/jredh-dev/sms-relay/internal/sms"
	"github.com/jredh-dev/sms-relay/internal/store"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("sms-relay %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("sms-relay: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
	db, err := store.Open(startCtx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("sms-relay: failed to open database: %v", err)
	}
	if err := db.Bootstrap(startCtx); err != nil {
		log.Fatalf("sms-relay: failed to bootstrap schema: %v", err)
	}
	startCancel()

	var publisher sms.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := sms.NewKafkaPublisher(cfg.KafkaBrokers, cfg.InboxTopic)
		publisher = kp
		defer func() {
			if err := kp.Close(); err != nil {
				log.Printf("sms-relay: error closing publisher: %v", err)
			}
		}()
		log.Printf("sms-relay: publishing to topic %q (brokers=%v)", cfg.InboxTopic, cfg.KafkaBrokers)
	}

	g := guard.New(cfg.AuthToken, cfg.AllowedIPs)
	if cfg.AuthToken == "" {
		log.Println("WARNING: AUTH_TOKEN is empty, requests without a token are accepted")
	}

	h := handlers.New(db, g, publisher)
	srv := server.New()
	h.Register(srv.Router)
	srv.OnStop(func() {
		h.Wait()
		if err := db.Close(); err != nil {
			log.Printf("sms-relay: error closing database: %v", err)
		}
	})

	log.Printf("sms-relay %s starting", version)
	log.Printf("  Webhook: http://localhost:%s/sms/incoming", cfg.Port)
	log.Printf("  Latest:  http://localhost:%s/sms/latest?to=<number>", cfg.Port)

	if err := srv.ListenAndServe(ctx, ":"+cfg.Port); err != nil {
		log.Fatalf("sms-relay: server error: %v", err)
	}
}
