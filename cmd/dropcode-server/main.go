// Copyright 2026 Esteban Alvarez. All Rights Reserved.
//
// Created: August 2026
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main provides the entry point for the dropcode service.
//
// The service turns uploaded content into short one-time access codes:
// uploads arriving together are aggregated into one batch under a single
// code, and the first redeemer of that code receives the whole batch —
// exactly once. This file orchestrates the whole thing:
//  1. Building the storage backend, content transport, and audit stream
//     from flags.
//  2. Assembling the core components (tracker, engine, annotator).
//  3. Starting the stats worker and the HTTP API.
//  4. Managing graceful shutdown so the durable store is never left
//     mid-write.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dropcode"
	"dropcode/internal/redemption/api"
	"dropcode/internal/redemption/core"
	"dropcode/internal/redemption/events"
	"dropcode/internal/redemption/storage"
	"dropcode/internal/redemption/telemetry"
	"dropcode/internal/redemption/transport"
	"dropcode/pkg/logging"
)

func main() {
	// 1. Parse configuration flags.
	// - store/store_path/redis_addr/postgres_dsn: where batch state lives
	// - transport: where content bytes live and how deliveries go out
	// - nats_url/audit_stream: broker settings shared by transport and audit
	// - code_length: generated code length (62-char alphabet)
	// - stats_interval: how often the background worker refreshes gauges
	storeBackend := flag.String("store", "file", "Storage backend: file, memory, redis, postgres")
	storePath := flag.String("store_path", "dropcode-store.json", "JSON store location for the file backend")
	redisAddr := flag.String("redis_addr", "", "Redis address for the redis backend (empty = logging demo client)")
	postgresDSN := flag.String("postgres_dsn", "", "lib/pq DSN for the postgres backend")
	transportKind := flag.String("transport", "memory", "Content transport: memory, logging, nats")
	natsURL := flag.String("nats_url", "nats://127.0.0.1:4222", "NATS URL for the nats transport and audit stream")
	contentBucket := flag.String("content_bucket", "DROPCODE_CONTENT", "JetStream object store bucket for the nats transport")
	auditBackend := flag.String("audit", "logging", "Audit event sink: none, logging, nats")
	auditStream := flag.String("audit_stream", "DROPCODE_AUDIT", "JetStream stream name for the nats audit sink")
	codeLength := flag.Int("code_length", dropcode.DefaultLength, "Generated access code length")
	statsInterval := flag.Duration("stats_interval", 30*time.Second, "Stats worker refresh interval (0 disables)")
	httpAddr := flag.String("http_addr", ":8080", "HTTP listen address (e.g., :8080)")
	metricsAddr := flag.String("metrics_addr", "", "If non-empty, expose Prometheus /metrics on this address (e.g., :9090)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	humanLogs := flag.Bool("human_logs", false, "Human-readable console logs instead of JSON")
	flag.Parse()

	logging.Init(*debug, *humanLogs)
	log := logging.With("main")

	// Capture configuration for the final summary.
	core.SetSetting("store", *storeBackend)
	core.SetSetting("transport", *transportKind)
	core.SetSetting("audit", *auditBackend)
	core.SetSettingInt64("code_length", int64(*codeLength))
	core.SetSettingDuration("stats_interval", *statsInterval)
	core.SetSetting("http_addr", *httpAddr)
	core.SetSettingBool("metrics", *metricsAddr != "")

	ctx := context.Background()

	// 2. Build the storage backend.
	store, err := storage.BuildStore(ctx, *storeBackend, storage.Options{
		FilePath:    *storePath,
		RedisAddr:   *redisAddr,
		PostgresDSN: *postgresDSN,
	})
	if err != nil {
		log.Fatal().Err(err).Str("backend", *storeBackend).Msg("build store")
	}

	// 3. Build the content transport.
	var contentTransport core.ContentTransport
	switch *transportKind {
	case "memory":
		contentTransport = transport.NewMemoryTransport()
	case "logging":
		contentTransport = transport.LoggingTransport{}
	case "nats":
		nt, err := transport.NewNATSTransport(*natsURL, *contentBucket)
		if err != nil {
			log.Fatal().Err(err).Msg("build nats transport")
		}
		defer nt.Close()
		contentTransport = nt
	default:
		log.Fatal().Str("transport", *transportKind).Msg("unknown content transport")
	}

	// 4. Build the audit sink.
	var publisher core.Publisher
	switch *auditBackend {
	case "none":
		publisher = core.NopPublisher{}
	case "logging":
		publisher = events.LoggingPublisher{}
	case "nats":
		producer, err := events.NewJetStreamProducer(*natsURL, *auditStream)
		if err != nil {
			log.Fatal().Err(err).Msg("build audit producer")
		}
		defer producer.Close()
		publisher = events.NewNATSPublisher(producer)
	default:
		log.Fatal().Str("audit", *auditBackend).Msg("unknown audit sink")
	}

	// 5. Assemble the core components.
	gen := dropcode.NewGeneratorWithOptions(dropcode.GeneratorOptions{Length: *codeLength})
	tracker := core.NewTracker(store, gen, contentTransport, publisher)
	engine := core.NewEngine(store, contentTransport, publisher)
	annotator := core.NewAnnotator(store)

	// 6. Start the stats worker and, if configured, the metrics endpoint.
	var worker *core.StatsWorker
	if *statsInterval > 0 {
		worker = core.NewStatsWorker(store, tracker, *statsInterval)
		worker.Start()
	}
	if *metricsAddr != "" {
		telemetry.StartMetricsEndpoint(*metricsAddr)
	}

	// 7. Start the HTTP API in a separate goroutine so it doesn't block.
	apiServer := api.NewServer(tracker, engine, annotator, store)
	go func() {
		if err := apiServer.ListenAndServe(*httpAddr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Str("addr", *httpAddr).Msg("http server failed")
		}
	}()

	// 8. Wait for an OS signal.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")

	// 9. Stop the worker first so the last gauge refresh sees final state,
	// then drain in-flight HTTP requests.
	if worker != nil {
		worker.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}

	// One end-of-process lifecycle summary.
	core.LogFinalSummary()
	log.Info().Msg("server stopped")
}
