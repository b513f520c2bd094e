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

// Package telemetry exposes Prometheus metrics for the dropcode service. All
// collectors are global with bounded label cardinality (outcome labels only,
// never codes or identities) so they are safe to feed from hot paths.
package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Redemption outcome label values.
const (
	OutcomeDelivered   = "delivered"
	OutcomeInvalidCode = "invalid_code"
	OutcomeAlreadyUsed = "already_used"
	OutcomeEmptyBatch  = "empty_batch"
	OutcomeError       = "error"
)

var (
	uploadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dropcode_uploads_total",
		Help: "Total content items ingested through the upload path",
	})
	batchesCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dropcode_batches_created_total",
		Help: "Total batches registered in the store",
	})
	redemptionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dropcode_redemptions_total",
		Help: "Total redemption attempts by outcome",
	}, []string{"outcome"})
	revocationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dropcode_revocations_total",
		Help: "Total operator revocations",
	})
	itemsDeliveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dropcode_items_delivered_total",
		Help: "Total content items successfully delivered to redeemers",
	})
	itemsFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dropcode_items_failed_total",
		Help: "Total per-item delivery failures (best-effort, no retry)",
	})
	itemsPerBatch = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dropcode_items_per_batch",
		Help:    "Distribution of content items per redeemed batch",
		Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16, 24, 32},
	})
	batchesTracked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dropcode_batches_tracked",
		Help: "Number of batches currently in the store (used and unused)",
	})
	batchesUsed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dropcode_batches_used",
		Help: "Number of batches in the terminal used state",
	})
	distinctRedeemers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dropcode_distinct_redeemers",
		Help: "Number of distinct redeemer identities across used batches",
	})
	burstBindings = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dropcode_burst_bindings",
		Help: "Live grouping-key bindings held by the aggregation tracker",
	})
)

func init() {
	// Register eagerly. If no Prometheus endpoint is exposed, registration is harmless.
	prometheus.MustRegister(
		uploadsTotal, batchesCreatedTotal, redemptionsTotal, revocationsTotal,
		itemsDeliveredTotal, itemsFailedTotal, itemsPerBatch,
		batchesTracked, batchesUsed, distinctRedeemers, burstBindings,
	)
}

// ObserveUpload records one ingested content item.
func ObserveUpload() { uploadsTotal.Inc() }

// ObserveBatchCreated records one registered batch.
func ObserveBatchCreated() { batchesCreatedTotal.Inc() }

// ObserveRedemption records a redemption attempt outcome. For the delivered
// outcome, delivered/failed carry the per-item counts.
func ObserveRedemption(outcome string, delivered, failed int) {
	redemptionsTotal.WithLabelValues(outcome).Inc()
	if outcome != OutcomeDelivered {
		return
	}
	itemsDeliveredTotal.Add(float64(delivered))
	itemsFailedTotal.Add(float64(failed))
	itemsPerBatch.Observe(float64(delivered + failed))
}

// ObserveRevocation records one operator revocation.
func ObserveRevocation() { revocationsTotal.Inc() }

// SetBatchGauges publishes the aggregate store counts.
func SetBatchGauges(total, used, redeemers int) {
	batchesTracked.Set(float64(total))
	batchesUsed.Set(float64(used))
	distinctRedeemers.Set(float64(redeemers))
}

// SetBindingsGauge publishes the tracker's live binding count.
func SetBindingsGauge(n int) { burstBindings.Set(float64(n)) }

var metricsServerOnce sync.Once

// StartMetricsEndpoint starts a dedicated HTTP server serving /metrics on
// addr. Call at most once; if you already expose Prometheus elsewhere, leave
// the address empty and register promhttp yourself.
func StartMetricsEndpoint(addr string) {
	metricsServerOnce.Do(func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			_ = srv.ListenAndServe()
		}()
	})
}
