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

// Package core implements the batch lifecycle and one-time redemption engine.
// This file implements the background worker that keeps the operator-facing
// gauges fresh. The store is the single source of truth; the worker only
// reads, so it never contends with the redemption path beyond the store's own
// locking.
package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"dropcode/internal/redemption/telemetry"
	"dropcode/pkg/logging"

	"github.com/rs/zerolog"
)

// StatsWorker periodically reads aggregate counts from the store and the
// tracker and publishes them as Prometheus gauges.
type StatsWorker struct {
	store    Store
	tracker  *Tracker
	interval time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
	log      zerolog.Logger
}

// NewStatsWorker creates a worker refreshing every interval. tracker may be
// nil when no aggregation is wired (the bindings gauge then stays at zero).
func NewStatsWorker(store Store, tracker *Tracker, interval time.Duration) *StatsWorker {
	return &StatsWorker{
		store:    store,
		tracker:  tracker,
		interval: interval,
		stopChan: make(chan struct{}),
		log:      logging.With("stats-worker"),
	}
}

// Start launches the background refresh goroutine.
func (w *StatsWorker) Start() {
	w.log.Info().Dur("interval", w.interval).Msg("starting stats worker")
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop()
	}()
}

// Stop gracefully stops the worker and runs one final refresh so the gauges
// reflect the state at shutdown. Safe to call multiple times.
func (w *StatsWorker) Stop() {
	if !atomic.CompareAndSwapUint32(&w.stopped, 0, 1) {
		return
	}
	close(w.stopChan)
	w.wg.Wait()
	w.refresh()
	w.log.Info().Msg("stats worker stopped")
}

func (w *StatsWorker) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.refresh()
		case <-w.stopChan:
			return
		}
	}
}

func (w *StatsWorker) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := w.store.Stats(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("stats refresh failed")
		return
	}
	bindings := 0
	if w.tracker != nil {
		bindings = w.tracker.BindingCount()
	}
	telemetry.SetBatchGauges(st.Total, st.Used, st.DistinctRedeemers)
	telemetry.SetBindingsGauge(bindings)
	w.log.Debug().Int("total", st.Total).Int("used", st.Used).Int("redeemers", st.DistinctRedeemers).Int("bindings", bindings).Msg("stats refreshed")
}
