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

// Package core contains shared, process-level counters used for the final
// end-of-process summary. These are kept lightweight and use atomic counters
// to avoid allocation and locks on the hot path; Prometheus collectors live
// separately in internal/redemption/telemetry.
package core

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"dropcode/pkg/logging"
)

var (
	uploads        atomic.Int64
	batchesCreated atomic.Int64
	redemptions    atomic.Int64
	revocations    atomic.Int64

	// settings holds human-readable configuration knobs captured at startup.
	settingsMu sync.RWMutex
	settings   = make(map[string]string)
)

// RecordUpload increments the number of ingested content items.
func RecordUpload(n int64) {
	if n > 0 {
		uploads.Add(n)
	}
}

// RecordBatchCreated increments the number of batches registered.
func RecordBatchCreated(n int64) {
	if n > 0 {
		batchesCreated.Add(n)
	}
}

// RecordRedemption increments the number of successful one-time redemptions.
func RecordRedemption(n int64) {
	if n > 0 {
		redemptions.Add(n)
	}
}

// RecordRevocation increments the number of operator revocations.
func RecordRevocation(n int64) {
	if n > 0 {
		revocations.Add(n)
	}
}

// Setting setters capture runtime configuration knobs for the final summary.
func SetSetting(name string, value string) {
	settingsMu.Lock()
	settings[name] = value
	settingsMu.Unlock()
}

func SetSettingInt64(name string, v int64) { SetSetting(name, fmt.Sprintf("%d", v)) }

func SetSettingDuration(name string, d time.Duration) { SetSetting(name, d.String()) }

func SetSettingBool(name string, b bool) { SetSetting(name, fmt.Sprintf("%t", b)) }

// LogFinalSummary emits a single end-of-process summary of lifecycle counters
// and the configuration the process ran with. Call once, at shutdown, after
// all traffic has stopped.
func LogFinalSummary() {
	log := logging.With("summary")
	ev := log.Info().
		Int64("uploads", uploads.Load()).
		Int64("batches_created", batchesCreated.Load()).
		Int64("redemptions", redemptions.Load()).
		Int64("revocations", revocations.Load())
	for name, value := range settingSnapshot() {
		ev = ev.Str("cfg_"+name, value)
	}
	ev.Msg("final lifecycle summary")
}

// settingSnapshot returns a copy of settings for stable iteration.
func settingSnapshot() map[string]string {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	out := make(map[string]string, len(settings))
	for k, v := range settings {
		out[k] = v
	}
	return out
}

// getLifecycleTotals provides a snapshot of current counters.
func getLifecycleTotals() (uploadsN, batchesN, redemptionsN, revocationsN int64) {
	return uploads.Load(), batchesCreated.Load(), redemptions.Load(), revocations.Load()
}

// resetLifecycleTotals resets counters to zero. Intended for tests only.
func resetLifecycleTotals() {
	uploads.Store(0)
	batchesCreated.Store(0)
	redemptions.Store(0)
	revocations.Store(0)
}

// resetSettingsForTests clears the settings registry. Intended for tests only.
func resetSettingsForTests() {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	for k := range settings {
		delete(settings, k)
	}
}
