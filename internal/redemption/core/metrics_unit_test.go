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

package core

import (
	"testing"
	"time"
)

// TestLifecycleCounters verifies the process counters accumulate, ignore
// non-positive increments, and reset for tests.
func TestLifecycleCounters(t *testing.T) {
	resetLifecycleTotals()

	RecordUpload(3)
	RecordUpload(0)
	RecordUpload(-1)
	RecordBatchCreated(1)
	RecordRedemption(2)
	RecordRevocation(1)

	up, batches, red, rev := getLifecycleTotals()
	if up != 3 || batches != 1 || red != 2 || rev != 1 {
		t.Fatalf("totals = (%d,%d,%d,%d), want (3,1,2,1)", up, batches, red, rev)
	}

	resetLifecycleTotals()
	up, batches, red, rev = getLifecycleTotals()
	if up != 0 || batches != 0 || red != 0 || rev != 0 {
		t.Fatalf("reset left totals (%d,%d,%d,%d)", up, batches, red, rev)
	}
}

// TestSettingsCapture verifies the typed setters render human-readable values
// and that the snapshot is a copy.
func TestSettingsCapture(t *testing.T) {
	resetSettingsForTests()

	SetSetting("store", "file")
	SetSettingInt64("code_length", 6)
	SetSettingDuration("stats_interval", 30*time.Second)
	SetSettingBool("metrics", true)

	snap := settingSnapshot()
	want := map[string]string{
		"store":          "file",
		"code_length":    "6",
		"stats_interval": "30s",
		"metrics":        "true",
	}
	for k, v := range want {
		if snap[k] != v {
			t.Fatalf("setting %q = %q, want %q", k, snap[k], v)
		}
	}

	// Mutating the snapshot must not touch the registry.
	snap["store"] = "clobbered"
	if settingSnapshot()["store"] != "file" {
		t.Fatalf("snapshot is not a copy")
	}
}
