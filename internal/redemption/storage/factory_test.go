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

package storage

import (
	"context"
	"path/filepath"
	"testing"
)

// TestBuildStore_Selectors pins the backend selector strings.
func TestBuildStore_Selectors(t *testing.T) {
	ctx := context.Background()

	if _, err := BuildStore(ctx, "memory", Options{}); err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, err := BuildStore(ctx, "", Options{FilePath: filepath.Join(t.TempDir(), "s.json")}); err != nil {
		t.Fatalf("default file backend: %v", err)
	}
	if _, err := BuildStore(ctx, "file", Options{FilePath: filepath.Join(t.TempDir(), "s.json")}); err != nil {
		t.Fatalf("file: %v", err)
	}
	if _, err := BuildStore(ctx, "redis", Options{}); err != nil {
		t.Fatalf("redis demo client: %v", err)
	}
	if _, err := BuildStore(ctx, "postgres", Options{}); err == nil {
		t.Fatalf("postgres without DSN must fail")
	}
	if _, err := BuildStore(ctx, "cassandra", Options{}); err == nil {
		t.Fatalf("unknown backend must fail")
	}
}
