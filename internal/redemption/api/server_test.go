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

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dropcode"
	"dropcode/internal/redemption/core"
	"dropcode/internal/redemption/transport"
)

func newTestMux(t *testing.T) (*http.ServeMux, core.Store, *transport.MemoryTransport) {
	t.Helper()
	store := core.NewMemoryStore()
	tr := transport.NewMemoryTransport()
	gen := dropcode.NewGenerator()
	tracker := core.NewTracker(store, gen, tr, nil)
	engine := core.NewEngine(store, tr, nil)
	srv := NewServer(tracker, engine, core.NewAnnotator(store), store)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	return mux, store, tr
}

func do(t *testing.T, mux *http.ServeMux, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// TestUpload_BurstSharesOneCode verifies the code is emitted exactly once per
// burst, on the creating upload.
func TestUpload_BurstSharesOneCode(t *testing.T) {
	mux, _, _ := newTestMux(t)

	rec := do(t, mux, http.MethodPost, "/upload?group=grp-1&name=a.txt", "alpha")
	if rec.Code != http.StatusOK {
		t.Fatalf("first upload status = %d: %s", rec.Code, rec.Body.String())
	}
	var first uploadResponse
	decode(t, rec, &first)
	if !first.Created || first.Code == "" || first.Items != 1 {
		t.Fatalf("first upload = %+v", first)
	}

	rec = do(t, mux, http.MethodPost, "/upload?group=grp-1&name=b.txt", "beta")
	var second uploadResponse
	decode(t, rec, &second)
	if second.Created || second.Code != "" || second.Items != 2 {
		t.Fatalf("second upload = %+v", second)
	}

	// A different burst gets its own code.
	rec = do(t, mux, http.MethodPost, "/upload?group=grp-2&name=c.txt", "gamma")
	var other uploadResponse
	decode(t, rec, &other)
	if !other.Created || other.Code == first.Code {
		t.Fatalf("second burst reused the code: %+v", other)
	}
}

// TestUpload_Validation covers empty bodies and wrong methods.
func TestUpload_Validation(t *testing.T) {
	mux, _, _ := newTestMux(t)
	if rec := do(t, mux, http.MethodPost, "/upload", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty body status = %d", rec.Code)
	}
	if rec := do(t, mux, http.MethodGet, "/upload", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET upload status = %d", rec.Code)
	}
}

// TestRedeem_FullLifecycle walks upload → redeem → second redeem through the
// HTTP surface and pins the status codes.
func TestRedeem_FullLifecycle(t *testing.T) {
	mux, _, tr := newTestMux(t)

	rec := do(t, mux, http.MethodPost, "/upload?group=rel&name=build.tar.gz", "payload")
	var up uploadResponse
	decode(t, rec, &up)

	rec = do(t, mux, http.MethodPost, "/redeem?code="+up.Code+"&user=42&display=user+42", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("redeem status = %d: %s", rec.Code, rec.Body.String())
	}
	var res core.DeliveryResult
	decode(t, rec, &res)
	if res.Delivered != 1 || res.Failed != 0 {
		t.Fatalf("delivery result = %+v", res)
	}
	if got := tr.Deliveries(); len(got) != 1 || got[0].Recipient != "42" {
		t.Fatalf("deliveries = %+v", got)
	}

	// Same code again: conflict, carrying the holder's label.
	rec = do(t, mux, http.MethodPost, "/redeem?code="+up.Code+"&user=99", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("second redeem status = %d", rec.Code)
	}
	var er errorResponse
	decode(t, rec, &er)
	if er.Error != "already_used" || er.Holder != "user 42" {
		t.Fatalf("conflict body = %+v", er)
	}
}

// TestRedeem_RefusalStatusCodes pins 404, 422, and 400.
func TestRedeem_RefusalStatusCodes(t *testing.T) {
	mux, store, _ := newTestMux(t)

	if rec := do(t, mux, http.MethodPost, "/redeem?code=nosuch&user=42", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("invalid code status = %d", rec.Code)
	}

	// Registered but never filled.
	if err := store.Create(context.Background(), "Z9z000", dropcode.NewBatch("Z9z000", time.Now())); err != nil {
		t.Fatalf("seed empty batch: %v", err)
	}
	if rec := do(t, mux, http.MethodPost, "/redeem?code=Z9z000&user=42", ""); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty batch status = %d", rec.Code)
	}
	// Empty-batch redemption must not consume the code.
	b, err := store.Get(context.Background(), "Z9z000")
	if err != nil || b.Used {
		t.Fatalf("empty redeem consumed the code: %+v, %v", b, err)
	}

	if rec := do(t, mux, http.MethodPost, "/redeem?code=Z9z000", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing user status = %d", rec.Code)
	}
}

// TestRevokeAndInspect verifies revocation through the HTTP surface and the
// inspect view of the terminal state.
func TestRevokeAndInspect(t *testing.T) {
	mux, _, _ := newTestMux(t)

	rec := do(t, mux, http.MethodPost, "/upload?name=doc.pdf", "doc")
	var up uploadResponse
	decode(t, rec, &up)

	if rec := do(t, mux, http.MethodPost, "/revoke?code="+up.Code, ""); rec.Code != http.StatusOK {
		t.Fatalf("revoke status = %d", rec.Code)
	}
	if rec := do(t, mux, http.MethodPost, "/revoke?code=nosuch", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("revoke unknown status = %d", rec.Code)
	}

	rec = do(t, mux, http.MethodGet, "/inspect?code="+up.Code, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("inspect status = %d", rec.Code)
	}
	var view struct {
		Code              string `json:"code"`
		Used              bool   `json:"used"`
		RedeemedBy        string `json:"redeemedBy"`
		RedeemedByDisplay string `json:"redeemedByDisplay"`
	}
	decode(t, rec, &view)
	if view.Code != up.Code || !view.Used || view.RedeemedBy != dropcode.RevokedMarker || view.RedeemedByDisplay != dropcode.RevokedDisplay {
		t.Fatalf("inspect view = %+v", view)
	}

	// A revoked code refuses redemption like any used one.
	if rec := do(t, mux, http.MethodPost, "/redeem?code="+up.Code+"&user=42", ""); rec.Code != http.StatusConflict {
		t.Fatalf("redeem revoked status = %d", rec.Code)
	}
}

// TestAnnotate covers title/note updates and argument validation.
func TestAnnotate(t *testing.T) {
	mux, _, _ := newTestMux(t)

	rec := do(t, mux, http.MethodPost, "/upload?name=a.txt", "a")
	var up uploadResponse
	decode(t, rec, &up)

	if rec := do(t, mux, http.MethodPost, "/annotate?code="+up.Code+"&title=release&note=for+qa", ""); rec.Code != http.StatusOK {
		t.Fatalf("annotate status = %d", rec.Code)
	}
	if rec := do(t, mux, http.MethodPost, "/annotate?code="+up.Code, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("annotate without fields status = %d", rec.Code)
	}
	if rec := do(t, mux, http.MethodPost, "/annotate?code=nosuch&title=x", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("annotate unknown status = %d", rec.Code)
	}

	rec = do(t, mux, http.MethodGet, "/inspect?code="+up.Code, "")
	var view struct {
		Title string `json:"title"`
		Note  string `json:"note"`
	}
	decode(t, rec, &view)
	if view.Title != "release" || view.Note != "for qa" {
		t.Fatalf("annotations = %+v", view)
	}
}

// TestBatchesAndStats exercises the listing limit and the aggregate view.
func TestBatchesAndStats(t *testing.T) {
	mux, _, _ := newTestMux(t)

	var last uploadResponse
	for _, name := range []string{"a", "b", "c"} {
		rec := do(t, mux, http.MethodPost, "/upload?name="+name, name)
		decode(t, rec, &last)
	}
	do(t, mux, http.MethodPost, "/redeem?code="+last.Code+"&user=42", "")

	rec := do(t, mux, http.MethodGet, "/batches?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("batches status = %d", rec.Code)
	}
	var views []batchView
	decode(t, rec, &views)
	if len(views) != 2 {
		t.Fatalf("limit ignored: %d batches", len(views))
	}
	if rec := do(t, mux, http.MethodGet, "/batches?limit=-1", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("negative limit status = %d", rec.Code)
	}

	rec = do(t, mux, http.MethodGet, "/stats", "")
	var st core.Stats
	decode(t, rec, &st)
	if st.Total != 3 || st.Used != 1 || st.DistinctRedeemers != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

// failingListStore makes List fail to exercise the 502 mapping.
type failingListStore struct {
	core.Store
}

func (failingListStore) List(ctx context.Context) ([]*dropcode.Batch, error) {
	return nil, &dropcode.PersistenceError{Op: "listAll", Err: context.DeadlineExceeded}
}

// TestPersistenceTrouble_MapsTo502 pins the bad-gateway mapping for store
// failures.
func TestPersistenceTrouble_MapsTo502(t *testing.T) {
	store := failingListStore{core.NewMemoryStore()}
	tr := transport.NewMemoryTransport()
	tracker := core.NewTracker(store, dropcode.NewGenerator(), tr, nil)
	engine := core.NewEngine(store, tr, nil)
	srv := NewServer(tracker, engine, core.NewAnnotator(store), store)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	if rec := do(t, mux, http.MethodGet, "/batches", ""); rec.Code != http.StatusBadGateway {
		t.Fatalf("persistence failure status = %d", rec.Code)
	}
}
