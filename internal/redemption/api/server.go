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

// Package api implements the public-facing HTTP server for the dropcode
// service. It translates the upload/redeem/revoke command surface into calls
// on the core components and maps the error taxonomy onto status codes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"dropcode"
	"dropcode/internal/redemption/core"
	"dropcode/internal/redemption/telemetry"
	"dropcode/pkg/logging"
)

// maxUploadBytes bounds a single upload body.
const maxUploadBytes = 64 << 20

// Server handles the HTTP requests for the dropcode service.
type Server struct {
	tracker   *core.Tracker
	engine    *core.Engine
	annotator *core.Annotator
	store     core.Store
	log       zerolog.Logger

	httpServer *http.Server
}

// NewServer creates and configures a new API server over the assembled core
// components.
func NewServer(tracker *core.Tracker, engine *core.Engine, annotator *core.Annotator, store core.Store) *Server {
	return &Server{
		tracker:   tracker,
		engine:    engine,
		annotator: annotator,
		store:     store,
		log:       logging.With("api"),
	}
}

// RegisterRoutes sets up the HTTP routes for the server on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/redeem", s.handleRedeem)
	mux.HandleFunc("/revoke", s.handleRevoke)
	mux.HandleFunc("/annotate", s.handleAnnotate)
	mux.HandleFunc("/inspect", s.handleInspect)
	mux.HandleFunc("/batches", s.handleBatches)
	mux.HandleFunc("/stats", s.handleStats)
}

// batchView is a batch plus its code; the stored record keeps the code in the
// map key, but API consumers want it inline.
type batchView struct {
	Code string `json:"code"`
	*dropcode.Batch
}

type uploadResponse struct {
	// Code is present only on the upload that created the batch: the
	// uploader learns the code exactly once, on the first item of a burst.
	Code    string `json:"code,omitempty"`
	Created bool   `json:"created"`
	Items   int    `json:"items"`
}

type errorResponse struct {
	Error string `json:"error"`
	// Holder carries the redeemer label on already_used rejections.
	Holder string `json:"holder,omitempty"`
}

// handleUpload ingests one content item. The burst grouping key rides in
// ?group=; uploads without one get a standalone batch each.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "upload.bin"
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable body"})
		return
	}
	if len(data) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "empty upload body"})
		return
	}

	code, created, b, err := s.tracker.Ingest(r.Context(), r.URL.Query().Get("group"), core.UploadItem{Name: name, Data: data})
	if err != nil {
		s.writeTaxonomyError(w, err, "upload")
		return
	}
	core.RecordUpload(1)
	telemetry.ObserveUpload()
	if created {
		telemetry.ObserveBatchCreated()
		if title := r.URL.Query().Get("title"); title != "" {
			if err := s.annotator.SetTitle(r.Context(), code, title); err != nil {
				s.log.Warn().Err(err).Str("code", code).Msg("title annotation failed")
			}
		}
	}

	resp := uploadResponse{Created: created, Items: len(b.ContentRefs)}
	if created {
		resp.Code = code
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRedeem exchanges a code for its content. The response always tells
// the caller which refusal they hit, because a holder staring at "error" has
// no way to know whether to retype the code or give up.
func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	code, user := q.Get("code"), q.Get("user")
	if code == "" || user == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "code and user are required"})
		return
	}
	display := q.Get("display")
	if display == "" {
		display = "user " + user
	}

	res, err := s.engine.Redeem(r.Context(), code, user, display)
	if err != nil {
		s.observeRedeemError(err)
		s.writeTaxonomyError(w, err, "redeem")
		return
	}
	telemetry.ObserveRedemption(telemetry.OutcomeDelivered, res.Delivered, res.Failed)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) observeRedeemError(err error) {
	switch {
	case errors.Is(err, dropcode.ErrAlreadyUsed):
		telemetry.ObserveRedemption(telemetry.OutcomeAlreadyUsed, 0, 0)
	case errors.Is(err, dropcode.ErrNotFound):
		telemetry.ObserveRedemption(telemetry.OutcomeInvalidCode, 0, 0)
	case errors.Is(err, dropcode.ErrEmptyBatch):
		telemetry.ObserveRedemption(telemetry.OutcomeEmptyBatch, 0, 0)
	default:
		telemetry.ObserveRedemption(telemetry.OutcomeError, 0, 0)
	}
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "code is required"})
		return
	}
	if err := s.engine.Revoke(r.Context(), code); err != nil {
		s.writeTaxonomyError(w, err, "revoke")
		return
	}
	telemetry.ObserveRevocation()
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked", "code": code})
}

func (s *Server) handleAnnotate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	code := q.Get("code")
	title, hasTitle := q.Get("title"), q.Has("title")
	note, hasNote := q.Get("note"), q.Has("note")
	if code == "" || (!hasTitle && !hasNote) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "code and title or note are required"})
		return
	}
	if hasTitle {
		if err := s.annotator.SetTitle(r.Context(), code, title); err != nil {
			s.writeTaxonomyError(w, err, "annotate")
			return
		}
	}
	if hasNote {
		if err := s.annotator.SetNote(r.Context(), code, note); err != nil {
			s.writeTaxonomyError(w, err, "annotate")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "annotated", "code": code})
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "code is required"})
		return
	}
	b, err := s.engine.Inspect(r.Context(), code)
	if err != nil {
		s.writeTaxonomyError(w, err, "inspect")
		return
	}
	writeJSON(w, http.StatusOK, batchView{Code: b.Code, Batch: b})
}

func (s *Server) handleBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.store.List(r.Context())
	if err != nil {
		s.writeTaxonomyError(w, err, "batches")
		return
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		if n < len(batches) {
			batches = batches[:n]
		}
	}
	views := make([]batchView, 0, len(batches))
	for _, b := range batches {
		views = append(views, batchView{Code: b.Code, Batch: b})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		s.writeTaxonomyError(w, err, "stats")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// writeTaxonomyError maps the error taxonomy onto status codes:
// 404 invalid code, 409 already used, 422 empty batch, 502 persistence
// trouble. Anything else is a 500.
func (s *Server) writeTaxonomyError(w http.ResponseWriter, err error, op string) {
	if display, ok := core.IsAlreadyUsed(err); ok {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "already_used", Holder: display})
		return
	}
	switch {
	case errors.Is(err, dropcode.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "invalid_code"})
	case errors.Is(err, dropcode.ErrEmptyBatch):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "empty_batch"})
	default:
		var perr *dropcode.PersistenceError
		if errors.As(err, &perr) {
			s.log.Error().Err(err).Str("op", op).Msg("persistence failure")
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: "persistence_unavailable"})
			return
		}
		s.log.Error().Err(err).Str("op", op).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe starts the HTTP server on the specified address.
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Info().Str("addr", addr).Msg("dropcode API server listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
