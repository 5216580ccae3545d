// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/dubhq/dubsync/internal/logging"
	"github.com/dubhq/dubsync/internal/models"
)

// writeJSON serializes v with the proper content type. Encoding failures at
// this point can only be logged; the status line is already gone.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response")
	}
}

// errorResponse is the uniform error payload.
type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// Healthz reports liveness and storage reachability.
func (router *Router) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := router.analytics.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "unhealthy",
			"database": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// syncStatusResponse reports the most recent run per source.
type syncStatusResponse struct {
	Sources []string                  `json:"sources"`
	Runs    map[string]models.SyncRun `json:"runs"`
	Now     time.Time                 `json:"now"`
}

// SyncStatus returns the registered sources and their last run outcomes.
func (router *Router) SyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, syncStatusResponse{
		Sources: router.manager.Sources(),
		Runs:    router.manager.LastRuns(),
		Now:     time.Now().UTC(),
	})
}

// TriggerSync starts a sync run for the source named in the query string
// and blocks until it finishes. A run already in flight for that source is
// a conflict, not an error to retry.
func (router *Router) TriggerSync(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("source")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing required query parameter: source")
		return
	}

	run, err := router.manager.TriggerSync(r.Context(), name)
	if err != nil {
		switch {
		case strings.Contains(err.Error(), "unknown event source"):
			writeError(w, http.StatusNotFound, err.Error())
		case strings.Contains(err.Error(), "already in progress"):
			writeError(w, http.StatusConflict, err.Error())
		default:
			logging.Error().Err(err).Str("source", name).Msg("Triggered sync failed")
			// The run carries the failure detail; surface it alongside
			// the error status.
			writeJSON(w, http.StatusInternalServerError, run)
		}
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// copyWindowResponse wraps the cohort metrics with an explicit validity
// flag so clients need not infer emptiness from zeros.
type copyWindowResponse struct {
	Mean       float64 `json:"mean"`
	Median     float64 `json:"median"`
	CohortSize int     `json:"cohort_size"`
	Valid      bool    `json:"valid"`
}

// CopyWindow returns the cohort's average and median distinct portfolio
// views between KYC approval and first copy.
func (router *Router) CopyWindow(w http.ResponseWriter, r *http.Request) {
	m, err := router.analytics.CopyWindowMetrics(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("Copy window query failed")
		writeError(w, http.StatusInternalServerError, "failed to compute windowed metrics")
		return
	}
	writeJSON(w, http.StatusOK, copyWindowResponse{
		Mean:       m.Mean,
		Median:     m.Median,
		CohortSize: m.CohortSize,
		Valid:      m.Valid(),
	})
}
