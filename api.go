/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Seednode/handcricket/leaderboard"
	"github.com/julienschmidt/httprouter"
	"gopkg.in/yaml.v3"
)

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(cfg *Config, w http.ResponseWriter, status int, v any) (int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	securityHeaders(cfg, w)
	w.WriteHeader(status)

	return w.Write(data)
}

func storeStatus(err error) int {
	switch {
	case errors.Is(err, leaderboard.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, leaderboard.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func serveLeaderboard(cfg *Config, store *leaderboard.Store, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		limit := defaultLeaderboardLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				_, _ = writeJSON(cfg, w, http.StatusBadRequest, apiError{Error: "limit must be a positive integer"})
				return
			}
			limit = min(n, maxLeaderboardLimit)
		}

		entries, err := store.Top(r.Context(), limit)
		if err != nil {
			if _, werr := writeJSON(cfg, w, storeStatus(err), apiError{Error: err.Error()}); werr != nil {
				errs <- werr
			}
			return
		}

		written, err := writeJSON(cfg, w, http.StatusOK, entries)
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Leaderboard (%s) to %s in %s",
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// serveScorecard renders one stored match as JSON, or YAML with ?format=yaml.
func serveScorecard(cfg *Config, store *leaderboard.Store, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		format := r.URL.Query().Get("format")
		if format != "" && format != "json" && format != "yaml" {
			_, _ = writeJSON(cfg, w, http.StatusBadRequest, apiError{Error: `format must be "json" or "yaml"`})
			return
		}

		m, err := store.Match(r.Context(), p.ByName("matchid"))
		if err != nil {
			if _, werr := writeJSON(cfg, w, storeStatus(err), apiError{Error: err.Error()}); werr != nil {
				errs <- werr
			}
			return
		}

		var written int
		if format == "yaml" {
			data, err := yaml.Marshal(m)
			if err != nil {
				errs <- err
				http.Error(w, "encoding failed", http.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			securityHeaders(cfg, w)

			written, err = w.Write(data)
		} else {
			written, err = writeJSON(cfg, w, http.StatusOK, m)
		}
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Scorecard %s (%s) to %s in %s",
			m.ID,
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func registerAPI(cfg *Config, mux *httprouter.Router, store *leaderboard.Store, errs chan<- error) {
	mux.GET(cfg.prefix+"/api/leaderboard", serveLeaderboard(cfg, store, errs))
	mux.GET(cfg.prefix+"/api/matches/:matchid", serveScorecard(cfg, store, errs))
}
