// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the TG-FileGate License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package observability

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/nishisan-dev/tg-filegate/internal/transfer"
)

var startTime = time.Now()

// Version é injetada pelo build (-ldflags).
var Version = "dev"

// MetricsData é o snapshot das métricas de transferência do gateway.
type MetricsData struct {
	ActiveStreams int32 `json:"active_streams"`
	Served        int64 `json:"served_total"`
	BytesTotal    int64 `json:"bytes_out_total"`
}

// MetricsSource fornece o snapshot de métricas de transferência.
type MetricsSource interface {
	MetricsSnapshot() MetricsData
}

// PoolSource fornece o estado dos pools de conexão por DC.
type PoolSource interface {
	Stats() []transfer.PoolStats
}

// NewRouter monta o roteador do listener administrativo. store, monitor
// e pools podem ser nil; as rotas correspondentes respondem com o que há.
func NewRouter(metrics MetricsSource, pools PoolSource, store *Store,
	monitor *SystemMonitor, acl *ACL, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"version": Version,
			"uptime":  time.Since(startTime).Round(time.Second).String(),
			"go":      runtime.Version(),
		}, logger)
	})

	mux.HandleFunc("GET /api/v1/metrics", func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{}
		if metrics != nil {
			payload["transfer"] = metrics.MetricsSnapshot()
		}
		if pools != nil {
			payload["pools"] = pools.Stats()
		}
		if monitor != nil {
			st := monitor.Stats()
			payload["system"] = map[string]any{
				"cpu_percent":    st.CPUPercent,
				"memory_percent": st.MemoryPercent,
				"load_average":   st.LoadAverage,
			}
		}
		writeJSON(w, http.StatusOK, payload, logger)
	})

	mux.HandleFunc("GET /api/v1/downloads", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeJSON(w, http.StatusOK, []DownloadEvent{}, logger)
			return
		}
		limit := 0
		if q := r.URL.Query().Get("limit"); q != "" {
			v, err := strconv.Atoi(q)
			if err != nil || v < 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = v
		}
		writeJSON(w, http.StatusOK, store.Recent(limit), logger)
	})

	return acl.Middleware(mux)
}

// Run sobe o listener administrativo e bloqueia até o context cancelar.
func Run(ctx context.Context, listen string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	}()

	logger.Info("admin listener started", "address", listen)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Debug("failed to encode response", "error", err)
	}
}
