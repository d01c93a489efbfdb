// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the TG-FileGate License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package observability

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Reporter loga um sumário de atividade numa cron expression (default
// horário). Complementa o stats reporter de 15s: um dá a taxa
// instantânea, o outro o acumulado do período.
type Reporter struct {
	cron    *cron.Cron
	logger  *slog.Logger
	metrics MetricsSource

	mu         sync.Mutex
	lastServed int64
	lastBytes  int64
}

// NewReporter cria o Reporter com a expressão cron fornecida.
func NewReporter(schedule string, metrics MetricsSource, logger *slog.Logger) (*Reporter, error) {
	r := &Reporter{
		logger:  logger.With("component", "reporter"),
		metrics: metrics,
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(
		slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc(schedule, r.report); err != nil {
		return nil, err
	}

	r.cron = c
	return r, nil
}

// Start inicia o reporter.
func (r *Reporter) Start() {
	r.logger.Info("summary reporter started")
	r.cron.Start()
}

// Stop para o reporter e aguarda um report em andamento.
func (r *Reporter) Stop(ctx context.Context) {
	stopCtx := r.cron.Stop()

	select {
	case <-stopCtx.Done():
		r.logger.Info("summary reporter stopped")
	case <-ctx.Done():
		r.logger.Warn("summary reporter stop timed out")
	}
}

func (r *Reporter) report() {
	snap := r.metrics.MetricsSnapshot()

	r.mu.Lock()
	served := snap.Served - r.lastServed
	bytes := snap.BytesTotal - r.lastBytes
	r.lastServed = snap.Served
	r.lastBytes = snap.BytesTotal
	r.mu.Unlock()

	r.logger.Info("activity summary",
		"downloads", served,
		"bytes_out", bytes,
		"downloads_total", snap.Served,
		"active_streams", snap.ActiveStreams)
}
