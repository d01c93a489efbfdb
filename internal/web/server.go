// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the TG-FileGate License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nishisan-dev/tg-filegate/internal/config"
)

// shutdownTimeout é o prazo para drenar respostas em andamento no
// desligamento. Streams longos são interrompidos depois disso.
const shutdownTimeout = 10 * time.Second

// Run inicia o listener público e bloqueia até o context ser cancelado.
// Com tls_cert/tls_key configurados o listener sobe em HTTPS.
func Run(ctx context.Context, cfg *config.Config, handler http.Handler, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.ListenAddr(), err)
	}
	return RunWithListener(ctx, ln, cfg, handler, logger)
}

// RunWithListener inicia o servidor com um listener já existente (para
// testes).
func RunWithListener(ctx context.Context, ln net.Listener, cfg *config.Config,
	handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	useTLS := cfg.HTTP.TLSCert != ""
	if useTLS {
		tlsCfg, err := NewServerTLSConfig(cfg.HTTP.TLSCert, cfg.HTTP.TLSKey)
		if err != nil {
			return err
		}
		srv.TLSConfig = tlsCfg
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down http server")
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	}()

	logger.Info("http server listening", "address", ln.Addr().String(), "tls", useTLS)

	var err error
	if useTLS {
		err = srv.ServeTLS(ln, "", "")
	} else {
		err = srv.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
