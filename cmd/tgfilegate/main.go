// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the TG-FileGate License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/nishisan-dev/tg-filegate/internal/bot"
	"github.com/nishisan-dev/tg-filegate/internal/config"
	"github.com/nishisan-dev/tg-filegate/internal/logging"
	"github.com/nishisan-dev/tg-filegate/internal/observability"
	"github.com/nishisan-dev/tg-filegate/internal/transfer"
	"github.com/nishisan-dev/tg-filegate/internal/upstream"
	"github.com/nishisan-dev/tg-filegate/internal/upstream/gotd"
	"github.com/nishisan-dev/tg-filegate/internal/web"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional, env vars also apply)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Erros de config vão para stdout, como o resto do tooling espera.
		reportConfigError(os.Stdout, err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Debug, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	for _, warning := range cfg.Warnings {
		logger.Warn(warning)
	}

	// Context com cancelamento via signal
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	// started marca a fronteira entre inicialização e operação: falhas
	// antes do listener subir saem com 2, fatais em operação com 3.
	var started atomic.Bool
	err = run(ctx, cfg, &started, logger)
	if code := exitCode(err, started.Load()); code != 0 {
		logger.Error("gateway error", "error", err)
		os.Exit(code)
	}
}

// reportConfigError imprime o erro de configuração para o operador.
func reportConfigError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error loading config: %v\n", err)
}

// exitCode classifica o desfecho do gateway: 0 para desligamento limpo,
// 2 para falha de inicialização, 3 para erro fatal em operação.
func exitCode(err error, started bool) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	if !started {
		return 2
	}
	return 3
}

func run(ctx context.Context, cfg *config.Config, started *atomic.Bool, logger *slog.Logger) error {
	// O handler de bot precisa do client como replier e o client precisa
	// do callback de eventos: o indirection quebra o ciclo.
	var botHandler *bot.Handler
	onEvent := func(ctx context.Context, evt upstream.Event) {
		if botHandler != nil {
			botHandler.HandleEvent(ctx, evt)
		}
	}

	tgClient := gotd.NewClient(cfg, onEvent, logger)
	botHandler = bot.NewHandler(cfg, tgClient, logger)

	factory := gotd.NewFactory(cfg.Telegram.APIID, cfg.Telegram.APIHash, logger)
	engine := transfer.NewEngine(tgClient, factory, cfg.Limits.ConnectionLimit, logger)

	return tgClient.Run(ctx, func(ctx context.Context) error {
		engine.PostInit()

		var store *observability.Store
		if cfg.WebUI.Enabled {
			var archiver *observability.Archiver
			if cfg.WebUI.Archive.Enabled {
				var err error
				archiver, err = observability.NewArchiver(ctx, cfg.WebUI.Archive)
				if err != nil {
					return fmt.Errorf("setting up history archive: %w", err)
				}
			}

			var err error
			store, err = observability.NewStore(cfg.WebUI.HistoryFile, cfg.WebUI.HistoryMaxLines,
				cfg.WebUI.HistoryCompression, archiver, logger)
			if err != nil {
				return fmt.Errorf("opening download history: %w", err)
			}
			defer store.Close()
		}

		var recorder web.DownloadRecorder
		if store != nil {
			recorder = store
		}
		handler := web.NewHandler(cfg, tgClient, web.NewEngineDownloader(engine), recorder, logger)
		go handler.StartStatsReporter(ctx)

		if cfg.WebUI.Enabled {
			monitor := observability.NewSystemMonitor(logger)
			monitor.Start()
			defer monitor.Stop()

			reporter, err := observability.NewReporter(cfg.WebUI.ReportSchedule, handler, logger)
			if err != nil {
				return fmt.Errorf("invalid report schedule: %w", err)
			}
			reporter.Start()
			defer reporter.Stop(context.Background())

			acl := observability.NewACL(cfg.WebUI.ParsedCIDRs, logger)
			router := observability.NewRouter(handler, engine, store, monitor, acl, logger)
			go func() {
				if err := observability.Run(ctx, cfg.WebUI.Listen, router, logger); err != nil {
					logger.Error("admin listener failed", "error", err)
				}
			}()
		}

		// O bind do listener e a carga do certificado ainda são
		// inicialização; servir já é operação.
		if cfg.HTTP.TLSCert != "" {
			if _, err := web.NewServerTLSConfig(cfg.HTTP.TLSCert, cfg.HTTP.TLSKey); err != nil {
				return err
			}
		}
		ln, err := net.Listen("tcp", cfg.ListenAddr())
		if err != nil {
			return fmt.Errorf("listening on %s: %w", cfg.ListenAddr(), err)
		}

		logger.Info("gateway ready",
			"listen", cfg.ListenAddr(),
			"public_url", cfg.HTTP.PublicURL,
			"connection_limit", cfg.Limits.ConnectionLimit)
		started.Store(true)

		return web.RunWithListener(ctx, ln, cfg, handler.Routes(), logger)
	})
}
