package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/config"
	"github.com/stemsi/exstem-portal/internal/handler"
	"github.com/stemsi/exstem-portal/internal/router"
)

func runServe(ctx context.Context, cfg *config.Config, log zerolog.Logger, args []string) error {
	var port string
	var withWorker bool
	flags := newFlagSet("serve")
	flags.StringVarP(&port, "port", "p", cfg.ServerPort, "listen port")
	flags.BoolVar(&withWorker, "reconcile", true, "run the reconciliation worker when redis is available")
	if err := flags.Parse(args); err != nil {
		return err
	}

	log.Info().
		Str("port", port).
		Str("mode", cfg.GinMode).
		Str("api", cfg.APIBaseURL).
		Str("store", cfg.StoreDriver).
		Msg("Starting ExStem Portal")

	a, err := newApp(ctx, cfg, log, appOptions{audit: true})
	if err != nil {
		return err
	}
	defer a.Close()

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:        handler.NewAuthHandler(a.auth),
		Exam:        handler.NewExamHandler(a.catalog, a.examSessions),
		ExamSession: handler.NewExamSessionHandler(a.examSessions),
		WS:          handler.NewWSHandler(a.examSessions, log, cfg.AllowedOrigins),
		System:      handler.NewSystemHandler(cfg, a.rdb, a.pool),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	if withWorker && a.queue != nil {
		reconcileWorker := newReconcileWorker(a)
		go func() {
			defer close(workerDone)
			reconcileWorker.Start(workerCtx)
		}()
	} else {
		close(workerDone)
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(a.auth, a.examSessions, handlers, cfg, log)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	select {
	case err := <-serveErr:
		workerCancel()
		<-workerDone
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the worker and wait for it to drain the queue.
	workerCancel()
	<-workerDone

	log.Info().Msg("Shutdown complete")
	return nil
}
