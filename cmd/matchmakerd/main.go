package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"proofmarket-backend/metrics"
	"proofmarket-backend/services/matchmaker"
	"proofmarket-backend/setup"
	storage "proofmarket-backend/storage/market"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := setup.Init(ctx)
	log := deps.Log
	defer log.Sync()
	defer deps.Store.Close()

	if deps.Env.SeedDemoData {
		if err := storage.Seed(ctx, deps.Store); err != nil {
			log.Fatalw("failed seeding demo data", "error", err)
		}
		log.Infow("demo data seeded")
	}

	m := metrics.New()
	engine := matchmaker.NewEngine(deps.Store, matchmaker.FirstFit, log, m)
	sched := matchmaker.NewScheduler(engine, deps.Store, deps.Env.SweepInterval, log, m)
	go sched.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: deps.Env.ListenAddr, Handler: mux}
	go func() {
		log.Infow("serving health and metrics", "addr", deps.Env.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("http server failed", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Infow("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("http server shutdown failed", "error", err)
	}
}
