// Command dispatcher wires the configuration, store, queue, account
// registry and the two supervisors into a running process, grounded on
// control_plane/main.go's wiring style (env-driven overrides, metrics
// endpoint, explicit construction order) and core/vjudge/main.py's
// VJudge.start (launch both handlers, wait for both to finish).
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sleepymole/vjudge-dispatcher/accounts"
	"github.com/sleepymole/vjudge-dispatcher/config"
	"github.com/sleepymole/vjudge-dispatcher/dispatcher"
	"github.com/sleepymole/vjudge-dispatcher/logging"
	"github.com/sleepymole/vjudge-dispatcher/queue"
	"github.com/sleepymole/vjudge-dispatcher/store/postgres"

	_ "github.com/sleepymole/vjudge-dispatcher/siteclient/hdu"
	_ "github.com/sleepymole/vjudge-dispatcher/siteclient/scu"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the dispatcher's YAML config file")
	metricsAddr := flag.String("metrics-addr", ":9090", "address the /metrics and /health endpoints listen on")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logging isn't up yet; a malformed config must still fail loudly.
		os.Stderr.WriteString("dispatcher: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		os.Stderr.WriteString("dispatcher: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := postgres.New(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal("connect to postgres failed", zap.Error(err))
	}
	defer st.Close()

	q, err := queue.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal("connect to redis failed", zap.Error(err))
	}
	defer q.Close()

	registry := accounts.NewRegistry(cfg.Accounts, logging.Component(log, "accounts"))

	submitSup := dispatcher.NewSubmitterSupervisor(q, st, registry, logging.Component(log, "submitter_supervisor"))
	crawlSup := dispatcher.NewCrawlerSupervisor(q, st, registry, logging.Component(log, "crawler_supervisor"))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	httpServer := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()

	log.Info("starting vjudge dispatcher", zap.String("metrics_addr", *metricsAddr))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		submitSup.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		crawlSup.Run(ctx)
	}()

	<-ctx.Done()
	log.Info("shutdown signal received, draining supervisors")
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown failed", zap.Error(err))
	}
	log.Info("dispatcher stopped cleanly")
}
