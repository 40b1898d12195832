// Command server runs the prosemark collaborative document server:
// the WebSocket sync endpoint plus its HTTP snapshot/password/health
// surface (§6), wired from internal/config's env-var tunables.
//
// Grounded on the teacher's server/main.go top-level wiring
// (connect-Redis, connect-Postgres, register a handler, listen),
// generalized to every component SPEC_FULL.md adds (hub, vault,
// catalog, cluster relay) and given the graceful shutdown the teacher
// never had, matching original_source/server/src/main.rs's
// signal-driven shutdown-then-flush sequence instead.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/prosemark/server/internal/cluster"
	"github.com/prosemark/server/internal/config"
	"github.com/prosemark/server/internal/hub"
	"github.com/prosemark/server/internal/httpapi"
	"github.com/prosemark/server/internal/logging"
	"github.com/prosemark/server/internal/storage"
	"github.com/prosemark/server/internal/wsapi"
)

func main() {
	cfg := config.Load()

	log, err := logging.New(cfg.IsDev())
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := os.MkdirAll(cfg.VaultDir, 0o755); err != nil {
		log.Fatal("failed to create vault dir", zap.Error(err))
	}
	vault := storage.NewVault(cfg.VaultDir, cfg.SnapshotMaxBytes, cfg.SnapshotMaxRevs)
	defer vault.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	catalog := storage.OpenCatalog(ctx, cfg.DatabaseURL, log)
	cancel()
	defer catalog.Close()

	h := hub.New(vault, catalog, log, cfg.TransformWindow, cfg.OutboundQueueSize, cfg.PresenceSweep, cfg.IdleEvictAfter)
	defer h.Stop()

	relayCtx, relayCancel := context.WithTimeout(context.Background(), 5*time.Second)
	relay, err := cluster.Dial(relayCtx, cfg.RedisAddr, uuid.NewString(), h, log)
	relayCancel()
	if err != nil {
		log.Warn("cluster relay unavailable, running single-process", zap.Error(err))
	} else if relay != nil {
		h.SetBroadcaster(relay)
		defer relay.Close()
	}

	router := mux.NewRouter()
	httpapi.New(h, catalog, log).Register(router)
	ws := wsapi.New(h, log, cfg.OutboundQueueSize, cfg.RateLimitPerSec)
	router.HandleFunc("/api/ws", ws.ServeHTTP)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		log.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
