package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/localx402/facilitator/internal/chain"
	"github.com/localx402/facilitator/internal/config"
	"github.com/localx402/facilitator/internal/exact"
	"github.com/localx402/facilitator/internal/facilitator"
	"github.com/localx402/facilitator/internal/tenderly"
	"github.com/localx402/facilitator/internal/upstream"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		var cfgErr *config.Error
		if errors.As(err, &cfgErr) {
			log.Fatal("configuration error", zap.Error(err))
		}
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Tenderly vendor client (dynamic-sandbox mode only) ────────────────────
	var vnets facilitator.VNetAPI
	if cfg.Mode == config.ModeDynamicSandbox {
		vnets = tenderly.NewClient(tenderly.DefaultAPIBase,
			cfg.Tenderly.AccountName, cfg.Tenderly.ProjectName, cfg.Tenderly.AccessKey)
	}

	// ── Facilitator state + collaborators ─────────────────────────────────────
	state, err := facilitator.NewState(cfg, vnets, log)
	if err != nil {
		log.Fatal("state init failed", zap.Error(err))
	}

	funder := facilitator.NewFunder(state, log)
	engine := exact.NewEngine(log)
	up := upstream.NewClient(cfg.Facilitator.UpstreamURL)
	dispatcher := facilitator.NewDispatcher(state, funder, engine, up, log)

	log.Info("facilitator starting",
		zap.Stringer("mode", cfg.Mode),
		zap.String("address", state.Address().Hex()),
		zap.Int("port", cfg.Server.Port))

	// Warm the sandbox and top up accounts ahead of the first request.
	if cfg.Mode == config.ModeDynamicSandbox {
		go warmSandbox(ctx, state, funder, log)
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	facilitator.NewHandler(dispatcher, log).Register(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

// warmSandbox provisions the Virtual TestNet and runs an initial balance
// assurance pass so the first verify/settle request does not pay the cost.
// Failures are warnings; requests retry provisioning on their own.
func warmSandbox(ctx context.Context, state *facilitator.State, funder *facilitator.Funder, log *zap.Logger) {
	endpoint, err := state.SandboxEndpoint(ctx)
	if err != nil {
		log.Warn("sandbox warm-up provisioning failed", zap.Error(err))
		return
	}

	client, err := chain.NewClient(ctx, endpoint)
	if err != nil {
		log.Warn("sandbox warm-up dial failed", zap.Error(err))
		return
	}
	defer client.Close()

	if outcome, err := funder.EnsureFacilitatorFunded(ctx, client); err != nil {
		log.Warn("initial facilitator funding failed", zap.Error(err))
	} else if outcome.Funded {
		log.Info("facilitator account topped up at startup")
	}
	if _, err := funder.EnsureTestWalletFunded(ctx, client); err != nil {
		log.Warn("initial test account funding failed", zap.Error(err))
	}
}
