package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"clnfund/internal/config"
	"clnfund/internal/funding"
	"clnfund/internal/funding/clnrest"
	"clnfund/internal/logging"
)

func main() {
	// A missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Internal.Fatalf("failed to load config: %v", err)
	}
	logging.SetDebug(cfg.Debug)

	var backend funding.Backend
	if cfg.UseMock {
		mock := funding.NewMockBackend()
		mock.AutoSettle = 20 * time.Second
		backend = mock
		logging.Internal.Info("using mock funding backend (unset USE_MOCK_BACKEND for a real node)")
	} else {
		client, err := clnrest.New(clnrest.Config{
			BaseURL:       cfg.NodeURL,
			NodeID:        cfg.NodeID,
			ReadRune:      cfg.ReadRune,
			InvoiceRune:   cfg.InvoiceRune,
			PayRune:       cfg.PayRune,
			TrustMaterial: cfg.TrustMaterial,
			Network:       cfg.Network,
			Backoff: clnrest.Backoff{
				Initial:    cfg.ReconnectInitial,
				Max:        cfg.ReconnectMax,
				Multiplier: cfg.ReconnectMultiplier,
			},
		})
		if err != nil {
			logging.Internal.Fatalf("failed to initialize clnrest backend: %v", err)
		}
		backend = client
		logging.Internal.Infof("connected funding backend at %s", cfg.NodeURL)
	}

	defer func() {
		if err := backend.Close(); err != nil {
			logging.Internal.Warnf("error closing funding backend: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	balanceCtx, balanceCancel := context.WithTimeout(ctx, 10*time.Second)
	if msat, err := backend.Balance(balanceCtx); err != nil {
		logging.Internal.Warnf("balance check failed: %v", err)
	} else {
		logging.Internal.Infof("node balance: %d msat across open channels", msat)
	}
	balanceCancel()

	svc := funding.NewService(backend)
	svc.SetPaymentCallback(func(paymentHash string) {
		logging.Internal.WithField("payment_hash", paymentHash).Info("payment received")
	})

	if err := svc.StartPaymentWatcher(ctx); err != nil {
		logging.Internal.Fatalf("failed to start payment watcher: %v", err)
	}
	logging.Internal.Info("payment watcher running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.Internal.Info("shutting down...")
	cancel()
}
