package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/escrowbook/escrowbook/params"
	"github.com/escrowbook/escrowbook/pkg/api"
	"github.com/escrowbook/escrowbook/pkg/engine"
	"github.com/escrowbook/escrowbook/pkg/escrow"
	"github.com/escrowbook/escrowbook/pkg/storage"
	"github.com/escrowbook/escrowbook/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLogger(cfg.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("starting",
		"base_asset", cfg.BaseAsset.Hex(),
		"owner", cfg.Owner.Hex(),
		"db", cfg.DBPath,
	)

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		sugar.Fatalw("storage", "err", err)
	}
	defer db.Close()

	// The dev bridge stands in for the external token mover. Custody
	// is modeled as an address of its own so bank balances mirror what
	// a real token contract would report.
	custody := cfg.Owner
	bank := escrow.NewTokenBank(custody)

	eng, err := engine.New(engine.Config{
		BaseAsset: cfg.BaseAsset,
		Owner:     cfg.Owner,
		Bridge:    bank,
		Store:     db,
		Logger:    sugar,
		Clock:     util.RealClock{},
	})
	if err != nil {
		sugar.Fatalw("engine", "err", err)
	}

	server := api.NewServer(eng, sugar).WithDevBank(bank)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.APIAddr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		sugar.Infow("shutting_down", "signal", sig.String())
	case err := <-errCh:
		sugar.Errorw("server_stopped", "err", err)
	}
}
