package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/koltyakov/parcel/internal/config"
	"github.com/koltyakov/parcel/internal/control"
	"github.com/koltyakov/parcel/internal/debughttp"
	"github.com/koltyakov/parcel/internal/events"
	ilog "github.com/koltyakov/parcel/internal/log"
	"github.com/koltyakov/parcel/internal/share"
	"github.com/koltyakov/parcel/internal/store/sqlite"
)

func runServe(ctx context.Context, args []string) int {
	loadParcelEnvFromDotEnv(".env")

	cfg, err := config.ParseServeFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "serve config error:", err)
		return 2
	}
	logger := ilog.New(cfg.LogLevel)

	var history share.HistoryStore
	if cfg.HistoryDB != "" {
		store, err := sqlite.Open(cfg.HistoryDB)
		if err != nil {
			fmt.Fprintln(os.Stderr, "db error:", err)
			return 1
		}
		defer func() { _ = store.Close() }()
		history = store
	}

	hub := events.NewHub(logger)
	defer hub.Close()

	m := share.New(share.Config{
		Provider:  cfg.Provider,
		AgentPath: cfg.AgentPath,
		URLWait:   cfg.URLWait,
	}, hub, history, logger)

	if err := debughttp.Start(ctx, cfg.PprofAddr, m.ActiveShares, logger); err != nil {
		fmt.Fprintln(os.Stderr, "serve error:", err)
		return 1
	}

	logger.Info("control api listening", "addr", cfg.Addr)
	api := control.New(m, hub, logger)
	err = api.Run(ctx, cfg.Addr)

	// Shares outlive the API shutdown; tear them down before reporting.
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if stopErr := m.StopAllShares(stopCtx); stopErr != nil {
		logger.Error("share teardown failed", "err", stopErr)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "serve error:", err)
		return 1
	}
	return 0
}
