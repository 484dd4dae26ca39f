package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/koltyakov/parcel/internal/config"
	"github.com/koltyakov/parcel/internal/control"
	"github.com/koltyakov/parcel/internal/debughttp"
	"github.com/koltyakov/parcel/internal/domain"
	"github.com/koltyakov/parcel/internal/events"
	ilog "github.com/koltyakov/parcel/internal/log"
	"github.com/koltyakov/parcel/internal/share"
	"github.com/koltyakov/parcel/internal/store/sqlite"
)

// stopTimeout bounds the teardown sequence after Ctrl+C.
const stopTimeout = 10 * time.Second

func runShare(ctx context.Context, args []string) int {
	loadParcelEnvFromDotEnv(".env")

	cfg, err := config.ParseShareFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "share config error:", err)
		return 2
	}
	logger := ilog.New(cfg.LogLevel)

	p := newPrinter(os.Stdout, logger, isInteractiveOutput())
	p.noQR = cfg.NoQR
	p.qrPNG = cfg.QRPNGPath
	sink := domain.MultiSink{p}

	var history share.HistoryStore
	if cfg.HistoryDB != "" {
		store, err := sqlite.Open(cfg.HistoryDB)
		if err != nil {
			fmt.Fprintln(os.Stderr, "share error:", err)
			return 1
		}
		defer func() { _ = store.Close() }()
		history = store
	}

	var hub *events.Hub
	if cfg.EventsAddr != "" {
		hub = events.NewHub(logger)
		defer hub.Close()
		sink = append(sink, hub)
	}

	m := share.New(share.Config{
		Provider:  cfg.Provider,
		AgentPath: cfg.AgentPath,
		URLWait:   cfg.URLWait,
	}, sink, history, logger)

	if err := debughttp.Start(ctx, cfg.PprofAddr, m.ActiveShares, logger); err != nil {
		fmt.Fprintln(os.Stderr, "share error:", err)
		return 1
	}

	// The optional events API serves the same control surface as
	// `parcel serve`, scoped to this foreground share.
	apiErr := make(chan error, 1)
	if hub != nil {
		api := control.New(m, hub, logger)
		go func() {
			apiErr <- api.Run(ctx, cfg.EventsAddr)
		}()
	}

	startedAt := time.Now()
	status, err := m.StartShare(ctx, cfg.FilePath, share.Options{
		DisplayName: cfg.Name,
		Password:    cfg.Password,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "share error:", err)
		return 1
	}
	p.ShareStarted(status, cfg.URLWait)

	rc := 0
	select {
	case <-ctx.Done():
	case <-p.Down():
		// The tunnel agent died underneath the share.
		rc = 1
	case err := <-apiErr:
		if err != nil {
			fmt.Fprintln(os.Stderr, "share error:", err)
			rc = 1
		}
	}

	completions, bytesSent := p.Totals()
	if st, err := m.Share(status.ID); err == nil {
		completions, bytesSent = st.Completions, st.BytesSent
	}
	p.Stopping()

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := m.StopAllShares(stopCtx); err != nil {
		fmt.Fprintln(os.Stderr, "share error:", err)
		return 1
	}
	p.Summary(time.Since(startedAt), completions, bytesSent)
	return rc
}
