package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/koltyakov/parcel/internal/config"
	"github.com/koltyakov/parcel/internal/store/sqlite"
)

func runHistory(ctx context.Context, args []string) int {
	loadParcelEnvFromDotEnv(".env")

	cfg, err := config.ParseHistoryFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "history config error:", err)
		return 2
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	entries, err := store.ListShares(ctx, cfg.Limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "history error:", err)
		return 1
	}

	if cfg.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			fmt.Fprintln(os.Stderr, "history error:", err)
			return 1
		}
		return 0
	}

	if len(entries) == 0 {
		fmt.Println("no shares recorded")
		return 0
	}
	for _, e := range entries {
		stopped := "-"
		if e.StoppedAt != nil {
			stopped = e.StoppedAt.Format("2006-01-02T15:04:05Z")
		}
		fmt.Printf("%s\t%s\t%s\t%s\tprotected=%t\tdownloads=%d\tsent=%s\tcreated=%s\tstopped=%s\n",
			e.ID, e.FileName, formatSize(e.FileSize), e.Provider, e.Protected,
			e.Completions, formatSize(e.BytesSent),
			e.CreatedAt.Format("2006-01-02T15:04:05Z"), stopped)
	}
	return 0
}
