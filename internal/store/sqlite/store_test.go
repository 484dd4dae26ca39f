package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/koltyakov/parcel/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "parcel.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRecord(id string, createdAt time.Time) domain.ShareRecord {
	return domain.ShareRecord{
		ID:        id,
		FileName:  "pkg.zip",
		FilePath:  "/tmp/pkg.zip",
		FileSize:  4096,
		Provider:  "cloudflared",
		Protected: true,
		CreatedAt: createdAt,
	}
}

func findEntry(t *testing.T, store *Store, id string) domain.HistoryEntry {
	t.Helper()
	entries, err := store.ListShares(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.ID == id {
			return e
		}
	}
	t.Fatalf("share %s not in history", id)
	return domain.HistoryEntry{}
}

func TestShareHistoryRoundtrip(t *testing.T) {
	store, err := Open("file::memory:?cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	created := time.Now().UTC().Truncate(time.Second)
	if err := store.RecordShare(ctx, testRecord("sh_roundtrip", created)); err != nil {
		t.Fatal(err)
	}

	entry := findEntry(t, store, "sh_roundtrip")
	if entry.FileName != "pkg.zip" || entry.FileSize != 4096 || entry.Provider != "cloudflared" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if !entry.Protected {
		t.Fatal("expected protected flag to survive the roundtrip")
	}
	if !entry.CreatedAt.Equal(created) {
		t.Fatalf("expected created_at %v, got %v", created, entry.CreatedAt)
	}
	if entry.PublicURL != "" || entry.StoppedAt != nil {
		t.Fatalf("expected a fresh open row, got %+v", entry)
	}

	if err := store.SetPublicURL(ctx, "sh_roundtrip", "https://quiet-fox.trycloudflare.com/abc123"); err != nil {
		t.Fatal(err)
	}
	if got := findEntry(t, store, "sh_roundtrip").PublicURL; got != "https://quiet-fox.trycloudflare.com/abc123" {
		t.Fatalf("unexpected public URL %q", got)
	}

	if err := store.FinishShare(ctx, "sh_roundtrip", 3, 12288); err != nil {
		t.Fatal(err)
	}
	entry = findEntry(t, store, "sh_roundtrip")
	if entry.StoppedAt == nil {
		t.Fatal("expected stopped_at to be set")
	}
	if entry.Completions != 3 || entry.BytesSent != 12288 {
		t.Fatalf("expected counters 3/12288, got %d/%d", entry.Completions, entry.BytesSent)
	}
}

func TestListSharesNewestFirstAndLimited(t *testing.T) {
	store := openTestStore(t)

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		rec := testRecord(fmt.Sprintf("sh_%d", i), base.Add(time.Duration(i)*time.Second))
		if err := store.RecordShare(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := store.ListShares(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID != "sh_2" || entries[1].ID != "sh_1" {
		t.Fatalf("expected newest first, got %s then %s", entries[0].ID, entries[1].ID)
	}

	entries, err = store.ListShares(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected all 3 entries with default limit, got %d", len(entries))
	}
}

func TestFinishUnknownShareIsNoop(t *testing.T) {
	store := openTestStore(t)

	if err := store.FinishShare(context.Background(), "sh_unknown", 1, 1); err != nil {
		t.Fatal(err)
	}
	entries, err := store.ListShares(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty history, got %d entries", len(entries))
	}
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "path", "parcel.db")

	store, err := Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("expected db file to exist at %s: %v", dbPath, err)
	}
}

func BenchmarkListShares(b *testing.B) {
	store, err := OpenWithOptions(b.TempDir()+"/bench.db", OpenOptions{MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < 200; i++ {
		rec := testRecord(fmt.Sprintf("sh_bench_%d", i), base.Add(time.Duration(i)*time.Second))
		if err := store.RecordShare(ctx, rec); err != nil {
			b.Fatal(err)
		}
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.ListShares(ctx, 50); err != nil {
			b.Fatal(err)
		}
	}
}
