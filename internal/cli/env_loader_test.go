package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseEnvAssignment(t *testing.T) {
	key, value, ok := parseEnvAssignment("export PARCEL_PROVIDER=bore")
	if !ok {
		t.Fatal("expected assignment to be parsed")
	}
	if key != "PARCEL_PROVIDER" {
		t.Fatalf("expected PARCEL_PROVIDER, got %s", key)
	}
	if value != "bore" {
		t.Fatalf("expected bore, got %s", value)
	}

	_, value, ok = parseEnvAssignment(`PARCEL_AGENT="/opt/bin/cloudflared"`)
	if !ok || value != "/opt/bin/cloudflared" {
		t.Fatalf("expected double quotes to be stripped, got %q ok=%t", value, ok)
	}
	_, value, ok = parseEnvAssignment("PARCEL_PASSWORD='hunter two'")
	if !ok || value != "hunter two" {
		t.Fatalf("expected single quotes to be stripped, got %q ok=%t", value, ok)
	}

	if _, _, ok := parseEnvAssignment("# comment"); ok {
		t.Fatal("expected comments to be ignored")
	}
	if _, _, ok := parseEnvAssignment("   "); ok {
		t.Fatal("expected blank lines to be ignored")
	}
	if _, _, ok := parseEnvAssignment("NOT AN=assignment"); ok {
		t.Fatal("expected keys with spaces to be rejected")
	}
	if _, _, ok := parseEnvAssignment("NOEQUALS"); ok {
		t.Fatal("expected lines without = to be ignored")
	}
}

func TestLoadParcelEnvFromDotEnv(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	content := strings.Join([]string{
		"PARCEL_PROVIDER=bore",
		`export PARCEL_AGENT="/opt/bin/bore"`,
		"OTHER_VALUE=ignored",
		"",
	}, "\n")
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PARCEL_PROVIDER", "")
	t.Setenv("PARCEL_AGENT", "")
	t.Setenv("OTHER_VALUE", "")

	loadParcelEnvFromDotEnv(envPath)

	if got := os.Getenv("PARCEL_PROVIDER"); got != "bore" {
		t.Fatalf("expected provider from .env file, got %q", got)
	}
	if got := os.Getenv("PARCEL_AGENT"); got != "/opt/bin/bore" {
		t.Fatalf("expected unquoted agent path from .env file, got %q", got)
	}
	if got := os.Getenv("OTHER_VALUE"); got != "" {
		t.Fatalf("expected non-PARCEL keys to be skipped, got %q", got)
	}
}

func TestLoadParcelEnvExistingWins(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envPath, []byte("PARCEL_PROVIDER=bore\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PARCEL_PROVIDER", "cloudflared")

	loadParcelEnvFromDotEnv(envPath)

	if got := os.Getenv("PARCEL_PROVIDER"); got != "cloudflared" {
		t.Fatalf("expected process env to win over .env file, got %q", got)
	}
}

func TestLoadParcelEnvMissingFile(t *testing.T) {
	t.Setenv("PARCEL_PROVIDER", "")

	loadParcelEnvFromDotEnv(filepath.Join(t.TempDir(), ".env"))

	if got := os.Getenv("PARCEL_PROVIDER"); got != "" {
		t.Fatalf("expected a missing .env file to be a no-op, got %q", got)
	}
}
