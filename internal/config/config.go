// Package config parses parcel's per-subcommand configuration from flags,
// PARCEL_* environment variables, and an optional YAML defaults file.
// Precedence: flags, then environment, then file, then built-in defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/koltyakov/parcel/internal/tunnel"
)

// ShareConfig drives `parcel share <file>`.
type ShareConfig struct {
	FilePath   string
	Provider   string
	Password   string
	Name       string
	AgentPath  string
	URLWait    time.Duration
	HistoryDB  string
	EventsAddr string
	QRPNGPath  string
	NoQR       bool
	PprofAddr  string
	LogLevel   string
}

// ServeConfig drives `parcel serve`.
type ServeConfig struct {
	Addr      string
	Provider  string
	AgentPath string
	URLWait   time.Duration
	HistoryDB string
	PprofAddr string
	LogLevel  string
}

// HistoryConfig drives `parcel history`.
type HistoryConfig struct {
	DBPath string
	Limit  int
	JSON   bool
}

const defaultURLWait = 30 * time.Second
const defaultControlAddr = "127.0.0.1:7070"
const defaultHistoryLimit = 20

// fileConfig is the optional YAML defaults file named by --config or
// PARCEL_CONFIG. Environment variables and flags override its values.
type fileConfig struct {
	Provider   string `yaml:"provider"`
	Agent      string `yaml:"agent"`
	URLWait    string `yaml:"url_wait"`
	HistoryDB  string `yaml:"history_db"`
	EventsAddr string `yaml:"events_addr"`
	Addr       string `yaml:"addr"`
	LogLevel   string `yaml:"log_level"`
	NoQR       bool   `yaml:"no_qr"`
}

// ParseShareFlags parses the share subcommand configuration. The single
// positional argument is the package path.
func ParseShareFlags(args []string) (ShareConfig, error) {
	file, err := loadFileConfig(args)
	if err != nil {
		return ShareConfig{}, err
	}
	urlWait, err := resolveURLWait(file.URLWait)
	if err != nil {
		return ShareConfig{}, err
	}

	cfg := ShareConfig{
		Provider:   envOrDefault("PARCEL_PROVIDER", firstNonEmpty(file.Provider, tunnel.DefaultProvider)),
		Password:   envOrDefault("PARCEL_PASSWORD", ""),
		AgentPath:  envOrDefault("PARCEL_AGENT", file.Agent),
		URLWait:    urlWait,
		HistoryDB:  envOrDefault("PARCEL_HISTORY_DB", file.HistoryDB),
		EventsAddr: envOrDefault("PARCEL_EVENTS_ADDR", file.EventsAddr),
		PprofAddr:  envOrDefault("PARCEL_PPROF_ADDR", ""),
		LogLevel:   envOrDefault("PARCEL_LOG_LEVEL", firstNonEmpty(file.LogLevel, "info")),
		NoQR:       file.NoQR,
	}

	var configFile string
	fs := flag.NewFlagSet("share", flag.ContinueOnError)
	fs.StringVar(&cfg.Provider, "provider", cfg.Provider, "Tunnel provider: cloudflared|bore")
	fs.StringVar(&cfg.Password, "password", cfg.Password, "Password required to download (optional)")
	fs.StringVar(&cfg.Name, "name", cfg.Name, "Display name for the shared package")
	fs.StringVar(&cfg.AgentPath, "agent", cfg.AgentPath, "Tunnel agent binary path (defaults to PATH lookup)")
	fs.DurationVar(&cfg.URLWait, "url-wait", cfg.URLWait, "How long to wait for the public URL")
	fs.StringVar(&cfg.HistoryDB, "history-db", cfg.HistoryDB, "SQLite share history path (empty disables history)")
	fs.StringVar(&cfg.EventsAddr, "events-addr", cfg.EventsAddr, "Local control/events API address (empty disables)")
	fs.StringVar(&cfg.QRPNGPath, "qr-png", cfg.QRPNGPath, "Write the share URL QR code as PNG to this path")
	fs.BoolVar(&cfg.NoQR, "no-qr", cfg.NoQR, "Do not render the terminal QR code")
	fs.StringVar(&cfg.PprofAddr, "pprof-addr", cfg.PprofAddr, "debug server address serving pprof and live share state (empty disables)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&configFile, "config", configFile, "YAML config file with persisted defaults")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	_ = configFile // consumed by loadFileConfig ahead of flag parsing

	rest := fs.Args()
	if len(rest) == 0 || strings.TrimSpace(rest[0]) == "" {
		return cfg, errors.New("missing package path: parcel share <file> [flags]")
	}
	cfg.FilePath = strings.TrimSpace(rest[0])
	if len(rest) > 1 {
		// Flags may follow the package path.
		if err := fs.Parse(rest[1:]); err != nil {
			return cfg, err
		}
		if fs.NArg() > 0 {
			return cfg, fmt.Errorf("unexpected arguments: %v", fs.Args())
		}
	}

	cfg.Provider, err = tunnel.Normalize(cfg.Provider)
	if err != nil {
		return cfg, err
	}
	if cfg.URLWait <= 0 {
		return cfg, errors.New("url wait must be > 0")
	}
	if cfg.EventsAddr != "" {
		if err := validateLoopback(cfg.EventsAddr); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// ParseServeFlags parses the serve subcommand configuration.
func ParseServeFlags(args []string) (ServeConfig, error) {
	file, err := loadFileConfig(args)
	if err != nil {
		return ServeConfig{}, err
	}
	urlWait, err := resolveURLWait(file.URLWait)
	if err != nil {
		return ServeConfig{}, err
	}

	cfg := ServeConfig{
		Addr:      envOrDefault("PARCEL_ADDR", firstNonEmpty(file.Addr, defaultControlAddr)),
		Provider:  envOrDefault("PARCEL_PROVIDER", firstNonEmpty(file.Provider, tunnel.DefaultProvider)),
		AgentPath: envOrDefault("PARCEL_AGENT", file.Agent),
		URLWait:   urlWait,
		HistoryDB: envOrDefault("PARCEL_HISTORY_DB", file.HistoryDB),
		PprofAddr: envOrDefault("PARCEL_PPROF_ADDR", ""),
		LogLevel:  envOrDefault("PARCEL_LOG_LEVEL", firstNonEmpty(file.LogLevel, "info")),
	}

	var configFile string
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "Control API listen address (loopback only)")
	fs.StringVar(&cfg.Provider, "provider", cfg.Provider, "Default tunnel provider: cloudflared|bore")
	fs.StringVar(&cfg.AgentPath, "agent", cfg.AgentPath, "Tunnel agent binary path (defaults to PATH lookup)")
	fs.DurationVar(&cfg.URLWait, "url-wait", cfg.URLWait, "How long to wait for the public URL")
	fs.StringVar(&cfg.HistoryDB, "history-db", cfg.HistoryDB, "SQLite share history path (empty disables history)")
	fs.StringVar(&cfg.PprofAddr, "pprof-addr", cfg.PprofAddr, "debug server address serving pprof and live share state (empty disables)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&configFile, "config", configFile, "YAML config file with persisted defaults")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	_ = configFile

	if fs.NArg() > 0 {
		return cfg, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	cfg.Provider, err = tunnel.Normalize(cfg.Provider)
	if err != nil {
		return cfg, err
	}
	if cfg.URLWait <= 0 {
		return cfg, errors.New("url wait must be > 0")
	}
	if err := validateLoopback(cfg.Addr); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParseHistoryFlags parses the history subcommand configuration.
func ParseHistoryFlags(args []string) (HistoryConfig, error) {
	file, err := loadFileConfig(args)
	if err != nil {
		return HistoryConfig{}, err
	}

	cfg := HistoryConfig{
		DBPath: envOrDefault("PARCEL_HISTORY_DB", file.HistoryDB),
		Limit:  envIntOrDefault("PARCEL_HISTORY_LIMIT", defaultHistoryLimit),
	}

	var configFile string
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite share history path")
	fs.IntVar(&cfg.Limit, "limit", cfg.Limit, "Maximum rows to list")
	fs.BoolVar(&cfg.JSON, "json", false, "Print history as JSON")
	fs.StringVar(&configFile, "config", configFile, "YAML config file with persisted defaults")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	_ = configFile

	cfg.DBPath = strings.TrimSpace(cfg.DBPath)
	if cfg.DBPath == "" {
		return cfg, errors.New("missing --db or PARCEL_HISTORY_DB")
	}
	if cfg.Limit <= 0 {
		return cfg, errors.New("limit must be > 0")
	}
	return cfg, nil
}

// configPath extracts --config from args ahead of flag parsing so file
// values can seed the flag defaults.
func configPath(args []string) string {
	path := os.Getenv("PARCEL_CONFIG")
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--config" || arg == "-config":
			if i+1 < len(args) {
				path = args[i+1]
			}
		case strings.HasPrefix(arg, "--config="):
			path = strings.TrimPrefix(arg, "--config=")
		case strings.HasPrefix(arg, "-config="):
			path = strings.TrimPrefix(arg, "-config=")
		}
	}
	return strings.TrimSpace(path)
}

func loadFileConfig(args []string) (fileConfig, error) {
	path := configPath(args)
	if path == "" {
		return fileConfig{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return fc, nil
}

func resolveURLWait(fileValue string) (time.Duration, error) {
	wait := defaultURLWait
	if v := strings.TrimSpace(fileValue); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("config url_wait: %w", err)
		}
		wait = d
	}
	if v := strings.TrimSpace(os.Getenv("PARCEL_URL_WAIT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("PARCEL_URL_WAIT: %w", err)
		}
		wait = d
	}
	return wait, nil
}

// validateLoopback rejects listen addresses that would expose the control
// API beyond the local machine.
func validateLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("control address %q: %w", addr, err)
	}
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("control address %q is not loopback", addr)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
