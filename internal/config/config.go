package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreCSV    = "csv"
	StoreSQLite = "sqlite"
)

type Config struct {
	ListenAddr    string
	SettingsPath  string
	StoreBackend  string
	SQLitePath    string
	AuthUser      string
	AuthPass      string
	AuthFile      string
	LockTimeout   time.Duration
	WatchMetadata bool
	LogLevel      string
	LogPretty     bool
	DevLog        bool
}

func Load() Config {
	_ = loadEnvFile(envFileName)

	cfg := Config{
		ListenAddr:   envOr("PAGETAGGER_LISTEN_ADDR", "127.0.0.1:8080"),
		SettingsPath: envOr("PAGETAGGER_SETTINGS", "settings.json"),
		StoreBackend: strings.ToLower(envOr("PAGETAGGER_STORE", StoreCSV)),
		SQLitePath:   os.Getenv("PAGETAGGER_SQLITE_PATH"),
		AuthUser:     os.Getenv("PAGETAGGER_AUTH_USER"),
		AuthPass:     os.Getenv("PAGETAGGER_AUTH_PASS"),
		AuthFile:     os.Getenv("PAGETAGGER_AUTH_FILE"),
		LogLevel:     os.Getenv("PAGETAGGER_LOG_LEVEL"),
	}
	cfg.LockTimeout = parseDurationOr("PAGETAGGER_LOCK_TIMEOUT", 2*time.Second)
	cfg.WatchMetadata = parseBoolOr("PAGETAGGER_WATCH_METADATA", true)
	cfg.LogPretty = parseBoolOr("PAGETAGGER_LOG_PRETTY", false)
	cfg.DevLog = strings.TrimSpace(os.Getenv("DEV")) != ""
	return cfg
}

// SQLiteFile is the database used by the sqlite store: the configured path,
// or the annotations CSV path with a .sqlite extension.
func (c Config) SQLiteFile(annotationsCSV string) string {
	if strings.TrimSpace(c.SQLitePath) != "" {
		return c.SQLitePath
	}
	ext := ""
	if i := strings.LastIndex(annotationsCSV, "."); i > strings.LastIndexAny(annotationsCSV, `/\`) {
		ext = annotationsCSV[i:]
	}
	return strings.TrimSuffix(annotationsCSV, ext) + ".sqlite"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func parseBoolOr(key string, fallback bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
