package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverPebble   = "pebble"
)

type Config struct {
	AppName string
	Env     string
	Host    string
	Port    int

	StoreDriver string
	SQLitePath  string
	DatabaseURL string
	PebbleDir   string

	JWTSecret          string
	AccessTokenMinutes int
	EncryptKey         string
	LegacyEncryptKeys  []string

	UploadDir   string
	MaxUploadMB int
	CORSOrigins []string
	Debug       bool
	LogLevel    string

	WSIdleTimeout   time.Duration
	WSSendBuffer    int
	WSFrameRPS      float64
	WSFrameBurst    int
	EmergencyWindow int
	HistoryLimit    int
}

// Load reads configuration from the environment. A .env file (ENV_FILE,
// default ".env") is loaded first when present, and CONFIG_FILE may name a
// YAML file of the same keys. Real environment variables win over both.
func Load() (*Config, error) {
	envFile := getEnvOS("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	l := loader{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		file, err := readYAML(path)
		if err != nil {
			return nil, err
		}
		l.file = file
	}
	return l.load()
}

func (l loader) load() (*Config, error) {
	dbHost := l.getEnv("POSTGRES_HOST", "localhost")
	dbPort := l.getEnv("POSTGRES_PORT", "5432")
	dbUser := l.getEnv("POSTGRES_USER", "postgres")
	dbPass := l.getEnv("POSTGRES_PASSWORD", "postgres")
	dbName := l.getEnv("POSTGRES_DB", "therapyconnect")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(dbUser, dbPass),
		Host:     fmt.Sprintf("%s:%s", dbHost, dbPort),
		Path:     dbName,
		RawQuery: "sslmode=" + l.getEnv("POSTGRES_SSLMODE", "disable"),
	}

	cfg := &Config{
		AppName: l.getEnv("APP_NAME", "TherapyConnect Chat"),
		Env:     l.getEnv("APP_ENV", "development"),
		Host:    l.getEnv("HTTP_HOST", "0.0.0.0"),
		Port:    l.getEnvAsInt("HTTP_PORT", 8000),

		StoreDriver: strings.ToLower(l.getEnv("STORE_DRIVER", DriverSQLite)),
		SQLitePath:  l.getEnv("SQLITE_PATH", "file:therapyconnect.db?_pragma=busy_timeout(5000)"),
		DatabaseURL: l.getEnv("DATABASE_URL", u.String()),
		PebbleDir:   l.getEnv("PEBBLE_DIR", "data/pebble"),

		JWTSecret:          l.get("JWT_SECRET"),
		AccessTokenMinutes: l.getEnvAsInt("ACCESS_TOKEN_EXPIRE_MINUTES", 60*24),
		EncryptKey:         l.get("ENCRYPTION_KEY"),
		LegacyEncryptKeys:  l.getEnvAsList("ENCRYPTION_LEGACY_KEYS", nil),

		UploadDir:   l.getEnv("UPLOAD_DIR", "uploads"),
		MaxUploadMB: l.getEnvAsInt("MAX_UPLOAD_MB", 50),
		CORSOrigins: l.getEnvAsList("CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		Debug:       l.getEnvAsBool("DEBUG", true),
		LogLevel:    l.getEnv("LOG_LEVEL", ""),

		WSIdleTimeout:   time.Duration(l.getEnvAsInt("WS_IDLE_TIMEOUT_SECONDS", 60)) * time.Second,
		WSSendBuffer:    l.getEnvAsInt("WS_SEND_BUFFER", 64),
		WSFrameRPS:      l.getEnvAsFloat("WS_FRAME_RPS", 20),
		WSFrameBurst:    l.getEnvAsInt("WS_FRAME_BURST", 40),
		EmergencyWindow: l.getEnvAsInt("EMERGENCY_WINDOW", 15),
		HistoryLimit:    l.getEnvAsInt("HISTORY_LIMIT", 200),
	}

	switch cfg.StoreDriver {
	case DriverSQLite, DriverPostgres, DriverPebble:
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	if cfg.EmergencyWindow <= 0 {
		return nil, fmt.Errorf("EMERGENCY_WINDOW must be positive")
	}
	if cfg.WSIdleTimeout <= 0 {
		return nil, fmt.Errorf("WS_IDLE_TIMEOUT_SECONDS must be positive")
	}
	if cfg.IsProduction() && cfg.EncryptKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required in production")
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}

	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func readYAML(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	out := make(map[string]string, len(doc))
	for k, v := range doc {
		switch val := v.(type) {
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			out[strings.ToUpper(k)] = strings.Join(parts, ",")
		case nil:
		default:
			out[strings.ToUpper(k)] = fmt.Sprint(val)
		}
	}
	return out, nil
}

// loader resolves keys from the environment, then the optional config file.
type loader struct {
	file map[string]string
}

func (l loader) get(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return l.file[key]
}

func (l loader) getEnv(key, def string) string {
	if v := l.get(key); v != "" {
		return v
	}
	return def
}

func (l loader) getEnvAsInt(key string, def int) int {
	if v := l.get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func (l loader) getEnvAsFloat(key string, def float64) float64 {
	if v := l.get(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func (l loader) getEnvAsBool(key string, def bool) bool {
	if v := l.get(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func (l loader) getEnvAsList(key string, def []string) []string {
	v := l.get(key)
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvOS(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
