package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AppConfig holds environment driven configuration values.
type AppConfig struct {
	AppPort        string
	AllowedOrigins []string
	// Database
	DBDriver    string
	DatabaseURI string
	DBPath      string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	// Gin framework configuration
	GinMode string
	GinPath string
	// Redis for the shared challenge backend and post cache
	RedisEnabled    bool
	RedisHost       string
	RedisPort       int
	RedisDB         int
	RedisPassword   string
	PostCacheTTLSec int
	// Captcha
	CaptchaStore    string
	CaptchaLength   int
	CaptchaWidth    int
	CaptchaHeight   int
	CaptchaTTLSec   int
	CaptchaSweepSec int
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
}

var cfg AppConfig
var loaded bool

// Load loads the application configuration. It should be called once during boot.
func Load() AppConfig {
	if loaded {
		return cfg
	}

	// Precedence: .env -> config/config.json -> defaults -> environment variable overrides
	for _, location := range []string{".env", filepath.Join("config", ".env")} {
		if err := godotenv.Load(location); err == nil {
			break
		}
	}

	if err := loadJSONConfig(filepath.Join("config", "config.json"), &cfg); err != nil {
		log.Printf("invalid config/config.json, ignoring: %v", err)
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	if !loaded {
		return Load()
	}
	return cfg
}

// Set replaces the cached configuration. Used by tests and the CLI flags.
func Set(c AppConfig) {
	applyDefaults(&c)
	cfg = c
	loaded = true
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// loadJSONConfig reads JSON file into cfg if present. Returns error only for invalid JSON.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil // silently ignore missing file
	}
	defer f.Close()

	var raw map[string]any
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return err
	}
	applyJSON(raw, out)
	return nil
}

// applyJSON maps grouped sections ("app", "database", ...) first, then flat keys for
// anything a section did not set.
func applyJSON(raw map[string]any, out *AppConfig) {
	sections := []string{"app", "database", "redis", "log", "captcha"}
	sources := make([]map[string]any, 0, len(sections)+1)
	for _, name := range sections {
		if m, ok := raw[name].(map[string]any); ok {
			sources = append(sources, m)
		}
	}
	sources = append(sources, raw)

	for _, m := range sources {
		setString(m, "AppPort", &out.AppPort)
		setStringSlice(m, "AllowedOrigins", &out.AllowedOrigins)
		setString(m, "DBDriver", &out.DBDriver)
		setString(m, "DatabaseURI", &out.DatabaseURI)
		setString(m, "DBPath", &out.DBPath)
		setString(m, "DBHost", &out.DBHost)
		setString(m, "DBPort", &out.DBPort)
		setString(m, "DBUser", &out.DBUser)
		setString(m, "DBPassword", &out.DBPassword)
		setString(m, "DBName", &out.DBName)
		setString(m, "GinMode", &out.GinMode)
		setString(m, "GinPath", &out.GinPath)
		setBool(m, "RedisEnabled", &out.RedisEnabled)
		setString(m, "RedisHost", &out.RedisHost)
		setInt(m, "RedisPort", &out.RedisPort)
		setInt(m, "RedisDB", &out.RedisDB)
		setString(m, "RedisPassword", &out.RedisPassword)
		setInt(m, "PostCacheTTLSec", &out.PostCacheTTLSec)
		setString(m, "CaptchaStore", &out.CaptchaStore)
		setInt(m, "CaptchaLength", &out.CaptchaLength)
		setInt(m, "CaptchaWidth", &out.CaptchaWidth)
		setInt(m, "CaptchaHeight", &out.CaptchaHeight)
		setInt(m, "CaptchaTTLSec", &out.CaptchaTTLSec)
		setInt(m, "CaptchaSweepSec", &out.CaptchaSweepSec)
		setString(m, "LogLevel", &out.LogLevel)
		setString(m, "LogPath", &out.LogPath)
		setInt(m, "LogMaxSizeMB", &out.LogMaxSizeMB)
		setInt(m, "LogMaxBackups", &out.LogMaxBackups)
		setInt(m, "LogMaxAgeDays", &out.LogMaxAgeDays)
		setBool(m, "LogCompress", &out.LogCompress)
	}
}

func setString(m map[string]any, key string, dst *string) {
	if *dst != "" {
		return
	}
	if s, ok := m[key].(string); ok {
		*dst = s
	}
}

func setInt(m map[string]any, key string, dst *int) {
	if *dst != 0 {
		return
	}
	switch t := m[key].(type) {
	case float64:
		*dst = int(t)
	case string:
		*dst = mustParseInt(t)
	}
}

func setBool(m map[string]any, key string, dst *bool) {
	if b, ok := m[key].(bool); ok {
		*dst = *dst || b
	}
}

func setStringSlice(m map[string]any, key string, dst *[]string) {
	if len(*dst) > 0 {
		return
	}
	arr, ok := m[key].([]any)
	if !ok {
		return
	}
	for _, it := range arr {
		if s, ok := it.(string); ok {
			*dst = append(*dst, s)
		}
	}
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "30001"
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.DBDriver == "" {
		c.DBDriver = "sqlite"
	}
	if c.DBPath == "" {
		c.DBPath = "comments.sqlite3"
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		c.DBPort = "3306"
	}
	if c.DBUser == "" {
		c.DBUser = "root"
	}
	if c.DBName == "" {
		c.DBName = "minicomment"
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if c.RedisHost == "" {
		c.RedisHost = "127.0.0.1"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.PostCacheTTLSec == 0 {
		c.PostCacheTTLSec = 60
	}
	if c.CaptchaStore == "" {
		c.CaptchaStore = "memory"
	}
	if c.CaptchaLength == 0 {
		c.CaptchaLength = 4
	}
	if c.CaptchaWidth == 0 {
		c.CaptchaWidth = 190
	}
	if c.CaptchaHeight == 0 {
		c.CaptchaHeight = 72
	}
	if c.CaptchaTTLSec == 0 {
		c.CaptchaTTLSec = 600
	}
	if c.CaptchaSweepSec == 0 {
		c.CaptchaSweepSec = 60
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) {
	if v := getEnv("APP_PORT", ""); v != "" {
		c.AppPort = v
	}
	if v := getEnv("ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitAndTrim(v)
	}
	if v := getEnv("DB_DRIVER", ""); v != "" {
		c.DBDriver = strings.ToLower(v)
	}
	if v := getEnv("DATABASE_URI", ""); v != "" {
		c.DatabaseURI = v
	}
	if v := getEnv("DB_PATH", ""); v != "" {
		c.DBPath = v
	}
	if v := getEnv("DB_HOST", ""); v != "" {
		c.DBHost = v
	}
	if v := getEnv("DB_PORT", ""); v != "" {
		c.DBPort = v
	}
	if v := getEnv("DB_USER", ""); v != "" {
		c.DBUser = v
	}
	if v := getEnv("DB_PASSWORD", ""); v != "" {
		c.DBPassword = v
	}
	if v := getEnv("DB_NAME", ""); v != "" {
		c.DBName = v
	}
	if v := getEnv("GIN_MODE", ""); v != "" {
		c.GinMode = v
	}
	if v := getEnv("GIN_PATH", ""); v != "" {
		c.GinPath = v
	}
	if v := getEnv("REDIS_ENABLED", ""); v != "" {
		c.RedisEnabled = parseBool(v)
	}
	if v := getEnv("REDIS_HOST", ""); v != "" {
		c.RedisHost = v
	}
	if v := getEnv("REDIS_PORT", ""); v != "" {
		c.RedisPort = mustParseInt(v)
	}
	if v := getEnv("REDIS_DB", ""); v != "" {
		c.RedisDB = mustParseInt(v)
	}
	if v := getEnv("REDIS_PASSWORD", ""); v != "" {
		c.RedisPassword = v
	}
	if v := getEnv("POST_CACHE_TTL_SEC", ""); v != "" {
		c.PostCacheTTLSec = mustParseInt(v)
	}
	if v := getEnv("CAPTCHA_STORE", ""); v != "" {
		c.CaptchaStore = strings.ToLower(v)
	}
	if v := getEnv("CAPTCHA_LENGTH", ""); v != "" {
		c.CaptchaLength = mustParseInt(v)
	}
	if v := getEnv("CAPTCHA_WIDTH", ""); v != "" {
		c.CaptchaWidth = mustParseInt(v)
	}
	if v := getEnv("CAPTCHA_HEIGHT", ""); v != "" {
		c.CaptchaHeight = mustParseInt(v)
	}
	if v := getEnv("CAPTCHA_TTL_SEC", ""); v != "" {
		c.CaptchaTTLSec = mustParseInt(v)
	}
	if v := getEnv("CAPTCHA_SWEEP_SEC", ""); v != "" {
		c.CaptchaSweepSec = mustParseInt(v)
	}
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := getEnv("LOG_PATH", ""); v != "" {
		c.LogPath = v
	}
	if v := getEnv("LOG_MAX_SIZE_MB", ""); v != "" {
		c.LogMaxSizeMB = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_BACKUPS", ""); v != "" {
		c.LogMaxBackups = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_AGE_DAYS", ""); v != "" {
		c.LogMaxAgeDays = mustParseInt(v)
	}
	if v := getEnv("LOG_COMPRESS", ""); v != "" {
		c.LogCompress = parseBool(v)
	}
}

func mustParseInt(val string) int {
	i, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return 0
	}
	return i
}

func parseBool(val string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(val))
	return err == nil && b
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	res := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			res = append(res, p)
		}
	}
	return res
}
