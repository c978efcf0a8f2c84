package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr          string
	LogLevel          string
	LogFormat         string
	PubChemBaseURL    string
	LookupTimeout     time.Duration
	UserAgent         string
	LookupRatePerSec  float64
	LookupMaxInFlight int
	Debounce          time.Duration
	SuggestLimit      int
	SessionIdleTTL    time.Duration
	RedisURL          string
	CacheTTL          time.Duration
	CacheDisabled     bool
	CacheMaxEntries   int
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:          getEnv("HTTP_ADDR", ":8090"),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(getEnv("LOG_FORMAT", "text")),
		PubChemBaseURL:    normalizeBaseURL(getEnv("PUBCHEM_BASE_URL", "https://pubchem.ncbi.nlm.nih.gov")),
		LookupTimeout:     time.Duration(getEnvInt("LOOKUP_TIMEOUT_SECONDS", 15)) * time.Second,
		UserAgent:         getEnv("LOOKUP_USER_AGENT", "chemsearch/1.0"),
		LookupRatePerSec:  getEnvFloat("LOOKUP_RATE_PER_SECOND", 5),
		LookupMaxInFlight: getEnvInt("LOOKUP_MAX_CONCURRENT", 4),
		Debounce:          time.Duration(getEnvInt("SESSION_DEBOUNCE_MS", 500)) * time.Millisecond,
		SuggestLimit:      getEnvInt("SUGGEST_LIMIT", 5),
		SessionIdleTTL:    time.Duration(getEnvInt("SESSION_IDLE_TTL_MINUTES", 30)) * time.Minute,
		RedisURL:          getEnv("REDIS_URL", ""),
		CacheTTL:          time.Duration(getEnvInt("LOOKUP_CACHE_TTL_HOURS", 24)) * time.Hour,
		CacheDisabled:     getEnvBool("LOOKUP_CACHE_DISABLED", false),
		CacheMaxEntries:   getEnvInt("LOOKUP_CACHE_MAX_ENTRIES", 2048),
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func normalizeBaseURL(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
		value = "https://" + value
	}
	return strings.TrimRight(value, "/")
}
