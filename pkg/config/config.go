package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trade bridge.
type Config struct {
	Port string

	// Persistence
	DBPath   string // sqlite file, ":memory:" allowed
	JSONPath string // alternative json state file

	// Default risk limits applied to users without explicit overrides.
	MaxExposureUSD  float64
	MaxPositions    int
	MaxOrderSizePct float64

	// Bridge
	HeartbeatSeconds int
	Mode             string // "paper" or "live"
	QueueSize        int

	// Market feed
	UseMockFeed bool
	Symbols     []string

	// Bot fleet
	BotsConfigPath string
	MaxBotsPerUser int

	// Auth
	JWTSecret string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:             getEnv("PORT", "8080"),
		DBPath:           getEnv("NEURA_TRADES_DB", "neuraluxe_trades.db"),
		JSONPath:         getEnv("NEURA_TRADES_JSON", "trades_state.json"),
		MaxExposureUSD:   getEnvFloat("NEURA_MAX_EXPOSURE_USD", 50000),
		MaxPositions:     getEnvInt("NEURA_MAX_POSITIONS", 10),
		MaxOrderSizePct:  getEnvFloat("NEURA_MAX_ORDER_PCT", 0.1),
		HeartbeatSeconds: getEnvInt("NEURA_TRADING_HEARTBEAT", 5),
		Mode:             strings.ToLower(getEnv("TRADING_MODE", "paper")),
		QueueSize:        getEnvInt("ORDER_QUEUE_SIZE", 200),
		UseMockFeed:      getEnv("USE_MOCK_FEED", "true") == "true",
		Symbols:          splitAndTrim(getEnv("SYMBOLS", "BTCUSD,ETHUSD")),
		BotsConfigPath:   getEnv("BOTS_CONFIG", "bots.yaml"),
		MaxBotsPerUser:   getEnvInt("MAX_BOTS_PER_USER", 50),
		JWTSecret:        getEnv("JWT_SECRET", "dev-secret"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
