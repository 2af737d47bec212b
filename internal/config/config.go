package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	AllowedOrigins []string
	TrustedProxies []string

	DatabaseDriver string
	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int
	DBAutoMigrate  bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ImportSessionTTLMinutes int
	ImportChunkSize         int
	ImportMaxChunk          int

	KafkaBrokers   []string
	KafkaScanTopic string

	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	AdminUsername         string
	AdminPassword         string

	LogLevel   string
	LogFile    string
	LogConsole bool
}

// Load reads the environment, after merging a .env file from the working directory when one exists.
func Load() Config {
	_ = godotenv.Load()

	chunkSize := getInt("IMPORT_CHUNK_SIZE", 500)
	maxChunk := getInt("IMPORT_MAX_CHUNK", 2000)
	if maxChunk < chunkSize {
		maxChunk = chunkSize
	}

	return Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://127.0.0.1:3000")),
		TrustedProxies: splitList(os.Getenv("TRUSTED_PROXIES")),

		DatabaseDriver: strings.ToLower(getEnv("DATABASE_DRIVER", "postgres")),
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxOpenConns: getInt("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns: getInt("DB_MAX_IDLE_CONNS", 5),
		DBAutoMigrate:  getBool("DB_AUTO_MIGRATE", true),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),

		ImportSessionTTLMinutes: getInt("IMPORT_SESSION_TTL_MINUTES", 60),
		ImportChunkSize:         chunkSize,
		ImportMaxChunk:          maxChunk,

		KafkaBrokers:   splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaScanTopic: getEnv("KAFKA_SCAN_TOPIC", "stockscan.scans"),

		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: getInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		ManagerPIN:            strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		AdminUsername:         strings.TrimSpace(getEnv("ADMIN_USERNAME", "admin")),
		AdminPassword:         os.Getenv("ADMIN_PASSWORD"),

		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogFile:    os.Getenv("LOG_FILE"),
		LogConsole: getBool("LOG_CONSOLE", false),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

// getInt falls back on missing, malformed and non-positive values, except when the fallback itself is zero.
func getInt(key string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || n < 0 || (n == 0 && fallback > 0) {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
