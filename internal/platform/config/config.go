package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIPort string
	JWTKey  []byte
	JWTExp  time.Duration

	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSslMode  string
	DBConnStr  string
	SQLitePath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CounterKeyPrefix string
	CounterKeepLast  int
	ImportListLimit  int

	StaleAfter         time.Duration
	ReapInterval       time.Duration
	ReapLockKey        string
	ReapLockTTLSeconds int

	RabbitMQURL         string
	ImportEventExchange string

	OTLPEndpoint string
	ServiceName  string
}

var AppConfig *Config

func Load() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = &Config{
		APIPort:    getEnv("API_PORT", "8080"),
		JWTKey:     []byte(getEnv("JWT_SECRET", "defaultsecret")),
		JWTExp:     time.Duration(getEnvAsInt("JWT_EXPIRATION_HOURS", 72)) * time.Hour,
		DBDriver:   getEnv("DB_DRIVER", "postgres"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "user"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "import_tables"),
		DBSslMode:  getEnv("DB_SSLMODE", "disable"),
		SQLitePath: getEnv("SQLITE_PATH", "import_tables.db"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		CounterKeyPrefix: getEnv("COUNTER_KEY_PREFIX", "import"),
		CounterKeepLast:  getEnvAsInt("COUNTER_KEEP_LAST", 100),
		ImportListLimit:  getEnvAsInt("IMPORT_LIST_LIMIT", 30),

		StaleAfter:         getEnvAsDuration("STALE_AFTER_MINUTES", 30, time.Minute),
		ReapInterval:       getEnvAsDuration("REAP_INTERVAL_SECONDS", 60, time.Second),
		ReapLockKey:        getEnv("REAP_LOCK_KEY", "import_reaper_lock"),
		ReapLockTTLSeconds: getEnvAsInt("REAP_LOCK_TTL_SECONDS", 120),

		RabbitMQURL:         getEnv("RABBITMQ_URL", ""),
		ImportEventExchange: getEnv("IMPORT_EVENT_EXCHANGE", "import_exchange"),

		OTLPEndpoint: getEnv("OTLP_ENDPOINT", ""),
		ServiceName:  getEnv("SERVICE_NAME", "import-tables"),
	}

	AppConfig.DBConnStr = "host=" + AppConfig.DBHost +
		" port=" + AppConfig.DBPort +
		" user=" + AppConfig.DBUser +
		" password=" + AppConfig.DBPassword +
		" dbname=" + AppConfig.DBName +
		" sslmode=" + AppConfig.DBSslMode
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration reads an integer count of unit.
func getEnvAsDuration(key string, fallback int, unit time.Duration) time.Duration {
	return time.Duration(getEnvAsInt(key, fallback)) * unit
}
