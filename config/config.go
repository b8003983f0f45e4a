package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort string
	AppMode string

	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	AccessSecret    string
	RefreshSecret   string
	AccessExpiryMin int
	RefreshExpiry   int // days

	SessionIdleMin      int
	SessionAbsoluteHour int
	MaxSessionsPerUser  int
	SessionSweepSec     int

	BatchWindowMs int
	BatchMaxSize  int

	EditWindowMin int
	PageLimitMax  int

	TOTPIssuer string
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppPort:             getEnv("APP_PORT", "8080"),
		AppMode:             getEnv("APP_MODE", "development"),
		DBHost:              getEnv("DB_HOST", "localhost"),
		DBUser:              getEnv("DB_USER", "postgres"),
		DBPassword:          getEnv("DB_PASSWORD", "postgres"),
		DBName:              getEnv("DB_NAME", "cipherchat"),
		DBPort:              getEnv("DB_PORT", "5432"),
		RedisHost:           getEnv("REDIS_HOST", "localhost"),
		RedisPort:           getEnv("REDIS_PORT", "6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getEnvAsInt("REDIS_DB", 0),
		AccessSecret:        getEnv("ACCESS_TOKEN_SECRET", "change-me"),
		RefreshSecret:       getEnv("REFRESH_TOKEN_SECRET", "change-me-too"),
		AccessExpiryMin:     getEnvAsInt("ACCESS_EXPIRY_MIN", 15),
		RefreshExpiry:       getEnvAsInt("REFRESH_EXPIRY_DAYS", 14),
		SessionIdleMin:      getEnvAsInt("SESSION_IDLE_MIN", 30),
		SessionAbsoluteHour: getEnvAsInt("SESSION_ABSOLUTE_HOURS", 12),
		MaxSessionsPerUser:  getEnvAsInt("MAX_SESSIONS_PER_USER", 5),
		SessionSweepSec:     getEnvAsInt("SESSION_SWEEP_SEC", 60),
		BatchWindowMs:       getEnvAsInt("BATCH_WINDOW_MS", 1000),
		BatchMaxSize:        getEnvAsInt("BATCH_MAX_SIZE", 64),
		EditWindowMin:       getEnvAsInt("EDIT_WINDOW_MIN", 15),
		PageLimitMax:        getEnvAsInt("PAGE_LIMIT_MAX", 100),
		TOTPIssuer:          getEnv("TOTP_ISSUER", "cipherchat"),
	}
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
