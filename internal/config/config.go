package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DSN              string
	HTTPPort         string
	Username         string
	Password         string
	FilterWord       string
	SnapshotFile     string
	MigrationsDir    string
	KafkaBrokers     []string
	KafkaGroupID     string
	KafkaTopic       string
	AuditBatchSize   int
	AuditWorkers     int
	WatchlistRefresh time.Duration
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment")
	}

	brokersStr := getEnv("KAFKA_BROKERS", "localhost:9092")
	return &Config{
		DSN:              getEnv("APP_DSN", "host=localhost user=postgres password=postgres dbname=fulfillment sslmode=disable"),
		HTTPPort:         getEnv("APP_PORT", "9000"),
		Username:         getEnv("APP_USER", "admin"),
		Password:         getEnv("APP_PASS", "secret"),
		FilterWord:       getEnv("APP_FILTER", ""),
		SnapshotFile:     getEnv("APP_SNAPSHOT", "orders.json"),
		MigrationsDir:    getEnv("APP_MIGRATIONS", "migrations"),
		KafkaBrokers:     strings.Split(brokersStr, ","),
		KafkaGroupID:     getEnv("KAFKA_GROUP_ID", "audit-group"),
		KafkaTopic:       getEnv("KAFKA_TOPIC", "audit-events"),
		AuditBatchSize:   getEnvInt("AUDIT_BATCH_SIZE", 10),
		AuditWorkers:     getEnvInt("AUDIT_WORKERS", 2),
		WatchlistRefresh: time.Duration(getEnvInt("WATCHLIST_REFRESH_SEC", 30)) * time.Second,
	}
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultVal
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%s", c.HTTPPort)
}
