package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"

	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Port     string
	Mode     string
	LogLevel string

	JWTSecret string
	JWTTTL    time.Duration

	StoreDriver string
	Database    DatabaseConfig

	RedisURL string

	Paymob PaymobConfig

	AWS        AWSConfig
	ReceiptDir string

	FirebaseServiceAccountPath string

	WSRatePerSecond float64
	WSRateBurst     int
}

type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxIdleConns int
	MaxOpenConns int
	AutoMigrate  bool
}

type PaymobConfig struct {
	BaseURL       string
	APIKey        string
	IntegrationID int
	Currency      string
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

// IsDevelopment toggles internal error detail in responses
func (c *Config) IsDevelopment() bool {
	return c.Mode == ModeDevelopment
}

// Load reads a .env file when present, then the environment
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("no .env file loaded, using environment")
	}

	return &Config{
		Port:     GetEnv("PORT", "8080"),
		Mode:     GetEnv("APP_MODE", ModeProduction),
		LogLevel: GetEnv("LOG_LEVEL", "info"),

		JWTSecret: GetEnv("JWT_SECRET", ""),
		JWTTTL:    time.Duration(GetEnvAsInt("JWT_TTL_HOURS", 24*90)) * time.Hour,

		StoreDriver: GetEnv("STORE_DRIVER", StoreDriverPostgres),
		Database: DatabaseConfig{
			Host:         GetEnv("DB_HOST", "localhost"),
			Port:         GetEnv("DB_PORT", "5432"),
			User:         GetEnv("DB_USER", "postgres"),
			Password:     GetEnv("DB_PASSWORD", ""),
			Name:         GetEnv("DB_NAME", "mooveit"),
			SSLMode:      GetEnv("DB_SSL_MODE", "disable"),
			MaxIdleConns: GetEnvAsInt("DB_IDLE_CONNS", 10),
			MaxOpenConns: GetEnvAsInt("DB_MAX_CONNS", 100),
			AutoMigrate:  GetEnvAsBool("DB_AUTO_MIGRATE", true),
		},

		RedisURL: GetEnv("REDIS_URL", ""),

		Paymob: PaymobConfig{
			BaseURL:       GetEnv("PAYMOB_BASE_URL", "https://accept.paymob.com/api"),
			APIKey:        GetEnv("PAYMOB_API_KEY", ""),
			IntegrationID: GetEnvAsInt("PAYMOB_INTEGRATION_ID", 0),
			Currency:      GetEnv("PAYMOB_CURRENCY", "EGP"),
		},

		AWS: AWSConfig{
			Region:          GetEnv("AWS_REGION", ""),
			AccessKeyID:     GetEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: GetEnv("AWS_SECRET_ACCESS_KEY", ""),
			Bucket:          GetEnv("AWS_S3_BUCKET", ""),
		},
		ReceiptDir: GetEnv("RECEIPT_DIR", "./receipts"),

		FirebaseServiceAccountPath: GetEnv("FIREBASE_SERVICE_ACCOUNT_PATH", ""),

		WSRatePerSecond: GetEnvAsFloat("WS_RATE_PER_SEC", 10),
		WSRateBurst:     GetEnvAsInt("WS_RATE_BURST", 20),
	}
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func GetEnvAsInt(key string, defaultValue int) int {
	valueStr := GetEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func GetEnvAsBool(key string, defaultValue bool) bool {
	valueStr := GetEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func GetEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := GetEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}
