package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	DriverDynamoDB = "dynamodb"
	DriverMongoDB  = "mongodb"
	DriverRedis    = "redis"
)

type Config struct {
	Env       string
	LogLevel  string
	Server    ServerConfig
	Storage   StorageConfig
	DynamoDB  DynamoDBConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Hash      HashConfig
	ResetCode ResetCodeConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type StorageConfig struct {
	Driver           string
	RevocationDriver string
	Timeout          time.Duration
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

type MongoDBConfig struct {
	URI      string
	Database string
}

type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
}

// JWTConfig holds the two signing tiers. Standard secrets sign tokens for
// ordinary users, elevated secrets sign tokens for admins.
type JWTConfig struct {
	StandardAccessSecret  string
	StandardRefreshSecret string
	ElevatedAccessSecret  string
	ElevatedRefreshSecret string
	AccessExpiry          time.Duration
	RefreshExpiry         time.Duration
}

type HashConfig struct {
	Cost int
}

type ResetCodeConfig struct {
	Length      int
	Expiry      time.Duration
	MaxAttempts int
}

func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// LedgerDriver is the backend used for revocation records.
func (c *Config) LedgerDriver() string {
	if c.Storage.RevocationDriver != "" {
		return c.Storage.RevocationDriver
	}
	return c.Storage.Driver
}

func Load() (*Config, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("APP_ENV", EnvProduction),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			Driver:           getEnv("STORAGE_DRIVER", DriverDynamoDB),
			RevocationDriver: getEnv("REVOCATION_DRIVER", ""),
			Timeout:          getEnvAsDuration("STORE_TIMEOUT", 3*time.Second),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "us-east-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", "SocialTable"),
		},
		MongoDB: MongoDBConfig{
			URI:      getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database: getEnv("MONGODB_DATABASE", "social"),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			StandardAccessSecret:  getEnv("ACCESS_USER_TOKEN_SIGNATURE", ""),
			StandardRefreshSecret: getEnv("REFRESH_USER_TOKEN_SIGNATURE", ""),
			ElevatedAccessSecret:  getEnv("ACCESS_SYSTEM_TOKEN_SIGNATURE", ""),
			ElevatedRefreshSecret: getEnv("REFRESH_SYSTEM_TOKEN_SIGNATURE", ""),
			AccessExpiry:          getEnvAsSeconds("ACCESS_TOKEN_EXPIRES_IN", time.Hour),
			RefreshExpiry:         getEnvAsSeconds("REFRESH_TOKEN_EXPIRES_IN", 7*24*time.Hour),
		},
		Hash: HashConfig{
			Cost: getEnvAsInt("BCRYPT_COST", bcrypt.DefaultCost),
		},
		ResetCode: ResetCodeConfig{
			Length:      getEnvAsInt("RESET_CODE_LENGTH", 6),
			Expiry:      getEnvAsDuration("RESET_CODE_EXPIRY", 10*time.Minute),
			MaxAttempts: getEnvAsInt("RESET_CODE_MAX_ATTEMPTS", 5),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if err := c.JWT.validate(); err != nil {
		return err
	}

	switch c.Storage.Driver {
	case DriverDynamoDB, DriverMongoDB:
	default:
		return fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", DriverDynamoDB, DriverMongoDB, c.Storage.Driver)
	}

	switch c.LedgerDriver() {
	case DriverDynamoDB, DriverMongoDB, DriverRedis:
	default:
		return fmt.Errorf("unsupported REVOCATION_DRIVER %q", c.Storage.RevocationDriver)
	}

	if c.Storage.Timeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}

	if c.Hash.Cost < bcrypt.MinCost || c.Hash.Cost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	return nil
}

func (c JWTConfig) validate() error {
	secrets := []struct {
		env   string
		value string
	}{
		{"ACCESS_USER_TOKEN_SIGNATURE", c.StandardAccessSecret},
		{"REFRESH_USER_TOKEN_SIGNATURE", c.StandardRefreshSecret},
		{"ACCESS_SYSTEM_TOKEN_SIGNATURE", c.ElevatedAccessSecret},
		{"REFRESH_SYSTEM_TOKEN_SIGNATURE", c.ElevatedRefreshSecret},
	}

	seen := make(map[string]string, len(secrets))
	for _, s := range secrets {
		if s.value == "" {
			return fmt.Errorf("%s environment variable is required", s.env)
		}
		if len(s.value) < 32 {
			return fmt.Errorf("%s must be at least 32 bytes (256 bits)", s.env)
		}
		if other, ok := seen[s.value]; ok {
			return fmt.Errorf("%s must differ from %s", s.env, other)
		}
		seen[s.value] = s.env
	}

	if c.AccessExpiry <= 0 || c.RefreshExpiry <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	if c.AccessExpiry >= c.RefreshExpiry {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRES_IN must be shorter than REFRESH_TOKEN_EXPIRES_IN")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsSeconds reads a whole number of seconds.
func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
