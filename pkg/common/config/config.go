package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server
	ServerPort     string `yaml:"server_port"`
	ServerHost     string `yaml:"server_host"`
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database
	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     string `yaml:"postgres_port"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresDB       string `yaml:"postgres_db"`
	PostgresSSLMode  string `yaml:"postgres_sslmode"`

	// Redis
	RedisHost     string `yaml:"redis_host"`
	RedisPort     string `yaml:"redis_port"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Kafka
	KafkaBrokers    []string `yaml:"kafka_brokers"`
	KafkaGroupID    string   `yaml:"kafka_group_id"`
	AuditEventTopic string   `yaml:"audit_event_topic"`

	// Algorithm service
	AlgorithmBaseURL string `yaml:"algorithm_base_url"`
	AlgorithmTimeout time.Duration

	// File service (object storage)
	FileServerURL     string `yaml:"file_server_url"`
	FileServerTimeout time.Duration

	// Auth
	JWTSecret     string `yaml:"jwt_secret"`
	JWTIssuer     string `yaml:"jwt_issuer"`
	JWTTTL        time.Duration
	InternalToken string `yaml:"internal_token"`
	SystemUserID  int64  `yaml:"system_user_id"`
}

// Load builds the configuration from environment variables, optionally
// overlaid by a YAML file named in CONFIG_FILE.
func Load() (*Config, error) {
	cfg := &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 256*1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "medical"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "medical123"),
		PostgresDB:       getEnv("POSTGRES_DB", "medical"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:    getStringSliceEnv("KAFKA_BROKERS", nil),
		KafkaGroupID:    getEnv("KAFKA_GROUP_ID", "medical-backend"),
		AuditEventTopic: getEnv("AUDIT_EVENT_TOPIC", "medical.audit"),

		AlgorithmBaseURL: getEnv("ALGORITHM_BASE_URL", "http://localhost:5000/api"),
		AlgorithmTimeout: getDuration("ALGORITHM_TIMEOUT", 10*time.Second),

		FileServerURL:     getEnv("FILE_SERVER_URL", "http://localhost:9000"),
		FileServerTimeout: getDuration("FILE_SERVER_TIMEOUT", 60*time.Second),

		JWTSecret:     getEnv("JWT_SECRET", "medical-backend-dev-secret"),
		JWTIssuer:     getEnv("JWT_ISSUER", "medical-backend"),
		JWTTTL:        getDuration("JWT_TTL", 24*time.Hour),
		InternalToken: getEnv("INTERNAL_TOKEN", ""),
		SystemUserID:  int64(getIntEnv("SYSTEM_USER_ID", 1)),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(content, c)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
