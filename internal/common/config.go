package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Redis     RedisConfig
	OCR       OCRConfig
	LLM       LLMConfig
	Firestore FirestoreConfig
	Fanout    FanoutConfig
}

// RedisConfig holds the event-channel configuration. Upload notifications are
// consumed from UploadsChannel; status events are published to EventsChannel.
type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	UploadsChannel string
	EventsChannel  string
}

// OCRConfig holds retry bounds for the text-extraction client.
type OCRConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Deadline     time.Duration
}

// LLMConfig holds Gemini-related configuration.
type LLMConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// FirestoreConfig holds persistence configuration.
type FirestoreConfig struct {
	ProjectID  string
	Collection string
}

// FanoutConfig holds the realtime fan-out server configuration.
type FanoutConfig struct {
	Addr         string
	WriteTimeout time.Duration
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Redis: RedisConfig{
			Addr:           getEnv("REDIS_ADDR", "localhost:6379"),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getEnvAsInt("REDIS_DB", 0),
			UploadsChannel: getEnv("UPLOADS_CHANNEL", "receipt-uploads"),
			EventsChannel:  getEnv("EVENTS_CHANNEL", "receipt-events"),
		},
		OCR: OCRConfig{
			MaxAttempts:  getEnvAsInt("OCR_MAX_ATTEMPTS", 5),
			InitialDelay: getEnvAsDuration("OCR_INITIAL_DELAY", 1*time.Second),
			MaxDelay:     getEnvAsDuration("OCR_MAX_DELAY", 60*time.Second),
			Deadline:     getEnvAsDuration("OCR_DEADLINE", 5*time.Minute),
		},
		LLM: LLMConfig{
			APIKey:      getEnv("GEMINI_API_KEY", ""),
			Model:       getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
			Temperature: getEnvAsFloat32("GEMINI_TEMPERATURE", 0.2),
			Timeout:     getEnvAsDuration("GEMINI_TIMEOUT", 45*time.Second),
		},
		Firestore: FirestoreConfig{
			ProjectID:  getEnv("FIRESTORE_PROJECT_ID", ""),
			Collection: getEnv("FIRESTORE_COLLECTION", "receipts"),
		},
		Fanout: FanoutConfig{
			Addr:         getEnv("FANOUT_ADDR", ":8765"),
			WriteTimeout: getEnvAsDuration("FANOUT_WRITE_TIMEOUT", 5*time.Second),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
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

// ValidatePipeline checks the settings the ingestion worker needs at startup.
func (c *Config) ValidatePipeline() error {
	if c.LLM.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "GEMINI_API_KEY is required", ErrInvalidInput)
	}
	if c.Firestore.ProjectID == "" {
		return NewAppError("CONFIG_ERROR", "FIRESTORE_PROJECT_ID is required", ErrInvalidInput)
	}
	if c.Redis.Addr == "" {
		return NewAppError("CONFIG_ERROR", "REDIS_ADDR is required", ErrInvalidInput)
	}
	return nil
}

// ValidateFanout checks the settings the fan-out server needs at startup.
func (c *Config) ValidateFanout() error {
	if c.Redis.Addr == "" {
		return NewAppError("CONFIG_ERROR", "REDIS_ADDR is required", ErrInvalidInput)
	}
	if c.Fanout.Addr == "" {
		return NewAppError("CONFIG_ERROR", "FANOUT_ADDR is required", ErrInvalidInput)
	}
	return nil
}
