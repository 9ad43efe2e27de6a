package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the three actors read from the environment.
type Config struct {
	RabbitConfig struct {
		Host     string `env:"RABBITMQ_HOST"`
		Port     string `env:"RABBITMQ_PORT"`
		User     string `env:"RABBITMQ_USER"`
		Password string `env:"RABBITMQ_PASS"`
		VHost    string `env:"RABBITMQ_VHOST"`
	}

	// MessageTTL is applied to the retry-enabled queues; a message sitting
	// unacknowledged past it is dead-lettered by the broker.
	MessageTTL time.Duration `env:"MESSAGE_TTL"`

	// DeadLetterMaxRetries bounds the resubmission loop. 0 retries forever,
	// which is the original behavior of this system.
	DeadLetterMaxRetries int64 `env:"DEAD_LETTER_MAX_RETRIES"`

	// AckBeforeDispatch makes the delivery actor acknowledge the confirmed
	// order before the transit simulation instead of after it.
	AckBeforeDispatch bool `env:"ACK_BEFORE_DISPATCH"`

	ConfirmDelayMin time.Duration `env:"CONFIRM_DELAY_MIN"`
	ConfirmDelayMax time.Duration `env:"CONFIRM_DELAY_MAX"`
	TransitDelayMin time.Duration `env:"TRANSIT_DELAY_MIN"`
	TransitDelayMax time.Duration `env:"TRANSIT_DELAY_MAX"`

	StoreCapacity  int `env:"ORDER_STORE_CAPACITY"`
	ConsumerBuffer int `env:"CONSUMER_BUFFER"`
}

// LoadConfig reads a .env file when present, then the environment, applying
// defaults for everything unset.
func LoadConfig() (*Config, error) {
	// Missing .env is fine; configuration may come from the environment alone.
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.RabbitConfig.Host = getEnvOrDefault("RABBITMQ_HOST", "localhost")
	cfg.RabbitConfig.Port = getEnvOrDefault("RABBITMQ_PORT", "5672")
	cfg.RabbitConfig.User = getEnvOrDefault("RABBITMQ_USER", "guest")
	cfg.RabbitConfig.Password = getEnvOrDefault("RABBITMQ_PASS", "guest")
	cfg.RabbitConfig.VHost = getEnvOrDefault("RABBITMQ_VHOST", "/")

	var err error
	if cfg.MessageTTL, err = getDurationOrDefault("MESSAGE_TTL", "30s"); err != nil {
		return nil, err
	}
	if cfg.ConfirmDelayMin, err = getDurationOrDefault("CONFIRM_DELAY_MIN", "3s"); err != nil {
		return nil, err
	}
	if cfg.ConfirmDelayMax, err = getDurationOrDefault("CONFIRM_DELAY_MAX", "15s"); err != nil {
		return nil, err
	}
	if cfg.TransitDelayMin, err = getDurationOrDefault("TRANSIT_DELAY_MIN", "15s"); err != nil {
		return nil, err
	}
	if cfg.TransitDelayMax, err = getDurationOrDefault("TRANSIT_DELAY_MAX", "25s"); err != nil {
		return nil, err
	}

	maxRetriesStr := getEnvOrDefault("DEAD_LETTER_MAX_RETRIES", "0")
	if cfg.DeadLetterMaxRetries, err = strconv.ParseInt(maxRetriesStr, 10, 64); err != nil {
		return nil, fmt.Errorf("invalid DEAD_LETTER_MAX_RETRIES: %w", err)
	}

	ackEarlyStr := getEnvOrDefault("ACK_BEFORE_DISPATCH", "true")
	if cfg.AckBeforeDispatch, err = strconv.ParseBool(ackEarlyStr); err != nil {
		return nil, fmt.Errorf("invalid ACK_BEFORE_DISPATCH: %w", err)
	}

	capacityStr := getEnvOrDefault("ORDER_STORE_CAPACITY", "1024")
	if cfg.StoreCapacity, err = strconv.Atoi(capacityStr); err != nil {
		return nil, fmt.Errorf("invalid ORDER_STORE_CAPACITY: %w", err)
	}

	bufferStr := getEnvOrDefault("CONSUMER_BUFFER", "1")
	if cfg.ConsumerBuffer, err = strconv.Atoi(bufferStr); err != nil {
		return nil, fmt.Errorf("invalid CONSUMER_BUFFER: %w", err)
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnvOrDefault(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// AMQPURL assembles the broker connection string.
func (c *Config) AMQPURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/%s",
		url.QueryEscape(c.RabbitConfig.User),
		url.QueryEscape(c.RabbitConfig.Password),
		c.RabbitConfig.Host,
		c.RabbitConfig.Port,
		url.QueryEscape(c.RabbitConfig.VHost))
}
