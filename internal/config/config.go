package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	PayWay   PayWayConfig
	Sweep    SweepConfig

	// ConfirmBaseURL is the customer-facing confirmation page; offer
	// mails append the reproduction token to it.
	ConfirmBaseURL string
}

type ServerConfig struct {
	Host string
	Port int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	User     string
	Password string
	Name     string
	Host     string
	Port     int
	SSLMode  string
}

type PayWayConfig struct {
	BaseURL string
	Project string
	// PassphraseOut signs what we send, PassphraseIn verifies what the
	// gateway sends back. They are distinct secrets.
	PassphraseOut string
	PassphraseIn  string
}

type SweepConfig struct {
	Interval    time.Duration
	RemindAfter time.Duration
	CancelAfter time.Duration
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	serverHost := os.Getenv("SERVER_HOST")
	if serverHost == "" {
		serverHost = "localhost"
	}

	serverPortStr := os.Getenv("SERVER_PORT")
	if serverPortStr == "" {
		serverPortStr = "8080"
	}

	serverPort, err := strconv.Atoi(serverPortStr)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid SERVER_PORT: %w", op, err)
	}

	serverCfg := ServerConfig{
		Host: serverHost,
		Port: serverPort,
	}

	postgresHost := os.Getenv("POSTGRES_HOST")
	if postgresHost == "" {
		postgresHost = "localhost"
	}

	postgresPortStr := os.Getenv("POSTGRES_PORT")
	if postgresPortStr == "" {
		postgresPortStr = "5432"
	}

	postgresPort, err := strconv.Atoi(postgresPortStr)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid POSTGRES_PORT: %w", op, err)
	}

	postgresUser := os.Getenv("POSTGRES_USER")
	if postgresUser == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_USER", op)
	}

	postgresPassword := os.Getenv("POSTGRES_PASSWORD")
	if postgresPassword == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_PASSWORD", op)
	}

	postgresDB := os.Getenv("POSTGRES_DB")
	if postgresDB == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_DB", op)
	}

	postgresSSLMode := os.Getenv("POSTGRES_SSLMODE")
	if postgresSSLMode == "" {
		postgresSSLMode = "disable"
	}

	postgresCfg := PostgresConfig{
		User:     postgresUser,
		Password: postgresPassword,
		Name:     postgresDB,
		Host:     postgresHost,
		Port:     postgresPort,
		SSLMode:  postgresSSLMode,
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	redisCfg := RedisConfig{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	}

	paywayBaseURL := os.Getenv("PAYWAY_BASE_URL")
	if paywayBaseURL == "" {
		return nil, fmt.Errorf("%s: missing PAYWAY_BASE_URL", op)
	}

	paywayProject := os.Getenv("PAYWAY_PROJECT")
	if paywayProject == "" {
		return nil, fmt.Errorf("%s: missing PAYWAY_PROJECT", op)
	}

	paywayPassOut := os.Getenv("PAYWAY_PASSPHRASE_OUT")
	if paywayPassOut == "" {
		return nil, fmt.Errorf("%s: missing PAYWAY_PASSPHRASE_OUT", op)
	}

	paywayPassIn := os.Getenv("PAYWAY_PASSPHRASE_IN")
	if paywayPassIn == "" {
		return nil, fmt.Errorf("%s: missing PAYWAY_PASSPHRASE_IN", op)
	}

	paywayCfg := PayWayConfig{
		BaseURL:       paywayBaseURL,
		Project:       paywayProject,
		PassphraseOut: paywayPassOut,
		PassphraseIn:  paywayPassIn,
	}

	sweepCfg := SweepConfig{}

	sweepCfg.Interval, err = envDuration("SWEEP_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sweepCfg.RemindAfter, err = envDuration("SWEEP_REMIND_AFTER", 14*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sweepCfg.CancelAfter, err = envDuration("SWEEP_CANCEL_AFTER", 30*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	confirmBaseURL := os.Getenv("CONFIRM_BASE_URL")
	if confirmBaseURL == "" {
		confirmBaseURL = fmt.Sprintf("http://%s:%d/reproductions/confirm", serverHost, serverPort)
	}

	return &Config{
		Server:         serverCfg,
		Postgres:       postgresCfg,
		Redis:          redisCfg,
		PayWay:         paywayCfg,
		Sweep:          sweepCfg,
		ConfirmBaseURL: confirmBaseURL,
	}, nil
}

func envDuration(name string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}

	return d, nil
}
