package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the disburser needs from its environment.
// Signer identity and ledger endpoints are explicit here and threaded into
// the adapters; nothing reads ambient state at call time.
type Config struct {
	Port   string
	DBPath string

	// Ledger gateways.
	MeridianGatewayURL    string
	MeridianSourceAccount string
	KoraRPCURL            string
	KoraContract          string
	KoraSenderAccount     string

	// Collaborator services.
	WalletURL   string
	RecorderURL string

	// Settlement.
	PayerIdentity string
	SubmitTimeout time.Duration

	// Plan currency.
	Currency string
}

func Load() (*Config, error) {
	// Load .env if present; a missing file is fine.
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnvDefault("PORT", "8080"),
		DBPath:                getEnvDefault("DB_PATH", "disburser.db"),
		MeridianGatewayURL:    getEnvDefault("MERIDIAN_GATEWAY_URL", "http://localhost:8500"),
		MeridianSourceAccount: os.Getenv("MERIDIAN_SOURCE_ACCOUNT"),
		KoraRPCURL:            getEnvDefault("KORA_RPC_URL", "http://localhost:8600"),
		KoraContract:          getEnvDefault("KORA_CONTRACT", "donations.registry"),
		KoraSenderAccount:     os.Getenv("KORA_SENDER_ACCOUNT"),
		WalletURL:             getEnvDefault("WALLET_URL", "http://localhost:8700/sign"),
		RecorderURL:           os.Getenv("RECORDER_URL"),
		PayerIdentity:         getEnvDefault("PAYER_IDENTITY", "anonymous"),
		Currency:              getEnvDefault("PLAN_CURRENCY", "USD"),
	}

	timeout, err := time.ParseDuration(getEnvDefault("SUBMIT_TIMEOUT", "90s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SUBMIT_TIMEOUT: %w", err)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("SUBMIT_TIMEOUT must be positive")
	}
	cfg.SubmitTimeout = timeout

	if cfg.MeridianSourceAccount == "" {
		return nil, fmt.Errorf("MERIDIAN_SOURCE_ACCOUNT is required")
	}
	if cfg.KoraSenderAccount == "" {
		return nil, fmt.Errorf("KORA_SENDER_ACCOUNT is required")
	}

	return cfg, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
