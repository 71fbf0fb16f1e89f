package config

import (
	"os"
	"strconv"
	"time"
)

// DepositConfig holds the tunables of the deposit reconciliation engine.
type DepositConfig struct {
	// TTL is how long a pending deposit stays payable.
	TTL time.Duration
	// MatchWindow bounds how far back the listener searches for a pending
	// deposit when correlating an inbound payment by exact amount.
	MatchWindow time.Duration
	// SurchargeMin/SurchargeMax bound the random disambiguation surcharge.
	// The range caps the number of concurrently distinguishable pending
	// deposits, so widen it before raising deposit volume.
	SurchargeMin int64
	SurchargeMax int64
	// MaxSurchargeAttempts bounds retries when a drawn total collides with
	// another pending deposit.
	MaxSurchargeAttempts int
	// MaxIDAttempts bounds deposit-ID re-rolls on collision.
	MaxIDAttempts int
	// MaxPendingPerUser limits open deposits per user inside one TTL window.
	MaxPendingPerUser int
	// Template is the fallback QRIS base payload used when no active
	// template row exists. Must contain the amount placeholder.
	Template string
}

// ListenerConfig holds the payment-provider webhook settings.
type ListenerConfig struct {
	// APIKey is the shared secret the provider sends in X-Api-Key.
	APIKey string
}

// AdminConfig holds the operator channel settings.
type AdminConfig struct {
	// JWTSecret signs operator bearer tokens.
	JWTSecret string
	// NotifyURL, when set, receives fire-and-forget deposit event webhooks.
	NotifyURL string
}

func LoadDepositConfig() *DepositConfig {
	return &DepositConfig{
		TTL:                  getEnvAsDuration("DEPOSIT_TTL", 15*time.Minute),
		MatchWindow:          getEnvAsDuration("DEPOSIT_MATCH_WINDOW", 30*time.Minute),
		SurchargeMin:         getEnvAsInt64("DEPOSIT_SURCHARGE_MIN", 100),
		SurchargeMax:         getEnvAsInt64("DEPOSIT_SURCHARGE_MAX", 999),
		MaxSurchargeAttempts: getEnvAsInt("DEPOSIT_SURCHARGE_ATTEMPTS", 10),
		MaxIDAttempts:        getEnvAsInt("DEPOSIT_ID_ATTEMPTS", 10),
		MaxPendingPerUser:    getEnvAsInt("DEPOSIT_MAX_PENDING_PER_USER", 5),
		Template:             getEnv("QRIS_BASE_TEMPLATE", ""),
	}
}

func LoadListenerConfig() *ListenerConfig {
	return &ListenerConfig{
		APIKey: getEnv("LISTENER_API_KEY", ""),
	}
}

func LoadAdminConfig() *AdminConfig {
	return &AdminConfig{
		JWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		NotifyURL: getEnv("ADMIN_NOTIFY_URL", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
