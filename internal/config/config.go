package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port     int
	LogLevel string
	DevMode  bool

	// Quantum runtime service credentials. An empty token is not an error;
	// it silently selects the simulator fallback path.
	QuantumToken      string
	QuantumChannel    string
	QuantumInstance   string
	QuantumRuntimeURL string

	// Backend resource manager tuning
	PreferHardware      bool
	EnableManagedSim    bool
	ManagedSimBackend   string
	MaxRetries          int
	PricePerShot        float64
	DefaultShots        int
	JobPollInterval     time.Duration
	JobPollTimeout      time.Duration

	// Optimizer tuning
	RiskAversion  float64
	QAOALayers    int
	MaxIterations int

	// Scheduled re-optimization ("" disables)
	RebalanceSchedule string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnvAsInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		QuantumToken:      getEnv("QUANTUM_TOKEN", ""),
		QuantumChannel:    getEnv("QUANTUM_CHANNEL", "ibm_quantum"),
		QuantumInstance:   getEnv("QUANTUM_INSTANCE", ""),
		QuantumRuntimeURL: getEnv("QUANTUM_RUNTIME_URL", "https://runtime.quantum.example.com"),

		PreferHardware:    getEnvAsBool("PREFER_HARDWARE", false),
		EnableManagedSim:  getEnvAsBool("ENABLE_MANAGED_SIMULATOR", false),
		ManagedSimBackend: getEnv("MANAGED_SIMULATOR_BACKEND", "managed_simulator"),
		MaxRetries:        getEnvAsInt("MAX_RETRIES", 3),
		PricePerShot:      getEnvAsFloat("PRICE_PER_SHOT", 1e-4),
		DefaultShots:      getEnvAsInt("DEFAULT_SHOTS", 2048),
		JobPollInterval:   getEnvAsDuration("JOB_POLL_INTERVAL", 5*time.Second),
		JobPollTimeout:    getEnvAsDuration("JOB_POLL_TIMEOUT", 10*time.Minute),

		RiskAversion:  getEnvAsFloat("RISK_AVERSION", 0.5),
		QAOALayers:    getEnvAsInt("QAOA_LAYERS", 2),
		MaxIterations: getEnvAsInt("OPTIMIZER_MAX_ITERATIONS", 200),

		RebalanceSchedule: getEnv("REBALANCE_SCHEDULE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if the configuration is usable
func (c *Config) Validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be at least 1")
	}
	if c.RiskAversion < 0 || c.RiskAversion > 1 {
		return fmt.Errorf("RISK_AVERSION must be between 0 and 1")
	}
	if c.QAOALayers < 1 {
		return fmt.Errorf("QAOA_LAYERS must be positive")
	}
	if c.DefaultShots < 1 {
		return fmt.Errorf("DEFAULT_SHOTS must be positive")
	}

	// Note: QuantumToken is intentionally optional. Without it the backend
	// manager never reaches the hardware tier and uses the local simulator.
	return nil
}

// Helper functions
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
