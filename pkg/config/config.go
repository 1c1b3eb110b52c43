package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"os"
)

// Config holds all configuration for the ledger service.
type Config struct {
	// Server configuration
	ListenAddr  string
	MetricsAddr string
	HealthAddr  string
	LogLevel    string

	// Database configuration (individual fields, consumed by database.NewClient)
	DatabaseURL         string
	DBMaxOpenConns      int
	DBMaxIdleConns      int
	DBConnMaxIdleTime   time.Duration
	DBConnMaxLifetime   time.Duration
	DatabaseRequired    bool

	// Chain configuration
	DataDir           string // base directory for key files and off-chain blobs
	GenesisSignerPath string // path to the hardcoded genesis authorized-key file
	InlineContentCap  int    // bytes; content at or below this size is stored inline on the block

	// Off-chain blob store
	OffChainRoot string // root directory for content-addressed blobs

	// Encryption configuration
	PBKDF2Iterations int    // KDF iterations for password-derived keys
	PBKDF2SaltLen    int    // bytes
	AESNonceLen      int    // bytes, GCM standard nonce size
	KeyDerivationTTL time.Duration // loaded from env; the key-derivation LRU cache has no TTL and does not read it

	// Two-layer index
	IndexDir string // root directory for the cometbft-db backed index

	// Indexing coordinator
	IndexMinInterval time.Duration // minimum interval between automatic reindex runs
	IndexTestMode    bool          // when true, the coordinator skips every rebuild request that is not forced

	// Recovery / integrity reporting
	RecoveryMaxResults         int // capacity guard on integrity report results
	RecoveryMaxMetadataEntries int // capacity guard on integrity report metadata

	// Firestore checkpoint mirror (optional, best-effort)
	FirestoreEnabled        bool
	FirebaseProjectID       string
	FirebaseCredentialsFile string
}

// Load reads configuration from environment variables. Required values have
// no defaults; call Validate after Load to confirm the configuration is
// usable before starting the service.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  getEnv("LISTEN_ADDR", "0.0.0.0:8080"),
		MetricsAddr: getEnv("METRICS_ADDR", "0.0.0.0:9090"),
		HealthAddr:  getEnv("HEALTH_ADDR", "0.0.0.0:8081"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		DatabaseURL:       getEnv("DATABASE_URL", ""),
		DBMaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		DBConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", time.Hour),
		DatabaseRequired:  getEnvBool("DATABASE_REQUIRED", true),

		DataDir:           getEnv("DATA_DIR", "./data"),
		GenesisSignerPath: getEnv("GENESIS_SIGNER_PATH", "./data/genesis.key"),
		InlineContentCap:  getEnvInt("INLINE_CONTENT_CAP", 1048576),

		OffChainRoot: getEnv("OFFCHAIN_ROOT", "./data/blobs"),

		PBKDF2Iterations: getEnvInt("PBKDF2_ITERATIONS", 210000),
		PBKDF2SaltLen:    getEnvInt("PBKDF2_SALT_LEN", 16),
		AESNonceLen:      getEnvInt("AES_NONCE_LEN", 12),
		KeyDerivationTTL: getEnvDuration("KEY_DERIVATION_TTL", 10*time.Minute),

		IndexDir: getEnv("INDEX_DIR", "./data/index"),

		IndexMinInterval: getEnvDuration("INDEX_MIN_INTERVAL", 30*time.Second),
		IndexTestMode:    getEnvBool("INDEX_TEST_MODE", false),

		RecoveryMaxResults:         getEnvInt("RECOVERY_MAX_RESULTS", 100000),
		RecoveryMaxMetadataEntries: getEnvInt("RECOVERY_MAX_METADATA_ENTRIES", 50),

		FirestoreEnabled:        getEnvBool("FIRESTORE_ENABLED", false),
		FirebaseProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseCredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and internally
// consistent. Call after Load, before starting the service.
func (c *Config) Validate() error {
	var errs []string

	if c.DatabaseRequired && c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required but not set")
	}
	if c.InlineContentCap < 0 {
		errs = append(errs, "INLINE_CONTENT_CAP must not be negative")
	}
	if c.PBKDF2Iterations < 1000 {
		errs = append(errs, "PBKDF2_ITERATIONS is too low for secure key derivation")
	}
	if c.PBKDF2SaltLen < 8 {
		errs = append(errs, "PBKDF2_SALT_LEN must be at least 8 bytes")
	}
	if c.AESNonceLen != 12 {
		errs = append(errs, "AES_NONCE_LEN must be 12 bytes for GCM")
	}
	if c.IndexMinInterval < 0 {
		errs = append(errs, "INDEX_MIN_INTERVAL must not be negative")
	}
	if c.RecoveryMaxResults <= 0 {
		errs = append(errs, "RECOVERY_MAX_RESULTS must be positive")
	}
	if c.RecoveryMaxMetadataEntries <= 0 {
		errs = append(errs, "RECOVERY_MAX_METADATA_ENTRIES must be positive")
	}
	if c.FirestoreEnabled && c.FirebaseProjectID == "" {
		errs = append(errs, "FIREBASE_PROJECT_ID is required when FIRESTORE_ENABLED is true")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateForDevelopment performs relaxed validation suitable for local
// development and tests. Do not use in production.
func (c *Config) ValidateForDevelopment() error {
	if c.PBKDF2Iterations < 1 {
		return fmt.Errorf("development configuration validation failed:\n  - PBKDF2_ITERATIONS must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
