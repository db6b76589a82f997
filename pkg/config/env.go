package config

import (
	"os"
	"strings"
)

// Environment constants
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// GetEnv returns the value of an environment variable or a default value if not set.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvironment returns the current environment (development, staging, production).
// Defaults to development if not set.
func GetEnvironment() string {
	env := GetEnv(EnvPrefix+"_SERVER_ENVIRONMENT", EnvDevelopment)
	return strings.ToLower(env)
}

// IsProductionLikeEnv reports whether env is staging or production.
func IsProductionLikeEnv(env string) bool {
	env = strings.ToLower(env)
	return env == EnvStaging || env == EnvProduction
}

// IsProductionLike returns true if the process runs in staging or production.
func IsProductionLike() bool {
	return IsProductionLikeEnv(GetEnvironment())
}

// IntegrationEnabled reports whether container-backed integration tests
// were requested via LARDER_INTEGRATION.
func IntegrationEnabled() bool {
	v := strings.ToLower(os.Getenv(EnvPrefix + "_INTEGRATION"))
	return v == "1" || v == "true" || v == "yes"
}
