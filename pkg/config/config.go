// Package config loads daemon configuration from environment variables
// and the governance profile from YAML.
package config

import "os"

// Config holds server configuration.
type Config struct {
	Port         string
	LogLevel     string
	DatabasePath string
	OTLPEndpoint string
	OTLPEnabled  bool
	ProfilePath  string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "tiller.db"
	}

	otlpEndpoint := os.Getenv("OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	profilePath := os.Getenv("GOVERNANCE_PROFILE")
	if profilePath == "" {
		profilePath = "governance.yaml"
	}

	return &Config{
		Port:         port,
		LogLevel:     logLevel,
		DatabasePath: dbPath,
		OTLPEndpoint: otlpEndpoint,
		OTLPEnabled:  os.Getenv("OTLP_ENABLED") == "true",
		ProfilePath:  profilePath,
	}
}
