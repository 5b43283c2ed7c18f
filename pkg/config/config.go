package config

import "os"

// Config holds kernel runtime configuration.
type Config struct {
	ConstitutionPath string
	Archetype        string
	LedgerDBPath     string
	LogLevel         string
	OTLPEndpoint     string
	TelemetryEnabled bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	constitutionPath := os.Getenv("COVENANT_CONSTITUTION")
	if constitutionPath == "" {
		constitutionPath = "configs/constitution.json"
	}

	archetype := os.Getenv("COVENANT_ARCHETYPE")
	if archetype == "" {
		archetype = "managerial"
	}

	// Empty keeps the ledger in memory only.
	ledgerPath := os.Getenv("COVENANT_LEDGER_DB")

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	otlpEndpoint := os.Getenv("OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	telemetry := os.Getenv("COVENANT_TELEMETRY") == "true"

	return &Config{
		ConstitutionPath: constitutionPath,
		Archetype:        archetype,
		LedgerDBPath:     ledgerPath,
		LogLevel:         logLevel,
		OTLPEndpoint:     otlpEndpoint,
		TelemetryEnabled: telemetry,
	}
}
