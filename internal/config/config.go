package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"reqshield/internal/models"
)

const envPrefix = "REQSHIELD_"

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnvironment(config)

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// knownSections are the top-level keys of a configuration file.
var knownSections = map[string]bool{
	"server":        true,
	"defense":       true,
	"storage":       true,
	"logging":       true,
	"metrics":       true,
	"observability": true,
	"admin":         true,
}

// warnUnknownSections logs a warning for each top-level key the service does
// not recognise. Startup continues; the main decoder ignores such keys.
func warnUnknownSections(data []byte) {
	var top map[string]yaml.Node
	if err := yaml.Unmarshal(data, &top); err != nil {
		return
	}
	for key := range top {
		if !knownSections[key] {
			slog.Warn("Unknown config section is ignored", "config_key", key)
		}
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnUnknownSections(data)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

func env(name string) string {
	return os.Getenv(envPrefix + name)
}

func envString(name string, dst *string) {
	if v := env(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := env(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		} else {
			slog.Warn("Ignoring invalid integer in environment", "variable", envPrefix+name)
		}
	}
}

func envFloat(name string, dst *float64) {
	if v := env(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		} else {
			slog.Warn("Ignoring invalid number in environment", "variable", envPrefix+name)
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := env(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		} else {
			slog.Warn("Ignoring invalid duration in environment", "variable", envPrefix+name)
		}
	}
}

func envBool(name string, dst *bool) {
	if v := env(name); v != "" {
		*dst = strings.ToLower(v) == "true"
	}
}

func envList(name string, dst *[]string) {
	v := env(name)
	if v == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

// loadFromEnvironment loads configuration from environment variables
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	envInt("PORT", &config.Server.Port)
	envString("HOST", &config.Server.Host)
	envDuration("READ_TIMEOUT", &config.Server.ReadTimeout)
	envDuration("WRITE_TIMEOUT", &config.Server.WriteTimeout)
	envDuration("IDLE_TIMEOUT", &config.Server.IdleTimeout)
	envBool("TLS_ENABLED", &config.Server.TLSEnabled)
	envString("TLS_CERT_FILE", &config.Server.TLSCertFile)
	envString("TLS_KEY_FILE", &config.Server.TLSKeyFile)
	envString("UPSTREAM_URL", &config.Server.UpstreamURL)
	envString("PRINCIPAL_HEADER", &config.Server.PrincipalHeader)

	// Defense configuration
	d := &config.Defense
	envBool("DEFENSE_ENABLED", &d.Enabled)
	envString("API_PREFIX", &d.APIPrefix)
	envList("ALLOWLIST", &d.Allowlist)

	envDuration("AUTH_WINDOW", &d.Auth.Window)
	envInt("AUTH_MAX_REQUESTS", &d.Auth.MaxRequests)
	envDuration("AUTH_PENALTY_BASE", &d.Auth.PenaltyBase)

	envDuration("UPLOAD_WINDOW", &d.Upload.Window)
	envInt("UPLOAD_BUCKET_SIZE", &d.Upload.BucketSize)
	envFloat("UPLOAD_REFILL_RATE", &d.Upload.RefillRate)

	envDuration("AI_WINDOW", &d.AIAnalysis.Window)
	envInt("AI_MAX_REQUESTS", &d.AIAnalysis.MaxRequests)

	envDuration("GENERAL_WINDOW", &d.General.Window)
	envInt("GENERAL_MAX_REQUESTS", &d.General.MaxRequests)

	envInt("VIOLATION_THRESHOLD", &d.ViolationThreshold)
	envDuration("QUARANTINE_DURATION", &d.QuarantineDuration)
	envDuration("VIOLATION_DECAY", &d.ViolationDecay)
	envInt("PENALTY_CAP", &d.PenaltyCap)
	envDuration("SWEEP_INTERVAL", &d.SweepInterval)
	envDuration("IDLE_TTL", &d.IdleTTL)

	// Storage configuration
	envString("STORAGE_TYPE", &config.Storage.Type)
	envString("STORAGE_PATH", &config.Storage.Path)
	envString("DATABASE_DSN", &config.Storage.DSN)
	envDuration("SNAPSHOT_INTERVAL", &config.Storage.SnapshotInterval)
	envString("REDIS_ADDR", &config.Storage.Redis.Addr)
	envString("REDIS_PASSWORD", &config.Storage.Redis.Password)
	envInt("REDIS_DB", &config.Storage.Redis.DB)
	envString("REDIS_KEY", &config.Storage.Redis.Key)

	// Logging configuration
	envString("LOG_LEVEL", &config.Logging.Level)
	envString("LOG_FORMAT", &config.Logging.Format)
	envString("LOG_OUTPUT", &config.Logging.Output)
	envString("LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics configuration
	envBool("METRICS_ENABLED", &config.Metrics.Enabled)
	envString("METRICS_PATH", &config.Metrics.Path)
	envInt("METRICS_PORT", &config.Metrics.Port)

	// Observability configuration
	envString("SERVICE_NAME", &config.Observability.ServiceName)
	envBool("TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	envString("TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	envString("OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
	envFloat("TRACING_SAMPLE_RATE", &config.Observability.Tracing.SampleRate)

	// Admin configuration
	envBool("ADMIN_ENABLED", &config.Admin.Enabled)
	envString("ADMIN_TOKEN", &config.Admin.Token)
}

// sectionComments head each top-level section of the example file.
var sectionComments = map[string]string{
	"server":        "HTTP listener and the upstream application requests are proxied to",
	"defense":       "Per-class limits, progressive penalties and quarantine",
	"storage":       "Snapshot backend for violation records and quarantined keys",
	"logging":       "Structured logging",
	"metrics":       "Prometheus metrics endpoint",
	"observability": "Tracing",
	"admin":         "Defense admin API, requires a bearer token when enabled",
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()
	config.Defense.Allowlist = []string{"127.0.0.1", "10.0.0.0/8"}
	config.Admin.Token = "change-me"
	config.Server.TLSCertFile = "/path/to/cert.pem"
	config.Server.TLSKeyFile = "/path/to/key.pem"

	var body yaml.Node
	if err := body.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	for i := 0; i+1 < len(body.Content); i += 2 {
		if comment, ok := sectionComments[body.Content[i].Value]; ok {
			body.Content[i].HeadComment = comment
		}
	}
	doc := &yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: "reqshield configuration. Every value can be overridden by a REQSHIELD_* environment variable.",
		Content:     []*yaml.Node{&body},
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// Write to file
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
