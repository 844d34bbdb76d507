// Package models - Service configuration and operational settings.
// This file defines the configuration structures for every service component.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (server, defense, storage, etc.)
// - Defaults that mirror the production defense policy out of the box
// - Validation at startup so a bad policy never reaches the request path
package models

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// Storage type constants for defense state snapshots
const (
	StorageTypeMemory   = "memory"
	StorageTypeJSON     = "json"
	StorageTypeSQLite   = "sqlite"
	StorageTypePostgres = "postgres"
	StorageTypeRedis    = "redis"
)

// DefaultRedisSnapshotKey holds the snapshot when no redis key is configured.
const DefaultRedisSnapshotKey = "reqshield:defense:snapshot"

// Endpoint class names as they appear in configuration and route tables.
const (
	ClassAuth       = "auth"
	ClassUpload     = "upload"
	ClassAIAnalysis = "ai-analysis"
	ClassGeneral    = "general"
	ClassExempt     = "exempt"
)

// Config is the root configuration structure containing all service settings.
//
// Configuration Structure:
// - Server: HTTP listener, upstream and identity settings
// - Defense: Per-class limiter policy, penalties and quarantine
// - Storage: Optional snapshot persistence of violation state
// - Logging: Structured logging and output configuration
// - Metrics: Prometheus endpoint
// - Observability: Tracing
// - Admin: Defense admin API
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Defense       DefenseConfig       `yaml:"defense" json:"defense"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
	Admin         AdminConfig         `yaml:"admin" json:"admin"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`

	// UpstreamURL is the application the defense layer proxies to.
	UpstreamURL string `yaml:"upstream_url" json:"upstream_url"`

	// PrincipalHeader names a header set by a trusted upstream auth layer that
	// carries the authenticated user id. Empty disables header-based principals.
	PrincipalHeader string `yaml:"principal_header" json:"principal_header"`
}

// ClassConfig holds the limiter parameters of one endpoint class. Which
// fields apply depends on the class: auth and general use Window and
// MaxRequests, upload uses BucketSize and RefillRate over Window, and
// ai-analysis adds the adaptive steps.
type ClassConfig struct {
	Window       time.Duration `yaml:"window" json:"window"`
	MaxRequests  int           `yaml:"max_requests" json:"max_requests"`
	BucketSize   int           `yaml:"bucket_size,omitempty" json:"bucket_size,omitempty"`
	RefillRate   float64       `yaml:"refill_rate,omitempty" json:"refill_rate,omitempty"`
	PenaltyBase  time.Duration `yaml:"penalty_base" json:"penalty_base"`
	IncreaseStep int           `yaml:"increase_step,omitempty" json:"increase_step,omitempty"`
	DecreaseStep int           `yaml:"decrease_step,omitempty" json:"decrease_step,omitempty"`
	MaxIncrease  int           `yaml:"max_increase,omitempty" json:"max_increase,omitempty"`
}

// RouteConfig binds a path prefix to an endpoint class.
type RouteConfig struct {
	Prefix string `yaml:"prefix" json:"prefix"`
	Class  string `yaml:"class" json:"class"`
}

type DefenseConfig struct {
	Enabled            bool          `yaml:"enabled" json:"enabled"`
	APIPrefix          string        `yaml:"api_prefix" json:"api_prefix"`
	Auth               ClassConfig   `yaml:"auth" json:"auth"`
	Upload             ClassConfig   `yaml:"upload" json:"upload"`
	AIAnalysis         ClassConfig   `yaml:"ai_analysis" json:"ai_analysis"`
	General            ClassConfig   `yaml:"general" json:"general"`
	ViolationThreshold int           `yaml:"violation_threshold" json:"violation_threshold"`
	QuarantineDuration time.Duration `yaml:"quarantine_duration" json:"quarantine_duration"`
	ViolationDecay     time.Duration `yaml:"violation_decay" json:"violation_decay"`
	PenaltyCap         int           `yaml:"penalty_cap" json:"penalty_cap"`
	SweepInterval      time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
	IdleTTL            time.Duration `yaml:"idle_ttl" json:"idle_ttl"`
	Allowlist          []string      `yaml:"allowlist" json:"allowlist"`
	Routes             []RouteConfig `yaml:"routes" json:"routes"`
}

type StorageConfig struct {
	Type             string        `yaml:"type" json:"type"`
	Path             string        `yaml:"path" json:"path"`
	DSN              string        `yaml:"dsn" json:"dsn"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval" json:"snapshot_interval"`
	Redis            RedisConfig   `yaml:"redis" json:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	Key      string `yaml:"key" json:"key"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

type AdminConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Token   string `yaml:"token" json:"token"`
}

// NewDefaultConfig creates a configuration carrying the default defense policy:
// auth 5 per 15 minutes with a 15 minute progressive penalty, uploads through a
// 10 token bucket refilled at 5 per minute, AI analysis 20 per hour adaptive,
// and the general API 100 per 15 minutes scaled by the behavior score.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			UpstreamURL:  "http://127.0.0.1:5000",
		},
		Defense: NewDefaultDefenseConfig(),
		Storage: StorageConfig{
			Type:             StorageTypeMemory,
			SnapshotInterval: 5 * time.Minute,
			Redis: RedisConfig{
				Key: DefaultRedisSnapshotKey,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "reqshield",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

// NewDefaultDefenseConfig returns the default per-class policy.
func NewDefaultDefenseConfig() DefenseConfig {
	return DefenseConfig{
		Enabled:   true,
		APIPrefix: "/api",
		Auth: ClassConfig{
			Window:      15 * time.Minute,
			MaxRequests: 5,
			PenaltyBase: 15 * time.Minute,
		},
		Upload: ClassConfig{
			Window:     time.Minute,
			BucketSize: 10,
			RefillRate: 5,
		},
		AIAnalysis: ClassConfig{
			Window:       time.Hour,
			MaxRequests:  20,
			IncreaseStep: 5,
			DecreaseStep: 2,
			MaxIncrease:  15,
		},
		General: ClassConfig{
			Window:      15 * time.Minute,
			MaxRequests: 100,
		},
		ViolationThreshold: 5,
		QuarantineDuration: 24 * time.Hour,
		ViolationDecay:     24 * time.Hour,
		PenaltyCap:         10,
		SweepInterval:      time.Hour,
		IdleTTL:            24 * time.Hour,
		Allowlist:          []string{},
		Routes: []RouteConfig{
			{Prefix: "/api/login", Class: ClassAuth},
			{Prefix: "/api/register", Class: ClassAuth},
			{Prefix: "/api/forgot-password", Class: ClassAuth},
			{Prefix: "/api/upload", Class: ClassUpload},
			{Prefix: "/api/exams/upload", Class: ClassUpload},
			{Prefix: "/api/analyze", Class: ClassAIAnalysis},
			{Prefix: "/api/exams/quick-summary", Class: ClassAIAnalysis},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Defense.Validate(); err != nil {
		return fmt.Errorf("invalid defense config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	if c.Admin.Enabled && c.Admin.Token == "" {
		return errors.New("admin token is required when the admin API is enabled")
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	if sc.UpstreamURL == "" {
		return errors.New("upstream URL cannot be empty")
	}

	return nil
}

func (dc *DefenseConfig) Validate() error {
	if !dc.Enabled {
		return nil
	}

	if !strings.HasPrefix(dc.APIPrefix, "/") {
		return fmt.Errorf("api prefix must start with '/': %q", dc.APIPrefix)
	}

	if err := dc.Auth.validateWindow(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := dc.AIAnalysis.validateWindow(); err != nil {
		return fmt.Errorf("ai_analysis: %w", err)
	}
	if err := dc.General.validateWindow(); err != nil {
		return fmt.Errorf("general: %w", err)
	}

	if dc.Upload.Window <= 0 {
		return errors.New("upload: window must be positive")
	}
	if dc.Upload.BucketSize <= 0 {
		return errors.New("upload: bucket size must be positive")
	}
	if dc.Upload.RefillRate <= 0 {
		return errors.New("upload: refill rate must be positive")
	}

	if dc.AIAnalysis.IncreaseStep < 0 || dc.AIAnalysis.DecreaseStep < 0 || dc.AIAnalysis.MaxIncrease < 0 {
		return errors.New("ai_analysis: adaptive steps cannot be negative")
	}

	if dc.ViolationThreshold <= 0 {
		return errors.New("violation threshold must be positive")
	}
	if dc.QuarantineDuration <= 0 {
		return errors.New("quarantine duration must be positive")
	}
	if dc.ViolationDecay <= 0 {
		return errors.New("violation decay must be positive")
	}
	if dc.PenaltyCap <= 0 {
		return errors.New("penalty cap must be positive")
	}
	if dc.SweepInterval < 0 || dc.IdleTTL < 0 {
		return errors.New("sweep interval and idle ttl cannot be negative")
	}

	for _, entry := range dc.Allowlist {
		if _, err := ParseAllowlistEntry(entry); err != nil {
			return err
		}
	}

	validClasses := []string{ClassAuth, ClassUpload, ClassAIAnalysis, ClassGeneral, ClassExempt}
	for _, route := range dc.Routes {
		if !strings.HasPrefix(route.Prefix, "/") {
			return fmt.Errorf("route prefix must start with '/': %q", route.Prefix)
		}
		if !contains(validClasses, route.Class) {
			return fmt.Errorf("invalid endpoint class for route %s: %s", route.Prefix, route.Class)
		}
	}

	return nil
}

func (cc *ClassConfig) validateWindow() error {
	if cc.Window <= 0 {
		return errors.New("window must be positive")
	}
	if cc.MaxRequests < 0 {
		return errors.New("max requests cannot be negative")
	}
	if cc.PenaltyBase < 0 {
		return errors.New("penalty base cannot be negative")
	}
	return nil
}

// ParseAllowlistEntry accepts either a bare IP address or a CIDR prefix.
func ParseAllowlistEntry(entry string) (netip.Prefix, error) {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid allowlist prefix %q: %w", entry, err)
		}
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid allowlist address %q: %w", entry, err)
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func (stc *StorageConfig) Validate() error {
	switch stc.Type {
	case StorageTypeMemory:
	case StorageTypeJSON:
		if stc.Path == "" {
			return errors.New("path is required for JSON storage")
		}
	case StorageTypeSQLite, StorageTypePostgres:
		if stc.DSN == "" {
			return fmt.Errorf("database DSN is required for %s storage", stc.Type)
		}
	case StorageTypeRedis:
		if stc.Redis.Addr == "" {
			return errors.New("redis address is required for redis storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}

	if stc.SnapshotInterval < 0 {
		return errors.New("snapshot interval cannot be negative")
	}

	return nil
}

func (lc *LoggingConfig) Validate() error {
	if !contains([]string{"debug", "info", "warn", "error"}, lc.Level) {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	if !contains([]string{"json", "text"}, lc.Format) {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	if !contains([]string{"stdout", "stderr", "file"}, lc.Output) {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if !oc.Tracing.Enabled {
		return nil
	}

	if oc.ServiceName == "" {
		return errors.New("service name is required when tracing is enabled")
	}

	if !contains([]string{"stdout", "otlp"}, oc.Tracing.Exporter) {
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.Exporter == "otlp" && oc.Tracing.OTLPEndpoint == "" {
		return errors.New("otlp endpoint is required for the otlp exporter")
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}

	return nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
