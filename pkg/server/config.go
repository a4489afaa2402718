package server

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Mode selects which role this process runs.
type Mode string

const (
	ModeCoordinator Mode = "coordinator"
	ModeShare       Mode = "share"
)

// Config holds server configuration settings
type Config struct {
	Mode    Mode   // Process role: coordinator or share
	NodeID  string // Share node identifier ("A" or "B"), share role only
	Host    string // Server host address
	Port    int    // Server port
	DataDir string // Data directory for collection snapshots

	HMACKey       []byte        // Shared transport signing key (>= 32 bytes recommended)
	ShareNodeAURL string        // Base URL of share node A, coordinator role only
	ShareNodeBURL string        // Base URL of share node B, coordinator role only
	HTTPTimeout   time.Duration // Outbound signed-call timeout

	ReadTimeout    time.Duration // HTTP read timeout
	WriteTimeout   time.Duration // HTTP write timeout
	IdleTimeout    time.Duration // HTTP idle timeout
	MaxRequestSize int64         // Maximum request body size in bytes

	EnableCORS     bool     // Enable CORS middleware
	AllowedOrigins []string // CORS allowed origins
	EnableLogging  bool     // Enable request logging

	// TLS/SSL configuration
	EnableTLS   bool   // Enable TLS/SSL
	TLSCertFile string // Path to TLS certificate file
	TLSKeyFile  string // Path to TLS private key file

	// GraphQL configuration (coordinator role only)
	EnableGraphQL bool // Enable the read-only GraphQL endpoint
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Mode:           ModeCoordinator,
		Host:           "localhost",
		Port:           8080,
		DataDir:        "./data",
		HTTPTimeout:    10 * time.Second,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxRequestSize: 1 * 1024 * 1024, // 1MB; ballot payloads are tiny
		EnableCORS:     true,
		AllowedOrigins: []string{"*"},
		EnableLogging:  true,
		EnableTLS:      false,
		EnableGraphQL:  false, // opt-in feature
	}
}

// FromEnv overlays environment variables onto the defaults.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("NODE_ID"); v != "" {
		cfg.NodeID = v
	}
	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Port = p
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("HMAC_KEY"); v != "" {
		cfg.HMACKey = []byte(v)
	}
	if v := os.Getenv("SHARE_NODE_A_URL"); v != "" {
		cfg.ShareNodeAURL = v
	}
	if v := os.Getenv("SHARE_NODE_B_URL"); v != "" {
		cfg.ShareNodeBURL = v
	}
	if v := os.Getenv("HTTP_TIMEOUT"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("invalid HTTP_TIMEOUT %q", v)
		}
		cfg.HTTPTimeout = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("ALLOW_COORD_ORIGIN"); v != "" {
		cfg.AllowedOrigins = []string{v}
	}
	if os.Getenv("ENABLE_GRAPHQL") == "true" {
		cfg.EnableGraphQL = true
	}

	return cfg, nil
}

// Validate checks role-specific requirements.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeCoordinator:
		if c.ShareNodeAURL == "" || c.ShareNodeBURL == "" {
			return fmt.Errorf("coordinator mode requires SHARE_NODE_A_URL and SHARE_NODE_B_URL")
		}
	case ModeShare:
		if c.NodeID != "A" && c.NodeID != "B" {
			return fmt.Errorf("share mode requires NODE_ID of A or B, got %q", c.NodeID)
		}
	default:
		return fmt.Errorf("invalid MODE %q: want coordinator or share", c.Mode)
	}

	if len(c.HMACKey) == 0 {
		return fmt.Errorf("HMAC_KEY is required")
	}
	if c.EnableTLS && (c.TLSCertFile == "" || c.TLSKeyFile == "") {
		return fmt.Errorf("TLS enabled but certificate or key file not specified")
	}
	return nil
}
