package containerengine

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Config holds the connection settings for the Docker daemon the engine
// talks to.
type Config struct {
	// Host is the Docker daemon host (e.g. "unix:///var/run/docker.sock" or
	// "tcp://localhost:2375").
	Host string `json:"host"`

	// TLSVerify enables client TLS.
	TLSVerify bool `json:"tlsVerify,omitempty"`

	CertPEM string `json:"certPEM,omitempty"`
	KeyPEM  string `json:"keyPEM,omitempty"`
	CAPEM   string `json:"caPEM,omitempty"`

	// APIVersion pins the Docker API version; empty negotiates automatically.
	APIVersion string `json:"apiVersion,omitempty"`

	// Network is the bridge network job containers attach to.
	Network string `json:"network,omitempty"`

	// RegistryAuth holds registry credentials for private images.
	RegistryAuth *RegistryAuth `json:"registryAuth,omitempty"`
}

// RegistryAuth holds Docker registry authentication.
type RegistryAuth struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	ServerAddress string `json:"serverAddress,omitempty"`
}

// ValidateConfig checks required fields.
func ValidateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("containerengine config cannot be nil")
	}
	if config.Host == "" {
		return fmt.Errorf("host is required")
	}
	if config.TLSVerify {
		if config.CertPEM == "" || config.KeyPEM == "" || config.CAPEM == "" {
			return fmt.Errorf("cert_pem, key_pem and ca_pem are required when tls_verify is enabled")
		}
	}
	if config.RegistryAuth != nil {
		if config.RegistryAuth.Username == "" || config.RegistryAuth.Password == "" {
			return fmt.Errorf("registry_auth.username and registry_auth.password are required when registry_auth is set")
		}
	}
	return nil
}

// ConfigFromEnv builds a Config from RUNBOX_DOCKER_* environment variables,
// defaulting to the local Unix socket.
func ConfigFromEnv() *Config {
	host := os.Getenv("RUNBOX_DOCKER_HOST")
	if host == "" {
		host = "unix:///var/run/docker.sock"
	}
	cfg := &Config{
		Host:    host,
		Network: os.Getenv("RUNBOX_DOCKER_NETWORK"),
	}
	if os.Getenv("RUNBOX_DOCKER_TLS_VERIFY") == "true" {
		cfg.TLSVerify = true
		cfg.CertPEM = os.Getenv("RUNBOX_DOCKER_CERT_PEM")
		cfg.KeyPEM = os.Getenv("RUNBOX_DOCKER_KEY_PEM")
		cfg.CAPEM = os.Getenv("RUNBOX_DOCKER_CA_PEM")
	}
	return cfg
}

// ParseConfig parses Config from a generic map, e.g. loaded from JSON.
func ParseConfig(data map[string]interface{}) (*Config, error) {
	if data == nil {
		return nil, fmt.Errorf("config data cannot be nil")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse containerengine config: %w", err)
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("containerengine config validation failed: %w", err)
	}
	return &cfg, nil
}

// ExtractDockerHost extracts the bare hostname from the configured Docker
// host URL; loadTLSConfig uses it as the TLS server name.
func (c *Config) ExtractDockerHost() string {
	return extractDockerHostFromURL(c.Host)
}

func extractDockerHostFromURL(hostURL string) string {
	if strings.HasPrefix(hostURL, "tcp://") {
		hostStr := strings.TrimPrefix(hostURL, "tcp://")
		if idx := strings.LastIndex(hostStr, ":"); idx > 0 {
			hostStr = hostStr[:idx]
		}
		return hostStr
	}
	if strings.HasPrefix(hostURL, "unix://") {
		return "localhost"
	}
	return hostURL
}
