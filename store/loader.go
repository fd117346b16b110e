package store

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConnectionStringEnv is consulted by LoadConfig when the file has no endpoint or key.
const ConnectionStringEnv = "DOCSTORE_CONNECTION_STRING"

const (
	endpointKey = "AccountEndpoint"
	accountKey  = "AccountKey"
)

// LoadConfig reads a YAML configuration file. Environment variables referenced as
// ${NAME} are expanded before parsing. When endpoint or key are missing, they are
// taken from the connection string in DOCSTORE_CONNECTION_STRING.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration content. See LoadConfig.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	if !cfg.HasEndpointAndKey() {
		if cs := os.Getenv(ConnectionStringEnv); cs != "" {
			endpoint, key, err := ParseConnectionString(cs)
			if err != nil {
				return Config{}, err
			}
			cfg.Endpoint, cfg.Key = endpoint, key
		}
	}

	return cfg.withDefaults(), nil
}

// ParseConnectionString extracts the endpoint and key from a connection string of
// the form "AccountEndpoint=https://...;AccountKey=...;". Key names are case insensitive.
func ParseConnectionString(cs string) (endpoint, key string, err error) {
	if strings.TrimSpace(cs) == "" {
		return "", "", configError("connection string", "is missing")
	}

	values := make(map[string]string)
	for _, part := range strings.Split(cs, ";") {
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		values[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}

	endpoint = values[strings.ToLower(endpointKey)]
	if endpoint == "" {
		return "", "", configError(endpointKey, "is missing from the connection string")
	}
	key = values[strings.ToLower(accountKey)]
	if key == "" {
		return "", "", configError(accountKey, "is missing from the connection string")
	}
	return endpoint, key, nil
}
