/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultConfigName names the configuration used for unbound models.
const DefaultConfigName = "default"

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// NewConfig builds a named configuration from a connection config. Zero pool
// and timeout settings are filled from DefaultConnectionConfig.
func NewConfig(name string, conn ConnectionConfig) *Config {
	def := DefaultConnectionConfig()
	if conn.MaxIdleConns == 0 {
		conn.MaxIdleConns = def.MaxIdleConns
	}
	if conn.MaxOpenConns == 0 {
		conn.MaxOpenConns = def.MaxOpenConns
	}
	if conn.ConnMaxLifetime == 0 {
		conn.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if conn.ConnMaxIdleTime == 0 {
		conn.ConnMaxIdleTime = def.ConnMaxIdleTime
	}
	if conn.ConnectTimeout == 0 {
		conn.ConnectTimeout = def.ConnectTimeout
	}
	if conn.ReadTimeout == 0 {
		conn.ReadTimeout = def.ReadTimeout
	}
	if conn.WriteTimeout == 0 {
		conn.WriteTimeout = def.WriteTimeout
	}
	if conn.ReconnectInterval == 0 {
		conn.ReconnectInterval = def.ReconnectInterval
	}
	if conn.MaxReconnectTries == 0 {
		conn.MaxReconnectTries = def.MaxReconnectTries
	}
	return &Config{Name: name, Connection: conn}
}

// NewSQLiteConfig returns a configuration for a sqlite file at path (the
// ".db" suffix is added when missing) with table auto-creation enabled.
func NewSQLiteConfig(name, path string) *Config {
	return NewConfig(name, ConnectionConfig{
		Type:       "sqlite",
		DBName:     path,
		AutoCreate: true,
	})
}

// DefaultConfig is the fallback configuration: a sqlite file named "default"
// in the working directory.
func DefaultConfig() *Config {
	return NewSQLiteConfig(DefaultConfigName, DefaultConfigName)
}

// Validate checks the configuration against its struct tags and the
// dialect-specific requirements.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("database configuration cannot be empty")
	}
	if err := getValidator().Struct(c); err != nil {
		return fmt.Errorf("invalid database configuration %q: %w", c.Name, err)
	}
	switch c.Connection.Type {
	case "mysql", "postgres", "postgresql":
		if c.Connection.Host == "" {
			return fmt.Errorf("invalid database configuration %q: host is required for %s", c.Name, c.Connection.Type)
		}
	}
	return nil
}

// IsSQLite reports whether the configuration targets sqlite.
func (c *Config) IsSQLite() bool {
	return c.Connection.Type == "sqlite" || c.Connection.Type == "sqlite3"
}

// String renders the configuration as YAML with the password masked.
func (c *Config) String() string {
	masked := *c
	if masked.Connection.Password != "" {
		masked.Connection.Password = "******"
	}
	out, err := yaml.Marshal(&masked)
	if err != nil {
		return fmt.Sprintf("%s: <%v>", c.Name, err)
	}
	return strings.TrimRight(string(out), "\n")
}

// OverrideFromEnv overrides connection values from DB_* environment variables.
func (c *Config) OverrideFromEnv() {
	cfg := &c.Connection
	if typ := os.Getenv("DB_TYPE"); typ != "" {
		cfg.Type = typ
	}
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if username := os.Getenv("DB_USERNAME"); username != "" {
		cfg.Username = username
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}
	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.SSLMode = sslmode
	}
	if autoCreate := os.Getenv("DB_AUTO_CREATE"); autoCreate != "" {
		cfg.AutoCreate = autoCreate == "true" || autoCreate == "1"
	}
	// Connection pool config
	if maxIdle := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdle != "" {
		if val, err := strconv.Atoi(maxIdle); err == nil {
			cfg.MaxIdleConns = val
		}
	}
	if maxOpen := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpen != "" {
		if val, err := strconv.Atoi(maxOpen); err == nil {
			cfg.MaxOpenConns = val
		}
	}
	if maxLifetime := os.Getenv("DB_CONN_MAX_LIFETIME"); maxLifetime != "" {
		if val, err := strconv.Atoi(maxLifetime); err == nil {
			cfg.ConnMaxLifetime = time.Duration(val) * time.Second
		}
	}
	if enableQueryLog := os.Getenv("DB_ENABLE_QUERY_LOG"); enableQueryLog != "" {
		cfg.EnableQueryLog = enableQueryLog == "true"
	}
}

// ParseRoutingConfig decodes a routing document.
func ParseRoutingConfig(data []byte) (*RoutingConfig, error) {
	var routing RoutingConfig
	if err := yaml.Unmarshal(data, &routing); err != nil {
		return nil, fmt.Errorf("failed to parse routing config: %w", err)
	}
	if routing.Default != "" {
		if _, ok := routing.Connections[routing.Default]; !ok {
			return nil, fmt.Errorf("default connection %q is not declared", routing.Default)
		}
	}
	for conn := range routing.Models {
		if _, ok := routing.Connections[conn]; !ok {
			return nil, fmt.Errorf("models bound to undeclared connection %q", conn)
		}
	}
	return &routing, nil
}

// LoadRoutingFile reads and decodes a routing document from disk.
func LoadRoutingFile(path string) (*RoutingConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseRoutingConfig(data)
}

// Configs returns one Config per declared connection, keyed by name.
func (r *RoutingConfig) Configs() map[string]*Config {
	out := make(map[string]*Config, len(r.Connections))
	for name, conn := range r.Connections {
		out[name] = NewConfig(name, conn)
	}
	return out
}
