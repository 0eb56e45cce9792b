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
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_FillsDefaults(t *testing.T) {
	cfg := NewConfig("main", ConnectionConfig{Type: "sqlite", DBName: "data/main"})
	def := DefaultConnectionConfig()
	assert.Equal(t, "main", cfg.Name)
	assert.Equal(t, def.MaxOpenConns, cfg.Connection.MaxOpenConns)
	assert.Equal(t, def.ConnectTimeout, cfg.Connection.ConnectTimeout)
	assert.False(t, cfg.Connection.AutoCreate)

	assert.True(t, DefaultConfig().Connection.AutoCreate)
	assert.Equal(t, DefaultConfigName, DefaultConfig().Name)
	assert.True(t, DefaultConfig().IsSQLite())
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, NewSQLiteConfig("local", "local").Validate())

	var nilCfg *Config
	assert.Error(t, nilCfg.Validate())

	missingName := NewSQLiteConfig("", "local")
	assert.Error(t, missingName.Validate())

	badType := NewConfig("x", ConnectionConfig{Type: "oracle", DBName: "x"})
	assert.Error(t, badType.Validate())

	noHost := NewConfig("pg", ConnectionConfig{Type: "postgres", DBName: "app"})
	err := noHost.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host is required")

	pg := NewConfig("pg", ConnectionConfig{Type: "postgres", Host: "localhost", Port: 5432, DBName: "app", SSLMode: "disable"})
	assert.NoError(t, pg.Validate())

	badSSL := NewConfig("pg", ConnectionConfig{Type: "postgres", Host: "localhost", DBName: "app", SSLMode: "sometimes"})
	assert.Error(t, badSSL.Validate())
}

func TestConfig_StringMasksPassword(t *testing.T) {
	cfg := NewConfig("mysql", ConnectionConfig{Type: "mysql", Host: "db", DBName: "app", Username: "root", Password: "secret"})
	out := cfg.String()
	assert.Contains(t, out, "name: mysql")
	assert.Contains(t, out, "******")
	assert.NotContains(t, out, "secret")
	assert.Equal(t, "secret", cfg.Connection.Password)
}

func TestConfig_OverrideFromEnv(t *testing.T) {
	t.Setenv("DB_TYPE", "mysql")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "3307")
	t.Setenv("DB_NAME", "shop")
	t.Setenv("DB_AUTO_CREATE", "false")
	t.Setenv("DB_MAX_OPEN_CONNS", "7")
	t.Setenv("DB_PORT_IGNORED", "x")

	cfg := DefaultConfig()
	cfg.OverrideFromEnv()
	assert.Equal(t, "mysql", cfg.Connection.Type)
	assert.Equal(t, "db.internal", cfg.Connection.Host)
	assert.Equal(t, 3307, cfg.Connection.Port)
	assert.Equal(t, "shop", cfg.Connection.DBName)
	assert.False(t, cfg.Connection.AutoCreate)
	assert.Equal(t, 7, cfg.Connection.MaxOpenConns)
	assert.NoError(t, cfg.Validate())
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "file::memory:?cache=shared", sqliteDSN(":memory:"))
	assert.Equal(t, "data/app.db", sqliteDSN("data/app"))
	assert.Equal(t, "data/app.db", sqliteDSN("data/app.db"))
	assert.Equal(t, "file:test.db?mode=ro", sqliteDSN("file:test.db?mode=ro"))
}

const routingYAML = `
default: main
connections:
  main:
    type: sqlite
    dbname: data/main
    auto_create: true
  audit:
    type: postgres
    host: localhost
    port: 5432
    dbname: audit
models:
  audit: [AuditEvent]
`

func TestNetworkDSN(t *testing.T) {
	conn := ConnectionConfig{
		Host:           "db.local",
		Port:           3306,
		Username:       "app",
		Password:       "p@ss/word",
		DBName:         "shop",
		ConnectTimeout: 5 * time.Second,
	}

	dsn := mysqlDSN(conn)
	parsed, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "app", parsed.User)
	assert.Equal(t, "p@ss/word", parsed.Passwd)
	assert.Equal(t, "db.local:3306", parsed.Addr)
	assert.Equal(t, "shop", parsed.DBName)
	assert.True(t, parsed.ParseTime)
	assert.Equal(t, 5*time.Second, parsed.Timeout)

	conn.Port = 5432
	pg, err := url.Parse(postgresDSN(conn))
	require.NoError(t, err)
	assert.Equal(t, "postgres", pg.Scheme)
	assert.Equal(t, "db.local:5432", pg.Host)
	assert.Equal(t, "/shop", pg.Path)
	pass, _ := pg.User.Password()
	assert.Equal(t, "p@ss/word", pass)
	assert.Equal(t, "disable", pg.Query().Get("sslmode"))
	assert.Equal(t, "5", pg.Query().Get("connect_timeout"))
}

func TestParseRoutingConfig(t *testing.T) {
	routing, err := ParseRoutingConfig([]byte(routingYAML))
	require.NoError(t, err)
	assert.Equal(t, "main", routing.Default)
	assert.Equal(t, []string{"AuditEvent"}, routing.Models["audit"])

	configs := routing.Configs()
	require.Len(t, configs, 2)
	assert.Equal(t, "audit", configs["audit"].Name)
	assert.Equal(t, 5432, configs["audit"].Connection.Port)
	assert.True(t, configs["main"].Connection.AutoCreate)
	assert.Equal(t, DefaultConnectionConfig().MaxIdleConns, configs["main"].Connection.MaxIdleConns)
}

func TestParseRoutingConfig_Errors(t *testing.T) {
	_, err := ParseRoutingConfig([]byte("default: missing\nconnections: {}\n"))
	assert.Error(t, err)

	_, err = ParseRoutingConfig([]byte("connections:\n  a: {type: sqlite, dbname: a}\nmodels:\n  b: [X]\n"))
	assert.Error(t, err)

	_, err = ParseRoutingConfig([]byte("connections: [\n"))
	assert.Error(t, err)
}

func TestLoadRoutingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(routingYAML), 0o600))

	routing, err := LoadRoutingFile(path)
	require.NoError(t, err)
	assert.Len(t, routing.Connections, 2)

	_, err = LoadRoutingFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
