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
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
	"github.com/uptrace/bun/schema"
)

type defaultDatabaseManager struct {
	config          *Config
	db              *bun.DB
	sqlDB           *sql.DB
	notifier        *Notifier
	logger          Logger
	mu              sync.RWMutex
	connected       bool
	lastError       error
	lastHealthCheck time.Time
	healthStatus    *HealthStatus
	reconnectTries  int
	stopHealthCheck chan struct{}
	healthRunning   bool
}

// NewDatabaseManager returns an AbstractDatabaseManager backed by bun for
// the given configuration. A nil config selects DefaultConfig. The manager
// owns one Notifier for its whole lifetime, reconnects included.
func NewDatabaseManager(config *Config) AbstractDatabaseManager {
	if config == nil {
		config = DefaultConfig()
	}
	return &defaultDatabaseManager{
		config:          config,
		notifier:        NewNotifier(),
		logger:       GetLogger(),
		healthStatus: &HealthStatus{},
	}
}

func (dm *defaultDatabaseManager) Connect(ctx context.Context) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.connected && dm.db != nil {
		return nil
	}

	var err error
	dm.sqlDB, dm.db, err = dm.createConnection()
	if err != nil {
		dm.lastError = err
		return fmt.Errorf("failed to create database connection: %w", err)
	}

	dm.configureConnectionPool()

	ctxTimeout, cancel := context.WithTimeout(ctx, dm.connectTimeout())
	defer cancel()

	if err := dm.db.PingContext(ctxTimeout); err != nil {
		dm.lastError = err
		_ = dm.db.Close()
		dm.db, dm.sqlDB = nil, nil
		return fmt.Errorf("database connection test failed: %w", err)
	}

	dm.connected = true
	dm.lastError = nil
	dm.reconnectTries = 0

	if dm.config.Connection.HealthCheckInterval > 0 && !dm.config.IsSQLite() {
		dm.startHealthCheck()
	}

	if dm.logger != nil {
		dm.logger.Info("Database connected successfully",
			"config", dm.config.Name, "type", dm.config.Connection.Type, "dbname", dm.config.Connection.DBName)
	}
	return nil
}

// connectTimeout is the configured timeout, or 30s when unset. The shared
// configuration is never written.
func (dm *defaultDatabaseManager) connectTimeout() time.Duration {
	if t := dm.config.Connection.ConnectTimeout; t > 0 {
		return t
	}
	return 30 * time.Second
}

func (dm *defaultDatabaseManager) createConnection() (*sql.DB, *bun.DB, error) {
	conn := dm.config.Connection
	conn.ConnectTimeout = dm.connectTimeout()

	open, ok := openers[conn.Type]
	if !ok {
		return nil, nil, fmt.Errorf("unsupported database type: %s", conn.Type)
	}
	sqlDB, dialect, err := open(conn)
	if err != nil {
		return nil, nil, err
	}
	db := bun.NewDB(sqlDB, dialect)

	db.AddQueryHook(&changeHook{config: dm.config.Name, notifier: dm.notifier})
	if conn.EnableQueryLog {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.FromEnv("BUNDEBUG"),
		))
	}
	if conn.SlowQueryTime > 0 {
		db.AddQueryHook(&slowQueryHook{
			slowTime: conn.SlowQueryTime,
			logger:   dm.logger,
		})
	}
	return sqlDB, db, nil
}

type opener func(conn ConnectionConfig) (*sql.DB, schema.Dialect, error)

var openers = map[string]opener{
	"mysql":      openMySQL,
	"postgres":   openPostgres,
	"postgresql": openPostgres,
	"sqlite":     openSQLite,
	"sqlite3":    openSQLite,
}

func openMySQL(conn ConnectionConfig) (*sql.DB, schema.Dialect, error) {
	sqlDB, err := sql.Open("mysql", mysqlDSN(conn))
	if err != nil {
		return nil, nil, err
	}
	return sqlDB, mysqldialect.New(), nil
}

func mysqlDSN(conn ConnectionConfig) string {
	cfg := mysql.NewConfig()
	cfg.User = conn.Username
	cfg.Passwd = conn.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(conn.Host, strconv.Itoa(conn.Port))
	cfg.DBName = conn.DBName
	cfg.ParseTime = true
	cfg.Loc = time.Local
	cfg.Timeout = conn.ConnectTimeout
	cfg.ReadTimeout = conn.ReadTimeout
	cfg.WriteTimeout = conn.WriteTimeout
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

func openPostgres(conn ConnectionConfig) (*sql.DB, schema.Dialect, error) {
	sqlDB, err := sql.Open("postgres", postgresDSN(conn))
	if err != nil {
		return nil, nil, err
	}
	return sqlDB, pgdialect.New(), nil
}

func postgresDSN(conn ConnectionConfig) string {
	sslMode := conn.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	query := url.Values{}
	query.Set("sslmode", sslMode)
	query.Set("connect_timeout", strconv.Itoa(int(conn.ConnectTimeout.Seconds())))
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(conn.Username, conn.Password),
		Host:     net.JoinHostPort(conn.Host, strconv.Itoa(conn.Port)),
		Path:     "/" + conn.DBName,
		RawQuery: query.Encode(),
	}
	return u.String()
}

func openSQLite(conn ConnectionConfig) (*sql.DB, schema.Dialect, error) {
	sqlDB, err := sql.Open(sqliteshim.ShimName, sqliteDSN(conn.DBName))
	if err != nil {
		return nil, nil, err
	}
	return sqlDB, sqlitedialect.New(), nil
}

// sqliteDSN maps a configured sqlite name to a data source name: ":memory:"
// becomes a shared in-memory database, anything else a file with a ".db"
// suffix.
func sqliteDSN(name string) string {
	switch {
	case name == ":memory:":
		return "file::memory:?cache=shared"
	case strings.HasPrefix(name, "file:"), strings.HasSuffix(name, ".db"):
		return name
	default:
		return name + ".db"
	}
}

func (dm *defaultDatabaseManager) configureConnectionPool() {
	if dm.sqlDB == nil {
		return
	}
	conn := dm.config.Connection

	// sqlite serialises writers; a single connection keeps readers from
	// hitting SQLITE_BUSY and keeps a shared in-memory database alive.
	if dm.config.IsSQLite() {
		dm.sqlDB.SetMaxOpenConns(1)
		dm.sqlDB.SetMaxIdleConns(1)
		dm.sqlDB.SetConnMaxLifetime(0)
		dm.sqlDB.SetConnMaxIdleTime(0)
		return
	}

	dm.sqlDB.SetMaxIdleConns(conn.MaxIdleConns)
	dm.sqlDB.SetMaxOpenConns(conn.MaxOpenConns)
	dm.sqlDB.SetConnMaxLifetime(conn.ConnMaxLifetime)
	dm.sqlDB.SetConnMaxIdleTime(conn.ConnMaxIdleTime)
}

// CreateTables creates the tables of the given models when missing. Models
// are created in argument order.
func (dm *defaultDatabaseManager) CreateTables(ctx context.Context, models ...interface{}) error {
	db := dm.GetDB()
	if db == nil {
		return ErrNotConnected
	}
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			if is, kind := IsSqlError(err); is && kind == ExistTableErr {
				continue
			}
			return fmt.Errorf("failed to create table for %T: %w", model, err)
		}
		if dm.logger != nil {
			dm.logger.Debug("Table ensured", "config", dm.config.Name, "model", fmt.Sprintf("%T", model))
		}
	}
	return nil
}

func (dm *defaultDatabaseManager) Notifier() *Notifier {
	return dm.notifier
}

func (dm *defaultDatabaseManager) Disconnect() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	dm.stopHealthCheckLocked()

	if dm.db == nil {
		return nil
	}

	err := dm.db.Close()
	dm.db = nil
	dm.sqlDB = nil
	dm.connected = false

	if dm.logger != nil {
		if err != nil {
			dm.logger.Error("Failed to close database connection", "config", dm.config.Name, "error", err)
		} else {
			dm.logger.Info("Database connection closed", "config", dm.config.Name)
		}
	}
	return err
}

func (dm *defaultDatabaseManager) Reconnect(ctx context.Context) error {
	if dm.logger != nil {
		dm.logger.Info("Attempting to reconnect to the database", "config", dm.config.Name)
	}

	if err := dm.Disconnect(); err != nil && dm.logger != nil {
		dm.logger.Warn("Error disconnecting existing connection", "error", err)
	}
	return dm.Connect(ctx)
}

func (dm *defaultDatabaseManager) Ping(ctx context.Context) error {
	dm.mu.RLock()
	db := dm.db
	dm.mu.RUnlock()

	if db == nil {
		return ErrNotConnected
	}
	return db.PingContext(ctx)
}

func (dm *defaultDatabaseManager) GetDB() *bun.DB {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.db
}

func (dm *defaultDatabaseManager) GetSQLDB() *sql.DB {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.sqlDB
}

// HealthCheck pings the database. The ping runs without holding the
// manager lock so a busy connection cannot stall GetDB callers.
func (dm *defaultDatabaseManager) HealthCheck(ctx context.Context) *HealthStatus {
	dm.mu.RLock()
	db, sqlDB, connected := dm.db, dm.sqlDB, dm.connected
	dm.mu.RUnlock()

	start := time.Now()
	status := &HealthStatus{
		LastCheckTime: start,
		Connected:     connected,
	}
	if db == nil {
		status.LastError = "Database not initialized"
		return status
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	err := db.PingContext(ctxTimeout)
	status.ResponseTime = time.Since(start)
	if err != nil {
		status.Connected = false
		status.LastError = err.Error()
	} else {
		status.Healthy = true
		status.Connected = true
	}
	if sqlDB != nil {
		stats := sqlDB.Stats()
		status.ActiveConns = stats.InUse
		status.IdleConns = stats.Idle
		status.MaxOpenConns = stats.MaxOpenConnections
	}

	dm.mu.Lock()
	dm.lastError = err
	dm.healthStatus = status
	dm.lastHealthCheck = start
	dm.mu.Unlock()
	return status
}

// startHealthCheck starts the periodic check unless it already runs.
// Callers hold dm.mu.
func (dm *defaultDatabaseManager) startHealthCheck() {
	if dm.healthRunning {
		return
	}
	stop := make(chan struct{})
	dm.stopHealthCheck = stop
	dm.healthRunning = true
	interval := dm.config.Connection.HealthCheckInterval

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
				status := dm.HealthCheck(ctx)
				cancel()
				if !status.Healthy && dm.config.Connection.EnableReconnect {
					dm.handleReconnect()
				}
			case <-stop:
				return
			}
		}
	}()
}

// stopHealthCheckLocked ends the running check so the next Connect can
// start a fresh one. Callers hold dm.mu.
func (dm *defaultDatabaseManager) stopHealthCheckLocked() {
	if !dm.healthRunning {
		return
	}
	close(dm.stopHealthCheck)
	dm.healthRunning = false
}

func (dm *defaultDatabaseManager) handleReconnect() {
	conn := dm.config.Connection
	if dm.reconnectTries >= conn.MaxReconnectTries {
		if dm.logger != nil {
			dm.logger.Error("Max reconnect attempts reached, stopping", "tries", dm.reconnectTries)
		}
		return
	}

	dm.reconnectTries++
	if dm.logger != nil {
		dm.logger.Info("Starting database reconnect", "try", dm.reconnectTries)
	}

	time.Sleep(conn.ReconnectInterval)

	ctx, cancel := context.WithTimeout(context.Background(), dm.connectTimeout())
	defer cancel()

	if err := dm.Reconnect(ctx); err != nil {
		if dm.logger != nil {
			dm.logger.Error("Reconnect failed", "error", err, "try", dm.reconnectTries)
		}
		// Disconnect stopped this loop; keep checking until the tries run out.
		dm.mu.Lock()
		dm.startHealthCheck()
		dm.mu.Unlock()
		return
	}
	dm.reconnectTries = 0
	if dm.logger != nil {
		dm.logger.Info("Reconnect succeeded")
	}
}

func (dm *defaultDatabaseManager) GetStats() *DBStats {
	dm.mu.RLock()
	sqlDB := dm.sqlDB
	dm.mu.RUnlock()

	if sqlDB == nil {
		return &DBStats{}
	}

	stats := sqlDB.Stats()
	return &DBStats{
		MaxOpenConns:      stats.MaxOpenConnections,
		OpenConns:         stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		WaitCount:         stats.WaitCount,
		WaitDuration:      stats.WaitDuration,
		MaxIdleClosed:     stats.MaxIdleClosed,
		MaxIdleTimeClosed: stats.MaxIdleTimeClosed,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
	}
}

func (dm *defaultDatabaseManager) SetLogger(logger Logger) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.logger = logger
}
