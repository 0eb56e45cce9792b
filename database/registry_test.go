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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

type widget struct {
	bun.BaseModel `bun:"table:widgets"`

	ID   int64  `bun:"id,pk"`
	Name string `bun:"name"`
}

type gadget struct {
	bun.BaseModel `bun:"table:gadgets"`

	ID int64 `bun:"id,pk"`
}

type routedWidget struct {
	bun.BaseModel `bun:"table:routed_widgets"`

	ID int64 `bun:"id,pk"`
}

func sqliteConfig(t *testing.T, name string) *Config {
	t.Helper()
	return NewSQLiteConfig(name, filepath.Join(t.TempDir(), name))
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.SetDefaultConfig(sqliteConfig(t, "fallback")))
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestModelType(t *testing.T) {
	want := ModelType(widget{})
	assert.Equal(t, "widget", want.Name())
	assert.Equal(t, want, ModelType(&widget{}))
	assert.Equal(t, want, ModelType((*widget)(nil)))
	assert.Equal(t, want, ModelType([]*widget{}))
	assert.Equal(t, want, ModelType(want))
	assert.Equal(t, want, ModelType(NewModelAdapter(&widget{}, 3)))
	assert.Nil(t, ModelType(nil))
	assert.Equal(t, "widget", ModelName(&widget{}))
}

func TestModelRegistry(t *testing.T) {
	r := newModelRegistry()
	r.Register(NewModelAdapter(&gadget{}, 2))
	r.Register(NewModelAdapter(&widget{}, 1))
	r.Register(NewModelAdapter(&widget{}, 0))

	models := r.Models()
	require.Len(t, models, 2)
	assert.Equal(t, "widget", ModelName(models[0].Instance()))
	assert.Equal(t, 0, models[0].Priority())

	m, ok := r.Lookup("gadget")
	require.True(t, ok)
	assert.Equal(t, 2, m.Priority())
	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}

func TestRegistry_FindConfigFallsBackToDefault(t *testing.T) {
	r := newTestRegistry(t)
	cfg := r.FindConfig(&widget{})
	assert.Same(t, r.DefaultConfig(), cfg)

	// the binding sticks even when the default changes later
	require.NoError(t, r.SetDefaultConfig(sqliteConfig(t, "other")))
	assert.Same(t, cfg, r.FindConfig(widget{}))
	assert.NotSame(t, cfg, r.FindConfig(&gadget{}))
}

func TestRegistry_InitModule(t *testing.T) {
	r := newTestRegistry(t)
	shop := sqliteConfig(t, "shop")
	require.NoError(t, r.InitModule(shop, &widget{}, &gadget{}))
	assert.Same(t, shop, r.FindConfig(&widget{}))
	assert.Same(t, shop, r.FindConfig((*gadget)(nil)))

	other := sqliteConfig(t, "other")
	require.NoError(t, r.Init(&gadget{}, other))
	assert.Same(t, other, r.FindConfig(&gadget{}))
	assert.Same(t, shop, r.FindConfig(&widget{}))
}

func TestRegistry_InitRejectsInvalid(t *testing.T) {
	r := newTestRegistry(t)
	assert.Error(t, r.InitModule(NewConfig("", ConnectionConfig{Type: "sqlite", DBName: "x"}), &widget{}))
	assert.ErrorIs(t, r.InitModule(sqliteConfig(t, "empty")), ErrInvalidArgument)
	assert.ErrorIs(t, r.Init(42, sqliteConfig(t, "int")), ErrInvalidArgument)
}

func TestRegistry_DBCreatesTablesAndSharesManager(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	r.Debug = true
	shop := sqliteConfig(t, "shop")
	require.NoError(t, r.InitModule(shop, &widget{}, &gadget{}))

	db, err := r.DB(ctx, &widget{})
	require.NoError(t, err)

	_, err = db.NewInsert().Model(&widget{ID: 1, Name: "bolt"}).Exec(ctx)
	require.NoError(t, err)
	_, err = db.NewInsert().Model(&gadget{ID: 1}).Exec(ctx)
	require.NoError(t, err, "tables of every model in the configuration are created")

	other, err := r.DB(ctx, &gadget{})
	require.NoError(t, err)
	assert.Same(t, db, other)

	m, err := r.Manager(ctx, &widget{})
	require.NoError(t, err)
	assert.True(t, m.HealthCheck(ctx).Healthy)
	assert.Equal(t, 1, m.GetStats().MaxOpenConns)

	require.NoError(t, r.Close())
	assert.Nil(t, m.GetDB())

	db, err = r.DB(ctx, &widget{})
	require.NoError(t, err, "closed managers reconnect on next use")
	count, err := db.NewSelect().Model((*widget)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRegistry_ChangeHookPublishes(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	m, err := r.Manager(ctx, &widget{})
	require.NoError(t, err)

	signals, cancel := m.Notifier().Subscribe("widgets")
	defer cancel()

	db := m.GetDB()
	_, err = db.NewSelect().Model((*widget)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.False(t, receive(signals), "reads do not notify")

	_, err = db.NewInsert().Model(&widget{ID: 7}).Exec(ctx)
	require.NoError(t, err)
	assert.True(t, receive(signals))

	tctx, tracker := TrackChanges(ctx)
	_, err = db.NewDelete().Model((*widget)(nil)).Where("id = ?", 7).Exec(tctx)
	require.NoError(t, err)
	assert.False(t, receive(signals), "tracked writes wait for Flush")
	tracker.Flush()
	assert.True(t, receive(signals))
}

func TestRegistry_ApplyRouting(t *testing.T) {
	RegisteredModel(NewModelAdapter(&routedWidget{}, 0))

	dir := t.TempDir()
	routing := &RoutingConfig{
		Default: "main",
		Connections: map[string]ConnectionConfig{
			"main":  {Type: "sqlite", DBName: filepath.Join(dir, "main"), AutoCreate: true},
			"audit": {Type: "sqlite", DBName: filepath.Join(dir, "audit"), AutoCreate: true},
		},
		Models: map[string][]string{"audit": {"routedWidget"}},
	}

	r := newTestRegistry(t)
	require.NoError(t, r.ApplyRouting(routing))
	assert.Equal(t, "audit", r.FindConfig(&routedWidget{}).Name)
	assert.Equal(t, "main", r.FindConfig(&gadget{}).Name)

	routing.Models["audit"] = []string{"NotRegistered"}
	assert.Error(t, r.ApplyRouting(routing))
}

func TestManager_CreateTablesNotConnected(t *testing.T) {
	m := NewDatabaseManager(sqliteConfig(t, "idle"))
	assert.ErrorIs(t, m.CreateTables(context.Background(), &widget{}), ErrNotConnected)
	assert.ErrorIs(t, m.Ping(context.Background()), ErrNotConnected)
	assert.False(t, m.HealthCheck(context.Background()).Healthy)
	assert.NoError(t, m.Disconnect())
}

func TestManager_UnsupportedType(t *testing.T) {
	m := NewDatabaseManager(NewConfig("odd", ConnectionConfig{Type: "oracle", DBName: "x"}))
	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}

func TestRegistry_SlowConnectDoesNotBlockOtherConfigs(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	slow := sqliteConfig(t, "slow")
	require.NoError(t, r.Init(&gadget{}, slow))

	r.mu.Lock()
	b := r.bindings[slow]
	r.mu.Unlock()
	b.connMu.Lock()

	blocked := make(chan error, 1)
	go func() {
		_, err := r.DB(ctx, &gadget{})
		blocked <- err
	}()

	fast, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := r.DB(fast, &widget{})
	require.NoError(t, err)

	select {
	case <-blocked:
		t.Fatal("connect for the slow configuration did not wait")
	default:
	}
	b.connMu.Unlock()

	select {
	case err := <-blocked:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("slow configuration never connected")
	}
}

func TestManager_ConnectLeavesConfigUntouched(t *testing.T) {
	cfg := sqliteConfig(t, "timeouts")
	cfg.Connection.ConnectTimeout = 0

	m := NewDatabaseManager(cfg)
	require.NoError(t, m.Connect(context.Background()))
	defer func() { _ = m.Disconnect() }()
	assert.Zero(t, cfg.Connection.ConnectTimeout)
}

func TestManager_HealthCheckRestartsAfterDisconnect(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig(t, "health")
	cfg.Connection.HealthCheckInterval = time.Hour
	dm := NewDatabaseManager(cfg).(*defaultDatabaseManager)

	require.NoError(t, dm.Connect(ctx))
	dm.mu.Lock()
	dm.startHealthCheck()
	dm.startHealthCheck()
	stop := dm.stopHealthCheck
	assert.True(t, dm.healthRunning)
	dm.mu.Unlock()

	require.NoError(t, dm.Disconnect())
	select {
	case <-stop:
	default:
		t.Fatal("health check still running after disconnect")
	}

	require.NoError(t, dm.Connect(ctx))
	dm.mu.Lock()
	dm.startHealthCheck()
	assert.True(t, dm.healthRunning)
	assert.NotEqual(t, stop, dm.stopHealthCheck)
	dm.mu.Unlock()

	status := dm.HealthCheck(ctx)
	assert.True(t, status.Healthy)
	require.NoError(t, dm.Disconnect())
}
