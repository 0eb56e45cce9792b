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
	"fmt"
	"reflect"
	"sync"

	"github.com/uptrace/bun"
)

// Registry routes model types to database configurations. Every
// configuration gets one lazily connected manager shared by all of its
// models.
type Registry struct {
	// Debug logs every registration with a dump of its configuration.
	Debug bool

	mu            sync.Mutex
	configs       map[reflect.Type]*Config
	bindings      map[*Config]*binding
	defaultConfig *Config
	logger        Logger
}

type binding struct {
	config  *Config
	manager AbstractDatabaseManager
	models  []SQLModel
	created map[reflect.Type]bool

	// connMu serialises connecting and table creation for this
	// configuration only.
	connMu sync.Mutex
}

// NewRegistry returns an empty registry whose default configuration is
// DefaultConfig.
func NewRegistry() *Registry {
	return &Registry{
		configs:       make(map[reflect.Type]*Config),
		bindings:      make(map[*Config]*binding),
		defaultConfig: DefaultConfig(),
		logger:        GetLogger(),
	}
}

// SetLogger replaces the registry logger.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// SetDefaultConfig replaces the configuration used for unbound models.
// Models already routed to the previous default keep it.
func (r *Registry) SetDefaultConfig(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultConfig = cfg
	return nil
}

// DefaultConfig returns the configuration used for unbound models.
func (r *Registry) DefaultConfig() *Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaultConfig
}

// Init binds one model type to cfg, replacing an earlier binding.
func (r *Registry) Init(model interface{}, cfg *Config) error {
	return r.InitModule(cfg, model)
}

// InitModule binds a group of model types to one configuration. Models
// are created in argument order unless they implement SQLModel.
func (r *Registry) InitModule(cfg *Config, models ...interface{}) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(models) == 0 {
		return InvalidArgument("no models given for configuration %q", cfg.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, model := range models {
		t := ModelType(model)
		if t == nil || t.Kind() != reflect.Struct {
			return InvalidArgument("model %T is not a struct", model)
		}
		sqlModel, ok := model.(SQLModel)
		if !ok {
			sqlModel = NewModelAdapter(newInstance(t), i)
		}
		r.bindLocked(t, cfg, sqlModel)
	}
	if r.Debug && r.logger != nil {
		r.logger.Info(fmt.Sprintf("Configuration bound:\n%s", cfg), "config", cfg.Name, "models", len(models))
	}
	return nil
}

func (r *Registry) bindLocked(t reflect.Type, cfg *Config, model SQLModel) {
	if prev, ok := r.configs[t]; ok && prev != cfg {
		if b := r.bindings[prev]; b != nil {
			b.remove(t)
		}
	}
	r.configs[t] = cfg
	b := r.bindings[cfg]
	if b == nil {
		b = &binding{config: cfg, created: make(map[reflect.Type]bool)}
		r.bindings[cfg] = b
	}
	b.add(t, model)
}

// FindConfig returns the configuration bound to model. Unknown model types
// are bound to the default configuration on first lookup.
func (r *Registry) FindConfig(model interface{}) *Config {
	t := ModelType(model)
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg, ok := r.configs[t]; ok {
		return cfg
	}
	cfg := r.defaultConfig
	r.bindLocked(t, cfg, NewModelAdapter(newInstance(t), 1<<16))
	if r.Debug && r.logger != nil {
		r.logger.Info("Model routed to default configuration", "model", t.Name(), "config", cfg.Name)
	}
	return cfg
}

// Manager returns the connected manager serving model, creating the
// tables of its configuration first when AutoCreate is set. A slow or
// unreachable database only blocks callers routed to it.
func (r *Registry) Manager(ctx context.Context, model interface{}) (AbstractDatabaseManager, error) {
	cfg := r.FindConfig(model)

	r.mu.Lock()
	b := r.bindings[cfg]
	if b.manager == nil {
		b.manager = NewDatabaseManager(cfg)
		if r.logger != nil {
			b.manager.SetLogger(r.logger)
		}
	}
	m := b.manager
	r.mu.Unlock()

	b.connMu.Lock()
	defer b.connMu.Unlock()
	if err := m.Connect(ctx); err != nil {
		return nil, fmt.Errorf("config %q: %w", cfg.Name, err)
	}
	if cfg.Connection.AutoCreate {
		if err := r.createPending(ctx, b); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// DB returns the database handle for model.
func (r *Registry) DB(ctx context.Context, model interface{}) (*bun.DB, error) {
	m, err := r.Manager(ctx, model)
	if err != nil {
		return nil, err
	}
	if db := m.GetDB(); db != nil {
		return db, nil
	}
	return nil, ErrNotConnected
}

// ApplyRouting binds the models named in routing to their connections.
// Names resolve through the default model registry.
func (r *Registry) ApplyRouting(routing *RoutingConfig) error {
	configs := routing.Configs()
	for conn, names := range routing.Models {
		models := make([]interface{}, 0, len(names))
		for _, name := range names {
			model, ok := LookupModel(name)
			if !ok {
				return fmt.Errorf("routing: model %q is not registered", name)
			}
			models = append(models, model)
		}
		if len(models) == 0 {
			continue
		}
		if err := r.InitModule(configs[conn], models...); err != nil {
			return fmt.Errorf("routing: %w", err)
		}
	}
	if routing.Default != "" {
		return r.SetDefaultConfig(configs[routing.Default])
	}
	return nil
}

// Close disconnects every manager. The bindings survive and reconnect on
// the next use.
func (r *Registry) Close() error {
	r.mu.Lock()
	managers := make([]AbstractDatabaseManager, 0, len(r.bindings))
	for _, b := range r.bindings {
		if b.manager == nil {
			continue
		}
		managers = append(managers, b.manager)
		b.created = make(map[reflect.Type]bool)
	}
	r.mu.Unlock()

	var firstErr error
	for _, m := range managers {
		if err := m.Disconnect(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *binding) add(t reflect.Type, model SQLModel) {
	for i, m := range b.models {
		if ModelType(m) == t {
			b.models[i] = model
			return
		}
	}
	b.models = append(b.models, model)
}

func (b *binding) remove(t reflect.Type) {
	for i, m := range b.models {
		if ModelType(m) == t {
			b.models = append(b.models[:i], b.models[i+1:]...)
			break
		}
	}
	delete(b.created, t)
}

// createPending creates the tables of b's models not created since the
// last connect. Callers hold b.connMu but not r.mu.
func (r *Registry) createPending(ctx context.Context, b *binding) error {
	r.mu.Lock()
	pending := make([]SQLModel, 0, len(b.models))
	for _, m := range b.models {
		if !b.created[ModelType(m)] {
			pending = append(pending, m)
		}
	}
	r.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	sortModels(pending)
	instances := make([]interface{}, len(pending))
	for i, m := range pending {
		instances[i] = m.Instance()
	}
	if err := b.manager.CreateTables(ctx, instances...); err != nil {
		return err
	}

	r.mu.Lock()
	for _, m := range pending {
		b.created[ModelType(m)] = true
	}
	r.mu.Unlock()
	return nil
}

var (
	globalRegistry     *Registry
	globalRegistryOnce sync.Once
)

// GetRegistry returns the process-wide registry. Its default configuration
// is DefaultConfig with DB_* environment overrides applied.
func GetRegistry() *Registry {
	globalRegistryOnce.Do(func() {
		globalRegistry = NewRegistry()
		cfg := DefaultConfig()
		cfg.OverrideFromEnv()
		if err := cfg.Validate(); err != nil {
			GetLogger().Warn("Ignoring invalid DB_* overrides for the default configuration", "error", err)
			cfg = DefaultConfig()
		}
		globalRegistry.defaultConfig = cfg
	})
	return globalRegistry
}

// Init binds model to cfg on the process-wide registry.
func Init(model interface{}, cfg *Config) error {
	return GetRegistry().Init(model, cfg)
}

// InitModule binds models to cfg on the process-wide registry.
func InitModule(cfg *Config, models ...interface{}) error {
	return GetRegistry().InitModule(cfg, models...)
}

// FindConfig resolves model on the process-wide registry.
func FindConfig(model interface{}) *Config {
	return GetRegistry().FindConfig(model)
}

// GetDB returns the handle serving model on the process-wide registry.
func GetDB(ctx context.Context, model interface{}) (*bun.DB, error) {
	return GetRegistry().DB(ctx, model)
}

// CloseAll disconnects every manager of the process-wide registry.
func CloseAll() error {
	return GetRegistry().Close()
}
