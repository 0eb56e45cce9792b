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
	"reflect"
	"sort"
	"sync"
)

var defaultModelRegistry = newModelRegistry()

// SQLModel is a model known by name, used to resolve routing files and to
// order table creation. Instance returns a bun-compatible struct pointer;
// lower Priority values are created first.
type SQLModel interface {
	Instance() interface{}
	Priority() int
}

// ModelRegistry stores SQL models and exposes them in a deterministic order.
type ModelRegistry interface {
	Register(model SQLModel)
	Lookup(name string) (SQLModel, bool)
	Models() []SQLModel
}

type modelRegistry struct {
	models map[string]SQLModel
	mutex  sync.RWMutex
}

func newModelRegistry() ModelRegistry {
	return &modelRegistry{
		models: make(map[string]SQLModel),
	}
}

// Register adds the model, replacing an earlier registration of the same
// type name.
func (r *modelRegistry) Register(model SQLModel) {
	name := ModelName(model.Instance())
	if name == "" {
		return
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.models[name] = model
}

func (r *modelRegistry) Lookup(name string) (SQLModel, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

func (r *modelRegistry) Models() []SQLModel {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make([]SQLModel, 0, len(r.models))
	for _, m := range r.models {
		result = append(result, m)
	}
	sortModels(result)
	return result
}

func sortModels(models []SQLModel) {
	sort.SliceStable(models, func(i, j int) bool {
		if models[i].Priority() != models[j].Priority() {
			return models[i].Priority() < models[j].Priority()
		}
		return ModelName(models[i].Instance()) < ModelName(models[j].Instance())
	})
}

type ModelAdapter struct {
	instance interface{}
	priority int
}

// NewModelAdapter wraps a struct instance and priority into an SQLModel.
func NewModelAdapter(instance interface{}, priority int) SQLModel {
	return &ModelAdapter{
		instance: instance,
		priority: priority,
	}
}

func (a *ModelAdapter) Instance() interface{} {
	return a.instance
}

func (a *ModelAdapter) Priority() int {
	return a.priority
}

// ModelType returns the struct type behind model, dereferencing pointers.
// model may be a value, a pointer, a nil typed pointer or a reflect.Type.
func ModelType(model interface{}) reflect.Type {
	if model == nil {
		return nil
	}
	t, ok := model.(reflect.Type)
	if !ok {
		if m, isModel := model.(SQLModel); isModel {
			return ModelType(m.Instance())
		}
		t = reflect.TypeOf(model)
	}
	for t.Kind() == reflect.Ptr || t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	return t
}

// ModelName is the Go type name used to refer to a model in routing files.
func ModelName(model interface{}) string {
	t := ModelType(model)
	if t == nil {
		return ""
	}
	return t.Name()
}

// newInstance returns a new zero *T for the struct type t.
func newInstance(t reflect.Type) interface{} {
	return reflect.New(t).Interface()
}

// GetRegisteredModels returns all models registered in the default model
// registry sorted by ascending priority.
func GetRegisteredModels() []SQLModel {
	return defaultModelRegistry.Models()
}

// RegisteredModel adds a model to the default model registry.
func RegisteredModel(model SQLModel) {
	defaultModelRegistry.Register(model)
}

// LookupModel finds a registered model by type name.
func LookupModel(name string) (SQLModel, bool) {
	return defaultModelRegistry.Lookup(name)
}

func RegisteredModelInstances() []interface{} {
	models := GetRegisteredModels()
	modelInstances := make([]interface{}, len(models))
	for i, model := range models {
		modelInstances[i] = model.Instance()
	}
	return modelInstances
}
