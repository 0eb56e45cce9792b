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

package repository

import (
	"context"
	"reflect"

	"github.com/tomoncle/burrow/database"
	"github.com/tomoncle/burrow/types"
	"github.com/uptrace/bun/schema"
)

// GroupKey lists the column types GroupBy can group on.
type GroupKey interface {
	int | int16 | int32 | int64 | string
}

func groupField(table *schema.Table, field string) (*schema.Field, error) {
	f, ok := table.FieldMap[field]
	if !ok {
		return nil, database.InvalidArgument("%s has no column %q", table.Type.Name(), field)
	}
	return f, nil
}

// DistinctGroup returns one row per distinct value of field: the first
// matching row in the given order, or in primary key order when none is
// given. The range applies to the representatives.
func (r *baseRepositoryImpl[T]) DistinctGroup(ctx context.Context, field string, orders []types.Order, filter *types.QueryFilter, rng types.Range) ([]*T, error) {
	if err := rng.Validate(); err != nil {
		return nil, database.InvalidArgument("%v", err)
	}
	db, err := r.handle(ctx)
	if err != nil {
		return nil, err
	}
	f, err := groupField(tableOf[T](db), field)
	if err != nil {
		return nil, err
	}

	all, err := selectRange[T](ctx, db, orders, filter, types.All)
	if err != nil {
		return nil, err
	}
	seen := make(map[interface{}]struct{})
	distinct := make([]*T, 0)
	for _, entity := range all {
		key := groupValue(entity, f)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		distinct = append(distinct, entity)
	}
	return sliceRange(distinct, rng), nil
}

// groupValue returns the value of f in entity with pointers resolved, or
// nil for a nil pointer.
func groupValue[T any](entity *T, f *schema.Field) interface{} {
	v := reflect.ValueOf(entity).Elem().FieldByIndex(f.Index)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	return v.Interface()
}

func sliceRange[T any](entities []*T, rng types.Range) []*T {
	if rng.IsAll() {
		return entities
	}
	start, end := rng.Start, rng.End
	if start > len(entities) {
		start = len(entities)
	}
	if end > len(entities) {
		end = len(entities)
	}
	return entities[start:end]
}

// GroupBy groups the matching rows of repo by the value of field. The
// range selects groups, not rows: the keys are those DistinctGroup returns
// for the same arguments, and each maps to all of its matching rows in
// order. K must be the Go type of the field (or of its pointer target);
// rows whose field is nil are skipped.
func GroupBy[T any, K GroupKey](ctx context.Context, repo Repository[T], field string, orders []types.Order, filter *types.QueryFilter, rng types.Range) (map[K][]*T, error) {
	if err := rng.Validate(); err != nil {
		return nil, database.InvalidArgument("%v", err)
	}
	db, err := repo.DB(ctx)
	if err != nil {
		return nil, err
	}
	f, err := groupField(tableOf[T](db), field)
	if err != nil {
		return nil, err
	}
	keyType := reflect.TypeOf((*K)(nil)).Elem()
	if f.IndirectType != keyType {
		return nil, database.InvalidArgument("cannot group %s column %q by %s", f.IndirectType, field, keyType)
	}

	groups := make(map[K][]*T)
	firsts, err := repo.DistinctGroup(ctx, field, orders, filter, rng)
	if err != nil {
		return nil, err
	}
	if len(firsts) == 0 {
		return groups, nil
	}
	keys := make(map[K]bool, len(firsts))
	for _, entity := range firsts {
		if key, ok := groupValue(entity, f).(K); ok {
			keys[key] = true
		}
	}

	entities, err := repo.QuerySorted(ctx, orders, filter, types.All)
	if err != nil {
		return nil, err
	}
	for _, entity := range entities {
		key, ok := groupValue(entity, f).(K)
		if !ok || !keys[key] {
			continue
		}
		groups[key] = append(groups[key], entity)
	}
	return groups, nil
}
