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

package burrow

import (
	"context"

	"github.com/tomoncle/burrow/database"
	"github.com/tomoncle/burrow/repository"
	"github.com/tomoncle/burrow/types"
	"github.com/uptrace/bun"
)

// The functions below take the model as a type parameter and route it
// through the process-wide registry:
//
//	users, err := burrow.QueryAll[User](ctx)

func repo[T any]() repository.Repository[T] {
	return repository.NewRepository[T]()
}

// Init binds model T to cfg.
func Init[T any](cfg *database.Config) error {
	return database.Init((*T)(nil), cfg)
}

// Range loads the rows [start, end) of T; a negative start loads all rows.
func Range[T any](ctx context.Context, start, end int) ([]*T, error) {
	return repo[T]().Query(ctx, nil, types.NewRange(start, end))
}

func Query[T any](ctx context.Context, filter *types.QueryFilter, start, end int) ([]*T, error) {
	return repo[T]().Query(ctx, filter, types.NewRange(start, end))
}

func QueryAll[T any](ctx context.Context) ([]*T, error) {
	return repo[T]().QueryAll(ctx)
}

func QueryFirst[T any](ctx context.Context, filter *types.QueryFilter) (*T, error) {
	return repo[T]().QueryFirst(ctx, filter)
}

func QueryLast[T any](ctx context.Context, filter *types.QueryFilter) (*T, error) {
	return repo[T]().QueryLast(ctx, filter)
}

func QuerySorted[T any](ctx context.Context, orders []types.Order, filter *types.QueryFilter, start, end int) ([]*T, error) {
	return repo[T]().QuerySorted(ctx, orders, filter, types.NewRange(start, end))
}

func Count[T any](ctx context.Context, filter *types.QueryFilter) (int, error) {
	return repo[T]().Count(ctx, filter)
}

func Create[T any](ctx context.Context, entity ...*T) error {
	return repo[T]().Create(ctx, entity...)
}

func CreateOrUpdate[T any](ctx context.Context, entity ...*T) error {
	return repo[T]().CreateOrUpdate(ctx, entity...)
}

func Save[T any](ctx context.Context, entity *T) error {
	return repo[T]().Save(ctx, entity)
}

func SaveAll[T any](ctx context.Context, entity ...*T) error {
	return repo[T]().SaveAll(ctx, entity...)
}

// SaveManaged saves on a caller supplied handle, typically an open
// transaction.
func SaveManaged[T any](ctx context.Context, idb bun.IDB, entity ...*T) error {
	return repo[T]().SaveAllWithTx(ctx, idb, entity...)
}

func Delete[T any](ctx context.Context, filter *types.QueryFilter) (int64, error) {
	return repo[T]().Delete(ctx, filter)
}

func DeleteAll[T any](ctx context.Context) (int64, error) {
	return repo[T]().DeleteAll(ctx)
}

func QueryAndUpdate[T any](ctx context.Context, filter *types.QueryFilter, modify func(*T)) (*T, error) {
	return repo[T]().QueryAndUpdate(ctx, filter, modify)
}

func GroupBy[T any, K repository.GroupKey](ctx context.Context, field string, filter *types.QueryFilter) (map[K][]*T, error) {
	return repository.GroupBy[T, K](ctx, repo[T](), field, nil, filter, types.All)
}

func DistinctGroup[T any](ctx context.Context, field string, filter *types.QueryFilter) ([]*T, error) {
	return repo[T]().DistinctGroup(ctx, field, nil, filter, types.All)
}

func QueryAllAsync[T any](ctx context.Context, callback func([]*T, error)) {
	repo[T]().QueryAllAsync(ctx, callback)
}

func QueryAsync[T any](ctx context.Context, filter *types.QueryFilter, callback func([]*T, error)) {
	repo[T]().QueryAsync(ctx, filter, types.All, callback)
}

func QueryAllAsStream[T any](ctx context.Context) *repository.Stream[[]*T] {
	return repo[T]().QueryAllAsStream(ctx)
}

func QueryChangesAsStream[T any](ctx context.Context, filter *types.QueryFilter) *repository.Stream[*types.ChangeSet[T]] {
	return repo[T]().QueryChangesAsStream(ctx, filter)
}
