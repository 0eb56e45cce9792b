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

	"github.com/tomoncle/burrow/database"
	"github.com/tomoncle/burrow/types"
	"github.com/uptrace/bun"
)

// QueryRepository reads entities. Ranges follow types.Range: a negative
// start selects everything, otherwise rows [start, end).
type QueryRepository[T any] interface {
	QueryAll(ctx context.Context) ([]*T, error)

	Query(ctx context.Context, filter *types.QueryFilter, rng types.Range) ([]*T, error)

	QueryFirst(ctx context.Context, filter *types.QueryFilter) (*T, error)

	QueryLast(ctx context.Context, filter *types.QueryFilter) (*T, error)

	QuerySorted(ctx context.Context, orders []types.Order, filter *types.QueryFilter, rng types.Range) ([]*T, error)

	Count(ctx context.Context, filter *types.QueryFilter) (int, error)

	GetOne(ctx context.Context, id any) (*T, error)

	List(ctx context.Context, query string, args ...interface{}) ([]*T, error)

	DistinctGroup(ctx context.Context, field string, orders []types.Order, filter *types.QueryFilter, rng types.Range) ([]*T, error)
}

// PersistRepository writes entities. Every write publishes a change
// notification for the entity table once it is committed.
type PersistRepository[T any] interface {
	Create(ctx context.Context, entity ...*T) error

	CreateOrUpdate(ctx context.Context, entity ...*T) error

	Save(ctx context.Context, entity *T) error

	SaveAll(ctx context.Context, entity ...*T) error

	Delete(ctx context.Context, filter *types.QueryFilter) (int64, error)

	DeleteAll(ctx context.Context) (int64, error)

	QueryAndUpdate(ctx context.Context, filter *types.QueryFilter, modify func(entity *T)) (*T, error)
}

// TransactionRepository runs operations on a caller supplied handle, either
// the routed *bun.DB or an open transaction.
type TransactionRepository[T any] interface {
	CreateWithTx(ctx context.Context, idb bun.IDB, entity ...*T) error
	CreateOrUpdateWithTx(ctx context.Context, idb bun.IDB, entity ...*T) error
	SaveWithTx(ctx context.Context, idb bun.IDB, entity *T) error
	SaveAllWithTx(ctx context.Context, idb bun.IDB, entity ...*T) error
	DeleteWithTx(ctx context.Context, idb bun.IDB, filter *types.QueryFilter) (int64, error)
	CountWithTx(ctx context.Context, idb bun.IDB, filter *types.QueryFilter) (int, error)
	Transaction(ctx context.Context, fn func(ctx context.Context, tx bun.IDB) error) error
}

// PageQueryRepository defines pagination functionality for listing entities.
type PageQueryRepository[T any] interface {
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)
}

// AsyncRepository runs queries on a Dispatcher. Each callback is invoked
// exactly once.
type AsyncRepository[T any] interface {
	QueryAllAsync(ctx context.Context, callback func([]*T, error))
	QueryAsync(ctx context.Context, filter *types.QueryFilter, rng types.Range, callback func([]*T, error))
	QueryFirstAsync(ctx context.Context, filter *types.QueryFilter, callback func(*T, error))
	QueryLastAsync(ctx context.Context, filter *types.QueryFilter, callback func(*T, error))
	QuerySortedAsync(ctx context.Context, orders []types.Order, filter *types.QueryFilter, rng types.Range, callback func([]*T, error))
	QueryChangesAsync(ctx context.Context, filter *types.QueryFilter, callback func(*types.ChangeSet[T]))
}

// StreamRepository re-runs queries after committed writes to the entity
// table and emits the results on a Stream.
type StreamRepository[T any] interface {
	QueryAllAsStream(ctx context.Context) *Stream[[]*T]
	QueryAsStream(ctx context.Context, filter *types.QueryFilter) *Stream[[]*T]
	QuerySortedAsStream(ctx context.Context, orders []types.Order, filter *types.QueryFilter) *Stream[[]*T]
	QueryAllChangesAsStream(ctx context.Context) *Stream[*types.ChangeSet[T]]
	QueryChangesAsStream(ctx context.Context, filter *types.QueryFilter) *Stream[*types.ChangeSet[T]]
	QuerySortedChangesAsStream(ctx context.Context, orders []types.Order, filter *types.QueryFilter) *Stream[*types.ChangeSet[T]]
}

// Repository combines every helper for one model type and exposes bun
// query builders on the routed database for advanced use cases.
type Repository[T any] interface {
	QueryRepository[T]
	PersistRepository[T]
	TransactionRepository[T]
	PageQueryRepository[T]
	AsyncRepository[T]
	StreamRepository[T]

	// DB resolves the database the model is routed to.
	DB(ctx context.Context) (*bun.DB, error)
	Config() *database.Config
	HasPrimaryKey(ctx context.Context) (bool, error)
	PrimaryKeyFieldName(ctx context.Context) (string, error)

	NewSelect(ctx context.Context) (*bun.SelectQuery, error)
	NewInsert(ctx context.Context) (*bun.InsertQuery, error)
	NewUpdate(ctx context.Context) (*bun.UpdateQuery, error)
	NewDelete(ctx context.Context) (*bun.DeleteQuery, error)
}
