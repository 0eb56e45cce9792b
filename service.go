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
	"sync"

	"github.com/tomoncle/burrow/database"
	"github.com/tomoncle/burrow/repository"
	"github.com/tomoncle/burrow/types"
	"github.com/uptrace/bun"
)

type Service[T any] interface {
	// Get returns a single entity by its primary key.
	Get(ctx context.Context, id any) (*T, error)

	// All returns all entities.
	All(ctx context.Context) ([]*T, error)

	// List returns the entities in rng that match filter.
	List(ctx context.Context, filter *types.QueryFilter, rng types.Range) ([]*T, error)

	// Sorted returns the entities in rng that match filter, ordered.
	Sorted(ctx context.Context, orders []types.Order, filter *types.QueryFilter, rng types.Range) ([]*T, error)

	// First returns the first match or nil.
	First(ctx context.Context, filter *types.QueryFilter) (*T, error)

	// Last returns the last match or nil.
	Last(ctx context.Context, filter *types.QueryFilter) (*T, error)

	// Count returns the number of matches.
	Count(ctx context.Context, filter *types.QueryFilter) (int, error)

	// Query filters with a raw WHERE expression.
	Query(ctx context.Context, query string, args ...interface{}) ([]*T, error)

	// Page returns a paginated list of entities.
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)

	// Create inserts new entities.
	Create(ctx context.Context, model ...*T) error

	// CreateOrUpdate upserts entities by primary key.
	CreateOrUpdate(ctx context.Context, model ...*T) error

	// Save assigns auto-increment keys and upserts, or inserts keyless entities.
	Save(ctx context.Context, model ...*T) error

	// Update loads the first match, modifies and stores it.
	Update(ctx context.Context, filter *types.QueryFilter, modify func(*T)) (*T, error)

	// Delete removes the matches of filter.
	Delete(ctx context.Context, filter *types.QueryFilter) (int64, error)

	// DeleteAll removes every entity.
	DeleteAll(ctx context.Context) (int64, error)

	// SaveWithTx saves entities within an existing transaction.
	SaveWithTx(ctx context.Context, tx bun.IDB, model ...*T) error

	// CreateWithTx inserts entities within an existing transaction.
	CreateWithTx(ctx context.Context, tx bun.IDB, model ...*T) error

	// CreateOrUpdateWithTx upserts entities within a transaction.
	CreateOrUpdateWithTx(ctx context.Context, tx bun.IDB, model ...*T) error

	// DeleteWithTx removes the matches of filter within a transaction.
	DeleteWithTx(ctx context.Context, tx bun.IDB, filter *types.QueryFilter) (int64, error)

	// Transaction runs fn in a transaction on the entity's database.
	Transaction(ctx context.Context, fn func(ctx context.Context, tx bun.IDB) error) error

	// Watch streams the matches of filter after every committed change.
	Watch(ctx context.Context, filter *types.QueryFilter) *repository.Stream[[]*T]

	// WatchChanges streams change sets of the matches of filter.
	WatchChanges(ctx context.Context, filter *types.QueryFilter) *repository.Stream[*types.ChangeSet[T]]

	// Config returns the configuration the entity is routed to.
	Config() *database.Config

	// Repository exposes the underlying repository.
	Repository() repository.Repository[T]

	// SelectBuilder returns a Bun select query builder on the entity's database.
	SelectBuilder(ctx context.Context) (*bun.SelectQuery, error)

	// InsertBuilder returns a Bun insert query builder on the entity's database.
	InsertBuilder(ctx context.Context) (*bun.InsertQuery, error)

	// UpdateBuilder returns a Bun update query builder on the entity's database.
	UpdateBuilder(ctx context.Context) (*bun.UpdateQuery, error)

	// DeleteBuilder returns a Bun delete query builder on the entity's database.
	DeleteBuilder(ctx context.Context) (*bun.DeleteQuery, error)
}

type baseServiceImpl[T any] struct {
	opts []repository.Option
	repo repository.Repository[T]
	once sync.Once
}

// NewService returns a default Service implementation using the generic
// repository routed through the process-wide registry unless opts say
// otherwise.
func NewService[T any](opts ...repository.Option) Service[T] {
	return newBaseServiceImpl[T](opts...)
}

func newBaseServiceImpl[T any](opts ...repository.Option) *baseServiceImpl[T] {
	return &baseServiceImpl[T]{opts: opts}
}

func (s *baseServiceImpl[T]) baseRepo() repository.Repository[T] {
	s.once.Do(func() { s.repo = repository.NewRepository[T](s.opts...) })
	return s.repo
}

func (s *baseServiceImpl[T]) Get(ctx context.Context, id any) (*T, error) {
	return s.baseRepo().GetOne(ctx, id)
}

func (s *baseServiceImpl[T]) All(ctx context.Context) ([]*T, error) {
	return s.baseRepo().QueryAll(ctx)
}

func (s *baseServiceImpl[T]) List(ctx context.Context, filter *types.QueryFilter, rng types.Range) ([]*T, error) {
	return s.baseRepo().Query(ctx, filter, rng)
}

func (s *baseServiceImpl[T]) Sorted(ctx context.Context, orders []types.Order, filter *types.QueryFilter, rng types.Range) ([]*T, error) {
	return s.baseRepo().QuerySorted(ctx, orders, filter, rng)
}

func (s *baseServiceImpl[T]) First(ctx context.Context, filter *types.QueryFilter) (*T, error) {
	return s.baseRepo().QueryFirst(ctx, filter)
}

func (s *baseServiceImpl[T]) Last(ctx context.Context, filter *types.QueryFilter) (*T, error) {
	return s.baseRepo().QueryLast(ctx, filter)
}

func (s *baseServiceImpl[T]) Count(ctx context.Context, filter *types.QueryFilter) (int, error) {
	return s.baseRepo().Count(ctx, filter)
}

func (s *baseServiceImpl[T]) Query(ctx context.Context, query string, args ...interface{}) ([]*T, error) {
	return s.baseRepo().List(ctx, query, args...)
}

func (s *baseServiceImpl[T]) Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error) {
	return s.baseRepo().Page(ctx, page)
}

func (s *baseServiceImpl[T]) Create(ctx context.Context, model ...*T) error {
	return s.baseRepo().Create(ctx, model...)
}

func (s *baseServiceImpl[T]) CreateOrUpdate(ctx context.Context, model ...*T) error {
	return s.baseRepo().CreateOrUpdate(ctx, model...)
}

func (s *baseServiceImpl[T]) Save(ctx context.Context, model ...*T) error {
	return s.baseRepo().SaveAll(ctx, model...)
}

func (s *baseServiceImpl[T]) Update(ctx context.Context, filter *types.QueryFilter, modify func(*T)) (*T, error) {
	return s.baseRepo().QueryAndUpdate(ctx, filter, modify)
}

func (s *baseServiceImpl[T]) Delete(ctx context.Context, filter *types.QueryFilter) (int64, error) {
	return s.baseRepo().Delete(ctx, filter)
}

func (s *baseServiceImpl[T]) DeleteAll(ctx context.Context) (int64, error) {
	return s.baseRepo().DeleteAll(ctx)
}

func (s *baseServiceImpl[T]) SaveWithTx(ctx context.Context, tx bun.IDB, model ...*T) error {
	return s.baseRepo().SaveAllWithTx(ctx, tx, model...)
}

func (s *baseServiceImpl[T]) CreateWithTx(ctx context.Context, tx bun.IDB, model ...*T) error {
	return s.baseRepo().CreateWithTx(ctx, tx, model...)
}

func (s *baseServiceImpl[T]) CreateOrUpdateWithTx(ctx context.Context, tx bun.IDB, model ...*T) error {
	return s.baseRepo().CreateOrUpdateWithTx(ctx, tx, model...)
}

func (s *baseServiceImpl[T]) DeleteWithTx(ctx context.Context, tx bun.IDB, filter *types.QueryFilter) (int64, error) {
	return s.baseRepo().DeleteWithTx(ctx, tx, filter)
}

func (s *baseServiceImpl[T]) Transaction(ctx context.Context, fn func(ctx context.Context, tx bun.IDB) error) error {
	return s.baseRepo().Transaction(ctx, fn)
}

func (s *baseServiceImpl[T]) Watch(ctx context.Context, filter *types.QueryFilter) *repository.Stream[[]*T] {
	return s.baseRepo().QueryAsStream(ctx, filter)
}

func (s *baseServiceImpl[T]) WatchChanges(ctx context.Context, filter *types.QueryFilter) *repository.Stream[*types.ChangeSet[T]] {
	return s.baseRepo().QueryChangesAsStream(ctx, filter)
}

func (s *baseServiceImpl[T]) Config() *database.Config {
	return s.baseRepo().Config()
}

func (s *baseServiceImpl[T]) Repository() repository.Repository[T] {
	return s.baseRepo()
}

func (s *baseServiceImpl[T]) SelectBuilder(ctx context.Context) (*bun.SelectQuery, error) {
	return s.baseRepo().NewSelect(ctx)
}

func (s *baseServiceImpl[T]) InsertBuilder(ctx context.Context) (*bun.InsertQuery, error) {
	return s.baseRepo().NewInsert(ctx)
}

func (s *baseServiceImpl[T]) UpdateBuilder(ctx context.Context) (*bun.UpdateQuery, error) {
	return s.baseRepo().NewUpdate(ctx)
}

func (s *baseServiceImpl[T]) DeleteBuilder(ctx context.Context) (*bun.DeleteQuery, error) {
	return s.baseRepo().NewDelete(ctx)
}
