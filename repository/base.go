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
	"database/sql"
	"fmt"
	"reflect"
	"strings"

	"github.com/tomoncle/burrow/database"
	"github.com/tomoncle/burrow/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"
	"github.com/uptrace/bun/schema"
)

type baseRepositoryImpl[T any] struct {
	registry   *database.Registry
	dispatcher *Dispatcher
	logger     database.Logger
}

// Option customises a repository.
type Option func(*options)

type options struct {
	registry   *database.Registry
	dispatcher *Dispatcher
}

// WithRegistry routes the repository through registry instead of the
// process-wide one.
func WithRegistry(registry *database.Registry) Option {
	return func(o *options) { o.registry = registry }
}

// WithDispatcher runs the async helpers on d instead of DefaultDispatcher.
func WithDispatcher(d *Dispatcher) Option {
	return func(o *options) { o.dispatcher = d }
}

// NewRepository returns a repository for model T. The database is resolved
// on every call, so configurations bound after construction are honoured.
func NewRepository[T any](opts ...Option) Repository[T] {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = database.GetRegistry()
	}
	if o.dispatcher == nil {
		o.dispatcher = DefaultDispatcher()
	}
	return &baseRepositoryImpl[T]{
		registry:   o.registry,
		dispatcher: o.dispatcher,
		logger:     database.GetLogger(),
	}
}

func modelType[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func tableOf[T any](idb bun.IDB) *schema.Table {
	return idb.Dialect().Tables().Get(modelType[T]())
}

type whereQuery[Q any] interface {
	Where(query string, args ...interface{}) Q
	WhereOr(query string, args ...interface{}) Q
}

// applyFilter appends the filter terms to any bun query with a WHERE clause.
func applyFilter[Q whereQuery[Q]](q Q, filter *types.QueryFilter) Q {
	for _, c := range filter.Conditions() {
		if c.Or {
			q = q.WhereOr(c.Schema, c.Args...)
		} else {
			q = q.Where(c.Schema, c.Args...)
		}
	}
	return q
}

// applyWhereAll is applyFilter for statements that refuse to run without a
// WHERE clause.
func applyWhereAll[Q whereQuery[Q]](q Q, filter *types.QueryFilter) Q {
	if len(filter.Conditions()) == 0 {
		return q.Where("1 = 1")
	}
	return applyFilter(q, filter)
}

// applyOrders orders by the given terms, or by primary key when none are
// given so ranges stay stable between calls.
func applyOrders(q *bun.SelectQuery, orders []types.Order, table *schema.Table) *bun.SelectQuery {
	if len(orders) == 0 {
		for _, pk := range table.PKs {
			q = q.OrderExpr("? ASC", bun.Ident(pk.Name))
		}
		return q
	}
	for _, o := range orders {
		q = q.OrderExpr("? "+o.Sort.String(), bun.Ident(o.Field))
	}
	return q
}

func validateOrders(orders []types.Order) error {
	for _, o := range orders {
		if o.Field == "" || !o.Sort.IsValid() {
			return database.InvalidArgument("invalid order %q %s", o.Field, o.Sort)
		}
	}
	return nil
}

func (r *baseRepositoryImpl[T]) DB(ctx context.Context) (*bun.DB, error) {
	return r.registry.DB(ctx, modelType[T]())
}

// handle returns the transaction a surrounding Transaction opened on this
// repository's database, or the database itself.
func (r *baseRepositoryImpl[T]) handle(ctx context.Context) (bun.IDB, error) {
	db, err := r.DB(ctx)
	if err != nil {
		return nil, err
	}
	if tx, ok := txFromContext(ctx, db); ok {
		return tx, nil
	}
	return db, nil
}

func (r *baseRepositoryImpl[T]) Config() *database.Config {
	return r.registry.FindConfig(modelType[T]())
}

func (r *baseRepositoryImpl[T]) HasPrimaryKey(ctx context.Context) (bool, error) {
	db, err := r.DB(ctx)
	if err != nil {
		return false, err
	}
	return len(tableOf[T](db).PKs) > 0, nil
}

// PrimaryKeyFieldName returns the column of the first primary key, or an
// empty string for models without one.
func (r *baseRepositoryImpl[T]) PrimaryKeyFieldName(ctx context.Context) (string, error) {
	db, err := r.DB(ctx)
	if err != nil {
		return "", err
	}
	table := tableOf[T](db)
	if len(table.PKs) == 0 {
		return "", nil
	}
	return table.PKs[0].Name, nil
}

func (r *baseRepositoryImpl[T]) NewSelect(ctx context.Context) (*bun.SelectQuery, error) {
	db, err := r.handle(ctx)
	if err != nil {
		return nil, err
	}
	return db.NewSelect(), nil
}

func (r *baseRepositoryImpl[T]) NewInsert(ctx context.Context) (*bun.InsertQuery, error) {
	db, err := r.handle(ctx)
	if err != nil {
		return nil, err
	}
	return db.NewInsert(), nil
}

func (r *baseRepositoryImpl[T]) NewUpdate(ctx context.Context) (*bun.UpdateQuery, error) {
	db, err := r.handle(ctx)
	if err != nil {
		return nil, err
	}
	return db.NewUpdate(), nil
}

func (r *baseRepositoryImpl[T]) NewDelete(ctx context.Context) (*bun.DeleteQuery, error) {
	db, err := r.handle(ctx)
	if err != nil {
		return nil, err
	}
	return db.NewDelete(), nil
}

func (r *baseRepositoryImpl[T]) ValsToSlice(entity ...*T) []*T {
	entities := make([]*T, len(entity))
	copy(entities, entity)
	return entities
}

// selectRange loads the rows [rng.Start, rng.End) of the filtered, ordered
// result.
func selectRange[T any](ctx context.Context, idb bun.IDB, orders []types.Order, filter *types.QueryFilter, rng types.Range) ([]*T, error) {
	if err := rng.Validate(); err != nil {
		return nil, database.InvalidArgument("%v", err)
	}
	if err := validateOrders(orders); err != nil {
		return nil, err
	}
	entities := make([]*T, 0)
	if !rng.IsAll() && rng.Limit() == 0 {
		return entities, nil
	}
	q := idb.NewSelect().Model(&entities)
	q = applyFilter(q, filter)
	q = applyOrders(q, orders, tableOf[T](idb))
	if !rng.IsAll() {
		q = q.Offset(rng.Start).Limit(rng.Limit())
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return entities, nil
}

func countRows[T any](ctx context.Context, idb bun.IDB, filter *types.QueryFilter) (int, error) {
	q := idb.NewSelect().Model((*T)(nil))
	return applyFilter(q, filter).Count(ctx)
}

func selectFirst[T any](ctx context.Context, idb bun.IDB, filter *types.QueryFilter) (*T, error) {
	entities, err := selectRange[T](ctx, idb, nil, filter, types.NewRange(0, 1))
	if err != nil || len(entities) == 0 {
		return nil, err
	}
	return entities[0], nil
}

func selectLast[T any](ctx context.Context, idb bun.IDB, filter *types.QueryFilter) (*T, error) {
	var (
		entities []*T
		err      error
	)
	if pks := tableOf[T](idb).PKs; len(pks) > 0 {
		orders := make([]types.Order, len(pks))
		for i, pk := range pks {
			orders[i] = types.Desc(pk.Name)
		}
		entities, err = selectRange[T](ctx, idb, orders, filter, types.NewRange(0, 1))
	} else {
		var total int
		if total, err = countRows[T](ctx, idb, filter); err != nil || total == 0 {
			return nil, err
		}
		entities, err = selectRange[T](ctx, idb, nil, filter, types.NewRange(total-1, total))
	}
	if err != nil || len(entities) == 0 {
		return nil, err
	}
	return entities[0], nil
}

func (r *baseRepositoryImpl[T]) QueryAll(ctx context.Context) ([]*T, error) {
	return r.Query(ctx, nil, types.All)
}

func (r *baseRepositoryImpl[T]) Query(ctx context.Context, filter *types.QueryFilter, rng types.Range) ([]*T, error) {
	return r.QuerySorted(ctx, nil, filter, rng)
}

func (r *baseRepositoryImpl[T]) QuerySorted(ctx context.Context, orders []types.Order, filter *types.QueryFilter, rng types.Range) ([]*T, error) {
	db, err := r.handle(ctx)
	if err != nil {
		return nil, err
	}
	return selectRange[T](ctx, db, orders, filter, rng)
}

// QueryFirst returns the first match in primary key order, or nil.
func (r *baseRepositoryImpl[T]) QueryFirst(ctx context.Context, filter *types.QueryFilter) (*T, error) {
	db, err := r.handle(ctx)
	if err != nil {
		return nil, err
	}
	return selectFirst[T](ctx, db, filter)
}

// QueryLast returns the last match in primary key order, or nil.
func (r *baseRepositoryImpl[T]) QueryLast(ctx context.Context, filter *types.QueryFilter) (*T, error) {
	db, err := r.handle(ctx)
	if err != nil {
		return nil, err
	}
	return selectLast[T](ctx, db, filter)
}

func (r *baseRepositoryImpl[T]) Count(ctx context.Context, filter *types.QueryFilter) (int, error) {
	db, err := r.handle(ctx)
	if err != nil {
		return 0, err
	}
	return r.CountWithTx(ctx, db, filter)
}

func (r *baseRepositoryImpl[T]) CountWithTx(ctx context.Context, idb bun.IDB, filter *types.QueryFilter) (int, error) {
	return countRows[T](ctx, idb, filter)
}

func (r *baseRepositoryImpl[T]) GetOne(ctx context.Context, id any) (*T, error) {
	db, err := r.handle(ctx)
	if err != nil {
		return nil, err
	}
	table := tableOf[T](db)
	if len(table.PKs) != 1 {
		return nil, database.InvalidArgument("%s needs exactly one primary key, has %d", table.Type.Name(), len(table.PKs))
	}
	var entity T
	err = db.NewSelect().Model(&entity).Where("? = ?", bun.Ident(table.PKs[0].Name), id).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// List filters with a raw WHERE expression.
func (r *baseRepositoryImpl[T]) List(ctx context.Context, query string, args ...interface{}) ([]*T, error) {
	return r.Query(ctx, types.NewQueryFilter(query, args...), types.All)
}

func (r *baseRepositoryImpl[T]) Page(ctx context.Context, pageRequest *types.PageRequest) (*types.Pagination[T], error) {
	db, err := r.handle(ctx)
	if err != nil {
		return nil, err
	}
	var entities []*T
	query := applyFilter(db.NewSelect().Model(&entities), pageRequest.GetFilter())
	pagination := types.NewDefaultPagination[T](pageRequest.GetPage(), pageRequest.GetPageSize())
	total, err := query.Count(ctx)
	if err != nil || total == 0 {
		return pagination, err
	}
	err = query.
		Offset(pageRequest.GetOffset()).
		Limit(pageRequest.GetPageSize()).
		Order(pageRequest.GetOrders()...).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	pagination.Total = total
	pagination.Items = entities
	return pagination, nil
}

// Create inserts new rows. A row whose key already exists fails with
// database.ErrPrimaryKeyConstraint.
func (r *baseRepositoryImpl[T]) Create(ctx context.Context, entity ...*T) error {
	db, err := r.handle(ctx)
	if err != nil {
		return err
	}
	return r.CreateWithTx(ctx, db, entity...)
}

func (r *baseRepositoryImpl[T]) CreateWithTx(ctx context.Context, idb bun.IDB, entity ...*T) error {
	if len(entity) == 0 {
		return nil
	}
	entities := r.ValsToSlice(entity...)
	_, err := idb.NewInsert().Model(&entities).Exec(ctx)
	return database.WrapWriteError(err)
}

// CreateOrUpdate inserts rows, overwriting rows with the same primary key.
// Models without a primary key are rejected.
func (r *baseRepositoryImpl[T]) CreateOrUpdate(ctx context.Context, entity ...*T) error {
	db, err := r.handle(ctx)
	if err != nil {
		return err
	}
	return r.CreateOrUpdateWithTx(ctx, db, entity...)
}

func (r *baseRepositoryImpl[T]) CreateOrUpdateWithTx(ctx context.Context, idb bun.IDB, entity ...*T) error {
	table := tableOf[T](idb)
	if len(table.PKs) == 0 {
		return database.InvalidArgument("%s has no primary key", table.Type.Name())
	}
	if len(entity) == 0 {
		return nil
	}
	return r.multipleUpsert(ctx, idb, table, r.ValsToSlice(entity...))
}

// Save stores one entity: its auto-increment key is assigned when unset,
// then it is upserted when the model has a primary key and inserted
// otherwise.
func (r *baseRepositoryImpl[T]) Save(ctx context.Context, entity *T) error {
	return r.SaveAll(ctx, entity)
}

func (r *baseRepositoryImpl[T]) SaveWithTx(ctx context.Context, idb bun.IDB, entity *T) error {
	return r.SaveAllWithTx(ctx, idb, entity)
}

// SaveAll is Save for several entities inside one transaction.
func (r *baseRepositoryImpl[T]) SaveAll(ctx context.Context, entity ...*T) error {
	if len(entity) == 0 {
		return nil
	}
	db, err := r.handle(ctx)
	if err != nil {
		return err
	}
	return r.SaveAllWithTx(ctx, db, entity...)
}

func (r *baseRepositoryImpl[T]) SaveAllWithTx(ctx context.Context, idb bun.IDB, entity ...*T) error {
	if len(entity) == 0 {
		return nil
	}
	entities := r.ValsToSlice(entity...)
	return Transaction(ctx, idb, func(ctx context.Context, tx bun.IDB) error {
		if IsAutoIncrementPK[T]() {
			if err := InitPK(ctx, tx, entities...); err != nil {
				return err
			}
		}
		table := tableOf[T](tx)
		if len(table.PKs) > 0 {
			return r.multipleUpsert(ctx, tx, table, entities)
		}
		_, err := tx.NewInsert().Model(&entities).Exec(ctx)
		return database.WrapWriteError(err)
	})
}

// Delete removes the matching rows; a nil filter removes every row.
func (r *baseRepositoryImpl[T]) Delete(ctx context.Context, filter *types.QueryFilter) (int64, error) {
	db, err := r.handle(ctx)
	if err != nil {
		return 0, err
	}
	return r.DeleteWithTx(ctx, db, filter)
}

func (r *baseRepositoryImpl[T]) DeleteAll(ctx context.Context) (int64, error) {
	return r.Delete(ctx, nil)
}

func (r *baseRepositoryImpl[T]) DeleteWithTx(ctx context.Context, idb bun.IDB, filter *types.QueryFilter) (int64, error) {
	q := applyWhereAll(idb.NewDelete().Model((*T)(nil)), filter)
	return rowsAffected(q.Exec(ctx))
}

func rowsAffected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// QueryAndUpdate loads the first match, applies modify and writes it back
// in one transaction. Rows are matched by their primary key as loaded, so
// modify may change it. For models without a primary key every row matched
// by filter receives the modified values. It returns nil when nothing
// matches.
func (r *baseRepositoryImpl[T]) QueryAndUpdate(ctx context.Context, filter *types.QueryFilter, modify func(entity *T)) (*T, error) {
	db, err := r.handle(ctx)
	if err != nil {
		return nil, err
	}
	var updated *T
	err = Transaction(ctx, db, func(ctx context.Context, tx bun.IDB) error {
		entity, err := selectFirst[T](ctx, tx, filter)
		if err != nil || entity == nil {
			return err
		}
		table := tableOf[T](tx)
		keys := make([]interface{}, len(table.PKs))
		for i, pk := range table.PKs {
			keys[i] = reflect.ValueOf(entity).Elem().FieldByIndex(pk.Index).Interface()
		}

		modify(entity)

		q := tx.NewUpdate().Model(entity)
		if len(table.PKs) > 0 {
			for i, pk := range table.PKs {
				q = q.Where("? = ?", bun.Ident(pk.Name), keys[i])
			}
		} else {
			q = applyWhereAll(q, filter)
		}
		if _, err := q.Exec(ctx); err != nil {
			return database.WrapWriteError(err)
		}
		updated = entity
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *baseRepositoryImpl[T]) Transaction(ctx context.Context, fn func(ctx context.Context, tx bun.IDB) error) error {
	db, err := r.DB(ctx)
	if err != nil {
		return err
	}
	return Transaction(ctx, db, fn)
}

type txKey struct{}

// boundTx is the transaction Transaction opened on db.
type boundTx struct {
	db *bun.DB
	tx bun.Tx
}

func txFromContext(ctx context.Context, idb bun.IDB) (bun.Tx, bool) {
	b, _ := ctx.Value(txKey{}).(*boundTx)
	if b == nil || bun.IDB(b.db) != idb {
		return bun.Tx{}, false
	}
	return b.tx, true
}

// detachTx hides the caller's transaction from work that outlives the call.
func detachTx(ctx context.Context) context.Context {
	if ctx.Value(txKey{}) == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey{}, (*boundTx)(nil))
}

// Transaction runs fn inside a transaction on idb and publishes the change
// notifications of its writes after commit. When idb already is a
// transaction, or ctx carries one opened on idb, fn joins it and the outer
// transaction publishes. fn must issue its queries with the ctx it
// receives; repository helpers called with that ctx join the transaction.
func Transaction(ctx context.Context, idb bun.IDB, fn func(ctx context.Context, tx bun.IDB) error) error {
	switch idb.(type) {
	case bun.Tx, *bun.Tx:
		return fn(ctx, idb)
	}
	if tx, ok := txFromContext(ctx, idb); ok {
		return fn(ctx, tx)
	}
	db, _ := idb.(*bun.DB)
	tctx, tracker := database.TrackChanges(ctx)
	err := idb.RunInTx(tctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if db != nil {
			ctx = context.WithValue(ctx, txKey{}, &boundTx{db: db, tx: tx})
		}
		return fn(ctx, tx)
	})
	if err != nil {
		tracker.Discard()
		return err
	}
	tracker.Flush()
	return nil
}

func (r *baseRepositoryImpl[T]) multipleUpsert(ctx context.Context, idb bun.IDB, table *schema.Table, entities []*T) error {
	keys := make([]string, len(table.PKs))
	for i, pk := range table.PKs {
		keys[i] = pk.Name
	}
	fields := make([]string, 0, len(table.DataFields))
	for _, f := range table.DataFields {
		fields = append(fields, f.Name)
	}

	features := idb.Dialect().Features()
	var err error
	switch {
	case features.Has(feature.InsertOnConflict):
		err = r.upsertWithPostgresqlOrSQLite(ctx, idb.NewInsert(), fields, keys, entities)
	case features.Has(feature.InsertOnDuplicateKey):
		err = r.upsertWithMySQL(ctx, idb.NewInsert(), fields, keys, entities)
	default:
		// Fallback: Separate insert/update logic
		err = r.upsertFallback(ctx, idb, entities)
	}
	return database.WrapWriteError(err)
}

func (r *baseRepositoryImpl[T]) upsertWithMySQL(ctx context.Context, insertQuery *bun.InsertQuery, fields []string, keys []string, entities []*T) error {
	if len(fields) == 0 {
		// nothing to overwrite, keep the existing row
		fields = keys[:1]
	}
	var queryArgs []string
	for _, field := range fields {
		queryArgs = append(queryArgs, fmt.Sprintf("`%s` = VALUES(`%s`)", field, field))
	}
	_, err := insertQuery.
		Model(&entities).
		On("DUPLICATE KEY UPDATE " + strings.Join(queryArgs, ", ")).
		Exec(ctx)
	return err
}

func (r *baseRepositoryImpl[T]) upsertWithPostgresqlOrSQLite(ctx context.Context, insertQuery *bun.InsertQuery, fields []string, keys []string, entities []*T) error {
	quoted := make([]string, len(keys))
	for i, key := range keys {
		quoted[i] = `"` + key + `"`
	}
	conflict := "CONFLICT (" + strings.Join(quoted, ", ") + ")"
	if len(fields) == 0 {
		_, err := insertQuery.Model(&entities).On(conflict + " DO NOTHING").Exec(ctx)
		return err
	}
	insertQuery = insertQuery.Model(&entities).On(conflict + " DO UPDATE")
	for _, field := range fields {
		insertQuery = insertQuery.Set("? = EXCLUDED.?", bun.Ident(field), bun.Ident(field))
	}
	_, err := insertQuery.Exec(ctx)
	return err
}

func (r *baseRepositoryImpl[T]) upsertFallback(ctx context.Context, idb bun.IDB, entities []*T) error {
	for _, entity := range entities {
		_, err := idb.NewInsert().Model(entity).Exec(ctx)
		if err != nil {
			_, updateErr := idb.NewUpdate().Model(entity).WherePK().Exec(ctx)
			if updateErr != nil {
				return fmt.Errorf("upsert failed for entity: insert error: %v, update error: %v", err, updateErr)
			}
		}
	}
	return nil
}
