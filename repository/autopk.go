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
	"math"
	"reflect"

	"github.com/tomoncle/burrow/database"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

// AutoIncrementPK marks a model whose int64 primary key is assigned by Save
// and SaveAll when unset:
//
//	type Item struct {
//		repository.AutoIncrementPK
//		ID   int64  `bun:"id,pk"`
//		Name string `bun:"name"`
//	}
type AutoIncrementPK struct{}

var (
	autoIncrementPKType = reflect.TypeOf(AutoIncrementPK{})
	int64Type           = reflect.TypeOf(int64(0))
)

// IsAutoIncrementPK reports whether T embeds AutoIncrementPK.
func IsAutoIncrementPK[T any]() bool {
	t := modelType[T]()
	if t.Kind() != reflect.Struct {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Type == autoIncrementPKType {
			return true
		}
	}
	return false
}

// autoPKField returns the single int64 or *int64 primary key of T.
func autoPKField[T any](idb bun.IDB) (*schema.Field, error) {
	table := tableOf[T](idb)
	if len(table.PKs) != 1 {
		return nil, database.InvalidArgument("%s: auto-increment needs exactly one primary key, has %d",
			table.Type.Name(), len(table.PKs))
	}
	pk := table.PKs[0]
	if pk.IndirectType != int64Type {
		return nil, database.InvalidArgument("%s: auto-increment key %s must be int64, is %s",
			table.Type.Name(), pk.GoName, pk.StructField.Type)
	}
	return pk, nil
}

// LastPK returns the highest primary key stored for T, or 0 when the table
// is empty or T has no single int64 key.
func LastPK[T any](ctx context.Context, idb bun.IDB) (int64, error) {
	pk, err := autoPKField[T](idb)
	if err != nil {
		return 0, nil
	}
	var last sql.NullInt64
	err = idb.NewSelect().
		Model((*T)(nil)).
		ColumnExpr("MAX(?)", bun.Ident(pk.Name)).
		Scan(ctx, &last)
	if err != nil {
		return 0, err
	}
	if !last.Valid {
		return 0, nil
	}
	return last.Int64, nil
}

// InitPK assigns LastPK+1+i to the i-th entity whose key is unset (zero,
// nil or math.MinInt64). Preset keys are kept.
func InitPK[T any](ctx context.Context, idb bun.IDB, entities ...*T) error {
	if len(entities) == 0 {
		return nil
	}
	pk, err := autoPKField[T](idb)
	if err != nil {
		return err
	}
	last, err := LastPK[T](ctx, idb)
	if err != nil {
		return err
	}
	next := last + 1
	for i, entity := range entities {
		if entity == nil {
			continue
		}
		v := reflect.ValueOf(entity).Elem().FieldByIndex(pk.Index)
		if !isUnsetPK(v) {
			continue
		}
		setPK(v, next+int64(i))
	}
	return nil
}

func isUnsetPK(v reflect.Value) bool {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return true
		}
		v = v.Elem()
	}
	n := v.Int()
	return n == 0 || n == math.MinInt64
}

func setPK(v reflect.Value, key int64) {
	if v.Kind() == reflect.Ptr {
		p := reflect.New(v.Type().Elem())
		p.Elem().SetInt(key)
		v.Set(p)
		return
	}
	v.SetInt(key)
}
