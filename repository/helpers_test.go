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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tomoncle/burrow/database"
	"github.com/uptrace/bun"
)

type account struct {
	bun.BaseModel `bun:"table:accounts"`
	AutoIncrementPK

	ID    int64  `bun:"id,pk"`
	Name  string `bun:"name"`
	Age   int    `bun:"age"`
	Team  string `bun:"team"`
	Level int64  `bun:"level"`
}

type ptrAccount struct {
	bun.BaseModel `bun:"table:ptr_accounts"`
	AutoIncrementPK

	ID   *int64 `bun:"id,pk"`
	Name string `bun:"name"`
}

type ticket struct {
	bun.BaseModel `bun:"table:tickets"`
	AutoIncrementPK

	Code  string `bun:"code,pk"`
	Title string `bun:"title"`
}

// tag has no primary key.
type tag struct {
	bun.BaseModel `bun:"table:tags"`

	Label  string `bun:"label"`
	Weight int64  `bun:"weight"`
}

type plain struct {
	bun.BaseModel `bun:"table:plains"`

	ID   int64  `bun:"id,pk"`
	Name string `bun:"name"`
}

func newTestRegistry(t *testing.T) *database.Registry {
	t.Helper()
	r := database.NewRegistry()
	cfg := database.NewSQLiteConfig("test", filepath.Join(t.TempDir(), "test"))
	require.NoError(t, r.SetDefaultConfig(cfg))
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func newTestRepo[T any](t *testing.T, r *database.Registry) Repository[T] {
	t.Helper()
	d := NewDispatcher(2)
	t.Cleanup(d.Close)
	return NewRepository[T](WithRegistry(r), WithDispatcher(d))
}

func seedAccounts(t *testing.T, repo Repository[account], names ...string) []*account {
	t.Helper()
	items := make([]*account, len(names))
	for i, name := range names {
		items[i] = &account{Name: name, Age: 20 + i, Team: []string{"red", "blue"}[i%2], Level: int64(i % 3)}
	}
	require.NoError(t, repo.SaveAll(context.Background(), items...))
	return items
}

func names(items []*account) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Name
	}
	return out
}

func next[E any](t *testing.T, s *Stream[E]) E {
	t.Helper()
	select {
	case v, ok := <-s.C():
		require.True(t, ok, "stream closed: %v", s.Err())
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the stream")
	}
	var zero E
	return zero
}

func quiet[E any](t *testing.T, s *Stream[E], wait time.Duration) {
	t.Helper()
	select {
	case v, ok := <-s.C():
		if ok {
			t.Fatalf("unexpected emission: %+v", v)
		}
	case <-time.After(wait):
	}
}
