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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/burrow/database"
	"github.com/tomoncle/burrow/repository"
	"github.com/tomoncle/burrow/types"
	"github.com/uptrace/bun"
)

type book struct {
	bun.BaseModel `bun:"table:books"`
	repository.AutoIncrementPK

	ID     int64  `bun:"id,pk"`
	Title  string `bun:"title"`
	Author string `bun:"author"`
	Year   int    `bun:"year"`
}

type shelf struct {
	bun.BaseModel `bun:"table:shelves"`
	repository.AutoIncrementPK

	ID    int64  `bun:"id,pk"`
	Label string `bun:"label"`
	Room  string `bun:"room"`
}

func titles(items []*book) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Title
	}
	return out
}

func newTestService(t *testing.T) Service[book] {
	t.Helper()
	r := database.NewRegistry()
	require.NoError(t, r.SetDefaultConfig(database.NewSQLiteConfig("books", filepath.Join(t.TempDir(), "books"))))
	t.Cleanup(func() { _ = r.Close() })
	d := repository.NewDispatcher(1)
	t.Cleanup(d.Close)
	return NewService[book](repository.WithRegistry(r), repository.WithDispatcher(d))
}

func TestService_CRUD(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	books := []*book{
		{Title: "Dune", Author: "Herbert", Year: 1965},
		{Title: "Emma", Author: "Austen", Year: 1815},
		{Title: "Ubik", Author: "Dick", Year: 1969},
	}
	require.NoError(t, svc.Save(ctx, books...))
	assert.Equal(t, int64(3), books[2].ID)

	got, err := svc.Get(ctx, books[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "Emma", got.Title)

	all, err := svc.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Dune", "Emma", "Ubik"}, titles(all))

	recent, err := svc.List(ctx, types.Where("year > ?", 1900), types.NewRange(0, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"Dune"}, titles(recent))

	sorted, err := svc.Sorted(ctx, []types.Order{types.Asc("year")}, nil, types.All)
	require.NoError(t, err)
	assert.Equal(t, []string{"Emma", "Dune", "Ubik"}, titles(sorted))

	first, err := svc.First(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "Dune", first.Title)
	last, err := svc.Last(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "Ubik", last.Title)

	byAuthor, err := svc.Query(ctx, "author = ?", "Dick")
	require.NoError(t, err)
	assert.Equal(t, []string{"Ubik"}, titles(byAuthor))

	updated, err := svc.Update(ctx, types.Where("title = ?", "Emma"), func(b *book) { b.Year = 1816 })
	require.NoError(t, err)
	assert.Equal(t, 1816, updated.Year)

	page, err := svc.Page(ctx, types.NewPageRequest(1, 2, nil, []string{"year DESC"}))
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, []string{"Ubik", "Dune"}, titles(page.Items))

	n, err := svc.Delete(ctx, types.Where("author = ?", "Austen"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err := svc.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	n, err = svc.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestService_CreateConflicts(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	require.NoError(t, svc.Create(ctx, &book{ID: 7, Title: "Solaris"}))
	assert.ErrorIs(t, svc.Create(ctx, &book{ID: 7, Title: "Again"}), database.ErrPrimaryKeyConstraint)

	require.NoError(t, svc.CreateOrUpdate(ctx, &book{ID: 7, Title: "Solaris", Year: 1961}))
	got, err := svc.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1961, got.Year)
}

func TestService_Transaction(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	require.NoError(t, svc.Save(ctx, &book{Title: "Dune"}))

	err := svc.Transaction(ctx, func(ctx context.Context, tx bun.IDB) error {
		if err := svc.SaveWithTx(ctx, tx, &book{Title: "Emma"}); err != nil {
			return err
		}
		if err := svc.CreateWithTx(ctx, tx, &book{ID: 20, Title: "Ubik"}); err != nil {
			return err
		}
		if err := svc.CreateOrUpdateWithTx(ctx, tx, &book{ID: 20, Title: "Ubik", Year: 1969}); err != nil {
			return err
		}
		_, err := svc.DeleteWithTx(ctx, tx, types.Where("title = ?", "Dune"))
		return err
	})
	require.NoError(t, err)

	all, err := svc.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Emma", "Ubik"}, titles(all))
	assert.Equal(t, 1969, all[1].Year)
}

func TestService_Watch(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	require.NoError(t, svc.Save(ctx, &book{Title: "Dune", Year: 1965}))

	watch := svc.Watch(ctx, types.Where("year < ?", 2000))
	defer watch.Close()
	changes := svc.WatchChanges(ctx, nil)
	defer changes.Close()

	recv := func() []*book {
		select {
		case v := <-watch.C():
			return v
		case <-time.After(3 * time.Second):
			t.Fatal("no result")
		}
		return nil
	}
	recvChange := func() *types.ChangeSet[book] {
		select {
		case v := <-changes.C():
			return v
		case <-time.After(3 * time.Second):
			t.Fatal("no change set")
		}
		return nil
	}

	assert.Equal(t, []string{"Dune"}, titles(recv()))
	assert.Equal(t, types.StateInitial, recvChange().State)

	require.NoError(t, svc.Save(ctx, &book{Title: "Emma", Year: 1815}))
	assert.Equal(t, []string{"Dune", "Emma"}, titles(recv()))
	cs := recvChange()
	assert.Equal(t, types.StateUpdate, cs.State)
	assert.Equal(t, []string{"Emma"}, titles(cs.Insert))
}

func TestService_Builders(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	require.NoError(t, svc.Save(ctx, &book{Title: "Dune"}))

	ins, err := svc.InsertBuilder(ctx)
	require.NoError(t, err)
	_, err = ins.Model(&book{ID: 5, Title: "Emma"}).Exec(ctx)
	require.NoError(t, err)

	upd, err := svc.UpdateBuilder(ctx)
	require.NoError(t, err)
	_, err = upd.Model((*book)(nil)).Set("year = ?", 2000).Where("id = ?", 5).Exec(ctx)
	require.NoError(t, err)

	sel, err := svc.SelectBuilder(ctx)
	require.NoError(t, err)
	var emma book
	require.NoError(t, sel.Model(&emma).Where("id = ?", 5).Scan(ctx))
	assert.Equal(t, 2000, emma.Year)

	del, err := svc.DeleteBuilder(ctx)
	require.NoError(t, err)
	_, err = del.Model((*book)(nil)).Where("id = ?", 5).Exec(ctx)
	require.NoError(t, err)

	count, err := svc.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Equal(t, "books", svc.Config().Name)
	assert.NotNil(t, svc.Repository())
}

func TestExtensions(t *testing.T) {
	ctx := context.Background()
	cfg := database.NewSQLiteConfig("shelves", filepath.Join(t.TempDir(), "shelves"))
	require.NoError(t, Init[shelf](cfg))
	assert.Same(t, cfg, database.FindConfig(&shelf{}))

	require.NoError(t, SaveAll(ctx, &shelf{Label: "a", Room: "hall"}, &shelf{Label: "b", Room: "attic"}))
	require.NoError(t, Save(ctx, &shelf{Label: "c", Room: "hall"}))
	require.NoError(t, Create(ctx, &shelf{ID: 9, Label: "d", Room: "attic"}))
	require.NoError(t, CreateOrUpdate(ctx, &shelf{ID: 9, Label: "dd", Room: "attic"}))

	db, err := database.GetDB(ctx, &shelf{})
	require.NoError(t, err)
	require.NoError(t, repository.Transaction(ctx, db, func(ctx context.Context, tx bun.IDB) error {
		return SaveManaged(ctx, tx, &shelf{Label: "e", Room: "cellar"})
	}))

	all, err := QueryAll[shelf](ctx)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, int64(10), all[4].ID)

	window, err := Range[shelf](ctx, 1, 3)
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, "b", window[0].Label)

	hall, err := Query[shelf](ctx, types.Where("room = ?", "hall"), -1, 0)
	require.NoError(t, err)
	assert.Len(t, hall, 2)

	sorted, err := QuerySorted[shelf](ctx, []types.Order{types.Desc("label")}, nil, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, "e", sorted[0].Label)

	first, err := QueryFirst[shelf](ctx, types.Where("room = ?", "attic"))
	require.NoError(t, err)
	assert.Equal(t, "b", first.Label)
	last, err := QueryLast[shelf](ctx, types.Where("room = ?", "attic"))
	require.NoError(t, err)
	assert.Equal(t, "dd", last.Label)

	count, err := Count[shelf](ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	rooms, err := GroupBy[shelf, string](ctx, "room", nil)
	require.NoError(t, err)
	assert.Len(t, rooms["hall"], 2)
	assert.Len(t, rooms["attic"], 2)
	assert.Len(t, rooms["cellar"], 1)

	distinct, err := DistinctGroup[shelf](ctx, "room", nil)
	require.NoError(t, err)
	assert.Len(t, distinct, 3)

	moved, err := QueryAndUpdate(ctx, types.Where("label = ?", "e"), func(s *shelf) { s.Room = "hall" })
	require.NoError(t, err)
	assert.Equal(t, "hall", moved.Room)

	done := make(chan []*shelf, 1)
	QueryAsync(ctx, types.Where("room = ?", "hall"), func(items []*shelf, err error) {
		assert.NoError(t, err)
		done <- items
	})
	select {
	case items := <-done:
		assert.Len(t, items, 3)
	case <-time.After(3 * time.Second):
		t.Fatal("callback not called")
	}

	QueryAllAsync(ctx, func(items []*shelf, err error) {
		assert.NoError(t, err)
		done <- items
	})
	select {
	case items := <-done:
		assert.Len(t, items, 5)
	case <-time.After(3 * time.Second):
		t.Fatal("callback not called")
	}

	stream := QueryAllAsStream[shelf](ctx)
	select {
	case items := <-stream.C():
		assert.Len(t, items, 5)
	case <-time.After(3 * time.Second):
		t.Fatal("no stream result")
	}
	stream.Close()

	changes := QueryChangesAsStream[shelf](ctx, types.Where("room = ?", "attic"))
	select {
	case cs := <-changes.C():
		assert.Equal(t, types.StateInitial, cs.State)
		assert.Len(t, cs.Result, 2)
	case <-time.After(3 * time.Second):
		t.Fatal("no change set")
	}
	changes.Close()

	n, err := Delete[shelf](ctx, types.Where("room = ?", "attic"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	n, err = DeleteAll[shelf](ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, database.CloseAll())
}
