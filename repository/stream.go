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
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tomoncle/burrow/database"
	"github.com/tomoncle/burrow/types"
	"github.com/uptrace/bun/schema"
)

// ErrStreamClosed reports a stream that ended without a result.
var ErrStreamClosed = errors.New("stream closed")

// Stream delivers query results until its context is cancelled, Close is
// called or a refresh fails. Values on C are shared with the stream and must
// not be modified.
type Stream[E any] struct {
	id     string
	ch     chan E
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// ID identifies the stream in logs.
func (s *Stream[E]) ID() string { return s.id }

// C is closed when the stream ends.
func (s *Stream[E]) C() <-chan E { return s.ch }

// Err returns the failure that ended the stream, if any.
func (s *Stream[E]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the stream and waits for its goroutine to exit.
func (s *Stream[E]) Close() {
	s.cancel()
	<-s.done
}

// Done is closed once the stream goroutine has exited.
func (s *Stream[E]) Done() <-chan struct{} { return s.done }

type streamSource[E any] struct {
	// subscribe registers for change signals before the first load.
	subscribe func(ctx context.Context) (<-chan struct{}, func(), error)
	// step loads the result and decides whether it is worth emitting.
	step func(ctx context.Context) (E, bool, error)
	// fail converts a failure into a last value, if the stream has one.
	fail func(err error) (E, bool)
}

func openStream[E any](ctx context.Context, logger database.Logger, src streamSource[E]) *Stream[E] {
	ctx, cancel := context.WithCancel(detachTx(ctx))
	s := &Stream[E]{
		id:     uuid.NewString(),
		ch:     make(chan E),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(ctx, logger, src)
	return s
}

func (s *Stream[E]) run(ctx context.Context, logger database.Logger, src streamSource[E]) {
	defer close(s.done)
	defer close(s.ch)
	defer s.cancel()

	database.ActiveStreams.Inc()
	defer database.ActiveStreams.Dec()

	send := func(v E) bool {
		select {
		case s.ch <- v:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		if logger != nil {
			logger.Warn("Query stream stopped", "stream", s.id, "error", err)
		}
		if v, ok := src.fail(err); ok {
			send(v)
		}
	}

	signals, unsubscribe, err := src.subscribe(ctx)
	if err != nil {
		fail(err)
		return
	}
	defer unsubscribe()

	for {
		v, emit, err := src.step(ctx)
		if err != nil {
			if ctx.Err() == nil {
				fail(err)
			}
			return
		}
		if emit && !send(v) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case _, ok := <-signals:
			if !ok {
				return
			}
		}
	}
}

func (r *baseRepositoryImpl[T]) subscribe(ctx context.Context) (<-chan struct{}, func(), error) {
	m, err := r.registry.Manager(ctx, modelType[T]())
	if err != nil {
		return nil, nil, err
	}
	db := m.GetDB()
	if db == nil {
		return nil, nil, database.ErrNotConnected
	}
	signals, cancel := m.Notifier().Subscribe(tableOf[T](db).Name)
	return signals, cancel, nil
}

func (r *baseRepositoryImpl[T]) listStream(ctx context.Context, orders []types.Order, filter *types.QueryFilter) *Stream[[]*T] {
	var (
		prev  []*T
		first = true
	)
	return openStream(ctx, r.logger, streamSource[[]*T]{
		subscribe: r.subscribe,
		step: func(ctx context.Context) ([]*T, bool, error) {
			next, err := r.QuerySorted(ctx, orders, filter, types.All)
			if err != nil {
				return nil, false, err
			}
			if !first && reflect.DeepEqual(prev, next) {
				return nil, false, nil
			}
			first = false
			prev = next
			return next, true, nil
		},
		fail: func(error) ([]*T, bool) { return nil, false },
	})
}

func (r *baseRepositoryImpl[T]) changeStream(ctx context.Context, orders []types.Order, filter *types.QueryFilter) *Stream[*types.ChangeSet[T]] {
	var (
		prev []*T
		diff func(prev, next []*T) *types.ChangeSet[T]
	)
	return openStream(ctx, r.logger, streamSource[*types.ChangeSet[T]]{
		subscribe: r.subscribe,
		step: func(ctx context.Context) (*types.ChangeSet[T], bool, error) {
			db, err := r.handle(ctx)
			if err != nil {
				return nil, false, err
			}
			next, err := selectRange[T](ctx, db, orders, filter, types.All)
			if err != nil {
				return nil, false, err
			}
			if diff == nil {
				diff = differ[T](tableOf[T](db))
				prev = next
				return types.NewInitialChangeSet(next), true, nil
			}
			cs := diff(prev, next)
			if cs.IsEmpty() {
				return nil, false, nil
			}
			prev = next
			return cs, true, nil
		},
		fail: func(err error) (*types.ChangeSet[T], bool) {
			return types.NewErrorChangeSet[T](err), true
		},
	})
}

// QueryAllAsStream emits every row now and after each committed change.
func (r *baseRepositoryImpl[T]) QueryAllAsStream(ctx context.Context) *Stream[[]*T] {
	return r.listStream(ctx, nil, nil)
}

func (r *baseRepositoryImpl[T]) QueryAsStream(ctx context.Context, filter *types.QueryFilter) *Stream[[]*T] {
	return r.listStream(ctx, nil, filter)
}

func (r *baseRepositoryImpl[T]) QuerySortedAsStream(ctx context.Context, orders []types.Order, filter *types.QueryFilter) *Stream[[]*T] {
	return r.listStream(ctx, orders, filter)
}

// QueryAllChangesAsStream emits an INITIAL change set, then one UPDATE
// change set per committed change of the result. A failure is emitted as an
// ERROR change set and ends the stream.
func (r *baseRepositoryImpl[T]) QueryAllChangesAsStream(ctx context.Context) *Stream[*types.ChangeSet[T]] {
	return r.changeStream(ctx, nil, nil)
}

func (r *baseRepositoryImpl[T]) QueryChangesAsStream(ctx context.Context, filter *types.QueryFilter) *Stream[*types.ChangeSet[T]] {
	return r.changeStream(ctx, nil, filter)
}

func (r *baseRepositoryImpl[T]) QuerySortedChangesAsStream(ctx context.Context, orders []types.Order, filter *types.QueryFilter) *Stream[*types.ChangeSet[T]] {
	return r.changeStream(ctx, orders, filter)
}

// differ builds the change set function for T: rows are matched by primary
// key, or by value for models without one.
func differ[T any](table *schema.Table) func(prev, next []*T) *types.ChangeSet[T] {
	if len(table.PKs) == 0 {
		return diffByValue[T]
	}
	pks := table.PKs
	key := func(entity *T) string {
		v := reflect.ValueOf(entity).Elem()
		parts := make([]string, len(pks))
		for i, pk := range pks {
			f := v.FieldByIndex(pk.Index)
			if f.Kind() == reflect.Ptr && !f.IsNil() {
				f = f.Elem()
			}
			parts[i] = fmt.Sprint(f.Interface())
		}
		return strings.Join(parts, "\x00")
	}
	return func(prev, next []*T) *types.ChangeSet[T] {
		return diffByKey(prev, next, key)
	}
}

func newUpdateChangeSet[T any](result []*T) *types.ChangeSet[T] {
	return &types.ChangeSet[T]{
		State:  types.StateUpdate,
		Result: result,
		Insert: []*T{},
		Change: []*T{},
		Delete: []*T{},
	}
}

func diffByKey[T any](prev, next []*T, key func(*T) string) *types.ChangeSet[T] {
	cs := newUpdateChangeSet(next)
	old := make(map[string]*T, len(prev))
	for _, entity := range prev {
		old[key(entity)] = entity
	}
	seen := make(map[string]struct{}, len(next))
	for _, entity := range next {
		k := key(entity)
		seen[k] = struct{}{}
		if o, ok := old[k]; !ok {
			cs.Insert = append(cs.Insert, entity)
		} else if !reflect.DeepEqual(o, entity) {
			cs.Change = append(cs.Change, entity)
		}
	}
	for _, entity := range prev {
		if _, ok := seen[key(entity)]; !ok {
			cs.Delete = append(cs.Delete, entity)
		}
	}
	return cs
}

func diffByValue[T any](prev, next []*T) *types.ChangeSet[T] {
	cs := newUpdateChangeSet(next)
	matched := make([]bool, len(prev))
	for _, entity := range next {
		found := false
		for i, o := range prev {
			if !matched[i] && reflect.DeepEqual(o, entity) {
				matched[i] = true
				found = true
				break
			}
		}
		if !found {
			cs.Insert = append(cs.Insert, entity)
		}
	}
	for i, o := range prev {
		if !matched[i] {
			cs.Delete = append(cs.Delete, o)
		}
	}
	return cs
}
