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
	"sync"

	"github.com/tomoncle/burrow/database"
	"github.com/tomoncle/burrow/types"
)

// ErrDispatcherClosed is passed to callbacks submitted after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher runs queued tasks on a fixed set of worker goroutines.
type Dispatcher struct {
	tasks  chan func()
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts workers goroutines; values below one mean one.
func NewDispatcher(workers int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	d := &Dispatcher{tasks: make(chan func(), workers*16)}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer d.wg.Done()
			for task := range d.tasks {
				task()
			}
		}()
	}
	return d
}

var (
	defaultDispatcher     *Dispatcher
	defaultDispatcherOnce sync.Once
)

// DefaultDispatcher is the single-worker dispatcher shared by repositories
// created without WithDispatcher.
func DefaultDispatcher() *Dispatcher {
	defaultDispatcherOnce.Do(func() {
		defaultDispatcher = NewDispatcher(1)
	})
	return defaultDispatcher
}

// Submit queues task. It blocks while the queue is full and fails once the
// dispatcher is closed.
func (d *Dispatcher) Submit(task func()) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	d.tasks <- task
	return nil
}

// Close stops accepting tasks and waits for the queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.tasks)
	d.mu.Unlock()
	d.wg.Wait()
}

// dispatch runs load on d and hands its outcome to callback exactly once.
func dispatch[R any](ctx context.Context, d *Dispatcher, load func(ctx context.Context) (R, error), callback func(R, error)) {
	ctx = detachTx(ctx)
	run := func() {
		var zero R
		if err := ctx.Err(); err != nil {
			database.AsyncTasks.WithLabelValues("canceled").Inc()
			callback(zero, err)
			return
		}
		result, err := load(ctx)
		if err != nil {
			database.AsyncTasks.WithLabelValues("error").Inc()
			callback(zero, err)
			return
		}
		database.AsyncTasks.WithLabelValues("ok").Inc()
		callback(result, nil)
	}
	if err := d.Submit(run); err != nil {
		var zero R
		database.AsyncTasks.WithLabelValues("rejected").Inc()
		callback(zero, err)
	}
}

func (r *baseRepositoryImpl[T]) QueryAllAsync(ctx context.Context, callback func([]*T, error)) {
	dispatch(ctx, r.dispatcher, r.QueryAll, callback)
}

func (r *baseRepositoryImpl[T]) QueryAsync(ctx context.Context, filter *types.QueryFilter, rng types.Range, callback func([]*T, error)) {
	dispatch(ctx, r.dispatcher, func(ctx context.Context) ([]*T, error) {
		return r.Query(ctx, filter, rng)
	}, callback)
}

func (r *baseRepositoryImpl[T]) QueryFirstAsync(ctx context.Context, filter *types.QueryFilter, callback func(*T, error)) {
	dispatch(ctx, r.dispatcher, func(ctx context.Context) (*T, error) {
		return r.QueryFirst(ctx, filter)
	}, callback)
}

func (r *baseRepositoryImpl[T]) QueryLastAsync(ctx context.Context, filter *types.QueryFilter, callback func(*T, error)) {
	dispatch(ctx, r.dispatcher, func(ctx context.Context) (*T, error) {
		return r.QueryLast(ctx, filter)
	}, callback)
}

func (r *baseRepositoryImpl[T]) QuerySortedAsync(ctx context.Context, orders []types.Order, filter *types.QueryFilter, rng types.Range, callback func([]*T, error)) {
	dispatch(ctx, r.dispatcher, func(ctx context.Context) ([]*T, error) {
		return r.QuerySorted(ctx, orders, filter, rng)
	}, callback)
}

// QueryChangesAsync waits for the next committed change to the filtered
// result and hands its UPDATE change set to callback. Failures and ctx
// cancellation arrive as an ERROR change set. The wait does not occupy a
// dispatcher worker.
func (r *baseRepositoryImpl[T]) QueryChangesAsync(ctx context.Context, filter *types.QueryFilter, callback func(*types.ChangeSet[T])) {
	stream := r.QueryChangesAsStream(ctx, filter)
	go func() {
		defer stream.Close()
		for cs := range stream.C() {
			if cs.State == types.StateInitial {
				continue
			}
			callback(cs)
			return
		}
		err := stream.Err()
		if err == nil {
			err = ctx.Err()
		}
		if err == nil {
			err = ErrStreamClosed
		}
		callback(types.NewErrorChangeSet[T](err))
	}()
}
