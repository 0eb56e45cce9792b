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

package types

// ChangeSet describes how a query result moved between two loads.
// Result is the whole new result; Insert and Change hold rows of it,
// Delete holds rows of the previous one.
type ChangeSet[T any] struct {
	State  ChangeState
	Result []*T
	Insert []*T
	Change []*T
	Delete []*T
	Err    error
}

// NewInitialChangeSet is emitted for the first load of result.
func NewInitialChangeSet[T any](result []*T) *ChangeSet[T] {
	return &ChangeSet[T]{State: StateInitial, Result: result, Insert: []*T{}, Change: []*T{}, Delete: []*T{}}
}

// NewErrorChangeSet wraps a refresh failure.
func NewErrorChangeSet[T any](err error) *ChangeSet[T] {
	return &ChangeSet[T]{State: StateError, Insert: []*T{}, Change: []*T{}, Delete: []*T{}, Err: err}
}

// IsOK reports whether the change set carries no error.
func (c *ChangeSet[T]) IsOK() bool {
	return c.Err == nil && c.State != StateError
}

// IsEmpty reports whether nothing was inserted, changed or deleted.
func (c *ChangeSet[T]) IsEmpty() bool {
	return len(c.Insert) == 0 && len(c.Change) == 0 && len(c.Delete) == 0
}
