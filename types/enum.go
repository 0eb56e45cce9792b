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

// Common illegal/default values used by enums.
const (
	IllegalValue = -1
	IllegalName  = "unknown"
	IllegalDesc  = "unknown"
)

// BaseEnum represents a basic enum contract used by domain types.
type BaseEnum interface {
	IsValid() bool
	Number() int
	String() string
	Desc() string
	Name() string
}

// Sort is the direction of an ORDER BY term.
type Sort int

const (
	Ascending Sort = iota
	Descending
)

var _ BaseEnum = Ascending

func (s Sort) IsValid() bool { return s == Ascending || s == Descending }

func (s Sort) Number() int {
	if !s.IsValid() {
		return IllegalValue
	}
	return int(s)
}

// String returns the SQL keyword.
func (s Sort) String() string {
	switch s {
	case Ascending:
		return "ASC"
	case Descending:
		return "DESC"
	default:
		return IllegalName
	}
}

func (s Sort) Name() string {
	switch s {
	case Ascending:
		return "ascending"
	case Descending:
		return "descending"
	default:
		return IllegalName
	}
}

func (s Sort) Desc() string {
	switch s {
	case Ascending:
		return "smallest value first"
	case Descending:
		return "largest value first"
	default:
		return IllegalDesc
	}
}

// ChangeState tells whether a ChangeSet is the first load of a result,
// a subsequent update of it, or a failure.
type ChangeState int

const (
	StateInitial ChangeState = iota
	StateUpdate
	StateError
)

var _ BaseEnum = StateInitial

func (s ChangeState) IsValid() bool { return s >= StateInitial && s <= StateError }

func (s ChangeState) Number() int {
	if !s.IsValid() {
		return IllegalValue
	}
	return int(s)
}

func (s ChangeState) String() string { return s.Name() }

func (s ChangeState) Name() string {
	switch s {
	case StateInitial:
		return "INITIAL"
	case StateUpdate:
		return "UPDATE"
	case StateError:
		return "ERROR"
	default:
		return IllegalName
	}
}

func (s ChangeState) Desc() string {
	switch s {
	case StateInitial:
		return "result loaded for the first time"
	case StateUpdate:
		return "result changed after a commit"
	case StateError:
		return "result could not be refreshed"
	default:
		return IllegalDesc
	}
}
