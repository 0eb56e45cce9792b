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

import "fmt"

// Condition is a single WHERE term. Or joins it to the previous term with OR.
type Condition struct {
	Schema string
	Args   []interface{}
	Or     bool
}

// QueryFilter describes a WHERE clause schema and its argument values.
// Further terms can be chained with And and Or; a nil filter matches all rows.
type QueryFilter struct {
	Schema string
	Args   []interface{}
	more   []Condition
}

// NewQueryFilter creates a new query filter with schema and args.
func NewQueryFilter(schema string, args ...interface{}) *QueryFilter {
	return &QueryFilter{Schema: schema, Args: args}
}

// Where is shorthand for NewQueryFilter.
func Where(schema string, args ...interface{}) *QueryFilter {
	return NewQueryFilter(schema, args...)
}

// And appends an AND term and returns the same filter.
func (f *QueryFilter) And(schema string, args ...interface{}) *QueryFilter {
	f.more = append(f.more, Condition{Schema: schema, Args: args})
	return f
}

// Or appends an OR term and returns the same filter.
func (f *QueryFilter) Or(schema string, args ...interface{}) *QueryFilter {
	f.more = append(f.more, Condition{Schema: schema, Args: args, Or: true})
	return f
}

// Conditions flattens the filter into its ordered terms.
func (f *QueryFilter) Conditions() []Condition {
	if f == nil {
		return nil
	}
	out := make([]Condition, 0, len(f.more)+1)
	if f.Schema != "" {
		out = append(out, Condition{Schema: f.Schema, Args: f.Args})
	}
	return append(out, f.more...)
}

// Order is one ORDER BY term on a column.
type Order struct {
	Field string
	Sort  Sort
}

// Asc orders by field ascending.
func Asc(field string) Order { return Order{Field: field, Sort: Ascending} }

// Desc orders by field descending.
func Desc(field string) Order { return Order{Field: field, Sort: Descending} }

// NewOrders zips parallel field and direction lists. Missing directions
// default to ascending.
func NewOrders(fields []string, sorts []Sort) []Order {
	orders := make([]Order, len(fields))
	for i, field := range fields {
		orders[i] = Order{Field: field}
		if i < len(sorts) {
			orders[i].Sort = sorts[i]
		}
	}
	return orders
}

// Range selects the rows [Start, End) of a result. A negative Start selects
// every row.
type Range struct {
	Start int
	End   int
}

// All is the range covering the whole result.
var All = Range{Start: -1, End: -1}

// NewRange builds a range.
func NewRange(start, end int) Range { return Range{Start: start, End: end} }

func (r Range) IsAll() bool { return r.Start < 0 }

// Validate rejects ranges whose start lies after their end.
func (r Range) Validate() error {
	if r.IsAll() {
		return nil
	}
	if r.Start > r.End {
		return fmt.Errorf("startPos(%d) > endPos(%d)", r.Start, r.End)
	}
	return nil
}

// Limit is the number of rows the range can hold.
func (r Range) Limit() int {
	if r.IsAll() {
		return 0
	}
	return r.End - r.Start
}

// PageRequest describes pagination, optional filter, and ordering.
type PageRequest struct {
	page     int
	pageSize int
	filter   *QueryFilter
	orders   []string // "ID ASC", "name DESC"
}

func (p *PageRequest) GetPageSize() int {
	if p.pageSize < 1 {
		p.pageSize = 10
	}
	return p.pageSize
}

func (p *PageRequest) GetPage() int {
	if p.page < 1 {
		p.page = 1
	}
	return p.page
}

func (p *PageRequest) GetOffset() int {
	return (p.GetPage() - 1) * p.GetPageSize()
}

func (p *PageRequest) GetFilter() *QueryFilter {
	return p.filter
}

func (p *PageRequest) GetOrders() []string {
	return p.orders
}

// NewPageRequest constructs a PageRequest with filter and order settings.
func NewPageRequest(page int, pageSize int, filter *QueryFilter, orders []string) *PageRequest {
	return &PageRequest{page, pageSize, filter, orders}
}

// NewDefaultPageRequest constructs a PageRequest with no filter or ordering.
func NewDefaultPageRequest(page int, pageSize int) *PageRequest {
	return NewPageRequest(page, pageSize, nil, make([]string, 0))
}

// Pagination holds paged result items along with pagination metadata.
type Pagination[T any] struct {
	Page     int
	PageSize int
	Total    int
	Items    []*T
}

// NewDefaultPagination constructs an empty pagination container.
func NewDefaultPagination[T any](page int, pageSize int) *Pagination[T] {
	return &Pagination[T]{page, pageSize, 0, make([]*T, 0)}
}
