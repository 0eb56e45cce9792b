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

package database

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Notifier fans out "table changed" signals to subscribers. Signals are
// coalesced: a subscriber that has not consumed the previous signal sees a
// single pending one.
type Notifier struct {
	mu   sync.RWMutex
	subs map[string]map[string]chan struct{}
}

// NewNotifier returns an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[string]map[string]chan struct{})}
}

// Subscribe registers interest in the given tables. The returned channel
// receives a value after each publish touching one of them; cancel releases
// the subscription and closes the channel.
func (n *Notifier) Subscribe(tables ...string) (<-chan struct{}, func()) {
	id := uuid.NewString()
	ch := make(chan struct{}, 1)
	keys := make([]string, 0, len(tables))

	n.mu.Lock()
	for _, table := range tables {
		key := normalizeTable(table)
		if key == "" {
			continue
		}
		if n.subs[key] == nil {
			n.subs[key] = make(map[string]chan struct{})
		}
		n.subs[key][id] = ch
		keys = append(keys, key)
	}
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			for _, key := range keys {
				delete(n.subs[key], id)
				if len(n.subs[key]) == 0 {
					delete(n.subs, key)
				}
			}
			n.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish signals every subscriber of the given tables without blocking.
func (n *Notifier) Publish(tables ...string) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	seen := make(map[chan struct{}]struct{})
	for _, table := range tables {
		key := normalizeTable(table)
		for _, ch := range n.subs[key] {
			if _, ok := seen[ch]; ok {
				continue
			}
			seen[ch] = struct{}{}
			select {
			case ch <- struct{}{}:
			default:
			}
		}
		if key != "" {
			changeNotifications.WithLabelValues(key).Inc()
		}
	}
}

// Subscribers reports how many subscriptions watch the table.
func (n *Notifier) Subscribers(table string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs[normalizeTable(table)])
}

// normalizeTable strips identifier quotes, schema prefixes and aliases so
// `"public"."users" AS "u"` and users address the same subscribers.
func normalizeTable(table string) string {
	t := strings.TrimSpace(table)
	if i := strings.IndexAny(t, " \t"); i >= 0 {
		t = t[:i]
	}
	if i := strings.LastIndex(t, "."); i >= 0 {
		t = t[i+1:]
	}
	return strings.ToLower(strings.Trim(t, "\"`[]"))
}

type trackerKey struct{}

// Tracker collects the tables written inside a transaction so they can be
// published once it commits. Each table is kept with the notifier of the
// database it was written to.
type Tracker struct {
	mu     sync.Mutex
	tables map[*Notifier]map[string]struct{}
	parent *Tracker
}

// TrackChanges returns a context carrying a fresh tracker. Writes executed
// with that context are recorded instead of published immediately. When ctx
// already carries a tracker, the new one hands its tables to that parent on
// Flush, so nothing is published before the outermost transaction commits.
func TrackChanges(ctx context.Context) (context.Context, *Tracker) {
	t := &Tracker{tables: make(map[*Notifier]map[string]struct{}), parent: trackerFrom(ctx)}
	return context.WithValue(ctx, trackerKey{}, t), t
}

func trackerFrom(ctx context.Context) *Tracker {
	if ctx == nil {
		return nil
	}
	t, _ := ctx.Value(trackerKey{}).(*Tracker)
	return t
}

func (t *Tracker) record(n *Notifier, table string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tables[n] == nil {
		t.tables[n] = make(map[string]struct{})
	}
	t.tables[n][normalizeTable(table)] = struct{}{}
}

// Tables returns the recorded tables across all notifiers.
func (t *Tracker) Tables() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, tables := range t.tables {
		for table := range tables {
			if _, ok := seen[table]; ok {
				continue
			}
			seen[table] = struct{}{}
			out = append(out, table)
		}
	}
	return out
}

// Flush publishes the recorded tables, or hands them to the parent tracker,
// and resets the tracker.
func (t *Tracker) Flush() {
	t.mu.Lock()
	recorded := t.tables
	t.tables = make(map[*Notifier]map[string]struct{})
	t.mu.Unlock()

	for n, tables := range recorded {
		names := make([]string, 0, len(tables))
		for table := range tables {
			names = append(names, table)
		}
		if t.parent != nil {
			for _, table := range names {
				t.parent.record(n, table)
			}
			continue
		}
		if n != nil && len(names) > 0 {
			n.Publish(names...)
		}
	}
}

// Discard forgets the recorded tables, as after a rollback.
func (t *Tracker) Discard() {
	t.mu.Lock()
	t.tables = make(map[*Notifier]map[string]struct{})
	t.mu.Unlock()
}
