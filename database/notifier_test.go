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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(ch <-chan struct{}) bool {
	select {
	case _, ok := <-ch:
		return ok
	case <-time.After(100 * time.Millisecond):
		return false
	}
}

func TestNotifier_PublishCoalesces(t *testing.T) {
	n := NewNotifier()
	ch, cancel := n.Subscribe("users")
	defer cancel()

	n.Publish("users")
	n.Publish(`"main"."USERS" AS "u"`)
	n.Publish("items")

	assert.True(t, receive(ch))
	assert.False(t, receive(ch), "pending signals are coalesced")
}

func TestNotifier_SubscribeSeveralTables(t *testing.T) {
	n := NewNotifier()
	ch, cancel := n.Subscribe("users", "items")
	defer cancel()

	n.Publish("users", "items")
	assert.True(t, receive(ch))
	assert.False(t, receive(ch))

	n.Publish("items")
	assert.True(t, receive(ch))
}

func TestNotifier_Cancel(t *testing.T) {
	n := NewNotifier()
	ch, cancel := n.Subscribe("users")
	assert.Equal(t, 1, n.Subscribers("users"))

	cancel()
	cancel()
	assert.Equal(t, 0, n.Subscribers("users"))

	_, ok := <-ch
	assert.False(t, ok)
	n.Publish("users")
}

func TestNormalizeTable(t *testing.T) {
	cases := map[string]string{
		"users":                  "users",
		`"users"`:                "users",
		"`shop`.`Orders`":        "orders",
		`"public"."users" AS "u"`: "users",
		"  items ":               "items",
		"[dbo].[Notes]":          "notes",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeTable(in), in)
	}
}

func TestTracker_FlushPublishesAfterCommit(t *testing.T) {
	n := NewNotifier()
	ch, cancel := n.Subscribe("users")
	defer cancel()

	ctx, tracker := TrackChanges(context.Background())
	trackerFrom(ctx).record(n, "users")
	assert.ElementsMatch(t, []string{"users"}, tracker.Tables())
	assert.False(t, receive(ch), "nothing is published before Flush")

	tracker.Flush()
	assert.True(t, receive(ch))
	assert.Empty(t, tracker.Tables())
}

func TestTracker_Discard(t *testing.T) {
	n := NewNotifier()
	ch, cancel := n.Subscribe("users")
	defer cancel()

	_, tracker := TrackChanges(context.Background())
	tracker.record(n, "users")
	tracker.Discard()
	tracker.Flush()
	assert.False(t, receive(ch))
}

func TestTracker_NestedFlushHandsToParent(t *testing.T) {
	n := NewNotifier()
	ch, cancel := n.Subscribe("users")
	defer cancel()

	outerCtx, outer := TrackChanges(context.Background())
	innerCtx, inner := TrackChanges(outerCtx)
	require.NotSame(t, outer, inner)

	trackerFrom(innerCtx).record(n, "users")
	inner.Flush()
	assert.False(t, receive(ch), "inner flush must wait for the outer transaction")
	assert.ElementsMatch(t, []string{"users"}, outer.Tables())

	outer.Flush()
	assert.True(t, receive(ch))
}

func TestTrackerFrom_Empty(t *testing.T) {
	assert.Nil(t, trackerFrom(context.Background()))
}
