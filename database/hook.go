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
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/uptrace/bun"
)

// changeHook publishes the table of every successful write to the
// manager's notifier. Writes executed with a tracked context are recorded
// on the tracker and published when the owning transaction commits.
type changeHook struct {
	config   string
	notifier *Notifier
}

var _ bun.QueryHook = (*changeHook)(nil)

func (h *changeHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *changeHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	operation := event.Operation()
	status := "ok"
	if event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows) {
		status = "error"
	}
	queriesTotal.WithLabelValues(h.config, operation, status).Inc()
	if event.Err != nil || !isWriteOperation(operation) {
		return
	}

	table := eventTable(event)
	if table == "" {
		return
	}
	if t := trackerFrom(ctx); t != nil {
		t.record(h.notifier, table)
		return
	}
	h.notifier.Publish(table)
}

func isWriteOperation(operation string) bool {
	switch operation {
	case "INSERT", "UPDATE", "DELETE", "TRUNCATE TABLE", "DROP TABLE", "MERGE":
		return true
	}
	return false
}

func eventTable(event *bun.QueryEvent) string {
	if event.IQuery != nil {
		if name := event.IQuery.GetTableName(); name != "" {
			return normalizeTable(name)
		}
	}
	return tableFromQuery(event.Query)
}

// tableFromQuery extracts the target table of a raw write statement.
func tableFromQuery(query string) string {
	fields := strings.Fields(query)
	for i := 0; i < len(fields)-1; i++ {
		switch strings.ToUpper(fields[i]) {
		case "INTO", "UPDATE", "FROM", "TABLE", "EXISTS":
			next := fields[i+1]
			if strings.EqualFold(next, "IF") || strings.EqualFold(next, "ONLY") {
				continue
			}
			if j := strings.IndexAny(next, "(;"); j >= 0 {
				next = next[:j]
			}
			return normalizeTable(next)
		}
	}
	return ""
}

// slowQueryHook warns about successful queries slower than slowTime.
type slowQueryHook struct {
	slowTime time.Duration
	logger   Logger
}

var _ bun.QueryHook = (*slowQueryHook)(nil)

func (h *slowQueryHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *slowQueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	if event.Err != nil || h.logger == nil {
		return
	}
	duration := time.Since(event.StartTime)
	if duration > h.slowTime {
		h.logger.Warn(color.New(color.FgYellow, color.BlinkSlow).Sprint("Database slow query detected"),
			"duration", duration.Round(time.Microsecond),
			"slow_threshold", h.slowTime,
			"query", formatOperationColor(event),
		)
	}
}

func formatOperationColor(event *bun.QueryEvent) string {
	switch event.Operation() {
	case "SELECT":
		return color.GreenString(event.Query)
	case "INSERT":
		return color.BlueString(event.Query)
	case "UPDATE":
		return color.YellowString(event.Query)
	case "DELETE":
		return color.MagentaString(event.Query)
	default:
		return color.RedString(event.Query)
	}
}
