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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const PrometheusNamespace = "burrow"

var (
	queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: PrometheusNamespace,
			Name:      "queries_total",
			Help:      "The number of queries executed, by operation and outcome",
		},
		[]string{"config", "operation", "status"},
	)

	changeNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: PrometheusNamespace,
			Name:      "change_notifications_total",
			Help:      "The number of table change notifications published",
		},
		[]string{"table"},
	)

	// ActiveStreams is maintained by the repository stream helpers.
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: PrometheusNamespace,
			Name:      "active_streams",
			Help:      "The number of open query streams",
		},
	)

	// AsyncTasks is maintained by the repository dispatcher.
	AsyncTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: PrometheusNamespace,
			Name:      "async_tasks_total",
			Help:      "The number of asynchronous query tasks, by outcome",
		},
		[]string{"status"},
	)
)
