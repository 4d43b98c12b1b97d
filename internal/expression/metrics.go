// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package expression

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "calcheck",
		Name:      "sessions_total",
		Help:      "Total number of evaluation sessions by mode",
	}, []string{"mode"})
	metricQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "calcheck",
		Name:      "item_queries_total",
		Help:      "Total number of item queries by classification",
	}, []string{"class"})
	metricCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "calcheck",
		Name:      "query_items",
		Help:      "Number of items matched by aggregate queries",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})
	metricStoreFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "calcheck",
		Name:      "store_fetches_total",
		Help:      "Total number of inventory fetches by kind",
	}, []string{"kind"})
	metricFunctionCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "calcheck",
		Name:      "function_calls_total",
		Help:      "Total number of function calls by name and status",
	}, []string{"function", "status"})
)
