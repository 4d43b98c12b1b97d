// Copyright 2025 V Kontakte LLC
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package api

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	RoutePrefix         = "/api/"
	EndpointEval        = "eval"
	EndpointHealthcheck = "healthcheck"
	EndpointMetrics     = "metrics"
)

var metricRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "calcheck",
	Name:      "api_request_duration_seconds",
	Help:      "Duration of API requests by endpoint, method and status code",
	Buckets:   prometheus.DefBuckets,
}, []string{"endpoint", "method", "code"})

type endpointStat struct {
	endpoint  string
	method    string
	startTime time.Time
}

func (es *endpointStat) report(code int) {
	if code == 0 {
		code = 200
	}
	metricRequestDuration.
		WithLabelValues(es.endpoint, es.method, strconv.Itoa(code)).
		Observe(time.Since(es.startTime).Seconds())
}
