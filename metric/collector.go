/*
 * Copyright 2024 caiflower Authors
 *
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

// Package metric wraps the engine's Dispatcher with Prometheus counters and
// a latency histogram, the same CounterVec/Histogram-with-ConstLabels shape
// this codebase's other servers expose.
package metric

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"time"

	"github.com/caiflower/chunky/engine"
	"github.com/caiflower/chunky/global/env"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector wraps an engine.Dispatcher, recording a request counter and a
// latency histogram on each Transaction dispatched through it.
type Collector struct {
	dispatcher *engine.Dispatcher

	requestTotal *prometheus.CounterVec
	costHistogram *prometheus.HistogramVec
}

// NewCollector registers the collector's metrics against the default
// Prometheus registry, tagged with the process's local IP the same way the
// rest of this codebase's collectors are.
func NewCollector(d *engine.Dispatcher) *Collector {
	constLabels := prometheus.Labels{"ip": env.GetLocalHostIP()}
	buckets := []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000}

	c := &Collector{
		dispatcher: d,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "http_request_total",
			Help:        "http_request_total counter",
			ConstLabels: constLabels,
		}, []string{"method", "path", "status"}),
		costHistogram: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_request_duration_ms",
			Help:        "http_request_duration_ms histogram",
			Buckets:     buckets,
			ConstLabels: constLabels,
		}, []string{"method", "path", "status"}),
	}

	prometheus.MustRegister(c.requestTotal)
	prometheus.MustRegister(c.costHistogram)

	return c
}

// Dispatch times the underlying Dispatcher's handling of tx and records it
// by method, path, and the status the handler left on the Transaction.
func (c *Collector) Dispatch(tx *engine.Transaction) {
	start := time.Now()
	method := tx.RequestMethod()
	path := tx.RequestPath()

	c.dispatcher.Dispatch(tx)

	status := strconv.Itoa(tx.ResponseStatus())
	cost := time.Since(start).Milliseconds()
	c.requestTotal.WithLabelValues(method, path, status).Inc()
	c.costHistogram.WithLabelValues(method, path, status).Observe(float64(cost))
}

// RecordParseFailure records a Transaction that never reached dispatch
// because the request head failed to parse, so malformed-client traffic is
// still visible to operators.
func (c *Collector) RecordParseFailure(method string) {
	c.requestTotal.WithLabelValues(method, "-", "-").Inc()
}

// Handler exposes the registered metrics over /metrics, for a host
// application that wants to mount it on its own net/http mux instead of the
// engine's Dispatcher.
func (c *Collector) Handler() http.Handler {
	return promhttp.Handler()
}

// ServeMetrics renders Handler's output onto tx, so /metrics can be served
// as an ordinary route through the engine's own Dispatcher and Connection
// Loop rather than a separate net/http listener.
func (c *Collector) ServeMetrics(tx *engine.Transaction) {
	req := httptest.NewRequest(tx.RequestMethod(), tx.RequestResource(), nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	tx.SetResponseStatus(rec.Code)
	for name, values := range rec.Header() {
		for _, v := range values {
			tx.ResponseHeaders().Add(name, v)
		}
	}
	_, _ = tx.Write(rec.Body.Bytes())
	_ = tx.Finish()
}
