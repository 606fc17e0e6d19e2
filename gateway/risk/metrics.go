// Copyright 2025 AegisFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package risk

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics
var (
	promAnalysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegisflow_gateway_analyses_total",
			Help: "Total number of risk analyses by final decision",
		},
		[]string{"decision"},
	)
	promAnalysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aegisflow_gateway_analysis_duration_milliseconds",
			Help:    "Risk analysis duration in milliseconds",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500},
		},
	)
	promBlockedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aegisflow_gateway_blocked_total",
			Help: "Total number of blocked analyses",
		},
	)
	promSanitizedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aegisflow_gateway_sanitized_total",
			Help: "Total number of analyses that rewrote at least one span",
		},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promAnalysesTotal)
	prometheus.MustRegister(promAnalysisDuration)
	prometheus.MustRegister(promBlockedTotal)
	prometheus.MustRegister(promSanitizedTotal)
}
