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

package gateway

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics
var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegisflow_gateway_http_requests_total",
			Help: "Total HTTP requests by endpoint and status code",
		},
		[]string{"endpoint", "status"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aegisflow_gateway_http_request_duration_milliseconds",
			Help:    "End to end request duration in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 15000, 60000},
		},
		[]string{"endpoint"},
	)
	promPolicyBlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegisflow_gateway_policy_blocks_total",
			Help: "Requests rejected by risk policy, by direction",
		},
		[]string{"direction"},
	)
	promUpstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegisflow_gateway_upstream_errors_total",
			Help: "Provider call failures by provider name",
		},
		[]string{"provider"},
	)
	promUpstreamTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegisflow_gateway_upstream_tokens_total",
			Help: "Tokens consumed upstream by provider and kind",
		},
		[]string{"provider", "kind"},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promPolicyBlocksTotal)
	prometheus.MustRegister(promUpstreamErrors)
	prometheus.MustRegister(promUpstreamTokens)
}
