// Copyright 2025 AegisFlow
// SPDX-License-Identifier: Apache-2.0
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package logger provides structured JSON logging for AegisFlow gateway
components.

# Overview

The logger outputs single-line JSON to stdout, making logs consumable by
CloudWatch, ELK, or other log aggregation systems.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (gateway, vault, alerts, audit, etc.)
  - Instance ID and container name (for distributed tracing)
  - Actor ID (the authenticated user or API-key owner)
  - Request ID (for request correlation)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("vault")

Log messages with actor and request context:

	log.Info("user-123", "req-456", "Token stored", map[string]interface{}{
	    "kind": "email",
	    "ttl":  "24h",
	})

Log errors with status codes:

	log.ErrorWithCode("user-123", "req-456", "Retrieve failed", 500, err, nil)

# Environment Variables

The logger reads these environment variables:

  - INSTANCE_ID: Deployment instance identifier
  - LOG_LEVEL: Minimum emitted level (DEBUG, INFO, WARN, ERROR; default INFO)
  - HOSTNAME: Container hostname (auto-detected)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
