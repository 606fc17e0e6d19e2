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
Package types provides the shared risk-domain type definitions used across
AegisFlow components.

# Overview

This package contains the common data model shared between the gateway
pipeline, the token vault, the alert engine, and the audit recorder. It
provides a single source of truth for detections, assessments, and vault
records.

# Spans

All detections carry a TextSpan: half-open [start, end) code-point offsets
into the exact string the pipeline received. Overlapping detections are
deduplicated upstream by keeping the higher-confidence one, so consumers may
assume non-overlapping spans per detector output.

# Enums

Kind, level, and status enums are closed sets of typed strings with
IsValid/String helpers. Parse helpers reject unknown values rather than
defaulting; callers decide their own fallbacks.

# Thread Safety

All types in this package are value types and are safe for concurrent use.
*/
package types
