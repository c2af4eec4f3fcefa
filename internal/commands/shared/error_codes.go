// Copyright 2025 Casey Haldane
//
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

package shared

// Error codes for structured JSON output
const (
	// Definition errors (E001-E099)
	ErrorCodeInvalidYAML       = "E001" // Invalid YAML syntax
	ErrorCodeInvalidDefinition = "E002" // Definition constraint violation
	ErrorCodeGraphError        = "E003" // Cycle or unknown node reference
	ErrorCodeUnknownStepType   = "E004" // Node declares an unregistered step type

	// Execution errors (E100-E199)
	ErrorCodeNodeFailed = "E101" // Node execution failed
	ErrorCodeCancelled  = "E102" // Execution cancelled
	ErrorCodeTimeout    = "E103" // Node or execution timeout

	// Configuration errors (E200-E299)
	ErrorCodeInvalidConfig = "E201" // Invalid configuration
	ErrorCodeStoreError    = "E202" // Execution store failure

	// Input errors (E300-E399)
	ErrorCodeInvalidInput = "E301" // Invalid input format
	ErrorCodeFileNotFound = "E302" // File not found
)
