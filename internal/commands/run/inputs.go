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

package run

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// collectInputs merges inputs from an optional JSON file and --input
// flags. Flag values win over file values.
func collectInputs(flags []string, inputFile string) (map[string]any, error) {
	inputs := make(map[string]any)

	if inputFile != "" {
		fromFile, err := loadInputFile(inputFile)
		if err != nil {
			return nil, err
		}
		for k, v := range fromFile {
			inputs[k] = v
		}
	}

	for _, pair := range flags {
		key, value, err := parseInputPair(pair)
		if err != nil {
			return nil, err
		}
		inputs[key] = value
	}

	return inputs, nil
}

// parseInputPair splits one key=value flag. Values that parse as JSON
// scalars keep their type (42 stays a number, true a bool); everything
// else is a string.
func parseInputPair(pair string) (string, any, error) {
	key, raw, found := strings.Cut(pair, "=")
	if !found || key == "" {
		return "", nil, fmt.Errorf("invalid input %q: expected key=value", pair)
	}
	return key, coerceValue(raw), nil
}

// coerceValue interprets numeric and boolean literals, leaving anything
// ambiguous as a string.
func coerceValue(raw string) any {
	if raw == "true" {
		return true
	}
	if raw == "false" {
		return false
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

// loadInputFile loads inputs from a JSON file, or stdin when path is
// "-". The top-level value must be an object.
func loadInputFile(path string) (map[string]any, error) {
	var data []byte
	var err error

	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading inputs from stdin: %w", err)
		}
	} else {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading input file: %w", err)
		}
	}

	var inputs map[string]any
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("parsing input file: expected a JSON object: %w", err)
	}
	return inputs, nil
}
