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

import (
	"errors"
	"fmt"
	"os"

	pkgerrors "github.com/haldane/stepflow/pkg/errors"
)

// Exit codes for stepflow commands
const (
	ExitSuccess         = 0
	ExitExecutionFailed = 1
	ExitInvalidWorkflow = 2
	ExitInvalidInput    = 3
	ExitConfigError     = 4
	ExitCancelled       = 130 // 128+SIGINT, the shell convention for interrupted commands
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewExecutionError creates an error for workflow execution failures
func NewExecutionError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitExecutionFailed,
		Message: msg,
		Cause:   cause,
	}
}

// NewInvalidWorkflowError creates an error for invalid workflow files
func NewInvalidWorkflowError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitInvalidWorkflow,
		Message: msg,
		Cause:   cause,
	}
}

// NewInvalidInputError creates an error for malformed workflow inputs
func NewInvalidInputError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitInvalidInput,
		Message: msg,
		Cause:   cause,
	}
}

// NewConfigError creates an error for configuration failures
func NewConfigError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitConfigError,
		Message: msg,
		Cause:   cause,
	}
}

// NewCancelledError creates an error for interrupted executions
func NewCancelledError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitCancelled,
		Message: msg,
		Cause:   cause,
	}
}

// HandleExitError checks if an error is an ExitError and exits with the appropriate code
func HandleExitError(err error) {
	if err == nil {
		return
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		// An empty message means the command already reported the failure
		msg := exitErr.Error()
		if len(msg) > 0 {
			fmt.Fprintln(os.Stderr, "Error:", msg)
		}

		printUserVisibleSuggestion(err)

		os.Exit(exitErr.Code)
	}

	// Default to execution failed
	fmt.Fprintln(os.Stderr, "Error:", err.Error())

	printUserVisibleSuggestion(err)

	os.Exit(ExitExecutionFailed)
}

// printUserVisibleSuggestion checks if an error implements UserVisibleError
// and prints the suggestion if available.
func printUserVisibleSuggestion(err error) {
	// Walk the error chain to find a UserVisibleError
	for err != nil {
		if userErr, ok := err.(pkgerrors.UserVisibleError); ok {
			if userErr.IsUserVisible() {
				suggestion := userErr.Suggestion()
				if suggestion != "" {
					fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", suggestion)
				}
			}
			return
		}

		err = errors.Unwrap(err)
	}
}
