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

package errors

import (
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context.
// Returns nil if err is nil.
//
// Example:
//
//	if err := store.SaveExecution(ctx, rec); err != nil {
//	    return errors.Wrap(err, "failed to persist execution")
//	}
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
// Returns nil if err is nil.
//
// Example:
//
//	if err := cache.Write(execID, nodeID, out); err != nil {
//	    return errors.Wrapf(err, "failed to cache output for node %s", nodeID)
//	}
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
// This is a convenience re-export of errors.Is from the standard library.
//
// Example:
//
//	if errors.Is(err, context.Canceled) {
//	    // execution was cancelled
//	}
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience re-export of errors.As from the standard library.
//
// Example:
//
//	var graphErr *errors.GraphError
//	if errors.As(err, &graphErr) {
//	    fmt.Println(graphErr.Kind)
//	}
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err.
// This is a convenience re-export of errors.Unwrap from the standard library.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// New creates a new error with the given message.
// This is a convenience re-export of errors.New from the standard library.
func New(message string) error {
	return errors.New(message)
}

// IsGraphError reports whether err is a GraphError of the given kind.
//
// Example:
//
//	if errors.IsGraphError(err, errors.KindCycle) {
//	    // definition contains a cycle
//	}
func IsGraphError(err error, kind GraphErrorKind) bool {
	var graphErr *GraphError
	if !errors.As(err, &graphErr) {
		return false
	}
	return graphErr.Kind == kind
}

// IsStepNotFound reports whether err indicates an unregistered step type.
func IsStepNotFound(err error) bool {
	var notFound *StepNotFoundError
	return errors.As(err, &notFound)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var notFound *NotFoundError
	return errors.As(err, &notFound)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var validation *ValidationError
	return errors.As(err, &validation)
}
