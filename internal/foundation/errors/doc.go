// Package errors provides foundational, type-safe error primitives used across i3configger.
//
// Key features:
//   - ErrorCategory: broad classification (config, source, variables, output, watch, lock, ...)
//   - ErrorCode: the specific failure kind (directory_unavailable, cyclic_variable, ...)
//   - ErrorSeverity: impact level (fatal, error, warning, info)
//   - ClassifiedError: structured error with category, code, severity and context
//   - ErrorBuilder: fluent API for creating classified errors
//   - CLI and HTTP adapters for error presentation
//
// Example usage:
//
//	err := errors.DirectoryUnavailable("fragment directory not found").
//		WithContext("dir", dir).
//		WithCause(statErr).
//		Build()
package errors
