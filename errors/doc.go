// Package errors provides standardized error handling for the delta notifier.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid
// (bad input or configuration, never retried) and Fatal (stop processing).
// Pipeline stages use the classification to decide between retrying, skipping
// a rule for the current batch, or refusing to start.
//
// # Usage
//
// Wrap errors with component context:
//
//	if err := formatter.Format(changeSets); err != nil {
//	    return errors.WrapInvalid(err, "Dispatcher", "Send", "format body")
//	}
//
// Check the classification:
//
//	if errors.IsInvalid(err) {
//	    // skip this rule for the batch, do not retry
//	}
//
// The standard library errors.Is and errors.As keep working through every
// wrapper in this package.
package errors
