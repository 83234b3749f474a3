// Package errors provides the classified error primitives used across coursebuilder.
//
// Every failure that crosses a package boundary carries a category (what kind of
// thing failed), a severity and a retry strategy. The pipeline uses the category
// to decide whether a stage failure ends an update, and the HTTP layer uses it to
// pick a status code.
//
// Example usage:
//
//	err := errors.NewError(errors.CategoryLock, "store lock timed out").
//		WithCause(cause).
//		WithContext("path", lockPath).
//		Retryable().
//		Build()
package errors
