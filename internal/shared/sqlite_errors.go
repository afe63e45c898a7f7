// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import "strings"

// IsSQLiteConflictError reports whether the error is a SQLITE_BUSY or
// "database is locked" error. Both are transient concurrency errors
// that warrant a bounded retry of the same idempotent write.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
