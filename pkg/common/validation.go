// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-imgtransform.
//
// go-imgtransform is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package common

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// MaxPathLength is the maximum allowed length for a volume path.
const MaxPathLength = 1024

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidatePath validates a volume-relative path for security issues.
// Returns error if the path:
//   - Is empty
//   - Exceeds MaxPathLength
//   - Is absolute (Unix or Windows drive form)
//   - Contains null bytes or control characters
//   - Contains a ".." segment
//   - Is not valid UTF-8
func ValidatePath(path string) error {
	if path == "" {
		return &ValidationError{Field: "path", Message: "path cannot be empty"}
	}
	if len(path) > MaxPathLength {
		return &ValidationError{
			Field:   "path",
			Message: fmt.Sprintf("path length exceeds maximum of %d bytes", MaxPathLength),
		}
	}
	if len(path) >= 2 && path[1] == ':' {
		return &ValidationError{Field: "path", Message: "path cannot be an absolute path"}
	}
	if filepath.IsAbs(path) || strings.HasPrefix(path, "/") {
		return &ValidationError{Field: "path", Message: "path cannot be an absolute path"}
	}
	if !utf8.ValidString(path) {
		return &ValidationError{Field: "path", Message: "path must be valid UTF-8"}
	}

	for i := 0; i < len(path); i++ {
		switch c := path[i]; c {
		case '\x00':
			return &ValidationError{Field: "path", Message: "path cannot contain null bytes"}
		case '\n', '\r', '\t':
			return &ValidationError{
				Field:   "path",
				Message: fmt.Sprintf("path contains invalid character sequence: %q", string(c)),
			}
		}
	}

	for _, segment := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if segment == ".." {
			return &ValidationError{Field: "path", Message: "path cannot contain path traversal sequences (..)"}
		}
	}

	return nil
}

// SanitizeErrorMessage removes sensitive internal details from error messages
// to prevent information disclosure to clients
func SanitizeErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	if _, ok := err.(*ValidationError); ok {
		return err.Error()
	}

	lowerMsg := strings.ToLower(err.Error())
	sanitizedPatterns := []struct{ pattern, replacement string }{
		{"no such file or directory", "file not found"},
		{"does not exist", "file not found"},
		{"permission denied", "access denied"},
		{"connection refused", "service unavailable"},
		{"connection reset", "service unavailable"},
		{"context deadline exceeded", "request timeout"},
		{"context canceled", "request canceled"},
	}
	for _, p := range sanitizedPatterns {
		if strings.Contains(lowerMsg, p.pattern) {
			return p.replacement
		}
	}

	return "internal server error"
}
