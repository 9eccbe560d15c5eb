package streams

import (
	"fmt"
	"strings"
)

const maxNameLength = 128

// ValidateName checks that a stream name is a well-formed endpoint path
// token: one or more non-empty segments separated by single slashes,
// with no leading/trailing slash and no relative path segments. The
// name is embedded verbatim in sink URLs and discovery records, so
// anything ambiguous there is rejected up front.
func ValidateName(name string) error {
	if name == "" {
		return NewError(ErrCodeInvalidName, "stream name is empty", nil)
	}
	if len(name) > maxNameLength {
		return NewError(ErrCodeInvalidName,
			fmt.Sprintf("stream name exceeds %d characters", maxNameLength), nil)
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return NewError(ErrCodeInvalidName, "stream name must not start or end with a slash", nil)
	}

	for _, segment := range strings.Split(name, "/") {
		if segment == "" {
			return NewError(ErrCodeInvalidName, "stream name contains an empty path segment", nil)
		}
		if segment == "." || segment == ".." {
			return NewError(ErrCodeInvalidName, "stream name contains a relative path segment", nil)
		}
		for _, r := range segment {
			if !validNameRune(r) {
				return NewError(ErrCodeInvalidName,
					fmt.Sprintf("stream name contains invalid character %q", r), nil)
			}
		}
	}
	return nil
}

func validNameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_' || r == '.':
		return true
	}
	return false
}
