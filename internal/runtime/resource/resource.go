// Package resource validates dotted resource paths such as
// "users.posts.comments" against the parameters supplied with a request.
package resource

import (
	"math"
	"reflect"
	"strings"

	errspkg "github.com/drblury/relay/internal/runtime/errors"
)

// Separator splits a resource path into segments.
const Separator = "."

// Segments splits path on Separator.
func Segments(path string) []string {
	return strings.Split(path, Separator)
}

// Terminal returns the last segment of path, the key used for the body payload.
func Terminal(path string) string {
	segments := Segments(path)
	return segments[len(segments)-1]
}

// Validate checks that every segment of path except the last has a truthy
// entry in params. Failures are *errors.InvalidParamsError values naming the
// offending segment.
func Validate(path string, params map[string]any) error {
	segments := Segments(path)

	if len(segments) > 1 && params == nil {
		return &errspkg.InvalidParamsError{Resource: segments[0]}
	}

	for _, segment := range segments[:len(segments)-1] {
		if !truthy(params[segment]) {
			return &errspkg.InvalidParamsError{Resource: segment}
		}
	}
	return nil
}

// truthy treats nil, false, numeric zero, NaN and the empty string as absent.
func truthy(v any) bool {
	switch value := v.(type) {
	case nil:
		return false
	case bool:
		return value
	case string:
		return value != ""
	case int:
		return value != 0
	case int64:
		return value != 0
	case float64:
		return value != 0 && !math.IsNaN(value)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f != 0 && !math.IsNaN(f)
	case reflect.String:
		return rv.Len() > 0
	case reflect.Bool:
		return rv.Bool()
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}
