// Package canonical normalises runtime values into JSON-safe trees and
// computes the grouping fingerprint shared by producers and the recorder.
package canonical

import (
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// CycleSentinel replaces a value revisited on the current traversal path.
	CycleSentinel = "<...>"
	// ErrorSentinel replaces a scalar whose formatting failed.
	ErrorSentinel = "(Error decoding value)"

	// TimeLayout renders timestamps with microsecond precision.
	TimeLayout = "2006-01-02T15:04:05.000000"
)

// Former lets a type supply its own canonical JSON-safe form.
type Former interface {
	CanonicalForm() any
}

// Transform maps an arbitrary value graph to a JSON-safe tree. Cycles are
// replaced with CycleSentinel and unencodable scalars with ErrorSentinel;
// Transform never panics outward.
func Transform(v any) any {
	return transform(v, make(map[uintptr]struct{}))
}

func transform(v any, seen map[uintptr]struct{}) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = ErrorSentinel
		}
	}()

	if v == nil {
		return nil
	}

	switch t := v.(type) {
	case Former:
		return transform(t.CanonicalForm(), seen)
	case time.Time:
		return t.Format(TimeLayout)
	case uuid.UUID:
		return t.String()
	case decimal.Decimal:
		f, _ := t.Float64()
		return f
	case string:
		return t
	case bool:
		return t
	case error:
		return stringify(t)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return v
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		id := rv.Pointer()
		if _, ok := seen[id]; ok {
			return CycleSentinel
		}
		seen[id] = struct{}{}
		defer delete(seen, id)
		return transform(rv.Elem().Interface(), seen)
	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		id := rv.Pointer()
		if _, ok := seen[id]; ok {
			return CycleSentinel
		}
		seen[id] = struct{}{}
		defer delete(seen, id)
		return transformSequence(rv, seen)
	case reflect.Array:
		return transformSequence(rv, seen)
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		id := rv.Pointer()
		if _, ok := seen[id]; ok {
			return CycleSentinel
		}
		seen[id] = struct{}{}
		defer delete(seen, id)
		return transformMapping(rv, seen)
	case reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return transform(rv.Elem().Interface(), seen)
	default:
		return stringify(v)
	}
}

func transformSequence(rv reflect.Value, seen map[uintptr]struct{}) any {
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = transform(rv.Index(i).Interface(), seen)
	}
	return out
}

func transformMapping(rv reflect.Value, seen map[uintptr]struct{}) any {
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key, ok := iter.Key().Interface().(string)
		if !ok {
			key = stringify(iter.Key().Interface())
		}
		out[key] = transform(iter.Value().Interface(), seen)
	}
	return out
}

// stringify renders a value through its printable representation, guarding
// against formatting panics from hostile String methods.
func stringify(v any) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = ErrorSentinel
		}
	}()
	return fmt.Sprint(v)
}
