// Package config merges backend configuration over defaults.
package config

import (
	"reflect"
)

// Merge copies every non-zero field of source onto target. Empty slices and
// maps count as zero. Both must point to the same struct type; anything else
// is a no-op.
//
//	cfg := ai.DefaultConfig()
//	config.Merge(cfg, userConfig)
func Merge[T any](target, source *T) {
	if target == nil || source == nil {
		return
	}

	dst, src := reflect.ValueOf(target).Elem(), reflect.ValueOf(source).Elem()
	if dst.Kind() != reflect.Struct {
		return
	}
	for i := range src.NumField() {
		if f := dst.Field(i); f.CanSet() && isSet(src.Field(i)) {
			f.Set(src.Field(i))
		}
	}
}

func isSet(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Slice, reflect.Map:
		return v.Len() > 0
	}
	return !v.IsZero()
}
