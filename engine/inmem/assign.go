package inmem

import (
	"fmt"
	"reflect"
)

// copyInto assigns src to the value dst points to via reflection. It is
// the in-memory engine's stand-in for Temporal's payload
// serialize/deserialize round trip: a real engine marshals through bytes,
// this one just needs the types to be assignable.
func copyInto(dst any, src any) error {
	if src == nil {
		return nil
	}
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("inmem: assign target must be a non-nil pointer, got %T", dst)
	}
	sv := reflect.ValueOf(src)
	elem := rv.Elem()
	if !sv.Type().AssignableTo(elem.Type()) {
		if sv.Type().ConvertibleTo(elem.Type()) {
			elem.Set(sv.Convert(elem.Type()))
			return nil
		}
		return fmt.Errorf("inmem: cannot assign %T into %s", src, elem.Type())
	}
	elem.Set(sv)
	return nil
}
