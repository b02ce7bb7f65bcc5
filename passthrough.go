package chronikcache

import (
	"reflect"

	"github.com/raipay/chronikcache/cacheengine"
	cerrors "github.com/raipay/chronikcache/errors"
)

var errType = reflect.TypeOf((*error)(nil)).Elem()

// Call dispatches an arbitrary indexer method by name, for anything the
// embedding indexer exposes beyond the narrow read/subscribe surface this
// package consumes directly. It resolves methods reflectively off the
// concrete client value passed to New (the way daemon.go inspects a
// concrete ServiceManager for its dynamic set of services), since the
// indexer.Client interface only names the methods chronikcache itself
// calls.
//
// A struct, pointer-to-struct or map result is wrapped as
// {"status": 3, "data": result} to mark it as an uncached passthrough
// response; everything else (slices, scalars) is returned as-is.
func (c *Cache) Call(name string, args ...interface{}) (interface{}, error) {
	v := reflect.ValueOf(c.client)
	m := v.MethodByName(name)
	if !m.IsValid() {
		return nil, cerrors.New(cerrors.NotFound, "indexer client has no method %q", name)
	}

	in := make([]reflect.Value, len(args))
	for i, a := range args {
		in[i] = reflect.ValueOf(a)
	}

	out := m.Call(in)
	if len(out) == 0 {
		return nil, nil
	}

	last := out[len(out)-1]
	if last.Type().Implements(errType) {
		if !last.IsNil() {
			return nil, last.Interface().(error)
		}
		if len(out) == 1 {
			return nil, nil
		}
		return wrapPassthrough(out[0].Interface()), nil
	}

	return wrapPassthrough(out[0].Interface()), nil
}

func wrapPassthrough(v interface{}) interface{} {
	if v == nil {
		return v
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Struct, reflect.Map:
		return map[string]interface{}{"status": cacheengine.StatusPassthrough, "data": v}
	case reflect.Ptr:
		if rv.Elem().Kind() == reflect.Struct {
			return map[string]interface{}{"status": cacheengine.StatusPassthrough, "data": v}
		}
	}
	return v
}
