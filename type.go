// File: lixenwraith/cornflakes/type.go
package cornflakes

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// coerce converts a raw source value into the Go representation of kind.
// Sources deliver strings (INI, env), numbers, lists and maps; all are accepted
// where a lossless or conventional conversion exists.
func coerce(kind Kind, val any) (any, error) {
	if val == nil {
		return kind.zero(), nil
	}
	switch kind {
	case KindString:
		return toString(val)
	case KindInt:
		return toInt64(val)
	case KindFloat:
		return toFloat64(val)
	case KindBool:
		return toBool(val)
	case KindDuration:
		return toDuration(val)
	case KindStringList:
		return toStringSlice(val)
	case KindIntList:
		return toIntSlice(val)
	case KindMap:
		return toMap(val)
	default:
		return val, nil
	}
}

// toString attempts conversion from common types if the value isn't already a string.
func toString(val any) (string, error) {
	if strVal, ok := val.(string); ok {
		return strVal, nil
	}

	switch v := val.(type) {
	case fmt.Stringer:
		return v.String(), nil
	case []byte:
		return string(v), nil
	case int, int8, int16, int32, int64:
		return strconv.FormatInt(reflect.ValueOf(val).Int(), 10), nil
	case uint, uint8, uint16, uint32, uint64:
		return strconv.FormatUint(reflect.ValueOf(val).Uint(), 10), nil
	case float32, float64:
		return strconv.FormatFloat(reflect.ValueOf(val).Float(), 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case error:
		return v.Error(), nil
	}

	if rv := reflect.ValueOf(val); rv.Kind() == reflect.String {
		return rv.String(), nil
	}
	return "", fmt.Errorf("cannot convert type %T to string", val)
}

// toInt64 attempts conversion from numeric types, parsable strings, and booleans.
func toInt64(val any) (int64, error) {
	v := reflect.ValueOf(val)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := v.Uint()
		maxInt64 := int64(^uint64(0) >> 1)
		if u > uint64(maxInt64) {
			return 0, fmt.Errorf("cannot convert unsigned integer %d (type %T) to int64: overflow", u, val)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if f != float64(int64(f)) {
			return 0, fmt.Errorf("cannot convert float %v to int64 without losing precision", f)
		}
		return int64(f), nil
	case reflect.String:
		s := strings.TrimSpace(v.String())
		i, err := strconv.ParseInt(s, 0, 64) // base 0 accepts 0x, 0o, 0b prefixes
		if err != nil {
			return 0, fmt.Errorf("cannot convert string %q to int64: %w", s, err)
		}
		return i, nil
	case reflect.Bool:
		if v.Bool() {
			return 1, nil
		}
		return 0, nil
	}

	return 0, fmt.Errorf("cannot convert type %T to int64", val)
}

// toFloat64 attempts conversion from numeric types, parsable strings, and booleans.
func toFloat64(val any) (float64, error) {
	v := reflect.ValueOf(val)
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), nil
	case reflect.String:
		s := strings.TrimSpace(v.String())
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0.0, fmt.Errorf("cannot convert string %q to float64: %w", s, err)
		}
		return f, nil
	case reflect.Bool:
		if v.Bool() {
			return 1.0, nil
		}
		return 0.0, nil
	}

	return 0.0, fmt.Errorf("cannot convert type %T to float64", val)
}

// toBool accepts numeric types (0=false, non-zero=true) and parsable strings.
// INI style yes/no and on/off are accepted as well.
func toBool(val any) (bool, error) {
	v := reflect.ValueOf(val)
	switch v.Kind() {
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.String:
		s := strings.ToLower(strings.TrimSpace(v.String()))
		switch s {
		case "yes", "on":
			return true, nil
		case "no", "off", "":
			return false, nil
		}
		b, err := strconv.ParseBool(s)
		if err != nil {
			return false, fmt.Errorf("cannot convert string %q to bool: %w", s, err)
		}
		return b, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() != 0, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() != 0, nil
	case reflect.Float32, reflect.Float64:
		return v.Float() != 0, nil
	}

	return false, fmt.Errorf("cannot convert type %T to bool", val)
}

// toDuration parses duration strings; bare numbers are taken as seconds.
func toDuration(val any) (time.Duration, error) {
	switch v := val.(type) {
	case time.Duration:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if d, err := time.ParseDuration(s); err == nil {
			return d, nil
		}
		secs, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string %q to duration", s)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	secs, err := toFloat64(val)
	if err != nil {
		return 0, fmt.Errorf("cannot convert type %T to duration", val)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// toStringSlice accepts lists and comma-separated strings.
func toStringSlice(val any) ([]string, error) {
	if s, ok := val.(string); ok {
		return splitList(s), nil
	}

	v := reflect.ValueOf(val)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		s, err := toString(val)
		if err != nil {
			return nil, fmt.Errorf("cannot convert type %T to []string", val)
		}
		return []string{s}, nil
	}

	out := make([]string, v.Len())
	for i := 0; i < v.Len(); i++ {
		s, err := toString(v.Index(i).Interface())
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = s
	}
	return out, nil
}

// toIntSlice accepts lists and comma-separated strings.
func toIntSlice(val any) ([]int64, error) {
	var elems []any
	if s, ok := val.(string); ok {
		for _, part := range splitList(s) {
			elems = append(elems, part)
		}
	} else {
		v := reflect.ValueOf(val)
		if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
			elems = []any{val}
		} else {
			for i := 0; i < v.Len(); i++ {
				elems = append(elems, v.Index(i).Interface())
			}
		}
	}

	out := make([]int64, len(elems))
	for i, elem := range elems {
		n, err := toInt64(elem)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = n
	}
	return out, nil
}

func toMap(val any) (map[string]any, error) {
	switch v := val.(type) {
	case map[string]any:
		return v, nil
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, sub := range v {
			out[fmt.Sprintf("%v", k)] = sub
		}
		return out, nil
	}

	rv := reflect.ValueOf(val)
	if rv.Kind() == reflect.Map {
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprintf("%v", iter.Key().Interface())] = iter.Value().Interface()
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot convert type %T to map", val)
}

// splitList splits a comma-separated list, tolerating surrounding brackets.
func splitList(s string) []string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.Trim(strings.TrimSpace(part), `"'`))
	}
	return out
}
