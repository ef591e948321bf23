package endpoint

import (
	"encoding"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
)

// defaultFieldLimit bounds each decoded value unless a maxLength tag says
// otherwise.
var defaultFieldLimit = 16 * 1024

// Unmarshal populates dst, a non-nil pointer to a struct (or to a pointer to
// a struct), from the request's path values, query string and headers.
//
// Request bodies are never read: endpoints that accept a body read it
// themselves, with whatever size limit and decoding they need.
//
// Struct tags:
//   - `path:"name[,flag]"`   r.PathValue(name)
//   - `query:"name[,flag]"`  r.URL.Query()[name]
//   - `header:"name[,flag]"` r.Header[name], canonicalized
//   - `maxLength:"n"`        per-value byte limit; "" or "0" disables it
//
// A name of "-" skips the field; an empty name defaults to the lowercased
// field name. Flags select a decoding: base64 or base64url for []byte, json
// for any type. The first source (path, query, header) with a value wins.
// Untagged struct fields are decoded recursively; other untagged fields are
// looked up as path then query parameters.
//
// Values longer than the limit (16KB by default) and values that fail to
// decode produce a 400 EndpointError. Malformed tags produce a 500.
func Unmarshal(r *http.Request, dst any) error {
	if r == nil {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: nil request"))
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must be a non-nil pointer"))
	}
	root := v.Elem()
	if root.Kind() == reflect.Pointer {
		if root.IsNil() {
			root.Set(reflect.New(root.Type().Elem()))
		}
		root = root.Elem()
	}
	if root.Kind() != reflect.Struct {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must point to a struct"))
	}
	return decodeStruct(requestSources(r), root)
}

// source looks up the raw values for a parameter name.
type source struct {
	name   string
	lookup func(key string) []string
}

func requestSources(r *http.Request) []source {
	var query map[string][]string
	if r.URL != nil {
		query = r.URL.Query()
	}
	return []source{
		{"path", func(key string) []string {
			if v := r.PathValue(key); v != "" {
				return []string{v}
			}
			return nil
		}},
		{"query", func(key string) []string { return query[key] }},
		{"header", func(key string) []string { return r.Header[http.CanonicalHeaderKey(key)] }},
	}
}

type fieldTag struct {
	key      string
	encoding string
}

var textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()

func decodeStruct(sources []source, sv reflect.Value) error {
	t := sv.Type()
	for i := range t.NumField() {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		fv := sv.Field(i)

		tags := make(map[string]fieldTag, len(sources))
		skip := false
		for _, src := range sources {
			tag, ok, err := parseFieldTag(sf, src.name)
			if err != nil {
				return newEndpointError(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: field %s: %w", sf.Name, err))
			}
			if !ok {
				continue
			}
			if tag.key == "-" {
				skip = true
			}
			tags[src.name] = tag
		}
		if skip {
			continue
		}

		if len(tags) == 0 {
			if nested, ok := structTarget(fv); ok {
				if err := decodeStruct(sources, nested); err != nil {
					return err
				}
				continue
			}
			name := strings.ToLower(sf.Name)
			tags["path"] = fieldTag{key: name}
			tags["query"] = fieldTag{key: name}
		}

		limit, err := fieldLengthLimit(sf)
		if err != nil {
			return newEndpointError(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: field %s: %w", sf.Name, err))
		}

		for _, src := range sources {
			tag, ok := tags[src.name]
			if !ok {
				continue
			}
			values := src.lookup(tag.key)
			if len(values) == 0 {
				continue
			}
			for _, val := range values {
				if limit > 0 && len(val) > limit {
					return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q -> %s: value exceeds max length %d", src.name, tag.key, sf.Name, limit))
				}
			}
			if err := setField(fv, values, tag.encoding); err != nil {
				return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q -> %s: %w", src.name, tag.key, sf.Name, err))
			}
			break
		}
	}
	return nil
}

// structTarget returns the struct to recurse into for an untagged field, or
// false when the field is a leaf (including TextUnmarshaler structs).
func structTarget(fv reflect.Value) (reflect.Value, bool) {
	ft := fv.Type()
	if ft.Kind() == reflect.Pointer {
		ft = ft.Elem()
	}
	if ft.Kind() != reflect.Struct || reflect.PointerTo(ft).Implements(textUnmarshalerType) {
		return reflect.Value{}, false
	}
	if fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			fv.Set(reflect.New(ft))
		}
		fv = fv.Elem()
	}
	return fv, true
}

func parseFieldTag(sf reflect.StructField, key string) (fieldTag, bool, error) {
	val, ok := sf.Tag.Lookup(key)
	if !ok {
		return fieldTag{}, false, nil
	}
	name, flags, _ := strings.Cut(val, ",")
	tag := fieldTag{key: strings.TrimSpace(name)}
	if tag.key == "" {
		tag.key = strings.ToLower(sf.Name)
	}
	for _, f := range strings.Split(flags, ",") {
		switch f = strings.ToLower(strings.TrimSpace(f)); f {
		case "":
		case "base64", "base64url", "json":
			if tag.encoding != "" {
				return fieldTag{}, false, fmt.Errorf("%s tag: multiple encoding flags", key)
			}
			tag.encoding = f
		default:
			return fieldTag{}, false, fmt.Errorf("unknown %s tag flag %q", key, f)
		}
	}
	return tag, true, nil
}

func fieldLengthLimit(sf reflect.StructField) (int, error) {
	val, ok := sf.Tag.Lookup("maxLength")
	if !ok {
		return defaultFieldLimit, nil
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("maxLength: invalid integer %q", val)
	}
	if n < 0 {
		return 0, errors.New("maxLength: must be >= 0")
	}
	return n, nil
}

// setField stores values in v. Slices other than []byte receive every value;
// everything else receives the first.
func setField(v reflect.Value, values []string, enc string) error {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}
	if v.Kind() == reflect.Slice && v.Type().Elem().Kind() != reflect.Uint8 && enc != "json" {
		out := reflect.MakeSlice(v.Type(), 0, len(values))
		for _, s := range values {
			elem := reflect.New(v.Type().Elem()).Elem()
			if err := setValue(elem, s, enc); err != nil {
				return err
			}
			out = reflect.Append(out, elem)
		}
		v.Set(out)
		return nil
	}
	return setValue(v, values[0], enc)
}

func setValue(v reflect.Value, s string, enc string) error {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}
	switch enc {
	case "json":
		return json.Unmarshal([]byte(s), v.Addr().Interface())
	case "base64", "base64url":
		if v.Kind() != reflect.Slice || v.Type().Elem().Kind() != reflect.Uint8 {
			return fmt.Errorf("encoding %q not supported for type %s", enc, v.Type())
		}
		codec := base64.StdEncoding
		if enc == "base64url" {
			codec = base64.RawURLEncoding
		}
		b, err := codec.DecodeString(strings.TrimSpace(s))
		if err != nil {
			return err
		}
		v.SetBytes(b)
		return nil
	}

	if u, ok := v.Addr().Interface().(encoding.TextUnmarshaler); ok {
		return u.UnmarshalText([]byte(s))
	}
	switch v.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Slice:
		v.SetBytes([]byte(s))
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetFloat(f)
	default:
		return fmt.Errorf("unsupported kind %s", v.Kind())
	}
	return nil
}
