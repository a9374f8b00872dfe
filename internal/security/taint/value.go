// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package taint

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/Dundanagoudp/flimfestival-sub002/internal/util"
)

// =============================================================================
// VALUE UNION
// =============================================================================

// Kind identifies the variant of a Value.
type Kind uint8

const (
	KindScalar Kind = iota
	KindSequence
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return "unknown"
	}
}

// Value is a node of untrusted data. The set of implementations is closed:
// Scalar, *Sequence and *Mapping.
type Value interface {
	Kind() Kind
	isValue()
}

// Scalar is a leaf value.
type Scalar struct {
	V any
}

// Sequence is an ordered list of values.
type Sequence struct {
	Items []Value
}

// Entry is one key/value pair of a Mapping.
type Entry struct {
	Key   string
	Value Value
}

// Mapping is a keyed collection of values.
type Mapping struct {
	Entries []Entry
}

func (Scalar) Kind() Kind    { return KindScalar }
func (*Sequence) Kind() Kind { return KindSequence }
func (*Mapping) Kind() Kind  { return KindMapping }

func (Scalar) isValue()    {}
func (*Sequence) isValue() {}
func (*Mapping) isValue()  {}

// String coerces the scalar to the string form the value rules match against.
func (s Scalar) String() string {
	switch v := s.V.(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return string(v)
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// =============================================================================
// CONVERSION
// =============================================================================

// identity keys a reference-typed Go value. Slices need the length too: two
// slices sharing a backing array but with different lengths are different nodes.
type identity struct {
	ptr uintptr
	typ reflect.Type
	n   int
}

type converter struct {
	seen map[identity]Value
}

var (
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	valueType         = reflect.TypeOf((*Value)(nil)).Elem()
)

// malformedJSON marks a json.Marshaler whose output does not parse. The
// scanner always flags it: data that cannot be inspected is not passed on.
type malformedJSON string

// maxMalformedRunes bounds the excerpt kept from unparseable output.
const maxMalformedRunes = 64

// FromAny converts an arbitrary Go value into the Value union.
//
// Maps become Mappings (keys rendered with fmt and sorted), slices and arrays
// become Sequences, structs become Mappings of their exported fields named by
// their json tags with embedded structs flattened as encoding/json does,
// pointers and interfaces are followed. Values implementing json.Marshaler,
// json.RawMessage included, are converted from the JSON they produce. Reference cycles are
// preserved: a map that contains itself yields a Mapping that contains itself.
func FromAny(v any) Value {
	if val, ok := v.(Value); ok && val != nil {
		return val
	}
	c := &converter{seen: make(map[identity]Value)}
	return c.convert(reflect.ValueOf(v), nil)
}

func (c *converter) convert(rv reflect.Value, via *identity) Value {
	if !rv.IsValid() {
		return Scalar{V: nil}
	}

	if rv.Type().Implements(valueType) && rv.Kind() != reflect.Interface && rv.CanInterface() {
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return Scalar{V: nil}
		}
		return rv.Interface().(Value)
	}

	if rv.Kind() != reflect.Interface && rv.CanInterface() && rv.Type().Implements(jsonMarshalerType) {
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return Scalar{V: nil}
		}
		return c.fromJSON(rv)
	}

	if rv.Kind() != reflect.Pointer && rv.Kind() != reflect.Interface && rv.CanInterface() &&
		rv.Type().Implements(textMarshalerType) {
		return Scalar{V: textOf(rv)}
	}

	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return Scalar{V: nil}
		}
		return c.convert(rv.Elem(), via)

	case reflect.Pointer:
		if rv.IsNil() {
			return Scalar{V: nil}
		}
		id := identity{ptr: rv.Pointer(), typ: rv.Type()}
		if seen, ok := c.seen[id]; ok {
			return seen
		}
		return c.convert(rv.Elem(), &id)

	case reflect.Map:
		if rv.IsNil() {
			return Scalar{V: nil}
		}
		id := identity{ptr: rv.Pointer(), typ: rv.Type()}
		if seen, ok := c.seen[id]; ok {
			return seen
		}
		m := &Mapping{}
		c.register(m, &id, via)

		keys := rv.MapKeys()
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = keyString(k)
		}
		order := make([]int, len(keys))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool { return names[order[a]] < names[order[b]] })

		m.Entries = make([]Entry, 0, len(keys))
		for _, i := range order {
			m.Entries = append(m.Entries, Entry{
				Key:   names[i],
				Value: c.convert(rv.MapIndex(keys[i]), nil),
			})
		}
		return m

	case reflect.Slice:
		if rv.IsNil() {
			return Scalar{V: nil}
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return Scalar{V: string(rv.Bytes())}
		}
		id := identity{ptr: rv.Pointer(), typ: rv.Type(), n: rv.Len()}
		if seen, ok := c.seen[id]; ok {
			return seen
		}
		seq := &Sequence{}
		c.register(seq, &id, via)
		seq.Items = c.items(rv)
		return seq

	case reflect.Array:
		seq := &Sequence{}
		c.register(seq, nil, via)
		seq.Items = c.items(rv)
		return seq

	case reflect.Struct:
		m := &Mapping{}
		c.register(m, nil, via)
		c.fields(m, rv)
		return m

	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128,
		reflect.String:
		if !rv.CanInterface() {
			return Scalar{V: fmt.Sprint(rv)}
		}
		return Scalar{V: rv.Interface()}

	default:
		// chan, func, unsafe.Pointer
		return Scalar{V: rv.Type().String()}
	}
}

func (c *converter) register(v Value, id, via *identity) {
	if id != nil {
		c.seen[*id] = v
	}
	if via != nil {
		c.seen[*via] = v
	}
}

func (c *converter) items(rv reflect.Value) []Value {
	items := make([]Value, rv.Len())
	for i := range items {
		items[i] = c.convert(rv.Index(i), nil)
	}
	return items
}

// fromJSON converts the output of a json.Marshaler.
func (c *converter) fromJSON(rv reflect.Value) Value {
	raw, err := rv.Interface().(json.Marshaler).MarshalJSON()
	if err != nil {
		return Scalar{V: malformedJSON(rv.Type().String())}
	}
	parsed, err := decodeJSON(raw)
	if err != nil {
		return Scalar{V: malformedJSON(util.TruncateRunes(string(raw), maxMalformedRunes))}
	}
	return c.convert(reflect.ValueOf(parsed), nil)
}

// structField is a candidate JSON field found while flattening a struct.
type structField struct {
	name   string
	depth  int
	tagged bool
	value  reflect.Value
}

func (c *converter) fields(m *Mapping, rv reflect.Value) {
	var all []structField
	collectFields(rv, 0, map[reflect.Type]bool{}, &all)

	byName := make(map[string][]structField)
	var order []string
	for _, f := range all {
		if _, ok := byName[f.name]; !ok {
			order = append(order, f.name)
		}
		byName[f.name] = append(byName[f.name], f)
	}
	for _, name := range order {
		f, ok := dominantField(byName[name])
		if !ok {
			continue
		}
		m.Entries = append(m.Entries, Entry{Key: name, Value: c.convert(f.value, nil)})
	}
}

// collectFields lists the JSON fields of rv in declaration order. Fields of
// untagged embedded structs are promoted one level deeper.
func collectFields(rv reflect.Value, depth int, onPath map[reflect.Type]bool, out *[]structField) {
	t := rv.Type()
	if onPath[t] {
		return
	}
	onPath[t] = true
	defer delete(onPath, t)

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		tagName, _, _ := strings.Cut(tag, ",")

		if f.Anonymous {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if !f.IsExported() && ft.Kind() != reflect.Struct {
				continue
			}
			if tagName == "" && ft.Kind() == reflect.Struct {
				fv := rv.Field(i)
				if fv.Kind() == reflect.Pointer {
					if fv.IsNil() {
						continue
					}
					fv = fv.Elem()
				}
				collectFields(fv, depth+1, onPath, out)
				continue
			}
		} else if !f.IsExported() {
			continue
		}

		name := f.Name
		if tagName != "" {
			name = tagName
		}
		*out = append(*out, structField{name: name, depth: depth, tagged: tagName != "", value: rv.Field(i)})
	}
}

// dominantField applies encoding/json's rule for duplicate names: the
// shallowest field wins, then a single tagged one; otherwise the name is dropped.
func dominantField(fields []structField) (structField, bool) {
	minDepth := fields[0].depth
	for _, f := range fields[1:] {
		if f.depth < minDepth {
			minDepth = f.depth
		}
	}
	var shallow, tagged []structField
	for _, f := range fields {
		if f.depth != minDepth {
			continue
		}
		shallow = append(shallow, f)
		if f.tagged {
			tagged = append(tagged, f)
		}
	}
	if len(shallow) == 1 {
		return shallow[0], true
	}
	if len(tagged) == 1 {
		return tagged[0], true
	}
	return structField{}, false
}

func keyString(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	if k.Kind() == reflect.Interface && !k.IsNil() && k.Elem().Kind() == reflect.String {
		return k.Elem().String()
	}
	if !k.CanInterface() {
		return fmt.Sprint(k)
	}
	return fmt.Sprint(k.Interface())
}

func textOf(rv reflect.Value) string {
	b, err := rv.Interface().(encoding.TextMarshaler).MarshalText()
	if err != nil {
		return ""
	}
	return string(b)
}
