package spanlog

import (
	"fmt"
	"math"
	"sort"
)

type fieldKind uint8

const (
	kindFloat64 fieldKind = iota
	kindInt64
	kindUint64
	kindID
	kindBool
	kindString
)

// Field is one typed key/value recorded on a span or event. Construct Fields
// with the typed constructors; values are stored as a tagged union and
// rendered without reflection.
type Field struct {
	Key  string
	str  string
	num  uint64
	id   ID
	kind fieldKind
}

// Float64 captures a floating-point value.
func Float64(key string, value float64) Field {
	return Field{Key: key, kind: kindFloat64, num: math.Float64bits(value)}
}

// Int64 captures a signed integer value.
func Int64(key string, value int64) Field {
	return Field{Key: key, kind: kindInt64, num: uint64(value)}
}

// Uint64 captures an unsigned integer value.
func Uint64(key string, value uint64) Field {
	return Field{Key: key, kind: kindUint64, num: value}
}

// IDField captures a 128-bit identifier value, rendered in its text encoding.
//
// The key "trace_id" is reserved: recorded at span creation on a span with no
// ancestor, it seeds the span's trace ID instead of becoming a field.
func IDField(key string, value ID) Field {
	return Field{Key: key, kind: kindID, id: value}
}

// Bool captures a boolean value.
func Bool(key string, value bool) Field {
	var n uint64
	if value {
		n = 1
	}
	return Field{Key: key, kind: kindBool, num: n}
}

// String captures a string value.
func String(key, value string) Field {
	return Field{Key: key, kind: kindString, str: value}
}

// Any captures an arbitrary value as its debug-formatted string. It is the
// fallback when no typed constructor matches.
func Any(key string, value interface{}) Field {
	return Field{Key: key, kind: kindString, str: fmt.Sprintf("%+v", value)}
}

// traceIDKey is the reserved field name diverted to trace-ID inheritance.
const traceIDKey = "trace_id"

// fieldSet is a span's or event's ordered-by-key field mapping.
type fieldSet struct {
	fields  map[string]Field
	traceID ID // diverted trace_id value, zero if none was recorded
}

func newFieldSet() *fieldSet {
	return &fieldSet{fields: make(map[string]Field)}
}

// record merges fields into the set, overwriting on key collision. A 128-bit
// trace_id field is diverted to the traceID slot rather than stored; only
// span creation consults it.
func (fs *fieldSet) record(fields []Field) {
	for _, f := range fields {
		if f.Key == traceIDKey && f.kind == kindID {
			fs.traceID = f.id
			continue
		}
		fs.fields[f.Key] = f
	}
}

func (fs *fieldSet) sortedKeys() []string {
	keys := make([]string, 0, len(fs.fields))
	for k := range fs.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
