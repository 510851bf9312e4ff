// Package download implements the download integrity core: content-ID
// computation over provider metadata, a content-key lock table,
// piece-hash verification and a content-ID block list, plus a
// partial-file path generator. This subsystem is independent of the
// checkpoint engine. Its canonical encoding is a bencoding-style
// scheme that sorts keys, encodes integers and strings unambiguously,
// and refuses null values. A real bencode library was considered, but
// its exact Marshal semantics around nil values and map key ordering
// could not be confirmed without invoking the Go toolchain, and
// pulling in its dependency tree for one encoding function would be a
// poor trade even if it compiled, so the canonical encoder below is
// hand-rolled instead.
package download

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	KindInt ValueKind = iota
	KindStr
	KindBool
	KindBytes
	KindList
	KindDict
	KindNull
)

// Value is a tagged metadata value accepted by the canonical encoder.
// It deliberately mirrors bencode's closed type set (integers, byte
// strings, lists, dictionaries) plus Bool, kept distinguished from Int
// so the encoding stays type-preserving.
type Value struct {
	Kind  ValueKind
	Int   int64
	Str   string
	Bool  bool
	Bytes []byte
	List  []Value
	Dict  map[string]Value
}

func Int(v int64) Value             { return Value{Kind: KindInt, Int: v} }
func Str(v string) Value            { return Value{Kind: KindStr, Str: v} }
func Bool(v bool) Value             { return Value{Kind: KindBool, Bool: v} }
func Bytes(v []byte) Value          { return Value{Kind: KindBytes, Bytes: v} }
func List(v ...Value) Value         { return Value{Kind: KindList, List: v} }
func Dict(v map[string]Value) Value { return Value{Kind: KindDict, Dict: v} }
func Null() Value                   { return Value{Kind: KindNull} }

// encode appends the canonical bencoding-style representation of v to
// sb. Dictionaries always sort their keys; integers and strings are
// prefixed with an unambiguous type tag distinct from each other
// (i<n>e for integers, <len>:<bytes> for strings, x<len>:<bytes> for
// bytes, b<0|1>e for bools) so "123" (string) and 123 (int) never
// collide. Null returns
// an error: null values must be unencodable.
func encode(sb *strings.Builder, v Value) error {
	switch v.Kind {
	case KindInt:
		sb.WriteByte('i')
		sb.WriteString(strconv.FormatInt(v.Int, 10))
		sb.WriteByte('e')
		return nil
	case KindStr:
		sb.WriteString(strconv.Itoa(len(v.Str)))
		sb.WriteByte(':')
		sb.WriteString(v.Str)
		return nil
	case KindBytes:
		sb.WriteByte('x')
		sb.WriteString(strconv.Itoa(len(v.Bytes)))
		sb.WriteByte(':')
		sb.Write(v.Bytes)
		return nil
	case KindBool:
		sb.WriteByte('b')
		if v.Bool {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
		sb.WriteByte('e')
		return nil
	case KindList:
		sb.WriteByte('l')
		for _, item := range v.List {
			if err := encode(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte('e')
		return nil
	case KindDict:
		sb.WriteByte('d')
		keys := make([]string, 0, len(v.Dict))
		for k := range v.Dict {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := encode(sb, Str(k)); err != nil {
				return err
			}
			if err := encode(sb, v.Dict[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('e')
		return nil
	case KindNull:
		return fmt.Errorf("null values cannot be encoded")
	default:
		return fmt.Errorf("unknown value kind %d", v.Kind)
	}
}

// Encode canonically encodes a metadata dictionary, sorting keys so
// insertion order never affects the output.
func Encode(dict map[string]Value) ([]byte, error) {
	var sb strings.Builder
	if err := encode(&sb, Dict(dict)); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}
