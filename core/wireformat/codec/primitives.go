// Copyright 2018 Comcast Cable Communications Management, LLC
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package codec

import "fmt"

// Primitive value type tags, matching OpenWire's PrimitiveMap/PrimitiveList
// marshalling so a generic interface{} value round-trips without a schema.
const (
	typeNull byte = iota
	typeBoolean
	typeByte
	typeChar
	typeShort
	typeInteger
	typeLong
	typeDouble
	typeFloat
	typeString
	typeByteArray
	typeMap
	typeList
	typeBigString
)

// PrimitiveMap is a set of named primitive values, used for message
// properties. Marshal/UnmarshalPrimitiveMap serialize the whole map as one
// length-prefixed blob; Marshal writes entries in Go map iteration order.
// UnmarshalPrimitiveMap parses the blob in full; deferring that parse to
// the first named access is LazyProperties' job.
type PrimitiveMap map[string]interface{}

// Marshal encodes m into a single length-prefixed blob.
func (m PrimitiveMap) Marshal() []byte {
	w := NewWriter(64)
	w.WriteInt(int32(len(m)))
	for k, v := range m {
		_ = w.WriteUTF(k)
		marshalValue(w, v)
	}
	return w.Bytes()
}

func marshalValue(w *Writer, v interface{}) {
	switch t := v.(type) {
	case nil:
		w.WriteByte(typeNull)
	case bool:
		w.WriteByte(typeBoolean)
		w.WriteBoolean(t)
	case byte:
		w.WriteByte(typeByte)
		w.WriteByte(t)
	case int16:
		w.WriteByte(typeShort)
		w.WriteShort(t)
	case int32:
		w.WriteByte(typeInteger)
		w.WriteInt(t)
	case int64:
		w.WriteByte(typeLong)
		w.WriteLong(t)
	case float64:
		w.WriteByte(typeDouble)
		w.WriteDouble(t)
	case float32:
		w.WriteByte(typeFloat)
		w.WriteFloat(t)
	case string:
		if len(t) > 8192 {
			w.WriteByte(typeBigString)
			w.WriteBigUTF(t)
		} else {
			w.WriteByte(typeString)
			_ = w.WriteUTF(t)
		}
	case []byte:
		w.WriteByte(typeByteArray)
		w.WriteByteArray(t)
	case PrimitiveMap:
		w.WriteByte(typeMap)
		w.WriteRaw(t.Marshal())
	case PrimitiveList:
		w.WriteByte(typeList)
		w.WriteRaw(t.Marshal())
	default:
		// Unknown Go type: encode as its string form rather than fail the
		// whole blob; lazy unmarshal surfaces mismatches at the accessor.
		w.WriteByte(typeString)
		_ = w.WriteUTF(fmt.Sprintf("%v", t))
	}
}

// UnmarshalPrimitiveMap parses a blob produced by PrimitiveMap.Marshal.
// Structural errors here (truncated length, bad type tag, short read) are
// returned to the caller; the dispatch pipeline's lazy-property policy is
// implemented by deferring this call until first property access, not by
// anything in this function.
func UnmarshalPrimitiveMap(blob []byte) (PrimitiveMap, error) {
	r := NewReader(blob)
	n, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	count := int(n)
	if count < 0 || count > len(blob) {
		return nil, fmt.Errorf("codec: corrupt primitive map count %d", count)
	}
	m := make(PrimitiveMap, count)
	for i := 0; i < count; i++ {
		key, err := r.ReadUTF()
		if err != nil {
			return nil, err
		}
		val, err := unmarshalValue(r)
		if err != nil {
			return nil, err
		}
		m[key] = val
	}
	return m, nil
}

func unmarshalValue(r *Reader) (interface{}, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case typeNull:
		return nil, nil
	case typeBoolean:
		return r.ReadBoolean()
	case typeByte:
		return r.ReadByte()
	case typeShort:
		return r.ReadShort()
	case typeInteger:
		return r.ReadInt()
	case typeLong:
		return r.ReadLong()
	case typeDouble:
		return r.ReadDouble()
	case typeFloat:
		return r.ReadFloat()
	case typeString:
		return r.ReadUTF()
	case typeBigString:
		return r.ReadBigUTF()
	case typeByteArray:
		return r.ReadByteArray()
	case typeMap:
		// nested maps/lists are self-delimited by their own leading count,
		// so we hand the remainder of the reader to a fresh parse and let
		// it consume only what it needs.
		return unmarshalNestedMap(r)
	case typeList:
		return unmarshalNestedList(r)
	default:
		return nil, fmt.Errorf("codec: unknown primitive type tag %d", tag)
	}
}

func unmarshalNestedMap(r *Reader) (PrimitiveMap, error) {
	n, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	count := int(n)
	if count < 0 || count > r.Remaining() {
		return nil, fmt.Errorf("codec: corrupt nested map count %d", count)
	}
	m := make(PrimitiveMap, count)
	for i := 0; i < count; i++ {
		key, err := r.ReadUTF()
		if err != nil {
			return nil, err
		}
		val, err := unmarshalValue(r)
		if err != nil {
			return nil, err
		}
		m[key] = val
	}
	return m, nil
}

// PrimitiveList is an ordered list of primitive values.
type PrimitiveList []interface{}

// Marshal encodes l into a single length-prefixed blob.
func (l PrimitiveList) Marshal() []byte {
	w := NewWriter(32)
	w.WriteInt(int32(len(l)))
	for _, v := range l {
		marshalValue(w, v)
	}
	return w.Bytes()
}

// UnmarshalPrimitiveList parses a blob produced by PrimitiveList.Marshal.
func UnmarshalPrimitiveList(blob []byte) (PrimitiveList, error) {
	r := NewReader(blob)
	return unmarshalNestedList(r)
}

func unmarshalNestedList(r *Reader) (PrimitiveList, error) {
	n, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	count := int(n)
	if count < 0 || count > r.Remaining() {
		return nil, fmt.Errorf("codec: corrupt list count %d", count)
	}
	l := make(PrimitiveList, count)
	for i := 0; i < count; i++ {
		v, err := unmarshalValue(r)
		if err != nil {
			return nil, err
		}
		l[i] = v
	}
	return l, nil
}
