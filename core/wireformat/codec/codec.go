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

// Package codec implements the primitive OpenWire encoding helpers: the
// length-prefixed, big-endian integer/string primitives, and the
// zigzag/varint pair used by tight-encoded long fields.
package codec

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// ErrEOF is returned when a read runs past the available bytes; callers
// in the wireformat package convert this into errs.KindIO at the
// transport boundary.
var ErrEOF = io.ErrUnexpectedEOF

// Writer accumulates an OpenWire-encoded command body.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with a pre-sized backing buffer.
func NewWriter(sizeHint int) *Writer {
	return &Writer{buf: make([]byte, 0, sizeHint)}
}

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) WriteBoolean(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) WriteByte(v byte) { w.buf = append(w.buf, v) }

func (w *Writer) WriteShort(v int16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteInt(v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteLong(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteFloat(v float32) { w.WriteInt(int32(math.Float32bits(v))) }

func (w *Writer) WriteDouble(v float64) { w.WriteLong(int64(math.Float64bits(v))) }

// WriteUTF writes a short (uint16-prefixed) UTF-8 string, used for fields
// that cannot exceed 65535 bytes once encoded.
func (w *Writer) WriteUTF(s string) error {
	if len(s) > math.MaxUint16 {
		return errors.New("codec: string too long for short UTF encoding")
	}
	w.WriteShort(int16(uint16(len(s))))
	w.buf = append(w.buf, s...)
	return nil
}

// WriteBigUTF writes a uint32-prefixed UTF-8 string, used for the
// "big string" primitive type and for message bodies.
func (w *Writer) WriteBigUTF(s string) {
	w.WriteInt(int32(uint32(len(s))))
	w.buf = append(w.buf, s...)
}

// WriteRaw appends raw bytes without any length prefix.
func (w *Writer) WriteRaw(b []byte) { w.buf = append(w.buf, b...) }

// WriteByteArray writes a uint32-prefixed byte array.
func (w *Writer) WriteByteArray(b []byte) {
	w.WriteInt(int32(uint32(len(b))))
	w.buf = append(w.buf, b...)
}

// PutVarLong writes a zigzag/varint encoded long, used by the tight
// encoding path. Tight encoding only benefits from this for small magnitude
// values; for values that don't compress, the varint still terminates in
// at most 10 bytes.
func (w *Writer) PutVarLong(v int64) {
	u := zigzagEncode(v)
	for u >= 0x80 {
		w.buf = append(w.buf, byte(u)|0x80)
		u >>= 7
	}
	w.buf = append(w.buf, byte(u))
}

func zigzagEncode(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func zigzagDecode(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

// Reader consumes an OpenWire-encoded command body.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential decoding.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// Remaining returns how many bytes are left to read.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return ErrEOF
	}
	return nil
}

func (r *Reader) ReadBoolean() (bool, error) {
	if err := r.need(1); err != nil {
		return false, err
	}
	v := r.buf[r.pos] != 0
	r.pos++
	return v, nil
}

func (r *Reader) ReadByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) ReadShort() (int16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := int16(binary.BigEndian.Uint16(r.buf[r.pos:]))
	r.pos += 2
	return v, nil
}

func (r *Reader) ReadInt() (int32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	return v, nil
}

func (r *Reader) ReadLong() (int64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := int64(binary.BigEndian.Uint64(r.buf[r.pos:]))
	r.pos += 8
	return v, nil
}

func (r *Reader) ReadFloat() (float32, error) {
	v, err := r.ReadInt()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(uint32(v)), nil
}

func (r *Reader) ReadDouble() (float64, error) {
	v, err := r.ReadLong()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(uint64(v)), nil
}

func (r *Reader) ReadUTF() (string, error) {
	n, err := r.ReadShort()
	if err != nil {
		return "", err
	}
	size := int(uint16(n))
	if err := r.need(size); err != nil {
		return "", err
	}
	s := string(r.buf[r.pos : r.pos+size])
	r.pos += size
	return s, nil
}

func (r *Reader) ReadBigUTF() (string, error) {
	n, err := r.ReadInt()
	if err != nil {
		return "", err
	}
	size := int(uint32(n))
	if err := r.need(size); err != nil {
		return "", err
	}
	s := string(r.buf[r.pos : r.pos+size])
	r.pos += size
	return s, nil
}

func (r *Reader) ReadByteArray() ([]byte, error) {
	n, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	size := int(uint32(n))
	if err := r.need(size); err != nil {
		return nil, err
	}
	b := make([]byte, size)
	copy(b, r.buf[r.pos:r.pos+size])
	r.pos += size
	return b, nil
}

func (r *Reader) ReadRaw(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// GetVarLong reads a zigzag/varint encoded long.
func (r *Reader) GetVarLong() (int64, error) {
	var u uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		u |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift > 63 {
			return 0, errors.New("codec: varint overflow")
		}
	}
	return zigzagDecode(u), nil
}
