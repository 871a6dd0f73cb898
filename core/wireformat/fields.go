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

package wireformat

import "github.com/pepper-iot/openwire-client-go/core/wireformat/codec"

// fieldWriter lays out a command body as:
//
//	[required fields, declaration order]
//	[tight: packed presence bitmask | loose: nothing here]
//	[optional fields, declaration order, loose: presence-bool inline before each]
//
// This is the concrete realization of the loose/tight split: a
// tight body needs the full set of optional-field presence bits known up
// front (computed as each opt() call is made, in order) before any
// optional value is emitted, while a loose body can interleave the
// presence flag with its value as it goes.
type fieldWriter struct {
	tight   bool
	body    *codec.Writer
	bits    []bool
	optVals []func(w *codec.Writer)
}

func newFieldWriter(tight bool) *fieldWriter {
	return &fieldWriter{tight: tight, body: codec.NewWriter(64)}
}

// req appends a required field's value immediately.
func (f *fieldWriter) req(fn func(w *codec.Writer)) { fn(f.body) }

// opt appends an optional field, gated on present.
func (f *fieldWriter) opt(present bool, fn func(w *codec.Writer)) {
	if f.tight {
		f.bits = append(f.bits, present)
		if present {
			f.optVals = append(f.optVals, fn)
		}
		return
	}
	f.body.WriteBoolean(present)
	if present {
		fn(f.body)
	}
}

// bytes renders the final body.
func (f *fieldWriter) bytes() []byte {
	if !f.tight {
		return f.body.Bytes()
	}
	bw := &bitWriter{bits: f.bits}
	packed := bw.pack()
	out := make([]byte, 0, len(packed)+f.body.Len()+16)
	out = append(out, f.body.Bytes()...)
	out = append(out, packed...)
	valsW := codec.NewWriter(32)
	for _, fn := range f.optVals {
		fn(valsW)
	}
	out = append(out, valsW.Bytes()...)
	return out
}

// fieldReader is the decode-side mirror of fieldWriter. nOpt must equal
// the number of opt() calls the matching encoder made, in the same
// order — the schema is fixed per command type, so this is a compile-time
// constant at each call site.
type fieldReader struct {
	tight bool
	r     *codec.Reader
	nOpt  int
	bits  *bitReader
}

func newFieldReader(tight bool, r *codec.Reader, nOpt int) *fieldReader {
	return &fieldReader{tight: tight, r: r, nOpt: nOpt}
}

// beginOptional must be called once, after every required field has been
// read, and before the first optPresent call.
func (f *fieldReader) beginOptional() error {
	if !f.tight {
		return nil
	}
	b, err := f.r.ReadRaw(byteLen(f.nOpt))
	if err != nil {
		return wrapWireErr("reading tight presence bitmask", err)
	}
	f.bits = newBitReader(b)
	return nil
}

func (f *fieldReader) optPresent() (bool, error) {
	if f.tight {
		return f.bits.readBool(), nil
	}
	return f.r.ReadBoolean()
}
