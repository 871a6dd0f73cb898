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

// Package frame implements the OpenWire wire envelope: a single 4-byte
// big-endian length prefix followed by exactly that many bytes of
// already-marshalled command body.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultMaxFrameSize is the allocation guard used when a peer has not
// negotiated a smaller MaxFrameSize (see wireformat.Options).
const DefaultMaxFrameSize = 100 * 1024 * 1024

// Frame is one length-prefixed OpenWire command on the wire. Body is
// exactly the byte slice a WireFormat's Marshal/Unmarshal pair produces —
// this package only handles the outer length prefix, never the command
// bytes themselves.
type Frame struct {
	Body []byte
}

// Decode reads one length-prefixed frame from r, refusing to allocate a
// buffer larger than maxSize.
func (f *Frame) Decode(r io.Reader, maxSize int) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	if maxSize > 0 && int(size) > maxSize {
		return fmt.Errorf("frame: size (%d) exceeds max frame size (%d)", size, maxSize)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	f.Body = body
	return nil
}

// Encode writes f as a length-prefixed frame to w.
func (f *Frame) Encode(w io.Writer) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(f.Body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(f.Body)
	return err
}
