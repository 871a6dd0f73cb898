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

import (
	"sort"

	"github.com/pepper-iot/openwire-client-go/core/command"
	"github.com/pepper-iot/openwire-client-go/core/wireformat/codec"
	"github.com/pepper-iot/openwire-client-go/errs"
)

// The id and destination types recur across nearly every command, so their
// wire shape lives here once rather than inline in every marshal/unmarshal
// function.

func writeConnectionID(w *codec.Writer, id command.ConnectionID) { w.WriteUTF(id.Value) }

func readConnectionID(r *codec.Reader) (command.ConnectionID, error) {
	v, err := r.ReadUTF()
	if err != nil {
		return command.ConnectionID{}, err
	}
	return command.ConnectionID{Value: v}, nil
}

func writeSessionID(w *codec.Writer, id command.SessionID) {
	writeConnectionID(w, id.ConnectionID)
	w.PutVarLong(id.Value)
}

func readSessionID(r *codec.Reader) (command.SessionID, error) {
	cid, err := readConnectionID(r)
	if err != nil {
		return command.SessionID{}, err
	}
	val, err := r.GetVarLong()
	if err != nil {
		return command.SessionID{}, err
	}
	return command.SessionID{ConnectionID: cid, Value: val}, nil
}

func writeConsumerID(w *codec.Writer, id command.ConsumerID) {
	writeSessionID(w, id.SessionID)
	w.PutVarLong(id.Value)
	w.WriteUTF(id.SubscriptionName)
}

func readConsumerID(r *codec.Reader) (command.ConsumerID, error) {
	sid, err := readSessionID(r)
	if err != nil {
		return command.ConsumerID{}, err
	}
	val, err := r.GetVarLong()
	if err != nil {
		return command.ConsumerID{}, err
	}
	sub, err := r.ReadUTF()
	if err != nil {
		return command.ConsumerID{}, err
	}
	return command.ConsumerID{SessionID: sid, Value: val, SubscriptionName: sub}, nil
}

func writeProducerID(w *codec.Writer, id command.ProducerID) {
	writeSessionID(w, id.SessionID)
	w.PutVarLong(id.Value)
}

func readProducerID(r *codec.Reader) (command.ProducerID, error) {
	sid, err := readSessionID(r)
	if err != nil {
		return command.ProducerID{}, err
	}
	val, err := r.GetVarLong()
	if err != nil {
		return command.ProducerID{}, err
	}
	return command.ProducerID{SessionID: sid, Value: val}, nil
}

func writeMessageID(w *codec.Writer, id command.MessageID) {
	writeProducerID(w, id.ProducerID)
	w.PutVarLong(id.ProducerSequenceID)
}

func readMessageID(r *codec.Reader) (command.MessageID, error) {
	pid, err := readProducerID(r)
	if err != nil {
		return command.MessageID{}, err
	}
	seq, err := r.GetVarLong()
	if err != nil {
		return command.MessageID{}, err
	}
	return command.MessageID{ProducerID: pid, ProducerSequenceID: seq}, nil
}

func writeLocalTransactionID(w *codec.Writer, id command.LocalTransactionID) {
	writeConnectionID(w, id.ConnectionID)
	w.PutVarLong(id.Value)
}

func readLocalTransactionID(r *codec.Reader) (command.LocalTransactionID, error) {
	cid, err := readConnectionID(r)
	if err != nil {
		return command.LocalTransactionID{}, err
	}
	val, err := r.GetVarLong()
	if err != nil {
		return command.LocalTransactionID{}, err
	}
	return command.LocalTransactionID{ConnectionID: cid, Value: val}, nil
}

// Cache markers for destination fields. With CacheEnabled negotiated the
// encoder assigns each distinct destination an index and a repeat
// transmission shrinks to a bare index reference; the decoder mirrors
// the table using the explicit index carried alongside each stored
// value.
const (
	destInline byte = 0 // full value, caching off
	destStore  byte = 1 // index + full value, receiver registers it
	destRef    byte = 2 // index of a previously stored value
)

// writeDest is the cache-aware destination writer used for top-level
// command fields; nested composite components always go inline through
// writeDestination.
func (e *encoder) writeDest(w *codec.Writer, d command.Destination) {
	wf := e.wf
	wf.mu.Lock()
	enabled := wf.negotiated && wf.opts.CacheEnabled
	if !enabled {
		wf.mu.Unlock()
		w.WriteByte(destInline)
		writeDestination(w, d)
		return
	}
	key := d.String()
	if idx, ok := wf.writeCache.lookup(key); ok {
		wf.mu.Unlock()
		w.WriteByte(destRef)
		w.WriteInt(int32(idx))
		return
	}
	idx := wf.writeCache.add(key)
	wf.mu.Unlock()
	w.WriteByte(destStore)
	w.WriteInt(int32(idx))
	writeDestination(w, d)
}

// readDest mirrors writeDest on the decode side; a reference to an index
// this side never saw stored is structural corruption.
func (d *decoder) readDest(r *codec.Reader) (command.Destination, error) {
	marker, err := r.ReadByte()
	if err != nil {
		return command.Destination{}, err
	}
	switch marker {
	case destInline:
		return readDestination(r)
	case destStore:
		idx, err := r.ReadInt()
		if err != nil {
			return command.Destination{}, err
		}
		dest, err := readDestination(r)
		if err != nil {
			return command.Destination{}, err
		}
		d.wf.mu.Lock()
		d.wf.readCache.store(int(idx), dest.String())
		d.wf.mu.Unlock()
		return dest, nil
	case destRef:
		idx, err := r.ReadInt()
		if err != nil {
			return command.Destination{}, err
		}
		d.wf.mu.Lock()
		key, ok := d.wf.readCache.resolve(int(idx))
		d.wf.mu.Unlock()
		if !ok {
			return command.Destination{}, errs.New(errs.KindWireFormat, "destination cache reference to unknown index")
		}
		return command.ParseDestination(key), nil
	default:
		return command.Destination{}, errs.New(errs.KindWireFormat, "bad destination cache marker")
	}
}

// writeDestination recurses for composite destinations; cache-by-index
// handling lives one level up in writeDest/readDest, keeping this helper
// usable for nested composite components too.
func writeDestination(w *codec.Writer, d command.Destination) {
	w.WriteByte(byte(d.Kind))
	w.WriteBoolean(d.IsComposite())
	if d.IsComposite() {
		w.WriteInt(int32(len(d.Components)))
		for _, c := range d.Components {
			writeDestination(w, c)
		}
		return
	}
	w.WriteUTF(d.Name)
	w.WriteInt(int32(len(d.Options)))
	keys := make([]string, 0, len(d.Options))
	for k := range d.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		w.WriteUTF(k)
		w.WriteUTF(d.Options[k])
	}
}

func readDestination(r *codec.Reader) (command.Destination, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return command.Destination{}, err
	}
	isComposite, err := r.ReadBoolean()
	if err != nil {
		return command.Destination{}, err
	}
	if isComposite {
		n, err := r.ReadInt()
		if err != nil {
			return command.Destination{}, err
		}
		comps := make([]command.Destination, int(n))
		for i := range comps {
			comps[i], err = readDestination(r)
			if err != nil {
				return command.Destination{}, err
			}
		}
		return command.Destination{Kind: command.DestinationKind(kindByte), Components: comps}, nil
	}
	name, err := r.ReadUTF()
	if err != nil {
		return command.Destination{}, err
	}
	nopts, err := r.ReadInt()
	if err != nil {
		return command.Destination{}, err
	}
	var opts map[string]string
	if nopts > 0 {
		opts = make(map[string]string, int(nopts))
		for i := int32(0); i < nopts; i++ {
			k, err := r.ReadUTF()
			if err != nil {
				return command.Destination{}, err
			}
			v, err := r.ReadUTF()
			if err != nil {
				return command.Destination{}, err
			}
			opts[k] = v
		}
	}
	return command.Destination{Kind: command.DestinationKind(kindByte), Name: name, Options: opts}, nil
}
