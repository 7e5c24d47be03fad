// Package encoding provides the wire codec, the stored record-stream codec
// and centralized msgpack serialization for rerelay.
// ALL msgpack operations MUST go through this package to ensure consistent behavior.
//
// Thread Safety: Marshal, Unmarshal, EncodeFrame and DecodeFrame are safe for
// concurrent use. Encoder and Decoder are not.
package encoding

import (
	"bytes"
	"sync"

	"github.com/brainlesscar/rerelay/common"
	"github.com/vmihailenco/msgpack/v5"
)

type encoderPoolEntry struct {
	buf *bytes.Buffer
	enc *msgpack.Encoder
}

var encoderPool = sync.Pool{
	New: func() interface{} {
		buf := &bytes.Buffer{}
		enc := msgpack.NewEncoder(buf)
		return &encoderPoolEntry{buf: buf, enc: enc}
	},
}

// Marshal encodes a value to msgpack format.
// The returned slice is owned by the caller.
func Marshal(v interface{}) ([]byte, error) {
	entry := encoderPool.Get().(*encoderPoolEntry)
	defer encoderPool.Put(entry)
	entry.buf.Reset()

	if err := entry.enc.Encode(v); err != nil {
		return nil, err
	}

	out := make([]byte, entry.buf.Len())
	copy(out, entry.buf.Bytes())
	return out, nil
}

// Unmarshal decodes msgpack data into v.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	return dec.Decode(v)
}

// MarshalMsg serializes a telemetry record into an event body
func MarshalMsg(msg common.Msg) ([]byte, error) {
	return Marshal(&msg)
}

// UnmarshalMsg parses an event body produced by MarshalMsg
func UnmarshalMsg(data []byte) (common.Msg, error) {
	var msg common.Msg
	if err := Unmarshal(data, &msg); err != nil {
		return common.Msg{}, err
	}
	return msg, nil
}
