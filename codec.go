package kestrel

import (
	"bytes"
	"encoding/gob"
)

// Codec is the wire transform used by durable JobQueue implementations to
// turn a Job's payload into bytes and back. This is the external "Job
// codec" of spec.md §6; the core never inspects the bytes itself.
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// gobCodec is the default Codec, adapted directly from the teacher's
// gobCodec in gob_codec.go.
type gobCodec struct{}

// Marshal serializes v with encoding/gob.
func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data into v with encoding/gob.
func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// DefaultCodec is the gob-backed Codec used when none is supplied.
var DefaultCodec Codec = gobCodec{}
