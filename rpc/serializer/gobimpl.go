package serializer

import (
	"bytes"
	"encoding/gob"

	"github.com/ValentinKolb/tkv/lib/broadcast"
)

// NewGOBSerializer creates a new serializer using Go's binary gob format
func NewGOBSerializer() IMessageSerializer {
	return &gobSerializerImpl{}
}

// gobSerializerImpl implements the IMessageSerializer interface using gob encoding
type gobSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IMessageSerializer)
// --------------------------------------------------------------------------

func (g gobSerializerImpl) Serialize(msg *broadcast.Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g gobSerializerImpl) Deserialize(b []byte, msg *broadcast.Message) error {
	// gob leaves absent fields untouched
	*msg = broadcast.Message{}
	dec := gob.NewDecoder(bytes.NewReader(b))
	return dec.Decode(msg)
}
