package serializer

import (
	"encoding/json"

	"github.com/ValentinKolb/tkv/lib/broadcast"
)

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer() IMessageSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IMessageSerializer interface using json encoding
type jsonSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IMessageSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Serialize(msg *broadcast.Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (j jsonSerializerImpl) Deserialize(b []byte, msg *broadcast.Message) error {
	*msg = broadcast.Message{}
	return json.Unmarshal(b, msg)
}
