package serializer

import (
	"fmt"

	"github.com/ValentinKolb/tkv/lib/broadcast"
)

// IMessageSerializer is the interface for all broadcast message serializers
type IMessageSerializer interface {
	// Serialize serializes a Message into a byte array
	Serialize(msg *broadcast.Message) ([]byte, error)
	// Deserialize deserializes a byte array into msg
	Deserialize(b []byte, msg *broadcast.Message) error
}

// ByName returns the serializer with the given name (json, gob, binary)
func ByName(name string) (IMessageSerializer, error) {
	switch name {
	case "json":
		return NewJSONSerializer(), nil
	case "gob":
		return NewGOBSerializer(), nil
	case "binary":
		return NewBinarySerializer(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s", name)
	}
}
