package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/tkv/lib/broadcast"
)

// NewBinarySerializer creates a new serializer using a compact binary format
func NewBinarySerializer() IMessageSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IMessageSerializer using a custom binary format:
//
//	1 byte type | 1 byte flags | [4 bytes key length | key]
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasKey byte = 1 << 0
)

// wire codes of the message types
const (
	codeInvalidate byte = 1
	codeUpdate     byte = 2
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IMessageSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg *broadcast.Message) ([]byte, error) {
	var code byte
	switch msg.Type {
	case broadcast.TypeInvalidate:
		code = codeInvalidate
	case broadcast.TypeUpdate:
		code = codeUpdate
	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}

	size := 2
	if !msg.All {
		size += 4 + len(msg.Key)
	}
	result := make([]byte, size)
	result[0] = code

	if !msg.All {
		result[1] |= hasKey
		binary.BigEndian.PutUint32(result[2:6], uint32(len(msg.Key)))
		copy(result[6:], msg.Key)
	}

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *broadcast.Message) error {
	if len(data) < 2 {
		return fmt.Errorf("data too short for header: %d bytes", len(data))
	}

	*msg = broadcast.Message{}

	switch data[0] {
	case codeInvalidate:
		msg.Type = broadcast.TypeInvalidate
	case codeUpdate:
		msg.Type = broadcast.TypeUpdate
	default:
		return fmt.Errorf("unknown message type code %d", data[0])
	}

	flags := data[1]
	pos := 2

	msg.All = flags&hasKey == 0
	if !msg.All {
		if len(data) < pos+4 {
			return fmt.Errorf("data too short for key length")
		}
		keyLen := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4

		if len(data) < pos+keyLen {
			return fmt.Errorf("data too short for key: need %d bytes, have %d", keyLen, len(data)-pos)
		}
		msg.Key = string(data[pos : pos+keyLen])
		pos += keyLen
	}

	if pos != len(data) {
		return fmt.Errorf("%d trailing bytes after message", len(data)-pos)
	}
	return nil
}
