package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType is the kind of a coherence message
type MessageType string

const (
	// TypeInvalidate drops the key, or every key if the message has no key.
	TypeInvalidate MessageType = "invalidate"
	// TypeUpdate announces a write to the key in another context.
	TypeUpdate MessageType = "update"
)

// Message is the wire format exchanged between contexts: {"type":..., "key":...}.
//
// The key is optional on the wire. A message without a key (All set) addresses
// every key, while a present key, including the empty string, addresses
// exactly that key.
type Message struct {
	Type MessageType
	Key  string
	All  bool
}

// ErrInvalidMessage is returned for messages with an unknown type or a
// missing key where one is required.
var ErrInvalidMessage = errors.New("broadcast: invalid message")

// Invalidate returns an invalidate message for key.
func Invalidate(key string) *Message {
	return &Message{Type: TypeInvalidate, Key: key}
}

// InvalidateAll returns an invalidate message without a key.
func InvalidateAll() *Message {
	return &Message{Type: TypeInvalidate, All: true}
}

// Update returns an update message for key.
func Update(key string) *Message {
	return &Message{Type: TypeUpdate, Key: key}
}

// Validate checks the message type and that update messages name a key.
func (m *Message) Validate() error {
	switch m.Type {
	case TypeInvalidate:
		return nil
	case TypeUpdate:
		if m.All {
			return fmt.Errorf("%w: update without key", ErrInvalidMessage)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
}

func (m *Message) String() string {
	if m.All {
		return string(m.Type) + "(*)"
	}
	return fmt.Sprintf("%s(%q)", m.Type, m.Key)
}

// wireMessage is the JSON shape, a nil Key is an absent key
type wireMessage struct {
	Type MessageType `json:"type"`
	Key  *string     `json:"key,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{Type: m.Type}
	if !m.All {
		key := m.Key
		w.Key = &key
	}
	return json.Marshal(w)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Message{Type: w.Type, All: w.Key == nil}
	if w.Key != nil {
		m.Key = *w.Key
	}
	return nil
}
