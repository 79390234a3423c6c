// Package serializer encodes broadcast messages for the relay. All clients of
// one relay must use the same serializer; the relay forwards payloads without
// decoding them.
//
// Implementations:
//
//   - binarySerializerImpl: One type byte, one flags byte and the key if present.
//     The smallest payloads and the default.
//
//   - jsonSerializerImpl: The message's JSON form ({"type":...,"key":...}),
//     useful for debugging with generic tools.
//
//   - gobSerializerImpl: Go's gob encoding. Larger than both others since every
//     payload carries the type description.
//
// All serializers are stateless and safe for concurrent use.
//
// Usage:
//
//	s, err := serializer.ByName("binary")
//	data, err := s.Serialize(broadcast.Update("theme"))
//	var msg broadcast.Message
//	err = s.Deserialize(data, &msg)
package serializer
