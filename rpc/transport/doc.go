// Package transport provides the stream connections and the framing used by
// the relay.
//
// Key Components:
//
//   - Connector: Creates listeners and client connections for one socket type.
//     Implementations live in the tcp and unix subpackages.
//
//   - WriteFrame / ReadFrame: The wire format shared by all connectors:
//
//     1 byte kind | 4 bytes payload length (big endian) | payload
//
//     A connection starts with a join frame naming the channel, every later
//     frame is a message frame carrying one serialized broadcast message.
package transport
