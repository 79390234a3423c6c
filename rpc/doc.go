// Package rpc connects tKV engines running in different processes.
//
// The package is organized into several subpackages:
//
//   - common: The relay configuration and the logger setup shared by all
//     commands.
//
//   - transport: Stream connectors (tcp, unix) and the frame format.
//
//   - serializer: Encodings of broadcast messages (binary, json, gob).
//
//   - relay: The relay server and the broadcast.Opener that dials it.
package rpc
