// Package common holds what the relay server, its clients and the CLI share.
//
// Key Components:
//
//   - RelayConfig: Endpoint, transport, serializer and timeouts of a relay,
//     with a String method for printing the effective configuration on startup.
//
//   - Logger: A dragonboat logger.Factory that gives every tkv package the same
//     line format. InitLoggers installs it and sets the level of all loggers.
package common
