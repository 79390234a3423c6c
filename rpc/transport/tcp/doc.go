// Package tcp implements the relay transport over TCP sockets.
//
// Accepted and dialed connections get the socket options of
// common.TCPConf: TCP_NODELAY, keep-alive and linger. A connection whose
// options cannot be set is still used; the failure is logged.
package tcp
