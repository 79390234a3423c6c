// Package unix implements the relay transport over Unix domain sockets, for
// contexts on the same machine. Listen removes a stale socket file before
// binding.
package unix
