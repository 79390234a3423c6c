// Package relay connects broadcast channels across processes.
//
// The Server accepts stream connections from a transport.Connector. A client
// names its channel in the first frame and then sends one frame per message.
// The server forwards each message frame verbatim to every other member of
// the channel and never back to the sender, so it does not need to know the
// serializer. Writes to a peer hold that peer's lock and carry the configured
// deadline; a peer that cannot be written to is disconnected.
//
// Opener and Dial are the client side. They return broadcast.Channel values
// that decode inbound frames into a mailbox and close it when the connection
// ends, which puts the owning broadcaster into degraded mode.
package relay
