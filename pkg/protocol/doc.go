// Package protocol implements the hot-reload wire protocol spoken between
// the dev server and connected live instances.
//
// A connection starts with a handshake: the client sends a ClientHello
// carrying its protocol version, the server answers with a ServerHello. A
// version mismatch closes the connection with HandshakeVersionMismatch and
// no further messages are exchanged.
//
// After the handshake every WebSocket binary message carries exactly one
// protocol message: a one-byte message type followed by the type-specific
// payload, encoded with the varint-based binary codec in this package.
//
// Server to client: Reload, CompileError, Ping.
// Client to server: Ready, Ack, Pong, StateReport.
package protocol
