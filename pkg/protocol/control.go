package protocol

// PingPong is the payload for heartbeat Ping and Pong messages. The client
// echoes the server's Seq back in its Pong.
type PingPong struct {
	Seq uint64 // Heartbeat sequence
}

// EncodePingPongTo encodes a PingPong using the provided encoder.
func EncodePingPongTo(e *Encoder, pp *PingPong) {
	e.WriteUvarint(pp.Seq)
}

// DecodePingPongFrom decodes a PingPong from a decoder.
func DecodePingPongFrom(d *Decoder) (*PingPong, error) {
	seq, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}
	return &PingPong{Seq: seq}, nil
}

// CloseReason indicates why the server is closing a connection. It is sent
// as the WebSocket close frame text.
type CloseReason string

const (
	CloseVersionMismatch CloseReason = "protocol version mismatch"
	CloseMalformed       CloseReason = "malformed message"
	CloseHeartbeat       CloseReason = "heartbeat timeout"
	CloseShutdown        CloseReason = "server shutting down"
)
