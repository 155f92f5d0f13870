package protocol

// Version is the current protocol version. A client presenting any other
// version is rejected during the handshake and the connection is closed
// before any further message exchange.
const Version uint8 = 1

// HandshakeStatus represents the result of a handshake.
type HandshakeStatus uint8

const (
	HandshakeOK              HandshakeStatus = 0x00
	HandshakeVersionMismatch HandshakeStatus = 0x01
	HandshakeInvalidFormat   HandshakeStatus = 0x02 // Malformed handshake message
	HandshakeInternalError   HandshakeStatus = 0x03 // Server error
)

// String returns the string representation of the handshake status.
func (hs HandshakeStatus) String() string {
	switch hs {
	case HandshakeOK:
		return "OK"
	case HandshakeVersionMismatch:
		return "VersionMismatch"
	case HandshakeInvalidFormat:
		return "InvalidFormat"
	case HandshakeInternalError:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// ClientHello is sent by the client as the first message after the
// WebSocket connection is established.
type ClientHello struct {
	Version  uint8  // Protocol version
	Instance string // Free-form client instance name (empty is fine)
}

// ServerHello is the server's response to ClientHello. On any status other
// than HandshakeOK the server closes the connection immediately after
// sending it.
type ServerHello struct {
	Status   HandshakeStatus // Handshake result
	ClientID string          // Server-assigned connection ID
}

// EncodeClientHelloTo encodes a ClientHello using the provided encoder.
func EncodeClientHelloTo(e *Encoder, ch *ClientHello) {
	e.WriteByte(ch.Version)
	e.WriteString(ch.Instance)
}

// DecodeClientHelloFrom decodes a ClientHello from a decoder.
func DecodeClientHelloFrom(d *Decoder) (*ClientHello, error) {
	version, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	instance, err := d.ReadString()
	if err != nil {
		return nil, err
	}
	return &ClientHello{Version: version, Instance: instance}, nil
}

// EncodeServerHelloTo encodes a ServerHello using the provided encoder.
func EncodeServerHelloTo(e *Encoder, sh *ServerHello) {
	e.WriteByte(byte(sh.Status))
	e.WriteString(sh.ClientID)
}

// DecodeServerHelloFrom decodes a ServerHello from a decoder.
func DecodeServerHelloFrom(d *Decoder) (*ServerHello, error) {
	status, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	id, err := d.ReadString()
	if err != nil {
		return nil, err
	}
	return &ServerHello{Status: HandshakeStatus(status), ClientID: id}, nil
}

// NewClientHello creates a ClientHello with the current protocol version.
func NewClientHello(instance string) *ClientHello {
	return &ClientHello{Version: Version, Instance: instance}
}
