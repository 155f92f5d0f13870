package protocol

import "fmt"

// MessageType identifies the type of protocol message. Every post-handshake
// WebSocket binary message begins with one MessageType byte.
type MessageType uint8

const (
	// Handshake messages.
	MsgClientHello MessageType = 0x00
	MsgServerHello MessageType = 0x01

	// Server → Client.
	MsgReload       MessageType = 0x10 // New program IR + state diff
	MsgCompileError MessageType = 0x11 // Compile diagnostics
	MsgPing         MessageType = 0x12 // Heartbeat probe

	// Client → Server.
	MsgReady       MessageType = 0x20 // Client finished applying initial program
	MsgAck         MessageType = 0x21 // Acknowledges a Reload
	MsgPong        MessageType = 0x22 // Heartbeat response
	MsgStateReport MessageType = 0x23 // Client-initiated state snapshot
)

// String returns the string representation of the message type.
func (mt MessageType) String() string {
	switch mt {
	case MsgClientHello:
		return "ClientHello"
	case MsgServerHello:
		return "ServerHello"
	case MsgReload:
		return "Reload"
	case MsgCompileError:
		return "CompileError"
	case MsgPing:
		return "Ping"
	case MsgReady:
		return "Ready"
	case MsgAck:
		return "Ack"
	case MsgPong:
		return "Pong"
	case MsgStateReport:
		return "StateReport"
	default:
		return "Unknown"
	}
}

// ErrUnknownMessage is returned when a message type byte is not recognized.
type ErrUnknownMessage struct {
	Type MessageType
}

func (e *ErrUnknownMessage) Error() string {
	return fmt.Sprintf("protocol: unknown message type 0x%02x", uint8(e.Type))
}

// EncodeMessage encodes a message envelope: one type byte followed by the
// type-specific payload. msg must be one of the message structs in this
// package; Ready carries no payload and accepts a nil msg.
func EncodeMessage(mt MessageType, msg any) ([]byte, error) {
	e := NewEncoder()
	e.WriteByte(byte(mt))

	switch mt {
	case MsgClientHello:
		EncodeClientHelloTo(e, msg.(*ClientHello))
	case MsgServerHello:
		EncodeServerHelloTo(e, msg.(*ServerHello))
	case MsgReload:
		EncodeReloadTo(e, msg.(*Reload))
	case MsgCompileError:
		EncodeCompileErrorTo(e, msg.(*CompileError))
	case MsgPing:
		EncodePingPongTo(e, msg.(*PingPong))
	case MsgPong:
		EncodePingPongTo(e, msg.(*PingPong))
	case MsgAck:
		EncodeAckTo(e, msg.(*Ack))
	case MsgStateReport:
		EncodeStateReportTo(e, msg.(*StateReport))
	case MsgReady:
		// No payload.
	default:
		return nil, &ErrUnknownMessage{Type: mt}
	}

	return e.Bytes(), nil
}

// DecodeMessage decodes a message envelope. The second return value is the
// decoded payload struct, or nil for payload-free messages (Ready).
func DecodeMessage(data []byte) (MessageType, any, error) {
	d := NewDecoder(data)
	b, err := d.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	mt := MessageType(b)

	switch mt {
	case MsgClientHello:
		msg, err := DecodeClientHelloFrom(d)
		return mt, msg, err
	case MsgServerHello:
		msg, err := DecodeServerHelloFrom(d)
		return mt, msg, err
	case MsgReload:
		msg, err := DecodeReloadFrom(d)
		return mt, msg, err
	case MsgCompileError:
		msg, err := DecodeCompileErrorFrom(d)
		return mt, msg, err
	case MsgPing, MsgPong:
		msg, err := DecodePingPongFrom(d)
		return mt, msg, err
	case MsgAck:
		msg, err := DecodeAckFrom(d)
		return mt, msg, err
	case MsgStateReport:
		msg, err := DecodeStateReportFrom(d)
		return mt, msg, err
	case MsgReady:
		return mt, nil, nil
	default:
		return mt, nil, &ErrUnknownMessage{Type: mt}
	}
}
