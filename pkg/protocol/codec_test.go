package protocol

import (
	"bytes"
	"testing"
)

func TestEncoderDecoder_Roundtrip(t *testing.T) {
	e := NewEncoder()
	e.WriteByte(0x42)
	e.WriteUvarint(0)
	e.WriteUvarint(127)
	e.WriteUvarint(128)
	e.WriteUvarint(1 << 40)
	e.WriteString("hello")
	e.WriteString("")
	e.WriteLenBytes([]byte{1, 2, 3})
	e.WriteBool(true)
	e.WriteBool(false)
	e.WriteStrings([]string{"a", "bb", "ccc"})

	d := NewDecoder(e.Bytes())

	if b, err := d.ReadByte(); err != nil || b != 0x42 {
		t.Fatalf("ReadByte = %v, %v", b, err)
	}
	for _, want := range []uint64{0, 127, 128, 1 << 40} {
		got, err := d.ReadUvarint()
		if err != nil || got != want {
			t.Fatalf("ReadUvarint = %v, %v; want %v", got, err, want)
		}
	}
	if s, err := d.ReadString(); err != nil || s != "hello" {
		t.Fatalf("ReadString = %q, %v", s, err)
	}
	if s, err := d.ReadString(); err != nil || s != "" {
		t.Fatalf("ReadString empty = %q, %v", s, err)
	}
	if b, err := d.ReadLenBytes(); err != nil || !bytes.Equal(b, []byte{1, 2, 3}) {
		t.Fatalf("ReadLenBytes = %v, %v", b, err)
	}
	if v, err := d.ReadBool(); err != nil || v != true {
		t.Fatalf("ReadBool = %v, %v", v, err)
	}
	if v, err := d.ReadBool(); err != nil || v != false {
		t.Fatalf("ReadBool = %v, %v", v, err)
	}
	ss, err := d.ReadStrings()
	if err != nil || len(ss) != 3 || ss[2] != "ccc" {
		t.Fatalf("ReadStrings = %v, %v", ss, err)
	}
	if !d.EOF() {
		t.Errorf("expected EOF, %d bytes remaining", d.Remaining())
	}
}

func TestDecoder_Truncated(t *testing.T) {
	e := NewEncoder()
	e.WriteString("truncate me")
	full := e.Bytes()

	for i := 0; i < len(full); i++ {
		d := NewDecoder(full[:i])
		if _, err := d.ReadString(); err == nil {
			t.Errorf("ReadString on %d-byte prefix: expected error", i)
		}
	}
}

func TestDecoder_InvalidBool(t *testing.T) {
	d := NewDecoder([]byte{0x07})
	if _, err := d.ReadBool(); err != ErrInvalidBool {
		t.Errorf("expected ErrInvalidBool, got %v", err)
	}
}

func TestDecoder_VarintOverflow(t *testing.T) {
	buf := bytes.Repeat([]byte{0xFF}, 11)
	d := NewDecoder(buf)
	if _, err := d.ReadUvarint(); err != ErrVarintOverflow {
		t.Errorf("expected ErrVarintOverflow, got %v", err)
	}
}

func TestEncoder_Reset(t *testing.T) {
	e := NewEncoder()
	e.WriteString("first")
	e.Reset()
	e.WriteByte(0x01)

	if e.Len() != 1 {
		t.Errorf("Len after reset = %d, want 1", e.Len())
	}
}
