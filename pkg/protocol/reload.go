package protocol

// StateDiff describes how live state carries across a reload, keyed by
// stable node identity.
type StateDiff struct {
	Preserved []string // Same identity, same type: value survives
	Reset     []string // Identity gone or type changed: back to defaults
	Added     []string // New in this program version
}

// Reload carries a newly compiled program to a live instance. Seq increases
// monotonically per server; a client acks the Seq it applied. The server
// never delivers an older Reload after a newer one.
type Reload struct {
	Seq  uint64    // Server-assigned reload sequence
	IR   []byte    // Merged program IR
	Diff StateDiff // State carry-over plan for this swap
}

// EncodeReloadTo encodes a Reload using the provided encoder.
func EncodeReloadTo(e *Encoder, r *Reload) {
	e.WriteUvarint(r.Seq)
	e.WriteLenBytes(r.IR)
	e.WriteStrings(r.Diff.Preserved)
	e.WriteStrings(r.Diff.Reset)
	e.WriteStrings(r.Diff.Added)
}

// DecodeReloadFrom decodes a Reload from a decoder.
func DecodeReloadFrom(d *Decoder) (*Reload, error) {
	r := &Reload{}
	var err error

	r.Seq, err = d.ReadUvarint()
	if err != nil {
		return nil, err
	}
	r.IR, err = d.ReadLenBytes()
	if err != nil {
		return nil, err
	}
	r.Diff.Preserved, err = d.ReadStrings()
	if err != nil {
		return nil, err
	}
	r.Diff.Reset, err = d.ReadStrings()
	if err != nil {
		return nil, err
	}
	r.Diff.Added, err = d.ReadStrings()
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Ack acknowledges a Reload. Applied is false when the client received the
// program but could not apply it.
type Ack struct {
	Seq     uint64 // Sequence of the acknowledged Reload
	Applied bool   // Whether the client applied the program
}

// EncodeAckTo encodes an Ack using the provided encoder.
func EncodeAckTo(e *Encoder, a *Ack) {
	e.WriteUvarint(a.Seq)
	e.WriteBool(a.Applied)
}

// DecodeAckFrom decodes an Ack from a decoder.
func DecodeAckFrom(d *Decoder) (*Ack, error) {
	seq, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}
	applied, err := d.ReadBool()
	if err != nil {
		return nil, err
	}
	return &Ack{Seq: seq, Applied: applied}, nil
}
