package protocol

// StateEntry is one node's state in a client-reported snapshot.
type StateEntry struct {
	ID      string // Stable node identity
	Type    string // Declared type tag
	Value   []byte // Serialized value
	Version uint64 // Node state version
}

// StateReport is a client-initiated snapshot of its live state, sent in
// response to the host asking for one or on its own schedule.
type StateReport struct {
	Entries []StateEntry
}

// EncodeStateReportTo encodes a StateReport using the provided encoder.
func EncodeStateReportTo(e *Encoder, sr *StateReport) {
	e.WriteUvarint(uint64(len(sr.Entries)))
	for _, entry := range sr.Entries {
		e.WriteString(entry.ID)
		e.WriteString(entry.Type)
		e.WriteLenBytes(entry.Value)
		e.WriteUvarint(entry.Version)
	}
}

// DecodeStateReportFrom decodes a StateReport from a decoder.
func DecodeStateReportFrom(d *Decoder) (*StateReport, error) {
	n, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if n > MaxCollectionCount {
		return nil, ErrCollectionTooLarge
	}

	sr := &StateReport{Entries: make([]StateEntry, 0, n)}
	for i := uint64(0); i < n; i++ {
		var entry StateEntry

		entry.ID, err = d.ReadString()
		if err != nil {
			return nil, err
		}
		entry.Type, err = d.ReadString()
		if err != nil {
			return nil, err
		}
		entry.Value, err = d.ReadLenBytes()
		if err != nil {
			return nil, err
		}
		entry.Version, err = d.ReadUvarint()
		if err != nil {
			return nil, err
		}

		sr.Entries = append(sr.Entries, entry)
	}
	return sr, nil
}
