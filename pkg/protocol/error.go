package protocol

import "github.com/lumen-dev/lumen/pkg/diag"

// CompileError carries compile diagnostics to a live instance so it can
// show them without tearing the running app down.
type CompileError struct {
	Diagnostics []diag.Diagnostic
}

// EncodeCompileErrorTo encodes a CompileError using the provided encoder.
func EncodeCompileErrorTo(e *Encoder, ce *CompileError) {
	e.WriteUvarint(uint64(len(ce.Diagnostics)))
	for _, d := range ce.Diagnostics {
		e.WriteString(d.File)
		e.WriteUvarint(uint64(d.Line))
		e.WriteUvarint(uint64(d.Column))
		e.WriteByte(byte(d.Severity))
		e.WriteString(d.Message)
		e.WriteString(d.Hint)
	}
}

// DecodeCompileErrorFrom decodes a CompileError from a decoder.
func DecodeCompileErrorFrom(d *Decoder) (*CompileError, error) {
	n, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if n > MaxCollectionCount {
		return nil, ErrCollectionTooLarge
	}

	ce := &CompileError{Diagnostics: make([]diag.Diagnostic, 0, n)}
	for i := uint64(0); i < n; i++ {
		var dg diag.Diagnostic

		dg.File, err = d.ReadString()
		if err != nil {
			return nil, err
		}
		line, err := d.ReadUvarint()
		if err != nil {
			return nil, err
		}
		dg.Line = int(line)
		col, err := d.ReadUvarint()
		if err != nil {
			return nil, err
		}
		dg.Column = int(col)
		sev, err := d.ReadByte()
		if err != nil {
			return nil, err
		}
		dg.Severity = diag.Severity(sev)
		dg.Message, err = d.ReadString()
		if err != nil {
			return nil, err
		}
		dg.Hint, err = d.ReadString()
		if err != nil {
			return nil, err
		}

		ce.Diagnostics = append(ce.Diagnostics, dg)
	}
	return ce, nil
}
