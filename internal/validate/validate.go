// Package validate is the trust boundary between raw model bytes and
// the engine. Nothing downstream ever sees an unverified graph.
package validate

import (
	"github.com/tessera-ml/tessera/internal/format"
	"github.com/tessera-ml/tessera/internal/ir"
)

// Validate decodes and structurally verifies untrusted model bytes.
// On any violation it fails with a ValidationError carrying the byte
// offset of the offending record; it never returns a partial graph.
// The input buffer is only read for the duration of the call and is
// not retained by the returned graph.
func Validate(data []byte, f format.Format) (*ir.Graph, error) {
	if len(data) == 0 {
		return nil, ir.Errf(ir.KindTruncated, 0, "empty model buffer")
	}
	dec, err := format.Resolve(f)
	if err != nil {
		return nil, err
	}
	g, prov, err := dec.Decode(data)
	if err != nil {
		return nil, err
	}
	if err := ir.Verify(g, prov); err != nil {
		return nil, err
	}
	return g, nil
}
