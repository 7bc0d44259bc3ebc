// Package format maps model format tags to their decoders. The
// registry is append-only: formats register at startup and are never
// replaced, so a named format can never silently resolve to a
// different decoder.
package format

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tessera-ml/tessera/internal/ir"
)

// Format tags a supported model container encoding. The set is open:
// new formats register a new tag and decoder pair.
type Format string

const (
	// TGF is the binary Tessera Graph Format container.
	TGF Format = "tgf"
	// GraphJSON is the textual graph description, mostly used by
	// tooling and as pack input.
	GraphJSON Format = "graph-json"
)

var ErrUnsupportedFormat = errors.New("unsupported model format")

// Decoder turns untrusted container bytes into a graph plus the byte
// provenance of its op records. Decoders must range-check every
// offset, size, and opcode before using it, and must never evaluate
// graph operations.
type Decoder interface {
	Decode(data []byte) (*ir.Graph, *ir.Provenance, error)
}

var (
	mu       sync.RWMutex
	decoders = make(map[Format]Decoder)
)

// Register adds a decoder for a format tag. Registering the same tag
// twice or a nil decoder is a programming error.
func Register(f Format, d Decoder) {
	mu.Lock()
	defer mu.Unlock()
	if d == nil {
		panic("format: Register with nil decoder")
	}
	if _, dup := decoders[f]; dup {
		panic(fmt.Sprintf("format: Register called twice for %q", f))
	}
	decoders[f] = d
}

// Resolve returns the decoder registered for f. Pure lookup: it never
// falls back to another decoder.
func Resolve(f Format) (Decoder, error) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := decoders[f]
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %s)", ErrUnsupportedFormat, f, registeredLocked())
	}
	return d, nil
}

// Normalize canonicalizes a user-supplied format name.
func Normalize(name string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(name)))
	if f == "" {
		return TGF, nil
	}
	mu.RLock()
	defer mu.RUnlock()
	if _, ok := decoders[f]; !ok {
		return "", fmt.Errorf("%w: %q (have %s)", ErrUnsupportedFormat, f, registeredLocked())
	}
	return f, nil
}

func registeredLocked() string {
	names := make([]string, 0, len(decoders))
	for f := range decoders {
		names = append(names, string(f))
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func init() {
	Register(TGF, tgfDecoder{})
	Register(GraphJSON, jsonDecoder{})
}
